package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnorderedEvents     = errors.New("events are not ordered by occurrence")
	ErrLedgerInconsistency = errors.New("recorded balance disagrees with replayed balance")
	ErrNegativeAmount      = errors.New("opening amount must not be negative")
	ErrInvalidEventAmount  = errors.New("event amount must be greater than zero")
	ErrUnknownEventType    = errors.New("unknown transaction type")
	ErrOverdrawn           = errors.New("withdrawal exceeds available balance")
)

// UnorderedEventsError reports the first event that occurred before its
// predecessor.
type UnorderedEventsError struct {
	Index    int
	EventID  uuid.UUID
	Previous time.Time
	Current  time.Time
}

func (e *UnorderedEventsError) Error() string {
	return fmt.Sprintf("event %d (%s) at %s precedes previous event at %s",
		e.Index, e.EventID, e.Current.Format(time.RFC3339), e.Previous.Format(time.RFC3339))
}

func (e *UnorderedEventsError) Is(target error) bool { return target == ErrUnorderedEvents }

// LedgerInconsistencyError reports the first event whose recorded balance-after
// differs from the replayed balance by more than one minor unit.
type LedgerInconsistencyError struct {
	Index    int
	EventID  uuid.UUID
	Recorded decimal.Decimal
	Computed decimal.Decimal
}

func (e *LedgerInconsistencyError) Error() string {
	return fmt.Sprintf("event %d (%s): recorded balance %s, replayed balance %s",
		e.Index, e.EventID, e.Recorded.StringFixed(2), e.Computed.StringFixed(2))
}

func (e *LedgerInconsistencyError) Is(target error) bool { return target == ErrLedgerInconsistency }
