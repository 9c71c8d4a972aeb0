package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcclellann/coopledger/pkg/config"
	"github.com/mcclellann/coopledger/pkg/reconcile"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"", slog.LevelInfo},
		{"xyzzy", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseLevel(tt.input), "parseLevel(%q)", tt.input)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, config.LogConfig{Level: "info", Format: "json"})

	logger.Debug("hidden")
	logger.Info("repayment recorded", "loan_id", "abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "repayment recorded", line["msg"])
	assert.Equal(t, "abc", line["loan_id"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, config.LogConfig{Level: "debug", Format: "text"})
	logger.Debug("audit pass", "loans", 3)
	assert.Contains(t, buf.String(), "audit pass")
	assert.Contains(t, buf.String(), "loans=3")
}

func TestMetrics_ReconcileOutcome(t *testing.T) {
	m := NewMetrics("test")

	m.ReconcileOutcome("loan", nil)
	m.ReconcileOutcome("loan", &reconcile.LedgerInconsistencyError{})
	m.ReconcileOutcome("loan", fmt.Errorf("wrapped: %w", &reconcile.LedgerInconsistencyError{}))
	m.ReconcileOutcome("savings", &reconcile.UnorderedEventsError{})
	m.ReconcileOutcome("savings", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("loan", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("loan", "inconsistent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("savings", "unordered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliations.WithLabelValues("savings", "error")))
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("test")
	m.ScheduleComputed("full")
	m.ScheduleComputed("preview")
	m.ScheduleComputed("preview")
	m.RepaymentRecorded()
	m.AuditRun()
	m.ObserveRequest("/loans/{id}", http.MethodGet, http.StatusOK, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.schedules.WithLabelValues("preview")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repayments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditRuns))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requests))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ScheduleComputed("full")
		m.ReconcileOutcome("loan", nil)
		m.RepaymentRecorded()
		m.AuditRun()
		m.ObserveRequest("/", http.MethodGet, http.StatusOK, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.RepaymentRecorded()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "coopledger_repayments_recorded_total")
}
