package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/coopledger/pkg/amortization"
	"github.com/mcclellann/coopledger/pkg/config"
	"github.com/mcclellann/coopledger/pkg/ledger"
	"github.com/mcclellann/coopledger/pkg/models"
	"github.com/mcclellann/coopledger/pkg/money"
	"github.com/mcclellann/coopledger/pkg/observability"
	"github.com/mcclellann/coopledger/pkg/reconcile"
	"github.com/mcclellann/coopledger/pkg/store"
	"github.com/shopspring/decimal"
)

// Server holds the ledger instance and the HTTP-facing settings.
type Server struct {
	ledger         *ledger.Ledger
	storage        store.Storage // Keep a reference to the storage to close it
	logger         *slog.Logger
	metrics        *observability.Metrics
	previewPeriods int
	strict         bool
}

func NewServer(s store.Storage, logger *slog.Logger, metrics *observability.Metrics, cfg config.Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:         ledger.NewLedger(s, logger, metrics),
		storage:        s,
		logger:         logger,
		metrics:        metrics,
		previewPeriods: cfg.PreviewPeriods,
		strict:         cfg.StrictReconcile,
	}
}

// Router wires every route onto a gorilla/mux router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.metricsMiddleware)

	router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	router.HandleFunc("/amortization", s.amortizationHandler).Methods("POST")
	router.HandleFunc("/amortization/preview", s.previewHandler).Methods("POST")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/approve", s.approveLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/reject", s.rejectLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/disburse", s.disburseLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/repayments", s.listRepaymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/repayments", s.recordRepaymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/schedule", s.scheduleHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/summary", s.summaryHandler).Methods("GET")

	router.HandleFunc("/members/{key}/savings", s.savingsTransactionHandler).Methods("POST")
	router.HandleFunc("/members/{key}/savings/summary", s.savingsSummaryHandler).Methods("GET")

	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.ObserveRequest(route, r.Method, rec.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, amortization.ErrInvalidTerms),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMemberKeyRequired),
		errors.Is(err, ledger.ErrApprovalExceedsAsk):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidStatusTransition),
		errors.Is(err, ledger.ErrLoanNotDisbursed),
		errors.Is(err, ledger.ErrLoanNotDeletable),
		errors.Is(err, ledger.ErrBackdatedEntry),
		errors.Is(err, reconcile.ErrOverdrawn):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrLedgerInconsistency),
		errors.Is(err, reconcile.ErrUnorderedEvents),
		errors.Is(err, reconcile.ErrInvalidEventAmount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

// decodeJSON decodes a request body keeping JSON numbers as json.Number, so
// amounts reach money.Parse without a float round trip.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

// decodeBody is decodeJSON for an optional body; an empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	err := decodeJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func loanID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

// parseOptionalTime accepts any timestamp models.ParseTimestamp does. An
// empty string yields the zero time, which the ledger treats as now.
func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return models.ParseTimestamp(s)
}

// loanResponse adds the display attributes of the loan's status.
type loanResponse struct {
	*models.Loan
	StatusLabel string `json:"status_label"`
	StatusTone  string `json:"status_tone"`
}

func newLoanResponse(loan *models.Loan) loanResponse {
	return loanResponse{Loan: loan, StatusLabel: loan.Status.Label(), StatusTone: loan.Status.Tone()}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// termField parses a numeric terms field with money.Parse, the single parser
// for amounts and rates in request bodies.
func termField(field string, v any) (decimal.Decimal, error) {
	d, err := money.Parse(v)
	if err != nil {
		return decimal.Zero, &amortization.InvalidTermsError{Field: field, Reason: err.Error()}
	}
	return d, nil
}

type termsRequest struct {
	Principal         any           `json:"principal"`
	AnnualRatePercent any           `json:"annual_rate_percent"`
	TermMonths        models.Months `json:"term_months"`
}

func (t termsRequest) terms() (amortization.Terms, error) {
	principal, err := termField(amortization.FieldPrincipal, t.Principal)
	if err != nil {
		return amortization.Terms{}, err
	}
	rate, err := termField(amortization.FieldAnnualRate, t.AnnualRatePercent)
	if err != nil {
		return amortization.Terms{}, err
	}
	return amortization.Terms{
		Principal:         principal,
		AnnualRatePercent: rate,
		TermMonths:        int(t.TermMonths),
	}, nil
}

func (s *Server) amortizationHandler(w http.ResponseWriter, r *http.Request) {
	var req termsRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	terms, err := req.terms()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	schedule, err := amortization.Compute(terms)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.ScheduleComputed("full")
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	periods := s.previewPeriods
	if v := r.URL.Query().Get("periods"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "Invalid periods", http.StatusBadRequest)
			return
		}
		periods = n
	}

	var req termsRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	terms, err := req.terms()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	schedule, err := amortization.Preview(terms, periods)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.ScheduleComputed("preview")
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberKey      string        `json:"member_key"`
		Amount         any           `json:"amount"`
		InterestRate   any           `json:"interest_rate"`
		DurationMonths models.Months `json:"duration_months"`
		Purpose        string        `json:"purpose"`
	}

	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := termField(amortization.FieldPrincipal, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rate, err := termField(amortization.FieldAnnualRate, req.InterestRate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	loan, err := s.ledger.ApplyForLoan(req.MemberKey, amount, rate, int(req.DurationMonths), req.Purpose)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoanResponse(loan))
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.GetLoan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	var (
		loans []*models.Loan
		err   error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, parseErr := models.ParseLoanStatus(raw)
		if parseErr != nil {
			http.Error(w, parseErr.Error(), http.StatusBadRequest)
			return
		}
		loans, err = s.ledger.LoansByStatus(status)
	} else {
		loans, err = s.ledger.GetAllLoans()
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]loanResponse, len(loans))
	for i, loan := range loans {
		out[i] = newLoanResponse(loan)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	if err := s.ledger.DeleteLoan(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var req struct {
		AmountApproved any `json:"amount_approved"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	approved := decimal.Zero
	if req.AmountApproved != nil {
		approved, err = money.Parse(req.AmountApproved)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if approved.IsNegative() {
		http.Error(w, "Approved amount must not be negative", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.ApproveLoan(id, approved)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (s *Server) rejectLoanHandler(w http.ResponseWriter, r *http.Request) {
	s.statusChange(w, r, s.ledger.RejectLoan)
}

func (s *Server) disburseLoanHandler(w http.ResponseWriter, r *http.Request) {
	s.statusChange(w, r, s.ledger.DisburseLoan)
}

func (s *Server) statusChange(w http.ResponseWriter, r *http.Request, change func(uuid.UUID) (*models.Loan, error)) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	loan, err := change(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (s *Server) recordRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount      any    `json:"amount"`
		PaymentDate string `json:"payment_date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	paidAt, err := parseOptionalTime(req.PaymentDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	repayment, err := s.ledger.RecordRepayment(id, amount, paidAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, repayment)
}

func (s *Server) listRepaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	repayments, err := s.ledger.Repayments(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if repayments == nil {
		repayments = []models.RepaymentEvent{}
	}
	writeJSON(w, http.StatusOK, repayments)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	schedule, err := s.ledger.Schedule(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// strictParam reads the strict query flag, defaulting to the configured mode.
func (s *Server) strictParam(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("strict")
	if v == "" {
		return s.strict, nil
	}
	strict, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid strict flag %q", v)
	}
	return strict, nil
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := loanID(r)
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}
	strict, err := s.strictParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := s.ledger.Summary(id, strict)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) savingsTransactionHandler(w http.ResponseWriter, r *http.Request) {
	memberKey := mux.Vars(r)["key"]

	var req struct {
		Type            models.SavingsTransactionType `json:"transaction_type"`
		Amount          any                           `json:"amount"`
		TransactionDate string                        `json:"transaction_date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Type.Valid() {
		http.Error(w, fmt.Sprintf("%s: %q", reconcile.ErrUnknownEventType, req.Type), http.StatusBadRequest)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	at, err := parseOptionalTime(req.TransactionDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record := s.ledger.Deposit
	if req.Type == models.SavingsTransactionWithdrawal {
		record = s.ledger.Withdraw
	}
	tx, err := record(memberKey, amount, at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) savingsSummaryHandler(w http.ResponseWriter, r *http.Request) {
	strict, err := s.strictParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := s.ledger.SavingsSummary(mux.Vars(r)["key"], strict)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
