package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/abkawan/account-ledger/internal/ledger"
	"github.com/abkawan/account-ledger/internal/models"
	"github.com/abkawan/account-ledger/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler is for handling api requests
type Handler struct {
	accountService *service.AccountService
	auditService   *service.AuditService
	logger         *zap.Logger
}

func NewHandler(accountService *service.AccountService, auditService *service.AuditService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		accountService: accountService,
		auditService:   auditService,
		logger:         logger,
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// for error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps core and service errors onto status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *ledger.ValidationError
		rejection  *ledger.PolicyRejection
		locked     *ledger.LockedError
	)
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		respondError(w, http.StatusNotFound, "account not found")
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &rejection):
		respondError(w, http.StatusUnprocessableEntity, rejection.Reason)
	case errors.As(err, &locked):
		respondJSON(w, http.StatusLocked, map[string]interface{}{
			"error":             locked.Error(),
			"locked_until":      locked.Until,
			"remaining_minutes": locked.RemainingMinutes,
		})
	default:
		h.logger.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func accountNumber(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)["number"])
	return n, err == nil
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

// account creation
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}

	account, err := h.accountService.CreateAccount(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, account)
}

// handles account retrieval, which doubles as the balance inquiry
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumber(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account number")
		return
	}
	account, err := h.accountService.GetAccount(r.Context(), number)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, account)
}

// SearchAccounts lists accounts by holder name.
func (h *Handler) SearchAccounts(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		respondError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	respondJSON(w, http.StatusOK, h.accountService.SearchByName(r.Context(), name))
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumber(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account number")
		return
	}
	var req models.DepositRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.accountService.Deposit(r.Context(), number, &req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumber(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account number")
		return
	}
	var req models.WithdrawRequest
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.accountService.Withdraw(r.Context(), number, &req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumber(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account number")
		return
	}
	var req models.TransferRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.accountService.Transfer(r.Context(), number, &req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// changeStatus serves the close, reopen, suspend and lockout reset routes.
func (h *Handler) changeStatus(op func(ctx context.Context, number int) (*models.AccountResponse, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number, ok := accountNumber(r)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid account number")
			return
		}
		account, err := op(r.Context(), number)
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, account)
	}
}

func (h *Handler) SetPin(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumber(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account number")
		return
	}
	var req models.PinRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.accountService.SetPin(r.Context(), number, req.PIN); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Authenticate answers 200 on a match and 401 with the attempts left on a
// mismatch.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumber(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account number")
		return
	}
	var req models.PinRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.accountService.Authenticate(r.Context(), number, req.PIN)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if !res.Authenticated {
		respondJSON(w, http.StatusUnauthorized, res)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// GetTransactions lists ledger records, optionally limited and filtered by
// category.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumber(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account number")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	var category models.Category
	if s := r.URL.Query().Get("category"); s != "" {
		c, ok := models.LookupCategory(s)
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown category "+strconv.Quote(s))
			return
		}
		category = c
	}

	txs, err := h.accountService.History(r.Context(), number, limit, category)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, txs)
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumber(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account number")
		return
	}
	summary, err := h.accountService.Summary(r.Context(), number)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// GetInterest projects interest. Query: kind=simple|compound, rate, years
// and n, the compounding frequency per year (default 1).
func (h *Handler) GetInterest(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumber(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account number")
		return
	}
	q := r.URL.Query()
	rate, err := decimal.NewFromString(q.Get("rate"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "rate must be a number")
		return
	}
	years, err := decimal.NewFromString(q.Get("years"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "years must be a number")
		return
	}
	perYear := 1
	if s := q.Get("n"); s != "" {
		if perYear, err = strconv.Atoi(s); err != nil {
			respondError(w, http.StatusBadRequest, "n must be an integer")
			return
		}
	}

	res, err := h.accountService.Interest(r.Context(), number, service.InterestKind(q.Get("kind")), rate, years, perYear)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// GetAuditEvents pages through the audit log of an account.
func (h *Handler) GetAuditEvents(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumber(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid account number")
		return
	}
	if _, err := h.accountService.GetAccount(r.Context(), number); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	// default limit is set by the audit service
	limit, offset := 0, 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	events, err := h.auditService.GetAuditEvents(r.Context(), number, limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// handles health check
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sets up the API routes
func SetupRoutes(r *mux.Router, accountService *service.AccountService, auditService *service.AuditService, logger *zap.Logger) {
	h := NewHandler(accountService, auditService, logger)
	r.Use(RequestID, AccessLog(logger))

	// Health check (check if API is working)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Account routes
	r.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	r.HandleFunc("/accounts", h.SearchAccounts).Methods("GET")
	r.HandleFunc("/accounts/{number:[0-9]+}", h.GetAccount).Methods("GET")

	// Money movement
	r.HandleFunc("/accounts/{number:[0-9]+}/deposit", h.Deposit).Methods("POST")
	r.HandleFunc("/accounts/{number:[0-9]+}/withdraw", h.Withdraw).Methods("POST")
	r.HandleFunc("/accounts/{number:[0-9]+}/transfer", h.Transfer).Methods("POST")

	// Lifecycle and credentials
	r.HandleFunc("/accounts/{number:[0-9]+}/close", h.changeStatus(accountService.CloseAccount)).Methods("POST")
	r.HandleFunc("/accounts/{number:[0-9]+}/reopen", h.changeStatus(accountService.ReopenAccount)).Methods("POST")
	r.HandleFunc("/accounts/{number:[0-9]+}/suspend", h.changeStatus(accountService.SuspendAccount)).Methods("POST")
	r.HandleFunc("/accounts/{number:[0-9]+}/lockout", h.changeStatus(accountService.ResetLoginAttempts)).Methods("DELETE")
	r.HandleFunc("/accounts/{number:[0-9]+}/pin", h.SetPin).Methods("POST")
	r.HandleFunc("/accounts/{number:[0-9]+}/authenticate", h.Authenticate).Methods("POST")

	// Reporting
	r.HandleFunc("/accounts/{number:[0-9]+}/transactions", h.GetTransactions).Methods("GET")
	r.HandleFunc("/accounts/{number:[0-9]+}/summary", h.GetSummary).Methods("GET")
	r.HandleFunc("/accounts/{number:[0-9]+}/interest", h.GetInterest).Methods("GET")
	r.HandleFunc("/accounts/{number:[0-9]+}/audit", h.GetAuditEvents).Methods("GET")
}
