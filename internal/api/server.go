// Package api exposes the ledger over HTTP JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"token-ledger/internal/domain"
	"token-ledger/internal/ledger"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// SenderHeader carries the caller identity, set by the fronting runtime.
const SenderHeader = "X-Ledger-Sender"

// Ledger is the set of operations the API serves.
type Ledger interface {
	Mint(ctx context.Context, caller, recipient string, amount domain.Amount) (*domain.MintEvent, error)
	Balance(ctx context.Context, address string) (domain.Amount, error)
	TokenInfo(ctx context.Context) (domain.Metadata, error)
	MinterInfo(ctx context.Context) (*domain.Minter, error)
	AllAccounts(ctx context.Context, startAfter string, limit int) ([]string, error)
	CheckSupply(ctx context.Context) (ledger.SupplyReport, error)
}

// Options for creating Server.
type Options struct {
	// Required
	Ledger Ledger

	// Optional
	Events storage.MintEventStore // serves /v1/mints when set
	Feed   http.Handler           // serves /v1/events when set
	Logger zerolog.Logger
}

// Server routes HTTP requests to the ledger.
type Server struct {
	ledger   Ledger
	events   storage.MintEventStore
	feed     http.Handler
	logger   zerolog.Logger
	validate *validator.Validate
}

// NewServer creates a new Server.
func NewServer(opts Options) *Server {
	return &Server{
		ledger:   opts.Ledger,
		events:   opts.Events,
		feed:     opts.Feed,
		logger:   opts.Logger.With().Str("component", "api").Logger(),
		validate: validator.New(),
	}
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", observability.Handler())

	mux.Handle("POST /v1/mint", s.instrument("mint", s.handleMint))
	mux.Handle("GET /v1/balance/{address}", s.instrument("balance", s.handleBalance))
	mux.Handle("GET /v1/token", s.instrument("token", s.handleToken))
	mux.Handle("GET /v1/minter", s.instrument("minter", s.handleMinter))
	mux.Handle("GET /v1/accounts", s.instrument("accounts", s.handleAccounts))
	mux.Handle("GET /v1/supply", s.instrument("supply", s.handleSupply))
	if s.events != nil {
		mux.Handle("GET /v1/mints", s.instrument("mints", s.handleMints))
	}
	if s.feed != nil {
		// Not instrumented: the upgrade needs the raw http.Hijacker.
		mux.Handle("GET /v1/events", s.feed)
	}

	return mux
}

// MintRequest is the body of POST /v1/mint.
type MintRequest struct {
	Recipient string         `json:"recipient" validate:"required"`
	Amount    *domain.Amount `json:"amount" validate:"required"`
}

// mintInput is a MintRequest plus the caller identity.
type mintInput struct {
	Sender string `validate:"required"`
	MintRequest
}

// BalanceResponse is the body of GET /v1/balance/{address}.
type BalanceResponse struct {
	Balance domain.Amount `json:"balance"`
}

// MinterResponse is the body of GET /v1/minter. Minter is null when minting is disabled.
type MinterResponse struct {
	Minter *domain.Minter `json:"minter"`
}

// AccountsResponse is the body of GET /v1/accounts.
type AccountsResponse struct {
	Accounts []string `json:"accounts"`
}

// MintResponse is the body of a successful POST /v1/mint.
type MintResponse struct {
	Event      *domain.MintEvent  `json:"event"`
	Attributes []domain.Attribute `json:"attributes"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) int {
	var in mintInput
	in.Sender = r.Header.Get(SenderHeader)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in.MintRequest); err != nil {
		return s.writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
	}
	if err := s.validate.Struct(&in); err != nil {
		return s.writeError(w, http.StatusBadRequest, err.Error())
	}

	event, err := s.ledger.Mint(r.Context(), in.Sender, in.Recipient, *in.Amount)
	if err != nil {
		return s.writeLedgerError(w, err)
	}
	return s.writeJSON(w, http.StatusOK, MintResponse{Event: event, Attributes: event.Attributes()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) int {
	balance, err := s.ledger.Balance(r.Context(), r.PathValue("address"))
	if err != nil {
		return s.writeLedgerError(w, err)
	}
	return s.writeJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) int {
	meta, err := s.ledger.TokenInfo(r.Context())
	if err != nil {
		return s.writeLedgerError(w, err)
	}
	return s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleMinter(w http.ResponseWriter, r *http.Request) int {
	minter, err := s.ledger.MinterInfo(r.Context())
	if err != nil {
		return s.writeLedgerError(w, err)
	}
	return s.writeJSON(w, http.StatusOK, MinterResponse{Minter: minter})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) int {
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	accounts, err := s.ledger.AllAccounts(r.Context(), query.Get("start_after"), limit)
	if err != nil {
		return s.writeLedgerError(w, err)
	}
	return s.writeJSON(w, http.StatusOK, AccountsResponse{Accounts: accounts})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) int {
	report, err := s.ledger.CheckSupply(r.Context())
	if err != nil && !errors.Is(err, ledger.ErrSupplyMismatch) {
		return s.writeLedgerError(w, err)
	}
	if err != nil {
		// The report is still useful to the operator.
		return s.writeJSON(w, http.StatusInternalServerError, report)
	}
	return s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleMints(w http.ResponseWriter, r *http.Request) int {
	var (
		events []*domain.MintEvent
		err    error
	)
	if recipient := r.URL.Query().Get("recipient"); recipient != "" {
		events, err = s.events.GetByRecipient(r.Context(), recipient)
	} else {
		events, err = s.events.GetAll(r.Context())
	}
	if err != nil {
		return s.writeLedgerError(w, err)
	}
	if events == nil {
		events = []*domain.MintEvent{}
	}
	return s.writeJSON(w, http.StatusOK, events)
}

// statusFor maps ledger and storage errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrCapExceeded),
		errors.Is(err, ledger.ErrArithmeticOverflow),
		errors.Is(err, ledger.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAddress),
		errors.Is(err, ledger.ErrInvalidDecimals),
		errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotInitialized),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrTxnTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrConflict):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	return s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) int {
	return s.writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug().Err(err).Msg("write response")
	}
	return status
}

// instrument adapts a status-returning handler and records request metrics.
func (s *Server) instrument(route string, h func(http.ResponseWriter, *http.Request) int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := h(w, r)
		observability.RecordHTTPRequest(route, status)
	})
}
