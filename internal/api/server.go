package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"auction-ledger/internal/bids"
	"auction-ledger/internal/config"
	"auction-ledger/internal/engine"
	"auction-ledger/internal/funds"
	"auction-ledger/internal/models"
	"auction-ledger/internal/ratelimit"
	"auction-ledger/internal/registry"
	"auction-ledger/internal/telemetry"
)

// Server wires HTTP handlers for the auction ledger. The principal comes from
// the X-Principal header; authentication happens upstream.
type Server struct {
	cfg     config.Config
	eng     *engine.Engine
	funds   *funds.Ledger
	limiter *ratelimit.Limiter
}

// New constructs the API server. The limiter may be nil (no bid rate limit).
func New(cfg config.Config, eng *engine.Engine, ledger *funds.Ledger, limiter *ratelimit.Limiter) *Server {
	return &Server{cfg: cfg, eng: eng, funds: ledger, limiter: limiter}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/auctions", s.handleCreate)
	r.Get("/auctions/pending", s.handleListPending)
	r.Get("/auctions/active", s.handleListActive)
	r.Get("/auctions/{id}", s.handleGet)
	r.Post("/auctions/{id}/timing", s.handleConfigureTiming)
	r.Post("/auctions/{id}/item", s.handleBindItem)
	r.Post("/auctions/{id}/pause", s.handlePause)
	r.Post("/auctions/{id}/resume", s.handleResume)
	r.Post("/auctions/{id}/start", s.handleStart)
	r.Post("/auctions/{id}/stop", s.handleStop)
	r.Post("/auctions/{id}/bids", s.handleBid)
	r.Get("/auctions/{id}/bids/{principal}", s.handleGetBid)

	r.Post("/funds/deposit", s.handleDeposit)
	r.Get("/funds/{principal}", s.handleBalance)
	return r
}

func principalFromRequest(r *http.Request) string {
	return r.Header.Get("X-Principal")
}

func auctionIDFromRequest(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

type createRequest struct {
	BeginPrice      decimal.Decimal  `json:"begin_price"`
	MinimumStep     decimal.Decimal  `json:"minimum_step"`
	UpperBoundPrice *decimal.Decimal `json:"upper_bound_price,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	if principal == "" {
		http.Error(w, "X-Principal header is required", http.StatusUnauthorized)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	id, err := s.eng.CreateAuction(r.Context(), principal, engine.CreateParams{
		BeginPrice:      req.BeginPrice,
		MinimumStep:     req.MinimumStep,
		UpperBoundPrice: req.UpperBoundPrice,
	}, time.Now().UTC())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	telemetry.AuctionsCreated.Inc()
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

type timingRequest struct {
	StartAt    *time.Time `json:"start_at,omitempty"`
	StopAt     *time.Time `json:"stop_at,omitempty"`
	WaitPeriod *string    `json:"wait_period,omitempty"`
}

func (s *Server) handleConfigureTiming(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	id, err := auctionIDFromRequest(r)
	if err != nil {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	var req timingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	update := engine.TimingUpdate{StartAt: req.StartAt, StopAt: req.StopAt}
	if req.WaitPeriod != nil {
		d, err := time.ParseDuration(*req.WaitPeriod)
		if err != nil {
			http.Error(w, "invalid wait_period", http.StatusBadRequest)
			return
		}
		update.WaitPeriod = &d
	}

	if err := s.eng.ConfigureTiming(r.Context(), principal, id, update, time.Now().UTC()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "configured"})
}

type bindItemRequest struct {
	Item string `json:"item"`
}

func (s *Server) handleBindItem(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	id, err := auctionIDFromRequest(r)
	if err != nil {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	var req bindItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Item == "" {
		http.Error(w, "item is required", http.StatusBadRequest)
		return
	}
	if err := s.eng.BindItem(r.Context(), principal, id, req.Item, time.Now().UTC()); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "bound"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(r *http.Request, principal string, id uint64) error {
		return s.eng.Pause(r.Context(), principal, id, time.Now().UTC())
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(r *http.Request, principal string, id uint64) error {
		return s.eng.Resume(r.Context(), principal, id, time.Now().UTC())
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(r *http.Request, principal string, id uint64) error {
		return s.eng.Start(r.Context(), engine.Caller(principal), id, time.Now().UTC())
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(r *http.Request, principal string, id uint64) error {
		return s.eng.Stop(r.Context(), engine.Caller(principal), id, time.Now().UTC())
	})
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func(r *http.Request, principal string, id uint64) error) {
	principal := principalFromRequest(r)
	id, err := auctionIDFromRequest(r)
	if err != nil {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	if err := op(r, principal, id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type bidRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	if principal == "" {
		http.Error(w, "X-Principal header is required", http.StatusUnauthorized)
		return
	}
	id, err := auctionIDFromRequest(r)
	if err != nil {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.AllowBid(r.Context(), principal)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := s.eng.Bid(r.Context(), principal, id, req.Price, time.Now().UTC()); err != nil {
		telemetry.BidsRejected.Inc()
		writeEngineError(w, err)
		return
	}
	telemetry.BidsAccepted.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := auctionIDFromRequest(r)
	if err != nil {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	a, err := s.eng.GetAuction(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleGetBid(w http.ResponseWriter, r *http.Request) {
	id, err := auctionIDFromRequest(r)
	if err != nil {
		http.Error(w, "invalid auction id", http.StatusBadRequest)
		return
	}
	amount, err := s.eng.GetBid(r.Context(), id, chi.URLParam(r, "principal"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"amount": amount})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, s.eng.ListPending)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, s.eng.ListActive)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, load func(ctx context.Context) ([]*models.Auction, error)) {
	auctions, err := load(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if auctions == nil {
		auctions = []*models.Auction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"auctions": auctions})
}

type depositRequest struct {
	Principal string          `json:"principal"`
	Amount    decimal.Decimal `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Principal == "" {
		http.Error(w, "principal is required", http.StatusBadRequest)
		return
	}
	if err := s.eng.Deposit(r.Context(), req.Principal, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := s.funds.Balance(r.Context(), chi.URLParam(r, "principal"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// writeEngineError maps domain errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, bids.ErrNoBid):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, registry.ErrItemAlreadyAuctioned):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidParameters),
		errors.Is(err, engine.ErrPriceTooLow),
		errors.Is(err, engine.ErrPriceAboveCeiling),
		errors.Is(err, funds.ErrInsufficientFunds),
		errors.Is(err, funds.ErrInvalidAmount):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrSettlementFailed):
		status = http.StatusBadGateway
	case errors.Is(err, registry.ErrIDSpaceExhausted):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
