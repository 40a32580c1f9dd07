package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payoutops/internal/domain"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payout_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "endpoint"})
)

// PayoutService is the lifecycle surface the handler exposes.
type PayoutService interface {
	Create(ctx context.Context, partyID, shopID string, cash domain.Cash) (*domain.Payout, error)
	Get(ctx context.Context, payoutID string) (*domain.Payout, error)
	Confirm(ctx context.Context, payoutID string) error
	Cancel(ctx context.Context, payoutID, details string) error
}

// ReadModel exposes the persisted postings and event rows of a payout.
type ReadModel interface {
	GetPostings(ctx context.Context, payoutID string) ([]domain.CashFlowPosting, error)
	GetEvents(ctx context.Context, payoutID string) ([]domain.PayoutEvent, error)
}

type Handler struct {
	service PayoutService
	store   ReadModel
	log     *zap.Logger
}

func NewHandler(service PayoutService, store ReadModel, log *zap.Logger) *Handler {
	return &Handler{service: service, store: store, log: log}
}

// Register mounts the payout routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/payouts", h.CreatePayoutHandler).Methods("POST")
	r.HandleFunc("/payouts/{id}", h.GetPayoutHandler).Methods("GET")
	r.HandleFunc("/payouts/{id}/confirm", h.ConfirmPayoutHandler).Methods("POST")
	r.HandleFunc("/payouts/{id}/cancel", h.CancelPayoutHandler).Methods("POST")
	r.HandleFunc("/payouts/{id}/events", h.GetPayoutEventsHandler).Methods("GET")
}

type createPayoutRequest struct {
	PartyID      string `json:"party_id"`
	ShopID       string `json:"shop_id"`
	Amount       int64  `json:"amount"`
	CurrencyCode string `json:"currency_code"`
}

type payoutResponse struct {
	Payout   *domain.Payout           `json:"payout"`
	Postings []domain.CashFlowPosting `json:"postings,omitempty"`
}

type cancelPayoutRequest struct {
	Details string `json:"details,omitempty"`
}

func (h *Handler) CreatePayoutHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payouts"))
	defer timer.ObserveDuration()

	var req createPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/payouts")
		return
	}
	if req.PartyID == "" || req.ShopID == "" {
		h.respondError(w, http.StatusUnprocessableEntity, "party_id and shop_id are required", "POST", "/payouts")
		return
	}

	payout, err := h.service.Create(r.Context(), req.PartyID, req.ShopID, domain.Cash{
		Amount:       req.Amount,
		CurrencyCode: req.CurrencyCode,
	})
	if err != nil {
		h.respondServiceError(w, err, "POST", "/payouts")
		return
	}
	h.respondJSON(w, http.StatusCreated, payoutResponse{Payout: payout}, "POST", "/payouts")
}

func (h *Handler) GetPayoutHandler(w http.ResponseWriter, r *http.Request) {
	payoutID := mux.Vars(r)["id"]

	payout, err := h.service.Get(r.Context(), payoutID)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/payouts/{id}")
		return
	}
	postings, err := h.store.GetPostings(r.Context(), payoutID)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/payouts/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, payoutResponse{Payout: payout, Postings: postings}, "GET", "/payouts/{id}")
}

func (h *Handler) ConfirmPayoutHandler(w http.ResponseWriter, r *http.Request) {
	payoutID := mux.Vars(r)["id"]

	if err := h.service.Confirm(r.Context(), payoutID); err != nil {
		h.respondServiceError(w, err, "POST", "/payouts/{id}/confirm")
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil, "POST", "/payouts/{id}/confirm")
}

func (h *Handler) CancelPayoutHandler(w http.ResponseWriter, r *http.Request) {
	payoutID := mux.Vars(r)["id"]

	var req cancelPayoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/payouts/{id}/cancel")
			return
		}
	}

	if err := h.service.Cancel(r.Context(), payoutID, req.Details); err != nil {
		h.respondServiceError(w, err, "POST", "/payouts/{id}/cancel")
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil, "POST", "/payouts/{id}/cancel")
}

func (h *Handler) GetPayoutEventsHandler(w http.ResponseWriter, r *http.Request) {
	payoutID := mux.Vars(r)["id"]

	events, err := h.store.GetEvents(r.Context(), payoutID)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/payouts/{id}/events")
		return
	}
	h.respondJSON(w, http.StatusOK, events, "GET", "/payouts/{id}/events")
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "Not found", method, endpoint)
	case errors.Is(err, domain.ErrInvalidState):
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid payout state", method, endpoint)
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.respondError(w, http.StatusUnprocessableEntity, "Insufficient funds", method, endpoint)
	case errors.Is(err, domain.ErrInvalidRequest):
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid request", method, endpoint)
	default:
		h.log.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Internal server error", method, endpoint)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, message, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": message}, method, endpoint)
}
