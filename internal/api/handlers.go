package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/owanbe/settlement/internal/config"
	"github.com/owanbe/settlement/internal/engine"
	"github.com/owanbe/settlement/internal/gateway"
	"github.com/owanbe/settlement/internal/models"
	"github.com/owanbe/settlement/internal/store"
)

// Minimum charge amounts in kobo. The contribution form floor is ₦1000; the
// direct-payment flow keeps its historical ₦100 floor.
const (
	MinContributionKobo  = 100_000
	MinDirectPaymentKobo = 10_000
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "endpoint"})
)

// LedgerStore is the slice of the ledger store the handlers need.
type LedgerStore interface {
	GetGiftByEventLink(ctx context.Context, link string) (*models.Gift, error)
	SchedulePayment(ctx context.Context, vendorID, userID int64, req models.SchedulePaymentRequest) (*models.Vendor, error)
	CancelScheduled(ctx context.Context, vendorID, userID int64, now time.Time) (*models.Vendor, error)
}

type Handler struct {
	store   LedgerStore
	engine  *engine.Engine
	gateway *gateway.Client
	cfg     *config.Config
}

func NewHandler(s LedgerStore, e *engine.Engine, gw *gateway.Client, cfg *config.Config) *Handler {
	return &Handler{store: s, engine: e, gateway: gw, cfg: cfg}
}

// Register mounts every route on the given subrouter.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/contributions/webhook", h.WebhookHandler).Methods("POST")
	r.HandleFunc("/contributions/{eventLink}/initialize-payment", h.InitializePaymentHandler).Methods("POST")
	r.HandleFunc("/contributions/{eventLink}/verify-payment", h.VerifyPaymentHandler).Methods("POST")
	r.HandleFunc("/vendors/{id}/schedule-payment", h.SchedulePaymentHandler).Methods("POST")
	r.HandleFunc("/vendors/{id}/cancel-scheduled", h.CancelScheduledHandler).Methods("POST")
	r.HandleFunc("/banks", h.ListBanksHandler).Methods("GET")
	r.HandleFunc("/banks/resolve", h.ResolveAccountHandler).Methods("GET")
}

func (h *Handler) InitializePaymentHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/contributions/initialize-payment"))
	defer timer.ObserveDuration()
	endpoint := "/contributions/initialize-payment"

	var req models.InitializePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	kobo := int64(math.Round(req.Amount * 100))
	if kobo < MinContributionKobo {
		h.respondError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("Minimum contribution is ₦%d", MinContributionKobo/100), "POST", endpoint)
		return
	}
	if req.ContributorEmail == "" {
		h.respondError(w, http.StatusBadRequest, "Contributor email is required", "POST", endpoint)
		return
	}

	gift, err := h.store.GetGiftByEventLink(r.Context(), mux.Vars(r)["eventLink"])
	if err != nil {
		if errors.Is(err, store.ErrGiftNotFound) {
			h.respondError(w, http.StatusNotFound, "Event not found", "POST", endpoint)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Event lookup failed", "POST", endpoint)
		return
	}

	meta := models.ChargeMetadata{
		GiftID:           gift.ID,
		GuestID:          req.GuestID,
		ContributorName:  req.ContributorName,
		ContributorEmail: req.ContributorEmail,
		Message:          req.Message,
		IsAsoebi:         req.IsAsoebi,
		AsoebiSelection:  req.AsoebiSelection,
		AsoebiQuantity:   req.AsoebiQuantity,
		MenQty:           req.MenQty,
		WomenQty:         req.WomenQty,
		BrideMenQty:      req.BrideMenQty,
		BrideWomenQty:    req.BrideWomenQty,
		GroomMenQty:      req.GroomMenQty,
		GroomWomenQty:    req.GroomWomenQty,
		Items:            req.Items,
	}

	reference := uuid.NewString()
	callback := fmt.Sprintf("%s/%s/verify-payment", h.cfg.FrontendBaseURL, gift.EventLink)

	init, err := h.gateway.InitializeTransaction(r.Context(), reference, float64(kobo), req.ContributorEmail, callback, meta)
	if err != nil {
		if errors.Is(err, gateway.ErrNoSecret) {
			h.respondError(w, http.StatusInternalServerError, "Payment gateway is not configured", "POST", endpoint)
			return
		}
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			h.respondJSON(w, http.StatusBadGateway, map[string]interface{}{
				"msg": "Payment initialization failed", "details": apiErr.Body,
			}, "POST", endpoint)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Payment initialization failed", "POST", endpoint)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data":   map[string]string{"authorization_url": init.AuthorizationURL, "reference": init.Reference},
	}, "POST", endpoint)
}

func (h *Handler) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/contributions/verify-payment"))
	defer timer.ObserveDuration()
	endpoint := "/contributions/verify-payment"

	var req models.VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if req.TransactionID == "" && req.TxRef == "" {
		h.respondError(w, http.StatusBadRequest, "transaction_id or tx_ref is required", "POST", endpoint)
		return
	}
	txn := req.TransactionID
	if txn == "" {
		txn = req.TxRef
	}

	gift, err := h.store.GetGiftByEventLink(r.Context(), mux.Vars(r)["eventLink"])
	if err != nil {
		if errors.Is(err, store.ErrGiftNotFound) {
			h.respondError(w, http.StatusNotFound, "Event not found", "POST", endpoint)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Event lookup failed", "POST", endpoint)
		return
	}

	contribution, err := h.engine.VerifyAndSettle(r.Context(), txn, req.TxRef)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrVerificationFailed):
			h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
				"msg": "Payment verification failed", "details": err.Error(),
			}, "POST", endpoint)
		case errors.Is(err, engine.ErrMissingGiftID), errors.Is(err, store.ErrGiftNotFound):
			h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
				"msg": "Payment metadata is invalid", "details": err.Error(),
			}, "POST", endpoint)
		default:
			h.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"msg": "Payment could not be settled", "details": err.Error(),
			}, "POST", endpoint)
		}
		return
	}

	// The settlement is committed either way; a link mismatch is a client
	// URL anomaly, not grounds to report the payment as failed.
	if contribution.GiftID != gift.ID {
		log.Printf("verify-payment: contribution %d belongs to gift %d, not event link %q (gift %d)",
			contribution.ID, contribution.GiftID, gift.EventLink, gift.ID)
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"msg": "Payment verified", "contribution": contribution,
	}, "POST", endpoint)
}

// webhookEvent is the minimal slice of a provider event the handler needs.
// Everything else is re-fetched from the provider, never trusted.
type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/contributions/webhook"))
	defer timer.ObserveDuration()
	endpoint := "/contributions/webhook"

	// The signature covers the exact raw bytes; read before any parsing.
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		httpRequestsTotal.WithLabelValues("POST", endpoint, "500").Inc()
		http.Error(w, "read error", http.StatusInternalServerError)
		return
	}

	signature := r.Header.Get("x-paystack-signature")
	if !gateway.VerifyWebhookSignature(rawBody, signature, h.cfg.WebhookSecret) {
		httpRequestsTotal.WithLabelValues("POST", endpoint, "401").Inc()
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		// Authenticated but unparseable; acknowledge so the provider stops
		// retrying a body we will never understand.
		log.Printf("webhook body unparseable: %v", err)
		h.ackWebhook(w, endpoint)
		return
	}

	if event.Event != "charge.success" || event.Data.Reference == "" {
		h.ackWebhook(w, endpoint)
		return
	}

	if _, err := h.engine.SettleReference(r.Context(), event.Data.Reference); err != nil {
		// Verification failures and malformed metadata are acknowledged with
		// 200 to stop provider retry storms; nothing was settled.
		if errors.Is(err, engine.ErrVerificationFailed) ||
			errors.Is(err, engine.ErrMissingGiftID) ||
			errors.Is(err, store.ErrGiftNotFound) {
			log.Printf("webhook for reference %s not settled: %v", event.Data.Reference, err)
			h.ackWebhook(w, endpoint)
			return
		}
		log.Printf("webhook settlement error for reference %s: %v", event.Data.Reference, err)
		httpRequestsTotal.WithLabelValues("POST", endpoint, "500").Inc()
		http.Error(w, "settlement error", http.StatusInternalServerError)
		return
	}

	h.ackWebhook(w, endpoint)
}

func (h *Handler) ackWebhook(w http.ResponseWriter, endpoint string) {
	httpRequestsTotal.WithLabelValues("POST", endpoint, "200").Inc()
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) SchedulePaymentHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := "/vendors/schedule-payment"
	vendorID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid vendor id", "POST", endpoint)
		return
	}

	// The acting user comes from the auth proxy, never from the body; a
	// client-supplied owner id would let anyone redirect a vendor payout.
	userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, "Missing user identity", "POST", endpoint)
		return
	}

	var req models.SchedulePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if req.Amount <= 0 {
		h.respondError(w, http.StatusUnprocessableEntity, "Positive amount required", "POST", endpoint)
		return
	}
	if req.AccountNumber == "" || req.BankCode == "" {
		h.respondError(w, http.StatusUnprocessableEntity, "Bank details required", "POST", endpoint)
		return
	}

	vendor, err := h.store.SchedulePayment(r.Context(), vendorID, userID, req)
	if err != nil {
		h.respondVendorError(w, err, endpoint)
		return
	}

	h.respondJSON(w, http.StatusOK, models.VendorResponse{Vendor: *vendor, Balance: vendor.Balance()}, "POST", endpoint)
}

func (h *Handler) CancelScheduledHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := "/vendors/cancel-scheduled"
	vendorID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid vendor id", "POST", endpoint)
		return
	}

	// Session handling is external; the authenticated user arrives as a
	// header set by the auth proxy.
	userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusUnauthorized, "Missing user identity", "POST", endpoint)
		return
	}

	vendor, err := h.store.CancelScheduled(r.Context(), vendorID, userID, time.Now())
	if err != nil {
		h.respondVendorError(w, err, endpoint)
		return
	}

	h.respondJSON(w, http.StatusOK, models.VendorResponse{Vendor: *vendor, Balance: vendor.Balance()}, "POST", endpoint)
}

func (h *Handler) ListBanksHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := "/banks"
	banks, err := h.gateway.ListBanks(r.Context())
	if err != nil {
		h.respondError(w, http.StatusBadGateway, "Bank list unavailable", "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, banks, "GET", endpoint)
}

func (h *Handler) ResolveAccountHandler(w http.ResponseWriter, r *http.Request) {
	endpoint := "/banks/resolve"
	accountNumber := r.URL.Query().Get("account_number")
	bankCode := r.URL.Query().Get("bank_code")
	if accountNumber == "" || bankCode == "" {
		h.respondError(w, http.StatusBadRequest, "account_number and bank_code are required", "GET", endpoint)
		return
	}

	name, err := h.gateway.ResolveAccount(r.Context(), accountNumber, bankCode)
	if err != nil {
		h.respondError(w, http.StatusBadGateway, "Account could not be resolved", "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"account_name": name}, "GET", endpoint)
}

func (h *Handler) respondVendorError(w http.ResponseWriter, err error, endpoint string) {
	switch {
	case errors.Is(err, store.ErrVendorNotFound):
		h.respondError(w, http.StatusNotFound, "Vendor not found", "POST", endpoint)
	case errors.Is(err, store.ErrNotOwner):
		h.respondError(w, http.StatusForbidden, "Vendor does not belong to you", "POST", endpoint)
	case errors.Is(err, store.ErrNotScheduled):
		h.respondError(w, http.StatusUnprocessableEntity, "No scheduled payment to cancel", "POST", endpoint)
	case errors.Is(err, store.ErrPastDue):
		h.respondError(w, http.StatusUnprocessableEntity, "Due date has passed", "POST", endpoint)
	default:
		h.respondError(w, http.StatusInternalServerError, "Vendor update failed", "POST", endpoint)
	}
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
