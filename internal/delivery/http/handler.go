package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"smartwork_backend/internal/domain"
	"smartwork_backend/internal/gateway"
	"smartwork_backend/internal/metrics"
	"smartwork_backend/internal/usecase"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type WebhookVerifier interface {
	VerifyWebhook(h http.Header, body []byte) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	payments   *usecase.PaymentUsecase
	reconciler *usecase.Reconciler
	webhooks   WebhookVerifier
	db         Pinger
	validate   *validator.Validate
	log        *zap.Logger
}

func NewHandler(payments *usecase.PaymentUsecase, reconciler *usecase.Reconciler, webhooks WebhookVerifier, db Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		payments:   payments,
		reconciler: reconciler,
		webhooks:   webhooks,
		db:         db,
		validate:   validator.New(),
		log:        logger,
	}
}

func (h *Handler) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	// Called by the gateway, authenticated by VerifyWebhook instead.
	r.Post("/payments/sepay/webhook", h.SePayWebhook)

	r.Group(func(r chi.Router) {
		r.Use(Identity)

		r.Post("/payments/teams/{teamId}/create", h.CreatePayment)
		r.Get("/payments/teams/{teamId}/status", h.TeamStatus)
		r.Get("/payments/{id}", h.GetPayment)
		r.Post("/payments/{id}/verify-by-transaction", h.VerifyByTransaction)
		r.Post("/payments/{id}/check", h.CheckTransaction)
		r.Post("/payments/{id}/cancel", h.CancelPayment)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

var ErrBadJSON = &apiErr{Status: http.StatusBadRequest, Msg: "invalid json"}

type apiErr struct {
	Status int
	Msg    string
}

func (e *apiErr) Error() string { return e.Msg }

// decode reads an optional JSON body into v and validates it.
func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return ErrBadJSON
	}
	if err := h.validate.Struct(v); err != nil {
		return &apiErr{Status: http.StatusBadRequest, Msg: err.Error()}
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apiErr
	switch {
	case errors.As(err, &ae):
		writeJSON(w, ae.Status, map[string]string{"error": ae.Msg})
	case errors.Is(err, domain.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": domain.ErrUnauthenticated.Error()})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": domain.ErrForbidden.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, domain.ErrInvalidPlan):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrConfiguration):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": domain.ErrConfiguration.Error()})
	default:
		h.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// POST /payments/teams/{teamId}/create
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentReq
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	plan, err := domain.ParsePlan(req.Plan)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p, created, err := h.payments.CreatePayment(r.Context(), userID(r.Context()), chi.URLParam(r, "teamId"), plan)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, CreatePaymentResp{Created: created, Payment: toPaymentItem(p)})
}

// GET /payments/teams/{teamId}/status
func (h *Handler) TeamStatus(w http.ResponseWriter, r *http.Request) {
	team, latest, err := h.payments.TeamStatus(r.Context(), chi.URLParam(r, "teamId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := TeamStatusResp{
		TeamID:        team.ID,
		Plan:          string(team.Plan),
		PlanExpiredAt: team.PlanExpiredAt,
	}
	if latest != nil {
		item := toPaymentItem(latest)
		resp.LatestPayment = &item
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.AuthorizeLeader(r.Context(), userID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentItem(p))
}

// POST /payments/{id}/verify-by-transaction
func (h *Handler) VerifyByTransaction(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.AuthorizeLeader(r.Context(), userID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out, err := h.reconciler.VerifyByTransactions(r.Context(), p.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResp(out))
}

// POST /payments/{id}/check
func (h *Handler) CheckTransaction(w http.ResponseWriter, r *http.Request) {
	var req CheckReq
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.payments.AuthorizeLeader(r.Context(), userID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out, err := h.reconciler.CheckTransaction(r.Context(), p.ID, req.TransactionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResp(out))
}

// POST /payments/{id}/cancel
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Cancel(r.Context(), userID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentItem(p))
}

// POST /payments/sepay/webhook
//
// Any readable body is acknowledged with 200; the result is in the payload.
func (h *Handler) SePayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		metrics.Webhooks.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body error"})
		return
	}

	if err := h.webhooks.VerifyWebhook(r.Header, body); err != nil {
		metrics.Webhooks.WithLabelValues("rejected").Inc()
		h.log.Warn("webhook rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		writeJSON(w, http.StatusOK, ReconcileResp{Message: "unauthorized webhook"})
		return
	}

	ev, err := gateway.ParseWebhook(body)
	if err != nil {
		metrics.Webhooks.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	out, err := h.reconciler.HandleWebhook(r.Context(), ev)
	if err != nil {
		metrics.Webhooks.WithLabelValues("error").Inc()
		h.log.Error("webhook processing failed",
			zap.String("transaction_id", ev.TransactionID),
			zap.String("order_id", ev.OrderID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, ReconcileResp{Message: "webhook received, processing failed"})
		return
	}

	metrics.Webhooks.WithLabelValues("processed").Inc()
	writeJSON(w, http.StatusOK, toReconcileResp(out))
}

// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
