// Package api is the client-facing management surface: test sends, webhook
// path issuance and credential rotation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/message-gateway/internal/common"
	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/gateway"
	"github.com/example/message-gateway/internal/render"
	"github.com/example/message-gateway/internal/sms"
	"github.com/example/message-gateway/internal/store"
	"github.com/example/message-gateway/internal/vault"
	"github.com/example/message-gateway/internal/whatsapp"
)

const clientIDHeader = "X-Client-ID"

var (
	reqCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Total management API requests",
	}, []string{"operation", "status"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "Latency of management API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

type ctxKey struct{}

type Config struct {
	Secret         string
	WebhookBaseURL string
}

type Handler struct {
	routes    RouteStore
	sms       SMSSender
	whatsapp  WhatsAppSender
	cache     Invalidator
	cfg       Config
	health    func(context.Context) error
	validator *validator.Validate
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewHandler wires the API. cache and health may be nil.
func NewHandler(routes RouteStore, smsSender SMSSender, waSender WhatsAppSender, cache Invalidator, health func(context.Context) error, cfg Config, logger zerolog.Logger) *Handler {
	return &Handler{
		routes:    routes,
		sms:       smsSender,
		whatsapp:  waSender,
		cache:     cache,
		cfg:       cfg,
		health:    health,
		validator: newValidator(),
		tracer:    otel.Tracer("api"),
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Route("/v1/routes", func(r chi.Router) {
		r.Use(requireClient)
		r.Post("/sms/{id}/test", h.testSMS)
		r.Post("/whatsapp/{id}/test", h.testWhatsApp)
		r.Post("/{kind}/{id}/webhook", h.issueWebhookPath)
		r.Put("/sms/{id}/credentials", h.rotateSMSCredentials)
	})
	return r
}

func requireClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(clientIDHeader)), 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "missing or invalid " + clientIDHeader + " header"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func clientID(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKey{}).(int64)
	return id
}

func routeID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid route id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			logger := common.WithContext(r.Context(), h.logger)
			logger.Error().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) testSMS(w http.ResponseWriter, r *http.Request) {
	const op = "test_sms"
	ctx, span := h.tracer.Start(r.Context(), "api.test_sms")
	defer span.End()
	start := time.Now()
	defer func() { requestLatency.WithLabelValues(op).Observe(time.Since(start).Seconds()) }()

	id, err := routeID(r)
	if err != nil {
		h.respondErr(ctx, w, op, http.StatusBadRequest, err)
		return
	}
	var req SMSTestRequest
	if err := h.decode(r, &req); err != nil {
		h.respondErr(ctx, w, op, http.StatusBadRequest, err)
		return
	}
	route, err := h.routes.GetSMSRoute(ctx, id)
	if err != nil {
		h.respondErr(ctx, w, op, statusFor(err), err)
		return
	}
	if route.ClientID != clientID(ctx) {
		h.respondErr(ctx, w, op, http.StatusNotFound, &domain.RouteNotFoundError{Kind: domain.RouteSMS, ID: id})
		return
	}
	span.SetAttributes(attribute.Int64("route.id", id))

	res, err := h.sms.Send(ctx, id, sms.Payload{To: req.To, Text: req.Text, From: req.From})
	h.respondSend(ctx, w, op, res, err)
}

func (h *Handler) testWhatsApp(w http.ResponseWriter, r *http.Request) {
	const op = "test_whatsapp"
	ctx, span := h.tracer.Start(r.Context(), "api.test_whatsapp")
	defer span.End()
	start := time.Now()
	defer func() { requestLatency.WithLabelValues(op).Observe(time.Since(start).Seconds()) }()

	id, err := routeID(r)
	if err != nil {
		h.respondErr(ctx, w, op, http.StatusBadRequest, err)
		return
	}
	var req WhatsAppTestRequest
	if err := h.decode(r, &req); err != nil {
		h.respondErr(ctx, w, op, http.StatusBadRequest, err)
		return
	}
	content, err := whatsapp.ContentFromMessage(req.message())
	if err == nil {
		err = whatsapp.Validate(content)
	}
	if err != nil {
		h.respondErr(ctx, w, op, http.StatusBadRequest, err)
		return
	}
	route, err := h.routes.GetWhatsAppRoute(ctx, id)
	if err != nil {
		h.respondErr(ctx, w, op, statusFor(err), err)
		return
	}
	if route.ClientID != clientID(ctx) {
		h.respondErr(ctx, w, op, http.StatusNotFound, &domain.RouteNotFoundError{Kind: domain.RouteWhatsApp, ID: id})
		return
	}
	span.SetAttributes(attribute.Int64("route.id", id))

	res, err := h.whatsapp.Send(ctx, id, req.To, content)
	h.respondSend(ctx, w, op, res, err)
}

// respondSend reports a provider outcome. A completed exchange that the
// provider rejected is still a 200 with success=false.
func (h *Handler) respondSend(ctx context.Context, w http.ResponseWriter, op string, res domain.SendResult, err error) {
	out := SendResponse{Success: res.Success, ProviderMessageID: res.ProviderMessageID, Response: res.Response}
	if err == nil {
		reqCounter.WithLabelValues(op, "200").Inc()
		writeJSON(w, http.StatusOK, out)
		return
	}
	out.Success = false
	out.Error = err.Error()

	var gerr *gateway.Error
	switch {
	case errors.Is(err, domain.ErrProviderRejected):
		reqCounter.WithLabelValues(op, "200").Inc()
		writeJSON(w, http.StatusOK, out)
	case errors.As(err, &gerr):
		logger := common.WithContext(ctx, h.logger)
		logger.Warn().Err(err).Str("operation", op).Msg("test send failed at provider")
		reqCounter.WithLabelValues(op, "502").Inc()
		writeJSON(w, http.StatusBadGateway, out)
	default:
		h.respondErr(ctx, w, op, statusFor(err), err)
	}
}

func (h *Handler) issueWebhookPath(w http.ResponseWriter, r *http.Request) {
	const op = "issue_webhook_path"
	ctx, span := h.tracer.Start(r.Context(), "api.issue_webhook_path")
	defer span.End()

	kind := domain.RouteType(chi.URLParam(r, "kind"))
	id, err := routeID(r)
	if err != nil {
		h.respondErr(ctx, w, op, http.StatusBadRequest, err)
		return
	}
	var req WebhookPathRequest
	if err := h.decode(r, &req); err != nil {
		h.respondErr(ctx, w, op, http.StatusBadRequest, err)
		return
	}

	var owner int64
	var previous string
	switch kind {
	case domain.RouteSMS:
		route, err := h.routes.GetSMSRoute(ctx, id)
		if err != nil {
			h.respondErr(ctx, w, op, statusFor(err), err)
			return
		}
		owner, previous = route.ClientID, route.WebhookPath
	case domain.RouteWhatsApp:
		route, err := h.routes.GetWhatsAppRoute(ctx, id)
		if err != nil {
			h.respondErr(ctx, w, op, statusFor(err), err)
			return
		}
		owner, previous = route.ClientID, route.WebhookPath
	default:
		h.respondErr(ctx, w, op, http.StatusNotFound, fmt.Errorf("route kind %q: %w", kind, domain.ErrUnsupportedRouteType))
		return
	}
	if owner != clientID(ctx) {
		h.respondErr(ctx, w, op, http.StatusNotFound, &domain.RouteNotFoundError{Kind: kind, ID: id})
		return
	}

	path := req.CustomPath
	if path == "" {
		path = fmt.Sprintf("/webhooks/%s/%s", kind, uuid.NewString())
	}
	if err := h.routes.SetWebhookPath(ctx, kind, owner, id, path); err != nil {
		h.respondErr(ctx, w, op, statusFor(err), err)
		return
	}
	h.invalidate(ctx, previous, path)
	span.SetAttributes(attribute.String("webhook.path", path))

	reqCounter.WithLabelValues(op, "200").Inc()
	writeJSON(w, http.StatusOK, WebhookPathResponse{
		WebhookPath: path,
		WebhookURL:  strings.TrimRight(h.cfg.WebhookBaseURL, "/") + path,
	})
}

func (h *Handler) rotateSMSCredentials(w http.ResponseWriter, r *http.Request) {
	const op = "rotate_sms_credentials"
	ctx, span := h.tracer.Start(r.Context(), "api.rotate_sms_credentials")
	defer span.End()

	id, err := routeID(r)
	if err != nil {
		h.respondErr(ctx, w, op, http.StatusBadRequest, err)
		return
	}
	var req CredentialsRequest
	if err := h.decode(r, &req); err != nil {
		h.respondErr(ctx, w, op, http.StatusBadRequest, err)
		return
	}
	route, err := h.routes.GetSMSRoute(ctx, id)
	if err != nil {
		h.respondErr(ctx, w, op, statusFor(err), err)
		return
	}
	if route.ClientID != clientID(ctx) {
		h.respondErr(ctx, w, op, http.StatusNotFound, &domain.RouteNotFoundError{Kind: domain.RouteSMS, ID: id})
		return
	}

	cfg, err := vault.DecodeRouteConfig(route.EncryptedConfig, h.cfg.Secret)
	if err != nil {
		h.respondErr(ctx, w, op, http.StatusInternalServerError, err)
		return
	}
	cfg.Credentials = req.Credentials
	blob, err := vault.EncodeRouteConfig(cfg, h.cfg.Secret)
	if err != nil {
		h.respondErr(ctx, w, op, http.StatusInternalServerError, err)
		return
	}
	if err := h.routes.UpdateSMSRouteConfig(ctx, route.ClientID, id, blob); err != nil {
		h.respondErr(ctx, w, op, statusFor(err), err)
		return
	}
	h.invalidate(ctx, route.WebhookPath)

	reqCounter.WithLabelValues(op, "200").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) invalidate(ctx context.Context, paths ...string) {
	if h.cache == nil {
		return
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := h.cache.Invalidate(ctx, p); err != nil {
			logger := common.WithContext(ctx, h.logger)
			logger.Warn().Err(err).Str("path", p).Msg("route cache invalidation failed")
		}
	}
}

func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := h.validator.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func statusFor(err error) int {
	var routeNF *domain.RouteNotFoundError
	var credNF *domain.CredentialNotFoundError
	var contentErr *whatsapp.ContentError
	var tplErr *render.TemplateError
	switch {
	case errors.As(err, &routeNF), errors.As(err, &credNF):
		return http.StatusNotFound
	case errors.Is(err, store.ErrWebhookPathTaken):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRouteInactive):
		return http.StatusConflict
	case errors.As(err, &contentErr):
		return http.StatusBadRequest
	case errors.As(err, &tplErr):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondErr(ctx context.Context, w http.ResponseWriter, op string, status int, err error) {
	logger := common.WithContext(ctx, h.logger)
	ev := logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(err).Str("operation", op).Int("status", status).Msg("api request failed")
	reqCounter.WithLabelValues(op, strconv.Itoa(status)).Inc()

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
