// Package webhook exposes the dispatcher over HTTP and forwards normalized
// records to a sink.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/message-gateway/internal/common"
	"github.com/example/message-gateway/internal/dispatcher"
	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/signature"
)

const DefaultMaxBodyBytes = 1 << 20

var eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_events_total",
	Help: "Total webhook calls by classification and response status",
}, []string{"kind", "status"})

// Dispatcher is implemented by *dispatcher.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, in dispatcher.Inbound) (*dispatcher.Result, error)
	Verify(ctx context.Context, path, mode, token, challenge string) (string, error)
}

type Server struct {
	dispatcher   Dispatcher
	sink         Sink
	maxBodyBytes int64
	logger       zerolog.Logger
}

func NewServer(d Dispatcher, sink Sink, maxBodyBytes int64, logger zerolog.Logger) *Server {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		dispatcher:   d,
		sink:         sink,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With().Str("component", "webhook").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/webhooks/*", s.handle)
	r.Post("/webhooks/*", s.handle)
	return r
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("webhook").Start(r.Context(), "ingest-webhook")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.path", r.URL.Path))

	query := r.URL.Query()
	if r.Method == http.MethodGet && query.Get("hub.mode") != "" {
		s.verify(ctx, w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes+1))
	if err != nil {
		s.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}
	if int64(len(body)) > s.maxBodyBytes {
		s.respondErr(ctx, w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}

	res, err := s.dispatcher.Dispatch(ctx, dispatcher.Inbound{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header,
		Query:   query,
		Body:    body,
	})
	if errors.Is(err, dispatcher.ErrUnclassified) && res != nil {
		s.writeReply(w, string(res.Kind), res.Reply)
		return
	}
	if err != nil {
		span.RecordError(err)
		s.respondErr(ctx, w, statusFor(err), err)
		return
	}
	span.SetAttributes(attribute.String("webhook.kind", string(res.Kind)))

	if rec, ok := recordFromResult(res); ok {
		if err := publishWithRetry(ctx, s.sink, rec); err != nil {
			span.RecordError(err)
			s.respondErr(ctx, w, http.StatusInternalServerError, err)
			return
		}
	}
	s.writeReply(w, string(res.Kind), res.Reply)
}

func (s *Server) verify(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := s.dispatcher.Verify(ctx, r.URL.Path, q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if err != nil {
		s.respondErr(ctx, w, statusFor(err), err)
		return
	}
	eventCounter.WithLabelValues("verify", "200").Inc()
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (s *Server) writeReply(w http.ResponseWriter, kind string, reply dispatcher.Reply) {
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	eventCounter.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	if reply.ContentType != "" {
		w.Header().Set("Content-Type", reply.ContentType)
	}
	w.WriteHeader(status)
	_, _ = w.Write(reply.Body)
}

func statusFor(err error) int {
	var notFound *domain.RouteNotFoundError
	var sigErr *signature.SignatureValidationError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &sigErr):
		return http.StatusUnauthorized
	case errors.Is(err, dispatcher.ErrVerifyFailed):
		return http.StatusForbidden
	case errors.Is(err, dispatcher.ErrInvalidPayload):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(ctx context.Context, w http.ResponseWriter, status int, err error) {
	logger := common.WithContext(ctx, s.logger)
	ev := logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(err).Int("status", status).Msg("webhook handler error")
	eventCounter.WithLabelValues("error", strconv.Itoa(status)).Inc()

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
