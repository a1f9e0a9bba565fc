// Package dispatcher turns authenticated provider webhook calls into normalized
// incoming messages and delivery reports.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/message-gateway/internal/common"
	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/jsonpath"
	"github.com/example/message-gateway/internal/signature"
	"github.com/example/message-gateway/internal/vault"
)

var (
	ErrUnclassified   = errors.New("webhook payload matched neither incoming message nor delivery report")
	ErrInvalidPayload = errors.New("webhook payload could not be parsed")
	ErrVerifyFailed   = errors.New("webhook verification failed")
)

var (
	classifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_classified_total",
		Help: "Webhook payloads by route kind and classification",
	}, []string{"route_kind", "kind"})
	unmappedStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_unmapped_status_total",
		Help: "Delivery reports whose provider status had no mapping",
	}, []string{"provider"})
)

// RouteResolver finds the active route that owns a webhook path.
type RouteResolver interface {
	ResolveWebhookRoute(ctx context.Context, path string) (*domain.WebhookRoute, error)
}

type Kind string

const (
	KindIncoming     Kind = "incoming"
	KindReport       Kind = "report"
	KindUnclassified Kind = "unclassified"
)

// Inbound is a raw webhook call as received over HTTP.
type Inbound struct {
	Method  string
	Path    string
	Headers http.Header
	Query   url.Values
	Body    []byte
}

// Reply is what the provider should receive back.
type Reply struct {
	Status      int
	ContentType string
	Body        []byte
}

type Result struct {
	Route    *domain.WebhookRoute
	Kind     Kind
	Incoming *domain.IncomingRecord
	Report   *domain.DeliveryReport
	Reply    Reply
}

type Config struct {
	// Secret decrypts route configuration blobs.
	Secret string
	// VerifyToken is accepted for the WhatsApp handshake on any route.
	VerifyToken string
}

type Dispatcher struct {
	routes RouteResolver
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

func New(routes RouteResolver, cfg Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		routes: routes,
		cfg:    cfg,
		logger: logger.With().Str("component", "dispatcher").Logger(),
		now:    time.Now,
	}
}

// Dispatch runs one webhook call through route resolution, authentication,
// classification and extraction. An unclassified payload returns a Result with
// its reply together with ErrUnclassified.
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) (*Result, error) {
	ctx, span := otel.Tracer("dispatcher").Start(ctx, "webhook.dispatch")
	defer span.End()
	log := common.WithContext(ctx, d.logger)

	route, err := d.routes.ResolveWebhookRoute(ctx, in.Path)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("route.id", route.ID), attribute.String("route.kind", string(route.Kind)))

	cfg, err := vault.DecodeRouteConfig(route.EncryptedConfig, d.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode route %d config: %w", route.ID, err)
	}
	wh := cfg.Webhook

	if wh.SignatureValidation.Enabled {
		if err := signature.Verify(wh.SignatureValidation, in.Headers, in.Body); err != nil {
			log.Warn().Int64("route_id", route.ID).Msg("webhook signature rejected")
			return nil, err
		}
	}

	payload, err := parsePayload(in)
	if err != nil {
		return nil, err
	}

	receivedAt := d.now().UTC()
	res := &Result{Route: route, Kind: KindUnclassified}
	switch {
	case isIncoming(wh.IncomingMessage, payload):
		res.Kind = KindIncoming
		res.Incoming = extractIncoming(route, wh.IncomingMessage, payload, receivedAt)
	case wh.DeliveryReport.Enabled:
		report, unmapped := extractReport(route, wh.DeliveryReport, payload, receivedAt)
		if report != nil {
			res.Kind = KindReport
			res.Report = report
			if unmapped {
				unmappedStatusTotal.WithLabelValues(route.Provider).Inc()
				log.Warn().Int64("route_id", route.ID).Str("provider_status", report.ProviderStatus).
					Msg("delivery status has no mapping, recording as pending")
			}
		}
	}
	classifiedTotal.WithLabelValues(string(route.Kind), string(res.Kind)).Inc()
	span.SetAttributes(attribute.String("webhook.kind", string(res.Kind)))

	reply, err := buildReply(wh, payload)
	if err != nil {
		return nil, fmt.Errorf("render webhook reply: %w", err)
	}
	res.Reply = reply

	if res.Kind == KindUnclassified {
		log.Info().Int64("route_id", route.ID).Msg("webhook payload not classified")
		return res, ErrUnclassified
	}
	return res, nil
}

// Verify answers the WhatsApp Business subscription handshake and returns the
// challenge to echo back.
func (d *Dispatcher) Verify(ctx context.Context, path, mode, token, challenge string) (string, error) {
	if mode != "subscribe" || token == "" {
		return "", ErrVerifyFailed
	}
	route, err := d.routes.ResolveWebhookRoute(ctx, path)
	if err != nil {
		return "", err
	}
	cfg, err := vault.DecodeRouteConfig(route.EncryptedConfig, d.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("decode route %d config: %w", route.ID, err)
	}
	if tokenMatches(token, cfg.Webhook.VerifyToken) || tokenMatches(token, d.cfg.VerifyToken) {
		return challenge, nil
	}
	log := common.WithContext(ctx, d.logger)
	log.Warn().Int64("route_id", route.ID).Msg("verify token mismatch")
	return "", ErrVerifyFailed
}

func tokenMatches(got, want string) bool {
	return want != "" && signature.ValidateBearerToken("Bearer "+got, want)
}

func isIncoming(cfg domain.IncomingMessageConfig, payload any) bool {
	if !cfg.Enabled || cfg.FromPath == "" || cfg.MessagePath == "" {
		return false
	}
	return nonEmpty(payload, cfg.FromPath) && nonEmpty(payload, cfg.MessagePath)
}

func nonEmpty(payload any, path string) bool {
	v, ok := jsonpath.Extract(payload, path)
	return ok && jsonpath.String(v) != ""
}

func lookupString(payload any, path string) string {
	if path == "" {
		return ""
	}
	v, ok := jsonpath.Extract(payload, path)
	if !ok {
		return ""
	}
	return jsonpath.String(v)
}

func extractIncoming(route *domain.WebhookRoute, cfg domain.IncomingMessageConfig, payload any, receivedAt time.Time) *domain.IncomingRecord {
	to := lookupString(payload, cfg.ToPath)
	if to == "" {
		to = route.SenderID
	}
	return &domain.IncomingRecord{
		RouteID:    route.ID,
		RouteKind:  route.Kind,
		Provider:   route.Provider,
		From:       lookupString(payload, cfg.FromPath),
		To:         to,
		Text:       lookupString(payload, cfg.MessagePath),
		MessageID:  lookupString(payload, cfg.MessageIDPath),
		Timestamp:  extractTimestamp(payload, cfg.TimestampPath, receivedAt),
		RawPayload: payload,
	}
}

// extractReport returns nil when the message id or provider status is missing.
// unmapped is true when the provider status had no mapping.
func extractReport(route *domain.WebhookRoute, cfg domain.DeliveryReportConfig, payload any, receivedAt time.Time) (*domain.DeliveryReport, bool) {
	messageID := lookupString(payload, cfg.MessageIDPath)
	raw := lookupString(payload, cfg.StatusPath)
	if messageID == "" || raw == "" {
		return nil, false
	}
	status, mapped := MapStatus(cfg.StatusMapping, raw)
	return &domain.DeliveryReport{
		RouteID:        route.ID,
		RouteKind:      route.Kind,
		Provider:       route.Provider,
		MessageID:      messageID,
		ExternalID:     lookupString(payload, cfg.ExternalIDPath),
		Status:         status,
		ProviderStatus: raw,
		Error:          lookupString(payload, cfg.ErrorPath),
		Timestamp:      extractTimestamp(payload, cfg.TimestampPath, receivedAt),
		RawPayload:     payload,
	}, !mapped
}

// MapStatus translates a provider status through mapping. Exact keys win over
// case-insensitive ones; anything else is pending.
func MapStatus(mapping map[string]domain.DeliveryStatus, raw string) (domain.DeliveryStatus, bool) {
	if s, ok := mapping[raw]; ok && validStatus(s) {
		return s, true
	}
	for k, s := range mapping {
		if strings.EqualFold(k, raw) && validStatus(s) {
			return s, true
		}
	}
	return domain.DeliveryPending, false
}

func validStatus(s domain.DeliveryStatus) bool {
	switch s {
	case domain.DeliveryDelivered, domain.DeliveryFailed, domain.DeliveryPending:
		return true
	}
	return false
}
