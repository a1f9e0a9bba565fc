// Package sms delivers text messages through client-configured SMS routes.
package sms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/message-gateway/internal/common"
	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/gateway"
	"github.com/example/message-gateway/internal/jsonpath"
	"github.com/example/message-gateway/internal/vault"
)

const defaultFrom = "CHANNEL"

type RouteStore interface {
	GetSMSRoute(ctx context.Context, id int64) (*domain.SMSRoute, error)
	TouchSMSRoute(ctx context.Context, id int64, at time.Time) error
}

// Transport performs a rendered provider call; *gateway.Gateway implements it.
type Transport interface {
	Send(ctx context.Context, req gateway.Request) ([]byte, error)
}

type Payload struct {
	To   string
	Text string
	From string
}

type Sender struct {
	routes RouteStore
	http   Transport
	secret string
	logger zerolog.Logger
	now    func() time.Time
}

func NewSender(routes RouteStore, transport Transport, secret string, logger zerolog.Logger) *Sender {
	return &Sender{
		routes: routes,
		http:   transport,
		secret: secret,
		logger: logger.With().Str("component", "sms").Logger(),
		now:    time.Now,
	}
}

// Send delivers p through route routeID. A response that does not satisfy the
// route's success rule yields the result together with domain.ErrProviderRejected.
func (s *Sender) Send(ctx context.Context, routeID int64, p Payload) (domain.SendResult, error) {
	route, err := s.routes.GetSMSRoute(ctx, routeID)
	if err != nil {
		return domain.SendResult{}, err
	}
	if route.Status != domain.RouteActive {
		return domain.SendResult{}, fmt.Errorf("sms route %d: %w", routeID, domain.ErrRouteInactive)
	}
	cfg, err := vault.DecodeRouteConfig(route.EncryptedConfig, s.secret)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("decode sms route %d config: %w", routeID, err)
	}

	body, err := s.http.Send(ctx, gateway.Request{
		URLTemplate:     route.RequestURLTemplate,
		Method:          route.RequestMethod,
		HeadersTemplate: route.HeadersTemplate,
		BodyTemplate:    route.BodyTemplate,
		ContentType:     route.ContentType,
		Context:         BuildContext(cfg.Credentials, route, p),
	})
	log := common.WithContext(ctx, s.logger).With().Int64("route_id", routeID).Str("provider", route.Provider).Logger()
	if err != nil {
		var gerr *gateway.Error
		if errors.As(err, &gerr) && gerr.StatusCode != 0 {
			s.touch(ctx, log, routeID)
			return domain.SendResult{Response: gerr.Response()}, err
		}
		return domain.SendResult{}, err
	}
	s.touch(ctx, log, routeID)

	response := gateway.DecodeResponse(body)
	result := domain.SendResult{
		Success:  gateway.Evaluate(response, route.SuccessMatch),
		Response: response,
	}
	if route.MessageIDPath != "" {
		if v, ok := jsonpath.Extract(response, route.MessageIDPath); ok {
			result.ProviderMessageID = jsonpath.String(v)
		}
	}
	if !result.Success {
		log.Warn().Str("rule", route.SuccessMatch).Msg("provider response did not satisfy success rule")
		return result, domain.ErrProviderRejected
	}
	return result, nil
}

func (s *Sender) touch(ctx context.Context, log zerolog.Logger, routeID int64) {
	if err := s.routes.TouchSMSRoute(ctx, routeID, s.now().UTC()); err != nil {
		log.Error().Err(err).Msg("failed to record route usage")
	}
}

// BuildContext assembles the template data for one send: the route credentials
// followed by the message fields, which take precedence.
func BuildContext(creds map[string]any, route *domain.SMSRoute, p Payload) map[string]any {
	ctx := make(map[string]any, len(creds)+5)
	for k, v := range creds {
		ctx[k] = v
	}
	from := p.From
	if from == "" {
		from = route.SenderID
	}
	if from == "" {
		from = defaultFrom
	}
	ctx["to"] = p.To
	ctx["text"] = p.Text
	ctx["from"] = from
	ctx["senderId"] = route.SenderID

	sid := jsonpath.String(creds["accountSid"])
	token := jsonpath.String(creds["authToken"])
	if sid != "" && token != "" {
		ctx["basicAuthBase64"] = base64.StdEncoding.EncodeToString([]byte(sid + ":" + token))
	}
	return ctx
}
