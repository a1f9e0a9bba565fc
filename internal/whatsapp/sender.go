package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/message-gateway/internal/common"
	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/gateway"
	"github.com/example/message-gateway/internal/jsonpath"
	"github.com/example/message-gateway/internal/vault"
)

const (
	DefaultURLTemplate     = "https://graph.facebook.com/v19.0/{{phoneNumberId}}/messages"
	DefaultHeadersTemplate = `{"Authorization":"Bearer {{accessToken}}"}`
	DefaultBodyTemplate    = "{{{payloadJson}}}"
	DefaultSuccessMatch    = "messages[0].id"
	defaultContentType     = "application/json"
)

type Store interface {
	GetWhatsAppRoute(ctx context.Context, id int64) (*domain.WhatsAppRoute, error)
	GetWhatsAppCredential(ctx context.Context, id int64) (*domain.WhatsAppCredential, error)
	TouchWhatsAppRoute(ctx context.Context, id int64, at time.Time) error
}

type Transport interface {
	Send(ctx context.Context, req gateway.Request) ([]byte, error)
}

type Sender struct {
	store     Store
	transport Transport
	secret    string
	logger    zerolog.Logger
	now       func() time.Time
}

func NewSender(store Store, transport Transport, secret string, logger zerolog.Logger) *Sender {
	return &Sender{
		store:     store,
		transport: transport,
		secret:    secret,
		logger:    logger.With().Str("component", "whatsapp").Logger(),
		now:       time.Now,
	}
}

// Send delivers content to one recipient through routeID and the credential it
// references. Content problems surface as *ContentError before any lookup.
func (s *Sender) Send(ctx context.Context, routeID int64, to string, content Content) (domain.SendResult, error) {
	payload, err := BuildPayload(to, content)
	if err != nil {
		return domain.SendResult{}, err
	}
	payloadJSON, err := marshalPayload(payload)
	if err != nil {
		return domain.SendResult{}, err
	}

	route, err := s.store.GetWhatsAppRoute(ctx, routeID)
	if err != nil {
		return domain.SendResult{}, err
	}
	if route.Status != domain.RouteActive {
		return domain.SendResult{}, fmt.Errorf("whatsapp route %d: %w", routeID, domain.ErrRouteInactive)
	}
	cred, err := s.store.GetWhatsAppCredential(ctx, route.CredentialID)
	if err != nil {
		return domain.SendResult{}, err
	}
	cfg, err := vault.DecodeRouteConfig(cred.EncryptedConfig, s.secret)
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("decode whatsapp credential %d: %w", cred.ID, err)
	}

	data := buildContext(cfg.Credentials, route, to, content, payload, payloadJSON)
	req := gateway.Request{
		URLTemplate:     orDefault(cred.RequestURLTemplate, DefaultURLTemplate),
		Method:          http.MethodPost,
		HeadersTemplate: orDefault(cred.HeadersTemplate, DefaultHeadersTemplate),
		BodyTemplate:    orDefault(cred.BodyTemplate, DefaultBodyTemplate),
		ContentType:     orDefault(cred.ContentType, defaultContentType),
		Context:         data,
	}

	log := common.WithContext(ctx, s.logger).With().Int64("route_id", routeID).Int64("credential_id", cred.ID).Logger()
	body, err := s.transport.Send(ctx, req)
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
		Success:  gateway.Evaluate(response, orDefault(cred.SuccessMatch, DefaultSuccessMatch)),
		Response: response,
	}
	if v, ok := jsonpath.Extract(response, orDefault(cred.MessageIDPath, DefaultSuccessMatch)); ok {
		result.ProviderMessageID = jsonpath.String(v)
	}
	if !result.Success {
		log.Warn().Msg("provider response did not satisfy success rule")
		return result, domain.ErrProviderRejected
	}
	return result, nil
}

func (s *Sender) touch(ctx context.Context, log zerolog.Logger, routeID int64) {
	if err := s.store.TouchWhatsAppRoute(ctx, routeID, s.now().UTC()); err != nil {
		log.Error().Err(err).Msg("failed to record route usage")
	}
}

func buildContext(creds map[string]any, route *domain.WhatsAppRoute, to string, c Content, payload map[string]any, payloadJSON string) map[string]any {
	data := make(map[string]any, len(creds)+8)
	for k, v := range creds {
		data[k] = v
	}
	if jsonpath.String(data["phoneNumberId"]) == "" {
		data["phoneNumberId"] = route.MetaPhoneID
	}
	from := route.SenderName
	if from == "" {
		from = route.PhoneNumber
	}
	data["to"] = to
	data["from"] = from
	data["type"] = c.kind()
	data["payload"] = payload
	data["payloadJson"] = payloadJSON
	if t, ok := c.(Text); ok {
		data["text"] = t.Body
	}
	return data
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
