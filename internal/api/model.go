package api

import (
	"context"
	"encoding/json"

	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/sms"
	"github.com/example/message-gateway/internal/whatsapp"
)

type SMSTestRequest struct {
	To   string `json:"to" validate:"required,phone"`
	Text string `json:"text" validate:"required,max=1600"`
	From string `json:"from" validate:"omitempty,max=32"`
}

type WhatsAppTestRequest struct {
	To                 string          `json:"to" validate:"required,phone"`
	Type               string          `json:"type" validate:"omitempty,oneof=text image video audio document location template interactive both"`
	Text               string          `json:"text" validate:"max=4096"`
	MediaURL           string          `json:"mediaUrl" validate:"omitempty,url"`
	MediaID            string          `json:"mediaId"`
	Caption            string          `json:"caption" validate:"max=1024"`
	Filename           string          `json:"filename"`
	Latitude           *float64        `json:"latitude" validate:"omitempty,latitude"`
	Longitude          *float64        `json:"longitude" validate:"omitempty,longitude"`
	LocationName       string          `json:"locationName"`
	LocationAddress    string          `json:"locationAddress"`
	TemplateName       string          `json:"templateName"`
	TemplateLanguage   string          `json:"templateLanguage"`
	TemplateComponents json.RawMessage `json:"templateComponents"`
	Interactive        json.RawMessage `json:"interactive"`
}

// message maps the request onto the stored message shape so test sends go
// through the same content rules as queued broadcasts.
func (r WhatsAppTestRequest) message() domain.Message {
	ct := domain.ContentType(r.Type)
	if ct == "" {
		ct = domain.ContentText
	}
	return domain.Message{
		Content:            r.Text,
		ContentType:        ct,
		TemplateName:       r.TemplateName,
		TemplateLanguage:   r.TemplateLanguage,
		TemplateComponents: r.TemplateComponents,
		MediaURL:           r.MediaURL,
		MediaID:            r.MediaID,
		MediaCaption:       r.Caption,
		MediaFilename:      r.Filename,
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		LocationName:       r.LocationName,
		LocationAddress:    r.LocationAddress,
		Interactive:        r.Interactive,
	}
}

type WebhookPathRequest struct {
	CustomPath string `json:"customPath" validate:"omitempty,startswith=/webhooks/,max=200,excludesall= ?#"`
}

type CredentialsRequest struct {
	Credentials map[string]any `json:"credentials" validate:"required"`
}

type SendResponse struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	Response          any    `json:"response"`
	Error             string `json:"error,omitempty"`
}

type WebhookPathResponse struct {
	WebhookPath string `json:"webhookPath"`
	WebhookURL  string `json:"webhookUrl"`
}

// RouteStore is implemented by *store.Postgres.
type RouteStore interface {
	GetSMSRoute(ctx context.Context, id int64) (*domain.SMSRoute, error)
	GetWhatsAppRoute(ctx context.Context, id int64) (*domain.WhatsAppRoute, error)
	SetWebhookPath(ctx context.Context, kind domain.RouteType, clientID, routeID int64, path string) error
	UpdateSMSRouteConfig(ctx context.Context, clientID, routeID int64, encrypted string) error
}

type SMSSender interface {
	Send(ctx context.Context, routeID int64, p sms.Payload) (domain.SendResult, error)
}

type WhatsAppSender interface {
	Send(ctx context.Context, routeID int64, to string, content whatsapp.Content) (domain.SendResult, error)
}

// Invalidator drops cached webhook route entries; *routecache.Cache implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, path string) error
}
