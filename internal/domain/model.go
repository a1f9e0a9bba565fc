package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

type RouteType string

const (
	RouteSMS      RouteType = "sms"
	RouteWhatsApp RouteType = "whatsapp"
	RouteEmail    RouteType = "email"
)

type RouteStatus string

const (
	RouteActive   RouteStatus = "active"
	RouteInactive RouteStatus = "inactive"
)

// SMSRoute is a client-owned SMS provider integration driven by request templates.
type SMSRoute struct {
	ID                 int64
	ClientID           int64
	Provider           string
	Name               string
	EncryptedConfig    string
	RequestURLTemplate string
	RequestMethod      string
	HeadersTemplate    string
	BodyTemplate       string
	ContentType        string
	SuccessMatch       string
	MessageIDPath      string
	WebhookPath        string
	WebhookEnabled     bool
	SenderID           string
	IsDefault          bool
	Status             RouteStatus
	UsageCount         int64
	LastUsedAt         *time.Time
}

// WhatsAppRoute binds a WhatsApp sender identity to a shared credential record.
type WhatsAppRoute struct {
	ID              int64
	ClientID        int64
	Name            string
	MetaPhoneID     string
	PhoneNumber     string
	SenderName      string
	Status          RouteStatus
	IsDefault       bool
	WebhookPath     string
	EncryptedConfig string
	CredentialID    int64
	UsageCount      int64
	LastUsedAt      *time.Time
}

// WhatsAppCredential holds provider templates and secrets shared by several routes.
type WhatsAppCredential struct {
	ID                 int64
	Provider           string
	BusinessID         string
	EncryptedConfig    string
	RequestURLTemplate string
	HeadersTemplate    string
	BodyTemplate       string
	ContentType        string
	SuccessMatch       string
	MessageIDPath      string
}

// WebhookRoute is the subset of either route variant needed to serve a webhook call.
type WebhookRoute struct {
	ID              int64
	Kind            RouteType
	ClientID        int64
	Provider        string
	SenderID        string
	EncryptedConfig string
}

type MonetizationType string

const (
	MonetizationFree MonetizationType = "free"
	MonetizationPaid MonetizationType = "paid"
)

type ChannelStatus string

const (
	ChannelActive   ChannelStatus = "active"
	ChannelInactive ChannelStatus = "inactive"
)

// Channel is a broadcast destination bound to exactly one route type.
type Channel struct {
	ID               int64
	ClientID         int64
	Name             string
	RouteType        RouteType
	MonetizationType MonetizationType
	Status           ChannelStatus
	SMSRouteID       *int64
	WhatsAppRouteID  *int64
}

// RouteID returns the route bound for the channel's route type.
func (c Channel) RouteID() (int64, bool) {
	var id *int64
	switch c.RouteType {
	case RouteSMS:
		id = c.SMSRouteID
	case RouteWhatsApp:
		id = c.WhatsAppRouteID
	}
	if id == nil {
		return 0, false
	}
	return *id, true
}

type SubscriberStatus string

const (
	SubscriberActive   SubscriberStatus = "active"
	SubscriberPending  SubscriberStatus = "pending"
	SubscriberInactive SubscriberStatus = "inactive"
)

type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
	SubscriptionPending SubscriptionStatus = "pending"
)

type Subscriber struct {
	ID               int64
	Name             string
	Phone            string
	SubscriptionType RouteType
	Status           SubscriberStatus
}

// Member is a subscriber together with its subscription to one channel.
type Member struct {
	Subscriber         Subscriber
	SubscriptionStatus SubscriptionStatus
}

type MessageStatus string

const (
	StatusQueue      MessageStatus = "queue"
	StatusProcessing MessageStatus = "processing"
	StatusProcessed  MessageStatus = "processed"
	StatusFailed     MessageStatus = "failed"
)

type ContentType string

const (
	ContentText        ContentType = "text"
	ContentImage       ContentType = "image"
	ContentVideo       ContentType = "video"
	ContentAudio       ContentType = "audio"
	ContentDocument    ContentType = "document"
	ContentLocation    ContentType = "location"
	ContentTemplate    ContentType = "template"
	ContentInteractive ContentType = "interactive"
	ContentBoth        ContentType = "both"
)

// Message is a unit of outbound content bound to a channel.
type Message struct {
	ID          int64
	ClientID    int64
	ChannelID   int64
	Direction   string
	Type        string
	Content     string
	ContentType ContentType
	Status      MessageStatus
	ScheduledAt *time.Time
	SentCount   int
	FailedCount int

	TemplateName       string
	TemplateLanguage   string
	TemplateComponents json.RawMessage

	MediaURL      string
	MediaID       string
	MediaCaption  string
	MediaFilename string

	Latitude        *float64
	Longitude       *float64
	LocationName    string
	LocationAddress string

	Interactive json.RawMessage

	Retry     RetryState
	Responses []DeliveryResult
	CreatedAt time.Time
}

// IsDue reports whether the message may be picked up by the queue processor at now.
func (m Message) IsDue(now time.Time) bool {
	if m.Status != StatusQueue {
		return false
	}
	return m.ScheduledAt == nil || !m.ScheduledAt.After(now)
}

const maxLastErrorLen = 500

// RetryState is the retry bookkeeping kept on a message.
type RetryState struct {
	RetryCount  int
	LastError   string
	LastRetryAt *time.Time
}

// Next returns the state after one more failed attempt.
func (r RetryState) Next(err error, at time.Time) RetryState {
	msg := ""
	if err != nil {
		msg = truncateUTF8(err.Error(), maxLastErrorLen)
	}
	return RetryState{RetryCount: r.RetryCount + 1, LastError: msg, LastRetryAt: &at}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune. Invalid
// sequences are replaced so the result is always valid UTF-8.
func truncateUTF8(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// DeliveryResult is the per-subscriber outcome appended to a message's response log.
type DeliveryResult struct {
	Phone             string    `json:"phone"`
	Success           bool      `json:"success"`
	Error             string    `json:"error,omitempty"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Outcome is the aggregate written back when a message finishes processing.
type Outcome struct {
	SentCount   int
	FailedCount int
	Responses   []DeliveryResult
}

// SendResult is what a channel sender reports for a single recipient.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	Response          any
}

type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryPending   DeliveryStatus = "pending"
)

// IncomingRecord is a normalized inbound message produced from a provider webhook.
type IncomingRecord struct {
	RouteID    int64     `json:"routeId"`
	RouteKind  RouteType `json:"routeKind"`
	Provider   string    `json:"provider"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Text       string    `json:"text"`
	MessageID  string    `json:"messageId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RawPayload any       `json:"rawPayload"`
}

// DeliveryReport is a normalized delivery status produced from a provider webhook.
type DeliveryReport struct {
	RouteID        int64          `json:"routeId"`
	RouteKind      RouteType      `json:"routeKind"`
	Provider       string         `json:"provider"`
	MessageID      string         `json:"messageId"`
	ExternalID     string         `json:"externalId,omitempty"`
	Status         DeliveryStatus `json:"status"`
	ProviderStatus string         `json:"providerStatus"`
	Error          string         `json:"error,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	RawPayload     any            `json:"rawPayload"`
}
