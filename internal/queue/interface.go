package queue

import (
	"context"
	"time"

	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/sms"
	"github.com/example/message-gateway/internal/whatsapp"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/example/message-gateway/internal/queue Store

// Store is the persistence the processor needs for one run.
type Store interface {
	// ClaimDueMessages moves up to limit due messages from queue to processing
	// and returns them.
	ClaimDueMessages(ctx context.Context, now time.Time, limit int) ([]domain.Message, error)
	GetChannel(ctx context.Context, id int64) (*domain.Channel, error)
	ListChannelMembers(ctx context.Context, channelID int64) ([]domain.Member, error)
	CompleteMessage(ctx context.Context, id int64, outcome domain.Outcome) error
	RequeueMessage(ctx context.Context, id int64, retry domain.RetryState) error
	FailMessage(ctx context.Context, id int64, retry domain.RetryState) error
}

type SMSSender interface {
	Send(ctx context.Context, routeID int64, p sms.Payload) (domain.SendResult, error)
}

type WhatsAppSender interface {
	Send(ctx context.Context, routeID int64, to string, content whatsapp.Content) (domain.SendResult, error)
}
