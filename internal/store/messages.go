package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/example/message-gateway/internal/domain"
)

const claimDueMessages = `
UPDATE messages SET status = 'processing', updated_at = $1
WHERE id IN (
	SELECT id FROM messages
	WHERE status = 'queue' AND (scheduled_at IS NULL OR scheduled_at <= $1)
	ORDER BY created_at, id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
RETURNING id, client_id, channel_id, direction, type, content, content_type, status, scheduled_at,
          sent_count, failed_count, template_name, template_language, template_components,
          media_url, media_id, media_caption, media_filename, latitude, longitude,
          location_name, location_address, interactive, retry_count, last_error, last_retry_at,
          responses, created_at
`

const selectChannel = `
SELECT id, client_id, name, route_type, monetization_type, status, sms_route_id, whatsapp_route_id
FROM channels
WHERE id = $1
`

const selectChannelMembers = `
SELECT s.id, s.name, s.phone, s.subscription_type, s.status, sub.status
FROM subscriptions sub
JOIN subscribers s ON s.id = sub.subscriber_id
WHERE sub.channel_id = $1
ORDER BY s.id
`

const completeMessage = `
UPDATE messages SET status = 'processed', sent_count = $2, failed_count = $3,
       responses = responses || $4::jsonb, updated_at = $5
WHERE id = $1
`

const requeueMessage = `
UPDATE messages SET status = 'queue', retry_count = $2, last_error = $3, last_retry_at = $4, updated_at = $5
WHERE id = $1
`

const failMessage = `
UPDATE messages SET status = 'failed', retry_count = $2, last_error = $3, last_retry_at = $4, updated_at = $5
WHERE id = $1
`

// ClaimDueMessages moves up to limit due messages from queue to processing and
// returns them. Rows locked by a concurrent claimer are skipped.
func (p *Postgres) ClaimDueMessages(ctx context.Context, now time.Time, limit int) ([]domain.Message, error) {
	rows, err := p.pool.Query(ctx, claimDueMessages, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due messages: %w", err)
	}
	return out, nil
}

func scanMessage(rows pgx.Rows) (domain.Message, error) {
	var (
		m                       domain.Message
		contentType, status     string
		components, interactive []byte
		responses               []byte
	)
	err := rows.Scan(
		&m.ID, &m.ClientID, &m.ChannelID, &m.Direction, &m.Type, &m.Content, &contentType, &status, &m.ScheduledAt,
		&m.SentCount, &m.FailedCount, &m.TemplateName, &m.TemplateLanguage, &components,
		&m.MediaURL, &m.MediaID, &m.MediaCaption, &m.MediaFilename, &m.Latitude, &m.Longitude,
		&m.LocationName, &m.LocationAddress, &interactive, &m.Retry.RetryCount, &m.Retry.LastError, &m.Retry.LastRetryAt,
		&responses, &m.CreatedAt,
	)
	if err != nil {
		return domain.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.ContentType = domain.ContentType(contentType)
	m.Status = domain.MessageStatus(status)
	m.TemplateComponents = json.RawMessage(components)
	m.Interactive = json.RawMessage(interactive)
	if len(responses) > 0 {
		if err := json.Unmarshal(responses, &m.Responses); err != nil {
			return domain.Message{}, fmt.Errorf("decode responses of message %d: %w", m.ID, err)
		}
	}
	return m, nil
}

func (p *Postgres) GetChannel(ctx context.Context, id int64) (*domain.Channel, error) {
	var (
		c                         domain.Channel
		routeType, money, status string
	)
	err := p.pool.QueryRow(ctx, selectChannel, id).Scan(
		&c.ID, &c.ClientID, &c.Name, &routeType, &money, &status, &c.SMSRouteID, &c.WhatsAppRouteID,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, &domain.ChannelNotFoundError{ID: id}
		}
		return nil, fmt.Errorf("select channel: %w", err)
	}
	c.RouteType = domain.RouteType(routeType)
	c.MonetizationType = domain.MonetizationType(money)
	c.Status = domain.ChannelStatus(status)
	return &c, nil
}

// ListChannelMembers returns every subscriber joined to the channel with its subscription status.
func (p *Postgres) ListChannelMembers(ctx context.Context, channelID int64) ([]domain.Member, error) {
	rows, err := p.pool.Query(ctx, selectChannelMembers, channelID)
	if err != nil {
		return nil, fmt.Errorf("select channel members: %w", err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		var (
			m                        domain.Member
			subType, status, subStat string
		)
		if err := rows.Scan(&m.Subscriber.ID, &m.Subscriber.Name, &m.Subscriber.Phone, &subType, &status, &subStat); err != nil {
			return nil, fmt.Errorf("scan channel member: %w", err)
		}
		m.Subscriber.SubscriptionType = domain.RouteType(subType)
		m.Subscriber.Status = domain.SubscriberStatus(status)
		m.SubscriptionStatus = domain.SubscriptionStatus(subStat)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CompleteMessage marks a message processed and appends its delivery results.
func (p *Postgres) CompleteMessage(ctx context.Context, id int64, out domain.Outcome) error {
	responses := out.Responses
	if responses == nil {
		responses = []domain.DeliveryResult{}
	}
	raw, err := json.Marshal(responses)
	if err != nil {
		return fmt.Errorf("encode responses: %w", err)
	}
	if _, err := p.pool.Exec(ctx, completeMessage, id, out.SentCount, out.FailedCount, string(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("complete message %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) RequeueMessage(ctx context.Context, id int64, rs domain.RetryState) error {
	if _, err := p.pool.Exec(ctx, requeueMessage, id, rs.RetryCount, rs.LastError, rs.LastRetryAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("requeue message %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) FailMessage(ctx context.Context, id int64, rs domain.RetryState) error {
	if _, err := p.pool.Exec(ctx, failMessage, id, rs.RetryCount, rs.LastError, rs.LastRetryAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("fail message %d: %w", id, err)
	}
	return nil
}
