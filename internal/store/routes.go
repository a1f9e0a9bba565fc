package store

import (
	"context"
	"fmt"
	"time"

	"github.com/example/message-gateway/internal/domain"
)

const selectSMSRoute = `
SELECT id, client_id, provider, name, encrypted_config, request_url_template, request_method,
       headers_template, body_template, content_type, success_match, message_id_path,
       COALESCE(webhook_path, ''), webhook_enabled, sender_id, is_default, status, usage_count, last_used_at
FROM sms_routes
WHERE id = $1
`

const selectWhatsAppRoute = `
SELECT id, client_id, name, meta_phone_id, phone_number, sender_name, status, is_default,
       COALESCE(webhook_path, ''), encrypted_config, credential_id, usage_count, last_used_at
FROM whatsapp_routes
WHERE id = $1
`

const selectWhatsAppCredential = `
SELECT id, provider, business_id, encrypted_config, request_url_template, headers_template,
       body_template, content_type, success_match, message_id_path
FROM whatsapp_credentials
WHERE id = $1
`

const touchSMSRoute = `UPDATE sms_routes SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1`

const touchWhatsAppRoute = `UPDATE whatsapp_routes SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1`

// webhook_paths owns every issued path across both route tables, so at most
// one branch can match.
const selectWebhookRoute = `
SELECT s.id, 'sms' AS kind, s.client_id, s.provider, s.sender_id, s.encrypted_config
FROM webhook_paths w
JOIN sms_routes s ON w.kind = 'sms' AND s.id = w.route_id AND s.webhook_path = w.path
WHERE w.path = $1 AND s.status = 'active' AND s.webhook_enabled
UNION ALL
SELECT r.id, 'whatsapp' AS kind, r.client_id, COALESCE(c.provider, 'whatsapp'), r.phone_number, r.encrypted_config
FROM webhook_paths w
JOIN whatsapp_routes r ON w.kind = 'whatsapp' AND r.id = w.route_id AND r.webhook_path = w.path
LEFT JOIN whatsapp_credentials c ON c.id = r.credential_id
WHERE w.path = $1 AND r.status = 'active'
`

const releaseWebhookPath = `DELETE FROM webhook_paths WHERE kind = $1 AND route_id = $2`

const claimWebhookPath = `INSERT INTO webhook_paths (path, kind, route_id) VALUES ($1, $2, $3)`

const updateSMSWebhookPath = `UPDATE sms_routes SET webhook_path = $3, webhook_enabled = true WHERE id = $1 AND client_id = $2`

const updateWhatsAppWebhookPath = `UPDATE whatsapp_routes SET webhook_path = $3 WHERE id = $1 AND client_id = $2`

const updateSMSRouteConfig = `UPDATE sms_routes SET encrypted_config = $3 WHERE id = $1 AND client_id = $2`

func (p *Postgres) GetSMSRoute(ctx context.Context, id int64) (*domain.SMSRoute, error) {
	var r domain.SMSRoute
	var status string
	err := p.pool.QueryRow(ctx, selectSMSRoute, id).Scan(
		&r.ID, &r.ClientID, &r.Provider, &r.Name, &r.EncryptedConfig, &r.RequestURLTemplate, &r.RequestMethod,
		&r.HeadersTemplate, &r.BodyTemplate, &r.ContentType, &r.SuccessMatch, &r.MessageIDPath,
		&r.WebhookPath, &r.WebhookEnabled, &r.SenderID, &r.IsDefault, &status, &r.UsageCount, &r.LastUsedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, &domain.RouteNotFoundError{Kind: domain.RouteSMS, ID: id}
		}
		return nil, fmt.Errorf("select sms route: %w", err)
	}
	r.Status = domain.RouteStatus(status)
	return &r, nil
}

func (p *Postgres) GetWhatsAppRoute(ctx context.Context, id int64) (*domain.WhatsAppRoute, error) {
	var r domain.WhatsAppRoute
	var status string
	err := p.pool.QueryRow(ctx, selectWhatsAppRoute, id).Scan(
		&r.ID, &r.ClientID, &r.Name, &r.MetaPhoneID, &r.PhoneNumber, &r.SenderName, &status, &r.IsDefault,
		&r.WebhookPath, &r.EncryptedConfig, &r.CredentialID, &r.UsageCount, &r.LastUsedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, &domain.RouteNotFoundError{Kind: domain.RouteWhatsApp, ID: id}
		}
		return nil, fmt.Errorf("select whatsapp route: %w", err)
	}
	r.Status = domain.RouteStatus(status)
	return &r, nil
}

func (p *Postgres) GetWhatsAppCredential(ctx context.Context, id int64) (*domain.WhatsAppCredential, error) {
	var c domain.WhatsAppCredential
	err := p.pool.QueryRow(ctx, selectWhatsAppCredential, id).Scan(
		&c.ID, &c.Provider, &c.BusinessID, &c.EncryptedConfig, &c.RequestURLTemplate, &c.HeadersTemplate,
		&c.BodyTemplate, &c.ContentType, &c.SuccessMatch, &c.MessageIDPath,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, &domain.CredentialNotFoundError{ID: id}
		}
		return nil, fmt.Errorf("select whatsapp credential: %w", err)
	}
	return &c, nil
}

func (p *Postgres) TouchSMSRoute(ctx context.Context, id int64, at time.Time) error {
	if _, err := p.pool.Exec(ctx, touchSMSRoute, id, at); err != nil {
		return fmt.Errorf("touch sms route: %w", err)
	}
	return nil
}

func (p *Postgres) TouchWhatsAppRoute(ctx context.Context, id int64, at time.Time) error {
	if _, err := p.pool.Exec(ctx, touchWhatsAppRoute, id, at); err != nil {
		return fmt.Errorf("touch whatsapp route: %w", err)
	}
	return nil
}

// ResolveWebhookRoute finds the active route of either kind that owns path.
func (p *Postgres) ResolveWebhookRoute(ctx context.Context, path string) (*domain.WebhookRoute, error) {
	var r domain.WebhookRoute
	var kind string
	err := p.pool.QueryRow(ctx, selectWebhookRoute, path).Scan(
		&r.ID, &kind, &r.ClientID, &r.Provider, &r.SenderID, &r.EncryptedConfig,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, &domain.RouteNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("resolve webhook route: %w", err)
	}
	r.Kind = domain.RouteType(kind)
	return &r, nil
}

// SetWebhookPath assigns path to the client's route. Paths are unique across
// route kinds; a path held by any other route yields ErrWebhookPathTaken.
func (p *Postgres) SetWebhookPath(ctx context.Context, kind domain.RouteType, clientID, routeID int64, path string) error {
	var stmt string
	switch kind {
	case domain.RouteSMS:
		stmt = updateSMSWebhookPath
	case domain.RouteWhatsApp:
		stmt = updateWhatsAppWebhookPath
	default:
		return fmt.Errorf("route kind %q: %w", kind, domain.ErrUnsupportedRouteType)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set webhook path: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, stmt, routeID, clientID, path)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return ErrWebhookPathTaken
		}
		return fmt.Errorf("set webhook path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.RouteNotFoundError{Kind: kind, ID: routeID}
	}
	if _, err := tx.Exec(ctx, releaseWebhookPath, string(kind), routeID); err != nil {
		return fmt.Errorf("release webhook path: %w", err)
	}
	if _, err := tx.Exec(ctx, claimWebhookPath, path, string(kind), routeID); err != nil {
		if pgCode(err) == codeUniqueViolation {
			return ErrWebhookPathTaken
		}
		return fmt.Errorf("claim webhook path: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit webhook path: %w", err)
	}
	return nil
}

// UpdateSMSRouteConfig replaces the encrypted configuration blob of a client's SMS route.
func (p *Postgres) UpdateSMSRouteConfig(ctx context.Context, clientID, routeID int64, encrypted string) error {
	tag, err := p.pool.Exec(ctx, updateSMSRouteConfig, routeID, clientID, encrypted)
	if err != nil {
		return fmt.Errorf("update sms route config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.RouteNotFoundError{Kind: domain.RouteSMS, ID: routeID}
	}
	return nil
}
