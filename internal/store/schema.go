package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS whatsapp_credentials (
		id                   BIGSERIAL PRIMARY KEY,
		provider             TEXT NOT NULL DEFAULT 'meta',
		business_id          TEXT NOT NULL DEFAULT '',
		encrypted_config     TEXT NOT NULL DEFAULT '',
		request_url_template TEXT NOT NULL DEFAULT '',
		headers_template     TEXT NOT NULL DEFAULT '',
		body_template        TEXT NOT NULL DEFAULT '',
		content_type         TEXT NOT NULL DEFAULT '',
		success_match        TEXT NOT NULL DEFAULT '',
		message_id_path      TEXT NOT NULL DEFAULT '',
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sms_routes (
		id                   BIGSERIAL PRIMARY KEY,
		client_id            BIGINT NOT NULL,
		provider             TEXT NOT NULL,
		name                 TEXT NOT NULL,
		encrypted_config     TEXT NOT NULL DEFAULT '',
		request_url_template TEXT NOT NULL,
		request_method       TEXT NOT NULL DEFAULT 'POST',
		headers_template     TEXT NOT NULL DEFAULT '',
		body_template        TEXT NOT NULL DEFAULT '',
		content_type         TEXT NOT NULL DEFAULT 'application/json',
		success_match        TEXT NOT NULL DEFAULT '',
		message_id_path      TEXT NOT NULL DEFAULT '',
		webhook_path         TEXT UNIQUE,
		webhook_enabled      BOOLEAN NOT NULL DEFAULT false,
		sender_id            TEXT NOT NULL DEFAULT '',
		is_default           BOOLEAN NOT NULL DEFAULT false,
		status               TEXT NOT NULL DEFAULT 'active',
		usage_count          BIGINT NOT NULL DEFAULT 0,
		last_used_at         TIMESTAMPTZ,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS whatsapp_routes (
		id               BIGSERIAL PRIMARY KEY,
		client_id        BIGINT NOT NULL,
		name             TEXT NOT NULL,
		meta_phone_id    TEXT NOT NULL DEFAULT '',
		phone_number     TEXT NOT NULL DEFAULT '',
		sender_name      TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT 'active',
		is_default       BOOLEAN NOT NULL DEFAULT false,
		webhook_path     TEXT UNIQUE,
		encrypted_config TEXT NOT NULL DEFAULT '',
		credential_id    BIGINT NOT NULL REFERENCES whatsapp_credentials(id),
		usage_count      BIGINT NOT NULL DEFAULT 0,
		last_used_at     TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_paths (
		path     TEXT PRIMARY KEY,
		kind     TEXT NOT NULL CHECK (kind IN ('sms', 'whatsapp')),
		route_id BIGINT NOT NULL,
		UNIQUE (kind, route_id)
	)`,
	`INSERT INTO webhook_paths (path, kind, route_id)
	SELECT webhook_path, 'sms', id FROM sms_routes WHERE webhook_path IS NOT NULL
	ON CONFLICT DO NOTHING`,
	`INSERT INTO webhook_paths (path, kind, route_id)
	SELECT webhook_path, 'whatsapp', id FROM whatsapp_routes WHERE webhook_path IS NOT NULL
	ON CONFLICT DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS channels (
		id                BIGSERIAL PRIMARY KEY,
		client_id         BIGINT NOT NULL,
		name              TEXT NOT NULL,
		route_type        TEXT NOT NULL CHECK (route_type IN ('sms', 'whatsapp', 'email')),
		monetization_type TEXT NOT NULL DEFAULT 'free',
		status            TEXT NOT NULL DEFAULT 'active',
		sms_route_id      BIGINT REFERENCES sms_routes(id),
		whatsapp_route_id BIGINT REFERENCES whatsapp_routes(id),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS subscribers (
		id                BIGSERIAL PRIMARY KEY,
		name              TEXT NOT NULL DEFAULT '',
		phone             TEXT NOT NULL,
		subscription_type TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'pending',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id            BIGSERIAL PRIMARY KEY,
		subscriber_id BIGINT NOT NULL REFERENCES subscribers(id),
		channel_id    BIGINT NOT NULL REFERENCES channels(id),
		status        TEXT NOT NULL DEFAULT 'pending',
		UNIQUE (subscriber_id, channel_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id                  BIGSERIAL PRIMARY KEY,
		client_id           BIGINT NOT NULL,
		channel_id          BIGINT NOT NULL REFERENCES channels(id),
		direction           TEXT NOT NULL DEFAULT 'outbound',
		type                TEXT NOT NULL DEFAULT 'broadcast',
		content             TEXT NOT NULL DEFAULT '',
		content_type        TEXT NOT NULL DEFAULT 'text',
		status              TEXT NOT NULL DEFAULT 'queue',
		scheduled_at        TIMESTAMPTZ,
		sent_count          INT NOT NULL DEFAULT 0,
		failed_count        INT NOT NULL DEFAULT 0,
		template_name       TEXT NOT NULL DEFAULT '',
		template_language   TEXT NOT NULL DEFAULT '',
		template_components JSONB,
		media_url           TEXT NOT NULL DEFAULT '',
		media_id            TEXT NOT NULL DEFAULT '',
		media_caption       TEXT NOT NULL DEFAULT '',
		media_filename      TEXT NOT NULL DEFAULT '',
		latitude            DOUBLE PRECISION,
		longitude           DOUBLE PRECISION,
		location_name       TEXT NOT NULL DEFAULT '',
		location_address    TEXT NOT NULL DEFAULT '',
		interactive         JSONB,
		retry_count         INT NOT NULL DEFAULT 0,
		last_error          TEXT NOT NULL DEFAULT '',
		last_retry_at       TIMESTAMPTZ,
		responses           JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_due_idx ON messages (created_at, id) WHERE status = 'queue'`,
	`CREATE INDEX IF NOT EXISTS subscriptions_channel_idx ON subscriptions (channel_id)`,
}
