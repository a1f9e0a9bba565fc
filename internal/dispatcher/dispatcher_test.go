package dispatcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/signature"
	"github.com/example/message-gateway/internal/vault"
)

const testSecret = "data-key"

type fakeRoutes map[string]*domain.WebhookRoute

func (f fakeRoutes) ResolveWebhookRoute(_ context.Context, path string) (*domain.WebhookRoute, error) {
	r, ok := f[path]
	if !ok {
		return nil, &domain.RouteNotFoundError{Path: path}
	}
	return r, nil
}

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T, wh domain.WebhookConfig) *Dispatcher {
	t.Helper()
	blob, err := vault.EncodeRouteConfig(domain.RouteConfig{Credentials: map[string]any{"apiKey": "k"}, Webhook: wh}, testSecret)
	require.NoError(t, err)
	routes := fakeRoutes{
		"/webhooks/sms/abc": {ID: 11, Kind: domain.RouteSMS, ClientID: 1, Provider: "termii", SenderID: "ACME", EncryptedConfig: blob},
	}
	d := New(routes, Config{Secret: testSecret, VerifyToken: "global-token"}, zerolog.Nop())
	d.now = func() time.Time { return fixedNow }
	return d
}

func smsWebhook() domain.WebhookConfig {
	return domain.WebhookConfig{
		Enabled: true,
		IncomingMessage: domain.IncomingMessageConfig{
			Enabled:       true,
			FromPath:      "from",
			MessagePath:   "text",
			MessageIDPath: "id",
			TimestampPath: "ts",
		},
		DeliveryReport: domain.DeliveryReportConfig{
			Enabled:       true,
			MessageIDPath: "data.message_id",
			StatusPath:    "data.status",
			ErrorPath:     "data.error",
			StatusMapping: map[string]domain.DeliveryStatus{
				"DELIVRD":  domain.DeliveryDelivered,
				"UNDELIV":  domain.DeliveryFailed,
				"ACCEPTED": domain.DeliveryPending,
			},
		},
	}
}

func jsonInbound(body string) Inbound {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return Inbound{Method: http.MethodPost, Path: "/webhooks/sms/abc", Headers: h, Body: []byte(body)}
}

func TestDispatchIncoming(t *testing.T) {
	d := newTestDispatcher(t, smsWebhook())
	res, err := d.Dispatch(context.Background(), jsonInbound(`{"from":"+2348000","text":"STOP","id":"in-1","ts":1700000000}`))
	require.NoError(t, err)
	require.Equal(t, KindIncoming, res.Kind)
	require.NotNil(t, res.Incoming)
	assert.Nil(t, res.Report)

	rec := res.Incoming
	assert.Equal(t, int64(11), rec.RouteID)
	assert.Equal(t, domain.RouteSMS, rec.RouteKind)
	assert.Equal(t, "termii", rec.Provider)
	assert.Equal(t, "+2348000", rec.From)
	assert.Equal(t, "ACME", rec.To)
	assert.Equal(t, "STOP", rec.Text)
	assert.Equal(t, "in-1", rec.MessageID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), rec.Timestamp)

	assert.Equal(t, http.StatusOK, res.Reply.Status)
	assert.Equal(t, "application/json", res.Reply.ContentType)
	assert.JSONEq(t, `{"success":true,"message":"Webhook processed"}`, string(res.Reply.Body))
}

func TestDispatchIncomingToPathAndDefaultTimestamp(t *testing.T) {
	wh := smsWebhook()
	wh.IncomingMessage.ToPath = "to"
	d := newTestDispatcher(t, wh)
	res, err := d.Dispatch(context.Background(), jsonInbound(`{"from":"+1","to":"+2","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "+2", res.Incoming.To)
	assert.Equal(t, fixedNow, res.Incoming.Timestamp)
	assert.Empty(t, res.Incoming.MessageID)
}

func TestDispatchClassification(t *testing.T) {
	cases := []struct {
		name       string
		wh         func() domain.WebhookConfig
		body       string
		wantKind   Kind
		wantStatus domain.DeliveryStatus
	}{
		{
			name:       "delivery report mapped",
			wh:         smsWebhook,
			body:       `{"data":{"message_id":"m-1","status":"DELIVRD"}}`,
			wantKind:   KindReport,
			wantStatus: domain.DeliveryDelivered,
		},
		{
			name:       "delivery report case insensitive mapping",
			wh:         smsWebhook,
			body:       `{"data":{"message_id":"m-1","status":"undeliv"}}`,
			wantKind:   KindReport,
			wantStatus: domain.DeliveryFailed,
		},
		{
			name:       "unmapped status becomes pending",
			wh:         smsWebhook,
			body:       `{"data":{"message_id":"m-1","status":"EXPIRED"}}`,
			wantKind:   KindReport,
			wantStatus: domain.DeliveryPending,
		},
		{
			name:     "empty from falls through to report",
			wh:       smsWebhook,
			body:     `{"from":"","text":"x","data":{"message_id":"m-2","status":"DELIVRD"}}`,
			wantKind: KindReport, wantStatus: domain.DeliveryDelivered,
		},
		{
			name:     "report without status is unclassified",
			wh:       smsWebhook,
			body:     `{"data":{"message_id":"m-1"}}`,
			wantKind: KindUnclassified,
		},
		{
			name: "nothing enabled",
			wh: func() domain.WebhookConfig {
				return domain.WebhookConfig{Enabled: true}
			},
			body:     `{"from":"+1","text":"hi"}`,
			wantKind: KindUnclassified,
		},
		{
			name: "incoming disabled",
			wh: func() domain.WebhookConfig {
				wh := smsWebhook()
				wh.IncomingMessage.Enabled = false
				wh.DeliveryReport.Enabled = false
				return wh
			},
			body:     `{"from":"+1","text":"hi"}`,
			wantKind: KindUnclassified,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDispatcher(t, tc.wh())
			res, err := d.Dispatch(context.Background(), jsonInbound(tc.body))
			require.NotNil(t, res)
			assert.Equal(t, tc.wantKind, res.Kind)
			assert.Equal(t, http.StatusOK, res.Reply.Status)
			switch tc.wantKind {
			case KindUnclassified:
				assert.ErrorIs(t, err, ErrUnclassified)
				assert.Nil(t, res.Incoming)
				assert.Nil(t, res.Report)
			case KindReport:
				require.NoError(t, err)
				require.NotNil(t, res.Report)
				assert.Equal(t, tc.wantStatus, res.Report.Status)
				assert.NotEmpty(t, res.Report.ProviderStatus)
			}
		})
	}
}

func TestDispatchReportFields(t *testing.T) {
	wh := smsWebhook()
	wh.DeliveryReport.ExternalIDPath = "data.ref"
	wh.DeliveryReport.TimestampPath = "data.done"
	d := newTestDispatcher(t, wh)

	res, err := d.Dispatch(context.Background(), jsonInbound(
		`{"data":{"message_id":"m-9","status":"UNDELIV","error":"absent subscriber","ref":"r-1","done":"2024-02-29 23:59:00"}}`))
	require.NoError(t, err)
	r := res.Report
	assert.Equal(t, "m-9", r.MessageID)
	assert.Equal(t, "r-1", r.ExternalID)
	assert.Equal(t, "absent subscriber", r.Error)
	assert.Equal(t, "UNDELIV", r.ProviderStatus)
	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC), r.Timestamp)
}

func TestDispatchFormAndQueryPayloads(t *testing.T) {
	d := newTestDispatcher(t, smsWebhook())

	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	res, err := d.Dispatch(context.Background(), Inbound{
		Method: http.MethodPost, Path: "/webhooks/sms/abc", Headers: h,
		Body: []byte("from=%2B15550001&text=hello+there"),
	})
	require.NoError(t, err)
	assert.Equal(t, "+15550001", res.Incoming.From)
	assert.Equal(t, "hello there", res.Incoming.Text)

	q, _ := url.ParseQuery("from=%2B1&text=via+get")
	res, err = d.Dispatch(context.Background(), Inbound{Method: http.MethodGet, Path: "/webhooks/sms/abc", Headers: http.Header{}, Query: q})
	require.NoError(t, err)
	assert.Equal(t, "via get", res.Incoming.Text)
}

func TestDispatchInvalidJSON(t *testing.T) {
	d := newTestDispatcher(t, smsWebhook())
	_, err := d.Dispatch(context.Background(), jsonInbound(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDispatchRouteNotFound(t *testing.T) {
	d := newTestDispatcher(t, smsWebhook())
	in := jsonInbound(`{}`)
	in.Path = "/webhooks/sms/unknown"
	_, err := d.Dispatch(context.Background(), in)
	var nf *domain.RouteNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestDispatchSignature(t *testing.T) {
	wh := smsWebhook()
	wh.SignatureValidation = domain.SignatureConfig{
		Enabled: true, HeaderName: "X-Signature", Algorithm: "sha256", Prefix: "sha256=", SecretKey: "whsec",
	}
	d := newTestDispatcher(t, wh)
	body := `{"from":"+1","text":"signed"}`

	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write([]byte(body))
	in := jsonInbound(body)
	in.Headers.Set("X-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))

	res, err := d.Dispatch(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "signed", res.Incoming.Text)

	tampered := jsonInbound(`{"from":"+1","text":"forged"}`)
	tampered.Headers.Set("X-Signature", in.Headers.Get("X-Signature"))
	_, err = d.Dispatch(context.Background(), tampered)
	var se *signature.SignatureValidationError
	assert.True(t, errors.As(err, &se))

	_, err = d.Dispatch(context.Background(), jsonInbound(body))
	assert.True(t, errors.As(err, &se))
}

func TestDispatchReplyTemplates(t *testing.T) {
	cases := []struct {
		tpl    string
		status int
		wantCT string
		want   string
	}{
		{`<?xml version="1.0"?><Response><Message>Got {{text}}</Message></Response>`, 0, "text/xml", `<?xml version="1.0"?><Response><Message>Got hi</Message></Response>`},
		{`{"received":"{{from}}"}`, 202, "application/json", `{"received":"+1"}`},
		{`OK {{from}}`, 0, "text/plain", `OK +1`},
	}
	for _, tc := range cases {
		wh := smsWebhook()
		wh.ResponseTemplate = tc.tpl
		wh.ResponseStatus = tc.status
		d := newTestDispatcher(t, wh)
		res, err := d.Dispatch(context.Background(), jsonInbound(`{"from":"+1","text":"hi"}`))
		require.NoError(t, err)
		assert.Equal(t, tc.wantCT, res.Reply.ContentType)
		assert.Equal(t, tc.want, string(res.Reply.Body))
		if tc.status == 0 {
			assert.Equal(t, http.StatusOK, res.Reply.Status)
		} else {
			assert.Equal(t, tc.status, res.Reply.Status)
		}
	}
}

func TestDispatchReplyTemplateError(t *testing.T) {
	wh := smsWebhook()
	wh.ResponseTemplate = "{{#open}}"
	d := newTestDispatcher(t, wh)
	_, err := d.Dispatch(context.Background(), jsonInbound(`{"from":"+1","text":"hi"}`))
	assert.Error(t, err)
}

func TestDispatchCorruptConfig(t *testing.T) {
	routes := fakeRoutes{"/webhooks/sms/abc": {ID: 1, Kind: domain.RouteSMS, EncryptedConfig: "garbage"}}
	d := New(routes, Config{Secret: testSecret}, zerolog.Nop())
	_, err := d.Dispatch(context.Background(), jsonInbound(`{}`))
	var de *vault.DecryptionError
	assert.True(t, errors.As(err, &de))
}

func TestVerify(t *testing.T) {
	wh := smsWebhook()
	wh.VerifyToken = "route-token"
	d := newTestDispatcher(t, wh)
	ctx := context.Background()

	got, err := d.Verify(ctx, "/webhooks/sms/abc", "subscribe", "route-token", "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", got)

	got, err = d.Verify(ctx, "/webhooks/sms/abc", "subscribe", "global-token", "c-2")
	require.NoError(t, err)
	assert.Equal(t, "c-2", got)

	_, err = d.Verify(ctx, "/webhooks/sms/abc", "subscribe", "wrong", "c")
	assert.ErrorIs(t, err, ErrVerifyFailed)

	_, err = d.Verify(ctx, "/webhooks/sms/abc", "unsubscribe", "route-token", "c")
	assert.ErrorIs(t, err, ErrVerifyFailed)

	_, err = d.Verify(ctx, "/webhooks/sms/nope", "subscribe", "route-token", "c")
	var nf *domain.RouteNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"2024-01-02T03:04:05Z":      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"2024-01-02T03:04:05+01:00": time.Date(2024, 1, 2, 2, 4, 5, 0, time.UTC),
		"2024-01-02 03:04:05":       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"1700000000":                time.Unix(1700000000, 0).UTC(),
		"1700000000123":             time.UnixMilli(1700000000123).UTC(),
	}
	for in, want := range cases {
		got, ok := ParseTimestamp(in)
		if !ok || !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%s)=%v,%v expected %v", in, got, ok, want)
		}
	}
	for _, bad := range []string{"", "yesterday", "-5"} {
		if _, ok := ParseTimestamp(bad); ok {
			t.Fatalf("ParseTimestamp(%q) should fail", bad)
		}
	}
}
