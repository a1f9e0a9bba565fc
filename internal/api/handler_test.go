package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/gateway"
	"github.com/example/message-gateway/internal/sms"
	"github.com/example/message-gateway/internal/store"
	"github.com/example/message-gateway/internal/vault"
	"github.com/example/message-gateway/internal/whatsapp"
)

const testSecret = "api-test-secret"

type fakeRoutes struct {
	sms      map[int64]*domain.SMSRoute
	wa       map[int64]*domain.WhatsAppRoute
	paths    map[string]bool
	setPath  string
	configs  map[int64]string
	setError error
}

func newFakeRoutes() *fakeRoutes {
	return &fakeRoutes{
		sms:     map[int64]*domain.SMSRoute{},
		wa:      map[int64]*domain.WhatsAppRoute{},
		paths:   map[string]bool{},
		configs: map[int64]string{},
	}
}

func (f *fakeRoutes) GetSMSRoute(ctx context.Context, id int64) (*domain.SMSRoute, error) {
	if r, ok := f.sms[id]; ok {
		return r, nil
	}
	return nil, &domain.RouteNotFoundError{Kind: domain.RouteSMS, ID: id}
}

func (f *fakeRoutes) GetWhatsAppRoute(ctx context.Context, id int64) (*domain.WhatsAppRoute, error) {
	if r, ok := f.wa[id]; ok {
		return r, nil
	}
	return nil, &domain.RouteNotFoundError{Kind: domain.RouteWhatsApp, ID: id}
}

func (f *fakeRoutes) SetWebhookPath(ctx context.Context, kind domain.RouteType, clientID, routeID int64, path string) error {
	if f.setError != nil {
		return f.setError
	}
	if f.paths[path] {
		return store.ErrWebhookPathTaken
	}
	f.paths[path] = true
	f.setPath = path
	return nil
}

func (f *fakeRoutes) UpdateSMSRouteConfig(ctx context.Context, clientID, routeID int64, encrypted string) error {
	f.configs[routeID] = encrypted
	return nil
}

type fakeSMS struct {
	res domain.SendResult
	err error
	got sms.Payload
}

func (f *fakeSMS) Send(ctx context.Context, routeID int64, p sms.Payload) (domain.SendResult, error) {
	f.got = p
	return f.res, f.err
}

type fakeWhatsApp struct {
	content whatsapp.Content
}

func (f *fakeWhatsApp) Send(ctx context.Context, routeID int64, to string, c whatsapp.Content) (domain.SendResult, error) {
	f.content = c
	return domain.SendResult{Success: true, ProviderMessageID: "wamid.1"}, nil
}

type fakeInvalidator struct {
	paths []string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, path string) error {
	f.paths = append(f.paths, path)
	return nil
}

func do(t *testing.T, h http.Handler, method, target, client, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if client != "" {
		req.Header.Set(clientIDHeader, client)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTestSMS(t *testing.T) {
	routes := newFakeRoutes()
	routes.sms[4] = &domain.SMSRoute{ID: 4, ClientID: 10, Status: domain.RouteActive}
	sender := &fakeSMS{res: domain.SendResult{Success: true, ProviderMessageID: "abc", Response: map[string]any{"status": "ok"}}}
	h := NewHandler(routes, sender, &fakeWhatsApp{}, nil, nil, Config{Secret: testSecret}, zerolog.Nop()).Router()

	rec := do(t, h, http.MethodPost, "/v1/routes/sms/4/test", "10", `{"to":"2348012345678","text":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "abc", body["providerMessageId"])
	assert.Equal(t, "Hi", sender.got.Text)

	t.Run("other client", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/routes/sms/4/test", "11", `{"to":"2348012345678","text":"Hi"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("missing client header", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/routes/sms/4/test", "", `{"to":"2348012345678","text":"Hi"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	t.Run("invalid phone", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/v1/routes/sms/4/test", "10", `{"to":"not-a-phone","text":"Hi"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "phone")
	})
}

func TestTestSMSProviderOutcomes(t *testing.T) {
	routes := newFakeRoutes()
	routes.sms[4] = &domain.SMSRoute{ID: 4, ClientID: 10, Status: domain.RouteActive}

	cases := []struct {
		name string
		res  domain.SendResult
		err  error
		want int
	}{
		{"rejected", domain.SendResult{Response: map[string]any{"status": "error"}}, domain.ErrProviderRejected, http.StatusOK},
		{"http error", domain.SendResult{Response: "bad"}, &gateway.Error{StatusCode: 500, Body: []byte("bad")}, http.StatusBadGateway},
		{"inactive", domain.SendResult{}, domain.ErrRouteInactive, http.StatusConflict},
		{"decrypt", domain.SendResult{}, &vault.DecryptionError{Reason: "auth"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(routes, &fakeSMS{res: tc.res, err: tc.err}, &fakeWhatsApp{}, nil, nil, Config{}, zerolog.Nop()).Router()
			rec := do(t, h, http.MethodPost, "/v1/routes/sms/4/test", "10", `{"to":"+2348012345678","text":"Hi"}`)
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, false, decodeBody(t, rec)["success"])
		})
	}
}

func TestTestWhatsApp(t *testing.T) {
	routes := newFakeRoutes()
	routes.wa[2] = &domain.WhatsAppRoute{ID: 2, ClientID: 10, Status: domain.RouteActive}
	wa := &fakeWhatsApp{}
	h := NewHandler(routes, &fakeSMS{}, wa, nil, nil, Config{}, zerolog.Nop()).Router()

	rec := do(t, h, http.MethodPost, "/v1/routes/whatsapp/2/test", "10",
		`{"to":"2348012345678","type":"image","mediaUrl":"https://cdn.example.com/a.png","caption":"look"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	img, ok := wa.content.(whatsapp.Image)
	require.True(t, ok)
	assert.Equal(t, "look", img.Caption)

	rec = do(t, h, http.MethodPost, "/v1/routes/whatsapp/2/test", "10", `{"to":"2348012345678","type":"image"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "media without link or id is rejected before sending")
}

func TestIssueWebhookPath(t *testing.T) {
	routes := newFakeRoutes()
	routes.sms[4] = &domain.SMSRoute{ID: 4, ClientID: 10, WebhookPath: "/webhooks/sms/old"}
	cache := &fakeInvalidator{}
	h := NewHandler(routes, &fakeSMS{}, &fakeWhatsApp{}, cache, nil, Config{WebhookBaseURL: "https://hooks.example.com/"}, zerolog.Nop()).Router()

	rec := do(t, h, http.MethodPost, "/v1/routes/sms/4/webhook", "10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	path, _ := body["webhookPath"].(string)
	assert.True(t, strings.HasPrefix(path, "/webhooks/sms/"))
	assert.Equal(t, "https://hooks.example.com"+path, body["webhookUrl"])
	assert.Equal(t, []string{"/webhooks/sms/old", path}, cache.paths)

	rec = do(t, h, http.MethodPost, "/v1/routes/sms/4/webhook", "10", `{"customPath":"/webhooks/acme-dlr"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/webhooks/acme-dlr", routes.setPath)

	rec = do(t, h, http.MethodPost, "/v1/routes/sms/4/webhook", "10", `{"customPath":"/webhooks/acme-dlr"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/routes/sms/4/webhook", "10", `{"customPath":"/elsewhere"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/routes/email/4/webhook", "10", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueWebhookPathTakenByOtherKind(t *testing.T) {
	routes := newFakeRoutes()
	routes.sms[4] = &domain.SMSRoute{ID: 4, ClientID: 10}
	routes.wa[7] = &domain.WhatsAppRoute{ID: 7, ClientID: 11}
	cache := &fakeInvalidator{}
	h := NewHandler(routes, &fakeSMS{}, &fakeWhatsApp{}, cache, nil, Config{}, zerolog.Nop()).Router()

	rec := do(t, h, http.MethodPost, "/v1/routes/sms/4/webhook", "10", `{"customPath":"/webhooks/x"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/routes/whatsapp/7/webhook", "11", `{"customPath":"/webhooks/x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
	assert.Equal(t, "/webhooks/x", routes.setPath)
	assert.Equal(t, []string{"/webhooks/x"}, cache.paths, "a rejected path is not invalidated")
}

func TestRotateSMSCredentialsKeepsWebhookConfig(t *testing.T) {
	before := domain.RouteConfig{
		Credentials: map[string]any{"apiKey": "old"},
		Webhook:     domain.WebhookConfig{Enabled: true, VerifyToken: "vt"},
	}
	blob, err := vault.EncodeRouteConfig(before, testSecret)
	require.NoError(t, err)

	routes := newFakeRoutes()
	routes.sms[4] = &domain.SMSRoute{ID: 4, ClientID: 10, EncryptedConfig: blob, WebhookPath: "/webhooks/sms/x"}
	cache := &fakeInvalidator{}
	h := NewHandler(routes, &fakeSMS{}, &fakeWhatsApp{}, cache, nil, Config{Secret: testSecret}, zerolog.Nop()).Router()

	rec := do(t, h, http.MethodPut, "/v1/routes/sms/4/credentials", "10", `{"credentials":{"apiKey":"new"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	cfg, err := vault.DecodeRouteConfig(routes.configs[4], testSecret)
	require.NoError(t, err)
	assert.Equal(t, "new", cfg.Credentials["apiKey"])
	assert.Equal(t, "vt", cfg.Webhook.VerifyToken)
	assert.True(t, cfg.Webhook.Enabled)
	assert.Equal(t, []string{"/webhooks/sms/x"}, cache.paths)

	rec = do(t, h, http.MethodPut, "/v1/routes/sms/4/credentials", "10", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := NewHandler(newFakeRoutes(), &fakeSMS{}, &fakeWhatsApp{}, nil, func(context.Context) error { return nil }, Config{}, zerolog.Nop()).Router()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "").Code)

	h = NewHandler(newFakeRoutes(), &fakeSMS{}, &fakeWhatsApp{}, nil, func(context.Context) error { return errors.New("db down") }, Config{}, zerolog.Nop()).Router()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/healthz", "", "").Code)
}

func TestPhoneValidation(t *testing.T) {
	v := newValidator()
	type req struct {
		To string `validate:"phone"`
	}
	assert.NoError(t, v.Struct(req{To: "+2348012345678"}))
	assert.NoError(t, v.Struct(req{To: "2348012345678"}))
	assert.Error(t, v.Struct(req{To: "12345"}))
	assert.Error(t, v.Struct(req{To: "234-801-234"}))
}
