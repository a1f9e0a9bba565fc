package sms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/gateway"
	"github.com/example/message-gateway/internal/vault"
)

const secret = "data-key"

type memRoutes struct {
	mu      sync.Mutex
	routes  map[int64]*domain.SMSRoute
	touched map[int64]int
}

func (m *memRoutes) GetSMSRoute(_ context.Context, id int64) (*domain.SMSRoute, error) {
	r, ok := m.routes[id]
	if !ok {
		return nil, &domain.RouteNotFoundError{Kind: domain.RouteSMS, ID: id}
	}
	return r, nil
}

func (m *memRoutes) TouchSMSRoute(_ context.Context, id int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id]++
	return nil
}

func newRoutes(t *testing.T, route *domain.SMSRoute, creds map[string]any) *memRoutes {
	t.Helper()
	blob, err := vault.EncodeRouteConfig(domain.RouteConfig{Credentials: creds}, secret)
	require.NoError(t, err)
	route.EncryptedConfig = blob
	return &memRoutes{routes: map[int64]*domain.SMSRoute{route.ID: route}, touched: map[int64]int{}}
}

func TestSendGetRouteEndToEnd(t *testing.T) {
	var gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		_, _ = w.Write([]byte(`{"status":"ok","message_id":"prov-77"}`))
	}))
	defer srv.Close()

	routes := newRoutes(t, &domain.SMSRoute{
		ID:                 1,
		Provider:           "example",
		Status:             domain.RouteActive,
		RequestURLTemplate: "{{baseUrl}}/send?to={{to}}&text={{text}}",
		RequestMethod:      "GET",
		SuccessMatch:       "status==ok",
		MessageIDPath:      "message_id",
	}, map[string]any{"baseUrl": srv.URL})

	s := NewSender(routes, gateway.New(srv.Client(), 0, zerolog.Nop()), secret, zerolog.Nop())
	res, err := s.Send(context.Background(), 1, Payload{To: "2348012345678", Text: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "/send?to=2348012345678&text=Hi", gotURI)
	assert.True(t, res.Success)
	assert.Equal(t, "prov-77", res.ProviderMessageID)
	assert.Equal(t, 1, routes.touched[1])
}

func TestSendSuccessRuleMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error"}`))
	}))
	defer srv.Close()

	routes := newRoutes(t, &domain.SMSRoute{
		ID: 2, Status: domain.RouteActive, RequestURLTemplate: srv.URL, RequestMethod: "POST", SuccessMatch: "status==ok",
	}, nil)
	s := NewSender(routes, gateway.New(srv.Client(), 0, zerolog.Nop()), secret, zerolog.Nop())

	res, err := s.Send(context.Background(), 2, Payload{To: "1", Text: "x"})
	assert.ErrorIs(t, err, domain.ErrProviderRejected)
	assert.False(t, res.Success)
	assert.Equal(t, 1, routes.touched[2])
}

func TestSendProviderErrorStillCountsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	routes := newRoutes(t, &domain.SMSRoute{ID: 3, Status: domain.RouteActive, RequestURLTemplate: srv.URL, RequestMethod: "POST"}, nil)
	s := NewSender(routes, gateway.New(srv.Client(), 0, zerolog.Nop()), secret, zerolog.Nop())

	res, err := s.Send(context.Background(), 3, Payload{To: "1", Text: "x"})
	var gerr *gateway.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusUnauthorized, gerr.StatusCode)
	assert.NotNil(t, res.Response)
	assert.Equal(t, 1, routes.touched[3])
}

func TestSendRouteErrors(t *testing.T) {
	routes := newRoutes(t, &domain.SMSRoute{ID: 4, Status: domain.RouteInactive}, nil)
	s := NewSender(routes, gateway.New(nil, 0, zerolog.Nop()), secret, zerolog.Nop())

	_, err := s.Send(context.Background(), 4, Payload{})
	assert.ErrorIs(t, err, domain.ErrRouteInactive)

	_, err = s.Send(context.Background(), 99, Payload{})
	var nf *domain.RouteNotFoundError
	assert.True(t, errors.As(err, &nf))

	routes.routes[4].Status = domain.RouteActive
	routes.routes[4].EncryptedConfig = "tampered"
	_, err = s.Send(context.Background(), 4, Payload{})
	var de *vault.DecryptionError
	assert.True(t, errors.As(err, &de))
	assert.Zero(t, routes.touched[4])
}

func TestBuildContext(t *testing.T) {
	route := &domain.SMSRoute{SenderID: "ACME"}
	creds := map[string]any{"apiKey": "k", "accountSid": "AC1", "authToken": "tok", "to": "overridden"}

	ctx := BuildContext(creds, route, Payload{To: "+1", Text: "hi"})
	assert.Equal(t, "k", ctx["apiKey"])
	assert.Equal(t, "+1", ctx["to"])
	assert.Equal(t, "hi", ctx["text"])
	assert.Equal(t, "ACME", ctx["from"])
	assert.Equal(t, "QUMxOnRvaw==", ctx["basicAuthBase64"])

	ctx = BuildContext(nil, &domain.SMSRoute{}, Payload{To: "+1"})
	assert.Equal(t, "CHANNEL", ctx["from"])
	assert.NotContains(t, ctx, "basicAuthBase64")

	ctx = BuildContext(map[string]any{"accountSid": "AC1"}, route, Payload{To: "+1"})
	assert.NotContains(t, ctx, "basicAuthBase64")
	ctx = BuildContext(map[string]any{"authToken": "tok"}, route, Payload{To: "+1"})
	assert.NotContains(t, ctx, "basicAuthBase64")

	ctx = BuildContext(nil, route, Payload{From: "ME"})
	assert.Equal(t, "ME", ctx["from"])
}
