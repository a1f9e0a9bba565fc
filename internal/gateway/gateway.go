// Package gateway executes provider HTTP requests described by route templates.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/message-gateway/internal/common"
	"github.com/example/message-gateway/internal/jsonpath"
	"github.com/example/message-gateway/internal/render"
)

const (
	DefaultTimeout = 15 * time.Second
	maxResponse    = 1 << 20
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Outbound provider requests by method and outcome",
	}, []string{"method", "outcome"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Outbound provider request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// Request describes one templated provider call.
type Request struct {
	URLTemplate     string
	Method          string
	HeadersTemplate string
	BodyTemplate    string
	ContentType     string
	Context         map[string]any
	Timeout         time.Duration
}

// Error is returned for transport failures and non-2xx provider responses.
type Error struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("gateway request failed: %v", e.Err)
	case len(e.Body) > 0:
		return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, truncate(e.Body, 256))
	default:
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Response decodes the provider body carried by the error, if any.
func (e *Error) Response() any {
	if len(e.Body) == 0 {
		return nil
	}
	return DecodeResponse(e.Body)
}

type Gateway struct {
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// New returns a gateway. A nil client uses http.DefaultClient; a zero timeout uses DefaultTimeout.
func New(client *http.Client, timeout time.Duration, logger zerolog.Logger) *Gateway {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{client: client, timeout: timeout, logger: logger.With().Str("component", "gateway").Logger()}
}

// Send renders req and performs the call, returning the raw response body on 2xx.
func (g *Gateway) Send(ctx context.Context, req Request) ([]byte, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}

	ctx, span := otel.Tracer("gateway").Start(ctx, "gateway.send")
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method))

	httpReq, err := g.build(ctx, method, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		requestsTotal.WithLabelValues(method, "invalid").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.String("http.host", httpReq.URL.Host))

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	httpReq = httpReq.WithContext(callCtx)

	log := common.WithContext(ctx, g.logger)
	start := time.Now()
	resp, err := g.client.Do(httpReq)
	requestLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		requestsTotal.WithLabelValues(method, "transport_error").Inc()
		log.Warn().Err(err).Str("host", httpReq.URL.Host).Msg("provider request failed")
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		requestsTotal.WithLabelValues(method, "transport_error").Inc()
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	log.Debug().Str("host", httpReq.URL.Host).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("provider responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		requestsTotal.WithLabelValues(method, "http_error").Inc()
		return nil, &Error{StatusCode: resp.StatusCode, Body: body}
	}
	requestsTotal.WithLabelValues(method, "ok").Inc()
	return body, nil
}

func (g *Gateway) build(ctx context.Context, method string, req Request) (*http.Request, error) {
	rawURL, err := render.Render(req.URLTemplate, req.Context)
	if err != nil {
		return nil, fmt.Errorf("render url: %w", err)
	}
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &render.TemplateError{Reason: fmt.Sprintf("rendered url %q is not absolute", rawURL), Offset: -1, Err: err}
	}

	headers := map[string]string{}
	if strings.TrimSpace(req.HeadersTemplate) != "" {
		v, err := render.RenderJSON(req.HeadersTemplate, req.Context)
		if err != nil {
			return nil, fmt.Errorf("render headers: %w", err)
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, &render.TemplateError{Reason: "headers template must produce a JSON object", Offset: -1}
		}
		for k, val := range obj {
			headers[k] = jsonpath.String(val)
		}
	}

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead && strings.TrimSpace(req.BodyTemplate) != "" {
		rendered, err := render.Render(req.BodyTemplate, req.Context)
		if err != nil {
			return nil, fmt.Errorf("render body: %w", err)
		}
		if strings.Contains(strings.ToLower(req.ContentType), "json") {
			var buf bytes.Buffer
			if err := json.Compact(&buf, []byte(rendered)); err != nil {
				return nil, &render.TemplateError{Reason: "rendered body is not valid JSON", Offset: -1, Err: err}
			}
			body = &buf
		} else {
			body = strings.NewReader(rendered)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	return httpReq, nil
}

// DecodeResponse parses a provider body as JSON, falling back to the raw text.
func DecodeResponse(body []byte) any {
	if v, err := jsonpath.Parse(body); err == nil {
		return v
	}
	return string(body)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
