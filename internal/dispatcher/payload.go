package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/jsonpath"
	"github.com/example/message-gateway/internal/render"
)

const localLayout = "2006-01-02 15:04:05"

// parsePayload decodes the call into the generic value model. GET calls and
// form posts become flat objects.
func parsePayload(in Inbound) (any, error) {
	if strings.EqualFold(in.Method, http.MethodGet) {
		return flatten(in.Query), nil
	}
	ct := strings.ToLower(in.Headers.Get("Content-Type"))
	if strings.Contains(ct, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(in.Body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return flatten(values), nil
	}
	if len(bytes.TrimSpace(in.Body)) == 0 {
		return flatten(in.Query), nil
	}
	v, err := jsonpath.Parse(in.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v, nil
}

func flatten(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, vs := range values {
		switch len(vs) {
		case 0:
			out[k] = ""
		case 1:
			out[k] = vs[0]
		default:
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			out[k] = list
		}
	}
	return out
}

func extractTimestamp(payload any, path string, fallback time.Time) time.Time {
	if path == "" {
		return fallback
	}
	v, ok := jsonpath.Extract(payload, path)
	if !ok {
		return fallback
	}
	if ts, ok := ParseTimestamp(jsonpath.String(v)); ok {
		return ts
	}
	return fallback
}

// ParseTimestamp accepts RFC 3339, "YYYY-MM-DD HH:MM:SS" (UTC) and unix
// seconds or milliseconds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(localLayout, s); err == nil {
		return t.UTC(), true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		if n >= 1e11 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}

var defaultReply = []byte(`{"success":true,"message":"Webhook processed"}`)

func buildReply(cfg domain.WebhookConfig, payload any) (Reply, error) {
	status := cfg.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	if strings.TrimSpace(cfg.ResponseTemplate) == "" {
		return Reply{Status: status, ContentType: "application/json", Body: defaultReply}, nil
	}
	data, _ := payload.(map[string]any)
	out, err := render.Render(cfg.ResponseTemplate, data)
	if err != nil {
		return Reply{}, err
	}
	trimmed := strings.TrimSpace(out)
	ct := "text/plain"
	switch {
	case strings.HasPrefix(trimmed, "<?xml"):
		ct = "text/xml"
	case trimmed != "" && json.Valid([]byte(trimmed)):
		ct = "application/json"
	}
	return Reply{Status: status, ContentType: ct, Body: []byte(out)}, nil
}
