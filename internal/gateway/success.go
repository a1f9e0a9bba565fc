package gateway

import (
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/example/message-gateway/internal/jsonpath"
)

// Evaluate applies a route's success rule to a decoded provider response.
//
//	""                 always successful
//	"status==ok"       dotted path compared as a string to the literal
//	"$.messages[0].id" JSON-path query, successful when it matches anything
//	"data.id"          dotted path, successful when the value is present
//
// For non-JSON responses a bare rule is treated as a substring to look for.
func Evaluate(response any, rule string) (ok bool) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return true
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if path, expected, found := strings.Cut(rule, "=="); found {
		v, present := jsonpath.Extract(response, strings.TrimSpace(path))
		if !present {
			return false
		}
		return jsonpath.String(v) == unquote(strings.TrimSpace(expected))
	}

	if strings.HasPrefix(rule, "$") {
		expr, err := jp.ParseString(rule)
		if err != nil {
			return false
		}
		return len(expr.Get(response)) > 0
	}

	if text, isText := response.(string); isText {
		return strings.Contains(text, rule)
	}
	_, present := jsonpath.Extract(response, rule)
	return present
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
