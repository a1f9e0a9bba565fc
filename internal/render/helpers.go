package render

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
)

var helpers = map[string]func(string) string{
	"urlEncode":     URLEncode,
	"base64Encode":  Base64Encode,
	"jsonStringify": JSONStringify,
}

// URLEncode percent-encodes s for use as a query component; spaces become %20.
func URLEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func Base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// JSONStringify returns s as a quoted JSON string literal.
func JSONStringify(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}
