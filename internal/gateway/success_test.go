package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	resp := DecodeResponse([]byte(`{
		"status": "ok",
		"code": 0,
		"data": {"id": "abc", "items": [{"ok": true}]},
		"messages": [{"id": "wamid.1"}],
		"nothing": null
	}`))

	cases := []struct {
		name string
		resp any
		rule string
		want bool
	}{
		{"empty rule", resp, "", true},
		{"empty rule on nil", nil, "  ", true},
		{"equals string", resp, "status==ok", true},
		{"equals with spaces", resp, "status == ok", true},
		{"equals quoted", resp, `status=="ok"`, true},
		{"equals number", resp, "code==0", true},
		{"equals mismatch", resp, "status==fail", false},
		{"equals missing path", resp, "missing==ok", false},
		{"equals nested", resp, "data.items[0].ok==true", true},
		{"presence", resp, "data.id", true},
		{"presence indexed", resp, "messages[0].id", true},
		{"presence missing", resp, "data.nope", false},
		{"presence null", resp, "nothing", false},
		{"jsonpath match", resp, "$.messages[0].id", true},
		{"jsonpath filter", resp, "$.data.items[?(@.ok == true)]", true},
		{"jsonpath no match", resp, "$.data.missing", false},
		{"jsonpath invalid", resp, "$[[[", false},
		{"text contains", "OK: 1 message queued", "queued", true},
		{"text missing", "ERR: rejected", "queued", false},
		{"text equals rule", "plain", "status==ok", false},
		{"nil response", nil, "data.id", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tc.want, Evaluate(tc.resp, tc.rule))
			})
		})
	}
}
