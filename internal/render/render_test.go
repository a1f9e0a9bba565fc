package render

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	data := map[string]any{
		"to":     "2348012345678",
		"text":   "Hi & <bye>",
		"apiKey": "k-1",
		"creds":  map[string]any{"user": "alice", "nested": map[string]any{"n": json.Number("3")}},
		"list":   []any{map[string]any{"n": "a"}, map[string]any{"n": "b"}},
		"tags":   []any{"x", "y"},
		"empty":  []any{},
		"on":     true,
		"off":    false,
		"zero":   json.Number("0"),
	}

	cases := []struct {
		name string
		tpl  string
		want string
	}{
		{"plain", "no tags here", "no tags here"},
		{"variable", "to={{to}}", "to=2348012345678"},
		{"no escaping", "{{text}}", "Hi & <bye>"},
		{"triple", "{{{text}}}", "Hi & <bye>"},
		{"ampersand", "{{& text}}", "Hi & <bye>"},
		{"spaces in tag", "{{ to }}", "2348012345678"},
		{"dotted", "{{creds.user}}/{{creds.nested.n}}", "alice/3"},
		{"missing", "[{{nope}}][{{creds.nope}}]", "[][]"},
		{"comment", "a{{! ignored }}b", "ab"},
		{"section truthy", "{{#on}}yes{{/on}}{{#off}}no{{/off}}", "yes"},
		{"section list", "{{#list}}{{n}},{{/list}}", "a,b,"},
		{"section implicit iterator", "{{#tags}}<{{.}}>{{/tags}}", "<x><y>"},
		{"section object scope", "{{#creds}}{{user}}:{{to}}{{/creds}}", "alice:2348012345678"},
		{"inverted empty", "{{^empty}}none{{/empty}}", "none"},
		{"inverted missing", "{{^missing}}none{{/missing}}", "none"},
		{"inverted present", "{{^on}}none{{/on}}", ""},
		{"zero is falsy", "{{#zero}}z{{/zero}}{{^zero}}nz{{/zero}}", "nz"},
		{"url helper", "q={{#urlEncode}}{{text}} ok{{/urlEncode}}", "q=Hi%20%26%20%3Cbye%3E%20ok"},
		{"base64 helper", "{{#base64Encode}}{{creds.user}}:pw{{/base64Encode}}", "YWxpY2U6cHc="},
		{"json helper", `{"m":{{#jsonStringify}}{{text}} "q"{{/jsonStringify}}}`, `{"m":"Hi & <bye> \"q\""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Render(tc.tpl, data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRenderHelpersNotReadFromData(t *testing.T) {
	data := map[string]any{"urlEncode": false, "v": "a b"}
	got, err := Render("{{#urlEncode}}{{v}}{{/urlEncode}}", data)
	require.NoError(t, err)
	assert.Equal(t, "a%20b", got)
}

func TestRenderDeterministic(t *testing.T) {
	data := map[string]any{"a": "1", "b": map[string]any{"c": "2"}}
	tpl := "{{a}}-{{b.c}}-{{#b}}{{c}}{{/b}}"
	first, err := Render(tpl, data)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Render(tpl, data)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestHelperEquivalence(t *testing.T) {
	for _, s := range []string{"", "plain", "a b&c=d/é", `quote " and \ backslash`} {
		data := map[string]any{"s": s}
		got, err := Render("{{#urlEncode}}{{s}}{{/urlEncode}}", data)
		require.NoError(t, err)
		assert.Equal(t, URLEncode(s), got)

		got, err = Render("{{#base64Encode}}{{s}}{{/base64Encode}}", data)
		require.NoError(t, err)
		assert.Equal(t, Base64Encode(s), got)

		got, err = Render("{{#jsonStringify}}{{s}}{{/jsonStringify}}", data)
		require.NoError(t, err)
		var back string
		require.NoError(t, json.Unmarshal([]byte(got), &back))
		assert.Equal(t, s, back)
	}
}

func TestRenderErrors(t *testing.T) {
	for _, tpl := range []string{
		"{{#a}}never closed",
		"{{#a}}x{{/b}}",
		"stray {{/a}}",
		"{{unterminated",
		"{{{triple}}",
		"{{}}",
		"{{> partial}}",
	} {
		t.Run(tpl, func(t *testing.T) {
			_, err := Render(tpl, nil)
			var te *TemplateError
			assert.True(t, errors.As(err, &te), "got %v", err)
		})
	}
}

func TestRenderJSON(t *testing.T) {
	v, err := RenderJSON(`{"Authorization":"Bearer {{token}}","n":{{n}}}`, map[string]any{"token": "t", "n": json.Number("2")})
	require.NoError(t, err)
	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Bearer t", obj["Authorization"])
	assert.Equal(t, json.Number("2"), obj["n"])

	_, err = RenderJSON(`{"broken": {{missing}}}`, nil)
	var te *TemplateError
	assert.True(t, errors.As(err, &te))
}
