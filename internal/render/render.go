// Package render expands provider request templates written in a mustache subset.
//
// Supported tags: {{name}}, {{a.b}}, {{{name}}}, {{&name}}, {{! comment }},
// sections {{#name}}...{{/name}} and inverted sections {{^name}}...{{/name}}.
// Values are inserted verbatim; missing values render as "". The section names
// urlEncode, base64Encode and jsonStringify are helpers owned by the renderer:
// the enclosed text is rendered first and then transformed.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/message-gateway/internal/jsonpath"
)

// TemplateError reports a template that cannot be parsed or whose output is unusable.
type TemplateError struct {
	Reason string
	Offset int
	Err    error
}

func (e *TemplateError) Error() string {
	msg := "template: " + e.Reason
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s at offset %d", msg, e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TemplateError) Unwrap() error { return e.Err }

// Render expands tpl against data.
func Render(tpl string, data map[string]any) (string, error) {
	nodes, err := parse(tpl)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	execute(&sb, nodes, []any{data})
	return sb.String(), nil
}

// RenderJSON expands tpl and decodes the result as a JSON document.
func RenderJSON(tpl string, data map[string]any) (any, error) {
	out, err := Render(tpl, data)
	if err != nil {
		return nil, err
	}
	v, err := jsonpath.Parse([]byte(out))
	if err != nil {
		return nil, &TemplateError{Reason: "rendered output is not valid JSON", Offset: -1, Err: err}
	}
	return v, nil
}

type nodeKind int

const (
	textNode nodeKind = iota
	varNode
	sectionNode
	invertedNode
)

type node struct {
	kind     nodeKind
	text     string // literal text or tag name
	children []node
}

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

func parse(tpl string) ([]node, error) {
	type frame struct {
		n      node
		offset int
	}
	root := &frame{}
	stack := []*frame{root}
	top := func() *frame { return stack[len(stack)-1] }

	pos := 0
	for pos < len(tpl) {
		start := strings.Index(tpl[pos:], openDelim)
		if start < 0 {
			top().n.children = append(top().n.children, node{kind: textNode, text: tpl[pos:]})
			break
		}
		start += pos
		if start > pos {
			top().n.children = append(top().n.children, node{kind: textNode, text: tpl[pos:start]})
		}

		inner := start + len(openDelim)
		closer := closeDelim
		triple := strings.HasPrefix(tpl[inner:], "{")
		if triple {
			inner++
			closer = "}" + closeDelim
		}
		end := strings.Index(tpl[inner:], closer)
		if end < 0 {
			return nil, &TemplateError{Reason: "unclosed tag", Offset: start}
		}
		body := tpl[inner : inner+end]
		pos = inner + end + len(closer)

		if triple {
			name := strings.TrimSpace(body)
			if name == "" {
				return nil, &TemplateError{Reason: "empty tag", Offset: start}
			}
			top().n.children = append(top().n.children, node{kind: varNode, text: name})
			continue
		}

		trimmed := strings.TrimSpace(body)
		if trimmed == "" {
			return nil, &TemplateError{Reason: "empty tag", Offset: start}
		}
		sigil, name := trimmed[0], strings.TrimSpace(trimmed[1:])
		switch sigil {
		case '!':
		case '#', '^':
			if name == "" {
				return nil, &TemplateError{Reason: "section without name", Offset: start}
			}
			kind := sectionNode
			if sigil == '^' {
				kind = invertedNode
			}
			stack = append(stack, &frame{n: node{kind: kind, text: name}, offset: start})
		case '/':
			if len(stack) == 1 {
				return nil, &TemplateError{Reason: fmt.Sprintf("unexpected closing tag %q", name), Offset: start}
			}
			open := top()
			if open.n.text != name {
				return nil, &TemplateError{Reason: fmt.Sprintf("section %q closed by %q", open.n.text, name), Offset: start}
			}
			stack = stack[:len(stack)-1]
			top().n.children = append(top().n.children, open.n)
		case '&':
			if name == "" {
				return nil, &TemplateError{Reason: "empty tag", Offset: start}
			}
			top().n.children = append(top().n.children, node{kind: varNode, text: name})
		case '>', '=':
			return nil, &TemplateError{Reason: fmt.Sprintf("unsupported tag %q", string(sigil)), Offset: start}
		default:
			top().n.children = append(top().n.children, node{kind: varNode, text: trimmed})
		}
	}

	if len(stack) > 1 {
		open := top()
		return nil, &TemplateError{Reason: fmt.Sprintf("unclosed section %q", open.n.text), Offset: open.offset}
	}
	return root.n.children, nil
}

func execute(sb *strings.Builder, nodes []node, stack []any) {
	for _, n := range nodes {
		switch n.kind {
		case textNode:
			sb.WriteString(n.text)
		case varNode:
			v, _ := lookup(stack, n.text)
			sb.WriteString(jsonpath.String(v))
		case sectionNode:
			if h, ok := helpers[n.text]; ok {
				var inner strings.Builder
				execute(&inner, n.children, stack)
				sb.WriteString(h(inner.String()))
				continue
			}
			v, _ := lookup(stack, n.text)
			if !truthy(v) {
				continue
			}
			if list, ok := v.([]any); ok {
				for _, item := range list {
					execute(sb, n.children, append(stack, item))
				}
				continue
			}
			execute(sb, n.children, append(stack, v))
		case invertedNode:
			v, _ := lookup(stack, n.text)
			if !truthy(v) {
				execute(sb, n.children, stack)
			}
		}
	}
}

// lookup resolves the first segment of name against the context stack, innermost
// first, then walks the remaining segments strictly inside that value.
func lookup(stack []any, name string) (any, bool) {
	if name == "." {
		return stack[len(stack)-1], true
	}
	head, rest, _ := strings.Cut(name, ".")
	for i := len(stack) - 1; i >= 0; i-- {
		v, ok := member(stack[i], head)
		if !ok {
			continue
		}
		if rest == "" {
			return v, true
		}
		return jsonpath.Extract(v, rest)
	}
	return nil, false
}

func member(v any, key string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		out, ok := t[key]
		return out, ok
	case map[string]string:
		out, ok := t[key]
		return out, ok
	}
	return nil, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	}
	return true
}
