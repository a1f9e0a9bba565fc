// Package jsonpath reads values out of decoded JSON documents with dotted paths
// such as "data.messages[0].id".
package jsonpath

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Parse decodes a JSON document into the generic value model. Numbers are kept
// as json.Number so large provider ids survive untouched.
func Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}

// Extract resolves path against doc. Any missing step yields (nil, false).
// An empty path returns doc itself.
func Extract(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		name, idxs, ok := splitSegment(seg)
		if !ok {
			return nil, false
		}
		if name != "" {
			cur, ok = field(cur, name)
			if !ok {
				return nil, false
			}
		}
		for _, i := range idxs {
			cur, ok = index(cur, i)
			if !ok {
				return nil, false
			}
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Matches reports whether the value at path stringifies to the same text as expected.
func Matches(doc any, path string, expected any) bool {
	v, ok := Extract(doc, path)
	if !ok {
		return false
	}
	return String(v) == String(expected)
}

// String renders a leaf value the way providers send it: numbers without
// exponents, booleans as true/false, nil as the empty string. Objects and
// arrays are rendered as compact JSON.
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case fmt.Stringer:
		return t.String()
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

// splitSegment splits "items[0][1]" into "items" and [0 1].
func splitSegment(seg string) (string, []int, bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return seg, nil, seg != ""
	}
	name := seg[:open]
	rest := seg[open:]
	var idxs []int
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, false
		}
		n, err := strconv.Atoi(rest[1:end])
		if err != nil || n < 0 {
			return "", nil, false
		}
		idxs = append(idxs, n)
		rest = rest[end+1:]
	}
	return name, idxs, true
}

func field(v any, name string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		out, ok := t[name]
		return out, ok
	case map[string]string:
		out, ok := t[name]
		return out, ok
	case []any:
		n, err := strconv.Atoi(name)
		if err != nil {
			return nil, false
		}
		return index(t, n)
	}
	return nil, false
}

func index(v any, i int) (any, bool) {
	arr, ok := v.([]any)
	if !ok || i < 0 || i >= len(arr) {
		return nil, false
	}
	return arr[i], true
}
