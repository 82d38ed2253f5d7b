// Package consumption turns the provider's nested metric documents into
// flat per-recording counts.
package consumption

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"

	"stream-auditor/internal/common/errors"
)

// Node is one entry of a metric tree: a named scalar leaf, or a named
// group of children. A node with neither has a missing value.
type Node struct {
	Name     string   `json:"name,omitempty"`
	Value    *float64 `json:"value,omitempty"`
	Children []Node   `json:"children,omitempty"`
}

// IsLeaf reports whether the node carries a value rather than children.
func (n Node) IsLeaf() bool { return n.Value != nil }

// Decode converts a JSON document into a tree.
//
// Objects carrying a string "name" become nodes of that name whose "value"
// is either a scalar or the children. Other objects become one child per
// key, in key order. Arrays become children in document order.
func Decode(body []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return Node{}, errors.ParseError(errors.CodeUnknownShape, "response is not JSON").WithCause(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Node{}, errors.ParseError(errors.CodeUnknownShape, "trailing data after JSON document")
	}

	switch doc.(type) {
	case map[string]interface{}, []interface{}:
		return decodeValue("", doc), nil
	default:
		return Node{}, errors.ParseError(errors.CodeUnknownShape, "response is a bare scalar")
	}
}

func decodeValue(name string, v interface{}) Node {
	switch t := v.(type) {
	case map[string]interface{}:
		if _, ok := t["name"].(string); ok {
			return Node{Name: name, Children: []Node{decodeNamed(t)}}
		}
		return Node{Name: name, Children: objectChildren(t, nil)}
	case []interface{}:
		children := make([]Node, 0, len(t))
		for _, elem := range t {
			children = append(children, decodeElement(elem))
		}
		return Node{Name: name, Children: children}
	default:
		return Node{Name: name, Value: scalar(v)}
	}
}

func decodeElement(v interface{}) Node {
	if obj, ok := v.(map[string]interface{}); ok {
		if _, named := obj["name"].(string); named {
			return decodeNamed(obj)
		}
	}
	return decodeValue("", v)
}

// decodeNamed handles {"name": ..., "value": ...}. Breakdown rows sometimes
// carry their count as "streams" or "count" instead of "value".
func decodeNamed(obj map[string]interface{}) Node {
	n := Node{Name: obj["name"].(string)}

	raw, hasValue := obj["value"]
	if !hasValue {
		for _, k := range []string{"streams", "count"} {
			if v, ok := obj[k]; ok {
				raw, hasValue = v, true
				break
			}
		}
	}

	if hasValue {
		switch t := raw.(type) {
		case []interface{}, map[string]interface{}:
			n.Children = decodeValue("", t).Children
		default:
			n.Value = scalar(t)
		}
	}

	extra := objectChildren(obj, map[string]bool{"name": true, "value": true, "streams": true, "count": true})
	for _, c := range extra {
		if !c.IsLeaf() {
			n.Children = append(n.Children, c)
		}
	}
	return n
}

func objectChildren(obj map[string]interface{}, skip map[string]bool) []Node {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	children := make([]Node, 0, len(keys))
	for _, k := range keys {
		children = append(children, decodeValue(k, obj[k]))
	}
	return children
}

// scalar accepts JSON numbers and numeric strings such as "1,200".
func scalar(v interface{}) *float64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

// normalizeName lower-cases and maps '-' and ' ' to '_'.
func normalizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return '_'
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}

// Find returns the shallowest node whose normalised name is one of names,
// searching breadth first so that a top level match wins over a nested one.
func Find(root Node, names ...string) (Node, bool) {
	return search(root, names, nil)
}

func search(root Node, names []string, accept func(Node) bool) (Node, bool) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[normalizeName(n)] = true
	}

	queue := []Node{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.Name != "" && want[normalizeName(n.Name)] && (accept == nil || accept(n)) {
			return n, true
		}
		queue = append(queue, n.Children...)
	}
	return Node{}, false
}

// child returns the first direct child matching one of names, trying names
// in priority order.
func child(n Node, names ...string) (Node, bool) {
	for _, name := range names {
		want := normalizeName(name)
		for _, c := range n.Children {
			if normalizeName(c.Name) == want {
				return c, true
			}
		}
	}
	return Node{}, false
}
