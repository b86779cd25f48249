// Package qs implements the deep-object query-string encoding used to carry
// nested rule structures in a URL: maps become bracketed keys (a[b]=1) and
// slices become numerically indexed keys (a[0]=1), compatible with the usual
// deep-object encoders.
package qs

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Encode serializes a nested value of maps, slices, and scalars under the
// given root key.
func Encode(root string, value any) string {
	values := url.Values{}
	encodeInto(values, root, value)
	return values.Encode()
}

func encodeInto(values url.Values, key string, value any) {
	switch v := value.(type) {
	case map[string]any:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			encodeInto(values, key+"["+name+"]", v[name])
		}
	case []any:
		for i, item := range v {
			encodeInto(values, key+"["+strconv.Itoa(i)+"]", item)
		}
	case nil:
		values.Set(key, "null")
	case string:
		values.Set(key, v)
	case bool:
		values.Set(key, strconv.FormatBool(v))
	case float64:
		values.Set(key, strconv.FormatFloat(v, 'f', -1, 64))
	default:
		values.Set(key, fmt.Sprintf("%v", v))
	}
}

// Decode parses a query string back into nested maps and slices. Scalars come
// back as strings; callers apply their own coercion. Keys carrying malformed
// bracket paths fail the whole decode.
func Decode(query string) (map[string]any, error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query string: %w", err)
	}
	tree := newNode()
	for key, list := range values {
		if len(list) == 0 {
			continue
		}
		path, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		if err := tree.set(path, list[len(list)-1]); err != nil {
			return nil, err
		}
	}
	out, err := tree.materialize()
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return m, nil
}

// splitKey breaks "a[b][0]" into ["a","b","0"].
func splitKey(key string) ([]string, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return []string{key}, nil
	}
	if open == 0 {
		return nil, fmt.Errorf("malformed key %q", key)
	}
	path := []string{key[:open]}
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return nil, fmt.Errorf("malformed key %q", key)
		}
		closing := strings.IndexByte(rest, ']')
		if closing < 0 {
			return nil, fmt.Errorf("malformed key %q", key)
		}
		path = append(path, rest[1:closing])
		rest = rest[closing+1:]
	}
	return path, nil
}

// node is the intermediate decode tree; children keyed by raw segment until
// materialization decides between map and slice form.
type node struct {
	value    any
	hasValue bool
	children map[string]*node
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

func (n *node) set(path []string, value string) error {
	if len(path) == 0 {
		if n.hasValue || len(n.children) > 0 {
			return fmt.Errorf("conflicting values in query")
		}
		n.value = value
		n.hasValue = true
		return nil
	}
	if n.hasValue {
		return fmt.Errorf("conflicting values in query")
	}
	child, ok := n.children[path[0]]
	if !ok {
		child = newNode()
		n.children[path[0]] = child
	}
	return child.set(path[1:], value)
}

func (n *node) materialize() (any, error) {
	if n.hasValue {
		return n.value, nil
	}
	if len(n.children) == 0 {
		return nil, nil
	}
	// All-numeric child keys materialize as a slice ordered by index.
	indices := make([]int, 0, len(n.children))
	numeric := true
	for key := range n.children {
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 {
			numeric = false
			break
		}
		indices = append(indices, index)
	}
	if numeric {
		sort.Ints(indices)
		out := make([]any, 0, len(indices))
		for _, index := range indices {
			item, err := n.children[strconv.Itoa(index)].materialize()
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	}
	out := make(map[string]any, len(n.children))
	for key, child := range n.children {
		item, err := child.materialize()
		if err != nil {
			return nil, err
		}
		out[key] = item
	}
	return out, nil
}
