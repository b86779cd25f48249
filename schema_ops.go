package sieve

import (
	"strconv"
	"strings"
)

// refToken is one step of a reference-scheme path: either a property name or
// an array index.
type refToken struct {
	name    string
	index   int
	isIndex bool
}

// parseRefPath splits a dotted/indexed path like "owns__role[0].role_name"
// into tokens. Malformed segments yield nil — reference schemes are advisory.
func parseRefPath(path string) []refToken {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	var tokens []refToken
	for _, segment := range strings.Split(path, ".") {
		rest := segment
		for rest != "" {
			open := strings.IndexByte(rest, '[')
			if open < 0 {
				tokens = append(tokens, refToken{name: rest})
				break
			}
			if open > 0 {
				tokens = append(tokens, refToken{name: rest[:open]})
			}
			closing := strings.IndexByte(rest, ']')
			if closing < open {
				return nil
			}
			index, err := strconv.Atoi(rest[open+1 : closing])
			if err != nil || index < 0 {
				return nil
			}
			tokens = append(tokens, refToken{index: index, isIndex: true})
			rest = rest[closing+1:]
		}
	}
	return tokens
}

// stripParentField removes a leading token equal to the parent field name, so
// schemes may be written either relative to the field value or prefixed with
// the field itself.
func stripParentField(tokens []refToken, parentField string) []refToken {
	if parentField != "" && len(tokens) > 0 && !tokens[0].isIndex && tokens[0].name == parentField {
		return tokens[1:]
	}
	return tokens
}

// PropertyScheme returns the reference-scheme path(s) annotated on a property,
// preferring the foreign-key scheme when both are present. Nil when the
// property carries none.
func PropertyScheme(p *Property) []string {
	a := ParseAnnotations(p)
	if a == nil {
		return nil
	}
	if len(a.ForeignKeyScheme) > 0 {
		return []string(a.ForeignKeyScheme)
	}
	if len(a.RefScheme) > 0 {
		return []string(a.RefScheme)
	}
	return nil
}

// SchemaFromRefScheme synthesizes the sub-schema one reference path points at.
// The returned schema mirrors the traversed structure, preserving the type at
// every level (array-vs-object branching changes how filters are built
// downstream), and carries the leaf's title when the leaf declares one. Any
// traversal failure yields nil.
func SchemaFromRefScheme(p *Property, parentField, refScheme string) *Property {
	tokens := stripParentField(parseRefPath(refScheme), parentField)
	if p == nil || len(tokens) == 0 {
		return nil
	}
	leaf := resolveLeaf(p, tokens)
	if leaf == nil {
		return nil
	}
	out := buildRefSchema(p, tokens, leaf)
	if out == nil {
		return nil
	}
	if leaf.Title != "" {
		out.Title = leaf.Title
	}
	return out
}

// resolveLeaf walks the property tree to the node the path points at.
func resolveLeaf(p *Property, tokens []refToken) *Property {
	cur := p
	for _, tok := range tokens {
		if cur == nil {
			return nil
		}
		if tok.isIndex {
			cur = cur.Items
			continue
		}
		// A name token against an array descends through its items first.
		if cur.Kind() == KindArray && cur.Items != nil {
			cur = cur.Items
		}
		if cur == nil || cur.Properties == nil {
			return nil
		}
		cur = cur.Properties[tok.name]
	}
	return cur
}

// buildRefSchema reconstructs the traversed chain as a standalone schema.
func buildRefSchema(cur *Property, tokens []refToken, leaf *Property) *Property {
	if cur == nil {
		return nil
	}
	if len(tokens) == 0 {
		copied := *leaf
		return &copied
	}
	tok := tokens[0]
	if tok.isIndex {
		inner := buildRefSchema(cur.Items, tokens[1:], leaf)
		if inner == nil {
			return nil
		}
		return &Property{Type: cur.Type, Title: cur.Title, Items: inner}
	}
	if cur.Kind() == KindArray && cur.Items != nil {
		inner := buildRefSchema(cur.Items, tokens, leaf)
		if inner == nil {
			return nil
		}
		return &Property{Type: cur.Type, Title: cur.Title, Items: inner}
	}
	if cur.Properties == nil {
		return nil
	}
	child := cur.Properties[tok.name]
	inner := buildRefSchema(child, tokens[1:], leaf)
	if inner == nil {
		return nil
	}
	return &Property{
		Type:       cur.Type,
		Title:      cur.Title,
		Properties: map[string]*Property{tok.name: inner},
		Required:   []string{tok.name},
	}
}

// unwrapSingleton models "expanded to-one association" shapes: arrays of
// length <= 1 collapse to their single element, empty arrays to nil.
func unwrapSingleton(value any) any {
	arr, ok := value.([]any)
	if !ok {
		return value
	}
	switch len(arr) {
	case 0:
		return nil
	case 1:
		return arr[0]
	}
	return value
}

// AdaptRefScheme extracts the leaf value a property's reference scheme points
// at from a raw field value. When the property carries no scheme the value is
// returned unchanged. Traversal is nil-safe and never fails hard.
func AdaptRefScheme(value any, p *Property) any {
	schemes := PropertyScheme(p)
	if len(schemes) == 0 {
		return value
	}
	return AdaptRefSchemePath(value, schemes[0])
}

// AdaptRefSchemePath extracts the value at one reference path.
func AdaptRefSchemePath(value any, refScheme string) any {
	tokens := parseRefPath(refScheme)
	cur := value
	for _, tok := range tokens {
		cur = unwrapSingleton(cur)
		if cur == nil {
			return nil
		}
		if tok.isIndex {
			if arr, ok := cur.([]any); ok {
				if tok.index >= len(arr) {
					return nil
				}
				cur = arr[tok.index]
			} else if tok.index != 0 {
				// The singleton already collapsed; only index 0 remains valid.
				return nil
			}
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[tok.name]
	}
	return cur
}

// Pick restricts a schema to the listed top-level properties, intersecting
// required. The source schema is left untouched; field-level permission
// enforcement builds narrowed schemas this way.
func Pick(s *Schema, fields []string) *Schema {
	if s == nil {
		return nil
	}
	allowed := make(map[string]bool, len(fields))
	for _, f := range fields {
		allowed[f] = true
	}
	out := &Schema{
		Title:      s.Title,
		Properties: make(map[string]*Property, len(fields)),
	}
	for name, prop := range s.Properties {
		if allowed[name] {
			out.Properties[name] = prop
		}
	}
	for _, name := range s.Required {
		if allowed[name] {
			out.Required = append(out.Required, name)
		}
	}
	for _, name := range s.propertyOrder {
		if allowed[name] {
			out.propertyOrder = append(out.propertyOrder, name)
		}
	}
	return out
}
