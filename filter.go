package sieve

import (
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// FilterSignature is one user-entered {field, operator, value} triple.
type FilterSignature struct {
	Field     string   `json:"field"`
	Operator  Operator `json:"operator"`
	Value     any      `json:"value"`
	RefScheme string   `json:"refScheme,omitempty"`
}

// FilterLeaf is one resolved comparison. Leaves inside a Filter carry OR
// semantics; AND across filters is expressed by keeping them as separate
// entries of the ordered filter list, never nested inside one fragment.
type FilterLeaf struct {
	Field     string
	RefScheme string
	Op        Operator
	Value     any

	root *Property // the declared property schema
	leaf *Property // the schema the comparison applies to (after ref scheme)
}

// LeafSchema returns the schema node the comparison applies to.
func (l *FilterLeaf) LeafSchema() *Property { return l.leaf }

// Filter is one fragment of the ordered filter list. The JSON-Schema shape is
// purely its serialization format; semantics live in the tagged leaves.
type Filter struct {
	ID     string
	Title  string
	Leaves []FilterLeaf
}

// IsFullTextSearch reports whether the filter is a full-text-search fragment.
func (f *Filter) IsFullTextSearch() bool {
	return f != nil && f.Title == FullTextSlug
}

// CreateFilter builds one filter fragment from one or more signatures,
// resolving each field's type (through the reference scheme when present) and
// combining the per-field comparisons with OR. Signatures that cannot be
// represented are omitted; a fragment with no representable signature is nil,
// meaning "omit this fragment" rather than match-everything or match-nothing.
func CreateFilter(schema *Schema, signatures []FilterSignature) *Filter {
	if schema == nil {
		return nil
	}
	filter := &Filter{ID: uuid.NewString()}
	for _, sig := range signatures {
		leaf, ok := resolveLeafSignature(schema, sig)
		if !ok {
			continue
		}
		filter.Leaves = append(filter.Leaves, leaf)
	}
	if len(filter.Leaves) == 0 {
		return nil
	}
	return filter
}

func resolveLeafSignature(schema *Schema, sig FilterSignature) (FilterLeaf, bool) {
	prop, ok := schema.Properties[sig.Field]
	if !ok || prop == nil {
		return FilterLeaf{}, false
	}
	refScheme := sig.RefScheme
	if refScheme == "" {
		if schemes := PropertyScheme(prop); len(schemes) > 0 {
			refScheme = schemes[0]
		}
	}
	leafProp := prop
	if refScheme != "" {
		tokens := stripParentField(parseRefPath(refScheme), sig.Field)
		leafProp = resolveLeaf(prop, tokens)
		if leafProp == nil {
			return FilterLeaf{}, false
		}
	}
	if _, valid := createLeafPredicate(leafProp, sig.Operator, sig.Value); !valid {
		return FilterLeaf{}, false
	}
	return FilterLeaf{
		Field:     sig.Field,
		RefScheme: refScheme,
		Op:        sig.Operator,
		Value:     sig.Value,
		root:      prop,
		leaf:      leafProp,
	}, true
}

// CreateFullTextSearchFilter builds the fragment representing "search every
// primary displayable text field for term". Nil for blank terms.
func CreateFullTextSearchFilter(schema *Schema, term string) *Filter {
	term = strings.TrimSpace(term)
	if schema == nil || term == "" {
		return nil
	}
	filter := &Filter{ID: uuid.NewString(), Title: FullTextSlug}
	for _, field := range schema.PropertyNames() {
		prop := schema.Properties[field]
		if a := ParseAnnotations(prop); a != nil && a.NoFilter {
			continue
		}
		leaf, ok := resolveLeafSignature(schema, FilterSignature{
			Field:    field,
			Operator: OpContains,
			Value:    term,
		})
		if !ok || leaf.leaf.Kind() != KindString {
			continue
		}
		filter.Leaves = append(filter.Leaves, leaf)
	}
	if len(filter.Leaves) == 0 {
		return nil
	}
	return filter
}

// Fragment serializes the filter into its JSON-Schema shape: an anyOf of
// per-field object predicates under an umbrella carrying $id and title.
func (f *Filter) Fragment() map[string]any {
	if f == nil {
		return nil
	}
	members := make([]any, 0, len(f.Leaves))
	for i := range f.Leaves {
		if member := encodeLeaf(&f.Leaves[i]); member != nil {
			members = append(members, member)
		}
	}
	fragment := map[string]any{
		"$id":   f.ID,
		"anyOf": members,
	}
	if f.Title != "" {
		fragment["title"] = f.Title
	}
	return fragment
}

// MarshalJSON emits the serialized fragment shape.
func (f *Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Fragment())
}

// encodeLeaf produces {type:"object", properties:{field: predicate}} for one
// leaf, nesting the predicate along the reference-scheme path when present.
func encodeLeaf(leaf *FilterLeaf) map[string]any {
	pred, ok := createLeafPredicate(leaf.leaf, leaf.Op, leaf.Value)
	if !ok {
		return nil
	}
	wrapped := map[string]any(pred)
	if leaf.RefScheme != "" {
		tokens := stripParentField(parseRefPath(leaf.RefScheme), leaf.Field)
		wrapped = wrapPathPredicate(leaf.root, tokens, wrapped)
		if wrapped == nil {
			return nil
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{leaf.Field: wrapped},
		"required":   []any{leaf.Field},
	}
}

// wrapPathPredicate nests a leaf predicate along a reference path, following
// the schema so array levels become contains predicates and object levels
// become property predicates.
func wrapPathPredicate(cur *Property, tokens []refToken, pred map[string]any) map[string]any {
	if len(tokens) == 0 {
		return pred
	}
	if cur == nil {
		return nil
	}
	tok := tokens[0]
	if tok.isIndex {
		inner := wrapPathPredicate(cur.Items, tokens[1:], pred)
		if inner == nil {
			return nil
		}
		return map[string]any{"type": "array", "minItems": 1, "contains": inner}
	}
	if cur.Kind() == KindArray && cur.Items != nil {
		inner := wrapPathPredicate(cur.Items, tokens, pred)
		if inner == nil {
			return nil
		}
		return map[string]any{"type": "array", "minItems": 1, "contains": inner}
	}
	if cur.Properties == nil {
		return nil
	}
	inner := wrapPathPredicate(cur.Properties[tok.name], tokens[1:], pred)
	if inner == nil {
		return nil
	}
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{tok.name: inner},
		"required":   []any{tok.name},
	}
}

// FilterDescription is the decoded form of one fragment leaf: the inverse of
// filter construction, used for filter chips and re-opening a filter in edit
// mode.
type FilterDescription struct {
	Field    string
	Operator Operator
	Value    any
	Schema   *Property
}

// ParseFilterDescription recovers {field, operator, value} plus the effective
// schema from a fragment's first comparison. Operators are stored implicitly
// via JSON-Schema keywords, so recovery dispatches on which keywords are
// present. Nil when the fragment has no decodable comparison; an unsupported
// regex flag is a configuration error.
func ParseFilterDescription(schema *Schema, fragment map[string]any) (*FilterDescription, error) {
	filter, err := ParseFilter(schema, fragment)
	if err != nil {
		return nil, err
	}
	if filter == nil || len(filter.Leaves) == 0 {
		return nil, nil
	}
	leaf := filter.Leaves[0]
	return &FilterDescription{
		Field:    leaf.Field,
		Operator: leaf.Op,
		Value:    leaf.Value,
		Schema:   leaf.leaf,
	}, nil
}

// ParseFilter decodes a serialized fragment back into tagged form. Fragments
// whose shape carries no decodable comparison yield nil.
func ParseFilter(schema *Schema, fragment map[string]any) (*Filter, error) {
	if schema == nil || fragment == nil {
		return nil, nil
	}
	filter := &Filter{}
	if id, ok := fragment["$id"].(string); ok {
		filter.ID = id
	} else {
		filter.ID = uuid.NewString()
	}
	if title, ok := fragment["title"].(string); ok {
		filter.Title = title
	}
	members, ok := fragment["anyOf"].([]any)
	if !ok {
		// A bare single-field fragment is accepted as a one-leaf filter.
		members = []any{map[string]any(fragment)}
	}
	for _, raw := range members {
		member, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		leaf, err := decodeLeafMember(schema, member)
		if err != nil {
			return nil, err
		}
		if leaf != nil {
			filter.Leaves = append(filter.Leaves, *leaf)
		}
	}
	if len(filter.Leaves) == 0 {
		return nil, nil
	}
	return filter, nil
}

func decodeLeafMember(schema *Schema, member map[string]any) (*FilterLeaf, error) {
	props, ok := member["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return nil, nil
	}
	fields := make([]string, 0, len(props))
	for field := range props {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	field := fields[0]
	prop, ok := schema.Properties[field]
	if !ok {
		return nil, nil
	}
	pred, ok := props[field].(map[string]any)
	if !ok {
		return nil, nil
	}
	// Unwrap a reference-scheme nesting down to the comparison keywords.
	leafProp, leafPred, refScheme := unwrapPathPredicate(prop, field, pred)
	op, value, err := decodeLeafPredicate(leafProp, leafPred)
	if err != nil {
		return nil, err
	}
	if op == "" {
		return nil, nil
	}
	return &FilterLeaf{
		Field:     field,
		RefScheme: refScheme,
		Op:        op,
		Value:     value,
		root:      prop,
		leaf:      leafProp,
	}, nil
}

// unwrapPathPredicate descends through the contains/properties wrappers a
// reference scheme produced. The declared annotation decides whether to
// descend at all: an object comparison and a ref-scheme wrapper are
// structurally identical, so the schema disambiguates, not the shape.
func unwrapPathPredicate(prop *Property, field string, pred map[string]any) (*Property, map[string]any, string) {
	for _, scheme := range PropertyScheme(prop) {
		tokens := stripParentField(parseRefPath(scheme), field)
		if leafProp, leafPred, ok := followPathPredicate(prop, tokens, pred); ok {
			return leafProp, leafPred, scheme
		}
	}
	return prop, pred, ""
}

func followPathPredicate(cur *Property, tokens []refToken, pred map[string]any) (*Property, map[string]any, bool) {
	if len(tokens) == 0 {
		return cur, pred, true
	}
	if cur == nil || pred == nil {
		return nil, nil, false
	}
	tok := tokens[0]
	if tok.isIndex {
		inner, ok := pred["contains"].(map[string]any)
		if !ok {
			return nil, nil, false
		}
		return followPathPredicate(cur.Items, tokens[1:], inner)
	}
	if cur.Kind() == KindArray && cur.Items != nil {
		inner, ok := pred["contains"].(map[string]any)
		if !ok {
			return nil, nil, false
		}
		return followPathPredicate(cur.Items, tokens, inner)
	}
	props, ok := pred["properties"].(map[string]any)
	if !ok || cur.Properties == nil {
		return nil, nil, false
	}
	inner, ok := props[tok.name].(map[string]any)
	if !ok {
		return nil, nil, false
	}
	return followPathPredicate(cur.Properties[tok.name], tokens[1:], inner)
}

// decodeLeafPredicate recovers (operator, value) from the keyword shape of a
// leaf predicate, using the property schema to disambiguate (a numeric
// exclusiveMaximum means is_before on a date-time field and is_less_than on a
// plain number). Returns op == "" for undecodable shapes.
func decodeLeafPredicate(p *Property, pred map[string]any) (Operator, any, error) {
	if pred == nil {
		return "", nil, nil
	}
	isDateTime := p.Kind() == KindDateTime

	if inner, ok := pred["not"].(map[string]any); ok {
		op, value, err := decodePositive(p, inner, isDateTime)
		if err != nil {
			return "", nil, err
		}
		switch op {
		case OpIs:
			return OpIsNot, value, nil
		case OpContains:
			return OpNotContains, value, nil
		case OpStartsWith:
			return OpNotStartsWith, value, nil
		case OpEndsWith:
			return OpNotEndsWith, value, nil
		case "":
			return "", nil, nil
		}
		return "", nil, nil
	}
	return decodePositive(p, pred, isDateTime)
}

func decodePositive(p *Property, pred map[string]any, isDateTime bool) (Operator, any, error) {
	if regex, ok := pred["regexp"].(map[string]any); ok {
		pattern, _ := regex["pattern"].(string)
		flags, _ := regex["flags"].(string)
		if err := validateRegexFlags(flags); err != nil {
			return "", nil, err
		}
		return decodeRegexPredicate(pattern, commentOf(pred))
	}
	if pattern, ok := pred["pattern"].(string); ok {
		return decodeRegexPredicate(pattern, commentOf(pred))
	}
	if value, ok := pred["const"]; ok {
		return OpIs, value, nil
	}
	if values, ok := pred["enum"].([]any); ok {
		return OpIsAnyOf, values, nil
	}
	if value, ok := pred["formatMaximum"]; ok {
		return OpIsBefore, value, nil
	}
	if value, ok := pred["formatMinimum"]; ok {
		return OpIsAfter, value, nil
	}
	if value, ok := pred["exclusiveMaximum"]; ok {
		if isDateTime {
			return OpIsBefore, value, nil
		}
		return OpIsLessThan, value, nil
	}
	if value, ok := pred["exclusiveMinimum"]; ok {
		if isDateTime {
			return OpIsAfter, value, nil
		}
		return OpIsMoreThan, value, nil
	}
	if item, ok := pred["contains"].(map[string]any); ok {
		return OpContains, decodeItemPredicate(item), nil
	}
	if props, ok := pred["properties"].(map[string]any); ok {
		return OpIs, decodeConstProperties(props), nil
	}
	return "", nil, nil
}

func commentOf(pred map[string]any) string {
	comment, _ := pred["$comment"].(string)
	return comment
}

func decodeRegexPredicate(pattern, comment string) (Operator, any, error) {
	switch comment {
	case string(OpStartsWith):
		return OpStartsWith, unquoteMeta(strings.TrimPrefix(pattern, "^")), nil
	case string(OpEndsWith):
		return OpEndsWith, unquoteMeta(strings.TrimSuffix(pattern, "$")), nil
	}
	// Unannotated anchored patterns still decode sensibly.
	switch {
	case strings.HasPrefix(pattern, "^"):
		return OpStartsWith, unquoteMeta(strings.TrimPrefix(pattern, "^")), nil
	case strings.HasSuffix(pattern, "$") && !strings.HasSuffix(pattern, `\$`):
		return OpEndsWith, unquoteMeta(strings.TrimSuffix(pattern, "$")), nil
	}
	return OpContains, unquoteMeta(pattern), nil
}

func decodeItemPredicate(item map[string]any) any {
	if value, ok := item["const"]; ok {
		return value
	}
	if props, ok := item["properties"].(map[string]any); ok {
		return decodeConstProperties(props)
	}
	return nil
}

func decodeConstProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for key, raw := range props {
		if pred, ok := raw.(map[string]any); ok {
			if value, ok := pred["const"]; ok {
				out[key] = value
			}
		}
	}
	return out
}
