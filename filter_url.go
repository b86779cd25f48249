package sieve

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lychee-technology/sieve/internal/qs"
)

// filterQueryKey is the root query-string key the filter rules live under.
const filterQueryKey = "f"

// ListFilterQuery serializes the ordered filter list into a query string of
// n/o/v rule triples. Fragments with multiple comparisons serialize as a
// nested list under their index so OR groups survive the round trip.
func ListFilterQuery(filters []*Filter) string {
	rules := make([]any, 0, len(filters))
	for _, filter := range filters {
		if filter == nil || len(filter.Leaves) == 0 {
			continue
		}
		if filter.IsFullTextSearch() {
			term, _ := filter.Leaves[0].Value.(string)
			rules = append(rules, ruleTriple("", FullTextSlug, term))
			continue
		}
		if len(filter.Leaves) == 1 {
			leaf := filter.Leaves[0]
			rules = append(rules, ruleTriple(leaf.Field, string(leaf.Op), leaf.Value))
			continue
		}
		group := make([]any, 0, len(filter.Leaves))
		for _, leaf := range filter.Leaves {
			group = append(group, ruleTriple(leaf.Field, string(leaf.Op), leaf.Value))
		}
		rules = append(rules, group)
	}
	if len(rules) == 0 {
		return ""
	}
	return qs.Encode(filterQueryKey, rules)
}

func ruleTriple(name, operator string, value any) map[string]any {
	triple := map[string]any{
		"o": operator,
		"v": encodeRuleValue(value),
	}
	if name != "" {
		triple["n"] = name
	}
	return triple
}

// encodeRuleValue flattens a rule value to query-string material: scalars to
// strings, slices and maps element-wise.
func encodeRuleValue(value any) any {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = encodeRuleValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = encodeRuleValue(item)
		}
		return out
	default:
		return fmt.Sprintf("%v", v)
	}
}

// LoadRulesFromURL parses a filter query string back into the ordered filter
// list. One bad rule — a field absent from the schema, or an operator slug
// containing a space — invalidates the entire batch: partial-trust parsing is
// rejected wholesale so a silently-wrong subset of filters never applies. The
// caller clears the URL's query portion on error.
func LoadRulesFromURL(schema *Schema, query string) ([]*Filter, error) {
	if schema == nil || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	decoded, err := qs.Decode(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, NewInputError(ErrCodeInvalidFilterRules, "unparseable filter query").WithCause(err)
	}
	raw, ok := decoded[filterQueryKey]
	if !ok {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		entries = []any{raw}
	}
	filters := make([]*Filter, 0, len(entries))
	for _, entry := range entries {
		filter, err := loadRuleEntry(schema, entry)
		if err != nil {
			return nil, err
		}
		if filter != nil {
			filters = append(filters, filter)
		}
	}
	return filters, nil
}

func loadRuleEntry(schema *Schema, entry any) (*Filter, error) {
	group, isGroup := entry.([]any)
	if !isGroup {
		group = []any{entry}
	}
	signatures := make([]FilterSignature, 0, len(group))
	for _, raw := range group {
		triple, ok := raw.(map[string]any)
		if !ok {
			return nil, NewInputError(ErrCodeInvalidFilterRules, "malformed filter rule")
		}
		name, _ := triple["n"].(string)
		operator, _ := triple["o"].(string)
		if strings.Contains(operator, " ") {
			return nil, NewInputError(ErrCodeInvalidFilterRules,
				fmt.Sprintf("malformed operator %q", operator))
		}
		if operator == FullTextSlug {
			term, _ := triple["v"].(string)
			return CreateFullTextSearchFilter(schema, term), nil
		}
		prop, ok := schema.Properties[name]
		if !ok {
			return nil, NewInputError(ErrCodeInvalidFilterRules,
				fmt.Sprintf("unknown field %q in filter rule", name)).WithField(name)
		}
		signatures = append(signatures, FilterSignature{
			Field:    name,
			Operator: Operator(operator),
			Value:    coerceRuleValue(prop, name, triple["v"]),
		})
	}
	return CreateFilter(schema, signatures), nil
}

// coerceRuleValue re-types a URL string value. Coercion only applies when the
// target field's type excludes "string": a legitimate string value that
// happens to look like a boolean or number must never be corrupted.
func coerceRuleValue(prop *Property, field string, value any) any {
	if list, ok := value.([]any); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = coerceRuleValue(prop, field, item)
		}
		return out
	}
	text, ok := value.(string)
	if !ok {
		return value
	}
	leafType := prop.Type
	if schemes := PropertyScheme(prop); len(schemes) > 0 {
		// Coerce against the leaf the scheme points at, not the carrier field.
		tokens := stripParentField(parseRefPath(schemes[0]), field)
		if leaf := resolveLeaf(prop, tokens); leaf != nil {
			leafType = leaf.Type
		}
	}
	if leafType.Primary() == "" || leafType.Has("string") {
		return text
	}
	switch text {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseFloat(text, 64); err == nil {
		return n
	}
	return text
}
