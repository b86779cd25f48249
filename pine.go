package sieve

import (
	"sort"
	"strings"
)

// PineFilter is the compiled server-side filter object: a nested tree keyed
// by logical and comparison operators ($and, $or, $ne, $not, $in, $contains,
// $startswith, $endswith, $lt, $le, $gt, $ge, $any, $alias, $expr, $count).
type PineFilter = map[string]any

// SortDirection is the direction of an orderby clause.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Sort describes the current column sort.
type Sort struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
	RefScheme string        `json:"refScheme,omitempty"`
}

// CompileFilters lowers an ordered filter list into one Pine filter object.
// The list carries AND semantics. Nil for an empty list.
func CompileFilters(filters []*Filter) (PineFilter, error) {
	members := make([]any, 0, len(filters))
	for _, filter := range filters {
		if filter == nil || len(filter.Leaves) == 0 {
			continue
		}
		converted, err := ConvertToPineFilter(nil, filter.Fragment())
		if err != nil {
			return nil, err
		}
		if converted != nil {
			members = append(members, converted)
		}
	}
	switch len(members) {
	case 0:
		return nil, nil
	case 1:
		if m, ok := members[0].(map[string]any); ok {
			return m, nil
		}
		return PineFilter{"$and": members}, nil
	}
	return PineFilter{"$and": members}, nil
}

// ConvertToPineFilter recursively lowers a JSON-Schema-shaped filter fragment
// into the Pine vocabulary. Dispatch is structural: operator semantics are
// re-derived from which keywords are present, not from any stored operator
// string. A fragment with no derivable operator is a configuration error —
// there is no safe default, because an un-lowerable filter would silently
// stop filtering on the server.
func ConvertToPineFilter(parentKeys []string, filter any) (any, error) {
	switch node := filter.(type) {
	case []any:
		members, err := convertMembers(parentKeys, node)
		if err != nil {
			return nil, err
		}
		return combine("$and", members), nil
	case Predicate:
		return ConvertToPineFilter(parentKeys, map[string]any(node))
	case map[string]any:
		return convertNode(parentKeys, node)
	case nil:
		return nil, nil
	}
	return nil, NewNoUsableOperatorError(filter)
}

func convertNode(parentKeys []string, node map[string]any) (any, error) {
	// Already-Pine passthrough.
	for _, op := range []string{"$or", "$and"} {
		if raw, ok := node[op]; ok {
			members, err := convertMembers(parentKeys, asSlice(raw))
			if err != nil {
				return nil, err
			}
			return combine(op, members), nil
		}
	}
	if raw, ok := node["anyOf"]; ok {
		members, err := convertMembers(parentKeys, asSlice(raw))
		if err != nil {
			return nil, err
		}
		return combine("$or", members), nil
	}
	if raw, ok := node["oneOf"]; ok {
		members, err := convertMembers(parentKeys, asSlice(raw))
		if err != nil {
			return nil, err
		}
		return combine("$or", members), nil
	}
	if raw, ok := node["allOf"]; ok {
		members, err := convertMembers(parentKeys, asSlice(raw))
		if err != nil {
			return nil, err
		}
		return combine("$and", members), nil
	}
	if item := arrayItemPredicate(node); item != nil {
		return convertArrayNode(parentKeys, node, item)
	}
	if raw, ok := node["properties"].(map[string]any); ok {
		keys := make([]string, 0, len(raw))
		for key := range raw {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		members := make([]any, 0, len(keys))
		for _, key := range keys {
			childKeys := make([]string, 0, len(parentKeys)+1)
			childKeys = append(childKeys, parentKeys...)
			childKeys = append(childKeys, key)
			converted, err := ConvertToPineFilter(childKeys, raw[key])
			if err != nil {
				return nil, err
			}
			if converted != nil {
				members = append(members, converted)
			}
		}
		return combine("$and", members), nil
	}
	if raw, ok := node["not"]; ok {
		return convertNegation(parentKeys, raw)
	}
	return handlePrimitiveFilter(parentKeys, node)
}

func arrayItemPredicate(node map[string]any) map[string]any {
	if item, ok := node["contains"].(map[string]any); ok {
		return item
	}
	if item, ok := node["items"].(map[string]any); ok {
		return item
	}
	return nil
}

// convertArrayNode lowers an array predicate into a quantified $any over the
// array field, conjoined with a $count guard when the fragment demands more
// than one matching item.
func convertArrayNode(parentKeys []string, node map[string]any, item map[string]any) (any, error) {
	if len(parentKeys) == 0 {
		return nil, NewNoUsableOperatorError(node)
	}
	field := parentKeys[len(parentKeys)-1]
	alias := generateAlias(field)
	expr, err := ConvertToPineFilter([]string{alias}, item)
	if err != nil {
		return nil, err
	}
	quantified := wrapKeys(parentKeys, map[string]any{
		"$any": map[string]any{
			"$alias": alias,
			"$expr":  expr,
		},
	})
	minItems, _ := coerceNumber(node["minItems"])
	if minItems > 1 {
		guard := wrapKeys(parentKeys, map[string]any{
			"$count": map[string]any{"$ge": minItems},
		})
		return map[string]any{"$and": []any{quantified, guard}}, nil
	}
	return quantified, nil
}

// generateAlias derives the quantifier alias from the first letters of the
// field's name parts ("owns__role" becomes "or").
func generateAlias(field string) string {
	var b strings.Builder
	for _, part := range strings.Split(field, "_") {
		if part != "" {
			b.WriteByte(part[0])
		}
	}
	if b.Len() == 0 {
		return "n"
	}
	return b.String()
}

func convertNegation(parentKeys []string, raw any) (any, error) {
	if inner, ok := raw.(map[string]any); ok {
		// {not: {const}} takes the $ne shortcut.
		if value, hasConst := inner["const"]; hasConst {
			return wrapKeys(parentKeys, map[string]any{"$ne": value}), nil
		}
	}
	converted, err := ConvertToPineFilter(parentKeys, raw)
	if err != nil {
		return nil, err
	}
	return map[string]any{"$not": converted}, nil
}

// handlePrimitiveFilter lowers a leaf predicate by keyword dispatch.
func handlePrimitiveFilter(parentKeys []string, node map[string]any) (any, error) {
	if value, ok := node["const"]; ok {
		return wrapKeys(parentKeys, value), nil
	}
	if values, ok := node["enum"].([]any); ok {
		return wrapKeys(parentKeys, map[string]any{"$in": values}), nil
	}
	if pattern, flags, ok := regexOf(node); ok {
		if err := validateRegexFlags(flags); err != nil {
			return nil, err
		}
		return convertRegex(parentKeys, pattern, flags, commentOf(node)), nil
	}
	comparisons := map[string]any{}
	for keyword, op := range map[string]string{
		"exclusiveMinimum": "$gt",
		"exclusiveMaximum": "$lt",
		"minimum":          "$ge",
		"maximum":          "$le",
		"formatMinimum":    "$ge",
		"formatMaximum":    "$le",
	} {
		if value, ok := node[keyword]; ok {
			comparisons[op] = value
		}
	}
	if len(comparisons) > 0 {
		return wrapKeys(parentKeys, comparisons), nil
	}
	return nil, NewNoUsableOperatorError(node)
}

func regexOf(node map[string]any) (pattern, flags string, ok bool) {
	if regex, found := node["regexp"].(map[string]any); found {
		pattern, _ = regex["pattern"].(string)
		flags, _ = regex["flags"].(string)
		return pattern, flags, true
	}
	if pattern, found := node["pattern"].(string); found {
		return pattern, "", true
	}
	return "", "", false
}

// convertRegex lowers the three supported regex shapes. Anchored patterns map
// to $startswith/$endswith via their $comment hint; anything else is a
// substring match. Case-insensitive matches lower the field through $tolower
// and compare against the lower-cased literal.
func convertRegex(parentKeys []string, pattern, flags, comment string) any {
	caseInsensitive := strings.Contains(flags, "i")
	var op string
	var literal string
	switch comment {
	case string(OpStartsWith):
		op = "$startswith"
		literal = unquoteMeta(strings.TrimPrefix(pattern, "^"))
	case string(OpEndsWith):
		op = "$endswith"
		literal = unquoteMeta(strings.TrimSuffix(pattern, "$"))
	default:
		op = "$contains"
		literal = unquoteMeta(strings.TrimSuffix(strings.TrimPrefix(pattern, "^"), "$"))
	}
	if caseInsensitive {
		return wrapKeys(parentKeys, map[string]any{
			"$tolower": map[string]any{op: strings.ToLower(literal)},
		})
	}
	return wrapKeys(parentKeys, map[string]any{op: literal})
}

func convertMembers(parentKeys []string, raw []any) ([]any, error) {
	members := make([]any, 0, len(raw))
	for _, member := range raw {
		converted, err := ConvertToPineFilter(parentKeys, member)
		if err != nil {
			return nil, err
		}
		if converted != nil {
			members = append(members, converted)
		}
	}
	return members, nil
}

func combine(op string, members []any) any {
	switch len(members) {
	case 0:
		return nil
	case 1:
		return members[0]
	}
	return map[string]any{op: members}
}

// wrapKeys nests an expression under a field path, innermost last.
func wrapKeys(keys []string, expr any) any {
	for i := len(keys) - 1; i >= 0; i-- {
		expr = map[string]any{keys[i]: expr}
	}
	return expr
}

func asSlice(raw any) []any {
	if list, ok := raw.([]any); ok {
		return list
	}
	return []any{raw}
}

// OrderbyBuilder produces the ordered "path direction" clauses for the
// current sort. A deterministic "id direction" tiebreaker is always appended
// so pagination stays stable under equal sort keys. Custom-sort overrides are
// keyed by field or field_refScheme and must be a string or a non-empty
// string slice; any other shape is a configuration error.
func OrderbyBuilder(sortInfo *Sort, customSort map[string]any) ([]string, error) {
	if sortInfo == nil || sortInfo.Field == "" {
		return nil, nil
	}
	direction := sortInfo.Direction
	if direction == "" {
		direction = SortAsc
	}
	paths, err := orderbyPaths(sortInfo, customSort)
	if err != nil {
		return nil, err
	}
	clauses := make([]string, 0, len(paths)+1)
	for _, path := range paths {
		clauses = append(clauses, path+" "+string(direction))
	}
	if sortInfo.Field != "id" || sortInfo.RefScheme != "" {
		clauses = append(clauses, "id "+string(direction))
	}
	return clauses, nil
}

func orderbyPaths(sortInfo *Sort, customSort map[string]any) ([]string, error) {
	if customSort != nil {
		key := sortInfo.Field
		if sortInfo.RefScheme != "" {
			key = sortInfo.Field + "_" + sortInfo.RefScheme
		}
		raw, ok := customSort[key]
		if !ok {
			raw, ok = customSort[sortInfo.Field]
		}
		if ok {
			switch raw.(type) {
			case CompareFunc, func(a, b map[string]any) int:
				// client-side compare override, no bearing on the server path
			default:
				return customSortPaths(sortInfo.Field, raw)
			}
		}
	}
	return []string{serverPath(sortInfo.Field, sortInfo.RefScheme)}, nil
}

func customSortPaths(field string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, NewInvalidCustomSortError(field, raw)
		}
		return []string{v}, nil
	case []string:
		if len(v) == 0 {
			return nil, NewInvalidCustomSortError(field, raw)
		}
		return v, nil
	case []any:
		if len(v) == 0 {
			return nil, NewInvalidCustomSortError(field, raw)
		}
		out := make([]string, 0, len(v))
		for _, item := range v {
			text, ok := item.(string)
			if !ok || text == "" {
				return nil, NewInvalidCustomSortError(field, raw)
			}
			out = append(out, text)
		}
		return out, nil
	}
	return nil, NewInvalidCustomSortError(field, raw)
}

// serverPath turns a field plus reference scheme into an orderby path:
// indices drop and dots become slashes, so "owns__role" with scheme
// "[0].role_name" sorts by "owns__role/role_name".
func serverPath(field, refScheme string) string {
	tokens := stripParentField(parseRefPath(refScheme), field)
	parts := []string{field}
	for _, tok := range tokens {
		if !tok.isIndex {
			parts = append(parts, tok.name)
		}
	}
	return strings.Join(parts, "/")
}
