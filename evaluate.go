package sieve

import (
	"reflect"
	"strings"
	"time"
)

// ApplyFilters returns the rows satisfying every filter in the list. The list
// carries AND semantics; the comparisons inside one filter carry OR semantics.
// The interpreter honors the same semantics the serialized fragments declare
// (inclusive formatMinimum/formatMaximum bounds, exclusive numeric bounds,
// case-insensitive text matching, contains over arrays).
func ApplyFilters(filters []*Filter, rows []map[string]any) []map[string]any {
	if len(filters) == 0 {
		return rows
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		if matchAll(filters, row) {
			out = append(out, row)
		}
	}
	return out
}

func matchAll(filters []*Filter, row map[string]any) bool {
	for _, filter := range filters {
		if filter == nil || len(filter.Leaves) == 0 {
			continue
		}
		if !matchFilter(filter, row) {
			return false
		}
	}
	return true
}

func matchFilter(filter *Filter, row map[string]any) bool {
	for i := range filter.Leaves {
		if matchLeaf(&filter.Leaves[i], row) {
			return true
		}
	}
	return false
}

func matchLeaf(leaf *FilterLeaf, row map[string]any) bool {
	value, ok := row[leaf.Field]
	if !ok || value == nil {
		// The serialized member requires the field to be present.
		return false
	}
	pred := leafComparison(leaf)
	if pred == nil {
		return false
	}
	if leaf.RefScheme == "" {
		return pred(value)
	}
	tokens := stripParentField(parseRefPath(leaf.RefScheme), leaf.Field)
	return evalAtPath(value, tokens, pred)
}

// evalAtPath walks a value along reference-scheme tokens; array levels match
// when some element matches, mirroring the contains predicates the encoder
// emits for them.
func evalAtPath(value any, tokens []refToken, pred func(any) bool) bool {
	if len(tokens) == 0 {
		return pred(value)
	}
	tok := tokens[0]
	if arr, ok := value.([]any); ok {
		rest := tokens
		if tok.isIndex {
			rest = tokens[1:]
		}
		for _, item := range arr {
			if evalAtPath(item, rest, pred) {
				return true
			}
		}
		return false
	}
	if tok.isIndex {
		return evalAtPath(value, tokens[1:], pred)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return false
	}
	child, ok := obj[tok.name]
	if !ok || child == nil {
		return false
	}
	return evalAtPath(child, tokens[1:], pred)
}

// leafComparison builds the scalar predicate for one comparison.
func leafComparison(leaf *FilterLeaf) func(any) bool {
	kind := leaf.leaf.Kind()
	op := leaf.Op
	want := leaf.Value
	switch kind {
	case KindString:
		return stringComparison(op, want)
	case KindNumber, KindInteger:
		return numberComparison(op, want)
	case KindBoolean:
		return booleanComparison(op, want)
	case KindDateTime:
		return dateTimeComparison(op, want)
	case KindEnum, KindOneOf:
		return enumComparison(op, want)
	case KindObject:
		return objectComparison(op, want)
	case KindArray:
		return arrayComparison(op, want)
	}
	return nil
}

func stringComparison(op Operator, want any) func(any) bool {
	term, ok := want.(string)
	if !ok {
		return nil
	}
	lowered := strings.ToLower(term)
	match := func(value any, positive func(string) bool) bool {
		text, ok := value.(string)
		if !ok {
			return false
		}
		return positive(strings.ToLower(text))
	}
	switch op {
	case OpIs:
		return func(v any) bool { text, ok := v.(string); return ok && text == term }
	case OpIsNot:
		return func(v any) bool { text, ok := v.(string); return ok && text != term }
	case OpContains:
		return func(v any) bool { return match(v, func(s string) bool { return strings.Contains(s, lowered) }) }
	case OpNotContains:
		return func(v any) bool { return match(v, func(s string) bool { return !strings.Contains(s, lowered) }) }
	case OpStartsWith:
		return func(v any) bool { return match(v, func(s string) bool { return strings.HasPrefix(s, lowered) }) }
	case OpNotStartsWith:
		return func(v any) bool { return match(v, func(s string) bool { return !strings.HasPrefix(s, lowered) }) }
	case OpEndsWith:
		return func(v any) bool { return match(v, func(s string) bool { return strings.HasSuffix(s, lowered) }) }
	case OpNotEndsWith:
		return func(v any) bool { return match(v, func(s string) bool { return !strings.HasSuffix(s, lowered) }) }
	}
	return nil
}

func numberComparison(op Operator, want any) func(any) bool {
	bound, ok := coerceNumber(want)
	if !ok {
		return nil
	}
	compare := func(value any, test func(float64) bool) bool {
		n, ok := numericValue(value)
		return ok && test(n)
	}
	switch op {
	case OpIs:
		return func(v any) bool { return compare(v, func(n float64) bool { return n == bound }) }
	case OpIsNot:
		return func(v any) bool { return compare(v, func(n float64) bool { return n != bound }) }
	case OpIsMoreThan:
		return func(v any) bool { return compare(v, func(n float64) bool { return n > bound }) }
	case OpIsLessThan:
		return func(v any) bool { return compare(v, func(n float64) bool { return n < bound }) }
	}
	return nil
}

func booleanComparison(op Operator, want any) func(any) bool {
	b, ok := coerceBool(want)
	if !ok || op != OpIs {
		return nil
	}
	return func(v any) bool {
		actual, ok := v.(bool)
		return ok && actual == b
	}
}

func dateTimeComparison(op Operator, want any) func(any) bool {
	if text, isText := want.(string); isText {
		bound, ok := parseTimestamp(text)
		if !ok {
			return nil
		}
		compare := func(value any, test func(time.Time) bool) bool {
			raw, ok := value.(string)
			if !ok {
				return false
			}
			t, ok := parseTimestamp(raw)
			return ok && test(t)
		}
		switch op {
		case OpIs:
			return func(v any) bool { return compare(v, func(t time.Time) bool { return t.Equal(bound) }) }
		case OpIsBefore:
			// formatMaximum is an inclusive bound.
			return func(v any) bool { return compare(v, func(t time.Time) bool { return !t.After(bound) }) }
		case OpIsAfter:
			return func(v any) bool { return compare(v, func(t time.Time) bool { return !t.Before(bound) }) }
		}
		return nil
	}
	// Numeric timestamps compare as plain numbers with exclusive bounds.
	switch op {
	case OpIs:
		return numberComparison(OpIs, want)
	case OpIsBefore:
		return numberComparison(OpIsLessThan, want)
	case OpIsAfter:
		return numberComparison(OpIsMoreThan, want)
	}
	return nil
}

func parseTimestamp(value string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t.Truncate(time.Second), true
}

func enumComparison(op Operator, want any) func(any) bool {
	switch op {
	case OpIs:
		return func(v any) bool { return equalValues(v, want) }
	case OpIsNot:
		return func(v any) bool { return !equalValues(v, want) }
	case OpIsAnyOf:
		values, ok := anySlice(want)
		if !ok {
			return nil
		}
		return func(v any) bool {
			for _, candidate := range values {
				if equalValues(v, candidate) {
					return true
				}
			}
			return false
		}
	}
	return nil
}

func objectComparison(op Operator, want any) func(any) bool {
	pairs, ok := want.(map[string]any)
	if !ok || len(pairs) == 0 {
		return nil
	}
	matches := func(v any) bool {
		obj, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for key, expected := range pairs {
			actual, ok := obj[key]
			if !ok || !equalValues(actual, expected) {
				return false
			}
		}
		return true
	}
	switch op {
	case OpIs:
		return matches
	case OpIsNot:
		return func(v any) bool { return !matches(v) }
	}
	return nil
}

func arrayComparison(op Operator, want any) func(any) bool {
	item := itemMatcher(want)
	contains := func(v any) bool {
		arr, ok := v.([]any)
		if !ok {
			return false
		}
		for _, element := range arr {
			if item(element) {
				return true
			}
		}
		return false
	}
	switch op {
	case OpContains:
		return contains
	case OpNotContains:
		return func(v any) bool {
			if _, ok := v.([]any); !ok {
				return false
			}
			return !contains(v)
		}
	}
	return nil
}

func itemMatcher(want any) func(any) bool {
	if pairs, ok := want.(map[string]any); ok && len(pairs) > 0 {
		return func(v any) bool {
			obj, ok := v.(map[string]any)
			if !ok {
				return false
			}
			for key, expected := range pairs {
				actual, ok := obj[key]
				if !ok || !equalValues(actual, expected) {
					return false
				}
			}
			return true
		}
	}
	return func(v any) bool { return equalValues(v, want) }
}

// numericValue accepts only genuinely numeric values; strings never compare
// as numbers.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// equalValues compares loosely across numeric representations and deeply
// otherwise.
func equalValues(a, b any) bool {
	if an, ok := numericValue(a); ok {
		if bn, ok := numericValue(b); ok {
			return an == bn
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}
