package sieve

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Operator is a filter operator slug.
type Operator string

const (
	OpIs            Operator = "is"
	OpIsNot         Operator = "is_not"
	OpContains      Operator = "contains"
	OpNotContains   Operator = "not_contains"
	OpStartsWith    Operator = "starts_with"
	OpNotStartsWith Operator = "not_starts_with"
	OpEndsWith      Operator = "ends_with"
	OpNotEndsWith   Operator = "not_ends_with"
	OpIsMoreThan    Operator = "is_more_than"
	OpIsLessThan    Operator = "is_less_than"
	OpIsBefore      Operator = "is_before"
	OpIsAfter       Operator = "is_after"
	OpIsAnyOf       Operator = "is_any_of"
)

// FullTextSlug tags full-text-search fragments apart from structured filters.
const FullTextSlug = "full_text_search"

// MaxIntegerValue is the largest value accepted for integer fields. It models
// the 32-bit signed column width of the backing store.
const MaxIntegerValue = 2147483647

// Operators returns the operator vocabulary valid for a property, keyed by
// slug with human-readable labels.
func Operators(p *Property) map[Operator]string {
	switch p.Kind() {
	case KindString:
		return map[Operator]string{
			OpIs:            "is",
			OpIsNot:         "is not",
			OpContains:      "contains",
			OpNotContains:   "does not contain",
			OpStartsWith:    "starts with",
			OpNotStartsWith: "does not start with",
			OpEndsWith:      "ends with",
			OpNotEndsWith:   "does not end with",
		}
	case KindNumber, KindInteger:
		return map[Operator]string{
			OpIs:         "is",
			OpIsNot:      "is not",
			OpIsMoreThan: "is more than",
			OpIsLessThan: "is less than",
		}
	case KindBoolean:
		return map[Operator]string{
			OpIs: "is",
		}
	case KindDateTime:
		return map[Operator]string{
			OpIs:       "is",
			OpIsBefore: "is before",
			OpIsAfter:  "is after",
		}
	case KindEnum:
		return map[Operator]string{
			OpIs:      "is",
			OpIsNot:   "is not",
			OpIsAnyOf: "is any of",
		}
	case KindOneOf:
		return map[Operator]string{
			OpIs:    "is",
			OpIsNot: "is not",
		}
	case KindObject:
		return map[Operator]string{
			OpIs:    "is",
			OpIsNot: "is not",
		}
	case KindArray:
		return map[Operator]string{
			OpContains:    "contains",
			OpNotContains: "does not contain",
		}
	}
	return nil
}

// validateRegexFlags rejects any flag combination other than "" and "i".
// Downstream compilation only special-cases case-insensitivity.
func validateRegexFlags(flags string) error {
	for _, flag := range flags {
		if flag != 'i' {
			return NewUnsupportedRegexFlagError(flags)
		}
	}
	return nil
}

// compileRegex compiles a fragment regex honoring the "i" flag.
func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	if err := validateRegexFlags(flags); err != nil {
		return nil, err
	}
	if strings.Contains(flags, "i") {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

// unquoteMeta inverts regexp.QuoteMeta so the server-query compiler can
// recover the literal a contains/starts/ends-with pattern was built from.
func unquoteMeta(pattern string) string {
	var b strings.Builder
	escaped := false
	for _, r := range pattern {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// coerceNumber converts a filter value into a float64. ok is false when the
// value cannot be interpreted numerically.
func coerceNumber(value any) (float64, bool) {
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
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// coerceBool converts a filter value into a bool.
func coerceBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	return false, false
}

// normalizeTimestamp brings a string timestamp into RFC3339 form with
// sub-second precision stripped. ok is false for unparseable input.
func normalizeTimestamp(value string) (string, bool) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return "", false
		}
	}
	return t.Truncate(time.Second).Format(time.RFC3339), true
}

// Predicate is the JSON-Schema-shaped encoding of a single leaf comparison.
type Predicate map[string]any

// createLeafPredicate builds the predicate for one (operator, value) pair on
// a property. A nil predicate with ok=false signals "no-op / unrepresentable
// filter": the caller omits the leaf. It never means match-everything or
// match-nothing, and construction never fails hard.
func createLeafPredicate(p *Property, op Operator, value any) (Predicate, bool) {
	if p == nil {
		return nil, false
	}
	if _, valid := Operators(p)[op]; !valid {
		return nil, false
	}
	switch p.Kind() {
	case KindString:
		return stringPredicate(op, value)
	case KindNumber, KindInteger:
		return numberPredicate(p, op, value)
	case KindBoolean:
		return booleanPredicate(op, value)
	case KindDateTime:
		return dateTimePredicate(op, value)
	case KindEnum:
		return enumPredicate(op, value)
	case KindOneOf:
		return oneOfPredicate(op, value)
	case KindObject:
		return objectPredicate(op, value)
	case KindArray:
		return arrayPredicate(op, value)
	}
	return nil, false
}

func stringPredicate(op Operator, value any) (Predicate, bool) {
	text, ok := value.(string)
	if !ok {
		return nil, false
	}
	switch op {
	case OpIs:
		return Predicate{"type": "string", "const": text}, true
	case OpIsNot:
		return negate(Predicate{"type": "string", "const": text}), true
	case OpContains:
		return regexPredicate(regexp.QuoteMeta(text), ""), true
	case OpNotContains:
		return negate(regexPredicate(regexp.QuoteMeta(text), "")), true
	case OpStartsWith:
		return regexPredicate("^"+regexp.QuoteMeta(text), string(OpStartsWith)), true
	case OpNotStartsWith:
		return negate(regexPredicate("^"+regexp.QuoteMeta(text), string(OpStartsWith))), true
	case OpEndsWith:
		return regexPredicate(regexp.QuoteMeta(text)+"$", string(OpEndsWith)), true
	case OpNotEndsWith:
		return negate(regexPredicate(regexp.QuoteMeta(text)+"$", string(OpEndsWith))), true
	}
	return nil, false
}

// regexPredicate emits the extended regexp keyword; the $comment hint lets the
// server-query compiler distinguish anchored matches without re-deriving them
// from the pattern shape.
func regexPredicate(pattern, comment string) Predicate {
	pred := Predicate{
		"type":   "string",
		"regexp": map[string]any{"pattern": pattern, "flags": "i"},
	}
	if comment != "" {
		pred["$comment"] = comment
	}
	return pred
}

// negate wraps a predicate's comparison keywords in "not", keeping "type" at
// the outer level.
func negate(pred Predicate) Predicate {
	inner := make(map[string]any, len(pred))
	out := Predicate{}
	for key, val := range pred {
		if key == "type" || key == "format" {
			out[key] = val
			continue
		}
		inner[key] = val
	}
	out["not"] = inner
	return out
}

func numberPredicate(p *Property, op Operator, value any) (Predicate, bool) {
	n, ok := coerceNumber(value)
	if !ok || math.IsNaN(n) {
		return nil, false
	}
	if p.Kind() == KindInteger {
		if n != math.Trunc(n) || n > MaxIntegerValue || n < -MaxIntegerValue-1 {
			return nil, false
		}
	}
	switch op {
	case OpIs:
		return Predicate{"type": "number", "const": n}, true
	case OpIsNot:
		return negate(Predicate{"type": "number", "const": n}), true
	case OpIsMoreThan:
		return Predicate{"type": "number", "exclusiveMinimum": n}, true
	case OpIsLessThan:
		return Predicate{"type": "number", "exclusiveMaximum": n}, true
	}
	return nil, false
}

func booleanPredicate(op Operator, value any) (Predicate, bool) {
	b, ok := coerceBool(value)
	if !ok || op != OpIs {
		return nil, false
	}
	return Predicate{"type": "boolean", "const": b}, true
}

// dateTimePredicate keeps numeric timestamps numeric and string timestamps as
// date-time formatted strings; the two representations never mix within one
// predicate.
func dateTimePredicate(op Operator, value any) (Predicate, bool) {
	if text, isText := value.(string); isText {
		normalized, ok := normalizeTimestamp(text)
		if !ok {
			return nil, false
		}
		switch op {
		case OpIs:
			return Predicate{"type": "string", "format": "date-time", "const": normalized}, true
		case OpIsBefore:
			return Predicate{"type": "string", "format": "date-time", "formatMaximum": normalized}, true
		case OpIsAfter:
			return Predicate{"type": "string", "format": "date-time", "formatMinimum": normalized}, true
		}
		return nil, false
	}
	n, ok := coerceNumber(value)
	if !ok || math.IsNaN(n) {
		return nil, false
	}
	switch op {
	case OpIs:
		return Predicate{"type": "number", "const": n}, true
	case OpIsBefore:
		return Predicate{"type": "number", "exclusiveMaximum": n}, true
	case OpIsAfter:
		return Predicate{"type": "number", "exclusiveMinimum": n}, true
	}
	return nil, false
}

func enumPredicate(op Operator, value any) (Predicate, bool) {
	switch op {
	case OpIs:
		return Predicate{"const": value}, true
	case OpIsNot:
		return Predicate{"not": map[string]any{"const": value}}, true
	case OpIsAnyOf:
		values, ok := anySlice(value)
		if !ok || len(values) == 0 {
			return nil, false
		}
		return Predicate{"enum": values}, true
	}
	return nil, false
}

func oneOfPredicate(op Operator, value any) (Predicate, bool) {
	switch op {
	case OpIs:
		return Predicate{"const": value}, true
	case OpIsNot:
		return Predicate{"not": map[string]any{"const": value}}, true
	}
	return nil, false
}

func objectPredicate(op Operator, value any) (Predicate, bool) {
	pairs, ok := value.(map[string]any)
	if !ok || len(pairs) == 0 {
		return nil, false
	}
	keys := make([]string, 0, len(pairs))
	props := make(map[string]any, len(pairs))
	for key, val := range pairs {
		keys = append(keys, key)
		props[key] = map[string]any{"const": val}
	}
	sort.Strings(keys)
	body := map[string]any{"properties": props, "required": keys}
	switch op {
	case OpIs:
		return Predicate{"type": "object", "properties": props, "required": keys}, true
	case OpIsNot:
		return Predicate{"type": "object", "not": body}, true
	}
	return nil, false
}

func arrayPredicate(op Operator, value any) (Predicate, bool) {
	item := itemPredicate(value)
	switch op {
	case OpContains:
		return Predicate{"type": "array", "minItems": 1, "contains": item}, true
	case OpNotContains:
		return Predicate{"type": "array", "not": map[string]any{"contains": item}}, true
	}
	return nil, false
}

// itemPredicate matches one array element: a map value matches by nested
// const properties, anything else by direct const equality.
func itemPredicate(value any) map[string]any {
	if pairs, ok := value.(map[string]any); ok && len(pairs) > 0 {
		keys := make([]string, 0, len(pairs))
		props := make(map[string]any, len(pairs))
		for key, val := range pairs {
			keys = append(keys, key)
			props[key] = map[string]any{"const": val}
		}
		sort.Strings(keys)
		return map[string]any{"type": "object", "properties": props, "required": keys}
	}
	return map[string]any{"const": value}
}

// anySlice normalizes a value into []any, accepting typed slices.
func anySlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, true
	}
	return nil, false
}
