package sieve

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFilterSingleSignature(t *testing.T) {
	schema := watchSchema(t)

	filter := CreateFilter(schema, []FilterSignature{
		{Field: "name", Operator: OpContains, Value: "diver"},
	})
	require.NotNil(t, filter)
	assert.NotEmpty(t, filter.ID)
	require.Len(t, filter.Leaves, 1)
	assert.Equal(t, "name", filter.Leaves[0].Field)
	assert.Equal(t, OpContains, filter.Leaves[0].Op)
	assert.False(t, filter.IsFullTextSearch())

	fragment := filter.Fragment()
	assert.Equal(t, filter.ID, fragment["$id"])
	members := fragment["anyOf"].([]any)
	require.Len(t, members, 1)
	member := members[0].(map[string]any)
	assert.Equal(t, "object", member["type"])
	assert.Equal(t, []any{"name"}, member["required"])
	pred := member["properties"].(map[string]any)["name"].(map[string]any)
	assert.Equal(t, map[string]any{"pattern": "diver", "flags": "i"}, pred["regexp"])
}

func TestCreateFilterMultiValueOr(t *testing.T) {
	schema := watchSchema(t)

	filter := CreateFilter(schema, []FilterSignature{
		{Field: "brand", Operator: OpIs, Value: "Omega"},
		{Field: "brand", Operator: OpIs, Value: "Rolex"},
	})
	require.NotNil(t, filter)
	require.Len(t, filter.Leaves, 2)

	// Both comparisons live inside one fragment, so they OR together.
	rows := ApplyFilters([]*Filter{filter}, watchRows())
	assert.Len(t, rows, 3)
}

func TestCreateFilterOmitsUnrepresentableSignatures(t *testing.T) {
	schema := watchSchema(t)

	filter := CreateFilter(schema, []FilterSignature{
		{Field: "quantity", Operator: OpIs, Value: float64(MaxIntegerValue) + 1},
		{Field: "name", Operator: OpIs, Value: "Speedmaster"},
	})
	require.NotNil(t, filter)
	// The out-of-range integer leaf drops; the valid one survives.
	require.Len(t, filter.Leaves, 1)
	assert.Equal(t, "name", filter.Leaves[0].Field)

	// A fragment with nothing representable is omitted entirely.
	empty := CreateFilter(schema, []FilterSignature{
		{Field: "quantity", Operator: OpIs, Value: float64(MaxIntegerValue) + 1},
	})
	assert.Nil(t, empty)

	unknown := CreateFilter(schema, []FilterSignature{
		{Field: "no_such_field", Operator: OpIs, Value: "x"},
	})
	assert.Nil(t, unknown)
}

func TestCreateFilterResolvesRefScheme(t *testing.T) {
	schema := watchSchema(t)

	filter := CreateFilter(schema, []FilterSignature{
		{Field: "owner", Operator: OpIs, Value: "admin"},
	})
	require.NotNil(t, filter)
	leaf := filter.Leaves[0]
	// The first annotated scheme applies implicitly.
	assert.Equal(t, "owns__role[0].role_name", leaf.RefScheme)
	assert.Equal(t, KindString, leaf.LeafSchema().Kind())

	member := filter.Fragment()["anyOf"].([]any)[0].(map[string]any)
	wrapped := member["properties"].(map[string]any)["owner"].(map[string]any)
	inner := wrapped["properties"].(map[string]any)["owns__role"].(map[string]any)
	assert.Equal(t, "array", inner["type"])
	contains := inner["contains"].(map[string]any)
	rolePred := contains["properties"].(map[string]any)["role_name"].(map[string]any)
	assert.Equal(t, "admin", rolePred["const"])
}

func TestFilterFragmentRoundTrip(t *testing.T) {
	schema := watchSchema(t)

	tests := []struct {
		name string
		sig  FilterSignature
	}{
		{"string is", FilterSignature{Field: "name", Operator: OpIs, Value: "Speedmaster"}},
		{"string is_not", FilterSignature{Field: "name", Operator: OpIsNot, Value: "Speedmaster"}},
		{"string contains", FilterSignature{Field: "name", Operator: OpContains, Value: "master"}},
		{"string not_contains", FilterSignature{Field: "name", Operator: OpNotContains, Value: "master"}},
		{"string starts_with", FilterSignature{Field: "name", Operator: OpStartsWith, Value: "Sea"}},
		{"string ends_with", FilterSignature{Field: "name", Operator: OpEndsWith, Value: "master"}},
		{"number is_more_than", FilterSignature{Field: "price", Operator: OpIsMoreThan, Value: 6000.0}},
		{"number is_less_than", FilterSignature{Field: "price", Operator: OpIsLessThan, Value: 6000.0}},
		{"integer is", FilterSignature{Field: "quantity", Operator: OpIs, Value: 3.0}},
		{"boolean is", FilterSignature{Field: "in_stock", Operator: OpIs, Value: true}},
		{"enum is_any_of", FilterSignature{Field: "status", Operator: OpIsAnyOf, Value: []any{"draft", "published"}}},
		{"date-time is_before", FilterSignature{Field: "created_at", Operator: OpIsBefore, Value: "2024-01-01T00:00:00Z"}},
		{"date-time is_after", FilterSignature{Field: "created_at", Operator: OpIsAfter, Value: "2024-01-01T00:00:00Z"}},
		{"array contains", FilterSignature{Field: "tags", Operator: OpContains, Value: "diver"}},
		{"ref scheme is", FilterSignature{Field: "owner", Operator: OpIs, Value: "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := CreateFilter(schema, []FilterSignature{tt.sig})
			require.NotNil(t, original)

			encoded, err := json.Marshal(original)
			require.NoError(t, err)
			var fragment map[string]any
			require.NoError(t, json.Unmarshal(encoded, &fragment))

			parsed, err := ParseFilter(schema, fragment)
			require.NoError(t, err)
			require.NotNil(t, parsed)
			assert.Equal(t, original.ID, parsed.ID)
			require.Len(t, parsed.Leaves, 1)

			got, want := parsed.Leaves[0], original.Leaves[0]
			assert.Equal(t, want.Field, got.Field)
			assert.Equal(t, want.RefScheme, got.RefScheme)
			assert.Equal(t, want.Op, got.Op)
			assert.Equal(t, want.Value, got.Value)
		})
	}
}

func TestParseFilterUndecodableFragment(t *testing.T) {
	schema := watchSchema(t)

	parsed, err := ParseFilter(schema, map[string]any{"$id": "x", "anyOf": []any{}})
	require.NoError(t, err)
	assert.Nil(t, parsed)

	parsed, err = ParseFilter(schema, nil)
	require.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestParseFilterRejectsUnsupportedRegexFlags(t *testing.T) {
	schema := watchSchema(t)

	fragment := map[string]any{
		"$id": "x",
		"anyOf": []any{map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":   "string",
					"regexp": map[string]any{"pattern": "a", "flags": "gi"},
				},
			},
		}},
	}
	_, err := ParseFilter(schema, fragment)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestParseFilterDescription(t *testing.T) {
	schema := watchSchema(t)

	filter := CreateFilter(schema, []FilterSignature{
		{Field: "price", Operator: OpIsMoreThan, Value: 5000.0},
	})
	desc, err := ParseFilterDescription(schema, filter.Fragment())
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, "price", desc.Field)
	assert.Equal(t, OpIsMoreThan, desc.Operator)
	assert.Equal(t, 5000.0, desc.Value)
	assert.Equal(t, KindNumber, desc.Schema.Kind())
}

func TestCreateFullTextSearchFilter(t *testing.T) {
	schema := watchSchema(t)

	filter := CreateFullTextSearchFilter(schema, "  omega ")
	require.NotNil(t, filter)
	assert.True(t, filter.IsFullTextSearch())
	assert.Equal(t, FullTextSlug, filter.Title)

	fields := make([]string, 0, len(filter.Leaves))
	for _, leaf := range filter.Leaves {
		fields = append(fields, leaf.Field)
		assert.Equal(t, OpContains, leaf.Op)
		assert.Equal(t, "omega", leaf.Value)
	}
	// Every field that resolves to a text leaf participates, including the
	// reference-scheme carrier; non-text fields do not.
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "brand")
	assert.Contains(t, fields, "owner")
	assert.NotContains(t, fields, "price")
	assert.NotContains(t, fields, "created_at")
	assert.NotContains(t, fields, "status")

	assert.Nil(t, CreateFullTextSearchFilter(schema, "   "))
}

func TestFullTextSearchFilterMatchesRows(t *testing.T) {
	schema := watchSchema(t)

	filter := CreateFullTextSearchFilter(schema, "admin")
	rows := ApplyFilters([]*Filter{filter}, watchRows())
	// Matches via the owner reference scheme on w1 and w3.
	require.Len(t, rows, 2)
	assert.Equal(t, "w1", rows[0]["id"])
	assert.Equal(t, "w3", rows[1]["id"])
}
