package sieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListFilterQuerySingleRule(t *testing.T) {
	schema := watchSchema(t)

	filter := CreateFilter(schema, []FilterSignature{
		{Field: "name", Operator: OpContains, Value: "diver"},
	})
	query := ListFilterQuery([]*Filter{filter})
	assert.Equal(t,
		"f%5B0%5D%5Bn%5D=name&f%5B0%5D%5Bo%5D=contains&f%5B0%5D%5Bv%5D=diver",
		query)
}

func TestListFilterQueryEmpty(t *testing.T) {
	assert.Equal(t, "", ListFilterQuery(nil))
	assert.Equal(t, "", ListFilterQuery([]*Filter{nil}))
}

func TestFilterQueryRoundTrip(t *testing.T) {
	schema := watchSchema(t)

	original := []*Filter{
		CreateFilter(schema, []FilterSignature{
			{Field: "price", Operator: OpIsMoreThan, Value: 5000.0},
		}),
		CreateFilter(schema, []FilterSignature{
			{Field: "brand", Operator: OpIs, Value: "Omega"},
			{Field: "brand", Operator: OpIs, Value: "Rolex"},
		}),
		CreateFilter(schema, []FilterSignature{
			{Field: "in_stock", Operator: OpIs, Value: true},
		}),
	}

	restored, err := LoadRulesFromURL(schema, ListFilterQuery(original))
	require.NoError(t, err)
	require.Len(t, restored, 3)

	require.Len(t, restored[0].Leaves, 1)
	assert.Equal(t, OpIsMoreThan, restored[0].Leaves[0].Op)
	// Numeric values survive as numbers because the field excludes strings.
	assert.Equal(t, 5000.0, restored[0].Leaves[0].Value)

	// The OR group keeps both comparisons in one fragment.
	require.Len(t, restored[1].Leaves, 2)
	assert.Equal(t, "Omega", restored[1].Leaves[0].Value)
	assert.Equal(t, "Rolex", restored[1].Leaves[1].Value)

	assert.Equal(t, true, restored[2].Leaves[0].Value)
}

func TestFilterQueryRoundTripFullTextSearch(t *testing.T) {
	schema := watchSchema(t)

	original := CreateFullTextSearchFilter(schema, "omega")
	query := ListFilterQuery([]*Filter{original})
	assert.Contains(t, query, "full_text_search")

	restored, err := LoadRulesFromURL(schema, query)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.True(t, restored[0].IsFullTextSearch())
	assert.Equal(t, "omega", restored[0].Leaves[0].Value)
}

func TestLoadRulesFromURLEmptyInputs(t *testing.T) {
	schema := watchSchema(t)

	filters, err := LoadRulesFromURL(schema, "")
	require.NoError(t, err)
	assert.Nil(t, filters)

	filters, err = LoadRulesFromURL(nil, "f[0][o]=is")
	require.NoError(t, err)
	assert.Nil(t, filters)

	// Queries without the filter key are not an error.
	filters, err = LoadRulesFromURL(schema, "page=2&view=table")
	require.NoError(t, err)
	assert.Nil(t, filters)
}

func TestLoadRulesFromURLLeadingQuestionMark(t *testing.T) {
	schema := watchSchema(t)

	filters, err := LoadRulesFromURL(schema, "?f[0][n]=name&f[0][o]=is&f[0][v]=Speedmaster")
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, OpIs, filters[0].Leaves[0].Op)
}

func TestLoadRulesFromURLRejectsBatchWholesale(t *testing.T) {
	schema := watchSchema(t)

	tests := []struct {
		name  string
		query string
	}{
		{
			"unknown field poisons valid neighbors",
			"f[0][n]=name&f[0][o]=is&f[0][v]=x&f[1][n]=bogus&f[1][o]=is&f[1][v]=y",
		},
		{
			"operator with a space",
			"f[0][n]=name&f[0][o]=is%20not&f[0][v]=x",
		},
		{
			"unparseable query",
			"f[0=broken",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters, err := LoadRulesFromURL(schema, tt.query)
			require.Error(t, err)
			assert.Nil(t, filters)
			assert.True(t, IsInputError(err))
		})
	}
}

func TestCoerceRuleValue(t *testing.T) {
	schema := watchSchema(t)

	tests := []struct {
		name  string
		field string
		value any
		want  any
	}{
		{"number field coerces", "price", "42.5", 42.5},
		{"boolean field coerces", "in_stock", "true", true},
		{"null literal on non-string field", "price", "null", nil},
		// A string field keeps lookalike literals verbatim.
		{"string field keeps true", "name", "true", "true"},
		{"string field keeps numeral", "name", "42", "42"},
		{"nullable string keeps numeral", "brand", "42", "42"},
		{"list coerces element-wise", "price", []any{"1", "2"}, []any{1.0, 2.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prop := schema.Properties[tt.field]
			assert.Equal(t, tt.want, coerceRuleValue(prop, tt.field, tt.value))
		})
	}

	t.Run("ref scheme coerces against the leaf type", func(t *testing.T) {
		owner := schema.Properties["owner"]
		// The leaf is a string, so no coercion despite the object carrier.
		assert.Equal(t, "42", coerceRuleValue(owner, "owner", "42"))
	})
}
