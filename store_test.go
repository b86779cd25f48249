package sieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	_, ok := store.Get("missing")
	assert.False(t, ok)

	require.NoError(t, store.Set("k", "v"))
	value, ok := store.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", value)

	require.NoError(t, store.Delete("k"))
	_, ok = store.Get("k")
	assert.False(t, ok)
}

func TestPreferenceStoreKeysAreNamespaced(t *testing.T) {
	store := NewMemoryStore()
	prefs := NewPreferenceStore(store, "watches")

	require.NoError(t, prefs.SaveItemsPerPage(25))
	raw, ok := store.Get("watches__items_per_page")
	require.True(t, ok)
	assert.Equal(t, "25", raw)

	// Another resource sees nothing.
	other := NewPreferenceStore(store, "orders")
	assert.Zero(t, other.ItemsPerPage())
}

func TestPreferenceStoreColumnRoundTrip(t *testing.T) {
	schema := watchSchema(t)
	prefs := NewPreferenceStore(NewMemoryStore(), "watches")

	columns := ColumnsFromSchema(schema, ColumnOptions{})
	columns[0].Selected = false
	require.NoError(t, prefs.SaveColumns(columns))

	stored := prefs.Columns()
	require.Len(t, stored, len(columns))
	assert.Equal(t, columns[0].Key, stored[0].Key)
	assert.False(t, stored[0].Selected)
}

func TestPreferenceStoreSortRoundTrip(t *testing.T) {
	prefs := NewPreferenceStore(NewMemoryStore(), "watches")

	assert.Nil(t, prefs.Sort())

	require.NoError(t, prefs.SaveSort(StoredSort{
		Key: "name_0", Field: "name", Direction: SortDesc,
	}))
	stored := prefs.Sort()
	require.NotNil(t, stored)
	assert.Equal(t, "name", stored.Field)
	assert.Equal(t, SortDesc, stored.Direction)
}

func TestPreferenceStoreCorruptPayloadIsAbsent(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set("watches__sort", "{not json"))
	require.NoError(t, store.Set("watches__items_per_page", "many"))

	prefs := NewPreferenceStore(store, "watches")
	assert.Nil(t, prefs.Sort())
	assert.Zero(t, prefs.ItemsPerPage())
}

func TestPreferenceStoreLens(t *testing.T) {
	prefs := NewPreferenceStore(NewMemoryStore(), "watches")

	assert.Equal(t, ViewLens(""), prefs.Lens())
	require.NoError(t, prefs.SaveLens(LensGrid))
	assert.Equal(t, LensGrid, prefs.Lens())
}

func TestSavedViews(t *testing.T) {
	schema := watchSchema(t)
	prefs := NewPreferenceStore(NewMemoryStore(), "watches")

	filters := []*Filter{
		CreateFilter(schema, []FilterSignature{
			{Field: "brand", Operator: OpIs, Value: "Omega"},
		}),
	}

	view, err := prefs.SaveView("omega only", filters)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.NotEmpty(t, view.ID)

	views := prefs.Views()
	require.Len(t, views, 1)
	assert.Equal(t, "omega only", views[0].Name)

	restored := prefs.LoadView(schema, view.ID)
	require.Len(t, restored, 1)
	require.Len(t, restored[0].Leaves, 1)
	assert.Equal(t, "brand", restored[0].Leaves[0].Field)
	assert.Equal(t, OpIs, restored[0].Leaves[0].Op)
	assert.Equal(t, "Omega", restored[0].Leaves[0].Value)

	require.NoError(t, prefs.DeleteView(view.ID))
	assert.Empty(t, prefs.Views())
	assert.Nil(t, prefs.LoadView(schema, view.ID))
}

func TestSaveViewValidation(t *testing.T) {
	schema := watchSchema(t)
	prefs := NewPreferenceStore(NewMemoryStore(), "watches")

	_, err := prefs.SaveView("", []*Filter{
		CreateFilter(schema, []FilterSignature{
			{Field: "brand", Operator: OpIs, Value: "Omega"},
		}),
	})
	require.Error(t, err)
	assert.True(t, IsInputError(err))

	_, err = prefs.SaveView("empty", nil)
	require.Error(t, err)
}
