package sieve

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts EngineOptions) *Engine {
	t.Helper()
	if opts.Resource == "" {
		opts.Resource = "watches"
	}
	engine, err := NewEngine(watchSchema(t), opts)
	require.NoError(t, err)
	return engine
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(nil, EngineOptions{Resource: "watches"})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	_, err = NewEngine(watchSchema(t), EngineOptions{})
	require.Error(t, err)
}

func TestEngineDerivesColumns(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{})

	columns := engine.Columns()
	require.Len(t, columns, 11)
	assert.Equal(t, "name_0", columns[0].Key)
}

func TestEngineFilterLifecycle(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{})
	require.Empty(t, engine.Filters())

	gen := engine.AddFilter([]FilterSignature{
		{Field: "brand", Operator: OpIs, Value: "Omega"},
	})
	assert.Equal(t, gen, engine.Generation())
	require.Len(t, engine.Filters(), 1)

	id := engine.Filters()[0].ID
	next := engine.RemoveFilter(id)
	assert.Greater(t, next, gen)
	assert.Empty(t, engine.Filters())

	// Unrepresentable signatures leave state and generation untouched.
	same := engine.AddFilter([]FilterSignature{
		{Field: "quantity", Operator: OpIs, Value: float64(MaxIntegerValue) + 1},
	})
	assert.Equal(t, next, same)
	assert.Empty(t, engine.Filters())
}

func TestEngineFullTextSearchReplaces(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{})

	engine.SetFullTextSearch("omega")
	require.Len(t, engine.Filters(), 1)
	assert.True(t, engine.Filters()[0].IsFullTextSearch())

	engine.SetFullTextSearch("rolex")
	require.Len(t, engine.Filters(), 1)
	assert.Equal(t, "rolex", engine.Filters()[0].Leaves[0].Value)

	engine.SetFullTextSearch("")
	assert.Empty(t, engine.Filters())
}

func TestEngineQueryStringRoundTrip(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{})
	engine.AddFilter([]FilterSignature{
		{Field: "price", Operator: OpIsMoreThan, Value: 5000.0},
	})

	query := engine.FiltersQuery()
	require.NotEmpty(t, query)

	second := newTestEngine(t, EngineOptions{Resource: "watches2"})
	require.NoError(t, second.LoadFromQuery(query))
	require.Len(t, second.Filters(), 1)
	assert.Equal(t, OpIsMoreThan, second.Filters()[0].Leaves[0].Op)
}

func TestEngineLoadFromQueryClearsOnError(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{})
	engine.AddFilter([]FilterSignature{
		{Field: "brand", Operator: OpIs, Value: "Omega"},
	})
	require.Len(t, engine.Filters(), 1)

	err := engine.LoadFromQuery("f[0][n]=bogus&f[0][o]=is&f[0][v]=x")
	require.Error(t, err)
	// The malformed batch also discards the previously active filters.
	assert.Empty(t, engine.Filters())
}

func TestEngineSortToggleAndPersistence(t *testing.T) {
	store := NewMemoryStore()
	engine := newTestEngine(t, EngineOptions{Store: store})

	engine.SetSort("name_0")
	sortInfo := engine.Sort()
	require.NotNil(t, sortInfo)
	assert.Equal(t, "name", sortInfo.Field)
	assert.Equal(t, SortAsc, sortInfo.Direction)

	// Sorting the same column again flips direction.
	engine.SetSort("name_0")
	assert.Equal(t, SortDesc, engine.Sort().Direction)

	// Unsortable columns are ignored.
	before := engine.Sort()
	engine.SetSort("label_10")
	assert.Equal(t, before, engine.Sort())

	// A fresh engine over the same store restores the sort.
	restored := newTestEngine(t, EngineOptions{Store: store})
	require.NotNil(t, restored.Sort())
	assert.Equal(t, SortDesc, restored.Sort().Direction)
}

func TestEnginePaginationPersistence(t *testing.T) {
	store := NewMemoryStore()
	engine := newTestEngine(t, EngineOptions{Store: store, ItemsPerPage: 10})

	engine.SetPage(3)
	assert.Equal(t, 3, engine.Page())

	engine.SetItemsPerPage(25)
	// Page size changes return to the first page.
	assert.Equal(t, 0, engine.Page())
	assert.Equal(t, 25, engine.ItemsPerPage())

	restored := newTestEngine(t, EngineOptions{Store: store})
	assert.Equal(t, 25, restored.ItemsPerPage())
}

func TestEngineVisibleRows(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{ItemsPerPage: 2})
	rows := watchRows()

	assert.Equal(t, []string{"w1", "w2"}, rowIDs(engine.VisibleRows(rows)))

	engine.SetPage(1)
	assert.Equal(t, []string{"w3"}, rowIDs(engine.VisibleRows(rows)))

	engine.SetPage(0)
	engine.AddFilter([]FilterSignature{
		{Field: "in_stock", Operator: OpIs, Value: true},
	})
	engine.SetSort("price_2")
	assert.Equal(t, []string{"w1", "w3"}, rowIDs(engine.VisibleRows(rows)))

	engine.SetSort("price_2")
	assert.Equal(t, []string{"w3", "w1"}, rowIDs(engine.VisibleRows(rows)))
}

func TestEngineServerQuery(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{ServerSide: true, ItemsPerPage: 20})
	engine.AddFilter([]FilterSignature{
		{Field: "brand", Operator: OpIs, Value: "Omega"},
	})
	engine.SetSort("name_0")
	engine.SetPage(2)

	request, err := engine.ServerQuery()
	require.NoError(t, err)
	assert.Equal(t, PineFilter{"brand": "Omega"}, request.Filter)
	assert.Equal(t, []string{"name asc", "id asc"}, request.OrderBy)
	assert.Equal(t, 20, request.Top)
	assert.Equal(t, 40, request.Skip)
}

func TestEngineServerQueryEmptyState(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{ServerSide: true, ItemsPerPage: 50})

	request, err := engine.ServerQuery()
	require.NoError(t, err)
	assert.Nil(t, request.Filter)
	assert.Nil(t, request.OrderBy)
	assert.Equal(t, 50, request.Top)
	assert.Equal(t, 0, request.Skip)
}

func TestEngineSelection(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{})

	assert.Equal(t, SelectionNone, engine.SelectionState(3))

	engine.Select("w1", true)
	assert.True(t, engine.IsSelected("w1"))
	assert.False(t, engine.IsSelected("w2"))
	assert.Equal(t, SelectionSome, engine.SelectionState(3))
	assert.ElementsMatch(t, []string{"w1"}, engine.SelectedIDs())

	engine.Select("w2", true)
	engine.Select("w3", true)
	assert.Equal(t, SelectionAll, engine.SelectionState(3))

	engine.Select("w2", false)
	assert.Equal(t, SelectionSome, engine.SelectionState(3))

	engine.SelectAllPages()
	assert.Equal(t, SelectionAll, engine.SelectionState(3))
	assert.True(t, engine.IsSelected("w2"))
	assert.Nil(t, engine.SelectedIDs())

	engine.ClearSelection()
	assert.Equal(t, SelectionNone, engine.SelectionState(3))
}

func TestEngineFilterChangeResetsSelectionAndPage(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{})
	engine.Select("w1", true)
	engine.SetPage(4)

	engine.AddFilter([]FilterSignature{
		{Field: "brand", Operator: OpIs, Value: "Omega"},
	})
	assert.Equal(t, 0, engine.Page())
	assert.False(t, engine.IsSelected("w1"))
}

func TestEngineGenerationDiscardsStaleResponses(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{})

	first := engine.AddFilter([]FilterSignature{
		{Field: "brand", Operator: OpIs, Value: "Omega"},
	})
	assert.True(t, engine.Current(first))

	second := engine.ClearFilters()
	assert.False(t, engine.Current(first))
	assert.True(t, engine.Current(second))
}

func TestEngineColumnLayoutPersistence(t *testing.T) {
	store := NewMemoryStore()
	engine := newTestEngine(t, EngineOptions{Store: store})

	columns := engine.Columns()
	columns[0].Selected = false
	engine.SetColumns(columns)

	restored := newTestEngine(t, EngineOptions{Store: store})
	assert.False(t, restored.Columns()[0].Selected)
}

func TestDebouncerCoalesces(t *testing.T) {
	debouncer := NewDebouncer(20 * time.Millisecond)

	var mu sync.Mutex
	calls := 0
	for i := 0; i < 5; i++ {
		debouncer.Trigger(func() {
			mu.Lock()
			calls++
			mu.Unlock()
		})
	}
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestDebouncerStop(t *testing.T) {
	debouncer := NewDebouncer(20 * time.Millisecond)

	called := make(chan struct{}, 1)
	debouncer.Trigger(func() { called <- struct{}{} })
	debouncer.Stop()

	select {
	case <-called:
		t.Fatal("debounced call ran after Stop")
	case <-time.After(60 * time.Millisecond):
	}
}
