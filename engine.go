package sieve

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SelectionState is the tri-state of the select-all control.
type SelectionState string

const (
	SelectionNone SelectionState = "none"
	SelectionSome SelectionState = "some"
	SelectionAll  SelectionState = "all"
)

// ServerQuery is the request payload for server-driven data loading: the
// compiled filter, the orderby clauses, and the pagination window.
type ServerQuery struct {
	Filter  PineFilter `json:"filter,omitempty"`
	OrderBy []string   `json:"orderby,omitempty"`
	Top     int        `json:"top"`
	Skip    int        `json:"skip"`
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Resource namespaces persisted preferences; required.
	Resource string
	// ServerSide switches the engine from client-side evaluation to
	// ServerQuery emission.
	ServerSide bool
	// ItemsPerPage is the default page size when no preference is stored.
	ItemsPerPage int
	Priorities   *PriorityPartition
	CustomSort   map[string]any
	Store        Store
	Logger       *zap.Logger
}

const defaultItemsPerPage = 50

// Engine holds the live query state of one resource table: filters, sort,
// pagination window, column layout, and row selection. All accessors are
// safe for concurrent use. Mutations persist the relevant preference and
// bump the query generation so callers can discard stale responses.
type Engine struct {
	mu sync.RWMutex

	schema     *Schema
	options    EngineOptions
	prefs      *PreferenceStore
	logger     *zap.Logger
	customSort map[string]any

	columns      []Column
	filters      []*Filter
	sort         *Sort
	page         int
	itemsPerPage int
	lens         ViewLens

	selected map[string]bool
	allPages bool

	generation uint64
}

// NewEngine builds an engine for one resource schema, restoring any
// persisted preferences. A nil store disables persistence.
func NewEngine(schema *Schema, options EngineOptions) (*Engine, error) {
	if schema == nil {
		return nil, NewConfigError(ErrCodeInvalidSchema, "schema must not be nil")
	}
	if options.Resource == "" {
		return nil, NewConfigError(ErrCodeInvalidSchema, "resource name must not be empty")
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := options.Store
	if store == nil {
		store = NewMemoryStore()
	}
	e := &Engine{
		schema:       schema,
		options:      options,
		prefs:        NewPreferenceStore(store, options.Resource),
		logger:       logger.With(zap.String("resource", options.Resource)),
		customSort:   options.CustomSort,
		itemsPerPage: options.ItemsPerPage,
		selected:     make(map[string]bool),
		lens:         LensTable,
	}
	if e.itemsPerPage <= 0 {
		e.itemsPerPage = defaultItemsPerPage
	}
	e.restore()
	return e, nil
}

func (e *Engine) restore() {
	derived := ColumnsFromSchema(e.schema, ColumnOptions{
		Priorities: e.options.Priorities,
		CustomSort: e.customSort,
	})
	e.columns = MergeColumnPreferences(derived, e.prefs.Columns())
	if stored := e.prefs.Sort(); stored != nil {
		for _, col := range e.columns {
			if col.Key == stored.Key && col.Sortable.Enabled {
				e.sort = &Sort{
					Field:     stored.Field,
					Direction: stored.Direction,
					RefScheme: stored.RefScheme,
				}
				break
			}
		}
	}
	if size := e.prefs.ItemsPerPage(); size > 0 {
		e.itemsPerPage = size
	}
	if lens := e.prefs.Lens(); lens != "" {
		e.lens = lens
	}
}

// Columns returns the current column layout in display order.
func (e *Engine) Columns() []Column {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Column, len(e.columns))
	copy(out, e.columns)
	return out
}

// SetColumns replaces the column layout and persists it. Keys that do not
// derive from the schema are dropped.
func (e *Engine) SetColumns(columns []Column) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stored := make([]StoredColumn, 0, len(columns))
	for _, col := range columns {
		stored = append(stored, StoredColumn{Key: col.Key, Selected: col.Selected, Index: col.Index})
	}
	derived := ColumnsFromSchema(e.schema, ColumnOptions{
		Priorities: e.options.Priorities,
		CustomSort: e.customSort,
	})
	e.columns = MergeColumnPreferences(derived, stored)
	if err := e.prefs.SaveColumns(e.columns); err != nil {
		e.logger.Warn("persisting column layout failed", zap.Error(err))
	}
}

// Filters returns the active filter list.
func (e *Engine) Filters() []*Filter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Filter, len(e.filters))
	copy(out, e.filters)
	return out
}

// SetFilters replaces the active filters, resets pagination to the first
// page, clears the selection, and bumps the query generation.
func (e *Engine) SetFilters(filters []*Filter) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := make([]*Filter, 0, len(filters))
	for _, filter := range filters {
		if filter != nil && len(filter.Leaves) > 0 {
			kept = append(kept, filter)
		}
	}
	e.filters = kept
	e.page = 0
	e.resetSelectionLocked()
	e.logger.Debug("filters changed", zap.Int("count", len(kept)))
	return e.bumpLocked()
}

// AddFilter appends one filter built from signatures; a nil result (no
// representable signature) leaves the state untouched.
func (e *Engine) AddFilter(signatures []FilterSignature) uint64 {
	filter := CreateFilter(e.schema, signatures)
	if filter == nil {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.generation
	}
	return e.SetFilters(append(e.Filters(), filter))
}

// RemoveFilter drops the filter with the given id; unknown ids no-op.
func (e *Engine) RemoveFilter(id string) uint64 {
	filters := e.Filters()
	kept := filters[:0]
	for _, filter := range filters {
		if filter.ID != id {
			kept = append(kept, filter)
		}
	}
	return e.SetFilters(kept)
}

// ClearFilters removes every active filter.
func (e *Engine) ClearFilters() uint64 {
	return e.SetFilters(nil)
}

// SetFullTextSearch replaces any existing full-text filter with one over the
// given term; an empty term just removes it.
func (e *Engine) SetFullTextSearch(term string) uint64 {
	kept := make([]*Filter, 0)
	for _, filter := range e.Filters() {
		if !filter.IsFullTextSearch() {
			kept = append(kept, filter)
		}
	}
	if term != "" {
		if filter := CreateFullTextSearchFilter(e.schema, term); filter != nil {
			kept = append(kept, filter)
		}
	}
	return e.SetFilters(kept)
}

// FiltersQuery renders the active filters as a URL query string.
func (e *Engine) FiltersQuery() string {
	return ListFilterQuery(e.Filters())
}

// LoadFromQuery restores filters from a URL query string. On malformed
// input every rule is discarded, the active filters are cleared, and the
// error is returned so the caller can also clear the URL.
func (e *Engine) LoadFromQuery(query string) error {
	filters, err := LoadRulesFromURL(e.schema, query)
	if err != nil {
		e.logger.Warn("discarding malformed filter query", zap.Error(err))
		e.SetFilters(nil)
		return err
	}
	e.SetFilters(filters)
	return nil
}

// Sort returns the current sort, or nil when unsorted.
func (e *Engine) Sort() *Sort {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.sort == nil {
		return nil
	}
	s := *e.sort
	return &s
}

// SetSort sorts by a column key, toggling direction when the key is already
// active. Unsortable or unknown keys no-op.
func (e *Engine) SetSort(key string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var target *Column
	for i := range e.columns {
		if e.columns[i].Key == key {
			target = &e.columns[i]
			break
		}
	}
	if target == nil || !target.Sortable.Enabled {
		return e.generation
	}
	direction := SortAsc
	if e.sort != nil && e.sort.Field == target.Field && e.sort.RefScheme == target.RefScheme && e.sort.Direction == SortAsc {
		direction = SortDesc
	}
	e.sort = &Sort{Field: target.Field, Direction: direction, RefScheme: target.RefScheme}
	if err := e.prefs.SaveSort(StoredSort{
		Key:       target.Key,
		Field:     target.Field,
		Direction: direction,
		RefScheme: target.RefScheme,
	}); err != nil {
		e.logger.Warn("persisting sort failed", zap.Error(err))
	}
	e.page = 0
	return e.bumpLocked()
}

// Page returns the zero-based current page.
func (e *Engine) Page() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.page
}

// SetPage moves the pagination window; negative pages clamp to zero.
func (e *Engine) SetPage(page int) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if page < 0 {
		page = 0
	}
	e.page = page
	if !e.allPages {
		e.resetSelectionLocked()
	}
	return e.bumpLocked()
}

// ItemsPerPage returns the current page size.
func (e *Engine) ItemsPerPage() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.itemsPerPage
}

// SetItemsPerPage changes and persists the page size, returning to the
// first page.
func (e *Engine) SetItemsPerPage(size int) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if size <= 0 {
		size = defaultItemsPerPage
	}
	e.itemsPerPage = size
	e.page = 0
	if err := e.prefs.SaveItemsPerPage(size); err != nil {
		e.logger.Warn("persisting page size failed", zap.Error(err))
	}
	return e.bumpLocked()
}

// Lens returns the active view lens.
func (e *Engine) Lens() ViewLens {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lens
}

// SetLens changes and persists the view lens.
func (e *Engine) SetLens(lens ViewLens) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lens = lens
	if err := e.prefs.SaveLens(lens); err != nil {
		e.logger.Warn("persisting view lens failed", zap.Error(err))
	}
}

// Views exposes the saved-view store for the resource.
func (e *Engine) Views() *PreferenceStore {
	return e.prefs
}

// Select marks or unmarks a row id. Selecting while in all-pages mode
// demotes the state to an explicit per-row set.
func (e *Engine) Select(id string, selected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.allPages = false
	if selected {
		e.selected[id] = true
	} else {
		delete(e.selected, id)
	}
}

// SelectAllPages selects every row across all pages without enumerating ids.
func (e *Engine) SelectAllPages() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.allPages = true
	e.selected = make(map[string]bool)
}

// ClearSelection empties the selection.
func (e *Engine) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetSelectionLocked()
}

func (e *Engine) resetSelectionLocked() {
	e.allPages = false
	e.selected = make(map[string]bool)
}

// IsSelected reports whether a row id is part of the selection.
func (e *Engine) IsSelected(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.allPages || e.selected[id]
}

// SelectedIDs returns the explicitly selected row ids; nil in all-pages
// mode, where the selection is the full filtered result.
func (e *Engine) SelectedIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.allPages {
		return nil
	}
	ids := make([]string, 0, len(e.selected))
	for id := range e.selected {
		ids = append(ids, id)
	}
	return ids
}

// SelectionState reports the tri-state of the select-all control given the
// number of rows currently visible.
func (e *Engine) SelectionState(visible int) SelectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.allPages {
		return SelectionAll
	}
	switch {
	case len(e.selected) == 0:
		return SelectionNone
	case visible > 0 && len(e.selected) >= visible:
		return SelectionAll
	}
	return SelectionSome
}

// Generation returns the current query generation. Every state change that
// invalidates previously-fetched rows returns a new generation; responses
// tagged with an older one should be discarded.
func (e *Engine) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// Current reports whether a response generation is still the latest.
func (e *Engine) Current(generation uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return generation == e.generation
}

func (e *Engine) bumpLocked() uint64 {
	e.generation++
	return e.generation
}

// ServerQuery compiles the current state into a server request payload.
// Only meaningful in server-side mode, but harmless otherwise.
func (e *Engine) ServerQuery() (*ServerQuery, error) {
	e.mu.RLock()
	filters := make([]*Filter, len(e.filters))
	copy(filters, e.filters)
	sortInfo := e.sort
	page, size := e.page, e.itemsPerPage
	e.mu.RUnlock()

	compiled, err := CompileFilters(filters)
	if err != nil {
		return nil, err
	}
	orderBy, err := OrderbyBuilder(sortInfo, e.customSort)
	if err != nil {
		return nil, err
	}
	return &ServerQuery{
		Filter:  compiled,
		OrderBy: orderBy,
		Top:     size,
		Skip:    page * size,
	}, nil
}

// VisibleRows applies the current filters, sort, and pagination window to an
// in-memory row set. This is the client-side path; server-side callers use
// ServerQuery instead.
func (e *Engine) VisibleRows(rows []map[string]any) []map[string]any {
	e.mu.RLock()
	filters := make([]*Filter, len(e.filters))
	copy(filters, e.filters)
	sortInfo := e.sort
	page, size := e.page, e.itemsPerPage
	columns := e.columns
	e.mu.RUnlock()

	out := ApplyFilters(filters, rows)
	if sortInfo != nil {
		for i := range columns {
			if columns[i].Field == sortInfo.Field && columns[i].RefScheme == sortInfo.RefScheme {
				out = SortRowsByColumn(out, &columns[i], sortInfo.Direction)
				break
			}
		}
	}
	return Paginate(out, page, size)
}

// Debouncer coalesces bursts of state changes into one trailing call, so a
// user typing into a search box triggers a single query.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
}

const defaultDebounce = 250 * time.Millisecond

func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = defaultDebounce
	}
	return &Debouncer{delay: delay}
}

// Trigger schedules fn after the debounce delay, cancelling any pending
// call from an earlier trigger.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels any pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
