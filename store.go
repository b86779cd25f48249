package sieve

import (
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Store is the persistence boundary for user preferences. Implementations
// may be backed by browser-style local storage, a file, or a database row;
// the engine only needs string get/set/delete.
type Store interface {
	Get(key string) (string, bool)
	Set(key string, value string) error
	Delete(key string) error
}

// MemoryStore is the in-process Store used by tests and the sample binary.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	return value, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// ViewLens names the rendering mode a resource was last viewed in.
type ViewLens string

const (
	LensTable ViewLens = "table"
	LensGrid  ViewLens = "grid"
)

// StoredSort is the persisted sort preference.
type StoredSort struct {
	Key       string        `json:"key"`
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
	RefScheme string        `json:"refScheme,omitempty"`
}

// View is a saved filter set a user can recall by name.
type View struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Filters []json.RawMessage `json:"filters"`
}

// PreferenceStore namespaces one resource's preferences over a Store.
// Corrupt persisted payloads are treated as absent rather than surfaced,
// so a bad write never wedges the table.
type PreferenceStore struct {
	store    Store
	resource string
}

func NewPreferenceStore(store Store, resource string) *PreferenceStore {
	return &PreferenceStore{store: store, resource: resource}
}

func (p *PreferenceStore) key(suffix string) string {
	return p.resource + "__" + suffix
}

func (p *PreferenceStore) loadJSON(suffix string, out any) bool {
	raw, ok := p.store.Get(p.key(suffix))
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), out) == nil
}

func (p *PreferenceStore) saveJSON(suffix string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.store.Set(p.key(suffix), string(encoded))
}

// Columns returns the persisted column layout, or nil when absent.
func (p *PreferenceStore) Columns() []StoredColumn {
	var columns []StoredColumn
	if !p.loadJSON("columns", &columns) {
		return nil
	}
	return columns
}

func (p *PreferenceStore) SaveColumns(columns []Column) error {
	stored := make([]StoredColumn, 0, len(columns))
	for _, col := range columns {
		stored = append(stored, StoredColumn{
			Key:      col.Key,
			Selected: col.Selected,
			Index:    col.Index,
		})
	}
	return p.saveJSON("columns", stored)
}

// Sort returns the persisted sort preference, or nil when absent.
func (p *PreferenceStore) Sort() *StoredSort {
	var stored StoredSort
	if !p.loadJSON("sort", &stored) || stored.Field == "" {
		return nil
	}
	return &stored
}

func (p *PreferenceStore) SaveSort(sort StoredSort) error {
	return p.saveJSON("sort", sort)
}

// ItemsPerPage returns the persisted page size, or 0 when absent.
func (p *PreferenceStore) ItemsPerPage() int {
	var size int
	if !p.loadJSON("items_per_page", &size) || size <= 0 {
		return 0
	}
	return size
}

func (p *PreferenceStore) SaveItemsPerPage(size int) error {
	return p.saveJSON("items_per_page", size)
}

// Lens returns the persisted view lens, or "" when absent.
func (p *PreferenceStore) Lens() ViewLens {
	var lens ViewLens
	if !p.loadJSON("view_lens", &lens) {
		return ""
	}
	return lens
}

func (p *PreferenceStore) SaveLens(lens ViewLens) error {
	return p.saveJSON("view_lens", lens)
}

// Views returns the saved filter views for the resource.
func (p *PreferenceStore) Views() []View {
	var views []View
	if !p.loadJSON("views", &views) {
		return nil
	}
	return views
}

// SaveView appends a named view built from the current filters and returns
// it. A view with an empty name or no filters is rejected as input error.
func (p *PreferenceStore) SaveView(name string, filters []*Filter) (*View, error) {
	if name == "" {
		return nil, NewInputError(ErrCodeInvalidView, "view name must not be empty")
	}
	if len(filters) == 0 {
		return nil, NewInputError(ErrCodeInvalidView, "view must contain at least one filter")
	}
	serialized := make([]json.RawMessage, 0, len(filters))
	for _, filter := range filters {
		encoded, err := json.Marshal(filter.Fragment())
		if err != nil {
			return nil, err
		}
		serialized = append(serialized, encoded)
	}
	view := View{ID: uuid.NewString(), Name: name, Filters: serialized}
	views := append(p.Views(), view)
	if err := p.saveJSON("views", views); err != nil {
		return nil, err
	}
	return &view, nil
}

// DeleteView removes a saved view by id; unknown ids are a no-op.
func (p *PreferenceStore) DeleteView(id string) error {
	views := p.Views()
	kept := views[:0]
	for _, view := range views {
		if view.ID != id {
			kept = append(kept, view)
		}
	}
	if len(kept) == len(views) {
		return nil
	}
	return p.saveJSON("views", kept)
}

// LoadView decodes a saved view's filters against the current schema.
// Fragments that no longer parse are dropped.
func (p *PreferenceStore) LoadView(schema *Schema, id string) []*Filter {
	for _, view := range p.Views() {
		if view.ID != id {
			continue
		}
		filters := make([]*Filter, 0, len(view.Filters))
		for _, raw := range view.Filters {
			var fragment map[string]any
			if err := json.Unmarshal(raw, &fragment); err != nil {
				continue
			}
			filter, err := ParseFilter(schema, fragment)
			if err != nil || filter == nil {
				continue
			}
			filters = append(filters, filter)
		}
		return filters
	}
	return nil
}
