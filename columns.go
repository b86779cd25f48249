package sieve

import (
	"fmt"
	"sort"
	"strings"
)

// Priority partitions columns into rendering tiers; primary fields lead.
type Priority string

const (
	PriorityPrimary   Priority = "primary"
	PrioritySecondary Priority = "secondary"
	PriorityTertiary  Priority = "tertiary"
)

// PriorityPartition assigns fields to priorities. Fields in none of the lists
// default to tertiary.
type PriorityPartition struct {
	Primary   []string `json:"primary"`
	Secondary []string `json:"secondary"`
	Tertiary  []string `json:"tertiary"`
}

func (p *PriorityPartition) priorityOf(field string) Priority {
	if p == nil {
		return PriorityTertiary
	}
	for _, name := range p.Primary {
		if name == field {
			return PriorityPrimary
		}
	}
	for _, name := range p.Secondary {
		if name == field {
			return PrioritySecondary
		}
	}
	return PriorityTertiary
}

// CompareFunc orders two rows for a column: negative when a sorts first.
type CompareFunc func(a, b map[string]any) int

// RenderFunc extracts the displayable value of a column from a row.
type RenderFunc func(value any, row map[string]any) any

// Sortable is a column's sort strategy: disabled, the generic value
// comparison, a custom compare function, or a custom server-side path.
type Sortable struct {
	Enabled    bool
	Compare    CompareFunc
	ServerPath string
}

// Column is one derived displayable column.
type Column struct {
	Title     string
	Label     string
	Field     string
	Key       string
	Selected  bool
	Priority  Priority
	Sortable  Sortable
	Index     int
	RefScheme string
	Render    RenderFunc
}

// ColumnOptions configures column derivation.
type ColumnOptions struct {
	// IdentityField is skipped during derivation; defaults to "id".
	IdentityField string
	Priorities    *PriorityPartition
	// CustomSort overrides per field (or field_refScheme): a CompareFunc
	// replaces client-side comparison, a string or []string replaces the
	// server-side orderby path.
	CustomSort map[string]any
}

// ColumnsFromSchema derives the ordered column list from a resource schema.
// Fields iterate in declaration order; the identity field and filter-only
// fields are skipped; a field carrying several reference schemes fans out
// into one independent column per scheme, sharing the raw value but with its
// own key, title, and sortability. Derivations are safe over nil input.
func ColumnsFromSchema(schema *Schema, opts ColumnOptions) []Column {
	if schema == nil {
		return nil
	}
	identity := opts.IdentityField
	if identity == "" {
		identity = "id"
	}
	var columns []Column
	index := 0
	for _, field := range schema.PropertyNames() {
		if field == identity {
			continue
		}
		prop := schema.Properties[field]
		annotations := ParseAnnotations(prop)
		if annotations != nil && annotations.FilterOnly {
			continue
		}
		schemes := PropertyScheme(prop)
		if len(schemes) == 0 {
			columns = append(columns, buildColumn(prop, field, "", index, opts))
			index++
			continue
		}
		for _, scheme := range schemes {
			columns = append(columns, buildColumn(prop, field, scheme, index, opts))
			index++
		}
	}
	return columns
}

func buildColumn(prop *Property, field, scheme string, index int, opts ColumnOptions) Column {
	title := prop.Title
	if scheme != "" {
		if sub := SchemaFromRefScheme(prop, field, scheme); sub != nil && sub.Title != "" {
			title = sub.Title
		}
	}
	if title == "" {
		title = field
	}
	key := fmt.Sprintf("%s_%d", field, index)
	if scheme != "" {
		key = fmt.Sprintf("%s_%s_%d", field, scheme, index)
	}
	return Column{
		Title:     title,
		Label:     title,
		Field:     field,
		Key:       key,
		Selected:  true,
		Priority:  opts.Priorities.priorityOf(field),
		Sortable:  sortableFor(prop, field, scheme, opts.CustomSort),
		Index:     index,
		RefScheme: scheme,
		Render:    renderFor(scheme),
	}
}

func sortableFor(prop *Property, field, scheme string, customSort map[string]any) Sortable {
	if a := ParseAnnotations(prop); a != nil && a.NoSort {
		return Sortable{}
	}
	if prop != nil && prop.Format == "tag" {
		return Sortable{}
	}
	if customSort != nil {
		key := field
		if scheme != "" {
			key = field + "_" + scheme
		}
		raw, ok := customSort[key]
		if !ok {
			raw, ok = customSort[field]
		}
		if ok {
			switch v := raw.(type) {
			case CompareFunc:
				return Sortable{Enabled: true, Compare: v}
			case func(a, b map[string]any) int:
				return Sortable{Enabled: true, Compare: v}
			case string:
				return Sortable{Enabled: true, ServerPath: v}
			case []string:
				if len(v) > 0 {
					return Sortable{Enabled: true, ServerPath: v[0]}
				}
			}
		}
	}
	return Sortable{Enabled: true}
}

func renderFor(scheme string) RenderFunc {
	if scheme == "" {
		return func(value any, _ map[string]any) any { return value }
	}
	return func(value any, _ map[string]any) any {
		return AdaptRefSchemePath(value, scheme)
	}
}

// StoredColumn is the persisted subset of a column layout preference.
type StoredColumn struct {
	Key      string `json:"key"`
	Selected bool   `json:"selected"`
	Index    int    `json:"index"`
}

// MergeColumnPreferences folds stored preferences into a freshly-derived
// column list, matching by key. Stored entries whose key no longer derives
// from the schema are silently dropped, so schema evolution leaves at most a
// missing column, never a crash. The input slices are not mutated.
func MergeColumnPreferences(derived []Column, stored []StoredColumn) []Column {
	merged := make([]Column, len(derived))
	copy(merged, derived)
	byKey := make(map[string]int, len(merged))
	for i := range merged {
		byKey[merged[i].Key] = i
	}
	for _, pref := range stored {
		i, ok := byKey[pref.Key]
		if !ok {
			continue
		}
		merged[i].Selected = pref.Selected
		merged[i].Index = pref.Index
	}
	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Index < merged[b].Index
	})
	return merged
}

// SortRowsByColumn returns a copy of rows stably sorted by one column. The
// column's compare override wins; otherwise values extracted through the
// column's render path compare generically. Safe over nil rows.
func SortRowsByColumn(rows []map[string]any, col *Column, direction SortDirection) []map[string]any {
	out := make([]map[string]any, len(rows))
	copy(out, rows)
	if col == nil || !col.Sortable.Enabled {
		return out
	}
	less := func(a, b map[string]any) bool {
		if col.Sortable.Compare != nil {
			return col.Sortable.Compare(a, b) < 0
		}
		return compareValues(columnValue(col, a), columnValue(col, b)) < 0
	}
	sort.SliceStable(out, func(i, j int) bool {
		if direction == SortDesc {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

func columnValue(col *Column, row map[string]any) any {
	raw := row[col.Field]
	if col.Render != nil {
		return col.Render(raw, row)
	}
	return raw
}

// compareValues orders heterogeneous cell values: nils last, numbers
// numerically, booleans false-first, everything else as case-folded text.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if an, ok := numericValue(a); ok {
		if bn, ok := numericValue(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(
		strings.ToLower(fmt.Sprint(a)),
		strings.ToLower(fmt.Sprint(b)),
	)
}

// Paginate slices one page out of the rows; out-of-range pages yield an empty
// slice and a non-positive page size disables slicing.
func Paginate(rows []map[string]any, page, itemsPerPage int) []map[string]any {
	if itemsPerPage <= 0 {
		return rows
	}
	if page < 0 {
		page = 0
	}
	start := page * itemsPerPage
	if start >= len(rows) {
		return []map[string]any{}
	}
	end := start + itemsPerPage
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}
