package sieve

import (
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/jsonschema-go/jsonschema"
)

// Kind classifies a schema node for operator dispatch. Classification is
// computed once per node and cached; enum and oneOf take precedence over the
// declared type, and a date-time format takes precedence over "string".
type Kind string

const (
	KindUnknown  Kind = ""
	KindString   Kind = "string"
	KindNumber   Kind = "number"
	KindInteger  Kind = "integer"
	KindBoolean  Kind = "boolean"
	KindArray    Kind = "array"
	KindObject   Kind = "object"
	KindEnum     Kind = "enum"
	KindOneOf    Kind = "oneOf"
	KindDateTime Kind = "date-time"
)

// TypeList holds the JSON Schema "type" keyword, which may be either a single
// string or a list of type names (e.g. ["string","null"]).
type TypeList []string

// UnmarshalJSON accepts both the scalar and the list form.
func (t *TypeList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = TypeList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("invalid type keyword: %w", err)
	}
	*t = TypeList(many)
	return nil
}

// MarshalJSON emits the scalar form when only one type is declared.
func (t TypeList) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]string(t))
}

// Primary returns the first non-null type name, or "" when none is declared.
func (t TypeList) Primary() string {
	for _, name := range t {
		if name != "null" {
			return name
		}
	}
	return ""
}

// Has reports whether the type list contains the given type name.
func (t TypeList) Has(name string) bool {
	for _, candidate := range t {
		if candidate == name {
			return true
		}
	}
	return false
}

// StringList holds annotation values that may be written as a single string
// or a list of strings.
type StringList []string

// UnmarshalJSON accepts both forms.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("invalid string list: %w", err)
	}
	*s = StringList(many)
	return nil
}

// Annotations carries per-field hints that JSON Schema has no native vocabulary
// for: reference schemes (foreign-key-like navigation paths) and filter/sort
// exclusions. They travel as a JSON object embedded in a property description;
// ParseAnnotations decodes that channel. Annotations are always advisory — a
// resource must remain fully usable without them.
type Annotations struct {
	RefScheme        StringList `json:"x-ref-scheme,omitempty"`
	ForeignKeyScheme StringList `json:"x-foreign-key-scheme,omitempty"`
	FilterOnly       bool       `json:"x-filter-only,omitempty"`
	NoFilter         bool       `json:"x-no-filter,omitempty"`
	NoSort           bool       `json:"x-no-sort,omitempty"`
}

// Property is one JSON Schema node of a resource schema.
type Property struct {
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	Type        TypeList             `json:"type,omitempty"`
	Format      string               `json:"format,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	OneOf       []*Property          `json:"oneOf,omitempty"`
	Const       any                  `json:"const,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`

	kind        Kind
	annotations *Annotations
	annotated   bool
}

// Kind returns the cached classification of the node.
func (p *Property) Kind() Kind {
	if p == nil {
		return KindUnknown
	}
	if p.kind != KindUnknown {
		return p.kind
	}
	p.kind = classify(p)
	return p.kind
}

func classify(p *Property) Kind {
	switch {
	case len(p.Enum) > 0:
		return KindEnum
	case len(p.OneOf) > 0:
		return KindOneOf
	case strings.HasSuffix(p.Format, "date-time"):
		return KindDateTime
	}
	switch p.Type.Primary() {
	case "string":
		return KindString
	case "number":
		return KindNumber
	case "integer":
		return KindInteger
	case "boolean":
		return KindBoolean
	case "array":
		return KindArray
	case "object":
		return KindObject
	}
	return KindUnknown
}

// ParseAnnotations decodes the annotation object embedded in the property
// description. A missing or malformed channel yields nil, never an error:
// annotations reflect legitimately heterogeneous schemas and must not abort
// anything downstream.
func ParseAnnotations(p *Property) *Annotations {
	if p == nil {
		return nil
	}
	if p.annotated {
		return p.annotations
	}
	p.annotated = true
	text := strings.TrimSpace(p.Description)
	if !strings.HasPrefix(text, "{") {
		return nil
	}
	var a Annotations
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil
	}
	p.annotations = &a
	return p.annotations
}

// Schema describes the shape of one resource. Property declaration order is
// preserved across unmarshalling because column derivation iterates properties
// in the order the schema author wrote them.
type Schema struct {
	Title      string               `json:"title,omitempty"`
	Properties map[string]*Property `json:"properties,omitempty"`
	Required   []string             `json:"required,omitempty"`

	propertyOrder []string
	resolved      *jsonschema.Resolved
}

// UnmarshalJSON decodes the schema and records property declaration order.
func (s *Schema) UnmarshalJSON(data []byte) error {
	type alias Schema
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*s = Schema(decoded)
	s.propertyOrder = propertyOrderFromJSON(data)
	return nil
}

// MarshalJSON emits the plain JSON Schema form.
func (s *Schema) MarshalJSON() ([]byte, error) {
	type alias Schema
	return json.Marshal((*alias)(s))
}

// propertyOrderFromJSON scans the raw document for the key order inside the
// top-level "properties" object.
func propertyOrderFromJSON(data []byte) []string {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	// Walk to the top-level "properties" key.
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, _ := keyTok.(string)
		if key != "properties" {
			skipValue(dec)
			continue
		}
		open, err := dec.Token()
		if err != nil || open != json.Delim('{') {
			return nil
		}
		var order []string
		for dec.More() {
			nameTok, err := dec.Token()
			if err != nil {
				return nil
			}
			name, ok := nameTok.(string)
			if !ok {
				return nil
			}
			order = append(order, name)
			skipValue(dec)
		}
		return order
	}
	return nil
}

// skipValue consumes one complete JSON value from the decoder.
func skipValue(dec *json.Decoder) {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
		if depth <= 0 {
			return
		}
	}
}

// PropertyNames returns the field names in declaration order. Schemas built
// directly in Go code carry no declaration order; those fall back to a sorted
// listing so derivations stay deterministic.
func (s *Schema) PropertyNames() []string {
	if s == nil {
		return nil
	}
	if len(s.propertyOrder) > 0 {
		names := make([]string, 0, len(s.propertyOrder))
		for _, name := range s.propertyOrder {
			if _, ok := s.Properties[name]; ok {
				names = append(names, name)
			}
		}
		return names
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseSchema decodes a resource schema from its JSON document.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse resource schema: %w", err)
	}
	return &s, nil
}

// Compile resolves the schema with the JSON Schema engine so records can be
// validated against it. The resolved form is cached on the schema.
func (s *Schema) Compile() (*jsonschema.Resolved, error) {
	if s.resolved != nil {
		return s.resolved, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema for validation: %w", err)
	}
	var compiled jsonschema.Schema
	if err := json.Unmarshal(raw, &compiled); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into jsonschema.Schema: %w", err)
	}
	resolved, err := compiled.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JSON schema: %w", err)
	}
	s.resolved = resolved
	return resolved, nil
}

// ValidateRecord validates one row against the resource schema.
func (s *Schema) ValidateRecord(record map[string]any) error {
	resolved, err := s.Compile()
	if err != nil {
		return err
	}
	if err := resolved.Validate(any(record)); err != nil {
		return fmt.Errorf("record validation failed: %w", err)
	}
	return nil
}
