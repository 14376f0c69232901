package fields

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// DataType is the declared type of a registry field.
type DataType string

const (
	TypeString    DataType = "STRING"
	TypeNumber    DataType = "NUMBER"
	TypeBoolean   DataType = "BOOLEAN"
	TypeTimestamp DataType = "TIMESTAMP"
)

// Field is one entry of the registry artifact. IDs are dense, small and
// stable within a registry version.
type Field struct {
	Name             string   `json:"name"`
	ID               uint16   `json:"id"`
	DataType         DataType `json:"data_type"`
	AllowedOperators []string `json:"allowed_operators,omitempty"`
	MultiValued      bool     `json:"multi_valued,omitempty"`
	Sensitive        bool     `json:"sensitive,omitempty"`
}

// AllowsOperator reports whether a leaf may apply op to this field. An empty
// allow-list permits every operator.
func (f Field) AllowsOperator(op string) bool {
	if len(f.AllowedOperators) == 0 {
		return true
	}
	for _, allowed := range f.AllowedOperators {
		if allowed == op {
			return true
		}
	}
	return false
}

type binder struct {
	id      uint16
	extract extractor
}

// Registry is an immutable, versioned name-to-slot mapping. Swaps replace the
// whole value through Live.
type Registry struct {
	Version int64

	byName    map[string]Field
	byID      map[uint16]Field
	custom    map[string]struct{}
	binders   []binder
	slotCount int
}

type artifactDoc struct {
	Version      int64    `json:"version"`
	Fields       []Field  `json:"fields"`
	CustomFields []string `json:"custom_fields,omitempty"`
}

// Parse decodes and validates a registry artifact.
func Parse(data []byte) (*Registry, error) {
	var doc artifactDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("field registry: parse artifact: %w", err)
	}
	return New(doc.Version, doc.Fields, doc.CustomFields)
}

// New validates the field list and builds the lookup structures.
func New(version int64, fieldList []Field, customFields []string) (*Registry, error) {
	if version <= 0 {
		return nil, fmt.Errorf("field registry: version must be positive, got %d", version)
	}
	if len(fieldList) == 0 {
		return nil, fmt.Errorf("field registry: artifact has no fields")
	}

	r := &Registry{
		Version: version,
		byName:  make(map[string]Field, len(fieldList)),
		byID:    make(map[uint16]Field, len(fieldList)),
		custom:  make(map[string]struct{}, len(customFields)),
	}

	maxID := uint16(0)
	for _, f := range fieldList {
		if f.Name == "" {
			return nil, fmt.Errorf("field registry: field with id %d has no name", f.ID)
		}
		switch f.DataType {
		case TypeString, TypeNumber, TypeBoolean, TypeTimestamp:
		default:
			return nil, fmt.Errorf("field registry: field %q has unknown data type %q", f.Name, f.DataType)
		}
		if _, dup := r.byName[f.Name]; dup {
			return nil, fmt.Errorf("field registry: duplicate field name %q", f.Name)
		}
		if prior, dup := r.byID[f.ID]; dup {
			return nil, fmt.Errorf("field registry: id %d assigned to both %q and %q", f.ID, prior.Name, f.Name)
		}
		r.byName[f.Name] = f
		r.byID[f.ID] = f
		if f.ID > maxID {
			maxID = f.ID
		}
	}
	r.slotCount = int(maxID) + 1

	for _, name := range customFields {
		if _, clash := r.byName[name]; clash {
			return nil, fmt.Errorf("field registry: custom field %q shadows a registry field", name)
		}
		r.custom[name] = struct{}{}
	}

	// Precompute the bind list: registry fields with a built-in extractor.
	// Fields without one stay absent until a future engine version maps them.
	for _, f := range fieldList {
		if ex, ok := extractors[f.Name]; ok {
			r.binders = append(r.binders, binder{id: f.ID, extract: ex})
		}
	}

	return r, nil
}

// Resolve returns the registry entry for a field name.
func (r *Registry) Resolve(name string) (Field, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// ByID returns the registry entry occupying a slot id.
func (r *Registry) ByID(id uint16) (Field, bool) {
	f, ok := r.byID[id]
	return f, ok
}

// IsCustom reports whether leaves on this name fall back to the
// per-transaction custom map.
func (r *Registry) IsCustom(name string) bool {
	_, ok := r.custom[name]
	return ok
}

// SlotCount is the dense vector length for this registry version.
func (r *Registry) SlotCount() int {
	return r.slotCount
}

// FieldCount reports how many named fields the registry carries.
func (r *Registry) FieldCount() int {
	return len(r.byName)
}

// Live is the atomic holder for the registry the engine currently binds
// against. Readers are wait-free.
type Live struct {
	ptr atomic.Pointer[Registry]
}

func (l *Live) Get() *Registry {
	return l.ptr.Load()
}

func (l *Live) Swap(r *Registry) {
	l.ptr.Store(r)
}
