// Package schema builds and caches the metadata model describing how mapped
// struct types project onto document-store collections. A SchemaDefinition is
// extracted once per type, cached in the Registry, and consumed by the
// serializer, hydrator, event dispatcher and mapper.
package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Variant discriminates the shape of a declared property type.
type Variant int

const (
	// VariantScalar is a plain scalar value (string, int, float, bool, time).
	VariantScalar Variant = iota
	// VariantArray is a slice whose elements share one descriptor.
	VariantArray
	// VariantClass is an embedded mapped struct type.
	VariantClass
	// VariantID is the identifier property.
	VariantID
	// VariantUntyped is an interface{} field with no declared type.
	VariantUntyped
)

// Kind enumerates scalar kinds.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
	KindObjectID
	KindBytes
)

// String returns the string representation of the scalar kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindObjectID:
		return "objectid"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// TypeDescriptor describes the declared type of one property.
type TypeDescriptor struct {
	Variant   Variant
	Scalar    Kind            // valid for VariantScalar
	Elem      *TypeDescriptor // valid for VariantArray
	ClassName string          // valid for VariantClass
}

// String returns a readable form of the descriptor.
func (d TypeDescriptor) String() string {
	switch d.Variant {
	case VariantScalar:
		return d.Scalar.String()
	case VariantArray:
		if d.Elem == nil {
			return "array<untyped>"
		}
		return fmt.Sprintf("array<%s>", d.Elem.String())
	case VariantClass:
		return fmt.Sprintf("class<%s>", d.ClassName)
	case VariantID:
		return "id"
	default:
		return "untyped"
	}
}

// Visibility of a mapped property.
type Visibility int

const (
	// Public properties are exported struct fields.
	Public Visibility = iota
	// Private properties are unexported fields, reached by field injection.
	Private
)

// ValidationRef names a registered predicate with its captured arguments.
type ValidationRef struct {
	Name string
	Args []string
}

// ReferenceSpec marks a property stored as a lazy cross-document pointer.
// WithFields lists target fields cached inline on the pointer.
type ReferenceSpec struct {
	WithFields []string
}

// PropertyDef describes one mapped property of a type.
type PropertyDef struct {
	StoredName  string
	FieldName   string
	FieldPath   []int // nested field index path; nil for a synthesized property
	Descriptor  TypeDescriptor
	Required    bool
	Validations []ValidationRef
	Visibility  Visibility
	Reference   *ReferenceSpec
	RawTag      string
	Dynamic     bool // the extras map holding untyped instance fields
}

// Synthesized reports whether the property has no backing struct field.
func (p *PropertyDef) Synthesized() bool { return len(p.FieldPath) == 0 }

// IndexKey is one entry of a compound index key.
type IndexKey struct {
	Field     string
	Direction int // 1 ascending, -1 descending
}

// IndexDef describes one declared index. Name is derived deterministically
// from the key and uniqueness so repeated extraction produces identical
// index declarations.
type IndexDef struct {
	Keys       []IndexKey
	Unique     bool
	Sparse     bool
	Background bool
	Name       string
}

// DeriveIndexName builds the deterministic index name: "unique" or "index"
// followed by "_<field>_asc|desc" per key entry.
func DeriveIndexName(keys []IndexKey, unique bool) string {
	parts := make([]string, 0, len(keys)+1)
	if unique {
		parts = append(parts, "unique")
	} else {
		parts = append(parts, "index")
	}
	for _, k := range keys {
		dir := "asc"
		if k.Direction < 0 {
			dir = "desc"
		}
		parts = append(parts, k.Field, dir)
	}
	return strings.Join(parts, "_")
}

// EventHook is a lifecycle hook declared as a method on the mapped type.
// Invocable records whether the method has a supported signature; triggering
// a non-invocable hook is a fatal configuration error.
type EventHook struct {
	Kind        EventKind
	MethodName  string
	MethodIndex int
	Invocable   bool
}

// ScopeRef is a named query-filter method. Arity excludes the receiver.
type ScopeRef struct {
	Name        string
	MethodName  string
	MethodIndex int
	Arity       int
}

// ObserverHandle wraps an observer object registered at runtime. Observers
// are appended in registration order and are not cached across processes.
type ObserverHandle struct {
	Observer any
}

// SchemaDefinition is the cached metadata for one mapped type. It is
// immutable after construction except for the runtime observers list.
type SchemaDefinition struct {
	TypeName       string
	GoType         reflect.Type
	CollectionName string

	// SingleCollectionRoot marks a hierarchy root whose descendants share
	// its collection. HasOwnCollection is false for those descendants; their
	// documents always carry the __type discriminator.
	SingleCollectionRoot bool
	HasOwnCollection     bool

	IDPropertyKey string // field name of the identifier property

	// Properties in declaration order, plus the two keyed views over the
	// same set.
	Properties             []*PropertyDef
	PropertiesByFieldName  map[string]*PropertyDef
	PropertiesByStoredName map[string]*PropertyDef

	Indexes []IndexDef
	Events  map[EventKind][]EventHook
	Scopes  map[string]ScopeRef

	// Observers is the only runtime-mutable slot; registration is not safe
	// for concurrent use without external synchronization.
	Observers []ObserverHandle

	// WatchedSources lists artifacts whose change invalidates this
	// definition, including every ancestor's.
	WatchedSources []string

	// Prototype is a constructor-bypassing instance used to invoke scope
	// methods. Nil for non-instantiable types.
	Prototype any

	// DynamicField points at the extras-map property, if declared.
	DynamicField *PropertyDef

	// Parents are the resolved definitions of embedded ancestor types, in
	// declaration order.
	Parents []*SchemaDefinition
}

// IDProperty returns the identifier property definition.
func (d *SchemaDefinition) IDProperty() *PropertyDef {
	return d.PropertiesByFieldName[d.IDPropertyKey]
}

// Property resolves a document key to a property. Stored-name lookup takes
// precedence over field-name lookup.
func (d *SchemaDefinition) Property(key string) (*PropertyDef, bool) {
	if p, ok := d.PropertiesByStoredName[key]; ok {
		return p, true
	}
	p, ok := d.PropertiesByFieldName[key]
	return p, ok
}

// AddObserver appends an observer handle in registration order.
func (d *SchemaDefinition) AddObserver(observer any) {
	d.Observers = append(d.Observers, ObserverHandle{Observer: observer})
}
