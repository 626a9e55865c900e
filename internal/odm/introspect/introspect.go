// Package introspect provides read-only reflection over mapped struct types.
// It reports declared fields, embedded parents, methods, and the parsed odm
// annotations attached to each field. The schema extractor consumes this
// information; nothing here interprets annotation semantics.
package introspect

import (
	"fmt"
	"reflect"
	"strings"
)

// TagKey is the struct tag key carrying marlin annotations.
const TagKey = "odm"

// FieldInfo describes one declared struct field.
type FieldInfo struct {
	Name        string
	Index       int
	Type        reflect.Type
	Exported    bool
	Anonymous   bool
	RawTag      string
	Annotations []Annotation
}

// MethodInfo describes one exported method of the pointer type.
type MethodInfo struct {
	Name    string
	Index   int
	NumIn   int // parameter count, receiver excluded
	NumOut  int
	Method  reflect.Method
}

// TypeInfo is the full introspection result for one struct type.
type TypeInfo struct {
	Type    reflect.Type
	Name    string // simple type name
	Fields  []FieldInfo
	Methods []MethodInfo
}

// Inspect examines a struct type and returns its declared surface.
// Pointer types are dereferenced; anything other than a struct is rejected.
func Inspect(t reflect.Type) (*TypeInfo, error) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("introspect: %v is not a struct type", t)
	}

	info := &TypeInfo{
		Type: t,
		Name: t.Name(),
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		raw := f.Tag.Get(TagKey)
		annotations, err := ParseTag(raw)
		if err != nil {
			return nil, fmt.Errorf("introspect: field %s.%s: %w", t.Name(), f.Name, err)
		}
		info.Fields = append(info.Fields, FieldInfo{
			Name:        f.Name,
			Index:       i,
			Type:        f.Type,
			Exported:    f.IsExported(),
			Anonymous:   f.Anonymous,
			RawTag:      raw,
			Annotations: annotations,
		})
	}

	// Methods are collected from the pointer type so that both value and
	// pointer receivers are visible.
	pt := reflect.PointerTo(t)
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		info.Methods = append(info.Methods, MethodInfo{
			Name:   m.Name,
			Index:  i,
			NumIn:  m.Type.NumIn() - 1,
			NumOut: m.Type.NumOut(),
			Method: m,
		})
	}

	return info, nil
}

// HasAnnotation reports whether the field carries an annotation with the
// given name.
func (f *FieldInfo) HasAnnotation(name string) bool {
	for _, a := range f.Annotations {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Annotation returns the first annotation with the given name.
func (f *FieldInfo) Annotation(name string) (Annotation, bool) {
	for _, a := range f.Annotations {
		if a.Name == name {
			return a, true
		}
	}
	return Annotation{}, false
}

// MethodByName returns the method with the given exact name.
func (ti *TypeInfo) MethodByName(name string) (MethodInfo, bool) {
	for _, m := range ti.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodInfo{}, false
}

// SimpleName returns the lower-cased simple name of a type, used for
// derived collection names.
func SimpleName(t reflect.Type) string {
	return strings.ToLower(t.Name())
}
