package introspect

import (
	"reflect"
	"unsafe"
)

// FieldValue returns a readable value for the field at the nested index
// path, including unexported fields. Reading through a nil embedded pointer
// yields an invalid value. structVal must be an addressable struct value.
func FieldValue(structVal reflect.Value, path []int) reflect.Value {
	v := structVal
	for _, idx := range path {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}
			}
			v = v.Elem()
		}
		v = readable(v.Field(idx))
	}
	return v
}

// SetFieldValue assigns val to the field at the nested index path,
// including unexported fields, allocating nil embedded pointers along the
// way. structVal must be an addressable struct value.
func SetFieldValue(structVal reflect.Value, path []int, val reflect.Value) {
	v := structVal
	for _, idx := range path[:len(path)-1] {
		f := readable(v.Field(idx))
		if f.Kind() == reflect.Ptr {
			if f.IsNil() {
				f.Set(reflect.New(f.Type().Elem()))
			}
			f = f.Elem()
		}
		v = f
	}
	readable(v.Field(path[len(path)-1])).Set(val)
}

// FieldType resolves the static type at a nested index path.
func FieldType(structType reflect.Type, path []int) reflect.Type {
	t := structType
	for _, idx := range path {
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		t = t.Field(idx).Type
	}
	return t
}

// readable lifts the read-only flag off unexported fields.
func readable(f reflect.Value) reflect.Value {
	if f.CanInterface() && f.CanSet() {
		return f
	}
	if !f.CanAddr() {
		return f
	}
	return reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem()
}
