package document

import (
	"context"
	"reflect"
)

type inflightKey struct{}

// inflightSaves tracks the objects a persist cascade is currently saving,
// keyed by pointer identity. The map is shared down the context chain so
// nested saves see their ancestors.
type inflightSaves map[uintptr]bool

// BeginSave marks obj as mid-save in the returned context. The second
// result is false when obj is already being saved higher up the cascade.
func BeginSave(ctx context.Context, obj any) (context.Context, bool) {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return ctx, true
	}
	saves, ok := ctx.Value(inflightKey{}).(inflightSaves)
	if !ok {
		saves = make(inflightSaves)
		ctx = context.WithValue(ctx, inflightKey{}, saves)
	}
	if saves[rv.Pointer()] {
		return ctx, false
	}
	saves[rv.Pointer()] = true
	return ctx, true
}

// EndSave clears the mark set by BeginSave.
func EndSave(ctx context.Context, obj any) {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}
	if saves, ok := ctx.Value(inflightKey{}).(inflightSaves); ok {
		delete(saves, rv.Pointer())
	}
}

// saveInFlight reports whether obj is being saved somewhere up the cascade.
func saveInFlight(ctx context.Context, obj any) bool {
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return false
	}
	saves, ok := ctx.Value(inflightKey{}).(inflightSaves)
	return ok && saves[rv.Pointer()]
}
