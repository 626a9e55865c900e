package validation

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marlin-odm/marlin/internal/odm/schema"
)

// Engine validates property values against their definitions. The required
// check runs first; registered predicates follow in declaration order and
// the first violation aborts validation.
type Engine struct {
	funcs *FuncRegistry
}

// NewEngine creates an engine backed by the given predicate registry.
func NewEngine(funcs *FuncRegistry) *Engine {
	if funcs == nil {
		funcs = NewFuncRegistry()
	}
	return &Engine{funcs: funcs}
}

// Funcs exposes the predicate registry for custom registrations.
func (e *Engine) Funcs() *FuncRegistry { return e.funcs }

// ValidateField checks one property value. A nil return means the value is
// acceptable for persistence.
func (e *Engine) ValidateField(value any, prop *schema.PropertyDef) error {
	if prop.Required && isEmpty(value) {
		return &InvalidValueError{Kind: MissingRequired, Field: prop.StoredName}
	}

	for _, ref := range prop.Validations {
		fn, ok := e.funcs.Lookup(ref.Name)
		if !ok {
			return &InvalidValueError{
				Kind:      UnknownPredicate,
				Field:     prop.StoredName,
				Predicate: ref.Name,
			}
		}
		if !fn(value, ref.Args) {
			return &InvalidValueError{
				Kind:      PredicateFailed,
				Field:     prop.StoredName,
				Value:     value,
				Predicate: ref.Name,
			}
		}
	}
	return nil
}

// isEmpty reports whether a value counts as missing for a required check.
func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return v == ""
	case primitive.ObjectID:
		return v.IsZero()
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
