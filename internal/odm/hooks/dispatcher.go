// Package hooks dispatches lifecycle events to type-declared hook methods
// and runtime-registered observers.
package hooks

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/marlin-odm/marlin/internal/odm/schema"
)

// Dispatcher invokes hooks and observers for lifecycle events. Declared
// hooks run first in declaration order, then observers in registration
// order. The first failure aborts remaining dispatch and propagates.
type Dispatcher struct {
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil logger defaults to no-op.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger}
}

// Trigger fires one event kind for an object. obj must be a pointer to the
// mapped struct the definition describes.
func (d *Dispatcher) Trigger(def *schema.SchemaDefinition, obj any, kind schema.EventKind) error {
	if err := d.triggerDeclared(def, obj, kind); err != nil {
		return err
	}
	return d.triggerObservers(def, obj, kind)
}

// triggerDeclared calls every type-declared hook for the kind. Ancestor
// hooks are visible through method promotion, so the definition's own event
// table already covers the embedding chain.
func (d *Dispatcher) triggerDeclared(def *schema.SchemaDefinition, obj any, kind schema.EventKind) error {
	hooks := def.Events[kind]
	if len(hooks) == 0 {
		return nil
	}

	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Ptr {
		return schema.NewConfigurationError(def.TypeName, "event target must be a pointer, got %T", obj)
	}

	for _, hook := range hooks {
		if !hook.Invocable {
			return schema.NewConfigurationError(def.TypeName,
				"event hook %s has an unsupported signature", hook.MethodName)
		}
		d.logger.Debug("firing hook",
			zap.String("type", def.TypeName),
			zap.String("event", kind.String()),
			zap.String("method", hook.MethodName))

		out := rv.Method(hook.MethodIndex).Call(nil)
		if len(out) == 1 && !out[0].IsNil() {
			return fmt.Errorf("hook %s on %s: %w", hook.MethodName, def.TypeName, out[0].Interface().(error))
		}
	}
	return nil
}

// triggerObservers calls each observer method matching one of the kind's
// aliases, passing the object. Observers without a matching method are
// silently skipped.
func (d *Dispatcher) triggerObservers(def *schema.SchemaDefinition, obj any, kind schema.EventKind) error {
	if len(def.Observers) == 0 {
		return nil
	}

	aliases := kind.Aliases()
	for _, handle := range def.Observers {
		ov := reflect.ValueOf(handle.Observer)
		var method reflect.Value
		for _, alias := range aliases {
			if m := ov.MethodByName(alias); m.IsValid() {
				method = m
				break
			}
		}
		if !method.IsValid() {
			continue
		}
		if err := callObserver(method, obj); err != nil {
			return fmt.Errorf("observer %T for %s %s: %w", handle.Observer, def.TypeName, kind, err)
		}
	}
	return nil
}

// callObserver invokes an observer method with the object. Supported
// signatures: func(obj any), func(obj any) error, and typed variants whose
// single parameter the object is assignable to.
func callObserver(method reflect.Value, obj any) error {
	mt := method.Type()
	if mt.NumIn() != 1 {
		return fmt.Errorf("observer method must take exactly the observed object")
	}
	arg := reflect.ValueOf(obj)
	if !arg.Type().AssignableTo(mt.In(0)) {
		return fmt.Errorf("observer method parameter %v does not accept %T", mt.In(0), obj)
	}

	out := method.Call([]reflect.Value{arg})
	if len(out) == 1 {
		if errv, ok := out[0].Interface().(error); ok && errv != nil {
			return errv
		}
	}
	return nil
}
