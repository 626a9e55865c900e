package document

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marlin-odm/marlin/internal/odm/introspect"
	"github.com/marlin-odm/marlin/internal/odm/schema"
	"github.com/marlin-odm/marlin/internal/odm/tracking"
)

// Finder loads single documents for lazy reference resolution.
type Finder interface {
	FindOne(ctx context.Context, collection string, filter bson.M) (bson.M, error)
}

// EventFirer dispatches lifecycle events. The hooks dispatcher implements
// it; hydration fires retrieved for non-nested instances.
type EventFirer interface {
	Trigger(def *schema.SchemaDefinition, obj any, kind schema.EventKind) error
}

// Hydrator turns documents back into objects, reference- and
// polymorphism-aware. Non-nested hydration snapshots the new object and
// fires the retrieved event.
type Hydrator struct {
	registry   *schema.Registry
	serializer *Serializer
	finder     Finder
	events     EventFirer
}

// NewHydrator creates a hydrator. finder and events may be nil; references
// then hydrate without a loader and retrieved is not fired.
func NewHydrator(registry *schema.Registry, serializer *Serializer, finder Finder, events EventFirer) *Hydrator {
	return &Hydrator{
		registry:   registry,
		serializer: serializer,
		finder:     finder,
		events:     events,
	}
}

// NewInstance constructs an object of the definition's type (or the
// concrete type named by the document's discriminator) and assigns every
// resolvable document field onto it. No user initialization logic runs.
func (h *Hydrator) NewInstance(ctx context.Context, def *schema.SchemaDefinition, doc bson.M, nested bool) (any, error) {
	def, err := h.concreteDefinition(def, doc)
	if err != nil {
		return nil, err
	}

	objPtr := reflect.New(def.GoType)
	rv := objPtr.Elem()

	var extras bson.M
	for key, raw := range doc {
		if key == discriminatorKey {
			continue
		}
		prop, ok := def.Property(key)
		if !ok || prop.Synthesized() {
			if def.DynamicField != nil {
				if extras == nil {
					extras = bson.M{}
				}
				extras[key] = raw
			}
			continue
		}
		if prop.Dynamic {
			continue
		}

		value, err := h.hydrateValue(ctx, raw, introspect.FieldType(rv.Type(), prop.FieldPath))
		if err != nil {
			return nil, fmt.Errorf("hydrating %s.%s: %w", def.TypeName, prop.FieldName, err)
		}
		if err := assignField(rv, prop.FieldPath, value); err != nil {
			return nil, fmt.Errorf("hydrating %s.%s: %w", def.TypeName, prop.FieldName, err)
		}
	}

	if extras != nil && def.DynamicField != nil {
		introspect.SetFieldValue(rv, def.DynamicField.FieldPath, reflect.ValueOf(extras))
	}

	obj := objPtr.Interface()
	if nested {
		return obj, nil
	}

	if err := h.Snapshot(ctx, obj); err != nil {
		return nil, err
	}
	// Types whose id has no field to live in keep their identity through
	// the snapshot, seeded from the loaded document.
	if snap, ok := obj.(tracking.Snapshotter); ok {
		if prev := snap.PersistedSnapshot(); prev != nil && emptyID(prev["_id"]) {
			if id, ok := doc["_id"]; ok {
				prev["_id"] = id
			}
		}
	}
	if h.events != nil {
		if err := h.events.Trigger(def, obj, schema.EventRetrieved); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// Snapshot recomputes the object's document without validation and stores
// it as the new diff baseline. Objects that carry no snapshot slot are
// left alone.
func (h *Hydrator) Snapshot(ctx context.Context, obj any) error {
	snap, ok := obj.(tracking.Snapshotter)
	if !ok {
		return nil
	}
	doc, err := h.serializer.ToDocument(ctx, obj, false, false)
	if err != nil {
		return err
	}
	// Carry the identity forward when the recomputed document lacks one.
	if emptyID(doc["_id"]) {
		if prev := snap.PersistedSnapshot(); prev != nil {
			if id, ok := prev["_id"]; ok {
				doc["_id"] = id
			}
		}
	}
	snap.SetPersistedSnapshot(doc)
	return nil
}

// concreteDefinition honors the __type discriminator when present.
func (h *Hydrator) concreteDefinition(def *schema.SchemaDefinition, doc bson.M) (*schema.SchemaDefinition, error) {
	disc, ok := doc[discriminatorKey].(bson.M)
	if !ok {
		return def, nil
	}
	class, ok := disc[classKey].(string)
	if !ok || class == def.TypeName {
		return def, nil
	}
	concrete, err := h.registry.OfName(class)
	if err != nil {
		return nil, err
	}
	return concrete, nil
}

// hydrateValue recursively converts a document value to the field type.
func (h *Hydrator) hydrateValue(ctx context.Context, raw any, fieldType reflect.Type) (any, error) {
	switch value := raw.(type) {
	case nil:
		return nil, nil

	case bson.M:
		if coll, id, cached, ok := refShape(value); ok {
			return h.hydrateReference(coll, id, cached), nil
		}
		return h.hydrateNestedDocument(ctx, value, fieldType)

	case map[string]any:
		return h.hydrateValue(ctx, bson.M(value), fieldType)

	case bson.A:
		return h.hydrateArray(ctx, value, fieldType)
	case []any:
		return h.hydrateArray(ctx, bson.A(value), fieldType)

	case primitive.DateTime:
		if fieldType == reflect.TypeOf(time.Time{}) {
			return value.Time(), nil
		}
		return value, nil

	case primitive.Binary:
		if fieldType == reflect.TypeOf([]byte(nil)) {
			return value.Data, nil
		}
		return value, nil

	default:
		return raw, nil
	}
}

// hydrateReference builds a lazy Ref with a loader attached when a finder
// is available. Resolution failures surface on first dereference.
func (h *Hydrator) hydrateReference(collection string, id any, cached bson.M) *Ref {
	ref := &Ref{
		Collection:   collection,
		ID:           id,
		CachedFields: cached,
	}
	if h.finder == nil {
		return ref
	}
	ref.loader = func(ctx context.Context) (any, error) {
		doc, err := h.finder.FindOne(ctx, collection, bson.M{"_id": id})
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, &ResolutionError{Collection: collection, ID: id}
		}
		def := h.registry.OfCollection(collection)
		if def == nil {
			return nil, schema.NewConfigurationError("", "collection %s is not mapped", collection)
		}
		return h.NewInstance(ctx, def, doc, false)
	}
	return ref
}

// hydrateNestedDocument hydrates an embedded document through the matching
// type's definition as a nested, non-snapshotting instance.
func (h *Hydrator) hydrateNestedDocument(ctx context.Context, doc bson.M, fieldType reflect.Type) (any, error) {
	target := fieldType
	for target.Kind() == reflect.Ptr {
		target = target.Elem()
	}
	if target.Kind() != reflect.Struct || target == reflect.TypeOf(time.Time{}) {
		// An embedded discriminator still names a concrete type to build.
		if disc, ok := doc[discriminatorKey].(bson.M); ok {
			if class, ok := disc[classKey].(string); ok {
				def, err := h.registry.OfName(class)
				if err != nil {
					return nil, err
				}
				return h.NewInstance(ctx, def, doc, true)
			}
		}
		// No declared type to hydrate into; keep the raw document.
		return doc, nil
	}

	def, err := h.registry.Of(target)
	if err != nil {
		return nil, err
	}
	obj, err := h.NewInstance(ctx, def, doc, true)
	if err != nil {
		return nil, err
	}
	if fieldType.Kind() == reflect.Ptr {
		return obj, nil
	}
	return reflect.ValueOf(obj).Elem().Interface(), nil
}

// hydrateArray hydrates elements into the field's element type.
func (h *Hydrator) hydrateArray(ctx context.Context, arr bson.A, fieldType reflect.Type) (any, error) {
	if fieldType.Kind() != reflect.Slice {
		return arr, nil
	}
	out := reflect.MakeSlice(fieldType, 0, len(arr))
	for _, raw := range arr {
		item, err := h.hydrateValue(ctx, raw, fieldType.Elem())
		if err != nil {
			return nil, err
		}
		iv, err := convertValue(item, fieldType.Elem())
		if err != nil {
			return nil, err
		}
		out = reflect.Append(out, iv)
	}
	return out.Interface(), nil
}

// assignField converts and assigns a hydrated value onto the object using
// the property's visibility; unexported fields are set by field injection.
func assignField(rv reflect.Value, path []int, value any) error {
	ft := introspect.FieldType(rv.Type(), path)
	cv, err := convertValue(value, ft)
	if err != nil {
		return err
	}
	introspect.SetFieldValue(rv, path, cv)
	return nil
}

// convertValue adapts a hydrated value to the destination type, applying
// numeric conversions where Go allows them.
func convertValue(value any, dst reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(dst), nil
	}
	v := reflect.ValueOf(value)
	switch {
	case v.Type().AssignableTo(dst):
		return v, nil
	case v.Type().ConvertibleTo(dst) && compatibleKinds(v.Type(), dst):
		return v.Convert(dst), nil
	case dst.Kind() == reflect.Interface:
		return v, nil
	default:
		return reflect.Value{}, fmt.Errorf("cannot assign %T to %v", value, dst)
	}
}

// compatibleKinds permits numeric and string conversions but blocks the
// surprising ones (e.g. int to string).
func compatibleKinds(src, dst reflect.Type) bool {
	if isNumeric(src.Kind()) && isNumeric(dst.Kind()) {
		return true
	}
	return src.Kind() == dst.Kind()
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
