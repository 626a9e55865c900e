package document

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marlin-odm/marlin/internal/odm/introspect"
	"github.com/marlin-odm/marlin/internal/odm/schema"
	"github.com/marlin-odm/marlin/internal/odm/validation"
)

// errNotSerializable flags runtime resources (functions, channels) that are
// silently omitted from documents.
var errNotSerializable = errors.New("value is not serializable")

// Persister saves a referenced object before its pointer is projected. The
// mapper implements it; serialization works without one, but referenced
// objects are then projected with whatever identifier they already carry.
type Persister interface {
	Persist(ctx context.Context, obj any) error
}

// Serializer turns live objects into storable documents, recursively and
// type-coercing, replacing reference properties with pointer projections.
type Serializer struct {
	registry  *schema.Registry
	engine    *validation.Engine
	persister Persister
}

// NewSerializer creates a serializer. engine may be nil to disable
// validation entirely.
func NewSerializer(registry *schema.Registry, engine *validation.Engine) *Serializer {
	return &Serializer{registry: registry, engine: engine}
}

// SetPersister wires the save capability used for reference targets.
func (s *Serializer) SetPersister(p Persister) { s.persister = p }

// ToDocument serializes obj into a stored-name keyed document.
//
// validate applies per-property validation and fails fast on the first
// violation; snapshot capture passes false and can never fail that way.
// generateID assigns a fresh identifier to both the object and the document
// when none is present.
func (s *Serializer) ToDocument(ctx context.Context, obj any, validate, generateID bool) (bson.M, error) {
	rv := reflect.ValueOf(obj)
	visited := make(map[uintptr]bool)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("serialize: nil object")
		}
		visited[rv.Pointer()] = true
		rv = rv.Elem()
	} else {
		rv = addressableCopy(rv)
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("serialize: %T is not a struct", obj)
	}

	def, err := s.registry.Of(rv.Type())
	if err != nil {
		return nil, err
	}

	// The id is assigned before property serialization so a reference back
	// to this object mid-cascade projects a real identifier.
	if generateID {
		s.ensureID(rv, def)
	}
	doc, err := s.serializeStruct(ctx, rv, def, validate, visited)
	if err != nil {
		return nil, err
	}
	if generateID && emptyID(doc["_id"]) {
		doc["_id"] = primitive.NewObjectID()
	}
	return doc, nil
}

// serializeStruct builds the stored-name keyed map from typed properties,
// then merges dynamic extras by raw name.
func (s *Serializer) serializeStruct(
	ctx context.Context,
	rv reflect.Value,
	def *schema.SchemaDefinition,
	validate bool,
	visited map[uintptr]bool,
) (bson.M, error) {
	doc := bson.M{}

	for _, prop := range def.Properties {
		if prop.Synthesized() || prop.Dynamic {
			continue
		}
		fv := introspect.FieldValue(rv, prop.FieldPath)

		if validate && s.engine != nil {
			if err := s.engine.ValidateField(fv.Interface(), prop); err != nil {
				return nil, err
			}
		}

		var (
			out any
			err error
		)
		if prop.Reference != nil {
			out, err = s.serializeReference(ctx, fv, prop)
		} else {
			out, err = s.serializeValue(ctx, fv, prop.Descriptor, validate, visited)
		}
		if errors.Is(err, errNotSerializable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if prop.StoredName == "_id" && emptyID(out) {
			continue
		}
		doc[prop.StoredName] = out
	}

	if err := s.mergeExtras(ctx, rv, def, validate, visited, doc); err != nil {
		return nil, err
	}

	if !def.HasOwnCollection {
		doc[discriminatorKey] = bson.M{classKey: def.TypeName}
	}
	return doc, nil
}

// mergeExtras serializes the dynamic-attributes map entries by raw key.
func (s *Serializer) mergeExtras(
	ctx context.Context,
	rv reflect.Value,
	def *schema.SchemaDefinition,
	validate bool,
	visited map[uintptr]bool,
	doc bson.M,
) error {
	if def.DynamicField == nil {
		return nil
	}
	fv := introspect.FieldValue(rv, def.DynamicField.FieldPath)
	extras, ok := fv.Interface().(bson.M)
	if !ok || extras == nil {
		return nil
	}
	for key, value := range extras {
		out, err := s.serializeValue(ctx, reflect.ValueOf(value),
			schema.TypeDescriptor{Variant: schema.VariantUntyped}, validate, visited)
		if errors.Is(err, errNotSerializable) {
			continue
		}
		if err != nil {
			return err
		}
		doc[key] = out
	}
	return nil
}

// serializeValue applies the recursive value serialization rule.
func (s *Serializer) serializeValue(
	ctx context.Context,
	v reflect.Value,
	desc schema.TypeDescriptor,
	validate bool,
	visited map[uintptr]bool,
) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	var ptr uintptr
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		ptr = v.Pointer()
		if visited[ptr] {
			return nil, schema.NewConfigurationError(v.Type().String(),
				"cyclic object graph is not serializable")
		}
		v = v.Elem()
	}

	// Store-native values keep their representation.
	switch native := v.Interface().(type) {
	case primitive.ObjectID, primitive.DateTime, primitive.Binary:
		return native, nil
	case time.Time:
		return primitive.NewDateTimeFromTime(native), nil
	case bson.M:
		return s.serializeRawMap(ctx, native, validate, visited)
	case bson.A:
		return s.serializeRawSlice(ctx, native, validate, visited)
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil

	case reflect.Slice, reflect.Array:
		if v.Type() == reflect.TypeOf([]byte(nil)) {
			return primitive.Binary{Data: v.Bytes()}, nil
		}
		elemDesc := schema.TypeDescriptor{Variant: schema.VariantUntyped}
		if desc.Variant == schema.VariantArray && desc.Elem != nil {
			elemDesc = *desc.Elem
		}
		out := make(bson.A, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			item, err := s.serializeValue(ctx, v.Index(i), elemDesc, validate, visited)
			if errors.Is(err, errNotSerializable) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil

	case reflect.Map:
		out := bson.M{}
		iter := v.MapRange()
		for iter.Next() {
			item, err := s.serializeValue(ctx, iter.Value(),
				schema.TypeDescriptor{Variant: schema.VariantUntyped}, validate, visited)
			if errors.Is(err, errNotSerializable) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out[fmt.Sprintf("%v", iter.Key().Interface())] = item
		}
		return out, nil

	case reflect.Struct:
		if ptr != 0 {
			visited[ptr] = true
			defer delete(visited, ptr)
		}
		return s.serializeNested(ctx, v, desc, validate, visited)

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, errNotSerializable

	default:
		return v.Interface(), nil
	}
}

// serializeNested serializes an embedded object via its own definition and
// attaches the discriminator when the runtime type differs from the
// declared property type.
func (s *Serializer) serializeNested(
	ctx context.Context,
	v reflect.Value,
	desc schema.TypeDescriptor,
	validate bool,
	visited map[uintptr]bool,
) (any, error) {
	def, err := s.registry.Of(v.Type())
	if err != nil {
		return nil, err
	}
	doc, err := s.serializeStruct(ctx, addressableCopy(v), def, validate, visited)
	if err != nil {
		return nil, err
	}
	if desc.Variant != schema.VariantClass || desc.ClassName != def.TypeName {
		doc[discriminatorKey] = bson.M{classKey: def.TypeName}
	}
	return doc, nil
}

func (s *Serializer) serializeRawMap(ctx context.Context, m bson.M, validate bool, visited map[uintptr]bool) (bson.M, error) {
	out := make(bson.M, len(m))
	for k, v := range m {
		item, err := s.serializeValue(ctx, reflect.ValueOf(v),
			schema.TypeDescriptor{Variant: schema.VariantUntyped}, validate, visited)
		if errors.Is(err, errNotSerializable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = item
	}
	return out, nil
}

func (s *Serializer) serializeRawSlice(ctx context.Context, a bson.A, validate bool, visited map[uintptr]bool) (bson.A, error) {
	out := make(bson.A, 0, len(a))
	for _, v := range a {
		item, err := s.serializeValue(ctx, reflect.ValueOf(v),
			schema.TypeDescriptor{Variant: schema.VariantUntyped}, validate, visited)
		if errors.Is(err, errNotSerializable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// serializeReference persists the referenced object (when a persister is
// wired) and replaces it with the pointer projection, snapshotting any
// requested with-fields at serialization time.
func (s *Serializer) serializeReference(ctx context.Context, fv reflect.Value, prop *schema.PropertyDef) (any, error) {
	if fv.Kind() == reflect.Interface {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}
	if fv.Kind() == reflect.Ptr && fv.IsNil() {
		return nil, nil
	}

	if ref, ok := fv.Interface().(*Ref); ok {
		if target := ref.Target(); target != nil {
			return s.projectReference(ctx, target, prop)
		}
		out := bson.M{refCollectionKey: ref.Collection, refIDKey: ref.ID}
		if len(ref.CachedFields) > 0 {
			out[refCacheKey] = ref.CachedFields
		}
		return out, nil
	}
	return s.projectReference(ctx, fv.Interface(), prop)
}

// projectReference builds the {$ref, $id} projection for a live object.
func (s *Serializer) projectReference(ctx context.Context, target any, prop *schema.PropertyDef) (bson.M, error) {
	def, err := s.registry.Of(reflect.TypeOf(target))
	if err != nil {
		return nil, err
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	rv = addressableCopy(rv)

	// Persist-first applies only to targets without an identity yet. A
	// target already mid-save higher up the cascade is projected as-is,
	// so mutually-referencing objects terminate.
	if s.persister != nil && emptyID(s.propertyValue(rv, def.IDProperty())) && !saveInFlight(ctx, target) {
		if err := s.persister.Persist(ctx, target); err != nil {
			return nil, fmt.Errorf("persisting reference target %s: %w", def.TypeName, err)
		}
	}

	out := bson.M{
		refCollectionKey: def.CollectionName,
		refIDKey:         s.propertyValue(rv, def.IDProperty()),
	}

	if len(prop.Reference.WithFields) > 0 {
		cache := bson.M{}
		for _, field := range prop.Reference.WithFields {
			p, ok := def.Property(field)
			if !ok || p.Synthesized() {
				continue
			}
			cached, err := s.serializeValue(ctx, introspect.FieldValue(rv, p.FieldPath),
				p.Descriptor, false, make(map[uintptr]bool))
			if err != nil {
				continue
			}
			cache[p.StoredName] = cached
		}
		if len(cache) > 0 {
			out[refCacheKey] = cache
		}
	}
	return out, nil
}

// propertyValue reads a property's raw value, nil for synthesized ones.
func (s *Serializer) propertyValue(rv reflect.Value, prop *schema.PropertyDef) any {
	if prop == nil || prop.Synthesized() {
		return nil
	}
	return introspect.FieldValue(rv, prop.FieldPath).Interface()
}

// ensureID generates a fresh identifier when the object carries none,
// assigning it onto the id field, or into the extras map for synthesized
// ids. Types with neither get an id in the output document only.
func (s *Serializer) ensureID(rv reflect.Value, def *schema.SchemaDefinition) {
	idProp := def.IDProperty()

	if idProp == nil || idProp.Synthesized() {
		if def.DynamicField == nil {
			return
		}
		extras, ok := introspect.FieldValue(rv, def.DynamicField.FieldPath).Interface().(bson.M)
		if !ok || extras == nil || !emptyID(extras["_id"]) {
			return
		}
		extras["_id"] = primitive.NewObjectID()
		return
	}

	fv := introspect.FieldValue(rv, idProp.FieldPath)
	if !emptyID(fv.Interface()) {
		return
	}
	var id any
	switch fv.Type() {
	case reflect.TypeOf(""):
		id = uuid.NewString()
	default:
		id = primitive.NewObjectID()
	}
	newVal := reflect.ValueOf(id)
	if newVal.Type().AssignableTo(fv.Type()) {
		introspect.SetFieldValue(rv, idProp.FieldPath, newVal)
	}
}

// emptyID reports whether an identifier value counts as absent.
func emptyID(v any) bool {
	switch id := v.(type) {
	case nil:
		return true
	case string:
		return id == ""
	case primitive.ObjectID:
		return id.IsZero()
	}
	return false
}

// addressableCopy returns rv itself when addressable, or an addressable
// copy otherwise. Unexported field access requires addressability.
func addressableCopy(rv reflect.Value) reflect.Value {
	if rv.CanAddr() {
		return rv
	}
	tmp := reflect.New(rv.Type())
	tmp.Elem().Set(rv)
	return tmp.Elem()
}
