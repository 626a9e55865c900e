// Package mapper is the repository service composing the schema registry,
// serializer, hydrator, diff engine and event dispatcher into persistence
// operations. It is parameterized by schema definitions and composed into
// application code; mapped types inherit nothing from it.
package mapper

import (
	"context"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/marlin-odm/marlin/internal/odm/document"
	"github.com/marlin-odm/marlin/internal/odm/hooks"
	"github.com/marlin-odm/marlin/internal/odm/schema"
	"github.com/marlin-odm/marlin/internal/odm/tracking"
	"github.com/marlin-odm/marlin/internal/odm/transport"
)

// Operation discriminates save-command kinds.
type Operation int

const (
	// OperationCreate inserts a full document.
	OperationCreate Operation = iota
	// OperationUpdate sends a minimal partial update.
	OperationUpdate
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// SaveCommand is the persistence command computed for one object, ready
// for the transport.
type SaveCommand struct {
	Operation  Operation
	Collection string
	Command    transport.Command
	// Document is the full document for creates, the partial
	// $set/$unset update for updates.
	Document bson.M
	// Selector keys updates by the previously persisted identifier.
	Selector bson.M
}

// Empty reports whether an update command carries no changes.
func (c *SaveCommand) Empty() bool {
	return c.Operation == OperationUpdate && len(c.Document) == 0
}

// Mapper performs persistence and retrieval for mapped objects.
type Mapper struct {
	registry   *schema.Registry
	transport  transport.Transport
	serializer *document.Serializer
	hydrator   *document.Hydrator
	dispatcher *hooks.Dispatcher
	logger     *zap.Logger
}

// New assembles a mapper. All collaborators are required except logger,
// which defaults to no-op.
func New(
	registry *schema.Registry,
	tp transport.Transport,
	serializer *document.Serializer,
	hydrator *document.Hydrator,
	dispatcher *hooks.Dispatcher,
	logger *zap.Logger,
) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{
		registry:   registry,
		transport:  tp,
		serializer: serializer,
		hydrator:   hydrator,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// BuildSaveCommand computes the create or update command for an object and
// fires the pre-persistence events (saving, then creating or updating).
// The object's snapshot decides the path: no baseline means creation.
func (m *Mapper) BuildSaveCommand(ctx context.Context, obj any) (*SaveCommand, error) {
	def, err := m.definitionOf(obj)
	if err != nil {
		return nil, err
	}

	previous := snapshotOf(obj)
	if previous == nil {
		return m.buildCreate(ctx, def, obj)
	}
	return m.buildUpdate(ctx, def, obj, previous)
}

func (m *Mapper) buildCreate(ctx context.Context, def *schema.SchemaDefinition, obj any) (*SaveCommand, error) {
	if err := m.dispatcher.Trigger(def, obj, schema.EventSaving); err != nil {
		return nil, err
	}
	if err := m.dispatcher.Trigger(def, obj, schema.EventCreating); err != nil {
		return nil, err
	}

	doc, err := m.serializer.ToDocument(ctx, obj, true, true)
	if err != nil {
		return nil, err
	}
	return &SaveCommand{
		Operation:  OperationCreate,
		Collection: def.CollectionName,
		Document:   doc,
		Command: &transport.Insert{
			Collection: def.CollectionName,
			Document:   doc,
		},
	}, nil
}

func (m *Mapper) buildUpdate(ctx context.Context, def *schema.SchemaDefinition, obj any, previous bson.M) (*SaveCommand, error) {
	if err := m.dispatcher.Trigger(def, obj, schema.EventSaving); err != nil {
		return nil, err
	}
	if err := m.dispatcher.Trigger(def, obj, schema.EventUpdating); err != nil {
		return nil, err
	}

	current, err := m.serializer.ToDocument(ctx, obj, true, false)
	if err != nil {
		return nil, err
	}

	set, unset := tracking.Diff(current, previous)
	// Identity is immutable and never unsets.
	delete(unset, "_id")
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	selector := bson.M{"_id": previous["_id"]}

	return &SaveCommand{
		Operation:  OperationUpdate,
		Collection: def.CollectionName,
		Document:   update,
		Selector:   selector,
		Command: &transport.Update{
			Collection: def.CollectionName,
			Selector:   selector,
			Update:     update,
		},
	}, nil
}

// Save persists an object: create when it carries no snapshot, minimal
// partial update otherwise. Post events (created or updated, then saved)
// fire after successful execution, and the object is re-snapshotted. A
// transport failure leaves the snapshot untouched so a retry recomputes
// the same diff.
func (m *Mapper) Save(ctx context.Context, obj any) error {
	def, err := m.definitionOf(obj)
	if err != nil {
		return err
	}

	// A reference cascade back to an object already being saved is a no-op;
	// the in-flight ancestor projects with the id it was assigned up front.
	ctx, first := document.BeginSave(ctx, obj)
	if !first {
		return nil
	}
	defer document.EndSave(ctx, obj)

	cmd, err := m.BuildSaveCommand(ctx, obj)
	if err != nil {
		return err
	}

	if !cmd.Empty() {
		if _, err := m.transport.Execute(ctx, cmd.Command); err != nil {
			return err
		}
		m.logger.Debug("saved document",
			zap.String("type", def.TypeName),
			zap.String("collection", cmd.Collection),
			zap.String("operation", cmd.Operation.String()))
	}

	post := schema.EventCreated
	if cmd.Operation == OperationUpdate {
		post = schema.EventUpdated
	}
	if err := m.dispatcher.Trigger(def, obj, post); err != nil {
		return err
	}
	if err := m.dispatcher.Trigger(def, obj, schema.EventSaved); err != nil {
		return err
	}
	return m.hydrator.Snapshot(ctx, obj)
}

// Insert forces the creation path regardless of snapshot state.
func (m *Mapper) Insert(ctx context.Context, obj any) error {
	if snap, ok := obj.(tracking.Snapshotter); ok {
		snap.ClearPersistedSnapshot()
	}
	return m.Save(ctx, obj)
}

// Update forces the update path. An object without a baseline diffs
// against its identity alone, so every field is sent as a set.
func (m *Mapper) Update(ctx context.Context, obj any) error {
	if snapshotOf(obj) == nil {
		id, err := m.identifierOf(ctx, obj)
		if err != nil {
			return err
		}
		if snap, ok := obj.(tracking.Snapshotter); ok {
			snap.SetPersistedSnapshot(bson.M{"_id": id})
		}
	}
	return m.Save(ctx, obj)
}

// Persist implements document.Persister so referenced objects are saved
// before their pointers are projected.
func (m *Mapper) Persist(ctx context.Context, obj any) error {
	return m.Save(ctx, obj)
}

// Delete removes an object's document, firing deleting and deleted around
// the command, and clears the snapshot.
func (m *Mapper) Delete(ctx context.Context, obj any) error {
	def, err := m.definitionOf(obj)
	if err != nil {
		return err
	}
	if err := m.dispatcher.Trigger(def, obj, schema.EventDeleting); err != nil {
		return err
	}

	id, err := m.identifierOf(ctx, obj)
	if err != nil {
		return err
	}
	cmd := &transport.Delete{
		Collection: def.CollectionName,
		Selector:   bson.M{"_id": id},
	}
	if _, err := m.transport.Execute(ctx, cmd); err != nil {
		return err
	}

	if err := m.dispatcher.Trigger(def, obj, schema.EventDeleted); err != nil {
		return err
	}
	if snap, ok := obj.(tracking.Snapshotter); ok {
		snap.ClearPersistedSnapshot()
	}
	return nil
}

// First loads the document with the given identifier and hydrates it.
// Returns nil when no document matches.
func (m *Mapper) First(ctx context.Context, typeName string, id any) (any, error) {
	return m.FindOne(ctx, typeName, bson.M{"_id": id})
}

// FindOne hydrates the first document matching the filter, or nil.
func (m *Mapper) FindOne(ctx context.Context, typeName string, filter bson.M) (any, error) {
	def, err := m.registry.OfName(typeName)
	if err != nil {
		return nil, err
	}
	doc, err := transport.FindOne(ctx, m.transport, def.CollectionName, m.scopedFilter(def, filter))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return m.hydrator.NewInstance(ctx, def, doc, false)
}

// Find hydrates every document matching the filter.
func (m *Mapper) Find(ctx context.Context, typeName string, filter bson.M) ([]any, error) {
	def, err := m.registry.OfName(typeName)
	if err != nil {
		return nil, err
	}
	cur, err := m.transport.Find(ctx, def.CollectionName, m.scopedFilter(def, filter))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []any
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		obj, err := m.hydrator.NewInstance(ctx, def, doc, false)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, cur.Err()
}

// Scoped invokes a named scope on the type's prototype instance and
// returns the filter fragment it produces.
func (m *Mapper) Scoped(typeName, scopeName string, args ...any) (bson.M, error) {
	def, err := m.registry.OfName(typeName)
	if err != nil {
		return nil, err
	}
	scope, ok := def.Scopes[scopeName]
	if !ok {
		return nil, schema.NewConfigurationError(typeName, "unknown scope %s", scopeName)
	}
	if len(args) != scope.Arity {
		return nil, schema.NewConfigurationError(typeName,
			"scope %s expects %d arguments, got %d", scopeName, scope.Arity, len(args))
	}
	if def.Prototype == nil {
		return nil, schema.NewConfigurationError(typeName, "type is not instantiable")
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}
	out := reflect.ValueOf(def.Prototype).Method(scope.MethodIndex).Call(in)
	if len(out) == 0 {
		return nil, schema.NewConfigurationError(typeName, "scope %s returns nothing", scopeName)
	}
	filter, ok := out[0].Interface().(bson.M)
	if !ok {
		return nil, schema.NewConfigurationError(typeName,
			"scope %s must return a filter document, got %T", scopeName, out[0].Interface())
	}
	return filter, nil
}

// RegisterObserver appends an observer for a mapped type. Registering
// against an unknown type is a fatal configuration error.
func (m *Mapper) RegisterObserver(typeName string, observer any) error {
	if observer == nil {
		return schema.NewConfigurationError(typeName, "observer must not be nil")
	}
	def, err := m.registry.OfName(typeName)
	if err != nil {
		return err
	}
	def.AddObserver(observer)
	return nil
}

// definitionOf resolves an object's definition, requiring a pointer so
// hooks and generated identifiers can mutate it.
func (m *Mapper) definitionOf(obj any) (*schema.SchemaDefinition, error) {
	t := reflect.TypeOf(obj)
	if t == nil || t.Kind() != reflect.Ptr {
		return nil, schema.NewConfigurationError(fmt.Sprintf("%T", obj),
			"mapped objects must be passed as pointers")
	}
	return m.registry.Of(t)
}

// identifierOf reads the object's stored identifier, preferring the
// snapshot (the persisted identity) over the live value.
func (m *Mapper) identifierOf(ctx context.Context, obj any) (any, error) {
	if prev := snapshotOf(obj); prev != nil {
		if id, ok := prev["_id"]; ok {
			return id, nil
		}
	}
	doc, err := m.serializer.ToDocument(ctx, obj, false, false)
	if err != nil {
		return nil, err
	}
	id, ok := doc["_id"]
	if !ok {
		return nil, fmt.Errorf("object %T has no identifier to delete by", obj)
	}
	return id, nil
}

// scopedFilter guards filters against nil and, for single-collection
// descendants, pins the discriminator so finds only match the type.
func (m *Mapper) scopedFilter(def *schema.SchemaDefinition, filter bson.M) bson.M {
	out := bson.M{}
	for k, v := range filter {
		out[k] = v
	}
	if !def.HasOwnCollection {
		out["__type"] = bson.M{"class": def.TypeName}
	}
	return out
}

func snapshotOf(obj any) bson.M {
	snap, ok := obj.(tracking.Snapshotter)
	if !ok {
		return nil
	}
	return snap.PersistedSnapshot()
}
