package document

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marlin-odm/marlin/internal/odm/schema"
	"github.com/marlin-odm/marlin/internal/odm/tracking"
	"github.com/marlin-odm/marlin/internal/odm/validation"
)

type receipt struct {
	tracking.Tracked

	Total int `odm:"field=total"`
}

type eventRecorder struct {
	fired []schema.EventKind
}

func (e *eventRecorder) Trigger(_ *schema.SchemaDefinition, _ any, kind schema.EventKind) error {
	e.fired = append(e.fired, kind)
	return nil
}

type stubFinder struct {
	docs map[string]bson.M // one document per collection
	err  error
}

func (f *stubFinder) FindOne(_ context.Context, collection string, filter bson.M) (bson.M, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[collection]
	if !ok {
		return nil, nil
	}
	if id, filtered := filter["_id"]; filtered && !reflect.DeepEqual(doc["_id"], id) {
		return nil, nil
	}
	return doc, nil
}

func newHydrator(t *testing.T, finder Finder, events EventFirer) (*schema.Registry, *Hydrator) {
	t.Helper()
	reg := schema.NewRegistry()
	reg.Register(&author{}, &post{}, &address{}, &beast{}, &wolf{})
	ser := NewSerializer(reg, validation.NewEngine(nil))
	return reg, NewHydrator(reg, ser, finder, events)
}

func postDefinition(t *testing.T, reg *schema.Registry) *schema.SchemaDefinition {
	t.Helper()
	def, err := reg.Of(reflect.TypeOf(&post{}))
	require.NoError(t, err)
	return def
}

func TestNewInstanceAssignsFields(t *testing.T) {
	events := &eventRecorder{}
	reg, h := newHydrator(t, nil, events)
	def := postDefinition(t, reg)

	id := primitive.NewObjectID()
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := bson.M{
		"_id":   id,
		"title": "hello",
		"tags":  bson.A{"go", "odm"},
		"when":  primitive.NewDateTimeFromTime(when),
		"blob":  primitive.Binary{Data: []byte{0x1}},
		"home":  bson.M{"city": "london", "zip": "N1"},
		"score": int64(10),
	}

	obj, err := h.NewInstance(context.Background(), def, doc, false)
	require.NoError(t, err)

	p, ok := obj.(*post)
	require.True(t, ok)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "hello", p.Title)
	assert.Equal(t, []string{"go", "odm"}, p.Tags)
	assert.True(t, when.Equal(p.When))
	assert.Equal(t, []byte{0x1}, p.Blob)
	assert.Equal(t, address{City: "london", Zip: "N1"}, p.Home)
	assert.Equal(t, int64(10), p.Meta["score"],
		"unmatched document keys land in the extras map")

	snap := p.PersistedSnapshot()
	require.NotNil(t, snap, "loading snapshots the object")
	assert.Equal(t, "hello", snap["title"])

	assert.Equal(t, []schema.EventKind{schema.EventRetrieved}, events.fired)
}

func TestNewInstanceNestedSkipsSnapshotAndEvents(t *testing.T) {
	events := &eventRecorder{}
	reg, h := newHydrator(t, nil, events)
	def := postDefinition(t, reg)

	obj, err := h.NewInstance(context.Background(), def, bson.M{"title": "x"}, true)
	require.NoError(t, err)

	p := obj.(*post)
	assert.Nil(t, p.PersistedSnapshot(), "nested hydration does not snapshot")
	assert.Empty(t, events.fired, "nested hydration fires no events")
}

func TestNewInstanceReference(t *testing.T) {
	reg, h := newHydrator(t, nil, nil)
	def := postDefinition(t, reg)

	doc := bson.M{
		"title": "x",
		"author": bson.M{
			"$ref":    "authors",
			"$id":     "a1",
			"__cache": bson.M{"email": "ada@example.com"},
		},
	}
	obj, err := h.NewInstance(context.Background(), def, doc, false)
	require.NoError(t, err)

	p := obj.(*post)
	require.NotNil(t, p.Author, "reference shapes hydrate to lazy pointers")
	assert.Equal(t, "authors", p.Author.Collection)
	assert.Equal(t, "a1", p.Author.ID)

	email, ok := p.Author.Cached("email")
	require.True(t, ok, "inline-cached fields are readable without resolving")
	assert.Equal(t, "ada@example.com", email)
}

func TestRefResolve(t *testing.T) {
	aid := primitive.NewObjectID()
	finder := &stubFinder{docs: map[string]bson.M{
		"authors": {"_id": aid, "name": "ada", "email": "ada@example.com"},
	}}
	reg, h := newHydrator(t, finder, nil)
	def := postDefinition(t, reg)

	// The reverse collection lookup needs the author definition built.
	_, err := reg.Of(reflect.TypeOf(&author{}))
	require.NoError(t, err)

	doc := bson.M{
		"title":  "x",
		"author": bson.M{"$ref": "authors", "$id": aid},
	}
	obj, err := h.NewInstance(context.Background(), def, doc, false)
	require.NoError(t, err)
	p := obj.(*post)

	target, err := p.Author.Resolve(context.Background())
	require.NoError(t, err)
	a, ok := target.(*author)
	require.True(t, ok)
	assert.Equal(t, "ada", a.Name)
	assert.NotNil(t, a.PersistedSnapshot(), "resolved targets load like any other object")

	// Resolution is cached on the reference.
	again, err := p.Author.Resolve(context.Background())
	require.NoError(t, err)
	assert.Same(t, target, again)
}

func TestRefResolveMissingTarget(t *testing.T) {
	finder := &stubFinder{docs: map[string]bson.M{}}
	reg, h := newHydrator(t, finder, nil)
	def := postDefinition(t, reg)

	doc := bson.M{
		"title":  "x",
		"author": bson.M{"$ref": "authors", "$id": "gone"},
	}
	obj, err := h.NewInstance(context.Background(), def, doc, false)
	require.NoError(t, err, "a dangling reference does not fail hydration")

	_, err = obj.(*post).Author.Resolve(context.Background())
	require.Error(t, err)
	var res *ResolutionError
	require.True(t, errors.As(err, &res), "missing targets surface as resolution errors")
	assert.Equal(t, "authors", res.Collection)
}

func TestNewInstanceKeepsIdentityWithoutIDField(t *testing.T) {
	reg, h := newHydrator(t, nil, nil)
	reg.Register(&receipt{})
	def, err := reg.Of(reflect.TypeOf(&receipt{}))
	require.NoError(t, err)

	id := primitive.NewObjectID()
	obj, err := h.NewInstance(context.Background(), def, bson.M{"_id": id, "total": int64(42)}, false)
	require.NoError(t, err)

	r := obj.(*receipt)
	assert.Equal(t, 42, r.Total)

	snap := r.PersistedSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, id, snap["_id"],
		"identity survives loading when no field carries the id")

	// Re-snapshotting keeps carrying the identity forward.
	require.NoError(t, h.Snapshot(context.Background(), r))
	assert.Equal(t, id, r.PersistedSnapshot()["_id"])
}

func TestNewInstancePolymorphic(t *testing.T) {
	reg, h := newHydrator(t, nil, nil)
	def, err := reg.Of(reflect.TypeOf(&beast{}))
	require.NoError(t, err)

	doc := bson.M{
		"kind":      "gray",
		"pack_size": int32(5),
		"__type":    bson.M{"class": "wolf"},
	}
	obj, err := h.NewInstance(context.Background(), def, doc, false)
	require.NoError(t, err)

	w, ok := obj.(*wolf)
	require.True(t, ok, "the discriminator selects the concrete type")
	assert.Equal(t, "gray", w.Kind)
	assert.Equal(t, 5, w.PackSize, "numeric wire types convert to the field type")
}

func TestNewInstanceUnknownClass(t *testing.T) {
	reg, h := newHydrator(t, nil, nil)
	def, err := reg.Of(reflect.TypeOf(&beast{}))
	require.NoError(t, err)

	doc := bson.M{"__type": bson.M{"class": "Ghost"}}
	_, err = h.NewInstance(context.Background(), def, doc, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrTypeNotFound)
}
