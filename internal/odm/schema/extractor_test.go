package schema

import (
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marlin-odm/marlin/internal/odm/tracking"
)

type extUser struct {
	tracking.Tracked

	ID    primitive.ObjectID `odm:"id"`
	Email string             `odm:"field=email,unique,required,validate=email"`
	Name  string             `odm:"field=name"`
	Age   int                `odm:"index(desc,sparse)"`
	Token string             `odm:"-"`
	Meta  bson.M             `odm:"extra"`
}

func (u *extUser) ScopeAdults(min int) bson.M {
	return bson.M{"age": bson.M{"$gte": min}}
}

func (u *extUser) BeforeSave() error { return nil }

func (u *extUser) Saved() {}

type extAccount struct {
	Name string `odm:"field=name"`
}

func (extAccount) CollectionName() string { return "accounts_v2" }

type extNote struct {
	Body string `odm:"field=body"`
}

type extVehicle struct {
	ID   primitive.ObjectID `odm:"id"`
	Make string             `odm:"field=make"`
}

func (extVehicle) SingleCollection() {}

type extCar struct {
	extVehicle
	Doors int `odm:"field=doors"`
}

type extBadHook struct {
	Name string `odm:"field=name"`
}

func (b *extBadHook) BeforeCreate(reason string) {}

func extract(t *testing.T, sample any) *SchemaDefinition {
	t.Helper()
	def, err := NewRegistry().Of(reflect.TypeOf(sample))
	if err != nil {
		t.Fatalf("unexpected extraction error: %v", err)
	}
	return def
}

func TestExtractProperties(t *testing.T) {
	def := extract(t, &extUser{})

	if def.TypeName != "extUser" {
		t.Errorf("expected type name extUser, got %s", def.TypeName)
	}
	if def.CollectionName != "extusers" {
		t.Errorf("expected pluralized collection extusers, got %s", def.CollectionName)
	}
	if !def.HasOwnCollection {
		t.Error("expected an own collection")
	}

	if def.IDPropertyKey != "ID" {
		t.Fatalf("expected declared id property, got %q", def.IDPropertyKey)
	}
	id := def.IDProperty()
	if id.StoredName != "_id" {
		t.Errorf("id must be stored as _id, got %s", id.StoredName)
	}
	if id.Synthesized() {
		t.Error("declared id must not be synthesized")
	}

	email, ok := def.Property("email")
	if !ok {
		t.Fatal("email property not found by stored name")
	}
	if !email.Required {
		t.Error("email should be required")
	}
	if len(email.Validations) != 1 || email.Validations[0].Name != "email" {
		t.Errorf("expected one email validation, got %v", email.Validations)
	}

	if _, ok := def.Property("Token"); ok {
		t.Error("skipped field must not become a property")
	}
	if _, ok := def.PropertiesByFieldName["Tracked"]; ok {
		t.Error("snapshot slot must not become a property")
	}

	if def.DynamicField == nil || def.DynamicField.FieldName != "Meta" {
		t.Error("extras map should be recorded as the dynamic field")
	}
}

func TestExtractIndexes(t *testing.T) {
	def := extract(t, &extUser{})

	if len(def.Indexes) != 2 {
		t.Fatalf("expected 2 indexes, got %d", len(def.Indexes))
	}

	byName := make(map[string]IndexDef, len(def.Indexes))
	for _, idx := range def.Indexes {
		byName[idx.Name] = idx
	}

	unique, ok := byName["unique_email_asc"]
	if !ok {
		t.Fatal("unique_email_asc not declared")
	}
	if !unique.Unique || unique.Keys[0].Field != "email" || unique.Keys[0].Direction != 1 {
		t.Errorf("unexpected unique index: %+v", unique)
	}

	age, ok := byName["index_age_desc"]
	if !ok {
		t.Fatal("index_age_desc not declared")
	}
	if age.Unique || !age.Sparse || age.Keys[0].Direction != -1 {
		t.Errorf("unexpected age index: %+v", age)
	}
}

func TestExtractMethods(t *testing.T) {
	def := extract(t, &extUser{})

	saving := def.Events[EventSaving]
	if len(saving) != 1 || saving[0].MethodName != "BeforeSave" {
		t.Fatalf("expected BeforeSave as the saving hook, got %v", saving)
	}
	if !saving[0].Invocable {
		t.Error("func() error hooks are invocable")
	}
	if len(def.Events[EventSaved]) != 1 {
		t.Error("expected a saved hook")
	}

	scope, ok := def.Scopes["adults"]
	if !ok {
		t.Fatal("ScopeAdults should register scope adults")
	}
	if scope.Arity != 1 || scope.MethodName != "ScopeAdults" {
		t.Errorf("unexpected scope: %+v", scope)
	}
}

func TestExtractNonInvocableHook(t *testing.T) {
	def := extract(t, &extBadHook{})

	hooks := def.Events[EventCreating]
	if len(hooks) != 1 {
		t.Fatalf("expected the hook to be recorded, got %d", len(hooks))
	}
	if hooks[0].Invocable {
		t.Error("a hook taking parameters must be marked non-invocable")
	}
}

func TestExplicitCollectionName(t *testing.T) {
	def := extract(t, &extAccount{})
	if def.CollectionName != "accounts_v2" {
		t.Errorf("expected accounts_v2, got %s", def.CollectionName)
	}
}

func TestSynthesizedID(t *testing.T) {
	def := extract(t, &extNote{})

	if def.IDPropertyKey != "id" {
		t.Fatalf("expected synthesized id, got %q", def.IDPropertyKey)
	}
	id := def.IDProperty()
	if !id.Synthesized() {
		t.Error("implicit id must be synthesized")
	}
	if id.StoredName != "_id" {
		t.Errorf("implicit id must be stored as _id, got %s", id.StoredName)
	}
	if id.Required {
		t.Error("implicit id must not be required")
	}
}

func TestSingleCollectionHierarchy(t *testing.T) {
	reg := NewRegistry()

	car, err := reg.Of(reflect.TypeOf(&extCar{}))
	if err != nil {
		t.Fatalf("unexpected extraction error: %v", err)
	}
	vehicle, err := reg.Of(reflect.TypeOf(&extVehicle{}))
	if err != nil {
		t.Fatalf("unexpected extraction error: %v", err)
	}

	if !vehicle.SingleCollectionRoot || !vehicle.HasOwnCollection {
		t.Error("the marked ancestor is the hierarchy root")
	}
	if car.SingleCollectionRoot {
		t.Error("descendants are not roots themselves")
	}
	if car.HasOwnCollection {
		t.Error("descendants share the root's collection")
	}
	if car.CollectionName != vehicle.CollectionName {
		t.Errorf("expected shared collection, got %s and %s",
			car.CollectionName, vehicle.CollectionName)
	}

	if len(car.Parents) != 1 || car.Parents[0] != vehicle {
		t.Fatal("parent chain should hold the cached ancestor definition")
	}

	// The ancestor's id and fields surface on the descendant through
	// promotion, so no implicit id is synthesized.
	if car.IDPropertyKey != "ID" {
		t.Fatalf("expected inherited id, got %q", car.IDPropertyKey)
	}
	id := car.IDProperty()
	if id.Synthesized() {
		t.Error("inherited id must keep its backing field")
	}
	if want := []int{0, 0}; !reflect.DeepEqual(id.FieldPath, want) {
		t.Errorf("expected promoted field path %v, got %v", want, id.FieldPath)
	}

	if _, ok := car.Property("make"); !ok {
		t.Error("ancestor properties should be promoted onto the descendant")
	}
	if _, ok := car.Property("doors"); !ok {
		t.Error("own properties should still be present")
	}
}
