package schema

import (
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/jinzhu/inflection"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marlin-odm/marlin/internal/odm/introspect"
	"github.com/marlin-odm/marlin/internal/odm/tracking"
)

// CollectionNamer overrides the derived collection name for a type.
type CollectionNamer interface {
	CollectionName() string
}

// SingleCollection marks a hierarchy root whose descendants share its
// collection. Presence of the method is the flag; it is never called.
type SingleCollection interface {
	SingleCollection()
}

// scopePrefix is the method-name pattern for named query scopes.
const scopePrefix = "Scope"

var trackedType = reflect.TypeOf(tracking.Tracked{})

// parentResolver resolves embedded ancestor types to their definitions.
// The Registry implements it; extraction recurses through it so ancestor
// definitions are cached and index-declared exactly once.
type parentResolver interface {
	Of(t reflect.Type) (*SchemaDefinition, error)
}

// Extractor turns one struct type's reflection and annotations into a
// SchemaDefinition. It performs no side effects; index submission is the
// Registry's job.
type Extractor struct {
	resolver parentResolver
}

// NewExtractor creates an extractor that resolves ancestors through the
// given resolver.
func NewExtractor(resolver parentResolver) *Extractor {
	return &Extractor{resolver: resolver}
}

// Extract builds the definition for t. watched lists the type's own watched
// source artifacts; ancestors' watched sources are merged in.
func (e *Extractor) Extract(t reflect.Type, watched []string) (*SchemaDefinition, error) {
	info, err := introspect.Inspect(t)
	if err != nil {
		return nil, NewConfigurationError(t.String(), "not a mappable type: %v", err)
	}
	t = info.Type

	def := &SchemaDefinition{
		TypeName:               info.Name,
		GoType:                 t,
		HasOwnCollection:       true,
		PropertiesByFieldName:  make(map[string]*PropertyDef),
		PropertiesByStoredName: make(map[string]*PropertyDef),
		Events:                 make(map[EventKind][]EventHook),
		Scopes:                 make(map[string]ScopeRef),
		WatchedSources:         append([]string(nil), watched...),
	}

	links, err := e.resolveParents(def, info)
	if err != nil {
		return nil, err
	}
	e.resolveCollection(def, t)

	for i := range info.Fields {
		if err := e.extractProperty(def, &info.Fields[i]); err != nil {
			return nil, err
		}
	}
	e.promoteInherited(def, links)
	e.extractMethods(def, info)

	if def.IDPropertyKey == "" {
		e.synthesizeID(def)
	}

	def.Prototype = reflect.New(t).Interface()
	return def, nil
}

// parentLink pairs a resolved ancestor with the embedded field that
// carries it, so inherited properties can be addressed through promotion.
type parentLink struct {
	def        *SchemaDefinition
	fieldIndex int
}

// resolveParents walks anonymous embedded struct fields, resolving each
// through the registry. The first single-collection ancestor donates its
// collection name and ends the inheritance of storage.
func (e *Extractor) resolveParents(def *SchemaDefinition, info *introspect.TypeInfo) ([]parentLink, error) {
	var links []parentLink
	for _, f := range info.Fields {
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() != reflect.Struct || ft == trackedType {
			continue
		}

		parent, err := e.resolver.Of(ft)
		if err != nil {
			return nil, err
		}
		def.Parents = append(def.Parents, parent)
		def.WatchedSources = append(def.WatchedSources, parent.WatchedSources...)
		links = append(links, parentLink{def: parent, fieldIndex: f.Index})

		if def.HasOwnCollection && (parent.SingleCollectionRoot || !parent.HasOwnCollection) {
			def.CollectionName = parent.CollectionName
			def.HasOwnCollection = false
		}
	}
	return links, nil
}

// promoteInherited surfaces ancestor properties through Go field promotion.
// Own declarations shadow inherited ones by field name or stored name. An
// inherited identifier satisfies the id requirement, so no implicit one is
// synthesized for descendants of an id-declaring ancestor.
func (e *Extractor) promoteInherited(def *SchemaDefinition, links []parentLink) {
	for _, link := range links {
		for _, pp := range link.def.Properties {
			if pp.Synthesized() {
				continue
			}
			if _, ok := def.PropertiesByFieldName[pp.FieldName]; ok {
				continue
			}
			if _, ok := def.PropertiesByStoredName[pp.StoredName]; ok {
				continue
			}
			prop := *pp
			prop.FieldPath = append([]int{link.fieldIndex}, pp.FieldPath...)
			prop.Validations = append([]ValidationRef(nil), pp.Validations...)
			def.Properties = append(def.Properties, &prop)
			def.PropertiesByFieldName[prop.FieldName] = &prop
			def.PropertiesByStoredName[prop.StoredName] = &prop
			if def.IDPropertyKey == "" && link.def.IDPropertyKey == pp.FieldName {
				def.IDPropertyKey = prop.FieldName
			}
			if def.DynamicField == nil && pp.Dynamic {
				def.DynamicField = &prop
			}
		}
	}
}

// resolveCollection fills in the collection name and single-collection flag
// for types that did not inherit storage from an ancestor.
func (e *Extractor) resolveCollection(def *SchemaDefinition, t reflect.Type) {
	proto := reflect.New(t).Interface()
	if !def.HasOwnCollection {
		// The marker method promotes to descendants; only the type that
		// actually owns the collection is the root.
		return
	}
	if _, ok := proto.(SingleCollection); ok {
		def.SingleCollectionRoot = true
	}
	if namer, ok := proto.(CollectionNamer); ok {
		def.CollectionName = namer.CollectionName()
		return
	}
	def.CollectionName = inflection.Plural(introspect.SimpleName(t))
}

// extractProperty builds one PropertyDef and any index it declares.
func (e *Extractor) extractProperty(def *SchemaDefinition, f *introspect.FieldInfo) error {
	if f.Anonymous {
		return nil
	}
	if f.HasAnnotation("-") {
		return nil
	}
	// Reserved internal marker: non-public fields prefixed with _.
	if strings.HasPrefix(f.Name, "_") && !f.Exported {
		return nil
	}

	prop := &PropertyDef{
		StoredName: f.Name,
		FieldName:  f.Name,
		FieldPath:  []int{f.Index},
		RawTag:     f.RawTag,
		Visibility: Public,
	}
	if !f.Exported {
		prop.Visibility = Private
	}

	if a, ok := f.Annotation("field"); ok && len(a.Args) > 0 {
		prop.StoredName = a.Args[0]
	}

	isID := f.HasAnnotation("id")
	if isID && def.IDPropertyKey == "" {
		def.IDPropertyKey = f.Name
		prop.StoredName = "_id"
		prop.Descriptor = TypeDescriptor{Variant: VariantID}
	} else {
		prop.Descriptor = descriptorFor(f.Type)
	}

	prop.Required = f.HasAnnotation("required")

	if a, ok := f.Annotation("reference"); ok {
		prop.Reference = &ReferenceSpec{WithFields: a.Args}
	}
	if f.HasAnnotation("extra") {
		prop.Dynamic = true
		prop.Descriptor = TypeDescriptor{Variant: VariantUntyped}
		def.DynamicField = prop
	}

	for _, a := range f.Annotations {
		if a.Name != "validate" || len(a.Args) == 0 {
			continue
		}
		prop.Validations = append(prop.Validations, ValidationRef{
			Name: a.Args[0],
			Args: append([]string(nil), a.Args[1:]...),
		})
	}

	if idx, ok := extractIndex(f, prop.StoredName); ok {
		def.Indexes = append(def.Indexes, idx)
	}

	def.Properties = append(def.Properties, prop)
	def.PropertiesByFieldName[prop.FieldName] = prop
	def.PropertiesByStoredName[prop.StoredName] = prop
	return nil
}

// extractIndex reads an index or unique annotation off a field. Direction
// defaults to ascending.
func extractIndex(f *introspect.FieldInfo, storedName string) (IndexDef, bool) {
	a, ok := f.Annotation("unique")
	unique := ok
	if !ok {
		a, ok = f.Annotation("index")
		if !ok {
			return IndexDef{}, false
		}
	}

	idx := IndexDef{
		Keys:   []IndexKey{{Field: storedName, Direction: 1}},
		Unique: unique,
	}
	for _, arg := range a.Args {
		switch arg {
		case "desc":
			idx.Keys[0].Direction = -1
		case "asc":
			idx.Keys[0].Direction = 1
		case "sparse":
			idx.Sparse = true
		case "background":
			idx.Background = true
		}
	}
	idx.Name = DeriveIndexName(idx.Keys, idx.Unique)
	return idx, true
}

// extractMethods registers scopes and lifecycle hooks from the type's
// exported methods.
func (e *Extractor) extractMethods(def *SchemaDefinition, info *introspect.TypeInfo) {
	for _, m := range info.Methods {
		if kind, ok := CanonicalEvent(m.Name); ok {
			def.Events[kind] = append(def.Events[kind], EventHook{
				Kind:        kind,
				MethodName:  m.Name,
				MethodIndex: m.Index,
				Invocable:   hookInvocable(m),
			})
			continue
		}
		if name, ok := scopeName(m.Name); ok {
			def.Scopes[name] = ScopeRef{
				Name:        name,
				MethodName:  m.Name,
				MethodIndex: m.Index,
				Arity:       m.NumIn,
			}
		}
	}
}

// hookInvocable reports whether a hook method has a supported signature:
// no parameters beyond the receiver, returning nothing or a single error.
func hookInvocable(m introspect.MethodInfo) bool {
	if m.NumIn != 0 {
		return false
	}
	switch m.NumOut {
	case 0:
		return true
	case 1:
		return m.Method.Type.Out(0) == reflect.TypeOf((*error)(nil)).Elem()
	default:
		return false
	}
}

// scopeName turns ScopeRecentlyActive into recentlyActive.
func scopeName(methodName string) (string, bool) {
	if !strings.HasPrefix(methodName, scopePrefix) {
		return "", false
	}
	rest := methodName[len(scopePrefix):]
	if rest == "" {
		return "", false
	}
	runes := []rune(rest)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes), true
}

// synthesizeID adds the implicit identifier property: stored _id, field id,
// not required, public, no backing struct field.
func (e *Extractor) synthesizeID(def *SchemaDefinition) {
	prop := &PropertyDef{
		StoredName: "_id",
		FieldName:  "id",
		Descriptor: TypeDescriptor{Variant: VariantID},
		Visibility: Public,
	}
	def.IDPropertyKey = prop.FieldName
	def.Properties = append(def.Properties, prop)
	def.PropertiesByFieldName[prop.FieldName] = prop
	def.PropertiesByStoredName[prop.StoredName] = prop
}

// descriptorFor derives the declared type descriptor from a Go field type.
func descriptorFor(t reflect.Type) TypeDescriptor {
	if t == nil {
		return TypeDescriptor{Variant: VariantUntyped}
	}
	if t.Kind() == reflect.Ptr {
		return descriptorFor(t.Elem())
	}

	switch {
	case t == reflect.TypeOf(time.Time{}):
		return TypeDescriptor{Variant: VariantScalar, Scalar: KindTime}
	case t == reflect.TypeOf(primitive.ObjectID{}):
		return TypeDescriptor{Variant: VariantScalar, Scalar: KindObjectID}
	case t == reflect.TypeOf([]byte(nil)):
		return TypeDescriptor{Variant: VariantScalar, Scalar: KindBytes}
	}

	switch t.Kind() {
	case reflect.String:
		return TypeDescriptor{Variant: VariantScalar, Scalar: KindString}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeDescriptor{Variant: VariantScalar, Scalar: KindInt}
	case reflect.Float32, reflect.Float64:
		return TypeDescriptor{Variant: VariantScalar, Scalar: KindFloat}
	case reflect.Bool:
		return TypeDescriptor{Variant: VariantScalar, Scalar: KindBool}
	case reflect.Slice, reflect.Array:
		elem := descriptorFor(t.Elem())
		return TypeDescriptor{Variant: VariantArray, Elem: &elem}
	case reflect.Struct:
		return TypeDescriptor{Variant: VariantClass, ClassName: t.Name()}
	default:
		return TypeDescriptor{Variant: VariantUntyped}
	}
}
