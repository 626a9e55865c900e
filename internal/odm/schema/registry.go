package schema

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// IndexSubmitter receives each newly built definition's declared indexes as
// a single createIndexes command. The transport layer implements it.
type IndexSubmitter interface {
	CreateIndexes(ctx context.Context, collection string, indexes []IndexDef) error
}

// MetadataCache is the keyed cache/invalidation collaborator. Given a key
// and the watched source artifacts, it returns the previously cached value
// unless any watched artifact changed since caching.
type MetadataCache interface {
	Cached(key string, watched []string, produce func() (any, error)) (any, error)
}

// Registry caches one SchemaDefinition per type for the process. First
// access per type extracts the definition, submits its declared indexes and
// records its watched sources with the metadata cache. Construction is
// at-most-once per type name under concurrent callers.
type Registry struct {
	mu           sync.RWMutex
	types        map[string]reflect.Type
	defs         map[string]*SchemaDefinition
	byCollection map[string]string
	watched      map[string][]string

	group     singleflight.Group
	extractor *Extractor
	indexes   IndexSubmitter
	submitCtx context.Context
	cache     MetadataCache
	logger    *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIndexSubmitter wires index declaration to a transport.
func WithIndexSubmitter(s IndexSubmitter) RegistryOption {
	return func(r *Registry) { r.indexes = s }
}

// WithSubmitContext bounds first-access index submission with ctx, so
// declaration is cancellable. Defaults to context.Background.
func WithSubmitContext(ctx context.Context) RegistryOption {
	return func(r *Registry) { r.submitCtx = ctx }
}

// WithMetadataCache wires definition caching to an invalidation store.
func WithMetadataCache(c MetadataCache) RegistryOption {
	return func(r *Registry) { r.cache = c }
}

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		types:        make(map[string]reflect.Type),
		defs:         make(map[string]*SchemaDefinition),
		byCollection: make(map[string]string),
		watched:      make(map[string][]string),
		submitCtx:    context.Background(),
		logger:       zap.NewNop(),
	}
	r.extractor = NewExtractor(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records sample instances so their types can later be resolved by
// name. Registration alone does not extract definitions.
func (r *Registry) Register(samples ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		t := reflect.TypeOf(s)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		r.types[t.Name()] = t
	}
}

// WatchSources declares the source artifacts whose change invalidates the
// named type's cached definition. Must be called before first extraction.
func (r *Registry) WatchSources(typeName string, paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watched[typeName] = append(r.watched[typeName], paths...)
}

// OfName returns the cached definition for a registered type name.
func (r *Registry) OfName(name string) (*SchemaDefinition, error) {
	r.mu.RLock()
	t, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{
			Type:   name,
			Reason: "type is not registered",
			Err:    ErrTypeNotFound,
		}
	}
	return r.Of(t)
}

// Of returns the process-cached definition for t, building it on first
// access. Concurrent first accesses for the same type share one build.
func (r *Registry) Of(t reflect.Type) (*SchemaDefinition, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, NewConfigurationError(t.String(), "not a mappable type")
	}
	name := t.Name()

	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		// Re-check under the flight: a racing caller may have finished.
		r.mu.RLock()
		def, ok := r.defs[name]
		r.mu.RUnlock()
		if ok {
			return def, nil
		}
		return r.build(name, t)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SchemaDefinition), nil
}

// build extracts, caches, and index-declares one definition.
func (r *Registry) build(name string, t reflect.Type) (*SchemaDefinition, error) {
	r.mu.RLock()
	watched := append([]string(nil), r.watched[name]...)
	r.mu.RUnlock()

	produce := func() (any, error) {
		return r.extractor.Extract(t, watched)
	}

	var (
		def *SchemaDefinition
		err error
	)
	if r.cache != nil {
		var v any
		v, err = r.cache.Cached("schema:"+name, watched, produce)
		if err == nil {
			def = v.(*SchemaDefinition)
		}
	} else {
		var v any
		v, err = produce()
		if err == nil {
			def = v.(*SchemaDefinition)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := r.submitIndexes(def); err != nil {
		return nil, fmt.Errorf("declaring indexes for %s: %w", name, err)
	}

	r.mu.Lock()
	r.types[name] = t
	r.defs[name] = def
	if _, taken := r.byCollection[def.CollectionName]; !taken && def.HasOwnCollection {
		r.byCollection[def.CollectionName] = name
	}
	r.mu.Unlock()

	r.logger.Debug("schema definition built",
		zap.String("type", name),
		zap.String("collection", def.CollectionName),
		zap.Int("properties", len(def.Properties)),
		zap.Int("indexes", len(def.Indexes)))
	return def, nil
}

// submitIndexes sends all declared indexes in a single createIndexes
// command. No-op when the type declares none or no submitter is wired.
func (r *Registry) submitIndexes(def *SchemaDefinition) error {
	if r.indexes == nil || len(def.Indexes) == 0 {
		return nil
	}
	r.logger.Debug("submitting indexes",
		zap.String("collection", def.CollectionName),
		zap.Int("count", len(def.Indexes)))
	return r.indexes.CreateIndexes(r.submitCtx, def.CollectionName, def.Indexes)
}

// OfCollection reverse-looks-up the definition mapped to a collection name.
// Returns nil when the collection is unmapped.
func (r *Registry) OfCollection(collection string) *SchemaDefinition {
	r.mu.RLock()
	name, ok := r.byCollection[collection]
	def := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return def
}

// Known reports whether a definition has been built for the type name.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// Invalidate drops a cached definition so the next access rebuilds it.
// Observers registered on the old definition are lost with it.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, name)
}
