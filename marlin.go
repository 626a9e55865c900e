// Package marlin is an object-document mapper for MongoDB-compatible
// stores. Struct types annotated with odm tags map onto collections; the
// engine extracts and caches schema metadata, serializes objects into
// documents, hydrates documents back, computes minimal partial updates from
// persistence snapshots, resolves cross-document references lazily, and
// dispatches lifecycle events.
package marlin

import (
	"context"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/marlin-odm/marlin/internal/odm/config"
	"github.com/marlin-odm/marlin/internal/odm/document"
	"github.com/marlin-odm/marlin/internal/odm/hooks"
	"github.com/marlin-odm/marlin/internal/odm/mapper"
	"github.com/marlin-odm/marlin/internal/odm/schema"
	"github.com/marlin-odm/marlin/internal/odm/tracking"
	"github.com/marlin-odm/marlin/internal/odm/transport"
	"github.com/marlin-odm/marlin/internal/odm/validation"
)

// Re-exported engine types, so applications only import this package.
type (
	// Document is a stored-name keyed document.
	Document = bson.M
	// Ref is a lazy cross-document pointer.
	Ref = document.Ref
	// Tracked carries the persistence snapshot; embed it in root entities.
	Tracked = tracking.Tracked
	// Config holds connection settings.
	Config = config.Config
	// Mapper performs persistence and retrieval.
	Mapper = mapper.Mapper
	// SchemaDefinition is the cached metadata for one mapped type.
	SchemaDefinition = schema.SchemaDefinition
	// Transport executes document-store commands.
	Transport = transport.Transport
	// MemoryTransport is the in-process transport for tests.
	MemoryTransport = transport.Memory
)

// RefTo wraps a live object for assignment to a reference property.
func RefTo(obj any) *Ref { return document.RefTo(obj) }

// LoadConfig reads marlin.yml and environment overrides.
func LoadConfig() (*Config, error) { return config.Load() }

// NewMemoryTransport creates an empty in-memory transport.
func NewMemoryTransport() *MemoryTransport { return transport.NewMemory() }

// Session wires the mapping engine around one transport.
type Session struct {
	Registry   *schema.Registry
	Mapper     *mapper.Mapper
	Transport  transport.Transport
	Validation *validation.Engine

	logger            *zap.Logger
	client            *mongo.Client
	cache             schema.MetadataCache
	backgroundIndexes bool
	submitCtx         context.Context
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger shared by all engine components.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetadataCache wires schema-definition caching to an invalidation
// store.
func WithMetadataCache(c schema.MetadataCache) Option {
	return func(s *Session) { s.cache = c }
}

// WithBackgroundIndexes makes index builds background by default. Per-field
// background annotations are unaffected.
func WithBackgroundIndexes(on bool) Option {
	return func(s *Session) { s.backgroundIndexes = on }
}

// WithSubmitContext bounds first-access index declaration with ctx.
func WithSubmitContext(ctx context.Context) Option {
	return func(s *Session) { s.submitCtx = ctx }
}

// NewSession assembles the engine on top of an existing transport.
func NewSession(tp transport.Transport, opts ...Option) *Session {
	s := &Session{
		Transport: tp,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	regOpts := []schema.RegistryOption{
		schema.WithIndexSubmitter(&indexSubmitter{tp: tp, background: s.backgroundIndexes}),
		schema.WithLogger(s.logger),
	}
	if s.cache != nil {
		regOpts = append(regOpts, schema.WithMetadataCache(s.cache))
	}
	if s.submitCtx != nil {
		regOpts = append(regOpts, schema.WithSubmitContext(s.submitCtx))
	}
	s.Registry = schema.NewRegistry(regOpts...)

	s.Validation = validation.NewEngine(validation.NewFuncRegistry())
	dispatcher := hooks.NewDispatcher(s.logger)
	serializer := document.NewSerializer(s.Registry, s.Validation)
	hydrator := document.NewHydrator(s.Registry, serializer, &finder{tp: tp}, dispatcher)
	s.Mapper = mapper.New(s.Registry, tp, serializer, hydrator, dispatcher, s.logger)

	// References are persisted-first through the mapper itself.
	serializer.SetPersister(s.Mapper)
	return s
}

// Connect dials a MongoDB deployment from configuration and assembles a
// session on top of it.
func Connect(ctx context.Context, cfg *Config, opts ...Option) (*Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	defer cancel()

	client, err := mongo.Connect(dialCtx, options.Client().ApplyURI(cfg.Database.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Database.URI, err)
	}
	if err := client.Ping(dialCtx, nil); err != nil {
		return nil, fmt.Errorf("pinging %s: %w", cfg.Database.URI, err)
	}

	probe := &Session{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(probe)
	}

	tp := transport.NewMongo(client.Database(cfg.Database.Name), probe.logger)
	opts = append([]Option{
		WithBackgroundIndexes(cfg.Indexes.Background),
		WithSubmitContext(ctx),
	}, opts...)
	s := NewSession(tp, opts...)
	s.client = client
	return s, nil
}

// Close disconnects the underlying client, when the session owns one.
func (s *Session) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Register records mapped types by sample instance so finders and
// observers can address them by name.
func (s *Session) Register(samples ...any) {
	s.Registry.Register(samples...)
}

// Schema returns the cached definition for a sample's type, building it on
// first access.
func (s *Session) Schema(sample any) (*SchemaDefinition, error) {
	return s.Registry.Of(reflect.TypeOf(sample))
}

// Observe registers a lifecycle observer for a mapped type.
func (s *Session) Observe(typeName string, observer any) error {
	return s.Mapper.RegisterObserver(typeName, observer)
}

// indexSubmitter adapts the transport to the registry's index declaration
// hook. background turns on background builds for indexes whose annotation
// did not ask for one.
type indexSubmitter struct {
	tp         transport.Transport
	background bool
}

func (i *indexSubmitter) CreateIndexes(ctx context.Context, collection string, indexes []schema.IndexDef) error {
	models := make([]transport.IndexModel, 0, len(indexes))
	for _, idx := range indexes {
		keys := make(bson.D, 0, len(idx.Keys))
		for _, k := range idx.Keys {
			keys = append(keys, bson.E{Key: k.Field, Value: k.Direction})
		}
		models = append(models, transport.IndexModel{
			Keys:       keys,
			Name:       idx.Name,
			Unique:     idx.Unique,
			Sparse:     idx.Sparse,
			Background: idx.Background || i.background,
		})
	}
	_, err := i.tp.Execute(ctx, &transport.CreateIndexes{
		Collection: collection,
		Indexes:    models,
	})
	return err
}

// finder adapts the transport to the hydrator's reference loader.
type finder struct {
	tp transport.Transport
}

func (f *finder) FindOne(ctx context.Context, collection string, filter bson.M) (bson.M, error) {
	return transport.FindOne(ctx, f.tp, collection, filter)
}
