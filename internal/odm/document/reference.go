// Package document converts live objects to storable documents and back.
// Serialization and hydration are driven entirely by cached schema
// definitions; cross-document references collapse to lazy pointers.
package document

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Wire field names for the reference shape and the type discriminator.
const (
	refCollectionKey = "$ref"
	refIDKey         = "$id"
	refCacheKey      = "__cache"
	discriminatorKey = "__type"
	classKey         = "class"
)

// ResolutionError reports a reference whose target document no longer
// exists. It is surfaced on the first Resolve call, not at hydration.
type ResolutionError struct {
	Collection string
	ID         any
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("reference %s/%v: target document not found", e.Collection, e.ID)
}

// Ref is a lazy pointer to a document in another collection. It owns no
// object until resolved; after the first successful Resolve it holds the
// resolved object for its own lifetime.
type Ref struct {
	Collection   string
	ID           any
	CachedFields bson.M

	mu       sync.Mutex
	target   any // live object wrapped before persistence
	resolved any
	loader   func(ctx context.Context) (any, error)
}

// RefTo wraps a live object for assignment to a reference property. The
// serializer persists the target and projects the pointer shape.
func RefTo(obj any) *Ref {
	return &Ref{target: obj}
}

// Resolve returns the referenced object, loading it on first access.
func (r *Ref) Resolve(ctx context.Context) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.target != nil {
		return r.target, nil
	}
	if r.resolved != nil {
		return r.resolved, nil
	}
	if r.loader == nil {
		return nil, fmt.Errorf("reference %s/%v: no loader attached", r.Collection, r.ID)
	}

	obj, err := r.loader(ctx)
	if err != nil {
		return nil, err
	}
	r.resolved = obj
	return obj, nil
}

// Cached returns an inline-cached field value by stored name.
func (r *Ref) Cached(field string) (any, bool) {
	v, ok := r.CachedFields[field]
	return v, ok
}

// Target returns the wrapped live object, if any.
func (r *Ref) Target() any { return r.target }

// refShape reports whether a document value matches the reference wire
// shape and decomposes it.
func refShape(doc bson.M) (collection string, id any, cached bson.M, ok bool) {
	coll, hasColl := doc[refCollectionKey].(string)
	id, hasID := doc[refIDKey]
	if !hasColl || !hasID {
		return "", nil, nil, false
	}
	cached, _ = doc[refCacheKey].(bson.M)
	return coll, id, cached, true
}
