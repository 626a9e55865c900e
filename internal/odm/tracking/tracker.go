// Package tracking provides persistence snapshots and document diffing.
// A snapshot is the last document serialized for an object at load or save
// time; diffing the current document against it yields the minimal partial
// update to send to the store.
package tracking

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// Snapshotter is implemented by objects that carry a persistence baseline.
// Embed Tracked in a mapped root entity to satisfy it.
type Snapshotter interface {
	PersistedSnapshot() bson.M
	SetPersistedSnapshot(doc bson.M)
	ClearPersistedSnapshot()
}

// Tracked holds the last persisted document for an embedding entity.
// The zero value means the entity has never been persisted.
type Tracked struct {
	lastPersisted bson.M
}

// PersistedSnapshot returns the diff baseline, or nil for a never-persisted
// object.
func (t *Tracked) PersistedSnapshot() bson.M {
	return t.lastPersisted
}

// SetPersistedSnapshot replaces the diff baseline. Called by the mapping
// engine after every load and successful save.
func (t *Tracked) SetPersistedSnapshot(doc bson.M) {
	t.lastPersisted = deepCopy(doc)
}

// ClearPersistedSnapshot drops the baseline, returning the object to the
// never-persisted state.
func (t *Tracked) ClearPersistedSnapshot() {
	t.lastPersisted = nil
}

// Diff computes the minimal update between a current document and the
// previous baseline. Keys present in current but absent or changed in
// previous land in set; keys present in previous but absent in current land
// in unset. Nested documents and arrays are compared as opaque values: any
// difference replaces the whole key.
func Diff(current, previous bson.M) (set bson.M, unset bson.M) {
	set = bson.M{}
	unset = bson.M{}

	for key, cur := range current {
		prev, ok := previous[key]
		if !ok || !deepEqual(prev, cur) {
			set[key] = cur
		}
	}
	for key := range previous {
		if _, ok := current[key]; !ok {
			unset[key] = ""
		}
	}
	return set, unset
}

func deepEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// deepCopy copies a document so later mutation of the live object cannot
// alias the stored baseline.
func deepCopy(doc bson.M) bson.M {
	if doc == nil {
		return nil
	}
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case bson.M:
		return deepCopy(val)
	case map[string]any:
		return map[string]any(deepCopy(bson.M(val)))
	case bson.A:
		out := make(bson.A, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
