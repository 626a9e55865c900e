package transport

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Memory is an in-process Transport for tests and offline use. It applies
// insert, update ($set/$unset), delete and createIndexes commands against
// per-collection document slices and answers finds with equality matching.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]bson.M
	indexes     map[string][]IndexModel
	commands    []Command
}

// NewMemory creates an empty in-memory transport.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string][]bson.M),
		indexes:     make(map[string][]IndexModel),
	}
}

// Execute implements Transport.
func (m *Memory) Execute(_ context.Context, cmd Command) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commands = append(m.commands, cmd)
	res := &Result{}

	switch c := cmd.(type) {
	case *CreateIndexes:
		m.indexes[c.Collection] = append(m.indexes[c.Collection], c.Indexes...)

	case *Insert:
		m.collections[c.Collection] = append(m.collections[c.Collection], copyDoc(c.Document))
		res.InsertedCount = 1

	case *Update:
		for i, doc := range m.collections[c.Collection] {
			if !matches(doc, c.Selector) {
				continue
			}
			res.MatchedCount++
			m.collections[c.Collection][i] = applyUpdate(doc, c.Update)
			res.ModifiedCount++
			if !c.Multi {
				break
			}
		}

	case *Delete:
		kept := m.collections[c.Collection][:0]
		for _, doc := range m.collections[c.Collection] {
			if matches(doc, c.Selector) && (c.Multi || res.DeletedCount == 0) {
				res.DeletedCount++
				continue
			}
			kept = append(kept, doc)
		}
		m.collections[c.Collection] = kept

	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
	return res, nil
}

// Find implements Transport.
func (m *Memory) Find(_ context.Context, collection string, filter bson.M) (Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []bson.M
	for _, doc := range m.collections[collection] {
		if matches(doc, filter) {
			out = append(out, copyDoc(doc))
		}
	}
	return &sliceCursor{docs: out}, nil
}

// Seed inserts documents directly, bypassing command recording.
func (m *Memory) Seed(collection string, docs ...bson.M) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.collections[collection] = append(m.collections[collection], copyDoc(d))
	}
}

// Documents returns a snapshot of a collection.
func (m *Memory) Documents(collection string) []bson.M {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]bson.M, 0, len(m.collections[collection]))
	for _, d := range m.collections[collection] {
		out = append(out, copyDoc(d))
	}
	return out
}

// Commands returns every executed command in order.
func (m *Memory) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.commands...)
}

// Indexes returns the declared indexes for a collection.
func (m *Memory) Indexes(collection string) []IndexModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]IndexModel(nil), m.indexes[collection]...)
}

func matches(doc, filter bson.M) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func applyUpdate(doc, update bson.M) bson.M {
	out := copyDoc(doc)
	if set, ok := update["$set"].(bson.M); ok {
		for k, v := range set {
			out[k] = v
		}
	}
	if unset, ok := update["$unset"].(bson.M); ok {
		for k := range unset {
			delete(out, k)
		}
	}
	return out
}

func copyDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

type sliceCursor struct {
	docs []bson.M
	pos  int
	cur  bson.M
}

func (c *sliceCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.cur = c.docs[c.pos]
	c.pos++
	return true
}

func (c *sliceCursor) Decode(into *bson.M) error {
	*into = c.cur
	return nil
}

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close(context.Context) error { return nil }
