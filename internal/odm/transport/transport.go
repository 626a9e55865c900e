// Package transport executes document-store commands. The mapping engine
// produces commands; this package carries them to a MongoDB-compatible
// server (Mongo) or an in-memory store (Memory). Transport failures are
// opaque to the engine and propagate unchanged.
package transport

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Command is one executable database command.
type Command interface {
	// Name is the wire-level command name.
	Name() string
	// TargetCollection is the collection the command addresses.
	TargetCollection() string
}

// Result summarizes command execution.
type Result struct {
	InsertedCount int64
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
}

// Cursor iterates documents returned by a find.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(into *bson.M) error
	Err() error
	Close(ctx context.Context) error
}

// Transport executes commands and runs finds against one database.
type Transport interface {
	Execute(ctx context.Context, cmd Command) (*Result, error)
	Find(ctx context.Context, collection string, filter bson.M) (Cursor, error)
}

// FindOne runs a find and returns the first document, or nil when the
// filter matches nothing.
func FindOne(ctx context.Context, t Transport, collection string, filter bson.M) (bson.M, error) {
	cur, err := t.Find(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		return nil, cur.Err()
	}
	var doc bson.M
	if err := cur.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
