package transport

import (
	"go.mongodb.org/mongo-driver/bson"
)

// IndexModel is one index declaration inside a CreateIndexes command.
type IndexModel struct {
	Keys       bson.D
	Name       string
	Unique     bool
	Sparse     bool
	Background bool
}

// CreateIndexes declares all of a collection's indexes in one command.
type CreateIndexes struct {
	Collection string
	Indexes    []IndexModel
}

// Name implements Command.
func (c *CreateIndexes) Name() string { return "createIndexes" }

// TargetCollection implements Command.
func (c *CreateIndexes) TargetCollection() string { return c.Collection }

// Insert carries one full serialized document.
type Insert struct {
	Collection string
	Document   bson.M
}

// Name implements Command.
func (c *Insert) Name() string { return "insert" }

// TargetCollection implements Command.
func (c *Insert) TargetCollection() string { return c.Collection }

// Update carries one partial update keyed by a selector. The update
// document uses $set/$unset operators.
type Update struct {
	Collection string
	Selector   bson.M
	Update     bson.M
	Upsert     bool
	Multi      bool
}

// Name implements Command.
func (c *Update) Name() string { return "update" }

// TargetCollection implements Command.
func (c *Update) TargetCollection() string { return c.Collection }

// Delete removes documents matching a selector.
type Delete struct {
	Collection string
	Selector   bson.M
	Multi      bool
}

// Name implements Command.
func (c *Delete) Name() string { return "delete" }

// TargetCollection implements Command.
func (c *Delete) TargetCollection() string { return c.Collection }
