package transport

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Mongo executes commands against a MongoDB database through the official
// driver, using raw database commands so the wire shapes match what the
// engine declares.
type Mongo struct {
	db     *mongo.Database
	logger *zap.Logger
}

// NewMongo wraps a connected database handle. A nil logger defaults to
// no-op.
func NewMongo(db *mongo.Database, logger *zap.Logger) *Mongo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mongo{db: db, logger: logger}
}

// Execute implements Transport.
func (m *Mongo) Execute(ctx context.Context, cmd Command) (*Result, error) {
	m.logger.Debug("executing command",
		zap.String("command", cmd.Name()),
		zap.String("collection", cmd.TargetCollection()))

	body, err := commandBody(cmd)
	if err != nil {
		return nil, err
	}

	var reply bson.M
	if err := m.db.RunCommand(ctx, body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%s on %s: %w", cmd.Name(), cmd.TargetCollection(), err)
	}
	return resultFromReply(cmd, reply), nil
}

// Find implements Transport.
func (m *Mongo) Find(ctx context.Context, collection string, filter bson.M) (Cursor, error) {
	if filter == nil {
		filter = bson.M{}
	}
	cur, err := m.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find on %s: %w", collection, err)
	}
	return &mongoCursor{cur: cur}, nil
}

// commandBody renders a command to its wire document.
func commandBody(cmd Command) (bson.D, error) {
	switch c := cmd.(type) {
	case *CreateIndexes:
		indexes := make(bson.A, 0, len(c.Indexes))
		for _, idx := range c.Indexes {
			doc := bson.M{
				"key":    idx.Keys,
				"name":   idx.Name,
				"unique": idx.Unique,
				"sparse": idx.Sparse,
			}
			if idx.Background {
				doc["background"] = true
			}
			indexes = append(indexes, doc)
		}
		return bson.D{
			{Key: "createIndexes", Value: c.Collection},
			{Key: "indexes", Value: indexes},
		}, nil

	case *Insert:
		return bson.D{
			{Key: "insert", Value: c.Collection},
			{Key: "documents", Value: bson.A{c.Document}},
		}, nil

	case *Update:
		return bson.D{
			{Key: "update", Value: c.Collection},
			{Key: "updates", Value: bson.A{bson.M{
				"q":      c.Selector,
				"u":      c.Update,
				"upsert": c.Upsert,
				"multi":  c.Multi,
			}}},
			{Key: "ordered", Value: true},
		}, nil

	case *Delete:
		limit := 1
		if c.Multi {
			limit = 0
		}
		return bson.D{
			{Key: "delete", Value: c.Collection},
			{Key: "deletes", Value: bson.A{bson.M{
				"q":     c.Selector,
				"limit": limit,
			}}},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
}

// resultFromReply extracts counters from a command reply.
func resultFromReply(cmd Command, reply bson.M) *Result {
	res := &Result{}
	n := int64From(reply["n"])
	switch cmd.(type) {
	case *Insert:
		res.InsertedCount = n
	case *Update:
		res.MatchedCount = n
		res.ModifiedCount = int64From(reply["nModified"])
	case *Delete:
		res.DeletedCount = n
	}
	return res
}

func int64From(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }

func (c *mongoCursor) Decode(into *bson.M) error { return c.cur.Decode(into) }

func (c *mongoCursor) Err() error { return c.cur.Err() }

func (c *mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
