// Package mongo implements the primary item collection and its change feed on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// Config holds MongoDB connection settings.
type Config struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// DefaultConfig returns local development defaults.
func DefaultConfig() Config {
	return Config{
		URI:        "mongodb://localhost:27017",
		Database:   "memefeed",
		Collection: "memes",
	}
}

// Primary is the primary item collection stored in one MongoDB collection.
type Primary struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

var (
	_ remote.PrimaryCollection = (*Primary)(nil)
	_ remote.ItemWriter        = (*Primary)(nil)
	_ remote.ChangeWatcher     = (*Primary)(nil)
)

// Connect dials MongoDB, verifies the connection and ensures indexes.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Primary, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	p := New(client, client.Database(cfg.Database), cfg.Collection, logger)
	if err := p.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return p, nil
}

// New wraps an existing client.
func New(client *mongo.Client, db *mongo.Database, collection string, logger *slog.Logger) *Primary {
	if logger == nil {
		logger = slog.Default()
	}
	return &Primary{
		client: client,
		coll:   db.Collection(collection),
		logger: logger.With("component", "remote.mongo"),
	}
}

// EnsureIndexes creates the keyset index used by Page.
func (p *Primary) EnsureIndexes(ctx context.Context) error {
	_, err := p.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	})
	return err
}

// Page returns items older than q.Before, newest first.
func (p *Primary) Page(ctx context.Context, q remote.PageQuery) ([]model.ContentItem, error) {
	cursor, err := p.coll.Find(ctx, pageFilter(q), pageOptions(q))
	if err != nil {
		return nil, model.WrapError(fmt.Errorf("find page: %w", err))
	}
	defer cursor.Close(ctx)

	items := make([]model.ContentItem, 0, q.Limit)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, model.WrapError(fmt.Errorf("decode page: %w", err))
	}
	return items, nil
}

// Get returns the item with id.
func (p *Primary) Get(ctx context.Context, id string) (model.ContentItem, error) {
	var it model.ContentItem
	err := p.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&it)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.ContentItem{}, model.ErrNotFound
		}
		return model.ContentItem{}, model.WrapError(err)
	}
	return it, nil
}

// Create inserts a new item, assigning an id and creation time when missing.
func (p *Primary) Create(ctx context.Context, item model.ContentItem) (model.ContentItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().UnixMilli()
	}
	if err := item.Validate(); err != nil {
		return model.ContentItem{}, err
	}
	if _, err := p.coll.InsertOne(ctx, item); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return model.ContentItem{}, fmt.Errorf("%w: %s already exists", model.ErrInvalidItem, item.ID)
		}
		return model.ContentItem{}, model.WrapError(err)
	}
	return item, nil
}

// Delete removes the item with id.
func (p *Primary) Delete(ctx context.Context, id string) error {
	res, err := p.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return model.WrapError(err)
	}
	if res.DeletedCount == 0 {
		return model.ErrNotFound
	}
	return nil
}

type changeEvent struct {
	OperationType string             `bson:"operationType"`
	FullDocument  *model.ContentItem `bson:"fullDocument"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// Watch opens a change stream and maps inserts to added and deletes to removed events.
func (p *Primary) Watch(ctx context.Context) (<-chan remote.ChildEvent, error) {
	stream, err := p.coll.Watch(ctx, watchPipeline(), options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, model.WrapError(fmt.Errorf("open change stream: %w", err))
	}

	out := make(chan remote.ChildEvent)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var ce changeEvent
			if err := stream.Decode(&ce); err != nil {
				p.logger.Warn("Failed to decode change event", "error", err)
				continue
			}
			evt, ok := toChildEvent(ce)
			if !ok {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && !model.IsCanceled(err) {
			p.logger.Error("Change stream stopped", "error", err)
		}
	}()
	return out, nil
}

// Close disconnects the client.
func (p *Primary) Close(ctx context.Context) error {
	if p.client != nil {
		return p.client.Disconnect(ctx)
	}
	return nil
}

func pageFilter(q remote.PageQuery) bson.M {
	filter := bson.M{}
	if q.Before != nil {
		filter["created_at"] = bson.M{"$lt": *q.Before}
	}
	return filter
}

func pageOptions(q remote.PageQuery) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

func watchPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "delete"}}}},
		}}},
	}
}

func toChildEvent(ce changeEvent) (remote.ChildEvent, bool) {
	switch ce.OperationType {
	case "insert":
		evt := remote.ChildEvent{Type: remote.ChildAdded, ID: ce.DocumentKey.ID, Item: ce.FullDocument}
		if evt.ID == "" && ce.FullDocument != nil {
			evt.ID = ce.FullDocument.ID
		}
		return evt, evt.ID != ""
	case "delete":
		return remote.ChildEvent{Type: remote.ChildRemoved, ID: ce.DocumentKey.ID}, ce.DocumentKey.ID != ""
	default:
		return remote.ChildEvent{}, false
	}
}
