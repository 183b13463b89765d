package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository stores each session as one document keyed by session_id.
type MongoRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoRepository(ctx context.Context, uri, database, collection string) (*MongoRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "updated_at", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure session indexes: %w", err)
	}
	return &MongoRepository{client: client, coll: coll}, nil
}

func (r *MongoRepository) Load(ctx context.Context, id string) (Session, error) {
	var s Session
	err := r.coll.FindOne(ctx, bson.M{"session_id": id}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("find session: %w", err)
	}
	return s.Clone(), nil
}

// Save replaces the document only while it still holds the previous revision.
// The first revision is inserted through an upsert; if another writer created
// the document first, the unique index on session_id turns the insert into a
// duplicate key error, reported as ErrConflict.
func (r *MongoRepository) Save(ctx context.Context, s Session) error {
	if s.Version < 1 {
		return fmt.Errorf("session %s: invalid revision %d", s.ID, s.Version)
	}
	s = s.Clone()
	prev := bson.M{"version": s.Version - 1}
	if s.Version == 1 {
		// documents written before revisions existed have no version field
		prev = bson.M{"version": bson.M{"$in": bson.A{nil, 0}}}
	}
	filter := bson.M{
		"session_id": s.ID,
		"$or": bson.A{
			prev,
			bson.M{"version": s.Version, "summary": s.Summary, "history": s.History},
		},
	}
	res, err := r.coll.ReplaceOne(ctx, filter, s, options.Replace().SetUpsert(s.Version == 1))
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"session_id": id}); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *MongoRepository) IDs(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"session_id": 1, "_id": 0}).
		SetSort(bson.D{{Key: "session_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var docs []struct {
		ID string `bson:"session_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode session ids: %w", err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (r *MongoRepository) DeleteIdle(ctx context.Context, before time.Time) (int, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"updated_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
