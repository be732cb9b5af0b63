package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/unicom/engagement/internal/engagement"
)

const postsCollection = "posts"

// mongoDocument wraps a post with the collection's primary key.
type mongoDocument struct {
	ID   string          `bson:"_id"`
	Post engagement.Post `bson:",inline"`
}

type mongoBackend struct {
	client *mongo.Client
	coll   *mongo.Collection
	owned  bool
}

// ConnectMongo dials uri and returns a Store on database's posts collection.
// The client is disconnected by Close.
func ConnectMongo(ctx context.Context, uri, database string, runner *Runner) (Store, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	b := &mongoBackend{client: client, coll: client.Database(database).Collection(postsCollection), owned: true}
	return newVersioned(b, runner), nil
}

// NewMongo returns a Store over an existing collection. Close leaves the
// client connected.
func NewMongo(coll *mongo.Collection, runner *Runner) Store {
	return newVersioned(&mongoBackend{coll: coll}, runner)
}

func (m *mongoBackend) insert(ctx context.Context, p *engagement.Post) error {
	_, err := m.coll.InsertOne(ctx, mongoDocument{ID: p.ID, Post: *p})
	return mapMongoError(err)
}

func (m *mongoBackend) load(ctx context.Context, id string) (*engagement.Post, error) {
	var doc mongoDocument
	if err := m.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errMissing
		}
		return nil, mapMongoError(err)
	}
	p := doc.Post
	if p.Reactions == nil {
		p.Reactions = engagement.ReactionSet{}
	}
	if p.Comments == nil {
		p.Comments = engagement.CommentThread{}
	}
	return &p, nil
}

func (m *mongoBackend) replace(ctx context.Context, p *engagement.Post, expectedVersion int64) error {
	filter := bson.D{{Key: "_id", Value: p.ID}, {Key: "version", Value: expectedVersion}}
	res, err := m.coll.ReplaceOne(ctx, filter, mongoDocument{ID: p.ID, Post: *p})
	if err != nil {
		return mapMongoError(err)
	}
	if res.MatchedCount == 0 {
		return errVersionConflict
	}
	return nil
}

func (m *mongoBackend) remove(ctx context.Context, id string, expectedVersion int64) error {
	filter := bson.D{{Key: "_id", Value: id}, {Key: "version", Value: expectedVersion}}
	res, err := m.coll.DeleteOne(ctx, filter)
	if err != nil {
		return mapMongoError(err)
	}
	if res.DeletedCount == 0 {
		return errVersionConflict
	}
	return nil
}

func (m *mongoBackend) close(ctx context.Context) error {
	if !m.owned || m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

func mapMongoError(err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return errExists
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return transient(err)
	}
	var le mongo.LabeledError
	if errors.As(err, &le) && le.HasErrorLabel("TransientTransactionError") {
		return transient(err)
	}
	return err
}
