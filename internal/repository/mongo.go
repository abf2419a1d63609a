package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"agent-router/internal/domain"
)

// Checkpoint write channels.
const (
	channelThreadName = "thread_name"
	channelRoute      = "route"
)

// collectionAPI is the subset of *mongo.Collection used by MongoStore.
type collectionAPI interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// messageDoc is one message in message_store.
type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	SessionID string             `bson:"session_id"`
	Role      string             `bson:"role"`
	Content   string             `bson:"content"`
	CreatedAt time.Time          `bson:"created_at"`
}

// writeDoc is a typed checkpoint write. Value holds the title for
// thread_name writes and the route label for route writes.
type writeDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	ThreadID  string             `bson:"thread_id"`
	Channel   string             `bson:"channel"`
	Value     string             `bson:"value"`
	UserID    string             `bson:"user_id,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`
}

// MongoCollections names the three collections of a MongoStore.
type MongoCollections struct {
	Messages         string
	CheckpointWrites string
	Checkpoints      string
}

// MongoStore keeps message history, checkpoint writes and agent checkpoints
// in three MongoDB collections.
type MongoStore struct {
	messages    collectionAPI
	writes      collectionAPI
	checkpoints collectionAPI
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore builds a store on db. The client owning db is closed by the
// caller.
func NewMongoStore(db *mongo.Database, names MongoCollections) (*MongoStore, error) {
	if db == nil {
		return nil, errors.New("repository: mongo database must not be nil")
	}
	if names.Messages == "" || names.CheckpointWrites == "" || names.Checkpoints == "" {
		return nil, errors.New("repository: collection names must not be empty")
	}
	return newMongoStore(db.Collection(names.Messages), db.Collection(names.CheckpointWrites), db.Collection(names.Checkpoints)), nil
}

func newMongoStore(messages, writes, checkpoints collectionAPI) *MongoStore {
	return &MongoStore{messages: messages, writes: writes, checkpoints: checkpoints}
}

// EnsureIndexes creates the lookup indexes. Safe to call on every start.
func EnsureIndexes(ctx context.Context, db *mongo.Database, names MongoCollections) error {
	specs := map[string][]mongo.IndexModel{
		names.Messages: {
			{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		names.CheckpointWrites: {
			{Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "channel", Value: 1}}},
			{Keys: bson.D{{Key: "channel", Value: 1}, {Key: "_id", Value: 1}}},
		},
		names.Checkpoints: {
			{Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "checkpoint_ns", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for coll, models := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "repository: create indexes on %s", coll)
		}
	}
	return nil
}

func (s *MongoStore) GetOrCreate(ctx context.Context, id, userID string) (domain.Conversation, bool, error) {
	if id == "" {
		id = newUUID()
	}
	now := timeNow()

	res, err := s.writes.UpdateOne(ctx,
		bson.M{"thread_id": id, "channel": channelThreadName},
		bson.M{"$setOnInsert": bson.M{
			"thread_id":  id,
			"channel":    channelThreadName,
			"value":      "",
			"user_id":    userID,
			"created_at": now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return domain.Conversation{}, false, errors.Wrap(err, "repository: GetOrCreate upsert")
	}
	if res.UpsertedCount > 0 {
		return domain.Conversation{ID: id, UserID: userID, CreatedAt: now}, true, nil
	}

	var meta writeDoc
	err = s.writes.FindOne(ctx, bson.M{"thread_id": id, "channel": channelThreadName}).Decode(&meta)
	if err != nil {
		return domain.Conversation{}, false, errors.Wrap(err, "repository: GetOrCreate find thread")
	}
	conv := domain.Conversation{ID: id, UserID: meta.UserID, Title: meta.Value, CreatedAt: meta.CreatedAt}

	var last writeDoc
	err = s.writes.FindOne(ctx,
		bson.M{"thread_id": id, "channel": channelRoute},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}),
	).Decode(&last)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return domain.Conversation{}, false, errors.Wrap(err, "repository: GetOrCreate find route")
	default:
		conv.Route = domain.Route(last.Value)
	}
	return conv, false, nil
}

func (s *MongoStore) SaveTurn(ctx context.Context, turn domain.Turn) error {
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = timeNow()
	}

	_, err := s.messages.InsertMany(ctx, []interface{}{
		messageDoc{SessionID: turn.ConversationID, Role: domain.RoleUser, Content: turn.Query, CreatedAt: ts},
		messageDoc{SessionID: turn.ConversationID, Role: domain.RoleAssistant, Content: turn.Reply, CreatedAt: ts},
	})
	if err != nil {
		return errors.Wrap(err, "repository: SaveTurn insert messages")
	}

	if turn.Route != "" {
		_, err = s.writes.InsertOne(ctx, writeDoc{
			ThreadID:  turn.ConversationID,
			Channel:   channelRoute,
			Value:     string(turn.Route),
			UserID:    turn.UserID,
			CreatedAt: ts,
		})
		if err != nil {
			return errors.Wrap(err, "repository: SaveTurn insert route")
		}
	}

	if turn.Title != "" {
		// only an untitled thread takes the generated title
		_, err = s.writes.UpdateOne(ctx,
			bson.M{"thread_id": turn.ConversationID, "channel": channelThreadName, "value": ""},
			bson.M{"$set": bson.M{"value": turn.Title}},
		)
		if err != nil {
			return errors.Wrap(err, "repository: SaveTurn set title")
		}
	}
	return nil
}

func (s *MongoStore) ListConversations(ctx context.Context, lastID string, limit int) ([]domain.ConversationSummary, bool, error) {
	filter := bson.M{"channel": channelThreadName}
	if lastID != "" {
		oid, err := primitive.ObjectIDFromHex(lastID)
		if err != nil {
			return nil, false, ErrInvalidCursor
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	cur, err := s.writes.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit)+1),
	)
	if err != nil {
		return nil, false, errors.Wrap(err, "repository: ListConversations find")
	}
	var docs []writeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, false, errors.Wrap(err, "repository: ListConversations decode")
	}

	hasMore := len(docs) > limit
	if hasMore {
		docs = docs[:limit]
	}
	items := make([]domain.ConversationSummary, 0, len(docs))
	for _, d := range docs {
		items = append(items, domain.ConversationSummary{
			ID:        d.ID.Hex(),
			ThreadID:  d.ThreadID,
			Title:     d.Value,
			CreatedAt: d.CreatedAt,
		})
	}
	return items, hasMore, nil
}

func (s *MongoStore) GetMessages(ctx context.Context, id string) ([]domain.Message, error) {
	cur, err := s.messages.Find(ctx, bson.M{"session_id": id},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "repository: GetMessages find")
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "repository: GetMessages decode")
	}
	msgs := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, domain.Message{
			ConversationID: d.SessionID,
			Role:           d.Role,
			Content:        d.Content,
			Timestamp:      d.CreatedAt,
		})
	}
	return msgs, nil
}

func (s *MongoStore) RenameConversation(ctx context.Context, id, title string) error {
	res, err := s.writes.UpdateOne(ctx,
		bson.M{"thread_id": id, "channel": channelThreadName},
		bson.M{"$set": bson.M{"value": title}},
	)
	if err != nil {
		return errors.Wrap(err, "repository: RenameConversation")
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteConversation(ctx context.Context, id string) domain.DeletionResult {
	var (
		res domain.DeletionResult
		g   errgroup.Group
	)
	del := func(coll collectionAPI, filter bson.M, out *domain.StoreDeletion) func() error {
		return func() error {
			r, err := coll.DeleteMany(ctx, filter)
			if err != nil {
				out.Error = storeErr(err)
				return nil
			}
			out.Deleted = r.DeletedCount
			return nil
		}
	}
	g.Go(del(s.messages, bson.M{"session_id": id}, &res.MessageStore))
	g.Go(del(s.writes, bson.M{"thread_id": id}, &res.CheckpointWrites))
	g.Go(del(s.checkpoints, bson.M{"thread_id": id}, &res.Checkpoints))
	_ = g.Wait()
	return res
}

func (s *MongoStore) LoadCheckpoint(ctx context.Context, threadID, namespace string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := s.checkpoints.FindOne(ctx, bson.M{"thread_id": threadID, "checkpoint_ns": namespace}).Decode(&cp)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "repository: LoadCheckpoint")
	}
	return &cp, nil
}

func (s *MongoStore) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	if cp.ThreadID == "" || cp.Namespace == "" {
		return errors.New("repository: SaveCheckpoint: thread id and namespace are required")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = timeNow()
	}
	_, err := s.checkpoints.ReplaceOne(ctx,
		bson.M{"thread_id": cp.ThreadID, "checkpoint_ns": cp.Namespace},
		cp,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrap(err, "repository: SaveCheckpoint")
	}
	return nil
}
