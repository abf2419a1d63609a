package rag

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Document field names in the vector collection.
const (
	textKey      = "text"
	embeddingKey = "embedding"
	scoreKey     = "score"
)

const numCandidatesFactor = 10

type vectorCollection interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

// AtlasStore is a vectorstores.VectorStore over a MongoDB Atlas collection
// with a vector search index on the embedding field.
type AtlasStore struct {
	coll     vectorCollection
	embedder embeddings.Embedder
	index    string
}

var _ vectorstores.VectorStore = (*AtlasStore)(nil)

func NewAtlasStore(coll *mongo.Collection, embedder embeddings.Embedder, index string) (*AtlasStore, error) {
	if coll == nil {
		return nil, errors.New("rag: collection must not be nil")
	}
	return newAtlasStore(coll, embedder, index)
}

func newAtlasStore(coll vectorCollection, embedder embeddings.Embedder, index string) (*AtlasStore, error) {
	if embedder == nil {
		return nil, errors.New("rag: embedder must not be nil")
	}
	index = strings.TrimSpace(index)
	if index == "" {
		return nil, errors.New("rag: vector index name must not be empty")
	}
	return &AtlasStore{coll: coll, embedder: embedder, index: index}, nil
}

func (s *AtlasStore) AddDocuments(ctx context.Context, docs []schema.Document, _ ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, errors.Wrap(err, "rag: embed documents")
	}
	if len(vectors) != len(docs) {
		return nil, errors.Errorf("rag: embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	records := make([]interface{}, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		id := primitive.NewObjectID()
		rec := bson.M{}
		for k, v := range d.Metadata {
			rec[k] = v
		}
		rec["_id"] = id
		rec[textKey] = d.PageContent
		rec[embeddingKey] = vectors[i]
		records[i] = rec
		ids[i] = id.Hex()
	}
	if _, err := s.coll.InsertMany(ctx, records); err != nil {
		return nil, errors.Wrap(err, "rag: insert documents")
	}
	return ids, nil
}

func (s *AtlasStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, opts ...vectorstores.Option) ([]schema.Document, error) {
	if numDocuments <= 0 {
		return nil, errors.New("rag: number of documents must be positive")
	}
	var o vectorstores.Options
	for _, opt := range opts {
		opt(&o)
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "rag: embed query")
	}

	search := bson.D{
		{Key: "index", Value: s.index},
		{Key: "path", Value: embeddingKey},
		{Key: "queryVector", Value: vector},
		{Key: "numCandidates", Value: numDocuments * numCandidatesFactor},
		{Key: "limit", Value: numDocuments},
	}
	if o.Filters != nil {
		search = append(search, bson.E{Key: "filter", Value: o.Filters})
	}
	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: search}},
		{{Key: "$set", Value: bson.D{{Key: scoreKey, Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}}}}},
		{{Key: "$project", Value: bson.D{{Key: embeddingKey, Value: 0}}}},
	}

	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "rag: vector search")
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "rag: decode search results")
	}

	docs := make([]schema.Document, 0, len(rows))
	for _, row := range rows {
		d := toDocument(row)
		if o.ScoreThreshold > 0 && d.Score < o.ScoreThreshold {
			continue
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func toDocument(row bson.M) schema.Document {
	d := schema.Document{Metadata: map[string]any{}}
	for k, v := range row {
		switch k {
		case "_id", embeddingKey:
		case textKey:
			d.PageContent, _ = v.(string)
		case scoreKey:
			switch n := v.(type) {
			case float64:
				d.Score = float32(n)
			case float32:
				d.Score = n
			}
		default:
			d.Metadata[k] = v
		}
	}
	return d
}
