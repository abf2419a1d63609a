// Package rag answers questions from documents retrieved out of a vector
// store and loads CSV files into it.
package rag

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/embeddings/jina"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"

	"agent-router/internal/agent"
	"agent-router/internal/graph"
)

const (
	DefaultTopK  = 3
	chunkSize    = 1000
	chunkOverlap = 200
	addBatchSize = 64
)

const systemPrompt = "As a dedicated RAG assistant, I seamlessly blend top results from a vector database " +
	"to provide insightful answers to your questions regarding the text. My goal is to offer clarity, " +
	"precision, and valuable information tailored to your needs."

// NewJinaEmbedder returns the Jina embeddings client used for both
// ingestion and queries.
func NewJinaEmbedder(apiKey, model string) (*jina.Jina, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("rag: jina api key must not be empty")
	}
	opts := []jina.Option{jina.WithAPIKey(apiKey)}
	if model = strings.TrimSpace(model); model != "" {
		opts = append(opts, jina.WithModel(model))
	}
	e, err := jina.NewJina(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "rag: create jina embedder")
	}
	return e, nil
}

type Service struct {
	store vectorstores.VectorStore
	model llms.Model
	topK  int
}

func NewService(store vectorstores.VectorStore, model llms.Model, topK int) (*Service, error) {
	if store == nil {
		return nil, errors.New("rag: vector store must not be nil")
	}
	if model == nil {
		return nil, errors.New("rag: model must not be nil")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{store: store, model: model, topK: topK}, nil
}

// Answer retrieves k documents for query and asks the model to answer from
// them. The answer is streamed to sink when one is given.
func (s *Service) Answer(ctx context.Context, query string, k int, sink graph.Sink) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("rag: query must not be empty")
	}
	if k <= 0 {
		k = s.topK
	}
	docs, err := s.store.SimilaritySearch(ctx, query, k)
	if err != nil {
		return "", errors.Wrap(err, "rag: similarity search")
	}
	log.Debug().Int("k", k).Int("found", len(docs)).Msg("rag similarity search")

	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, BuildQuestion(docs, query)),
	}
	return agent.Generate(ctx, s.model, msgs, sink)
}

// BuildQuestion joins the retrieved passages and appends the question.
func BuildQuestion(docs []schema.Document, query string) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.PageContent)
	}
	return strings.Join(parts, "\n") + "\nQuestion: " + query
}

// Invoke serves the rag route of the graph.
func (s *Service) Invoke(ctx context.Context, req graph.Request) (string, error) {
	return s.Answer(ctx, req.Text, s.topK, req.Sink)
}

// Ingest loads CSV rows into the service's store.
func (s *Service) Ingest(ctx context.Context, r io.Reader) (int, error) {
	return Load(ctx, s.store, r)
}

func (s *Service) IngestFile(ctx context.Context, path string) (int, error) {
	return LoadFile(ctx, s.store, path)
}

// Load reads CSV rows, splits them into overlapping chunks and adds the
// chunks to store. It returns the number of chunks stored.
func Load(ctx context.Context, store vectorstores.VectorStore, r io.Reader) (int, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	docs, err := documentloaders.NewCSV(r).LoadAndSplit(ctx, splitter)
	if err != nil {
		return 0, errors.Wrap(err, "rag: load csv")
	}
	stored := 0
	for start := 0; start < len(docs); start += addBatchSize {
		end := min(start+addBatchSize, len(docs))
		if _, err := store.AddDocuments(ctx, docs[start:end]); err != nil {
			return stored, errors.Wrapf(err, "rag: add documents %d-%d", start, end)
		}
		stored += end - start
	}
	log.Info().Int("chunks", stored).Msg("csv documents added to vector store")
	return stored, nil
}

func LoadFile(ctx context.Context, store vectorstores.VectorStore, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "rag: open csv")
	}
	defer f.Close()
	return Load(ctx, store, f)
}
