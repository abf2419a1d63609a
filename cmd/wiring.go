package main

import (
	"context"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/tmc/langchaingo/llms"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"agent-router/internal/config"
	"agent-router/internal/integrations/llm"
	"agent-router/internal/integrations/openai"
	"agent-router/internal/integrations/paramstore"
	"agent-router/internal/rag"
	"agent-router/internal/repository"
	"agent-router/internal/router"
)

const mongoConnectTimeout = 10 * time.Second

// loadConfig reads and validates the settings for command. A failure here
// is fatal for the process.
func loadConfig(ctx context.Context, v *viper.Viper, command string) (config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.ParamPrefix != "" {
		getter, err := newParamStore(ctx)
		if err != nil {
			return config.Config{}, err
		}
		if err := cfg.ResolveSecrets(ctx, getter); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.Validate(command); err != nil {
		return config.Config{}, err
	}
	log.Info().
		Str("command", command).
		Str("variant", cfg.Variant.Name).
		Str("store", cfg.StoreBackend).
		Str("model", cfg.LLMModel).
		Msg("configuration loaded")
	return cfg, nil
}

func newParamStore(ctx context.Context) (*paramstore.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return paramstore.New(awsssm.NewFromConfig(awsCfg))
}

type closer func(context.Context)

func connectMongo(ctx context.Context, uri string) (*mongo.Client, closer, error) {
	cctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, errors.Wrap(err, "ping mongo")
	}
	return client, func(ctx context.Context) {
		if err := client.Disconnect(ctx); err != nil {
			log.Warn().Err(err).Msg("mongo disconnect failed")
		}
	}, nil
}

// openStore builds the configured persistence backend. The returned mongo
// client is nil for the other backends.
func openStore(ctx context.Context, cfg config.Config) (repository.Store, *mongo.Client, closer, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		client, closeFn, err := connectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, nil, err
		}
		names := repository.MongoCollections{
			Messages:         cfg.MessageCollection,
			CheckpointWrites: cfg.CheckpointWriteColl,
			Checkpoints:      cfg.CheckpointCollection,
		}
		db := client.Database(cfg.MongoDatabase)
		if err := repository.EnsureIndexes(ctx, db, names); err != nil {
			closeFn(ctx)
			return nil, nil, nil, err
		}
		store, err := repository.NewMongoStore(db, names)
		if err != nil {
			closeFn(ctx)
			return nil, nil, nil, err
		}
		return store, client, closeFn, nil

	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "load aws config")
		}
		store, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, func(context.Context) {}, nil

	case config.BackendMemory:
		log.Warn().Msg("using in-memory store, conversations are lost on restart")
		return repository.NewMemoryStore(), nil, func(context.Context) {}, nil
	}
	return nil, nil, nil, errors.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func newModel(cfg config.Config) (llms.Model, error) {
	return llm.New(llm.Options{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout,
	})
}

// newCompleter picks the classifier transport: json_schema constrained
// output through the chat-completions client, or a plain model call.
func newCompleter(cfg config.Config, model llms.Model) (router.Completer, error) {
	if !cfg.StructuredOutput {
		return router.NewModelCompleter(model)
	}
	client, err := openai.NewClient(
		openai.WithBaseURL(cfg.LLMBaseURL),
		openai.WithModel(cfg.LLMModel),
		openai.WithAPIKey(cfg.LLMAPIKey),
		openai.WithTemperature(0),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.LLMTimeout}),
	)
	if err != nil {
		return nil, err
	}
	return router.NewStructuredCompleter(client)
}

func newVectorStore(cfg config.Config, client *mongo.Client) (*rag.AtlasStore, error) {
	embedder, err := rag.NewJinaEmbedder(cfg.JinaAPIKey, cfg.JinaModel)
	if err != nil {
		return nil, err
	}
	coll := client.Database(cfg.MongoDatabase).Collection(cfg.VectorCollection)
	return rag.NewAtlasStore(coll, embedder, cfg.VectorIndex)
}

func newRAGService(cfg config.Config, client *mongo.Client, model llms.Model) (*rag.Service, error) {
	store, err := newVectorStore(cfg, client)
	if err != nil {
		return nil, err
	}
	return rag.NewService(store, model, cfg.RAGTopK)
}
