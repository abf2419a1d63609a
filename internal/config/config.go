// Package config loads process settings from the environment, an optional
// .env file and cobra flags.
package config

import (
	"context"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"agent-router/internal/domain"
	"agent-router/internal/integrations/paramstore"
)

// Store backends.
const (
	BackendMongo    = "mongo"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Commands with their own mandatory settings.
const (
	CommandServe  = "serve"
	CommandAgents = "agents"
	CommandMCP    = "mcp"
	CommandIngest = "ingest"
	CommandLambda = "lambda"
)

type Config struct {
	Addr string

	Variant          domain.Variant
	StructuredOutput bool

	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string
	LLMTimeout time.Duration

	StoreBackend         string
	MongoURI             string
	MongoDatabase        string
	MessageCollection    string
	CheckpointCollection string
	CheckpointWriteColl  string
	VectorCollection     string
	VectorIndex          string
	JinaAPIKey           string
	JinaModel            string
	DynamoDBTable        string
	ParamPrefix          string
	CatalogURL           string
	FlightAgentURL       string
	HotelAgentURL        string
	MediaAgentURL        string
	MediaMCPURL          string
	AgentHTTPTimeout     time.Duration
	MaxQueryLength       int
	MaxAgentIterations   int
	RAGTopK              int
	RAGCSVPath           string
	PublicURL            string
	ShutdownTimeout      time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ADDR", ":8080")
	v.SetDefault("ROUTER_VARIANT", domain.WorkspaceVariant.Name)
	v.SetDefault("ROUTER_STRUCTURED_OUTPUT", false)
	v.SetDefault("LLM_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("LLM_MODEL", "openai/gpt-4o-mini")
	v.SetDefault("LLM_TIMEOUT", 60*time.Second)
	v.SetDefault("STORE_BACKEND", BackendMongo)
	v.SetDefault("MONGODB_DATABASE", "agent_router")
	v.SetDefault("MESSAGE_COLLECTION", "message_store")
	v.SetDefault("CHECKPOINT_COLLECTION", "checkpoints")
	v.SetDefault("CHECKPOINT_WRITES_COLLECTION", "checkpoint_writes")
	v.SetDefault("VECTOR_COLLECTION", "documents")
	v.SetDefault("VECTOR_INDEX", "vector_index")
	v.SetDefault("JINA_MODEL", "jina-embeddings-v2-base-en")
	v.SetDefault("CATALOG_URL", "http://localhost:3000")
	v.SetDefault("AGENT_HTTP_TIMEOUT", 60*time.Second)
	v.SetDefault("MAX_QUERY_LENGTH", 4000)
	v.SetDefault("MAX_AGENT_ITERATIONS", 8)
	v.SetDefault("RAG_TOP_K", 3)
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
}

// LoadDotEnv loads key=value pairs from path into the environment. A missing
// file is not an error; existing variables are not overridden.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "config: load %s", path)
	}
	return nil
}

// New returns a viper instance reading the environment with defaults applied.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads a Config out of v.
func Load(v *viper.Viper) (Config, error) {
	variantName := strings.ToLower(strings.TrimSpace(v.GetString("ROUTER_VARIANT")))
	variant, ok := domain.VariantByName(variantName)
	if !ok {
		return Config{}, errors.Errorf("config: unknown ROUTER_VARIANT %q", variantName)
	}

	cfg := Config{
		Addr:                 v.GetString("ADDR"),
		Variant:              variant,
		StructuredOutput:     v.GetBool("ROUTER_STRUCTURED_OUTPUT"),
		LLMBaseURL:           v.GetString("LLM_BASE_URL"),
		LLMModel:             v.GetString("LLM_MODEL"),
		LLMAPIKey:            v.GetString("LLM_API_KEY"),
		LLMTimeout:           v.GetDuration("LLM_TIMEOUT"),
		StoreBackend:         strings.ToLower(strings.TrimSpace(v.GetString("STORE_BACKEND"))),
		MongoURI:             v.GetString("MONGODB_URI"),
		MongoDatabase:        v.GetString("MONGODB_DATABASE"),
		MessageCollection:    v.GetString("MESSAGE_COLLECTION"),
		CheckpointCollection: v.GetString("CHECKPOINT_COLLECTION"),
		CheckpointWriteColl:  v.GetString("CHECKPOINT_WRITES_COLLECTION"),
		VectorCollection:     v.GetString("VECTOR_COLLECTION"),
		VectorIndex:          v.GetString("VECTOR_INDEX"),
		JinaAPIKey:           v.GetString("JINA_API_KEY"),
		JinaModel:            v.GetString("JINA_MODEL"),
		DynamoDBTable:        v.GetString("DYNAMODB_TABLE"),
		ParamPrefix:          strings.TrimRight(v.GetString("PARAM_PREFIX"), "/"),
		CatalogURL:           v.GetString("CATALOG_URL"),
		FlightAgentURL:       v.GetString("FLIGHT_AGENT_URL"),
		HotelAgentURL:        v.GetString("HOTEL_AGENT_URL"),
		MediaAgentURL:        v.GetString("MEDIA_AGENT_URL"),
		MediaMCPURL:          v.GetString("MEDIA_MCP_URL"),
		AgentHTTPTimeout:     v.GetDuration("AGENT_HTTP_TIMEOUT"),
		MaxQueryLength:       v.GetInt("MAX_QUERY_LENGTH"),
		MaxAgentIterations:   v.GetInt("MAX_AGENT_ITERATIONS"),
		RAGTopK:              v.GetInt("RAG_TOP_K"),
		RAGCSVPath:           v.GetString("RAG_CSV_PATH"),
		PublicURL:            strings.TrimRight(v.GetString("PUBLIC_URL"), "/"),
		ShutdownTimeout:      v.GetDuration("SHUTDOWN_TIMEOUT"),
	}
	return cfg, nil
}

// ResolveSecrets fills empty API keys from the parameter store when a prefix
// is configured. Explicit environment values win.
func (c *Config) ResolveSecrets(ctx context.Context, getter paramstore.Getter) error {
	if c.ParamPrefix == "" || getter == nil {
		return nil
	}
	if c.LLMAPIKey == "" {
		tok, err := paramstore.Token(ctx, getter, c.ParamPrefix+"/llm-token")
		if err != nil {
			return errors.Wrap(err, "config: resolve LLM_API_KEY")
		}
		c.LLMAPIKey = tok
	}
	if c.JinaAPIKey == "" {
		tok, err := paramstore.Token(ctx, getter, c.ParamPrefix+"/jina-token")
		if err != nil {
			return errors.Wrap(err, "config: resolve JINA_API_KEY")
		}
		c.JinaAPIKey = tok
	}
	return nil
}

// RAGEnabled reports whether the vector store can be built.
func (c Config) RAGEnabled() bool {
	return c.MongoURI != "" && c.JinaAPIKey != ""
}

// Validate checks the settings the given command cannot run without.
func (c Config) Validate(command string) error {
	var missing []string
	need := func(ok bool, key string) {
		if ok || slices.Contains(missing, key) {
			return
		}
		missing = append(missing, key)
	}

	switch command {
	case CommandServe, CommandLambda:
		need(c.LLMAPIKey != "", "LLM_API_KEY")
		need(c.LLMModel != "", "LLM_MODEL")
		c.validateStore(need)
		if c.Variant.Name == domain.TravelVariant.Name {
			need(c.FlightAgentURL != "", "FLIGHT_AGENT_URL")
			need(c.HotelAgentURL != "", "HOTEL_AGENT_URL")
		} else {
			// the rag route needs the vector store
			need(c.MongoURI != "", "MONGODB_URI")
			need(c.JinaAPIKey != "", "JINA_API_KEY")
		}
	case CommandAgents:
		need(c.LLMAPIKey != "", "LLM_API_KEY")
		need(c.LLMModel != "", "LLM_MODEL")
		need(c.CatalogURL != "", "CATALOG_URL")
		c.validateStore(need)
	case CommandMCP:
		need(c.CatalogURL != "", "CATALOG_URL")
	case CommandIngest:
		need(c.MongoURI != "", "MONGODB_URI")
		need(c.JinaAPIKey != "", "JINA_API_KEY")
	default:
		return errors.Errorf("config: unknown command %q", command)
	}

	if c.MaxQueryLength <= 0 {
		return errors.New("config: MAX_QUERY_LENGTH must be positive")
	}
	if c.MaxAgentIterations <= 0 {
		return errors.New("config: MAX_AGENT_ITERATIONS must be positive")
	}
	if c.RAGTopK <= 0 {
		return errors.New("config: RAG_TOP_K must be positive")
	}
	if len(missing) > 0 {
		return errors.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) validateStore(need func(bool, string)) {
	switch c.StoreBackend {
	case BackendMongo:
		need(c.MongoURI != "", "MONGODB_URI")
	case BackendDynamoDB:
		need(c.DynamoDBTable != "", "DYNAMODB_TABLE")
	case BackendMemory:
	default:
		need(false, "STORE_BACKEND (mongo|dynamodb|memory)")
	}
}
