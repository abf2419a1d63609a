package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agent-router/internal/domain"
)

type fakeGetter struct {
	values map[string]string
	err    error
	names  []string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.names = append(f.names, name)
	if f.err != nil {
		return "", f.err
	}
	return f.values[name], nil
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, domain.WorkspaceVariant.Name, cfg.Variant.Name)
	require.Equal(t, BackendMongo, cfg.StoreBackend)
	require.Equal(t, 60*time.Second, cfg.LLMTimeout)
	require.Equal(t, 3, cfg.RAGTopK)
	require.Equal(t, "checkpoint_writes", cfg.CheckpointWriteColl)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ROUTER_VARIANT", "Travel")
	t.Setenv("STORE_BACKEND", "DynamoDB")
	t.Setenv("AGENT_HTTP_TIMEOUT", "5s")
	t.Setenv("MAX_QUERY_LENGTH", "120")
	t.Setenv("PARAM_PREFIX", "/agent-router/")

	cfg, err := Load(New())
	require.NoError(t, err)
	require.Equal(t, domain.TravelVariant.Name, cfg.Variant.Name)
	require.Equal(t, BackendDynamoDB, cfg.StoreBackend)
	require.Equal(t, 5*time.Second, cfg.AgentHTTPTimeout)
	require.Equal(t, 120, cfg.MaxQueryLength)
	require.Equal(t, "/agent-router", cfg.ParamPrefix)
}

func TestLoad_UnknownVariant(t *testing.T) {
	t.Setenv("ROUTER_VARIANT", "shopping")
	_, err := Load(New())
	require.ErrorContains(t, err, "unknown ROUTER_VARIANT")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load(New())
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name    string
		command string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "serve missing key and mongo",
			command: CommandServe,
			mutate:  func(*Config) {},
			wantErr: "LLM_API_KEY, MONGODB_URI",
		},
		{
			name:    "serve workspace complete",
			command: CommandServe,
			mutate: func(c *Config) {
				c.LLMAPIKey = "k"
				c.MongoURI = "mongodb://localhost"
				c.JinaAPIKey = "j"
			},
		},
		{
			name:    "serve travel needs agent urls",
			command: CommandServe,
			mutate: func(c *Config) {
				c.Variant = domain.TravelVariant
				c.LLMAPIKey = "k"
				c.StoreBackend = BackendMemory
			},
			wantErr: "FLIGHT_AGENT_URL, HOTEL_AGENT_URL",
		},
		{
			name:    "lambda on dynamodb needs table",
			command: CommandLambda,
			mutate: func(c *Config) {
				c.Variant = domain.TravelVariant
				c.LLMAPIKey = "k"
				c.StoreBackend = BackendDynamoDB
				c.FlightAgentURL = "http://f"
				c.HotelAgentURL = "http://h"
			},
			wantErr: "DYNAMODB_TABLE",
		},
		{
			name:    "unknown backend",
			command: CommandAgents,
			mutate: func(c *Config) {
				c.LLMAPIKey = "k"
				c.StoreBackend = "redis"
			},
			wantErr: "STORE_BACKEND",
		},
		{
			name:    "mcp only needs catalog",
			command: CommandMCP,
			mutate:  func(*Config) {},
		},
		{
			name:    "ingest needs mongo and jina",
			command: CommandIngest,
			mutate:  func(*Config) {},
			wantErr: "MONGODB_URI, JINA_API_KEY",
		},
		{
			name:    "non positive limits",
			command: CommandMCP,
			mutate:  func(c *Config) { c.MaxAgentIterations = 0 },
			wantErr: "MAX_AGENT_ITERATIONS",
		},
		{
			name:    "unknown command",
			command: "bogus",
			mutate:  func(*Config) {},
			wantErr: "unknown command",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate(tc.command)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestResolveSecrets_FillsMissingKeys(t *testing.T) {
	g := &fakeGetter{values: map[string]string{
		"/p/llm-token":  `{"token":"sk-llm"}`,
		"/p/jina-token": `{"token":"jina-1"}`,
	}}
	cfg := Config{ParamPrefix: "/p"}
	require.NoError(t, cfg.ResolveSecrets(context.Background(), g))
	require.Equal(t, "sk-llm", cfg.LLMAPIKey)
	require.Equal(t, "jina-1", cfg.JinaAPIKey)
}

func TestResolveSecrets_EnvWins(t *testing.T) {
	g := &fakeGetter{}
	cfg := Config{ParamPrefix: "/p", LLMAPIKey: "env", JinaAPIKey: "env"}
	require.NoError(t, cfg.ResolveSecrets(context.Background(), g))
	require.Empty(t, g.names)
	require.Equal(t, "env", cfg.LLMAPIKey)
}

func TestResolveSecrets_Error(t *testing.T) {
	cfg := Config{ParamPrefix: "/p"}
	err := cfg.ResolveSecrets(context.Background(), &fakeGetter{err: errors.New("denied")})
	require.ErrorContains(t, err, "LLM_API_KEY")
	require.ErrorContains(t, err, "denied")
}

func TestResolveSecrets_NoPrefix(t *testing.T) {
	g := &fakeGetter{}
	cfg := Config{}
	require.NoError(t, cfg.ResolveSecrets(context.Background(), g))
	require.Empty(t, g.names)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, LoadDotEnv(""))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AGENT_ROUTER_TEST_KEY=from-file\n"), 0o600))
	t.Setenv("AGENT_ROUTER_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("AGENT_ROUTER_TEST_KEY"))

	require.NoError(t, LoadDotEnv(path))
	require.Equal(t, "from-file", os.Getenv("AGENT_ROUTER_TEST_KEY"))
}
