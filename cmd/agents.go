package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agent-router/internal/a2aserver"
	"agent-router/internal/agent"
	"agent-router/internal/config"
	"agent-router/internal/integrations/catalog"
	"agent-router/internal/tools"
)

func newAgentsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Serve the flight, hotel, tour and media agents over A2A",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd, map[string]string{"ADDR": "addr"})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx, v, config.CommandAgents)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid configuration")
			}
			return runAgents(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", ":5000", "listen address")
	return cmd
}

func runAgents(ctx context.Context, cfg config.Config) error {
	store, _, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore(context.Background())

	model, err := newModel(cfg)
	if err != nil {
		return err
	}
	cat, err := catalog.New(cfg.CatalogURL, catalog.WithHTTPClient(&http.Client{Timeout: cfg.AgentHTTPTimeout}))
	if err != nil {
		return err
	}

	var mounted []a2aserver.Mounted
	for _, def := range a2aserver.Definitions() {
		var ts []tools.Tool
		switch {
		case def.Kind != "":
			ts = tools.CatalogTools(cat, def.Kind)
		case cfg.MediaMCPURL != "":
			remote, err := tools.ConnectMCP(ctx, cfg.MediaMCPURL, def.Name+"-agent")
			if err != nil {
				return err
			}
			defer remote.Close()
			ts = remote.Tools
		default:
			log.Warn().Str("agent", def.Name).Msg("MEDIA_MCP_URL not set, agent runs without tools")
		}

		a, err := agent.New(agent.Config{
			Name:          def.Name,
			SystemPrompt:  def.SystemPrompt,
			Model:         model,
			Tools:         ts,
			Checkpoints:   store,
			MaxIterations: cfg.MaxAgentIterations,
		})
		if err != nil {
			return err
		}
		mounted = append(mounted, a2aserver.Mounted{Definition: def, Handler: a})
	}

	h, err := a2aserver.NewRouter(mounted, a2aserver.Options{PublicURL: cfg.PublicURL, Version: version})
	if err != nil {
		return err
	}
	return serveHTTP(ctx, cfg.Addr, h, cfg.ShutdownTimeout)
}
