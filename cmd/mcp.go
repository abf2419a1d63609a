package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agent-router/internal/config"
	"agent-router/internal/domain"
	"agent-router/internal/integrations/catalog"
	"agent-router/internal/tools"
)

func newMCPCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the catalog tools over streamable HTTP MCP",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd, map[string]string{"ADDR": "addr"})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx, v, config.CommandMCP)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid configuration")
			}
			cat, err := catalog.New(cfg.CatalogURL, catalog.WithHTTPClient(&http.Client{Timeout: cfg.AgentHTTPTimeout}))
			if err != nil {
				return err
			}
			ts := tools.AllCatalogTools(cat, domain.KindFlights, domain.KindHotels, domain.KindTours)
			s, err := tools.NewMCPServer("catalog-mcp", version, ts)
			if err != nil {
				return err
			}

			r := chi.NewRouter()
			r.Handle("/mcp", server.NewStreamableHTTPServer(s))
			r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			log.Info().Int("tools", len(ts)).Msg("mcp tools registered")
			return serveHTTP(ctx, cfg.Addr, r, cfg.ShutdownTimeout)
		},
	}
	cmd.Flags().String("addr", ":4000", "listen address")
	return cmd
}
