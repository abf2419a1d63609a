package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tmc/langchaingo/llms"

	"agent-router/internal/agent"
	"agent-router/internal/config"
	"agent-router/internal/domain"
	"agent-router/internal/graph"
	"agent-router/internal/httpapi"
	"agent-router/internal/integrations/catalog"
	"agent-router/internal/metrics"
	"agent-router/internal/rag"
	"agent-router/internal/repository"
	"agent-router/internal/router"
	"agent-router/internal/usecase"
)

const casiePrompt = "You are Casie, an assistant for services, legal services and general service questions. " +
	"Answer clearly and say when a question needs a qualified professional."

const mediaPrompt = "You are a media assistant. Help with videos, movies, comments and other media content."

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP API",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd, map[string]string{"ADDR": "addr", "ROUTER_VARIANT": "variant"})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx, v, config.CommandServe)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid configuration")
			}
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("variant", domain.WorkspaceVariant.Name, "router variant (workspace, travel)")
	return cmd
}

// orchestrator is everything the chat surfaces share.
type orchestrator struct {
	chat          *usecase.ChatService
	conversations *usecase.ConversationService
	rag           *rag.Service
	metrics       *metrics.Metrics
	close         func(context.Context)
}

func buildOrchestrator(ctx context.Context, cfg config.Config) (*orchestrator, error) {
	store, mongoClient, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closers := []closer{closeStore}
	closeAll := func(ctx context.Context) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](ctx)
		}
	}
	fail := func(err error) (*orchestrator, error) {
		closeAll(context.Background())
		return nil, err
	}

	model, err := newModel(cfg)
	if err != nil {
		return fail(err)
	}
	m := metrics.New()
	completer, err := newCompleter(cfg, model)
	if err != nil {
		return fail(err)
	}
	classifier, err := router.NewClassifier(cfg.Variant, completer, m)
	if err != nil {
		return fail(err)
	}

	o := &orchestrator{metrics: m}
	var handlers map[domain.Route]graph.Handler
	switch cfg.Variant.Name {
	case domain.TravelVariant.Name:
		handlers, err = travelHandlers(cfg)
	default:
		if mongoClient == nil {
			var closeMongo closer
			mongoClient, closeMongo, err = connectMongo(ctx, cfg.MongoURI)
			if err != nil {
				return fail(err)
			}
			closers = append(closers, closeMongo)
		}
		o.rag, err = newRAGService(cfg, mongoClient, model)
		if err != nil {
			return fail(err)
		}
		handlers, err = workspaceHandlers(cfg, model, store, o.rag)
	}
	if err != nil {
		return fail(err)
	}

	g, err := graph.Build(classifier, handlers, m)
	if err != nil {
		return fail(err)
	}
	if o.chat, err = usecase.NewChatService(store, g, m, cfg.MaxQueryLength); err != nil {
		return fail(err)
	}
	if o.conversations, err = usecase.NewConversationService(store); err != nil {
		return fail(err)
	}
	o.close = closeAll
	return o, nil
}

func workspaceHandlers(cfg config.Config, model llms.Model, store repository.CheckpointStore, ragSvc *rag.Service) (map[domain.Route]graph.Handler, error) {
	casie, err := agent.New(agent.Config{
		Name:          string(domain.RouteCasie),
		SystemPrompt:  casiePrompt,
		Model:         model,
		Checkpoints:   store,
		MaxIterations: cfg.MaxAgentIterations,
	})
	if err != nil {
		return nil, err
	}

	var media graph.Handler
	if cfg.MediaAgentURL != "" {
		media, err = agent.NewProxy("media", cfg.MediaAgentURL, &http.Client{Timeout: cfg.AgentHTTPTimeout})
	} else {
		log.Warn().Msg("MEDIA_AGENT_URL not set, media turns are answered by a local agent")
		media, err = agent.New(agent.Config{
			Name:          string(domain.RouteMedia),
			SystemPrompt:  mediaPrompt,
			Model:         model,
			Checkpoints:   store,
			MaxIterations: cfg.MaxAgentIterations,
		})
	}
	if err != nil {
		return nil, err
	}

	return map[domain.Route]graph.Handler{
		domain.RouteMedia: media,
		domain.RouteCasie: casie,
		domain.RouteRAG:   ragSvc,
	}, nil
}

func travelHandlers(cfg config.Config) (map[domain.Route]graph.Handler, error) {
	httpClient := &http.Client{Timeout: cfg.AgentHTTPTimeout}
	flight, err := agent.NewProxy("flight", cfg.FlightAgentURL, httpClient)
	if err != nil {
		return nil, err
	}
	hotel, err := agent.NewProxy("hotel", cfg.HotelAgentURL, httpClient)
	if err != nil {
		return nil, err
	}
	both, err := agent.NewFanOut(flight, hotel)
	if err != nil {
		return nil, err
	}
	return map[domain.Route]graph.Handler{
		domain.RouteFlight: flight,
		domain.RouteHotel:  hotel,
		domain.RouteBoth:   both,
	}, nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	o, err := buildOrchestrator(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		o.close(closeCtx)
	}()

	deps := httpapi.Deps{
		Chat:          o.chat,
		Conversations: o.conversations,
		Metrics:       o.metrics,
	}
	if o.rag != nil {
		deps.RAG = o.rag
		deps.RAGCSVPath = cfg.RAGCSVPath
	}
	if cfg.CatalogURL != "" {
		cat, err := catalog.New(cfg.CatalogURL, catalog.WithHTTPClient(&http.Client{Timeout: cfg.AgentHTTPTimeout}))
		if err != nil {
			return err
		}
		deps.Catalog = cat
	}
	h, err := httpapi.NewRouter(deps)
	if err != nil {
		return err
	}
	return serveHTTP(ctx, cfg.Addr, h, cfg.ShutdownTimeout)
}

// serveHTTP listens until ctx is done, then drains in-flight requests for
// up to grace.
func serveHTTP(ctx context.Context, addr string, h http.Handler, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}
