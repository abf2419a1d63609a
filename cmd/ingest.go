package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agent-router/internal/config"
	"agent-router/internal/rag"
)

func newIngestCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [csv-path]",
		Short: "Load a CSV file into the vector collection",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, v, config.CommandIngest)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid configuration")
			}
			path := cfg.RAGCSVPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no csv path given and RAG_CSV_PATH is empty")
			}
			return runIngest(ctx, cfg, path)
		},
	}
	return cmd
}

func runIngest(ctx context.Context, cfg config.Config, path string) error {
	client, closeMongo, err := connectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer closeMongo(context.Background())

	store, err := newVectorStore(cfg, client)
	if err != nil {
		return err
	}
	n, err := rag.LoadFile(ctx, store, path)
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Int("chunks", n).Msg("ingest complete")
	return nil
}
