package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agent-router/handler"
	"agent-router/internal/config"
)

func newLambdaCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve blocking chat turns as an API Gateway Lambda function",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, v, config.CommandLambda)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid configuration")
			}
			o, err := buildOrchestrator(ctx, cfg)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to build orchestrator")
			}
			defer o.close(context.Background())

			h, err := handler.NewHandler(o.chat)
			if err != nil {
				return err
			}
			lambda.Start(h.Handle)
			return nil
		},
	}
}
