/*
Copyright 2024 The SmartIP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package commands

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/smartip/intervention-analytics/pkg/config"
	"github.com/smartip/intervention-analytics/pkg/engine"
	"github.com/smartip/intervention-analytics/pkg/shared/logging"
	"github.com/smartip/intervention-analytics/pkg/sinks/postgres"
	"github.com/smartip/intervention-analytics/pkg/sources/kafka"
)

// NewEngineCommand starts the aggregation engine: kafka source in, postgres
// sink out.
func NewEngineCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "engine",
		Short: "Start the intervention aggregation engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewLogger().Named("engine")
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration, %w", err)
			}
			log.Infow("Starting aggregation engine",
				"topic", cfg.Topic, "group", cfg.ConsumerGroup,
				"lateness", cfg.AllowedLateness, "stateTTL", cfg.StateTTL)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx = logging.WithLogger(ctx, log)

			upserter, err := postgres.NewUpserter(ctx, cfg.PostgresDSN())
			if err != nil {
				return fmt.Errorf("failed to connect the sink, %w", err)
			}

			eng := engine.New(ctx, upserter, cfg.AllowedLateness, cfg.SourceIdleTimeout, cfg.StateTTL)
			eng.Start(ctx)

			source, err := kafka.NewSource(
				strings.Split(cfg.KafkaBrokers, ","),
				cfg.Topic, cfg.ConsumerGroup, cfg.KafkaConfig,
				eng,
				kafka.WithLogger(log.Named("kafka-source")),
			)
			if err != nil {
				return fmt.Errorf("failed to build the kafka source, %w", err)
			}
			if err := source.Start(); err != nil {
				return fmt.Errorf("failed to start the kafka source, %w", err)
			}

			metricsServer := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
				Handler: promhttp.Handler(),
			}
			go func() {
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorw("Metrics server failed", zap.Error(err))
				}
			}()

			<-ctx.Done()
			log.Info("Shutdown signal received, draining...")

			// Stop the inflow first, then let the engine flush what it has.
			var errs error
			errs = multierr.Append(errs, source.Close())
			eng.Stop()
			errs = multierr.Append(errs, upserter.Close())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs = multierr.Append(errs, metricsServer.Shutdown(shutdownCtx))
			if errs != nil {
				log.Warnw("Shutdown finished with errors", zap.Error(errs))
			} else {
				log.Info("Shutdown complete")
			}
			return nil
		},
	}
	return command
}
