// Command combined is the region-combination job worker. It consumes job
// requests from Kafka, runs the recipe each one names against NetCDF files
// under DATA_DIR and publishes a result per job.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/watertag-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/watertag-etl/internal/adapter/kafka"
	"github.com/couchcryptid/watertag-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/watertag-etl/internal/config"
	"github.com/couchcryptid/watertag-etl/internal/observability"
	"github.com/couchcryptid/watertag-etl/internal/pipeline"
	"github.com/couchcryptid/watertag-etl/internal/recipe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store := netcdf.NewStore(logger)
	var loader pipeline.DatasetLoader = store
	if cfg.DatasetCacheSize > 0 {
		loader = netcdf.NewCachedLoader(store, cfg.DatasetCacheSize, metrics)
		logger.Info("dataset cache enabled", "size", cfg.DatasetCacheSize)
	}
	runner := pipeline.NewRunner(loader, store, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(runner, cfg.DataDir, cfg.JobTimeout, logger, metrics)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, recipe.PresetNames(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	logger.Info("job worker started", "source_topic", cfg.KafkaSourceTopic, "sink_topic", cfg.KafkaSinkTopic, "data_dir", cfg.DataDir)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
