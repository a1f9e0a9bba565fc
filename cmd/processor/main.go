package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/example/message-gateway/internal/common"
	"github.com/example/message-gateway/internal/gateway"
	"github.com/example/message-gateway/internal/queue"
	"github.com/example/message-gateway/internal/sms"
	"github.com/example/message-gateway/internal/store"
	"github.com/example/message-gateway/internal/whatsapp"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("processor")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort, logger)
	defer metricsSrv.Shutdown(context.Background())

	pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()
	db, err := store.NewPostgres(pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("init store")
	}
	if cfg.AutoMigrate {
		if err := db.Bootstrap(ctx); err != nil {
			logger.Fatal().Err(err).Msg("bootstrap schema")
		}
	}

	gw := gateway.New(&http.Client{}, cfg.GatewayTimeout, logger)
	p := queue.NewProcessor(db,
		sms.NewSender(db, gw, cfg.EncryptionKey, logger),
		whatsapp.NewSender(db, gw, cfg.EncryptionKey, logger),
		queue.Config{
			Interval:   cfg.ProcessorInterval,
			BatchSize:  cfg.ProcessorBatchSize,
			MaxRetries: cfg.ProcessorMaxRetries,
		}, logger)

	p.Start(ctx)
	logger.Info().Msg("processor service started")

	<-ctx.Done()
	p.Stop()
}
