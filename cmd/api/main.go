package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/example/message-gateway/internal/api"
	"github.com/example/message-gateway/internal/common"
	"github.com/example/message-gateway/internal/gateway"
	"github.com/example/message-gateway/internal/routecache"
	"github.com/example/message-gateway/internal/sms"
	"github.com/example/message-gateway/internal/store"
	"github.com/example/message-gateway/internal/whatsapp"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("api")
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

	var cache api.Invalidator
	if cfg.RedisAddr != "" {
		rdb, err := routecache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
		cache = routecache.New(rdb, db, cfg.RouteCacheTTL, logger)
	}

	gw := gateway.New(&http.Client{}, cfg.GatewayTimeout, logger)
	h := api.NewHandler(db,
		sms.NewSender(db, gw, cfg.EncryptionKey, logger),
		whatsapp.NewSender(db, gw, cfg.EncryptionKey, logger),
		cache, db.Ping,
		api.Config{Secret: cfg.EncryptionKey, WebhookBaseURL: cfg.WebhookBaseURL},
		logger)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("api service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
