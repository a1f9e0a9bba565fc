package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/example/message-gateway/internal/common"
	"github.com/example/message-gateway/internal/dispatcher"
	"github.com/example/message-gateway/internal/routecache"
	"github.com/example/message-gateway/internal/store"
	"github.com/example/message-gateway/internal/webhook"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("webhook")
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

	var routes dispatcher.RouteResolver = db
	if cfg.RedisAddr != "" {
		rdb, err := routecache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
		routes = routecache.New(rdb, db, cfg.RouteCacheTTL, logger)
		logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.RouteCacheTTL).Msg("webhook route cache enabled")
	}

	sink, err := newSink(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("sink", cfg.Sink).Msg("init sink")
	}
	defer sink.Close()

	d := dispatcher.New(routes, dispatcher.Config{
		Secret:      cfg.EncryptionKey,
		VerifyToken: cfg.WhatsAppVerifyToken,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           webhook.NewServer(d, sink, cfg.WebhookMaxBodyBytes, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Str("sink", cfg.Sink).Msg("webhook service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("webhook server failed")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newSink(cfg *common.Config) (webhook.Sink, error) {
	switch cfg.Sink {
	case "kafka":
		return webhook.NewKafkaSink(webhook.NewKafkaWriter(cfg.KafkaBrokers), cfg.IncomingTopic, cfg.DeliveryReportTopic), nil
	case "amqp":
		s, err := webhook.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return webhook.NewLogSink(common.NewLogger(cfg)), nil
}
