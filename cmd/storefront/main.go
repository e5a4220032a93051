package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/parfum"
	"goflare.io/parfum/api"
	"goflare.io/parfum/cart"
	"goflare.io/parfum/checkout"
	"goflare.io/parfum/config"
	"goflare.io/parfum/driver"
	"goflare.io/parfum/event"
	"goflare.io/parfum/metrics"
	"goflare.io/parfum/order"
	"goflare.io/parfum/publisher"
	"goflare.io/parfum/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, logger); err != nil {
		logger.Fatal("Storefront stopped", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	pool, err := driver.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	kv, closeKV, err := newCartStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	natsConn, err := connectNATS(cfg, logger)
	if err != nil {
		return err
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	kafka := publisher.NewKafka(publisher.ParseBrokers(cfg.KafkaBrokers), publisher.TopicOrdersCompleted, logger)
	defer func() { _ = kafka.Close() }()
	var orders parfum.OrderPublisher
	if kafka.Enabled() {
		orders = kafka
	}

	reg := prometheus.DefaultRegisterer
	cartMetrics := metrics.NewCartMetrics(reg)
	serverMetrics := metrics.NewServerMetrics("storefront", reg)

	registry := cart.NewRegistry(kv, cfg.CartIdleTTL, logger, cart.WithErrorHook(cartMetrics.ErrorHook()))
	registry.OnEvent(cartMetrics.Listener())

	stripeClient := checkout.NewStripeClient(cfg.StripeSecretKey, cfg.Checkout.Timeout, logger)
	checkoutService := checkout.NewService(stripeClient, cfg.Checkout, logger)

	svc := parfum.NewService(
		registry,
		checkoutService,
		order.NewRepository(pool, logger),
		event.NewRepository(pool, logger),
		driver.NewTransactionManager(pool, logger),
		natsConn,
		orders,
		logger,
	)
	defer svc.Shutdown()

	var opts []api.Option
	if !cfg.Development() {
		opts = append(opts, api.WithSecureCookies())
	}
	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           api.NewServer(svc, cfg.StripeWebhookSecret, serverMetrics, prometheus.DefaultGatherer, logger, opts...).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go registry.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Storefront listening", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down storefront")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newCartStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.KV, func(), error) {
	if cfg.CartStorage == config.StorageMemory {
		logger.Warn("Carts are kept in memory and will not survive a restart")
		return storage.NewMemoryKV(), func() {}, nil
	}

	client, err := driver.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewRedisKV(client, cfg.CartTTL), func() { closeRedis(client, logger) }, nil
}

func closeRedis(client *redis.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("Failed to close redis", zap.Error(err))
	}
}

func connectNATS(cfg config.Config, logger *zap.Logger) (*nats.Conn, error) {
	if cfg.NATSURL == "" {
		logger.Info("NATS_URL not set, processing webhook events in-process")
		return nil, nil
	}
	return driver.ConnectNATS(cfg.NATSURL, "parfum-storefront", logger)
}
