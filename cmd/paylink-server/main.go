// Command paylink-server runs the payment gateway: checkout, processor
// webhooks, the confirmation page and the support tools endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/lojacheckout/paylink"
	"github.com/lojacheckout/paylink/events"
	paylinkhttp "github.com/lojacheckout/paylink/http"
	"github.com/lojacheckout/paylink/idempotency"
	"github.com/lojacheckout/paylink/mcp"
	"github.com/lojacheckout/paylink/pkg/config"
	paylinkgin "github.com/lojacheckout/paylink/pkg/gin"
	"github.com/lojacheckout/paylink/pkg/telemetry"
	"github.com/lojacheckout/paylink/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("PAYLINK_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("paylink-server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, cfg.Telemetry, version, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	orders, cart, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	guard, closeGuard := openGuard(cfg, logger)
	defer closeGuard()

	publisher, err := openPublisher(cfg.Kafka, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	processor := paylinkhttp.NewHTTPProcessorClient(func() *paylinkhttp.ProcessorConfig {
		pc := paylinkhttp.ProcessorConfigFrom(cfg.Gateway)
		pc.Logger = logger
		return pc
	}())

	gateway, err := paylink.NewGateway(cfg.Gateway, orders, processor, guard,
		paylink.WithCart(cart),
		paylink.WithLogger(logger),
		paylink.WithMeterProvider(tel.MeterProvider()))
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	gateway.OnOrderPaid(events.OrderPaidHook(publisher))

	if !gateway.Config().Available() {
		logger.Warn("payment gateway is disabled or has no handle; webhooks will be rejected")
	}

	if !cfg.Gateway.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	paylinkgin.RegisterRoutes(router, gateway, paylinkgin.WithTrustProxy(cfg.Server.TrustProxy))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})

	if cfg.Support.Enabled {
		support := mcp.NewSupportServer(gateway, version, logger)
		router.Any(cfg.Support.Path, gin.WrapH(mcp.RequireToken(cfg.Support.Token, support.Handler())))
		logger.Info("support tools enabled", "path", cfg.Support.Path)
	}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("paylink server listening", "addr", cfg.Server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore returns the SQL store when a driver is configured, otherwise an
// in-memory store
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (paylink.OrderStore, paylink.Cart, func(), error) {
	if cfg.Driver == "" {
		logger.Warn("no database configured, orders are kept in memory")
		m := store.NewMemory()
		return m, m, func() {}, nil
	}

	s, err := store.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open order store: %w", err)
	}
	if err := s.DB().PingContext(ctx); err != nil {
		s.Close()
		return nil, nil, nil, fmt.Errorf("failed to reach order store: %w", err)
	}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, nil, fmt.Errorf("failed to migrate order store: %w", err)
		}
	}

	logger.Info("order store ready", "driver", cfg.Driver)
	return s, s.Cart(), func() { s.Close() }, nil
}

// openGuard returns the Redis replay guard when an address is configured.
// The in-memory guard is only safe with a single replica.
func openGuard(cfg *config.Config, logger *slog.Logger) (idempotency.Store, func()) {
	opts := []idempotency.Option{idempotency.WithGatewayConfig(cfg.Gateway)}

	if cfg.Redis.Addr == "" {
		logger.Warn("no redis configured, replay guard is local to this process")
		return idempotency.NewInMemoryStore(opts...), func() {}
	}

	if cfg.Redis.KeyPrefix != "" {
		opts = append(opts, idempotency.WithKeyPrefix(cfg.Redis.KeyPrefix))
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return idempotency.NewRedisStore(client, opts...), func() { client.Close() }
}

func openPublisher(cfg config.KafkaConfig, logger *slog.Logger) (events.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return events.NewLogPublisher(logger), nil
	}

	producer, err := events.NewKafkaProducer(cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	logger.Info("publishing order events to kafka", "topic", cfg.Topic)
	return events.NewKafkaPublisher(producer, cfg.Topic, logger), nil
}
