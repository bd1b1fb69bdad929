// Command cryptox launches the wallet ledger and settlement service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/cryptoxhq/cryptox/config"
	"github.com/cryptoxhq/cryptox/internal/app/notify"
	"github.com/cryptoxhq/cryptox/internal/app/payments"
	"github.com/cryptoxhq/cryptox/internal/app/pricing"
	"github.com/cryptoxhq/cryptox/internal/app/settlement"
	"github.com/cryptoxhq/cryptox/internal/infra/persistence/migrations"
	"github.com/cryptoxhq/cryptox/internal/infra/persistence/postgres"
	httpserver "github.com/cryptoxhq/cryptox/internal/infra/server/http"
	"github.com/cryptoxhq/cryptox/internal/infra/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	serviceLoggerPrefix      = "cryptox "
	serverShutdownTimeout    = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newServiceLogger()

	configPath := resolveConfigPath(cfgPathFlag)
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, symbols=%d", cfg.Environment, len(cfg.Pricing.Symbols))

	telemetryProvider, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	pool, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}

	if cfg.Database.MigrateOnStart {
		if err := migrations.ApplyEmbedded(ctx, cfg.Database.DSN, logger); err != nil {
			logger.Fatalf("apply migrations: %v", err)
		}
	}

	store := postgres.NewLedgerStore(pool)
	postgres.ObservePoolMetrics(pool, "ledger")

	board := pricing.NewBoard()
	simulator := pricing.NewSimulator(board, cfg.Pricing.Symbols, cfg.Pricing.TickInterval, logger)

	engine, err := buildEngine(cfg.Settlement, store, board, logger)
	if err != nil {
		logger.Fatalf("initialise settlement engine: %v", err)
	}

	if cfg.Payments.WebhookSecret == "" {
		logger.Print("webhook secret not configured; payment webhook deliveries will be rejected")
	}
	gateway := payments.NewGateway(engine, cfg.Payments.WebhookSecret, cfg.Payments.SignatureSkew, logger)

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { _ = simulator.Run(ctx) })
	if cfg.Pricing.FeedURL != "" {
		feed := pricing.NewFeed(board, cfg.Pricing.FeedURL, cfg.Pricing.FeedInterval, cfg.Pricing.FeedTimeout, logger)
		lifecycle.Go(func() { _ = feed.Run(ctx) })
	}

	apiServer := buildAPIServer(cfg.Server, engine, gateway, board, simulator, logger)
	startAPIServer(&lifecycle, logger, apiServer)
	logger.Printf("API listening on %s", apiServer.Addr)

	logger.Print("cryptox started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+lifecycleShutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		pool:       pool,
		telemetry:  telemetryProvider,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newServiceLogger() *log.Logger {
	return log.New(os.Stdout, serviceLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

// resolveConfigPath falls back to defaults when no file is present, so the
// service can boot from environment variables alone.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	cleaned := filepath.Clean(defaultConfigPath)
	if _, err := os.Stat(cleaned); err != nil {
		return ""
	}
	return cleaned
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.Settings) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	if cfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.Telemetry.ServiceName
	}
	telemetryCfg.Environment = string(cfg.Environment)
	telemetryCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.Telemetry.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.StatementTimeout != "" {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func buildEngine(cfg config.SettlementConfig, store *postgres.LedgerStore, board *pricing.Board, logger *log.Logger) (*settlement.Engine, error) {
	tolerance, err := decimal.NewFromString(cfg.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("parse settlement tolerance %q: %w", cfg.Tolerance, err)
	}
	return settlement.NewEngine(store, board, notify.NewLogNotifier(logger), settlement.Config{
		FeeBps:        cfg.FeeBps,
		Tolerance:     tolerance,
		OrderThrottle: cfg.OrderThrottle,
		OrderBurst:    cfg.OrderBurst,
	}, logger), nil
}

func buildAPIServer(cfg config.ServerConfig, engine *settlement.Engine, gateway *payments.Gateway, board *pricing.Board, ticks httpserver.TickSource, logger *log.Logger) *http.Server {
	handler := httpserver.NewHandler(engine, gateway, board, ticks, cfg.MaxBodyBytes, logger)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("api server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	pool       *pgxpool.Pool
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", serverShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.pool != nil {
		shutdownStep("closing database pool", serverShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.pool.Close()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return stepCtx.Err()
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
