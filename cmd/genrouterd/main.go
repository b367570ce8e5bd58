// Command genrouterd serves a genrouter Router over HTTP.
//
// Configuration is read from a YAML file; ${VAR} references are expanded from
// the environment, which is seeded from .env when present. Usage records are
// exported to the sink named by GENROUTER_SINK (memory, redis, postgres or
// mysql) at GENROUTER_SINK_DSN.
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
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ineyio/genrouter"
	"github.com/ineyio/genrouter/httpapi"
	"github.com/ineyio/genrouter/meter"
	"github.com/ineyio/genrouter/policy"
	"github.com/ineyio/genrouter/provider/jobapi"
	"github.com/ineyio/genrouter/sink"
	sinkmysql "github.com/ineyio/genrouter/sink/mysql"
	sinkpg "github.com/ineyio/genrouter/sink/postgres"
	sinkredis "github.com/ineyio/genrouter/sink/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(serve())
}

// serve runs the daemon and returns its exit code, so deferred cleanup runs
// before the process exits.
func serve() int {
	_ = godotenv.Load(".env")

	configPath := flag.String("config", envOrDefault("GENROUTER_CONFIG", "genrouter.yaml"), "path to the YAML config")
	addr := flag.String("addr", envOrDefault("GENROUTER_ADDR", ":8080"), "listen address")
	debug := flag.Bool("debug", os.Getenv("GENROUTER_DEBUG") != "", "verbose logging")
	flag.Parse()

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	slog.SetDefault(slog.New(newZapHandler(logger)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *addr); err != nil {
		logger.Error("genrouterd stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *zap.Logger, configPath, addr string) error {
	cfg, err := genrouter.LoadConfig(configPath)
	if err != nil {
		return err
	}

	selector, err := policy.ByName(cfg.Selection)
	if err != nil {
		return err
	}

	adapters := make([]genrouter.ProviderAdapter, 0, len(cfg.Providers))
	poolOpts := []genrouter.PoolOption{
		genrouter.WithSelector(selector),
		genrouter.WithPoolLogger(slog.New(newZapHandler(logger.Named("pool")))),
	}
	for _, spec := range cfg.Providers {
		p := jobapi.NewFromSpec(spec)
		adapters = append(adapters, p)
		poolOpts = append(poolOpts, genrouter.WithBalanceChecker(spec.Name, p))
	}

	pool, err := genrouter.NewAccountPool(cfg.Providers, cfg.Accounts, poolOpts...)
	if err != nil {
		return err
	}

	m := meter.NewZapMeter(logger.Named("router"))
	usageSink, closeSink, err := openSink(ctx, os.Getenv("GENROUTER_SINK"), os.Getenv("GENROUTER_SINK_DSN"))
	if err != nil {
		return err
	}
	defer closeSink()

	var ledgerOpts []genrouter.LedgerOption
	ledgerOpts = append(ledgerOpts, genrouter.WithLedgerMeter(m))
	if usageSink != nil {
		ledgerOpts = append(ledgerOpts, genrouter.WithSink(usageSink))
	}

	router, err := genrouter.NewRouter(cfg, adapters,
		genrouter.WithPool(pool),
		genrouter.WithMeter(m),
		genrouter.WithLedger(genrouter.NewUsageLedger(ledgerOpts...)),
	)
	if err != nil {
		return err
	}

	if err := pool.RunHealthCheck(ctx); err != nil {
		logger.Warn("initial health check", zap.Error(err))
	}
	pool.Start(ctx, cfg.HealthCheckInterval)
	defer pool.Stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.New(router, httpapi.WithLogger(logger.Named("http"))).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("genrouterd listening",
			zap.String("addr", addr),
			zap.Int("providers", len(cfg.Providers)),
			zap.Int("accounts", len(cfg.Accounts)),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openSink connects the usage sink named by kind. An empty kind disables
// export.
func openSink(ctx context.Context, kind, dsn string) (genrouter.Sink, func(), error) {
	noop := func() {}
	switch kind {
	case "":
		return nil, noop, nil
	case "memory":
		return sink.NewMemory(), noop, nil
	case "redis":
		opts, err := goredis.ParseURL(dsn)
		if err != nil {
			return nil, noop, fmt.Errorf("redis sink: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("redis sink: %w", err)
		}
		return sinkredis.New(client), func() { _ = client.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres sink: %w", err)
		}
		store := sinkpg.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("postgres sink: %w", err)
		}
		return store, pool.Close, nil
	case "mysql":
		store, err := sinkmysql.Open(ctx, dsn)
		if err != nil {
			return nil, noop, fmt.Errorf("mysql sink: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, noop, fmt.Errorf("mysql sink: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown sink %q", kind)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
