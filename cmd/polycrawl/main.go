// Command polycrawl runs the crawl engine's HTTP façade.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arlobrandt/polycrawl/internal/api"
	"github.com/arlobrandt/polycrawl/internal/clock/system"
	"github.com/arlobrandt/polycrawl/internal/config"
	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/engine/extract"
	"github.com/arlobrandt/polycrawl/internal/engine/fetch"
	"github.com/arlobrandt/polycrawl/internal/engine/progress"
	"github.com/arlobrandt/polycrawl/internal/engine/progress/sinks"
	"github.com/arlobrandt/polycrawl/internal/engine/ratelimit"
	"github.com/arlobrandt/polycrawl/internal/engine/robots"
	"github.com/arlobrandt/polycrawl/internal/idgen"
	"github.com/arlobrandt/polycrawl/internal/logging"
	"github.com/arlobrandt/polycrawl/internal/metrics"
	"github.com/arlobrandt/polycrawl/internal/store"
	"github.com/arlobrandt/polycrawl/internal/store/memory"
	"github.com/arlobrandt/polycrawl/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	resultStore, closeStore, err := buildResultStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("result store init failed", zap.Error(err))
	}
	defer closeStore()

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	storeSink := sinks.NewStoreSink(resultStore, logger.Named("store_sink"))
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, promSink, storeSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := hub.Close(closeCtx); closeErr != nil {
			logger.Warn("progress hub close error", zap.Error(closeErr))
		}
	}()

	clock := system.New()
	idGen := idgen.New()

	limiter := ratelimit.New(ratelimit.Config{
		DefaultDelaySeconds: cfg.Politeness.DefaultDelaySeconds,
		MaxDelaySeconds:     cfg.Politeness.MaxDelaySeconds,
		DecayFactor:         cfg.Politeness.DecayFactor,
	})

	userAgent := func() string { return limiter.NextUserAgent() }
	fetcher := fetch.New(fetch.Config{
		RequestTimeout:     time.Duration(cfg.Fetch.RequestTimeoutSeconds) * time.Second,
		MaxRedirects:       cfg.Fetch.MaxRedirects,
		ConnectionPoolSize: cfg.Fetch.ConnectionPoolSize,
		UserAgent:          userAgent,
	}, logger.Named("fetch"))

	extractor := extract.New(cfg.Extract.MaxContentLength, cfg.Extract.MaxHeadings)

	robotsFactory := func(ua string) engine.RobotsCache {
		return robots.New(ua, logger.Named("robots"))
	}

	deps := api.Deps{
		Limiter:       limiter,
		Fetcher:       fetcher,
		Extractor:     extractor,
		Clock:         clock,
		Hub:           hub,
		RobotsFactory: robotsFactory,
		UserAgent:     "polycrawl/1.0 (+https://example.invalid/bot)",
		IDGen:         idGen,
		Store:         resultStore,
		Logger:        logger.Named("api"),
		Config:        cfg,
	}
	apiServer := api.NewServer(deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildResultStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.ResultStore, func(), error) {
	switch cfg.Storage.ResultBackend {
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN)
		if err != nil {
			return nil, func() {}, fmt.Errorf("parse postgres dsn: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DB.MaxOpenConns)
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("result store backend selected", zap.String("backend", "postgres"))
		return postgres.New(pool), pool.Close, nil
	default:
		logger.Info("result store backend selected", zap.String("backend", "memory"))
		return memory.New(), func() {}, nil
	}
}
