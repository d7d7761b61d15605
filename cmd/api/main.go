// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/aisecdocs/docpipe/internal/cache"
	"github.com/aisecdocs/docpipe/internal/config"
	"github.com/aisecdocs/docpipe/internal/discovery"
	"github.com/aisecdocs/docpipe/internal/docs"
	"github.com/aisecdocs/docpipe/internal/http/routes"
	"github.com/aisecdocs/docpipe/internal/httpc"
	"github.com/aisecdocs/docpipe/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document cache
	docCache := cache.New[docs.Document](cache.Config{
		MaxSize:         cfg.Cache.MaxSize,
		DefaultTTL:      cfg.Cache.DefaultTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
		Compression:     cfg.Cache.Compression,
	}, cache.WithLogger[docs.Document](logger))
	defer docCache.Close()

	// Resilient HTTP client
	client := httpc.New(httpc.Config{
		Timeout:            cfg.HTTP.Timeout,
		MaxAttempts:        cfg.HTTP.MaxAttempts,
		RetryBaseDelay:     cfg.HTTP.RetryBaseDelay,
		RetryMaxDelay:      cfg.HTTP.RetryMaxDelay,
		BreakerThreshold:   cfg.HTTP.BreakerThreshold,
		BreakerRecovery:    cfg.HTTP.BreakerRecovery,
		PoolMin:            cfg.HTTP.PoolMin,
		PoolMax:            cfg.HTTP.PoolMax,
		PoolInitial:        cfg.HTTP.PoolInitial,
		PoolAdjustInterval: cfg.HTTP.PoolAdjustInterval,
		PoolHighWater:      cfg.HTTP.PoolHighWater,
		PoolLowWater:       cfg.HTTP.PoolLowWater,
		Token:              cfg.Upstream.APIToken,
	}, httpc.WithLogger(logger))
	defer client.Close()

	// Discovery
	disc := discovery.New(client, discovery.Config{
		ListingBaseURL: cfg.Upstream.ListingBaseURL,
		CacheDir:       cfg.Discovery.CacheDir,
		CacheDuration:  cfg.CacheDuration(),
	}, discovery.WithLogger(logger))

	// Orchestrator
	orch := docs.New(docCache, client, docs.Config{
		ContentBaseURL: cfg.Upstream.ContentBaseURL,
		TTL:            cfg.Cache.DefaultTTL,
	}, docs.WithLogger(logger))

	// Optional cache warming, seeded from discovery
	if cfg.Warm.Enabled {
		go func() {
			res := disc.Discover(ctx)
			targets := docs.TargetsFromDiscovery(
				fileNames(res.Risks),
				fileNames(res.Mitigations),
				fileNames(res.Frameworks),
				10,
			)
			warmer := docs.NewWarmer(orch, targets, cfg.Warm.Interval, cfg.Warm.Concurrency, logger)
			warmer.Run(ctx)
		}()
	}

	// Metrics
	mets := metrics.New(metrics.Sources{
		CacheStats:         docCache.Stats,
		PoolStats:          client.PoolStats,
		Breakers:           client.BreakerSnapshot,
		SecurityViolations: orch.SecurityViolations,
	})

	// Router / server
	s := routes.New(routes.ServerOptions{
		Orchestrator: orch,
		Discovery:    disc,
		Client:       client,
		Metrics:      mets,
		Logger:       logger,
	})
	h := hlog.NewHandler(logger)(s.Router)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: h}
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("starting docpipe api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	// Bounded grace period for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown did not finish cleanly")
	}
	logger.Info().Msg("docpipe api stopped")
}

func fileNames(files []discovery.FileInfo) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}
