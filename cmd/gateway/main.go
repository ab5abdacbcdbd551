package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/funcbase/gateway/internal/auth"
	"github.com/funcbase/gateway/internal/cache"
	"github.com/funcbase/gateway/internal/config"
	"github.com/funcbase/gateway/internal/gateway"
	"github.com/funcbase/gateway/internal/jwks"
	"github.com/funcbase/gateway/internal/logging"
	"github.com/funcbase/gateway/internal/store"
	"github.com/funcbase/gateway/internal/upstream"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to optional YAML configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("funcbase gateway %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if err := run(cfg); err != nil {
		logging.Error("gateway exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("starting gateway",
		zap.String("version", version),
		zap.String("listen", cfg.Listen.Address),
		zap.String("upstream", cfg.Upstream.BaseURL),
	)

	db, err := store.Connect(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to config store: %w", err)
	}
	defer db.Close()

	routeCache := cache.New(db)
	routeCache.Start(ctx, cfg.Cache.RefreshInterval)
	defer routeCache.Stop()

	// Push invalidation: any notification collapses into one debounced
	// rebuild; the refresh ticker is only the safety net.
	listener := store.NewListener(cfg.Database.DSN(), cfg.Cache.DebounceWindow, func() {
		if err := routeCache.ForceRefresh(ctx); err != nil {
			logging.Error("push-triggered snapshot rebuild failed", zap.Error(err))
		}
	})
	listener.Start(ctx)
	defer listener.Stop()

	client, err := upstream.New(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("building upstream client: %w", err)
	}

	evaluator := auth.NewEvaluator(jwks.NewManager(jwks.Options{}), client)
	handler := gateway.NewHandler(routeCache, evaluator, client)

	return gateway.NewServer(cfg, handler).Run(ctx)
}
