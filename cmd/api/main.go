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

	"go.uber.org/zap"

	"depotroute/internal/api"
	"depotroute/internal/auth"
	"depotroute/internal/buildinfo"
	"depotroute/internal/config"
	"depotroute/internal/matrix"
	"depotroute/internal/model"
	"depotroute/internal/pipeline"
	"depotroute/internal/store"
	"depotroute/internal/webhooks"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(*configPath, log); err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
}

func run(configPath string, log *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret)
	if err != nil {
		return err
	}

	var provider matrix.Provider
	if cfg.Mapbox.AccessToken != "" {
		mc, err := matrix.NewMapboxClient(matrix.MapboxConfig{
			AccessToken:       cfg.Mapbox.AccessToken,
			BaseURL:           cfg.Mapbox.BaseURL,
			Timeout:           time.Duration(cfg.Mapbox.TimeoutSec) * time.Second,
			RequestsPerSecond: cfg.Mapbox.RequestsPerSecond,
		}, log)
		if err != nil {
			return err
		}
		provider = mc
	} else {
		log.Warn("no mapbox access token configured, optimization runs will fail")
	}

	var broker api.EventBroker
	if cfg.RedisURL != "" {
		rb, err := api.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis broker: %w", err)
		}
		broker = rb
		log.Info("run events over redis pub/sub")
	} else {
		broker = api.NewBroker()
	}

	srv := &api.Server{
		Store:          st,
		Pipe:           pipeline.New(pipelineProvider(provider), st, log),
		Auth:           verifier,
		Broker:         broker,
		Pub:            webhooks.NewPublisher(st),
		Provider:       provider,
		Log:            log,
		Profile:        cfg.Optimize.Profile,
		SolveTimeLimit: cfg.SolveTimeLimit(),
	}

	worker := webhooks.NewWorker(st, log)
	worker.Start()
	defer close(worker.Stop)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("version", buildinfo.Version))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("using in-memory store")
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("using postgres store")
	return pg, nil
}

// pipelineProvider substitutes an always-failing provider when none is
// configured so the pipeline never dereferences a nil interface.
func pipelineProvider(p matrix.Provider) matrix.Provider {
	if p != nil {
		return p
	}
	return unconfiguredProvider{}
}

type unconfiguredProvider struct{}

func (unconfiguredProvider) Durations(context.Context, []model.GeoPoint, string) ([][]float64, error) {
	return nil, errors.New("no travel-time provider configured")
}
