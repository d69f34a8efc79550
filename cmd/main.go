package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/okian/mapthewalls/internal/adapters/cache"
	"github.com/okian/mapthewalls/internal/adapters/http/api"
	"github.com/okian/mapthewalls/internal/adapters/http/site"
	"github.com/okian/mapthewalls/internal/adapters/http/swagger"
	"github.com/okian/mapthewalls/internal/adapters/objectstore"
	"github.com/okian/mapthewalls/internal/adapters/repository"
	service "github.com/okian/mapthewalls/internal/app"
	"github.com/okian/mapthewalls/internal/config"
	"github.com/okian/mapthewalls/pkg/logger"
	"github.com/okian/mapthewalls/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 30 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server exited", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	bucket, err := newBucket(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return err
	}
	summaries := cache.New(ctx, cfg.RedisURL,
		cache.WithTTL(cfg.SummaryTTL()),
		cache.WithLogger(log.Named("cache")))

	svc := service.New(
		service.WithLogger(log),
		service.WithStore(store),
		service.WithCache(summaries),
		service.WithBucket(bucket),
		service.WithAdminToken(cfg.AdminToken),
		service.WithPhotoBudget(cfg.PhotoBudgetBytes),
		service.WithListLimit(cfg.MaxListLimit),
		service.WithJanitorSchedule(cfg.JanitorSchedule),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	mux, err := newMux(ctx, svc, bucket, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info(context.Background(), "server stopped")
	return err
}

// newMux wires the API, the docs and, for the memory bucket, the photo route.
func newMux(ctx context.Context, svc *service.Service, bucket objectstore.Bucket, log logger.Logger) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, api.WithLogger(log.Named("api"))).Register(ctx, mux)
	if mem, ok := bucket.(*objectstore.MemBucket); ok {
		if err := site.Register(ctx, mux, mem); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func newStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	if cfg.StoreDriver == config.StorePostgres {
		pg, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL, repository.WithLogger(log.Named("postgres")))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return pg, nil
	}
	return repository.NewMemStore(), nil
}

func newBucket(ctx context.Context, cfg *config.Config) (objectstore.Bucket, error) {
	if cfg.BucketDriver != config.BucketGCS {
		return objectstore.NewMemBucket(cfg.PublicBaseURL), nil
	}
	var opts []objectstore.GCSOption
	if cfg.GCSCredentials != "" {
		creds, err := base64.StdEncoding.DecodeString(cfg.GCSCredentials)
		if err != nil {
			return nil, fmt.Errorf("%w: gcs_credentials is not base64: %w", config.ErrInvalidConfig, err)
		}
		opts = append(opts, objectstore.WithCredentialsJSON(creds))
	}
	if cfg.GCSEndpoint != "" {
		opts = append(opts, objectstore.WithEndpoint(cfg.GCSEndpoint))
	}
	b, err := objectstore.NewGCSBucket(ctx, cfg.BucketName, opts...)
	if err != nil {
		return nil, fmt.Errorf("open gcs bucket: %w", err)
	}
	return b, nil
}

// startSystemMetricsUpdater refreshes runtime gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	updateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
