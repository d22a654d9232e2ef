// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/fre-lookup/internal/api"
	"github.com/JakeFAU/fre-lookup/internal/clock/system"
	"github.com/JakeFAU/fre-lookup/internal/config"
	"github.com/JakeFAU/fre-lookup/internal/dataset"
	"github.com/JakeFAU/fre-lookup/internal/extract"
	"github.com/JakeFAU/fre-lookup/internal/fetcher"
	"github.com/JakeFAU/fre-lookup/internal/hash/sha256"
	memorykv "github.com/JakeFAU/fre-lookup/internal/kv/memory"
	postgreskv "github.com/JakeFAU/fre-lookup/internal/kv/postgres"
	sqlitekv "github.com/JakeFAU/fre-lookup/internal/kv/sqlite"
	"github.com/JakeFAU/fre-lookup/internal/lookup"
	"github.com/JakeFAU/fre-lookup/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/fre-lookup/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/fre-lookup/internal/publisher/pubsub"
	"github.com/JakeFAU/fre-lookup/internal/query"
	"github.com/JakeFAU/fre-lookup/internal/snapshot"
	gcsblob "github.com/JakeFAU/fre-lookup/internal/storage/gcs"
	localblob "github.com/JakeFAU/fre-lookup/internal/storage/local"
	memoryblob "github.com/JakeFAU/fre-lookup/internal/storage/memory"
	s3blob "github.com/JakeFAU/fre-lookup/internal/storage/s3"
	"github.com/JakeFAU/fre-lookup/internal/telemetry"
	"github.com/JakeFAU/fre-lookup/internal/transport"
	collytransport "github.com/JakeFAU/fre-lookup/internal/transport/colly"
	nativetransport "github.com/JakeFAU/fre-lookup/internal/transport/native"
)

// readyKey is probed by the readiness check; its absence is the expected answer.
const readyKey = "dg:readyz"

// App holds the shared, long-lived services built from a Config.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	locator  *dataset.Locator
	exec     transport.ExecutionContext
	cache    lookup.BlobCache
	kv       lookup.KeyValueStore
	upstream transport.Strategy
	service  *query.Service
	closers  []func(context.Context) error
}

// New wires every backend selected by cfg. It fails fast when a backend
// cannot be initialized and releases whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if retErr != nil {
			if closeErr := a.Close(context.Background()); closeErr != nil {
				logger.Warn("partial shutdown failed", zap.Error(closeErr))
			}
		}
	}()

	logger.Info("initializing application services",
		zap.String("mode", cfg.Runtime.Mode),
		zap.String("cache", cfg.Cache.Driver),
		zap.String("snapshot", cfg.Snapshot.Driver),
		zap.String("events", cfg.Events.Driver),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	a.locator = dataset.NewLocator(dataset.Config{
		Templates: templates(cfg.Source),
		RelayBase: cfg.Source.RelayBase,
	})
	a.exec = transport.DetectContext(transport.Mode(cfg.Runtime.Mode), cfg.Runtime.Origin)

	if a.cache, err = a.newBlobCache(ctx); err != nil {
		return nil, err
	}
	if a.kv, err = a.newKeyValueStore(ctx); err != nil {
		return nil, err
	}
	pub, err := a.newPublisher(ctx)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	native := nativetransport.New(nativetransport.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		ConnectTimeout: time.Duration(cfg.HTTP.ConnectTimeoutSeconds) * time.Second,
		ReadTimeout:    time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
	})
	direct := collytransport.New(collytransport.Config{
		Source:    lookup.SourceDirect,
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	})
	relay := collytransport.New(collytransport.Config{
		Source:    lookup.SourceRelay,
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	})
	a.upstream = direct

	f, err := fetcher.New(fetcher.Options{
		Locator:         a.locator,
		Context:         a.exec,
		Native:          native,
		Relay:           relay,
		Direct:          direct,
		Cache:           a.cache,
		Clock:           clock,
		Logger:          logger.Named("fetcher"),
		UnpublishedYear: cfg.Fetch.UnpublishedYear,
	})
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	a.service, err = query.New(query.Options{
		Fetcher:   f,
		Extractor: extract.NewEngine(logger.Named("extract")),
		Snapshots: snapshot.New(a.kv, a.cache, cfg.Snapshot.Namespace, logger.Named("snapshot")),
		Locator:   a.locator,
		Publisher: pub,
		Hasher:    sha256.New(),
		Clock:     clock,
		Topic:     cfg.Events.Topic,
		Logger:    logger.Named("query"),
		Tracer:    telemetry.Tracer(),
	})
	if err != nil {
		return nil, fmt.Errorf("init query service: %w", err)
	}

	logger.Info("application services initialized", zap.String("context", a.exec.String()))
	return a, nil
}

func templates(src config.SourceConfig) map[lookup.Dataset]string {
	out := map[lookup.Dataset]string{lookup.DatasetFRE: src.FRETemplate}
	if src.PASTemplate != "" {
		out[lookup.DatasetPAS] = src.PASTemplate
	}
	return out
}

func (a *App) newBlobCache(ctx context.Context) (lookup.BlobCache, error) {
	c := a.cfg.Cache
	switch c.Driver {
	case "memory":
		return memoryblob.NewBlobStore(), nil
	case "local":
		store, err := localblob.New(localblob.Config{BaseDir: c.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local cache: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store, err := gcsblob.New(client, gcsblob.Config{Bucket: c.Bucket, Prefix: c.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs cache: %w", err)
		}
		return store, nil
	case "s3":
		store, err := s3blob.New(ctx, s3blob.Config{
			Bucket:    c.Bucket,
			Prefix:    c.Prefix,
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			PathStyle: c.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache driver: %s", c.Driver)
	}
}

func (a *App) newKeyValueStore(ctx context.Context) (lookup.KeyValueStore, error) {
	c := a.cfg.Snapshot
	switch c.Driver {
	case "memory":
		return memorykv.NewStore(), nil
	case "sqlite":
		if dir := filepath.Dir(c.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		store, err := sqlitekv.Open(c.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite snapshots: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case "postgres":
		store, err := postgreskv.NewStore(ctx, postgreskv.Config{DSN: c.PostgresDSN, Table: c.PostgresTable})
		if err != nil {
			return nil, fmt.Errorf("connect postgres snapshots: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown snapshot driver: %s", c.Driver)
	}
}

func (a *App) newPublisher(ctx context.Context) (lookup.Publisher, error) {
	c := a.cfg.Events
	switch c.Driver {
	case "none":
		return nil, nil
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		pub, err := pubsubpublisher.New(ctx, c.ProjectID, c.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown events driver: %s", c.Driver)
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Service returns the query service used by every presentation layer.
func (a *App) Service() *query.Service {
	return a.service
}

// ExecutionContext reports the fetch context derived at startup.
func (a *App) ExecutionContext() transport.ExecutionContext {
	return a.exec
}

// Server builds the HTTP server around the wired services.
func (a *App) Server() *api.Server {
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.Server.RelayRPS,
		Burst: a.cfg.Server.RelayBurst,
	})
	return api.NewServer(api.Options{
		Service:        a.service,
		Locator:        a.locator,
		Upstream:       a.upstream,
		Logger:         a.logger.Named("api"),
		AuthEnabled:    a.cfg.Auth.Enabled,
		APIKey:         a.cfg.Auth.APIKey,
		MaxUploadBytes: int64(a.cfg.Server.MaxUploadMB) << 20,
		RequestTimeout: a.cfg.RequestTimeout(),
		Ready:          []api.ReadinessCheck{a.snapshotsReady},
		RelayLimiter:   limiter,
	})
}

func (a *App) snapshotsReady(ctx context.Context) error {
	if _, _, err := a.kv.Get(ctx, readyKey); err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	return nil
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
