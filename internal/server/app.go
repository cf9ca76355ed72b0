// Package server builds the application's dependencies and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/kblog/internal/api"
	"github.com/JakeFAU/kblog/internal/clock/system"
	"github.com/JakeFAU/kblog/internal/config"
	"github.com/JakeFAU/kblog/internal/content"
	"github.com/JakeFAU/kblog/internal/forms"
	"github.com/JakeFAU/kblog/internal/functions"
	"github.com/JakeFAU/kblog/internal/geo"
	"github.com/JakeFAU/kblog/internal/id/uuid"
	"github.com/JakeFAU/kblog/internal/imaging"
	"github.com/JakeFAU/kblog/internal/logging"
	"github.com/JakeFAU/kblog/internal/manage"
	"github.com/JakeFAU/kblog/internal/policy/ratelimit"
	"github.com/JakeFAU/kblog/internal/publish"
	"github.com/JakeFAU/kblog/internal/publisher"
	memorypublisher "github.com/JakeFAU/kblog/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/kblog/internal/publisher/pubsub"
	"github.com/JakeFAU/kblog/internal/render"
	"github.com/JakeFAU/kblog/internal/sheets"
	blobstorage "github.com/JakeFAU/kblog/internal/storage"
	gcsstorage "github.com/JakeFAU/kblog/internal/storage/gcs"
	localstorage "github.com/JakeFAU/kblog/internal/storage/local"
	memorystorage "github.com/JakeFAU/kblog/internal/storage/memory"
	pgstore "github.com/JakeFAU/kblog/internal/storage/postgres"
	"github.com/JakeFAU/kblog/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	store           *content.Store
	publisher       *publish.Publisher
	manager         *manage.Manager
	apiServer       *api.Server
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	submissions     *pgstore.SubmissionStore
	redis           *redis.Client
	tracerShutdown  func(context.Context) error
	closeOnce       sync.Once
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	type SanitizedConfig struct {
		ServerPort  int    `json:"server_port"`
		Environment string `json:"environment,omitempty"`
		ContentRoot string `json:"content_root"`
		BaseURL     string `json:"base_url"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:  cfg.Server.Port,
		Environment: cfg.Environment,
		ContentRoot: cfg.Content.RootDir,
		BaseURL:     cfg.BaseURL(),
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the content store.
func (a *App) Store() *content.Store { return a.store }

// Manager returns the article management operations used by the CLI.
func (a *App) Manager() *manage.Manager { return a.manager }

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	if a.apiServer == nil {
		return fmt.Errorf("app was built without an HTTP server")
	}
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr), zap.String("base_url", a.cfg.BaseURL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases external clients. It is safe to call more than once and on
// a partially built App.
func (a *App) Close() {
	a.closeOnce.Do(a.closeInfrastructure)
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.submissions != nil {
		a.submissions.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	a.logger.Info("shutdown complete")
}

// Build creates every dependency of the HTTP server.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a, err := buildCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.wireServer(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// wireServer adds tracing and the submission infrastructure on top of the
// tools built by wireTools, then assembles the API server.
func (a *App) wireServer(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Telemetry.Enabled {
		tc := cfg.Telemetry
		if tc.ServiceName == "" {
			tc.ServiceName = cfg.Site.AppName
		}
		tp, err := telemetry.InitTracerProvider(ctx, tc)
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracerShutdown = tp.Shutdown
		a.logger.Info("tracing initialized", zap.Bool("export", tc.ProjectID != ""))
	}

	locator, err := setupGeo(ctx, a)
	if err != nil {
		return err
	}
	if err := setupDatabase(ctx, a); err != nil {
		return err
	}
	sheetsClient, err := setupSheets(a)
	if err != nil {
		return err
	}

	var (
		formStore forms.Store
		formGeo   forms.Locator
	)
	if a.submissions != nil {
		formStore = a.submissions
	}
	if locator != nil {
		formGeo = locator
	}
	opts := []forms.Option{
		forms.WithNewsletterMirror(a.store, uuid.New()),
		forms.WithClock(system.New()),
	}
	if formStore != nil {
		opts = append(opts, forms.WithStore(formStore))
	}
	if sheetsClient != nil {
		opts = append(opts, forms.WithSheets(sheetsClient))
	}
	if formGeo != nil {
		opts = append(opts, forms.WithLocator(formGeo))
	}
	forwarder := forms.NewForwarder(logging.Component(a.logger, "forms"), opts...)
	events := forms.NewEvents(cfg.Site.AppName, formStore, formGeo, logging.Component(a.logger, "events"))
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit)
		a.logger.Info("submission rate limit enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}

	a.apiServer = api.NewServer(api.Deps{
		Store:     a.store,
		Publisher: a.publisher,
		Forwarder: forwarder,
		Events:    events,
		Functions: functions.New(a.store, forwarder, events, limiter, logging.Component(a.logger, "functions")),
		Limiter:   limiter,
		IDs:       uuid.New(),
		Clock:     system.New(),
	}, *cfg, logging.Component(a.logger, "api"))

	return nil
}

// BuildTools creates the content store, publisher and manager without any
// of the submission infrastructure. The CLI uses it.
func BuildTools(ctx context.Context, cfg *config.Config) (*App, error) {
	return buildCore(ctx, cfg)
}

func buildCore(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := a.wireTools(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wireTools(ctx context.Context) error {
	cfg := a.cfg

	a.logger.Info("building application dependencies")
	clock := system.New()
	store, err := content.New(cfg.Content, clock, a.logger.Named("content"))
	if err != nil {
		return fmt.Errorf("content store init failed: %w", err)
	}
	a.store = store

	mirror, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	notifier, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}

	renderer, err := render.New(cfg.Site.Name)
	if err != nil {
		return fmt.Errorf("renderer init failed: %w", err)
	}
	pipeline := imaging.NewPipeline(a.logger.Named("imaging"))

	pubOpts := []publish.Option{publish.WithClock(clock)}
	if mirror != nil {
		pubOpts = append(pubOpts, publish.WithMirror(mirror))
	}
	if notifier != nil {
		pubOpts = append(pubOpts, publish.WithNotifier(notifier))
	}
	a.publisher, err = publish.New(a.store, renderer, pipeline, cfg.BaseURL(), a.logger.Named("publisher"), pubOpts...)
	if err != nil {
		return fmt.Errorf("publisher init failed: %w", err)
	}
	a.manager = manage.New(a.store, a.publisher, pipeline, a.logger.Named("manage"))
	return nil
}

func setupStorage(ctx context.Context, app *App) (*blobstorage.Mirror, error) {
	var blobs blobstorage.BlobStore
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS asset mirror")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket:       app.cfg.Storage.GCSBucket,
			CacheControl: app.cfg.Storage.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS asset mirror", zap.String("bucket", app.cfg.Storage.GCSBucket))
	case "local":
		app.logger.Info("using local asset mirror")
		local, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = local
		app.logger.Debug("local asset mirror", zap.String("path", app.cfg.Storage.LocalDir))
	case "memory":
		app.logger.Info("using in-memory asset mirror")
		blobs = memorystorage.NewBlobStore()
	default:
		app.logger.Info("asset mirroring disabled")
		return nil, nil
	}
	return blobstorage.NewMirror(blobs, app.cfg.Storage.Prefix, logging.Component(app.logger, "mirror")), nil
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	switch app.cfg.PubSub.Backend {
	case "gcp":
		client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubPublisher = client.Publisher(app.cfg.PubSub.TopicName)
		app.logger.Info(
			"Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
		return gcppublisher.New(app.pubsubPublisher), nil
	case "memory":
		app.logger.Info("using in-memory article notifications")
		return memorypublisher.New(), nil
	default:
		app.logger.Info("article notifications disabled")
		return nil, nil
	}
}

func setupGeo(ctx context.Context, app *App) (*geo.Locator, error) {
	gc := app.cfg.Geo
	if !gc.Enabled {
		app.logger.Info("geolocation disabled")
		return nil, nil
	}
	var cache geo.Cache
	switch gc.Cache {
	case "redis":
		app.redis = redis.NewClient(&redis.Options{Addr: gc.RedisAddr, DB: gc.RedisDB})
		timeout := gc.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := app.redis.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		cache = geo.NewRedisCache(app.redis, gc.TTL, app.logger.Named("geo_cache"))
		app.logger.Info("using redis geolocation cache", zap.String("addr", gc.RedisAddr))
	case "memory":
		cache = geo.NewMemoryCache(gc.TTL, gc.MaxEntries, nil)
		app.logger.Info("using in-memory geolocation cache",
			zap.Duration("ttl", gc.TTL),
			zap.Int("max_entries", gc.MaxEntries),
		)
	default:
		app.logger.Info("geolocation cache disabled")
	}
	return geo.NewLocator(cache, logging.Component(app.logger, "geo"),
		geo.NewIPAPI(gc.PrimaryURL, nil, gc.Timeout),
		geo.NewIPAPICo(gc.FallbackURL, nil, gc.Timeout),
	), nil
}

func setupDatabase(ctx context.Context, app *App) error {
	dc := app.cfg.Database
	if dc.URL == "" {
		app.logger.Warn("No database URL specified, submissions will not be stored")
		return nil
	}
	if dc.MigrateOnStart {
		version, dirty, err := pgstore.RunMigrations(dc.URL)
		if err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		app.logger.Info("database migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	var err error
	app.submissions, err = pgstore.NewSubmissionStore(ctx, pgstore.Config{
		DSN:             dc.URL,
		EventsTable:     dc.EventsTable,
		MaxConns:        dc.MaxConns,
		MinConns:        dc.MinConns,
		MaxConnLifetime: dc.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("submission store init failed: %w", err)
	}
	app.logger.Info("submission store initialized")
	return nil
}

func setupSheets(app *App) (*sheets.Client, error) {
	sc := app.cfg.Sheets
	if sc.URL == "" && !sc.Skip {
		app.logger.Warn("No sheets URL specified, submissions will not be forwarded to sheets")
		return nil, nil
	}
	client, err := sheets.New(sc, nil)
	if err != nil {
		return nil, fmt.Errorf("sheets client init failed: %w", err)
	}
	if sc.Skip {
		app.logger.Info("sheets forwarding skipped by configuration")
	}
	return client, nil
}
