package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/facebookgo/clock"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder-backend/internal/data/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/data/db"
	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/http"
	"github.com/yungbote/coursebuilder-backend/internal/jobs/reaper"
	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/locks"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
	"github.com/yungbote/coursebuilder-backend/internal/platform/retry"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Metrics  *observability.Metrics
	Repos    Repos
	Clients  Clients
	Services Services
	Server   *http.Server

	dbService    *db.Service
	otelShutdown func(context.Context) error
}

// New wires the API process: storage, model gateway, conversation engine, background
// loops and the HTTP server.
func New(ctx context.Context) (*App, error) {
	a, err := bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.Cfg.validateServer(); err != nil {
		a.Close()
		return nil, err
	}

	a.Clients, err = wireClients(a.Log, a.Cfg, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Services, err = wireServices(a.DB, a.Log, a.Cfg, a.Repos, a.Clients, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Server = wireServer(a.Log, a.Cfg, a.Services, a.Clients, a.Metrics, a.dbService.Ping)
	return a, nil
}

// NewReaper wires only what a standalone reaper pass needs; no model key is required.
// localLocks allows a writing pass without REDIS_ADDR, for when no API server shares
// the database.
func NewReaper(ctx context.Context, opts reaper.Options, localLocks bool) (*App, *reaper.Reaper, error) {
	a, err := bootstrap(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := a.Cfg.validateReaper(opts.DryRun, localLocks); err != nil {
		a.Close()
		return nil, nil, err
	}
	var locker locks.Locker = locks.NewRegistry()
	if a.Cfg.RedisAddr != "" {
		rl, err := locks.NewRedisLocker(a.Log, a.Cfg.RedisAddr, "", a.Cfg.RedisLockTTL)
		if err != nil {
			a.Close()
			return nil, nil, fmt.Errorf("init redis locker: %w", err)
		}
		a.Clients.redis = rl
		locker = rl
	} else {
		a.Log.Warn("reaper running with in-process locks only; API server turns are not visible")
	}
	a.Clients.Locker = locker

	clk := clock.New()
	store := newSessionStore(a.DB, a.Log, a.Cfg, a.Metrics, clk)
	if opts.Schedule == "" {
		opts.Schedule = a.Cfg.ReaperSchedule
	}
	if opts.InactivityTTL <= 0 {
		opts.InactivityTTL = a.Cfg.InactivityTTL
	}
	if opts.GraceTTL <= 0 {
		opts.GraceTTL = a.Cfg.GraceTTL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = a.Cfg.ReaperBatchSize
	}
	r := reaper.New(a.Log, store, a.Repos.GenerationTxn, locker, clk, a.Metrics, opts)
	return a, r, nil
}

func bootstrap(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	dbService, err := db.Open(log, db.Options{Driver: cfg.DBDriver, DSN: cfg.DBDSN})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(dbService.DB()); err != nil {
		_ = dbService.Close()
		log.Sync()
		return nil, fmt.Errorf("database automigrate: %w", err)
	}

	a := &App{
		Log:          log,
		DB:           dbService.DB(),
		Cfg:          cfg,
		Metrics:      observability.NewMetrics(),
		dbService:    dbService,
		otelShutdown: observability.InitOTel(ctx, log, cfg.Otel),
	}
	a.Repos = wireRepos(a.DB, log)
	return a, nil
}

const slowStoreOperation = time.Second

func newSessionStore(gdb *gorm.DB, log *logger.Logger, cfg Config, metrics *observability.Metrics, clk clock.Clock) domainagg.SessionStore {
	return aggregates.NewSessionStore(aggregates.SessionStoreDeps{
		Base: aggregates.BaseDeps{
			DB:    gdb,
			Log:   log,
			Hooks: aggregates.WithLogging(aggregates.NewObservabilityHooks(metrics), log, slowStoreOperation),
			Clock: clk,
			Retry: retry.Policy{MaxAttempts: cfg.StoreMaxAttempts},
		},
		InactivityTTL: cfg.InactivityTTL,
	})
}

// Run serves until ctx is done. Background loops outlive the server shutdown so
// in-flight turns can finish; the auto-saver then flushes before Run returns.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackground()

	a.Services.AutoSave.Start(bgCtx)
	a.Services.Dispatcher.Start(bgCtx)
	if err := a.Services.Reaper.Start(bgCtx); err != nil {
		return err
	}
	go a.logStaleSignals(bgCtx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Server.Run(gctx, a.Cfg.HTTPAddr)
	})
	err := g.Wait()

	stopBackground()
	<-a.Services.AutoSave.Stopped()
	return err
}

func (a *App) logStaleSignals(ctx context.Context) {
	stale := a.Services.AutoSave.Stale()
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-stale:
			a.Log.Info("session replaced by stored copy",
				"session_id", sig.SessionID,
				"local_revision", sig.LocalRevision,
				"stored_revision", sig.StoredRevision,
			)
		}
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	var errs []error
	if a.otelShutdown != nil {
		errs = append(errs, a.otelShutdown(context.Background()))
	}
	errs = append(errs, a.Clients.Close())
	if a.dbService != nil {
		errs = append(errs, a.dbService.Close())
	}
	if err := errors.Join(errs...); err != nil && a.Log != nil {
		a.Log.Warn("shutdown incomplete", "error", err)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
