package app

import (
	"fmt"

	"github.com/facebookgo/clock"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/jobs/reaper"
	"github.com/yungbote/coursebuilder-backend/internal/modules/chatflow"
	"github.com/yungbote/coursebuilder-backend/internal/modules/generation"
	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

type Services struct {
	Store      domainagg.SessionStore
	Pipeline   *generation.Pipeline
	Courses    *generation.CourseReader
	AutoSave   *chatflow.AutoSaver
	Engine     *chatflow.Engine
	Dispatcher *chatflow.Dispatcher
	Reaper     *reaper.Reaper
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, clients Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")
	clk := clock.New()

	store := newSessionStore(db, log, cfg, metrics, clk)

	pipeline, err := generation.NewPipeline(generation.Deps{
		Log:     log,
		Host:    generation.NewGormEntityHost(log, reposet.Course, reposet.Section, reposet.Lesson),
		Txns:    generation.NewGormTransactionStore(reposet.GenerationTxn),
		Clock:   clk,
		Metrics: metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init generation pipeline: %w", err)
	}

	autosave := chatflow.NewAutoSaver(log, store, clients.Locker, clk, metrics, chatflow.AutoSaveOptions{
		Interval: cfg.AutoSaveInterval,
	})

	engine, err := chatflow.NewEngine(chatflow.EngineDeps{
		Log:             log,
		Store:           store,
		Gateway:         clients.Gateway,
		Generator:       pipeline,
		Locker:          clients.Locker,
		AutoSave:        autosave,
		Clock:           clk,
		Metrics:         metrics,
		MaxMessageRunes: cfg.MaxMessageRunes,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init conversation engine: %w", err)
	}

	dispatcher := chatflow.NewDispatcher(log, engine, clients.Locker, chatflow.DispatcherOptions{
		Workers: cfg.TurnWorkers,
	})

	sessionReaper := reaper.New(log, store, reposet.GenerationTxn, clients.Locker, clk, metrics, reaper.Options{
		Schedule:      cfg.ReaperSchedule,
		InactivityTTL: cfg.InactivityTTL,
		GraceTTL:      cfg.GraceTTL,
		BatchSize:     cfg.ReaperBatchSize,
	})

	return Services{
		Store:      store,
		Pipeline:   pipeline,
		Courses:    generation.NewCourseReader(reposet.Course),
		AutoSave:   autosave,
		Engine:     engine,
		Dispatcher: dispatcher,
		Reaper:     sessionReaper,
	}, nil
}
