package reaper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"

	convrepo "github.com/yungbote/coursebuilder-backend/internal/data/repos/conversation"
	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/locks"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

const (
	DefaultSchedule      = "@every 1h"
	DefaultInactivityTTL = 30 * 24 * time.Hour
	DefaultGraceTTL      = 60 * 24 * time.Hour
	DefaultBatchSize     = 100
	defaultConcurrency   = 4
	// maxBatchSize matches the largest page the session store returns.
	maxBatchSize = 200
	// maxBatches bounds one pass so a backlog cannot hold the job forever.
	maxBatches = 50
)

type Options struct {
	Schedule      string
	InactivityTTL time.Duration
	GraceTTL      time.Duration
	BatchSize     int
	Concurrency   int
	// DryRun reports what would happen without writing.
	DryRun bool
}

type ReapStats struct {
	Expired     int `json:"expired"`
	Purged      int `json:"purged"`
	SkippedBusy int `json:"skipped_busy"`
	Conflicts   int `json:"conflicts"`
	Failed      int `json:"failed"`
}

func (s ReapStats) String() string {
	return fmt.Sprintf("expired=%d purged=%d skipped_busy=%d conflicts=%d failed=%d",
		s.Expired, s.Purged, s.SkippedBusy, s.Conflicts, s.Failed)
}

type Reaper struct {
	log     *logger.Logger
	store   domainagg.SessionStore
	txns    convrepo.GenerationTxnRepo
	locker  locks.Locker
	clock   clock.Clock
	metrics *observability.Metrics
	opts    Options
}

func New(log *logger.Logger, store domainagg.SessionStore, txns convrepo.GenerationTxnRepo, locker locks.Locker, clk clock.Clock, metrics *observability.Metrics, opts Options) *Reaper {
	if log == nil {
		log = logger.NewNop()
	}
	if locker == nil {
		locker = locks.NewRegistry()
	}
	if clk == nil {
		clk = clock.New()
	}
	if strings.TrimSpace(opts.Schedule) == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.InactivityTTL <= 0 {
		opts.InactivityTTL = DefaultInactivityTTL
	}
	if opts.GraceTTL <= 0 {
		opts.GraceTTL = DefaultGraceTTL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > maxBatchSize {
		opts.BatchSize = maxBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Reaper{
		log:     log.With("job", "SessionReaper"),
		store:   store,
		txns:    txns,
		locker:  locker,
		clock:   clk,
		metrics: metrics,
		opts:    opts,
	}
}

// Start runs RunOnce on the configured cron schedule until ctx is done.
func (r *Reaper) Start(ctx context.Context) error {
	sched, err := cron.Parse(r.opts.Schedule)
	if err != nil {
		return fmt.Errorf("reaper schedule %q: %w", r.opts.Schedule, err)
	}
	c := cron.NewWithLocation(time.UTC)
	var running sync.Mutex
	c.Schedule(sched, cron.FuncJob(func() {
		if !running.TryLock() {
			r.log.Warn("previous reaper pass still running; skipping")
			return
		}
		defer running.Unlock()
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reaper pass failed", "error", err)
		}
	}))
	c.Start()
	r.log.Info("Session reaper scheduled", "schedule", r.opts.Schedule, "dry_run", r.opts.DryRun)
	go func() {
		<-ctx.Done()
		c.Stop()
		r.log.Info("Session reaper stopped")
	}()
	return nil
}

// RunOnce soft-expires inactive sessions and purges sessions expired longer than the
// grace period.
func (r *Reaper) RunOnce(ctx context.Context) (ReapStats, error) {
	now := r.clock.Now().UTC()
	ctx, span := observability.Tracer().Start(ctx, "reaper.run_once")
	defer span.End()

	var stats ReapStats
	var mu sync.Mutex
	add := func(f func(*ReapStats)) {
		mu.Lock()
		f(&stats)
		mu.Unlock()
	}

	staleCutoff := now.Add(-r.opts.InactivityTTL)
	if err := r.sweep(ctx, pass{
		name: "expire",
		list: func(ctx context.Context, after domainagg.SweepCursor) ([]conversation.SessionSummary, error) {
			return r.store.ListStale(ctx, staleCutoff, after, r.opts.BatchSize)
		},
		position: func(s conversation.SessionSummary) time.Time { return s.UpdatedAt },
		act: func(ctx context.Context, s conversation.SessionSummary) error {
			return r.store.MarkExpired(ctx, s.ID, s.Revision, now)
		},
		done: func(st *ReapStats) { st.Expired++ },
	}, add); err != nil {
		return stats, err
	}

	purgeCutoff := now.Add(-r.opts.GraceTTL)
	var purged []string
	if err := r.sweep(ctx, pass{
		name: "purge",
		list: func(ctx context.Context, after domainagg.SweepCursor) ([]conversation.SessionSummary, error) {
			return r.store.ListExpired(ctx, purgeCutoff, after, r.opts.BatchSize)
		},
		position: func(s conversation.SessionSummary) time.Time {
			if s.ExpiredAt == nil {
				return time.Time{}
			}
			return *s.ExpiredAt
		},
		act: func(ctx context.Context, s conversation.SessionSummary) error {
			if err := r.store.Purge(ctx, s.ID, s.Revision); err != nil {
				return err
			}
			mu.Lock()
			purged = append(purged, s.ID)
			mu.Unlock()
			return nil
		},
		done: func(st *ReapStats) { st.Purged++ },
	}, add); err != nil {
		return stats, err
	}

	if len(purged) > 0 && r.txns != nil {
		if err := r.txns.DeleteBySessionIDs(ctx, nil, purged); err != nil {
			r.log.Warn("could not delete generation records of purged sessions", "sessions", len(purged), "error", err)
		}
	}

	r.metrics.AddReaper("expired", stats.Expired)
	r.metrics.AddReaper("purged", stats.Purged)
	r.metrics.AddReaper("skipped_busy", stats.SkippedBusy)
	r.metrics.AddReaper("failed", stats.Failed)
	r.log.Info("reaper pass finished", "stats", stats.String(), "dry_run", r.opts.DryRun)
	return stats, nil
}

// pass is one sweep over a listing: expire or purge.
type pass struct {
	name     string
	list     func(ctx context.Context, after domainagg.SweepCursor) ([]conversation.SessionSummary, error)
	position func(s conversation.SessionSummary) time.Time
	act      func(ctx context.Context, s conversation.SessionSummary) error
	done     func(*ReapStats)
}

// sweep walks the listing batch by batch with a keyset cursor, so rows skipped as busy
// or conflicted never hide the ones behind them.
func (r *Reaper) sweep(ctx context.Context, p pass, add func(func(*ReapStats))) error {
	var after domainagg.SweepCursor
	for batch := 0; batch < maxBatches; batch++ {
		rows, err := p.list(ctx, after)
		if err != nil {
			return fmt.Errorf("reaper %s: list: %w", p.name, err)
		}
		if len(rows) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Concurrency)
		for _, s := range rows {
			s := s
			g.Go(func() error {
				r.handle(gctx, s, p, add)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(rows) < r.opts.BatchSize {
			return nil
		}
		last := rows[len(rows)-1]
		after = domainagg.SweepCursor{At: p.position(last), ID: last.ID}
	}
	r.log.Warn("reaper pass hit its batch limit", "action", p.name, "batches", maxBatches)
	return nil
}

// handle acts on one session while holding its turn lock, so no turn can start
// between the busy check and the write.
func (r *Reaper) handle(ctx context.Context, s conversation.SessionSummary, p pass, add func(func(*ReapStats))) {
	release, ok, err := r.locker.TryLock(ctx, locks.TurnKey(s.ID))
	if err != nil {
		r.log.Warn("session lock unavailable", "session_id", s.ID, "error", err)
		add(func(st *ReapStats) { st.Failed++ })
		return
	}
	if !ok {
		add(func(st *ReapStats) { st.SkippedBusy++ })
		return
	}
	defer release()

	generating, err := r.locker.IsHeld(ctx, locks.GenerationKey(s.ID))
	if err != nil {
		r.log.Warn("lock check failed", "session_id", s.ID, "error", err)
		add(func(st *ReapStats) { st.Failed++ })
		return
	}
	if generating {
		add(func(st *ReapStats) { st.SkippedBusy++ })
		return
	}
	if r.opts.DryRun {
		r.log.Info("[dry-run] would "+p.name+" session", "session_id", s.ID, "updated_at", s.UpdatedAt)
		add(p.done)
		return
	}
	switch err := p.act(ctx, s); {
	case err == nil:
		add(p.done)
	case domainagg.IsCode(err, domainagg.CodeConflict):
		// Touched since it was listed; the next pass looks at it again.
		add(func(st *ReapStats) { st.Conflicts++ })
	default:
		r.log.Warn("reaper action failed", "action", p.name, "session_id", s.ID, "error", err)
		add(func(st *ReapStats) { st.Failed++ })
	}
}
