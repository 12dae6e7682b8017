package chatflow

import (
	"context"
	"fmt"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/platform/locks"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

// TurnHandler runs one turn. *Engine implements it.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error)
}

type DispatcherOptions struct {
	Workers   int
	QueueSize int
}

// Dispatcher runs turns on a fixed worker pool and rejects a turn for a session that
// already has one in flight.
type Dispatcher struct {
	log     *logger.Logger
	handler TurnHandler
	locker  locks.Locker
	workers int
	queue   chan *turnJob
}

type turnJob struct {
	ctx     context.Context
	req     TurnRequest
	release func()
	done    chan turnResult
}

type turnResult struct {
	resp TurnResponse
	err  error
}

func NewDispatcher(log *logger.Logger, handler TurnHandler, locker locks.Locker, opts DispatcherOptions) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	if locker == nil {
		locker = locks.NewRegistry()
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = opts.Workers * 16
	}
	return &Dispatcher{
		log:     log.With("component", "TurnDispatcher"),
		handler: handler,
		locker:  locker,
		workers: opts.Workers,
		queue:   make(chan *turnJob, opts.QueueSize),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info("Starting turn worker pool", "workers", d.workers)
	for i := 0; i < d.workers; i++ {
		go d.runLoop(ctx, i+1)
	}
}

// Submit blocks until the turn finished or ctx is done. A session with a turn in
// flight is rejected with CodeBusy; cancel requests skip the pool.
func (d *Dispatcher) Submit(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	const op = "Dispatcher.Submit"
	if req.Cancel {
		return d.handler.HandleTurn(ctx, req)
	}

	release := func() {}
	if req.SessionID != "" {
		rel, ok, err := d.locker.TryLock(ctx, locks.TurnKey(req.SessionID))
		if err != nil {
			return TurnResponse{}, lockError(ctx, op, err)
		}
		if !ok {
			return TurnResponse{SessionID: req.SessionID}, domainagg.NewError(domainagg.CodeBusy, op, "a turn for this session is already in progress", nil)
		}
		release = rel
	}

	job := &turnJob{ctx: ctx, req: req, release: release, done: make(chan turnResult, 1)}
	select {
	case d.queue <- job:
	case <-ctx.Done():
		release()
		return TurnResponse{}, ctx.Err()
	}

	select {
	case res := <-job.done:
		return res.resp, res.err
	case <-ctx.Done():
		// The worker still owns the job and releases the lock when it ends.
		return TurnResponse{}, ctx.Err()
	}
}

func (d *Dispatcher) runLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			d.log.Info("Turn worker stopped", "worker_id", workerID)
			return
		case job := <-d.queue:
			d.run(workerID, job)
		}
	}
}

// run releases the turn lock before the result is delivered.
func (d *Dispatcher) run(workerID int, job *turnJob) {
	res := d.execute(workerID, job)
	job.release()
	job.done <- res
}

func (d *Dispatcher) execute(workerID int, job *turnJob) (res turnResult) {
	if err := job.ctx.Err(); err != nil {
		return turnResult{err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Turn handler panic",
				"worker_id", workerID,
				"session_id", job.req.SessionID,
				"panic", r,
			)
			res = turnResult{err: domainagg.NewError(domainagg.CodeInternal, "Dispatcher.run", "turn failed unexpectedly", fmt.Errorf("panic: %v", r))}
		}
	}()
	res.resp, res.err = d.handler.HandleTurn(job.ctx, job.req)
	return res
}
