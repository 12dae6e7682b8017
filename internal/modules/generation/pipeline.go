package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

type Result = conversation.GenerationResult

type GenerateInput struct {
	Draft     *conversation.CourseStructureDraft
	OwnerID   string
	SessionID string
	// IdempotencyKey defaults to IdempotencyKey(SessionID, Draft).
	IdempotencyKey string
}

// IdempotencyKey is "<sessionID>:<sha256 of the canonical draft JSON>".
func IdempotencyKey(sessionID string, draft *conversation.CourseStructureDraft) string {
	return strings.TrimSpace(sessionID) + ":" + draft.Fingerprint()
}

// PartialGenerationFailure reports a run that failed after creating entities and
// was rolled back. RollbackErrors holds deletions that did not succeed.
type PartialGenerationFailure struct {
	Step           int
	EntityType     conversation.EntityType
	RolledBack     int
	RollbackErrors []error
	Cause          error
}

func (e *PartialGenerationFailure) Error() string {
	msg := fmt.Sprintf("generation failed at step %d", e.Step)
	if e.EntityType != "" {
		msg += " (" + string(e.EntityType) + ")"
	}
	msg += fmt.Sprintf(", rolled back %d", e.RolledBack)
	if len(e.RollbackErrors) > 0 {
		msg += fmt.Sprintf(", %d rollback errors", len(e.RollbackErrors))
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *PartialGenerationFailure) Unwrap() error { return e.Cause }

type Deps struct {
	Log     *logger.Logger
	Host    EntityHost
	Txns    TransactionStore
	Clock   clock.Clock
	Metrics *observability.Metrics
	// CacheSize bounds the in-process cache of completed results; 0 uses 256.
	CacheSize int
}

type Pipeline struct {
	deps  Deps
	log   *logger.Logger
	cache *lru.Cache[string, Result]

	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.Host == nil || deps.Txns == nil {
		return nil, fmt.Errorf("generation pipeline requires an entity host and a transaction store")
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	size := deps.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, Result](size)
	if err != nil {
		return nil, fmt.Errorf("generation result cache: %w", err)
	}
	return &Pipeline{
		deps:  deps,
		log:   deps.Log.With("component", "GenerationPipeline"),
		cache: cache,
		keys:  map[string]*keyLock{},
	}, nil
}

// lockKey serializes runs sharing an idempotency key inside this process.
func (p *Pipeline) lockKey(key string) func() {
	p.mu.Lock()
	kl := p.keys[key]
	if kl == nil {
		kl = &keyLock{}
		p.keys[key] = kl
	}
	kl.refs++
	p.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		p.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(p.keys, key)
		}
		p.mu.Unlock()
	}
}

// Run materializes the draft as a course tree exactly once per idempotency key.
func (p *Pipeline) Run(ctx context.Context, in GenerateInput) (Result, error) {
	const op = "Generation.Run"
	if in.Draft == nil || len(in.Draft.Sections) == 0 {
		return Result{}, domainagg.NewError(domainagg.CodeValidation, op, "a validated draft is required", nil)
	}
	if strings.TrimSpace(in.SessionID) == "" || strings.TrimSpace(in.OwnerID) == "" {
		return Result{}, domainagg.NewError(domainagg.CodeValidation, op, "session_id and owner_id are required", nil)
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = IdempotencyKey(in.SessionID, in.Draft)
	}
	log := p.log.With("session_id", in.SessionID, "idempotency_key", key)

	unlock := p.lockKey(key)
	defer unlock()

	if res, ok := p.cache.Get(key); ok {
		log.Debug("generation result served from cache")
		return cloneResult(res), nil
	}
	prev, err := p.deps.Txns.Get(ctx, key)
	if err != nil {
		return Result{}, storageError(ctx, op, "load generation transaction", err)
	}
	if prev != nil && prev.Status == string(conversation.GenerationComplete) {
		var res Result
		if err := json.Unmarshal(prev.Result, &res); err != nil {
			return Result{}, domainagg.WithCorrelation(
				domainagg.NewError(domainagg.CodeInvariantViolation, op, "complete generation has unreadable result", err),
				ctxutil.CorrelationID(ctx),
			)
		}
		p.cache.Add(key, res)
		log.Info("generation already complete; returning recorded result", "course_id", res.CourseID)
		return cloneResult(res), nil
	}

	// From here on a caller going away must not strand half a course.
	ctx = context.WithoutCancel(ctx)
	ctx, span := observability.Tracer().Start(ctx, "generation.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", in.SessionID),
		attribute.Int("entity_count", in.Draft.EntityCount()),
	)

	if prev != nil {
		// An interrupted run, or a failed one whose rollback was incomplete, left refs
		// behind. They go before anything new is created.
		if stale := decodeRefs(prev.CreatedRefs); len(stale) > 0 {
			rolled, left, rbErrs := p.rollback(ctx, stale)
			log.Warn("rolled back entities of an earlier attempt", "status", prev.Status, "rolled_back", rolled, "rollback_errors", len(rbErrs))
			if len(left) > 0 {
				prev.CreatedRefs, _ = json.Marshal(left)
				prev.UpdatedAt = p.now()
				if err := p.deps.Txns.Put(ctx, prev); err != nil {
					log.Error("could not record leftover entities", "error", err)
				}
				return Result{}, domainagg.WithCorrelation(
					domainagg.NewError(domainagg.CodePartialGeneration, op, "entities of an earlier attempt could not be removed, try again", errors.Join(rbErrs...)),
					ctxutil.CorrelationID(ctx),
				)
			}
		}
	}

	run := &runState{
		rec: &conversation.GenerationTransaction{
			IdempotencyKey: key,
			SessionID:      in.SessionID,
			OwnerID:        in.OwnerID,
			Status:         string(conversation.GenerationRunning),
			Attempt:        1,
			StartedAt:      p.now(),
		},
	}
	if prev != nil {
		run.rec.Attempt = prev.Attempt + 1
	}
	if err := p.persist(ctx, run); err != nil {
		return Result{}, storageError(ctx, op, "start generation transaction", err)
	}

	start := p.deps.Clock.Now()
	res, err := p.materialize(ctx, in, run)
	if err == nil {
		run.rec.Status = string(conversation.GenerationComplete)
		run.rec.Result, _ = json.Marshal(res)
		if perr := p.persist(ctx, run); perr != nil {
			// Without a durable complete record a retry would duplicate the tree.
			err = fmt.Errorf("record completion: %w", perr)
			run.failedType = ""
			run.step = len(run.refs) + 1
		}
	}
	if err != nil {
		failure := p.fail(ctx, run, err)
		span.RecordError(failure)
		span.SetStatus(codes.Error, "generation failed")
		p.deps.Metrics.ObserveGeneration(string(conversation.GenerationFailed), failure.RolledBack, p.deps.Clock.Now().Sub(start))
		log.Error("generation failed and was rolled back",
			"step", failure.Step,
			"entity_type", failure.EntityType,
			"rolled_back", failure.RolledBack,
			"rollback_errors", len(failure.RollbackErrors),
			"error", failure.Cause,
		)
		return Result{}, domainagg.WithCorrelation(
			domainagg.NewError(domainagg.CodePartialGeneration, op, "course generation failed and was rolled back", failure),
			ctxutil.CorrelationID(ctx),
		)
	}

	p.cache.Add(key, res)
	p.deps.Metrics.ObserveGeneration(string(conversation.GenerationComplete), 0, p.deps.Clock.Now().Sub(start))
	log.Info("generation complete",
		"course_id", res.CourseID,
		"sections", res.SectionCount,
		"lessons", res.LessonCount,
		"attempt", run.rec.Attempt,
	)
	return cloneResult(res), nil
}

// LatestForSession returns the most recent transaction of a session, or nil.
func (p *Pipeline) LatestForSession(ctx context.Context, sessionID string) (*conversation.GenerationTransaction, error) {
	return p.deps.Txns.LatestBySession(ctx, sessionID)
}

type runState struct {
	rec        *conversation.GenerationTransaction
	refs       []conversation.EntityRef
	step       int
	failedType conversation.EntityType
}

func (p *Pipeline) materialize(ctx context.Context, in GenerateInput, run *runState) (Result, error) {
	d := in.Draft
	create := func(t conversation.EntityType, parentID string, f EntityFields) (string, error) {
		run.step++
		run.failedType = t
		id, err := p.deps.Host.CreateEntity(ctx, t, parentID, f)
		if err != nil {
			return "", err
		}
		run.refs = append(run.refs, conversation.EntityRef{Type: t, ID: id})
		if err := p.persist(ctx, run); err != nil {
			return "", fmt.Errorf("record created %s: %w", t, err)
		}
		run.failedType = ""
		return id, nil
	}

	res := Result{}
	courseID, err := create(conversation.EntityCourse, "", EntityFields{
		OwnerID:     in.OwnerID,
		SessionID:   in.SessionID,
		Title:       d.Title,
		Description: d.Description,
	})
	if err != nil {
		return Result{}, err
	}
	res.CourseID = courseID
	for i, s := range d.Sections {
		sectionID, err := create(conversation.EntitySection, courseID, EntityFields{
			Title:       s.Title,
			Description: s.Description,
			OrderIndex:  i,
		})
		if err != nil {
			return Result{}, err
		}
		res.SectionIDs = append(res.SectionIDs, sectionID)
		for j, l := range s.Lessons {
			lessonID, err := create(conversation.EntityLesson, sectionID, EntityFields{
				Title:      l.Title,
				Content:    l.Content,
				OrderIndex: j,
			})
			if err != nil {
				return Result{}, err
			}
			res.LessonIDs = append(res.LessonIDs, lessonID)
		}
	}
	res.SectionCount = len(res.SectionIDs)
	res.LessonCount = len(res.LessonIDs)
	return res, nil
}

// rollback deletes refs newest first and keeps going past individual failures.
// It returns the refs that could not be deleted.
func (p *Pipeline) rollback(ctx context.Context, refs []conversation.EntityRef) (int, []conversation.EntityRef, []error) {
	rolled := 0
	var left []conversation.EntityRef
	var errs []error
	for i := len(refs) - 1; i >= 0; i-- {
		if err := p.deps.Host.DeleteEntity(ctx, refs[i]); err != nil {
			p.log.Warn("rollback delete failed", "entity_type", refs[i].Type, "entity_id", refs[i].ID, "error", err)
			errs = append(errs, fmt.Errorf("delete %s %s: %w", refs[i].Type, refs[i].ID, err))
			left = append([]conversation.EntityRef{refs[i]}, left...)
			continue
		}
		rolled++
	}
	return rolled, left, errs
}

func (p *Pipeline) fail(ctx context.Context, run *runState, cause error) *PartialGenerationFailure {
	rolled, left, rbErrs := p.rollback(ctx, run.refs)
	failure := &PartialGenerationFailure{
		Step:           run.step,
		EntityType:     run.failedType,
		RolledBack:     rolled,
		RollbackErrors: rbErrs,
		Cause:          cause,
	}
	errText := cause.Error()
	if len(rbErrs) > 0 {
		errText += "; rollback: " + errors.Join(rbErrs...).Error()
	}
	run.rec.Status = string(conversation.GenerationFailed)
	run.rec.Failure, _ = json.Marshal(conversation.GenerationFailure{
		Step:       failure.Step,
		EntityType: failure.EntityType,
		RolledBack: rolled,
		Error:      errText,
	})
	// Refs that could not be deleted stay on the record for a later cleanup.
	run.refs = left
	if err := p.persist(ctx, run); err != nil {
		p.log.Error("could not record failed generation", "idempotency_key", run.rec.IdempotencyKey, "error", err)
	}
	return failure
}

func (p *Pipeline) persist(ctx context.Context, run *runState) error {
	now := p.now()
	refs := run.refs
	if refs == nil {
		refs = []conversation.EntityRef{}
	}
	run.rec.CreatedRefs, _ = json.Marshal(refs)
	run.rec.UpdatedAt = now
	if run.rec.Status != string(conversation.GenerationRunning) {
		run.rec.FinishedAt = &now
	}
	return p.deps.Txns.Put(ctx, run.rec)
}

func (p *Pipeline) now() time.Time { return p.deps.Clock.Now().UTC() }

func decodeRefs(raw []byte) []conversation.EntityRef {
	var refs []conversation.EntityRef
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil
	}
	return refs
}

func cloneResult(r Result) Result {
	r.SectionIDs = append([]string(nil), r.SectionIDs...)
	r.LessonIDs = append([]string(nil), r.LessonIDs...)
	return r
}

func storageError(ctx context.Context, op, msg string, err error) error {
	return domainagg.WithCorrelation(domainagg.NewError(domainagg.CodeStorage, op, msg, err), ctxutil.CorrelationID(ctx))
}
