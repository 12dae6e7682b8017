package chatflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/modules/generation"
	"github.com/yungbote/coursebuilder-backend/internal/modules/outline"
	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/aigateway"
	"github.com/yungbote/coursebuilder-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursebuilder-backend/internal/platform/locks"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

const (
	defaultMaxMessageRunes = 8000
	titleRunes             = 80
)

// CauseStorageError marks the best-effort move to failed after a save error.
const CauseStorageError Cause = "storage_error"

// Generator materializes a confirmed draft.
type Generator interface {
	Run(ctx context.Context, in generation.GenerateInput) (generation.Result, error)
	LatestForSession(ctx context.Context, sessionID string) (*conversation.GenerationTransaction, error)
}

// TransitionRecorder observes every applied stage transition.
type TransitionRecorder interface {
	RecordTransition(sessionID string, d Decision)
}

type TransitionRecorderFunc func(sessionID string, d Decision)

func (f TransitionRecorderFunc) RecordTransition(sessionID string, d Decision) { f(sessionID, d) }

type EngineDeps struct {
	Log       *logger.Logger
	Store     domainagg.SessionStore
	Gateway   aigateway.Gateway
	Generator Generator
	Locker    locks.Locker
	AutoSave  *AutoSaver
	Clock     clock.Clock
	Metrics   *observability.Metrics
	Recorder  TransitionRecorder
	// MaxMessageRunes caps one user message; 0 uses 8000.
	MaxMessageRunes int
}

type TurnRequest struct {
	SessionID string
	OwnerID   string
	Message   string
	// Confirm advances the proposal; Message is ignored when set.
	Confirm bool
	// Cancel aborts the pending model call of SessionID.
	Cancel bool
}

type TurnResponse struct {
	SessionID        string                             `json:"session_id"`
	Stage            conversation.Stage                 `json:"stage"`
	Revision         int64                              `json:"revision"`
	AssistantMessage string                             `json:"assistant_message"`
	StructureDraft   *conversation.CourseStructureDraft `json:"structure_draft,omitempty"`
	GenerationResult *generation.Result                 `json:"generation_result,omitempty"`
	ParseReason      string                             `json:"parse_reason,omitempty"`
	Cancelled        bool                               `json:"cancelled,omitempty"`
	// Stale is set when a background save found this session changed elsewhere since
	// the client last saw it.
	Stale *StaleSignal `json:"stale,omitempty"`
}

type EditDraftRequest struct {
	SessionID string
	OwnerID   string
	Revision  int64
	Draft     json.RawMessage
}

// Engine runs conversation turns against one session at a time. Callers serialize
// turns per session (see Dispatcher).
type Engine struct {
	deps EngineDeps
	log  *logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
}

type pendingCall struct {
	cancel context.CancelFunc
}

func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Store == nil || deps.Gateway == nil || deps.Generator == nil || deps.Locker == nil {
		return nil, fmt.Errorf("chatflow engine requires a store, a gateway, a generator and a locker")
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.MaxMessageRunes <= 0 {
		deps.MaxMessageRunes = defaultMaxMessageRunes
	}
	return &Engine{
		deps:    deps,
		log:     deps.Log.With("component", "ConversationFlowEngine"),
		pending: map[string]*pendingCall{},
	}, nil
}

func (e *Engine) HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	const op = "ConversationFlow.HandleTurn"
	ctx, span := observability.Tracer().Start(ctx, "chatflow.turn")
	defer span.End()

	resp, outcome, err := e.handleTurn(ctx, op, req)
	e.deps.Metrics.IncTurn(outcome)
	span.SetAttributes(
		attribute.String("session_id", resp.SessionID),
		attribute.String("stage", string(resp.Stage)),
		attribute.String("outcome", outcome),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domainagg.CodeOf(err)))
	}
	return resp, err
}

func (e *Engine) handleTurn(ctx context.Context, op string, req TurnRequest) (TurnResponse, string, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.OwnerID == "" {
		return TurnResponse{}, "rejected", domainagg.NewError(domainagg.CodeValidation, op, "owner is required", nil)
	}
	if req.Cancel {
		resp, err := e.cancel(ctx, op, req)
		if err != nil {
			return resp, "rejected", err
		}
		return resp, "cancel", nil
	}

	msg := strings.TrimSpace(req.Message)
	if req.Confirm && req.SessionID == "" {
		return TurnResponse{}, "rejected", domainagg.NewError(domainagg.CodeValidation, op, "session_id is required to confirm", nil)
	}
	if !req.Confirm {
		if msg == "" {
			return TurnResponse{}, "rejected", domainagg.NewError(domainagg.CodeValidation, op, "message is required", nil)
		}
		if utf8.RuneCountInString(msg) > e.deps.MaxMessageRunes {
			return TurnResponse{}, "rejected", domainagg.NewError(domainagg.CodeValidation, op,
				fmt.Sprintf("message exceeds %d characters", e.deps.MaxMessageRunes), nil)
		}
	}

	sess, err := e.loadOrCreate(ctx, op, req)
	if err != nil {
		return TurnResponse{}, "error", err
	}
	if err := e.reconcile(ctx, sess); err != nil {
		return respond(sess), "error", err
	}

	var resp TurnResponse
	if req.Confirm {
		resp, err = e.confirm(ctx, op, sess)
	} else {
		resp, err = e.converse(ctx, op, sess, msg)
	}
	if err == nil && e.deps.AutoSave != nil {
		if sig, ok := e.deps.AutoSave.TakeStale(sess.ID); ok {
			resp.Stale = &sig
		}
	}
	switch {
	case err == nil && resp.Cancelled:
		return resp, "cancelled", nil
	case err == nil:
		return resp, "ok", nil
	case isRejection(err):
		return resp, "rejected", err
	}
	return resp, "error", err
}

// EditDraft replaces the draft of a session directly, bypassing the model.
func (e *Engine) EditDraft(ctx context.Context, req EditDraftRequest) (*conversation.Session, error) {
	const op = "ConversationFlow.EditDraft"
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.SessionID) == "" {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "owner and session id are required", nil)
	}
	release, ok, err := e.deps.Locker.TryLock(ctx, locks.TurnKey(req.SessionID))
	if err != nil {
		return nil, lockError(ctx, op, err)
	}
	if !ok {
		return nil, domainagg.NewError(domainagg.CodeBusy, op, "a turn for this session is in progress", nil)
	}
	defer release()

	sess, err := e.load(ctx, op, req.SessionID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if sess.Revision != req.Revision {
		return nil, domainagg.NewError(domainagg.CodeStaleState, op,
			fmt.Sprintf("session is at revision %d, edit was based on %d", sess.Revision, req.Revision), nil)
	}
	parsed := outline.Parse(string(req.Draft))
	if !parsed.OK {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "invalid structure draft: "+parsed.Reason, nil)
	}
	d, err := Decide(sess.Stage, TransitionInput{Intent: IntentDraftEdit, HasDraft: true})
	if err != nil {
		return nil, err
	}
	sess.Draft = parsed.Draft
	e.updateTitle(sess)
	e.apply(sess, d)

	if e.deps.AutoSave == nil {
		if err := e.persist(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}
	e.deps.AutoSave.Update(sess)
	if err := e.deps.AutoSave.Flush(ctx, sess.ID); err != nil {
		return nil, err
	}
	if saved, ok := e.deps.AutoSave.Get(sess.ID); ok {
		return saved, nil
	}
	return sess, nil
}

func (e *Engine) converse(ctx context.Context, op string, sess *conversation.Session, msg string) (TurnResponse, error) {
	hadDraft := sess.HasDraft()
	d, err := Decide(sess.Stage, TransitionInput{Intent: IntentUserMessage, HasDraft: hadDraft})
	if err != nil {
		return respond(sess), err
	}
	sess.Append(conversation.RoleUser, msg, e.now())
	e.updateTitle(sess)
	e.apply(sess, d)

	callCtx, done := e.track(ctx, sess.ID)
	reply, gwErr := e.deps.Gateway.Send(callCtx, SystemPrompt(sess.Stage, sess.Draft), sess.Messages)
	interrupted := callCtx.Err() != nil
	done()

	if interrupted {
		// The user message stays; the stage is what the message produced.
		e.log.Info("model call cancelled", "session_id", sess.ID)
		if err := e.persist(context.WithoutCancel(ctx), sess); err != nil {
			return respond(sess), err
		}
		resp := respond(sess)
		resp.Cancelled = true
		return resp, nil
	}

	in := TransitionInput{Intent: IntentAssistantReply, HasDraft: hadDraft}
	var parsed outline.Outcome
	if gwErr != nil {
		in.GatewayFailed = true
	} else {
		parsed = outline.Parse(reply)
		in.Parse = &parsed
	}
	d, err = Decide(sess.Stage, in)
	if err != nil {
		return respond(sess), err
	}

	if gwErr != nil {
		e.apply(sess, d)
		e.log.Warn("model unavailable", "session_id", sess.ID, "kind", aigateway.KindOf(gwErr), "error", gwErr)
		if err := e.persist(ctx, sess); err != nil {
			return respond(sess), err
		}
		return respond(sess), domainagg.NewError(domainagg.CodeAIUnavailable, op, "the assistant is unavailable, try again shortly", gwErr)
	}

	if parsed.OK {
		sess.Draft = parsed.Draft
	} else if parsed.Reason != outline.ReasonNoStructure {
		e.log.Info("model reply carried an unusable structure", "session_id", sess.ID, "reason", parsed.Reason, "repairs", parsed.Repairs)
	}
	sess.Append(conversation.RoleAssistant, reply, e.now())
	e.updateTitle(sess)
	e.apply(sess, d)

	if err := e.persist(ctx, sess); err != nil {
		return respond(sess), err
	}
	resp := respond(sess)
	resp.AssistantMessage = strings.TrimSpace(parsed.Prose)
	if resp.AssistantMessage == "" {
		resp.AssistantMessage = fallbackReply(sess.Stage, sess.HasDraft())
	}
	if !parsed.OK {
		resp.ParseReason = parsed.Reason
	}
	return resp, nil
}

func (e *Engine) confirm(ctx context.Context, op string, sess *conversation.Session) (TurnResponse, error) {
	d, err := Decide(sess.Stage, TransitionInput{Intent: IntentConfirm, HasDraft: sess.HasDraft()})
	if err != nil {
		return respond(sess), err
	}
	if d.To != conversation.StageGenerating {
		e.apply(sess, d)
		if err := e.persist(ctx, sess); err != nil {
			return respond(sess), err
		}
		resp := respond(sess)
		resp.AssistantMessage = confirmReply(sess.Stage)
		return resp, nil
	}

	release, ok, err := e.deps.Locker.TryLock(ctx, locks.GenerationKey(sess.ID))
	if err != nil {
		return respond(sess), lockError(ctx, op, err)
	}
	if !ok {
		return respond(sess), domainagg.NewError(domainagg.CodeGenerationInProgress, op, "course generation is in progress", nil)
	}
	defer release()

	e.apply(sess, d)
	if err := e.persist(ctx, sess); err != nil {
		return respond(sess), err
	}

	res, genErr := e.deps.Generator.Run(ctx, generation.GenerateInput{
		Draft:     sess.Draft,
		OwnerID:   sess.OwnerID,
		SessionID: sess.ID,
	})
	d, err = Decide(sess.Stage, TransitionInput{Intent: IntentGenerationDone, GenerationSucceeded: genErr == nil})
	if err != nil {
		return respond(sess), err
	}
	e.apply(sess, d)
	if err := e.persist(context.WithoutCancel(ctx), sess); err != nil {
		return respond(sess), err
	}

	resp := respond(sess)
	resp.AssistantMessage = confirmReply(sess.Stage)
	if genErr != nil {
		return resp, genErr
	}
	resp.GenerationResult = &res
	return resp, nil
}

func (e *Engine) cancel(ctx context.Context, op string, req TurnRequest) (TurnResponse, error) {
	if req.SessionID == "" {
		return TurnResponse{}, domainagg.NewError(domainagg.CodeValidation, op, "session_id is required to cancel", nil)
	}
	sess, err := e.load(ctx, op, req.SessionID, req.OwnerID)
	if err != nil {
		return TurnResponse{}, err
	}
	e.mu.Lock()
	call := e.pending[sess.ID]
	e.mu.Unlock()
	resp := respond(sess)
	if call != nil {
		call.cancel()
		resp.Cancelled = true
		e.log.Info("pending model call cancelled by user", "session_id", sess.ID)
	}
	return resp, nil
}

// reconcile settles a session left in generating by a run that no longer holds its lock.
func (e *Engine) reconcile(ctx context.Context, sess *conversation.Session) error {
	if sess.Stage != conversation.StageGenerating {
		return nil
	}
	held, err := e.deps.Locker.IsHeld(ctx, locks.GenerationKey(sess.ID))
	if err != nil || held {
		return nil
	}
	txn, err := e.deps.Generator.LatestForSession(ctx, sess.ID)
	if err != nil {
		return err
	}
	ok := txn != nil && txn.Status == string(conversation.GenerationComplete)
	d, err := Decide(sess.Stage, TransitionInput{Intent: IntentGenerationDone, GenerationSucceeded: ok})
	if err != nil {
		return err
	}
	e.log.Warn("settling session left in generating", "session_id", sess.ID, "succeeded", ok)
	e.apply(sess, d)
	return e.persist(ctx, sess)
}

func (e *Engine) loadOrCreate(ctx context.Context, op string, req TurnRequest) (*conversation.Session, error) {
	if req.SessionID == "" {
		sess, err := e.deps.Store.Create(ctx, req.OwnerID, domainagg.CreateSessionInput{Stage: conversation.StageInitial})
		if err != nil {
			return nil, err
		}
		e.log.Info("session created", "session_id", sess.ID, "owner_id", req.OwnerID)
		return sess, nil
	}
	sess, err := e.load(ctx, op, req.SessionID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if sess.Status == conversation.StatusExpired {
		// A turn on a soft-expired session brings it back; Save refreshes expires_at.
		sess.Status = conversation.StatusActive
		sess.ExpiredAt = nil
		e.log.Info("expired session reactivated", "session_id", sess.ID)
	}
	return sess, nil
}

func (e *Engine) load(ctx context.Context, op, id, ownerID string) (*conversation.Session, error) {
	sess, err := e.deps.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != strings.TrimSpace(ownerID) {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "session not found", nil)
	}
	return sess, nil
}

// persist saves sess and refreshes its tracked copy. Storage failures move the
// session to failed when that second write still goes through.
func (e *Engine) persist(ctx context.Context, sess *conversation.Session) error {
	err := e.deps.Store.Save(ctx, sess)
	if err == nil {
		if e.deps.AutoSave != nil {
			e.deps.AutoSave.Track(sess)
		}
		return nil
	}
	code := domainagg.CodeOf(err)
	if (code == domainagg.CodeStorage || code == domainagg.CodeInternal) && sess.Stage != conversation.StageFailed {
		from := sess.Stage
		sess.Stage = conversation.StageFailed
		if ferr := e.deps.Store.Save(context.WithoutCancel(ctx), sess); ferr != nil {
			sess.Stage = from
			e.log.Error("could not record failed stage after save error", "session_id", sess.ID, "error", ferr)
		} else {
			e.record(sess.ID, Decision{From: from, To: conversation.StageFailed, Cause: CauseStorageError})
		}
	}
	e.log.Error("session save failed", "session_id", sess.ID, "code", code, "correlation_id", domainagg.CorrelationOf(err), "error", err)
	return err
}

func (e *Engine) apply(sess *conversation.Session, d Decision) {
	sess.Stage = d.To
	e.record(sess.ID, d)
}

func (e *Engine) record(sessionID string, d Decision) {
	e.log.Info("stage transition",
		"session_id", sessionID,
		"from", d.From,
		"to", d.To,
		"cause", d.Cause,
	)
	e.deps.Metrics.IncTransition(string(d.From), string(d.To), string(d.Cause))
	if e.deps.Recorder != nil {
		e.deps.Recorder.RecordTransition(sessionID, d)
	}
}

func (e *Engine) updateTitle(sess *conversation.Session) {
	if sess.Draft != nil && strings.TrimSpace(sess.Draft.Title) != "" {
		sess.Title = sess.Draft.Title
		return
	}
	if strings.TrimSpace(sess.Title) != "" {
		return
	}
	for _, m := range sess.Messages {
		if m.Role == conversation.RoleUser {
			sess.Title = truncateRunes(strings.TrimSpace(m.Content), titleRunes)
			return
		}
	}
}

// track registers a cancellable child context for the model call of sessionID.
func (e *Engine) track(ctx context.Context, sessionID string) (context.Context, func()) {
	callCtx, cancel := context.WithCancel(ctx)
	call := &pendingCall{cancel: cancel}
	e.mu.Lock()
	e.pending[sessionID] = call
	e.mu.Unlock()
	return callCtx, func() {
		e.mu.Lock()
		if e.pending[sessionID] == call {
			delete(e.pending, sessionID)
		}
		e.mu.Unlock()
		cancel()
	}
}

func (e *Engine) now() time.Time { return e.deps.Clock.Now().UTC() }

func respond(sess *conversation.Session) TurnResponse {
	if sess == nil {
		return TurnResponse{}
	}
	return TurnResponse{
		SessionID:      sess.ID,
		Stage:          sess.Stage,
		Revision:       sess.Revision,
		StructureDraft: sess.Draft,
	}
}

func isRejection(err error) bool {
	switch domainagg.CodeOf(err) {
	case domainagg.CodeValidation, domainagg.CodeNotFound, domainagg.CodeBusy,
		domainagg.CodeGenerationInProgress, domainagg.CodeStaleState, domainagg.CodeConflict:
		return true
	}
	return false
}

func lockError(ctx context.Context, op string, err error) error {
	return domainagg.WithCorrelation(domainagg.NewError(domainagg.CodeInternal, op, "session lock unavailable", err), ctxutil.CorrelationID(ctx))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
