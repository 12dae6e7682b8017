package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/domain/learning"
	"github.com/yungbote/coursebuilder-backend/internal/http/response"
	"github.com/yungbote/coursebuilder-backend/internal/modules/chatflow"
	"github.com/yungbote/coursebuilder-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursebuilder-backend/internal/platform/locks"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

// DraftEditor is satisfied by *chatflow.Engine.
type DraftEditor interface {
	EditDraft(ctx context.Context, req chatflow.EditDraftRequest) (*conversation.Session, error)
}

// SessionTracker is satisfied by *chatflow.AutoSaver.
type SessionTracker interface {
	Untrack(id string)
	TakeStale(id string) (chatflow.StaleSignal, bool)
}

// CourseReader is satisfied by *generation.CourseReader.
type CourseReader interface {
	SessionCourse(ctx context.Context, sessionID string) (*learning.Course, error)
}

type SessionHandlerDeps struct {
	Store   domainagg.SessionStore
	Locker  locks.Locker
	Editor  DraftEditor
	Tracker SessionTracker
	Courses CourseReader
}

type SessionHandler struct {
	log  *logger.Logger
	deps SessionHandlerDeps
}

func NewSessionHandler(log *logger.Logger, deps SessionHandlerDeps) *SessionHandler {
	return &SessionHandler{
		log:  log.With("handler", "SessionHandler"),
		deps: deps,
	}
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	owner := ctxutil.OwnerID(c.Request.Context())
	if owner == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	sessions, err := h.deps.Store.ListByOwner(c.Request.Context(), owner, limit, offset)
	if err != nil {
		h.log.Error("ListSessions failed", "error", err, "owner_id", owner)
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"sessions": sessions})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}
	body := gin.H{"session": sess}
	if sess.Stage == conversation.StageComplete && h.deps.Courses != nil {
		course, err := h.deps.Courses.SessionCourse(c.Request.Context(), sess.ID)
		if err != nil {
			h.log.Error("GetSession course lookup failed", "error", err, "session_id", sess.ID)
			response.RespondDomainError(c, domainagg.WithCorrelation(
				domainagg.NewError(domainagg.CodeInternal, "Session.Get", "course unavailable", err), ctxutil.CorrelationID(c.Request.Context())))
			return
		}
		if course != nil {
			body["course"] = course
		}
	}
	if h.deps.Tracker != nil {
		if sig, ok := h.deps.Tracker.TakeStale(sess.ID); ok {
			body["stale"] = sig
		}
	}
	response.RespondOK(c, body)
}

func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sess, ok := h.owned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	release, locked, err := h.deps.Locker.TryLock(ctx, locks.TurnKey(sess.ID))
	if err != nil {
		response.RespondDomainError(c, domainagg.WithCorrelation(
			domainagg.NewError(domainagg.CodeInternal, "Session.Delete", "session lock unavailable", err), ctxutil.CorrelationID(ctx)))
		return
	}
	if !locked {
		response.RespondDomainError(c, domainagg.NewError(domainagg.CodeBusy, "Session.Delete", "a turn for this session is in progress", nil))
		return
	}
	defer release()
	if busy, _ := h.deps.Locker.IsHeld(ctx, locks.GenerationKey(sess.ID)); busy {
		response.RespondDomainError(c, domainagg.NewError(domainagg.CodeGenerationInProgress, "Session.Delete", "course generation is in progress", nil))
		return
	}
	if err := h.deps.Store.Delete(ctx, sess.ID); err != nil {
		h.log.Error("DeleteSession failed", "error", err, "session_id", sess.ID)
		response.RespondDomainError(c, err)
		return
	}
	if h.deps.Tracker != nil {
		h.deps.Tracker.Untrack(sess.ID)
	}
	c.Status(http.StatusNoContent)
}

type draftBody struct {
	Revision       *int64          `json:"revision"`
	StructureDraft json.RawMessage `json:"structure_draft"`
}

func (h *SessionHandler) PutDraft(c *gin.Context) {
	owner := ctxutil.OwnerID(c.Request.Context())
	if owner == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var body draftBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if body.Revision == nil || len(body.StructureDraft) == 0 {
		response.RespondDomainError(c, domainagg.NewError(domainagg.CodeValidation, "Session.PutDraft", "revision and structure_draft are required", nil))
		return
	}
	sess, err := h.deps.Editor.EditDraft(c.Request.Context(), chatflow.EditDraftRequest{
		SessionID: c.Param("id"),
		OwnerID:   owner,
		Revision:  *body.Revision,
		Draft:     body.StructureDraft,
	})
	if err != nil {
		h.log.Warn("PutDraft failed", "error", err, "session_id", c.Param("id"))
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session": sess})
}

// owned loads the session named in the path and answers not_found for other owners.
func (h *SessionHandler) owned(c *gin.Context) (*conversation.Session, bool) {
	owner := ctxutil.OwnerID(c.Request.Context())
	if owner == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return nil, false
	}
	sess, err := h.deps.Store.Load(c.Request.Context(), c.Param("id"))
	if err == nil && sess.OwnerID != owner {
		err = domainagg.NewError(domainagg.CodeNotFound, "Session.Load", "session not found", nil)
	}
	if err != nil {
		response.RespondDomainError(c, err)
		return nil, false
	}
	return sess, true
}
