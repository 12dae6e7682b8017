package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/coursebuilder-backend/internal/http/response"
	"github.com/yungbote/coursebuilder-backend/internal/modules/chatflow"
	"github.com/yungbote/coursebuilder-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

// TurnSubmitter is satisfied by *chatflow.Dispatcher.
type TurnSubmitter interface {
	Submit(ctx context.Context, req chatflow.TurnRequest) (chatflow.TurnResponse, error)
}

type TurnHandler struct {
	log   *logger.Logger
	turns TurnSubmitter
}

func NewTurnHandler(log *logger.Logger, turns TurnSubmitter) *TurnHandler {
	return &TurnHandler{
		log:   log.With("handler", "TurnHandler"),
		turns: turns,
	}
}

type turnBody struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Confirm   bool   `json:"confirm"`
	Cancel    bool   `json:"cancel"`
}

func (h *TurnHandler) PostTurn(c *gin.Context) {
	owner := ctxutil.OwnerID(c.Request.Context())
	if owner == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var body turnBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	resp, err := h.turns.Submit(c.Request.Context(), chatflow.TurnRequest{
		SessionID: body.SessionID,
		OwnerID:   owner,
		Message:   body.Message,
		Confirm:   body.Confirm,
		Cancel:    body.Cancel,
	})
	if err != nil {
		h.log.Warn("turn failed", "session_id", body.SessionID, "owner_id", owner, "error", err)
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, resp)
}
