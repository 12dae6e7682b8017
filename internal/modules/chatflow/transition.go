package chatflow

import (
	"fmt"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/modules/outline"
)

type Intent string

const (
	// IntentUserMessage is free text from the user, before the model is called.
	IntentUserMessage Intent = "user_message"
	// IntentAssistantReply carries the gateway outcome for the same turn.
	IntentAssistantReply Intent = "assistant_reply"
	IntentConfirm        Intent = "confirm"
	IntentDraftEdit      Intent = "draft_edit"
	IntentGenerationDone Intent = "generation_done"
)

type Cause string

const (
	CauseUserMessage        Cause = "user_message"
	CauseEditReopened       Cause = "edit_reopened_proposal"
	CauseStructureParsed    Cause = "structure_parsed"
	CausePlainReply         Cause = "plain_reply"
	CauseAIUnavailable      Cause = "ai_unavailable"
	CauseConfirmed          Cause = "confirmed"
	CauseCreateRequested    Cause = "create_requested"
	CauseDraftEdited        Cause = "draft_edited"
	CauseGenerationComplete Cause = "generation_complete"
	CauseGenerationFailed   Cause = "generation_failed"
)

type TransitionInput struct {
	Intent   Intent
	HasDraft bool
	// Parse is set for IntentAssistantReply when the gateway answered.
	Parse               *outline.Outcome
	GatewayFailed       bool
	GenerationSucceeded bool
}

type Decision struct {
	From  conversation.Stage
	To    conversation.Stage
	Cause Cause
}

// Transition returns the next stage. It has no side effects.
func Transition(from conversation.Stage, in TransitionInput) (conversation.Stage, error) {
	d, err := Decide(from, in)
	if err != nil {
		return from, err
	}
	return d.To, nil
}

// Decide is Transition plus the cause that gets logged and recorded.
func Decide(from conversation.Stage, in TransitionInput) (Decision, error) {
	const op = "ConversationFlow.Transition"
	if !from.Valid() {
		return Decision{}, domainagg.NewError(domainagg.CodeInvariantViolation, op, "unknown stage "+string(from), nil)
	}
	to := func(stage conversation.Stage, cause Cause) (Decision, error) {
		return Decision{From: from, To: stage, Cause: cause}, nil
	}

	if from == conversation.StageGenerating {
		if in.Intent != IntentGenerationDone {
			return Decision{}, domainagg.NewError(domainagg.CodeGenerationInProgress, op, "course generation is in progress", nil)
		}
		if in.GenerationSucceeded {
			return to(conversation.StageComplete, CauseGenerationComplete)
		}
		return to(conversation.StageFailed, CauseGenerationFailed)
	}

	switch in.Intent {
	case IntentGenerationDone:
		return Decision{}, domainagg.NewError(domainagg.CodeInvariantViolation, op, "generation result outside of generating stage", nil)

	case IntentConfirm:
		switch {
		case from == conversation.StageStructureProposed && in.HasDraft:
			return to(conversation.StageAwaitingConfirmation, CauseConfirmed)
		case from == conversation.StageAwaitingConfirmation && in.HasDraft:
			return to(conversation.StageGenerating, CauseCreateRequested)
		case from == conversation.StageFailed && in.HasDraft:
			return to(conversation.StageGenerating, CauseCreateRequested)
		case from == conversation.StageComplete:
			return Decision{}, domainagg.NewError(domainagg.CodeValidation, op, "session already complete", nil)
		}
		return Decision{}, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("nothing to confirm in stage %s", from), nil)

	case IntentUserMessage:
		switch from {
		case conversation.StageComplete:
			return Decision{}, domainagg.NewError(domainagg.CodeValidation, op, "session already complete", nil)
		case conversation.StageInitial:
			if in.HasDraft {
				return to(conversation.StageStructureProposed, CauseUserMessage)
			}
			return to(conversation.StageGatheringRequirements, CauseUserMessage)
		case conversation.StageAwaitingConfirmation:
			return to(conversation.StageStructureProposed, CauseEditReopened)
		case conversation.StageFailed:
			if in.HasDraft {
				return to(conversation.StageStructureProposed, CauseEditReopened)
			}
			return to(conversation.StageGatheringRequirements, CauseUserMessage)
		}
		return to(from, CauseUserMessage)

	case IntentAssistantReply:
		if in.GatewayFailed {
			if in.HasDraft {
				return to(from, CauseAIUnavailable)
			}
			return to(conversation.StageFailed, CauseAIUnavailable)
		}
		if in.Parse != nil && in.Parse.OK {
			return to(conversation.StageStructureProposed, CauseStructureParsed)
		}
		return to(from, CausePlainReply)

	case IntentDraftEdit:
		if from == conversation.StageComplete {
			return Decision{}, domainagg.NewError(domainagg.CodeValidation, op, "session already complete", nil)
		}
		return to(conversation.StageStructureProposed, CauseDraftEdited)
	}
	return Decision{}, domainagg.NewError(domainagg.CodeValidation, op, "unknown intent "+string(in.Intent), nil)
}
