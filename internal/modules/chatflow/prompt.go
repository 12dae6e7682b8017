package chatflow

import (
	"encoding/json"
	"strings"

	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/modules/outline"
)

const basePrompt = `You are a course design assistant. Talk with the user to understand the topic, audience, depth and length of the course they want, and help them shape a clear outline.

Reply conversationally. Ask short follow-up questions when requirements are missing.

When you propose a course structure, or change one, include the complete structure as JSON between the markers ` + outline.StartMarker + ` and ` + outline.EndMarker + `, with nothing else between them:

` + outline.StartMarker + `
{"title": "...", "description": "...", "sections": [{"title": "...", "description": "...", "lessons": [{"title": "...", "content": "..."}]}]}
` + outline.EndMarker + `

Every section needs a title and a lessons array. Every lesson needs a title. Keep the prose outside the markers short and tell the user they can confirm the outline or ask for changes.`

// SystemPrompt builds the system instruction for the current stage. An existing draft
// is included so edits start from what the user last saw.
func SystemPrompt(stage conversation.Stage, draft *conversation.CourseStructureDraft) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	switch stage {
	case conversation.StageInitial, conversation.StageGatheringRequirements:
		b.WriteString("\n\nNo outline has been agreed yet. Propose one as soon as you know enough.")
	case conversation.StageStructureProposed, conversation.StageAwaitingConfirmation, conversation.StageFailed:
		b.WriteString("\n\nThe user is reviewing the outline. Apply their requested changes and resend the full structure.")
	}
	if draft != nil {
		if raw, err := json.Marshal(draft); err == nil {
			b.WriteString("\n\nCurrent outline:\n")
			b.Write(raw)
		}
	}
	return b.String()
}

// fallbackReply is shown when the model reply has no prose of its own.
func fallbackReply(stage conversation.Stage, hasDraft bool) string {
	switch stage {
	case conversation.StageStructureProposed:
		if hasDraft {
			return "Here is the proposed course outline. Confirm it or tell me what to change."
		}
	case conversation.StageAwaitingConfirmation:
		return "Confirm again to create the course, or tell me what to change."
	case conversation.StageFailed:
		return "Something went wrong. Send a message to continue."
	}
	return "Could you tell me a bit more about the course you have in mind?"
}

func confirmReply(stage conversation.Stage) string {
	switch stage {
	case conversation.StageAwaitingConfirmation:
		return "Great. Confirm once more and I will create the course from this outline."
	case conversation.StageComplete:
		return "Your course has been created."
	case conversation.StageFailed:
		return "Creating the course failed and nothing was kept. You can confirm again to retry."
	}
	return ""
}
