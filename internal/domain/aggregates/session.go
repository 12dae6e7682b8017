package aggregates

import (
	"context"
	"time"

	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
)

var SessionStoreContract = Contract{
	Name:             "CourseBuilder.SessionStore",
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyInvariantScoped,
	Notes:            "Owns conversation session persistence with revision compare-and-swap and append-only message history.",
}

// SessionStore persists conversation sessions.
//
// Write failures return *Error with codes:
// CodeValidation, CodeNotFound, CodeConflict, CodeStorage.
type SessionStore interface {
	Aggregate

	Create(ctx context.Context, ownerID string, in CreateSessionInput) (*conversation.Session, error)
	Load(ctx context.Context, id string) (*conversation.Session, error)

	// Save accepts s only when the stored revision still equals s.Revision.
	// On success s.Revision, s.UpdatedAt and s.ExpiresAt reflect the stored row.
	Save(ctx context.Context, s *conversation.Session) error

	// Delete is idempotent.
	Delete(ctx context.Context, id string) error

	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]conversation.SessionSummary, error)

	// ListStale returns active sessions last updated before cutoff, oldest first,
	// starting after the (updated_at, id) position in after.
	ListStale(ctx context.Context, cutoff time.Time, after SweepCursor, limit int) ([]conversation.SessionSummary, error)
	// ListExpired returns expired sessions whose expiry predates cutoff, ordered by
	// (expired_at, id) and starting after the position in after.
	ListExpired(ctx context.Context, cutoff time.Time, after SweepCursor, limit int) ([]conversation.SessionSummary, error)
	// MarkExpired soft-expires a session still at revision.
	MarkExpired(ctx context.Context, id string, revision int64, at time.Time) error
	// Purge hard-deletes an expired session still at revision.
	Purge(ctx context.Context, id string, revision int64) error
}

type CreateSessionInput struct {
	Title    string
	Stage    conversation.Stage
	Messages []conversation.Message
}

// SweepCursor is a keyset position in a sweep listing. The zero value starts at the
// oldest row.
type SweepCursor struct {
	At time.Time
	ID string
}

func (c SweepCursor) IsZero() bool { return c.At.IsZero() && c.ID == "" }
