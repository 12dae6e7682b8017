package aggregates

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursebuilder-backend/internal/platform/dbctx"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	titleMaxRunes    = 200
)

var summaryColumns = []string{
	"id", "owner_id", "title", "stage", "status", "revision", "message_count", "updated_at", "expired_at",
}

type SessionStoreDeps struct {
	Base BaseDeps
	// InactivityTTL sets expires_at = updated_at + TTL on every write.
	InactivityTTL time.Duration
}

type sessionStore struct {
	deps SessionStoreDeps
}

func NewSessionStore(deps SessionStoreDeps) domainagg.SessionStore {
	deps.Base = deps.Base.withDefaults()
	deps.Base.Log = deps.Base.Log.With("aggregate", "SessionStore")
	if deps.InactivityTTL <= 0 {
		deps.InactivityTTL = 30 * 24 * time.Hour
	}
	return &sessionStore{deps: deps}
}

func (s *sessionStore) Contract() domainagg.Contract {
	return domainagg.SessionStoreContract
}

func (s *sessionStore) now() time.Time {
	return s.deps.Base.Clock.Now().UTC()
}

func (s *sessionStore) Create(ctx context.Context, ownerID string, in domainagg.CreateSessionInput) (*conversation.Session, error) {
	const op = "Session.Create"
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "owner_id is required", nil)
	}
	stage := in.Stage
	if stage == "" {
		stage = conversation.StageInitial
	}
	if !stage.Valid() {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "unknown stage "+string(stage), nil)
	}
	if err := validateMessages(in.Messages); err != nil {
		return nil, MapError(op, err)
	}

	now := s.now()
	sess := &conversation.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     clampTitle(in.Title),
		Messages:  append([]conversation.Message{}, in.Messages...),
		Stage:     stage,
		Revision:  1,
		Status:    conversation.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.deps.InactivityTTL),
	}
	rec, err := sess.ToRecord()
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeInternal, op, "encode session", err)
	}
	err = executeWrite(ctx, s.deps.Base, op, func(dbc dbctx.Context) error {
		return dbc.DB(s.deps.Base.DB).Create(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *sessionStore) Load(ctx context.Context, id string) (*conversation.Session, error) {
	const op = "Session.Load"
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "session id is required", nil)
	}
	var rec conversation.SessionRecord
	err := executeRead(ctx, s.deps.Base, op, func(db *gorm.DB) error {
		return db.Where("id = ?", id).Take(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	out, err := rec.ToSession()
	if err != nil {
		return nil, domainagg.WithCorrelation(domainagg.NewError(domainagg.CodeStorage, op, "decode session row", err), ctxutil.CorrelationID(ctx))
	}
	return out, nil
}

func (s *sessionStore) Save(ctx context.Context, sess *conversation.Session) error {
	const op = "Session.Save"
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return domainagg.NewError(domainagg.CodeValidation, op, "session with id is required", nil)
	}
	if !sess.Stage.Valid() {
		return domainagg.NewError(domainagg.CodeValidation, op, "unknown stage "+string(sess.Stage), nil)
	}
	if err := validateMessages(sess.Messages); err != nil {
		return MapError(op, err)
	}
	sess.Title = clampTitle(sess.Title)
	rec, err := sess.ToRecord()
	if err != nil {
		return domainagg.NewError(domainagg.CodeInternal, op, "encode session", err)
	}

	now := s.now()
	expiresAt := now.Add(s.deps.InactivityTTL)
	err = executeWrite(ctx, s.deps.Base, op, func(dbc dbctx.Context) error {
		var cur conversation.SessionRecord
		if err := dbc.DB(s.deps.Base.DB).Where("id = ?", sess.ID).Take(&cur).Error; err != nil {
			return err
		}
		if err := RequireRevisionMatch(cur.Revision, sess.Revision); err != nil {
			return err
		}
		if err := requireHistoryExtends(cur.Messages, sess.Messages); err != nil {
			return err
		}
		ok, err := s.deps.Base.CASGuard.UpdateByRevision(dbc, rec.TableName(), sess.ID, sess.Revision, map[string]any{
			"title":           rec.Title,
			"stage":           rec.Stage,
			"status":          rec.Status,
			"messages":        rec.Messages,
			"message_count":   rec.MessageCount,
			"structure_draft": rec.StructureDraft,
			"expired_at":      rec.ExpiredAt,
			"revision":        sess.Revision + 1,
			"updated_at":      now,
			"expires_at":      expiresAt,
		})
		if err != nil {
			return err
		}
		return RequireCASSuccess(ok, "session revision moved during save")
	})
	if err != nil {
		return err
	}
	sess.Revision++
	sess.UpdatedAt = now
	sess.ExpiresAt = expiresAt
	return nil
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	const op = "Session.Delete"
	id = strings.TrimSpace(id)
	if id == "" {
		return domainagg.NewError(domainagg.CodeValidation, op, "session id is required", nil)
	}
	return executeWrite(ctx, s.deps.Base, op, func(dbc dbctx.Context) error {
		return dbc.DB(s.deps.Base.DB).Where("id = ?", id).Delete(&conversation.SessionRecord{}).Error
	})
}

func (s *sessionStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]conversation.SessionSummary, error) {
	const op = "Session.ListByOwner"
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "owner_id is required", nil)
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	var rows []conversation.SessionRecord
	err := executeRead(ctx, s.deps.Base, op, func(db *gorm.DB) error {
		return db.Model(&conversation.SessionRecord{}).
			Select(summaryColumns).
			Where("owner_id = ?", ownerID).
			Order("updated_at DESC").
			Order("id ASC").
			Limit(limit).
			Offset(offset).
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return summaries(rows), nil
}

func (s *sessionStore) ListStale(ctx context.Context, cutoff time.Time, after domainagg.SweepCursor, limit int) ([]conversation.SessionSummary, error) {
	const op = "Session.ListStale"
	var rows []conversation.SessionRecord
	err := executeRead(ctx, s.deps.Base, op, func(db *gorm.DB) error {
		q := db.Model(&conversation.SessionRecord{}).
			Select(summaryColumns).
			Where("status = ? AND updated_at < ?", string(conversation.StatusActive), cutoff.UTC())
		return afterCursor(q, "updated_at", after).
			Order("updated_at ASC").
			Order("id ASC").
			Limit(clampLimit(limit)).
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return summaries(rows), nil
}

func (s *sessionStore) ListExpired(ctx context.Context, cutoff time.Time, after domainagg.SweepCursor, limit int) ([]conversation.SessionSummary, error) {
	const op = "Session.ListExpired"
	var rows []conversation.SessionRecord
	err := executeRead(ctx, s.deps.Base, op, func(db *gorm.DB) error {
		q := db.Model(&conversation.SessionRecord{}).
			Select(summaryColumns).
			Where("status = ? AND expired_at IS NOT NULL AND expired_at < ?", string(conversation.StatusExpired), cutoff.UTC())
		return afterCursor(q, "expired_at", after).
			Order("expired_at ASC").
			Order("id ASC").
			Limit(clampLimit(limit)).
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return summaries(rows), nil
}

// afterCursor keeps rows strictly after after in (column, id) order.
func afterCursor(q *gorm.DB, column string, after domainagg.SweepCursor) *gorm.DB {
	if after.IsZero() {
		return q
	}
	at := after.At.UTC()
	return q.Where("("+column+" > ? OR ("+column+" = ? AND id > ?))", at, at, after.ID)
}

func (s *sessionStore) MarkExpired(ctx context.Context, id string, revision int64, at time.Time) error {
	const op = "Session.MarkExpired"
	at = at.UTC()
	return executeWrite(ctx, s.deps.Base, op, func(dbc dbctx.Context) error {
		ok, err := s.deps.Base.CASGuard.UpdateByRevision(dbc, conversation.SessionRecord{}.TableName(), id, revision, map[string]any{
			"status":     string(conversation.StatusExpired),
			"expired_at": at,
			"revision":   revision + 1,
		})
		if err != nil {
			return err
		}
		return RequireCASSuccess(ok, "session changed before expiry")
	})
}

func (s *sessionStore) Purge(ctx context.Context, id string, revision int64) error {
	const op = "Session.Purge"
	return executeWrite(ctx, s.deps.Base, op, func(dbc dbctx.Context) error {
		ok, err := s.deps.Base.CASGuard.DeleteByRevision(dbc, &conversation.SessionRecord{}, id, revision, string(conversation.StatusExpired))
		if err != nil {
			return err
		}
		return RequireCASSuccess(ok, "session changed before purge")
	})
}

func validateMessages(msgs []conversation.Message) error {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return ValidationError("message " + strconv.Itoa(i) + " has unknown role " + string(m.Role))
		}
	}
	return nil
}

// requireHistoryExtends enforces the append-only message log: the stored list must be
// a prefix of the incoming one.
func requireHistoryExtends(storedRaw []byte, next []conversation.Message) error {
	var stored []conversation.Message
	if len(storedRaw) > 0 {
		if err := json.Unmarshal(storedRaw, &stored); err != nil {
			return InvariantError("stored messages are not decodable")
		}
	}
	if len(next) < len(stored) {
		return ValidationError("messages cannot be removed from a session")
	}
	for i := range stored {
		a, b := stored[i], next[i]
		if a.Role != b.Role || a.Content != b.Content || !a.Timestamp.Equal(b.Timestamp) {
			return ValidationError("message " + strconv.Itoa(i) + " differs from stored history")
		}
	}
	return nil
}

func summaries(rows []conversation.SessionRecord) []conversation.SessionSummary {
	out := make([]conversation.SessionSummary, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Summary())
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func clampTitle(title string) string {
	title = strings.TrimSpace(title)
	r := []rune(title)
	if len(r) > titleMaxRunes {
		return string(r[:titleMaxRunes])
	}
	return title
}
