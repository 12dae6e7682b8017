package aggregates

import (
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder-backend/internal/platform/dbctx"
)

// CASGuard holds the compare-and-swap helpers for revisioned rows.
type CASGuard struct {
	db *gorm.DB
}

func NewCASGuard(db *gorm.DB) CASGuard {
	return CASGuard{db: db}
}

func (g CASGuard) baseDB(dbc dbctx.Context) (*gorm.DB, error) {
	if db := dbc.DB(g.db); db != nil {
		return db, nil
	}
	return nil, ValidationError("missing db transaction context")
}

// UpdateByRevision applies updates only when id and revision still match.
func (g CASGuard) UpdateByRevision(dbc dbctx.Context, table, id string, expected int64, updates map[string]any) (bool, error) {
	db, err := g.baseDB(dbc)
	if err != nil {
		return false, err
	}
	table = strings.TrimSpace(table)
	if table == "" || strings.TrimSpace(id) == "" {
		return false, ValidationError("table and id are required for UpdateByRevision")
	}
	if expected < 1 {
		return false, ValidationError("expected revision must be >= 1")
	}
	res := db.Table(table).
		Where("id = ? AND revision = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteByRevision deletes a row only when id, revision and status still match.
func (g CASGuard) DeleteByRevision(dbc dbctx.Context, model any, id string, expected int64, status string) (bool, error) {
	db, err := g.baseDB(dbc)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(id) == "" {
		return false, ValidationError("id is required for DeleteByRevision")
	}
	q := db.Where("id = ? AND revision = ?", id, expected)
	if status = strings.TrimSpace(status); status != "" {
		q = q.Where("status = ?", status)
	}
	res := q.Delete(model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RequireCASSuccess converts a failed compare-and-swap into a typed conflict error.
func RequireCASSuccess(ok bool, message string) error {
	if ok {
		return nil
	}
	return ConflictError(strings.TrimSpace(message))
}

func RequireRevisionMatch(current, expected int64) error {
	if expected < 1 {
		return ValidationError("revision must be >= 1")
	}
	if current != expected {
		return ConflictError("revision mismatch")
	}
	return nil
}
