package conversation

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

type GenerationTxnRepo interface {
	// Get returns nil, nil when no record exists for key.
	Get(ctx context.Context, tx *gorm.DB, key string) (*types.GenerationTransaction, error)
	GetLatestBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*types.GenerationTransaction, error)
	// Upsert inserts or fully overwrites the record for its idempotency key.
	Upsert(ctx context.Context, tx *gorm.DB, rec *types.GenerationTransaction) error
	DeleteBySessionIDs(ctx context.Context, tx *gorm.DB, sessionIDs []string) error
}

type generationTxnRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationTxnRepo(db *gorm.DB, baseLog *logger.Logger) GenerationTxnRepo {
	return &generationTxnRepo{db: db, log: baseLog.With("repo", "GenerationTxnRepo")}
}

func (r *generationTxnRepo) Get(ctx context.Context, tx *gorm.DB, key string) (*types.GenerationTransaction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rec types.GenerationTransaction
	err := transaction.WithContext(ctx).Where("idempotency_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *generationTxnRepo) GetLatestBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*types.GenerationTransaction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rec types.GenerationTransaction
	err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("updated_at DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *generationTxnRepo) Upsert(ctx context.Context, tx *gorm.DB, rec *types.GenerationTransaction) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			UpdateAll: true,
		}).
		Create(rec).Error
}

func (r *generationTxnRepo) DeleteBySessionIDs(ctx context.Context, tx *gorm.DB, sessionIDs []string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(sessionIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("session_id IN ?", sessionIDs).
		Delete(&types.GenerationTransaction{}).Error
}
