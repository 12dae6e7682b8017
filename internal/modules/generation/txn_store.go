package generation

import (
	"context"

	convrepo "github.com/yungbote/coursebuilder-backend/internal/data/repos/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
)

// TransactionStore keeps one GenerationTransaction per idempotency key.
type TransactionStore interface {
	// Get returns nil, nil when the key has no record.
	Get(ctx context.Context, key string) (*conversation.GenerationTransaction, error)
	LatestBySession(ctx context.Context, sessionID string) (*conversation.GenerationTransaction, error)
	Put(ctx context.Context, rec *conversation.GenerationTransaction) error
}

type gormTransactionStore struct {
	repo convrepo.GenerationTxnRepo
}

func NewGormTransactionStore(repo convrepo.GenerationTxnRepo) TransactionStore {
	return &gormTransactionStore{repo: repo}
}

func (s *gormTransactionStore) Get(ctx context.Context, key string) (*conversation.GenerationTransaction, error) {
	return s.repo.Get(ctx, nil, key)
}

func (s *gormTransactionStore) LatestBySession(ctx context.Context, sessionID string) (*conversation.GenerationTransaction, error) {
	return s.repo.GetLatestBySessionID(ctx, nil, sessionID)
}

func (s *gormTransactionStore) Put(ctx context.Context, rec *conversation.GenerationTransaction) error {
	return s.repo.Upsert(ctx, nil, rec)
}
