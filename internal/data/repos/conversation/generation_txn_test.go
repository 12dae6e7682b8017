package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/coursebuilder-backend/internal/data/repos/testutil"
	types "github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
)

func TestGenerationTxnRepoUpsertOverwrites(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewGenerationTxnRepo(db, testutil.Logger(t))

	if rec, err := repo.Get(ctx, nil, "missing"); err != nil || rec != nil {
		t.Fatalf("Get missing: want=nil,nil got=%v,%v", rec, err)
	}

	now := time.Now().UTC()
	rec := &types.GenerationTransaction{
		IdempotencyKey: "s1:abc",
		SessionID:      "s1",
		OwnerID:        "o1",
		Status:         string(types.GenerationFailed),
		Attempt:        1,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.Upsert(ctx, nil, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rec.Status = string(types.GenerationComplete)
	rec.Attempt = 2
	rec.Result = []byte(`{"course_id":"c1"}`)
	if err := repo.Upsert(ctx, nil, rec); err != nil {
		t.Fatalf("Upsert overwrite: %v", err)
	}

	got, err := repo.Get(ctx, nil, "s1:abc")
	if err != nil || got == nil {
		t.Fatalf("Get: err=%v rec=%v", err, got)
	}
	if got.Status != string(types.GenerationComplete) || got.Attempt != 2 {
		t.Fatalf("overwrite: want=complete/2 got=%s/%d", got.Status, got.Attempt)
	}
	latest, err := repo.GetLatestBySessionID(ctx, nil, "s1")
	if err != nil || latest == nil || latest.IdempotencyKey != "s1:abc" {
		t.Fatalf("GetLatestBySessionID: err=%v rec=%v", err, latest)
	}

	if err := repo.DeleteBySessionIDs(ctx, nil, []string{"s1"}); err != nil {
		t.Fatalf("DeleteBySessionIDs: %v", err)
	}
	if got, _ := repo.Get(ctx, nil, "s1:abc"); got != nil {
		t.Fatalf("record should be gone")
	}
}
