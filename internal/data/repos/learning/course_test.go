package learning

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/coursebuilder-backend/internal/data/repos/testutil"
	types "github.com/yungbote/coursebuilder-backend/internal/domain/learning"
)

func TestCourseRepo(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewCourseRepo(db, testutil.Logger(t))

	c := &types.Course{OwnerID: "owner-1", SessionID: "sess-1", Title: "course", Status: types.CourseStatusDraft}
	if _, err := repo.Create(ctx, nil, []*types.Course{c}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID == uuid.Nil {
		t.Fatalf("Create should assign an id")
	}
	if rows, err := repo.GetBySessionID(ctx, nil, "sess-1"); err != nil || len(rows) != 1 || rows[0].ID != c.ID {
		t.Fatalf("GetBySessionID: err=%v len=%d", err, len(rows))
	}
	if rows, err := repo.GetBySessionID(ctx, nil, ""); err != nil || len(rows) != 0 {
		t.Fatalf("GetBySessionID empty: err=%v want=0 got=%d", err, len(rows))
	}

	c2 := &types.Course{OwnerID: "owner-1", SessionID: "sess-2", Title: "course 2", Status: types.CourseStatusDraft}
	if _, err := repo.Create(ctx, nil, []*types.Course{c2}); err != nil {
		t.Fatalf("Create c2: %v", err)
	}
	if err := repo.FullDeleteByIDs(ctx, nil, []uuid.UUID{c2.ID}); err != nil {
		t.Fatalf("FullDeleteByIDs: %v", err)
	}
	var n int64
	if err := db.Unscoped().Model(&types.Course{}).Where("id = ?", c2.ID).Count(&n).Error; err != nil || n != 0 {
		t.Fatalf("after FullDeleteByIDs unscoped count: err=%v want=0 got=%d", err, n)
	}
	if rows, err := repo.GetBySessionID(ctx, nil, "sess-2"); err != nil || len(rows) != 0 {
		t.Fatalf("after FullDeleteByIDs GetBySessionID: err=%v want=0 got=%d", err, len(rows))
	}
}

func TestGetTreeOrdersChildren(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	log := testutil.Logger(t)
	courses := NewCourseRepo(db, log)
	sections := NewSectionRepo(db, log)
	lessons := NewLessonRepo(db, log)

	c := &types.Course{OwnerID: "o", Title: "c", Status: types.CourseStatusDraft}
	if _, err := courses.Create(ctx, nil, []*types.Course{c}); err != nil {
		t.Fatalf("Create course: %v", err)
	}
	s1 := &types.CourseSection{CourseID: c.ID, OrderIndex: 1, Title: "second"}
	s0 := &types.CourseSection{CourseID: c.ID, OrderIndex: 0, Title: "first"}
	if _, err := sections.Create(ctx, nil, []*types.CourseSection{s1, s0}); err != nil {
		t.Fatalf("Create sections: %v", err)
	}
	l1 := &types.Lesson{SectionID: s0.ID, OrderIndex: 1, Title: "b"}
	l0 := &types.Lesson{SectionID: s0.ID, OrderIndex: 0, Title: "a"}
	if _, err := lessons.Create(ctx, nil, []*types.Lesson{l1, l0}); err != nil {
		t.Fatalf("Create lessons: %v", err)
	}

	tree, err := courses.GetTree(ctx, nil, c.ID)
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if len(tree.Sections) != 2 || tree.Sections[0].Title != "first" || tree.Sections[1].Title != "second" {
		t.Fatalf("sections: unexpected order %+v", tree.Sections)
	}
	if len(tree.Sections[0].Lessons) != 2 || tree.Sections[0].Lessons[0].Title != "a" {
		t.Fatalf("lessons: unexpected order %+v", tree.Sections[0].Lessons)
	}

	if err := lessons.FullDeleteByIDs(ctx, nil, []uuid.UUID{l0.ID, l1.ID}); err != nil {
		t.Fatalf("delete lessons: %v", err)
	}
	if err := sections.FullDeleteByIDs(ctx, nil, []uuid.UUID{s1.ID}); err != nil {
		t.Fatalf("delete sections: %v", err)
	}
	tree, err = courses.GetTree(ctx, nil, c.ID)
	if err != nil {
		t.Fatalf("GetTree after delete: %v", err)
	}
	if len(tree.Sections) != 1 || len(tree.Sections[0].Lessons) != 0 {
		t.Fatalf("after delete: want 1 section without lessons got %+v", tree.Sections)
	}
}
