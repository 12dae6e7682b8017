package generation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	learningrepo "github.com/yungbote/coursebuilder-backend/internal/data/repos/learning"
	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	types "github.com/yungbote/coursebuilder-backend/internal/domain/learning"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

type EntityFields struct {
	OwnerID     string
	SessionID   string
	Title       string
	Description string
	Content     string
	OrderIndex  int
}

// EntityHost persists content entities one at a time. DeleteEntity must succeed when
// the entity is already gone.
type EntityHost interface {
	CreateEntity(ctx context.Context, entityType conversation.EntityType, parentID string, f EntityFields) (string, error)
	DeleteEntity(ctx context.Context, ref conversation.EntityRef) error
}

type gormEntityHost struct {
	log      *logger.Logger
	courses  learningrepo.CourseRepo
	sections learningrepo.SectionRepo
	lessons  learningrepo.LessonRepo
}

func NewGormEntityHost(log *logger.Logger, courses learningrepo.CourseRepo, sections learningrepo.SectionRepo, lessons learningrepo.LessonRepo) EntityHost {
	return &gormEntityHost{
		log:      log.With("service", "EntityHost"),
		courses:  courses,
		sections: sections,
		lessons:  lessons,
	}
}

func (h *gormEntityHost) CreateEntity(ctx context.Context, entityType conversation.EntityType, parentID string, f EntityFields) (string, error) {
	switch entityType {
	case conversation.EntityCourse:
		rows, err := h.courses.Create(ctx, nil, []*types.Course{{
			OwnerID:     f.OwnerID,
			SessionID:   f.SessionID,
			Title:       f.Title,
			Description: f.Description,
			Status:      types.CourseStatusDraft,
		}})
		if err != nil {
			return "", err
		}
		return rows[0].ID.String(), nil
	case conversation.EntitySection:
		parent, err := uuid.Parse(parentID)
		if err != nil {
			return "", fmt.Errorf("section parent id: %w", err)
		}
		rows, err := h.sections.Create(ctx, nil, []*types.CourseSection{{
			CourseID:    parent,
			OrderIndex:  f.OrderIndex,
			Title:       f.Title,
			Description: f.Description,
		}})
		if err != nil {
			return "", err
		}
		return rows[0].ID.String(), nil
	case conversation.EntityLesson:
		parent, err := uuid.Parse(parentID)
		if err != nil {
			return "", fmt.Errorf("lesson parent id: %w", err)
		}
		rows, err := h.lessons.Create(ctx, nil, []*types.Lesson{{
			SectionID:  parent,
			OrderIndex: f.OrderIndex,
			Title:      f.Title,
			ContentMD:  f.Content,
		}})
		if err != nil {
			return "", err
		}
		return rows[0].ID.String(), nil
	default:
		return "", fmt.Errorf("unknown entity type %q", entityType)
	}
}

// DeleteEntity hard deletes so rolled-back rows are not reachable even unscoped.
func (h *gormEntityHost) DeleteEntity(ctx context.Context, ref conversation.EntityRef) error {
	id, err := uuid.Parse(ref.ID)
	if err != nil {
		return fmt.Errorf("entity id: %w", err)
	}
	ids := []uuid.UUID{id}
	switch ref.Type {
	case conversation.EntityCourse:
		return h.courses.FullDeleteByIDs(ctx, nil, ids)
	case conversation.EntitySection:
		return h.sections.FullDeleteByIDs(ctx, nil, ids)
	case conversation.EntityLesson:
		return h.lessons.FullDeleteByIDs(ctx, nil, ids)
	default:
		return fmt.Errorf("unknown entity type %q", ref.Type)
	}
}

// CourseReader loads what a finished session produced.
type CourseReader struct {
	courses learningrepo.CourseRepo
}

func NewCourseReader(courses learningrepo.CourseRepo) *CourseReader {
	return &CourseReader{courses: courses}
}

// SessionCourse returns the newest course built from sessionID with its sections and
// lessons, or nil when the session has not produced one.
func (r *CourseReader) SessionCourse(ctx context.Context, sessionID string) (*types.Course, error) {
	rows, err := r.courses.GetBySessionID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return r.courses.GetTree(ctx, nil, rows[len(rows)-1].ID)
}
