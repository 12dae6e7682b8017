package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder-backend/internal/data/repos/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/data/repos/learning"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

type CourseRepo = learning.CourseRepo
type SectionRepo = learning.SectionRepo
type LessonRepo = learning.LessonRepo

type GenerationTxnRepo = conversation.GenerationTxnRepo

// Set groups the row-level repos. Sessions go through the aggregate store instead.
type Set struct {
	Course        CourseRepo
	Section       SectionRepo
	Lesson        LessonRepo
	GenerationTxn GenerationTxnRepo
}

func NewSet(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		Course:        learning.NewCourseRepo(db, log),
		Section:       learning.NewSectionRepo(db, log),
		Lesson:        learning.NewLessonRepo(db, log),
		GenerationTxn: conversation.NewGenerationTxnRepo(db, log),
	}
}
