package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/domain/learning"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// Conversation state
		&conversation.SessionRecord{},
		&conversation.GenerationTransaction{},

		// Generated content
		&learning.Course{},
		&learning.CourseSection{},
		&learning.Lesson{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
