package learning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Lesson struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SectionID  uuid.UUID `gorm:"type:uuid;not null;index:idx_lesson_section_order,priority:1" json:"section_id"`
	OrderIndex int       `gorm:"column:order_index;not null;index:idx_lesson_section_order,priority:2" json:"order_index"`
	Title      string    `gorm:"column:title;not null" json:"title"`

	ContentMD string `gorm:"column:content_md;type:text" json:"content_md"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Lesson) TableName() string { return "lesson" }
