package learning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CourseSection struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID   uuid.UUID `gorm:"type:uuid;not null;index:idx_section_course_order,priority:1" json:"course_id"`
	OrderIndex int       `gorm:"column:order_index;not null;index:idx_section_course_order,priority:2" json:"order_index"`

	Title       string `gorm:"column:title;not null" json:"title"`
	Description string `gorm:"column:description;type:text" json:"description"`

	Lessons []*Lesson `gorm:"foreignKey:SectionID;references:ID" json:"lessons,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CourseSection) TableName() string { return "course_section" }
