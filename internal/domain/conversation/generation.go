package conversation

import (
	"time"

	"gorm.io/datatypes"
)

type EntityType string

const (
	EntityCourse  EntityType = "course"
	EntitySection EntityType = "section"
	EntityLesson  EntityType = "lesson"
)

type EntityRef struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

type GenerationStatus string

const (
	GenerationRunning  GenerationStatus = "running"
	GenerationComplete GenerationStatus = "complete"
	GenerationFailed   GenerationStatus = "failed"
)

// GenerationResult is what a completed run returns and what retries get back verbatim.
type GenerationResult struct {
	CourseID     string   `json:"course_id"`
	SectionIDs   []string `json:"section_ids"`
	LessonIDs    []string `json:"lesson_ids"`
	SectionCount int      `json:"section_count"`
	LessonCount  int      `json:"lesson_count"`
}

type GenerationFailure struct {
	Step       int        `json:"step"`
	EntityType EntityType `json:"entity_type"`
	RolledBack int        `json:"rolled_back"`
	Error      string     `json:"error"`
}

// GenerationTransaction records one materialization run keyed by its idempotency key.
type GenerationTransaction struct {
	IdempotencyKey string         `gorm:"column:idempotency_key;type:varchar(160);primaryKey" json:"idempotency_key"`
	SessionID      string         `gorm:"column:session_id;type:varchar(64);not null;index" json:"session_id"`
	OwnerID        string         `gorm:"column:owner_id;type:varchar(255);not null" json:"owner_id"`
	Status         string         `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	Attempt        int            `gorm:"column:attempt;not null;default:1" json:"attempt"`
	CreatedRefs    datatypes.JSON `gorm:"column:created_refs" json:"created_refs"`
	Result         datatypes.JSON `gorm:"column:result" json:"result,omitempty"`
	Failure        datatypes.JSON `gorm:"column:failure" json:"failure,omitempty"`
	StartedAt      time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt     *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (GenerationTransaction) TableName() string { return "generation_transaction" }
