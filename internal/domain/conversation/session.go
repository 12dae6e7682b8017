package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Stage string

const (
	StageInitial               Stage = "initial"
	StageGatheringRequirements Stage = "gathering_requirements"
	StageStructureProposed     Stage = "structure_proposed"
	StageAwaitingConfirmation  Stage = "awaiting_confirmation"
	StageGenerating            Stage = "generating"
	StageComplete              Stage = "complete"
	StageFailed                Stage = "failed"
)

var stages = map[Stage]struct{}{
	StageInitial:               {},
	StageGatheringRequirements: {},
	StageStructureProposed:     {},
	StageAwaitingConfirmation:  {},
	StageGenerating:            {},
	StageComplete:              {},
	StageFailed:                {},
}

func (s Stage) Valid() bool {
	_, ok := stages[s]
	return ok
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Message is immutable once appended to a session.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type SessionStatus string

const (
	StatusActive  SessionStatus = "active"
	StatusExpired SessionStatus = "expired"
)

// Session is the in-memory conversation aggregate. Callers hold it explicitly
// and hand it back to the store; Revision is the one it was loaded with.
type Session struct {
	ID        string                `json:"id"`
	OwnerID   string                `json:"owner_id"`
	Title     string                `json:"title"`
	Messages  []Message             `json:"messages"`
	Stage     Stage                 `json:"stage"`
	Draft     *CourseStructureDraft `json:"structure_draft,omitempty"`
	Revision  int64                 `json:"revision"`
	Status    SessionStatus         `json:"status"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	ExpiresAt time.Time             `json:"expires_at"`
	ExpiredAt *time.Time            `json:"expired_at,omitempty"`
}

func (s *Session) Append(role Role, content string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: at.UTC()})
}

func (s *Session) HasDraft() bool { return s != nil && s.Draft != nil }

// Clone deep-copies the session so tracked copies never alias a caller's slices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Draft = s.Draft.Clone()
	if s.ExpiredAt != nil {
		t := *s.ExpiredAt
		out.ExpiredAt = &t
	}
	return &out
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"-"`
	Title        string        `json:"title"`
	Stage        Stage         `json:"stage"`
	Status       SessionStatus `json:"status"`
	Revision     int64         `json:"revision"`
	MessageCount int           `json:"message_count"`
	UpdatedAt    time.Time     `json:"updated_at"`
	ExpiredAt    *time.Time    `json:"expired_at,omitempty"`
}

// SessionRecord is the persisted row of a session.
type SessionRecord struct {
	ID             string         `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	OwnerID        string         `gorm:"column:owner_id;type:varchar(255);not null;index:idx_session_owner_updated,priority:1" json:"owner_id"`
	Title          string         `gorm:"column:title;not null;default:''" json:"title"`
	Stage          string         `gorm:"column:stage;type:varchar(32);not null" json:"stage"`
	Status         string         `gorm:"column:status;type:varchar(16);not null;default:'active';index" json:"status"`
	Messages       datatypes.JSON `gorm:"column:messages;not null" json:"messages"`
	MessageCount   int            `gorm:"column:message_count;not null;default:0" json:"message_count"`
	StructureDraft datatypes.JSON `gorm:"column:structure_draft" json:"structure_draft,omitempty"`
	Revision       int64          `gorm:"column:revision;not null" json:"revision"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false;index:idx_session_owner_updated,priority:2" json:"updated_at"`
	ExpiresAt      time.Time      `gorm:"column:expires_at;not null;index" json:"expires_at"`
	ExpiredAt      *time.Time     `gorm:"column:expired_at;index" json:"expired_at,omitempty"`
}

func (SessionRecord) TableName() string { return "conversation_session" }

func (s *Session) ToRecord() (*SessionRecord, error) {
	msgs := s.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	rawMsgs, err := json.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	var rawDraft datatypes.JSON
	if s.Draft != nil {
		b, err := json.Marshal(s.Draft)
		if err != nil {
			return nil, err
		}
		rawDraft = datatypes.JSON(b)
	}
	status := s.Status
	if status == "" {
		status = StatusActive
	}
	return &SessionRecord{
		ID:             s.ID,
		OwnerID:        s.OwnerID,
		Title:          s.Title,
		Stage:          string(s.Stage),
		Status:         string(status),
		Messages:       datatypes.JSON(rawMsgs),
		MessageCount:   len(msgs),
		StructureDraft: rawDraft,
		Revision:       s.Revision,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		ExpiresAt:      s.ExpiresAt,
		ExpiredAt:      s.ExpiredAt,
	}, nil
}

func (r *SessionRecord) ToSession() (*Session, error) {
	out := &Session{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Title:     r.Title,
		Stage:     Stage(r.Stage),
		Revision:  r.Revision,
		Status:    SessionStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		ExpiresAt: r.ExpiresAt,
		ExpiredAt: r.ExpiredAt,
		Messages:  []Message{},
	}
	if len(r.Messages) > 0 {
		if err := json.Unmarshal(r.Messages, &out.Messages); err != nil {
			return nil, err
		}
	}
	if raw := strings.TrimSpace(string(r.StructureDraft)); raw != "" && raw != "null" {
		var d CourseStructureDraft
		if err := json.Unmarshal(r.StructureDraft, &d); err != nil {
			return nil, err
		}
		out.Draft = &d
	}
	return out, nil
}

func (r *SessionRecord) Summary() SessionSummary {
	return SessionSummary{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		Title:        r.Title,
		Stage:        Stage(r.Stage),
		Status:       SessionStatus(r.Status),
		Revision:     r.Revision,
		MessageCount: r.MessageCount,
		UpdatedAt:    r.UpdatedAt,
		ExpiredAt:    r.ExpiredAt,
	}
}
