package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CourseStructureDraft is a validated outline. Only the outline parser builds one from
// model output; OrderIndex always equals the array position.
type CourseStructureDraft struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Sections    []DraftSection `json:"sections"`
}

type DraftSection struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	OrderIndex  int           `json:"order_index"`
	Lessons     []DraftLesson `json:"lessons"`
}

type DraftLesson struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	OrderIndex int    `json:"order_index"`
}

func (d *CourseStructureDraft) Clone() *CourseStructureDraft {
	if d == nil {
		return nil
	}
	out := *d
	out.Sections = make([]DraftSection, len(d.Sections))
	for i, s := range d.Sections {
		s.Lessons = append([]DraftLesson(nil), s.Lessons...)
		out.Sections[i] = s
	}
	return &out
}

func (d *CourseStructureDraft) LessonCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, s := range d.Sections {
		n += len(s.Lessons)
	}
	return n
}

// EntityCount is course + sections + lessons.
func (d *CourseStructureDraft) EntityCount() int {
	if d == nil {
		return 0
	}
	return 1 + len(d.Sections) + d.LessonCount()
}

// Fingerprint is the hex sha256 of the canonical JSON encoding.
// Struct field order makes encoding/json output deterministic.
func (d *CourseStructureDraft) Fingerprint() string {
	b, _ := json.Marshal(d)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
