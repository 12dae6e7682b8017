package outline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
)

type rawDraft struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Sections    *[]rawSection `json:"sections"`
	Modules     *[]rawSection `json:"modules"`
	Course      *rawDraft     `json:"course"`
}

type rawSection struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Lessons     *[]rawLesson `json:"lessons"`
}

type rawLesson struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

// validate checks the decoded payload and builds the normalized draft.
// order_index values in the payload are ignored.
func validate(data []byte) (*conversation.CourseStructureDraft, error) {
	var top any
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	if _, ok := top.(map[string]any); !ok {
		return nil, errors.New("payload must be an object")
	}
	var raw rawDraft
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("wrong field type: %s", typeErrorField(err))
	}
	if strings.TrimSpace(raw.Title) == "" && raw.Course != nil {
		raw = *raw.Course
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return nil, errors.New("title is required")
	}
	sections := raw.Sections
	if sections == nil {
		sections = raw.Modules
	}
	if sections == nil || len(*sections) == 0 {
		return nil, errors.New("sections must be a non-empty array")
	}

	out := &conversation.CourseStructureDraft{
		Title:       title,
		Description: strings.TrimSpace(raw.Description),
		Sections:    make([]conversation.DraftSection, 0, len(*sections)),
	}
	for i, s := range *sections {
		st := strings.TrimSpace(s.Title)
		if st == "" {
			return nil, fmt.Errorf("sections[%d].title is required", i)
		}
		if s.Lessons == nil {
			return nil, fmt.Errorf("sections[%d].lessons is required", i)
		}
		sec := conversation.DraftSection{
			Title:       st,
			Description: strings.TrimSpace(s.Description),
			OrderIndex:  i,
			Lessons:     make([]conversation.DraftLesson, 0, len(*s.Lessons)),
		}
		for j, l := range *s.Lessons {
			lt := strings.TrimSpace(l.Title)
			if lt == "" {
				return nil, fmt.Errorf("sections[%d].lessons[%d].title is required", i, j)
			}
			content := strings.TrimSpace(l.Content)
			if content == "" {
				content = strings.TrimSpace(l.Summary)
			}
			sec.Lessons = append(sec.Lessons, conversation.DraftLesson{
				Title:      lt,
				Content:    content,
				OrderIndex: j,
			})
		}
		out.Sections = append(out.Sections, sec)
	}
	return out, nil
}

func typeErrorField(err error) string {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && te.Field != "" {
		return te.Field
	}
	return err.Error()
}
