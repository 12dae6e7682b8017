package outline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
)

const (
	StartMarker = "<<<COURSE_STRUCTURE>>>"
	EndMarker   = "<<<END_COURSE_STRUCTURE>>>"

	maxRepairPasses = 2
)

const (
	ReasonNoStructure   = "no_structure_found"
	ReasonUnparseable   = "unparseable"
	ReasonSchemaInvalid = "schema_invalid"
)

// Source names where the payload was found.
type Source string

const (
	SourceMarkers   Source = "markers"
	SourceFence     Source = "fence"
	SourceBraces    Source = "braces"
	SourceTruncated Source = "truncated"
)

// Outcome is the tagged parse result. Draft is non-nil iff OK.
type Outcome struct {
	OK      bool
	Draft   *conversation.CourseStructureDraft
	Reason  string
	Repairs []string
	Source  Source
	// Prose is the reply with the structure payload cut out.
	Prose string
}

func fail(reason string, src Source, prose string, repairs []string) Outcome {
	return Outcome{Reason: reason, Source: src, Prose: prose, Repairs: repairs}
}

// Parse extracts a validated course structure from untrusted model text. It never panics.
func Parse(text string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Reason: ReasonUnparseable, Prose: strings.TrimSpace(text)}
		}
	}()

	cand, ok := locate(text)
	if !ok {
		return fail(ReasonNoStructure, "", strings.TrimSpace(text), nil)
	}
	raw, repairs, err := decode(cand.payload)
	if err != nil {
		return fail(ReasonUnparseable, cand.source, cand.prose, repairs)
	}
	draft, err := validate(raw)
	if err != nil {
		return fail(ReasonSchemaInvalid+": "+err.Error(), cand.source, cand.prose, repairs)
	}
	return Outcome{OK: true, Draft: draft, Repairs: repairs, Source: cand.source, Prose: cand.prose}
}

// decode tries a strict decode, then up to maxRepairPasses repair passes.
func decode(payload string) ([]byte, []string, error) {
	data := strings.TrimSpace(payload)
	if err := strictDecode(data); err == nil {
		return []byte(data), nil, nil
	}
	var repairs []string
	var lastErr error
	for pass := 1; pass <= maxRepairPasses; pass++ {
		fixed, applied := repairOnce(data)
		if len(applied) == 0 {
			break
		}
		for _, a := range applied {
			repairs = append(repairs, fmt.Sprintf("pass%d:%s", pass, a))
		}
		data = fixed
		if lastErr = strictDecode(data); lastErr == nil {
			return []byte(data), repairs, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("payload is not valid JSON")
	}
	return nil, repairs, lastErr
}

func strictDecode(data string) error {
	var v any
	return json.Unmarshal([]byte(data), &v)
}
