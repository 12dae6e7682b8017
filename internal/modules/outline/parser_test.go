package outline

import (
	"strings"
	"testing"
)

const validPayload = `{
  "title": " Intro to Go ",
  "description": "Basics",
  "sections": [
    {"title": "Syntax", "order_index": 7, "lessons": [
      {"title": "Variables", "content": "var x int", "order_index": 3},
      {"title": "Loops", "summary": "for only"}
    ]},
    {"title": "Concurrency", "lessons": []}
  ]
}`

func TestParseMarkers(t *testing.T) {
	text := "Here is a proposal.\n" + StartMarker + "\n" + validPayload + "\n" + EndMarker + "\nWhat do you think?"
	out := Parse(text)
	if !out.OK {
		t.Fatalf("want ok got reason=%s", out.Reason)
	}
	if out.Source != SourceMarkers {
		t.Fatalf("source: want=%s got=%s", SourceMarkers, out.Source)
	}
	d := out.Draft
	if d.Title != "Intro to Go" || len(d.Sections) != 2 {
		t.Fatalf("draft: unexpected %+v", d)
	}
	if d.Sections[0].OrderIndex != 0 || d.Sections[1].OrderIndex != 1 {
		t.Fatalf("section order_index must follow array position: %+v", d.Sections)
	}
	if d.Sections[0].Lessons[0].OrderIndex != 0 || d.Sections[0].Lessons[1].OrderIndex != 1 {
		t.Fatalf("lesson order_index must follow array position: %+v", d.Sections[0].Lessons)
	}
	if d.Sections[0].Lessons[1].Content != "for only" {
		t.Fatalf("summary alias: want=%q got=%q", "for only", d.Sections[0].Lessons[1].Content)
	}
	if strings.Contains(out.Prose, "sections") || !strings.Contains(out.Prose, "What do you think?") {
		t.Fatalf("prose should exclude the payload: %q", out.Prose)
	}
}

func TestParseFencedBlockAndModulesAlias(t *testing.T) {
	text := "Sure!\n```json\n{\"title\":\"T\",\"modules\":[{\"title\":\"M\",\"lessons\":[{\"title\":\"L\"}]}]}\n```\n"
	out := Parse(text)
	if !out.OK || out.Source != SourceFence {
		t.Fatalf("want ok from fence got ok=%v source=%s reason=%s", out.OK, out.Source, out.Reason)
	}
	if out.Draft.Sections[0].Title != "M" {
		t.Fatalf("modules alias not applied: %+v", out.Draft)
	}
}

func TestParseLargestBalancedObject(t *testing.T) {
	text := `Use {placeholders} freely. {"title":"T","sections":[{"title":"S","lessons":[{"title":"a {b}"}]}]} done`
	out := Parse(text)
	if !out.OK || out.Source != SourceBraces {
		t.Fatalf("want ok from braces got ok=%v source=%s reason=%s", out.OK, out.Source, out.Reason)
	}
	if out.Draft.Sections[0].Lessons[0].Title != "a {b}" {
		t.Fatalf("braces inside strings must be kept: %+v", out.Draft)
	}
}

func TestParseFindsObjectAfterStrayBrace(t *testing.T) {
	text := "Sure :{ here it is\n" + validPayload + "\nok?"
	out := Parse(text)
	if !out.OK || out.Source != SourceBraces {
		t.Fatalf("want ok from braces got ok=%v source=%s reason=%s repairs=%v", out.OK, out.Source, out.Reason, out.Repairs)
	}
	if out.Draft.Title != "Intro to Go" || len(out.Draft.Sections) != 2 {
		t.Fatalf("draft: unexpected %+v", out.Draft)
	}
	if len(out.Repairs) != 0 {
		t.Fatalf("a complete object needs no repair, got %v", out.Repairs)
	}
}

func TestParseRepairsTrailingComma(t *testing.T) {
	text := StartMarker + `{"title":"T","sections":[{"title":"S","lessons":[{"title":"L"},],},],}` + EndMarker
	out := Parse(text)
	if !out.OK {
		t.Fatalf("want ok after repair got reason=%s", out.Reason)
	}
	if len(out.Repairs) == 0 {
		t.Fatalf("repairs should be reported")
	}
}

func TestParseRepairsTruncatedPayload(t *testing.T) {
	text := `Proposal: {"title":"T","sections":[{"title":"S1","lessons":[{"title":"L1"}]},{"title":"S2","lessons":[{"title":"L2"},{"title":"L3","content":"cut off mid`
	out := Parse(text)
	if !out.OK {
		t.Fatalf("want ok after repair got reason=%s", out.Reason)
	}
	if out.Source != SourceTruncated {
		t.Fatalf("source: want=%s got=%s", SourceTruncated, out.Source)
	}
	if len(out.Draft.Sections) != 2 || len(out.Draft.Sections[1].Lessons) != 1 {
		t.Fatalf("truncated lesson should be dropped: %+v", out.Draft)
	}
}

func TestParseRepairsMissingFinalBrace(t *testing.T) {
	text := StartMarker + `{"title":"T","sections":[{"title":"S","lessons":[{"title":"L"}]}]`
	out := Parse(text)
	if !out.OK {
		t.Fatalf("want ok got reason=%s", out.Reason)
	}
}

func TestParseEscapesRawNewlinesInStrings(t *testing.T) {
	text := StartMarker + "{\"title\":\"T\",\"sections\":[{\"title\":\"S\",\"lessons\":[{\"title\":\"L\",\"content\":\"line1\nline2\"}]}]}" + EndMarker
	out := Parse(text)
	if !out.OK {
		t.Fatalf("want ok got reason=%s", out.Reason)
	}
	if out.Draft.Sections[0].Lessons[0].Content != "line1\nline2" {
		t.Fatalf("content: got=%q", out.Draft.Sections[0].Lessons[0].Content)
	}
}

func TestParseFailures(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		reason string
	}{
		{"plain text", "Tell me more about your audience.", ReasonNoStructure},
		{"garbage", StartMarker + `{"title": tru nope ::: }` + EndMarker, ReasonUnparseable},
		{"missing title", StartMarker + `{"sections":[{"title":"S","lessons":[]}]}` + EndMarker, ReasonSchemaInvalid + ": title is required"},
		{"missing lessons", StartMarker + `{"title":"T","sections":[{"title":"S"}]}` + EndMarker, ReasonSchemaInvalid + ": sections[0].lessons is required"},
		{"lesson title", StartMarker + `{"title":"T","sections":[{"title":"S","lessons":[{"content":"x"}]}]}` + EndMarker, ReasonSchemaInvalid + ": sections[0].lessons[0].title is required"},
		{"array payload", "```json\n[1,2]\n```", ReasonNoStructure},
	}
	for _, tc := range cases {
		out := Parse(tc.text)
		if out.OK || out.Draft != nil {
			t.Fatalf("%s: want failure got ok", tc.name)
		}
		if out.Reason != tc.reason {
			t.Fatalf("%s: want=%q got=%q", tc.name, tc.reason, out.Reason)
		}
	}
}

func TestParseNeverPanics(t *testing.T) {
	inputs := []string{"", "{", "}", "{{{{", `"`, StartMarker, StartMarker + EndMarker, "```json", "{\"a\":\"\\", "]]]"}
	for _, in := range inputs {
		out := Parse(in)
		if out.OK {
			t.Fatalf("input %q: want failure", in)
		}
	}
}
