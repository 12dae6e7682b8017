package outline

import (
	"strings"
)

type candidate struct {
	payload string
	source  Source
	prose   string
}

// locate picks the payload: explicit markers, then a fenced block, then the largest
// balanced object, then a truncated object tail.
func locate(text string) (candidate, bool) {
	if c, ok := fromMarkers(text); ok {
		return c, true
	}
	if c, ok := fromFence(text); ok {
		return c, true
	}
	if start, end, src, ok := bestObject(text); ok {
		return candidate{payload: text[start:end], source: src, prose: cut(text, start, end)}, true
	}
	return candidate{}, false
}

// bestObject prefers the largest balanced object unless a longer truncated tail exists.
func bestObject(text string) (int, int, Source, bool) {
	sc := scanObjects(text)
	balanced := sc.start >= 0
	switch {
	case sc.tail >= 0 && (!balanced || len(text)-sc.tail > sc.end-sc.start):
		return sc.tail, len(text), SourceTruncated, true
	case balanced:
		return sc.start, sc.end, SourceBraces, true
	}
	return -1, -1, "", false
}

func fromMarkers(text string) (candidate, bool) {
	start := strings.Index(text, StartMarker)
	if start < 0 {
		return candidate{}, false
	}
	bodyStart := start + len(StartMarker)
	end := len(text)
	blockEnd := end
	if rel := strings.Index(text[bodyStart:], EndMarker); rel >= 0 {
		end = bodyStart + rel
		blockEnd = end + len(EndMarker)
	}
	body := stripCodeFences(text[bodyStart:end])
	if s, e, _, ok := bestObject(body); ok {
		body = body[s:e]
	}
	if strings.TrimSpace(body) == "" {
		return candidate{}, false
	}
	return candidate{payload: body, source: SourceMarkers, prose: cut(text, start, blockEnd)}, true
}

func fromFence(text string) (candidate, bool) {
	lower := strings.ToLower(text)
	open := strings.Index(lower, "```json")
	if open < 0 {
		return candidate{}, false
	}
	bodyStart := open + len("```json")
	end := len(text)
	blockEnd := end
	if rel := strings.Index(text[bodyStart:], "```"); rel >= 0 {
		end = bodyStart + rel
		blockEnd = end + 3
	}
	body := text[bodyStart:end]
	s, e, _, ok := bestObject(body)
	if !ok {
		return candidate{}, false
	}
	return candidate{payload: body[s:e], source: SourceFence, prose: cut(text, open, blockEnd)}, true
}

type objectScan struct {
	// start and end bound the longest closed {...} span at any depth; start is -1 when
	// nothing closes.
	start, end int
	// tail is the earliest brace still open at the end that opens an object, or -1.
	tail int
}

// scanObjects walks text once with a stack of open braces, skipping braces inside
// strings. A stray '{' in prose stays on the stack and does not hide an object after it.
func scanObjects(text string) objectScan {
	out := objectScan{start: -1, end: -1, tail: -1}
	var open []int
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if len(open) > 0 {
				inString = true
			}
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			if i+1-start > out.end-out.start {
				out.start, out.end = start, i+1
			}
		}
	}
	for _, at := range open {
		if opensObject(text, at) {
			out.tail = at
			break
		}
	}
	return out
}

// opensObject reports whether the brace at is followed by a key, a closer or nothing.
func opensObject(text string, at int) bool {
	for i := at + 1; i < len(text); i++ {
		if isSpace(text[i]) {
			continue
		}
		return text[i] == '"' || text[i] == '}'
	}
	return true
}

func cut(text string, start, end int) string {
	return strings.TrimSpace(strings.TrimSpace(text[:start]) + "\n\n" + strings.TrimSpace(text[end:]))
}

func stripCodeFences(src string) string {
	s := strings.TrimSpace(src)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	body := lines[1:]
	if last == "```" {
		body = lines[1 : len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}
