package outline

import (
	"fmt"
	"strings"
)

const (
	repairTrailingCommas = "trailing_commas"
	repairControlChars   = "control_chars"
	repairClosedBrackets = "closed_brackets"
)

// repairOnce applies every repair that changes the input and names the ones applied.
func repairOnce(data string) (string, []string) {
	var applied []string
	if out := escapeControlChars(data); out != data {
		data = out
		applied = append(applied, repairControlChars)
	}
	if out := stripTrailingCommas(data); out != data {
		data = out
		applied = append(applied, repairTrailingCommas)
	}
	if out := closeUnbalanced(data); out != data {
		data = out
		applied = append(applied, repairClosedBrackets)
		// Truncation can expose a new trailing comma.
		data = stripTrailingCommas(data)
	}
	return data, applied
}

// stripTrailingCommas removes commas directly followed by a closing bracket.
func stripTrailingCommas(data string) string {
	var b strings.Builder
	b.Grow(len(data))
	inString, escaped := false, false
	for i := 0; i < len(data); i++ {
		ch := data[i]
		if inString {
			b.WriteByte(ch)
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
		if ch == '"' {
			inString = true
		}
		if ch == ',' {
			j := i + 1
			for j < len(data) && isSpace(data[j]) {
				j++
			}
			if j == len(data) || data[j] == '}' || data[j] == ']' {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// escapeControlChars escapes raw control characters that appear inside strings.
func escapeControlChars(data string) string {
	var b strings.Builder
	b.Grow(len(data))
	inString, escaped := false, false
	for i := 0; i < len(data); i++ {
		ch := data[i]
		if !inString {
			if ch == '"' {
				inString = true
			}
			b.WriteByte(ch)
			continue
		}
		switch {
		case escaped:
			escaped = false
			b.WriteByte(ch)
		case ch == '\\':
			escaped = true
			b.WriteByte(ch)
		case ch == '"':
			inString = false
			b.WriteByte(ch)
		case ch == '\n':
			b.WriteString(`\n`)
		case ch == '\r':
			b.WriteString(`\r`)
		case ch == '\t':
			b.WriteString(`\t`)
		case ch < 0x20:
			b.WriteString(fmt.Sprintf(`\u%04x`, ch))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// closeUnbalanced cuts a truncated payload back to its last complete closing bracket
// and appends the closers still open at that point.
func closeUnbalanced(data string) string {
	var stack []byte
	lastClose, depthAtClose := -1, 0
	inString, escaped := false, false
	for i := 0; i < len(data); i++ {
		ch := data[i]
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
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) == 0 {
				// Stray closer: everything after it is noise.
				return data[:i]
			}
			stack = stack[:len(stack)-1]
			lastClose, depthAtClose = i, len(stack)
		}
	}
	if len(stack) == 0 && !inString {
		return data
	}

	var open []byte
	if lastClose >= 0 {
		data = data[:lastClose+1]
		open = stack[:depthAtClose]
	} else {
		if inString {
			data += `"`
		}
		open = stack
	}
	data = strings.TrimRightFunc(data, func(r rune) bool { return r == ',' || isSpace(byte(r)) })
	var b strings.Builder
	b.WriteString(data)
	for i := len(open) - 1; i >= 0; i-- {
		if open[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}
