package agentcore

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// inlineSpan is a [start,end) byte range in the original content that was
// consumed by one recovered inline tool call.
type inlineSpan struct {
	start, end int
}

// recoverInlineToolCalls scans content for occurrences of a known tool name
// immediately followed (possibly after whitespace) by a brace-balanced JSON
// object, per §4.1's inline-recovery rule. It returns the recovered calls in
// the order found and the content with every matched span removed.
func recoverInlineToolCalls(content string, toolNames []string) ([]ToolCallInfo, string) {
	var calls []ToolCallInfo
	var spans []inlineSpan

	for _, name := range toolNames {
		if name == "" {
			continue
		}
		searchFrom := 0
		for {
			idx := indexWordBoundary(content, name, searchFrom)
			if idx < 0 {
				break
			}
			afterName := idx + len(name)
			braceStart := afterName
			for braceStart < len(content) && isSpace(content[braceStart]) {
				braceStart++
			}
			if braceStart >= len(content) || content[braceStart] != '{' {
				searchFrom = afterName
				continue
			}
			end := findBraceBalancedEnd(content, braceStart)
			if end < 0 {
				searchFrom = afterName
				continue
			}
			jsonText := content[braceStart:end]
			var probe map[string]interface{}
			if err := json.Unmarshal([]byte(jsonText), &probe); err != nil {
				searchFrom = afterName
				continue
			}
			calls = append(calls, ToolCallInfo{
				ID:        uuid.NewString(),
				Name:      name,
				Arguments: jsonText,
				Inline:    true,
			})
			spans = append(spans, inlineSpan{start: idx, end: end})
			searchFrom = end
		}
	}

	if len(calls) == 0 {
		return nil, content
	}

	sortCallsBySpanStart(calls, spans)
	cleaned := removeSpansTailToHead(content, spans)
	return calls, cleaned
}

// sortCallsBySpanStart orders calls/spans by textual position, since calls
// from different tool names were discovered in separate passes.
func sortCallsBySpanStart(calls []ToolCallInfo, spans []inlineSpan) {
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j-1].start > spans[j].start; j-- {
			spans[j-1], spans[j] = spans[j], spans[j-1]
			calls[j-1], calls[j] = calls[j], calls[j-1]
		}
	}
}

// indexWordBoundary finds the next occurrence of name in s at or after from
// such that the character before it (if any) is not alphanumeric/underscore,
// so "write_file" doesn't match inside "can_write_file".
func indexWordBoundary(s, name string, from int) int {
	for {
		rel := strings.Index(s[from:], name)
		if rel < 0 {
			return -1
		}
		pos := from + rel
		if pos == 0 || !isWordByte(s[pos-1]) {
			return pos
		}
		from = pos + 1
	}
}

func isWordByte(b byte) bool {
	r := rune(b)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || b == '_'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// findBraceBalancedEnd returns the index just past the matching closing
// brace for the '{' at start, respecting string literals and backslash
// escapes, or -1 if unbalanced.
func findBraceBalancedEnd(s string, start int) int {
	if start >= len(s) || s[start] != '{' {
		return -1
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// removeSpansTailToHead deletes every span from content, processing from the
// last span to the first so earlier indices stay valid.
func removeSpansTailToHead(content string, spans []inlineSpan) string {
	out := content
	for i := len(spans) - 1; i >= 0; i-- {
		sp := spans[i]
		out = out[:sp.start] + out[sp.end:]
	}
	return strings.TrimSpace(out)
}
