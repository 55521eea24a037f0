package context

import "strings"

// limitEntry is one name-prefix -> context-length fallback.
type limitEntry struct {
	prefix string
	length int
}

// knownContextLengths are the baked-in fallbacks used only when no API
// advertises a context length for a model (§4.3).
var knownContextLengths = []limitEntry{
	{"deepseek", 131072},
	{"gpt-4o", 128000},
	{"claude-3", 200000},
	{"claude-sonnet", 200000},
	{"claude-opus", 200000},
	{"claude-haiku", 200000},
	{"gemini-1.5", 1048576},
	{"gemini-2", 1048576},
	{"llama-3.1", 131072},
	{"llama-3.3", 131072},
}

// FallbackContextLength returns the baked-in context length for model by
// longest matching name-prefix, or 0 if nothing matches.
func FallbackContextLength(model string) int {
	lower := strings.ToLower(model)
	best, bestLen := 0, -1
	for _, e := range knownContextLengths {
		if strings.Contains(lower, e.prefix) && len(e.prefix) > bestLen {
			best, bestLen = e.length, len(e.prefix)
		}
	}
	return best
}
