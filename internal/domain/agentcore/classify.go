package agentcore

import "strings"

// completionPhrases are case-insensitive substrings that, if present in an
// assistant's content, end the loop immediately with that content as the
// final answer — even if the same response also carried tool calls (§4.1).
var completionPhrases = []string{
	"finished",
	"finished tasks",
	"task complete",
	"successfully created",
	"i have successfully",
}

// containsCompletionSignal reports whether content contains any fixed
// completion phrase, case-insensitively.
func containsCompletionSignal(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// actionLeadIns are the fixed lead-in phrases that can signal the assistant
// intends to act but didn't emit a tool call (§4.1).
var actionLeadIns = []string{
	"let me",
	"i will",
	"i'll",
	"now i",
	"next, i",
	"let's",
	"i need to",
	"i should",
	"i'm going to",
}

// actionSignal classifies content against the STRONG/WEAK action-phrase
// rules. none means neither applies.
type actionSignal int

const (
	actionNone actionSignal = iota
	actionWeak
	actionStrong
)

// classifyActionPhrase implements §4.1's STRONG/WEAK action-phrase detection.
func classifyActionPhrase(content string) actionSignal {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)

	leadIn := false
	for _, phrase := range actionLeadIns {
		if strings.Contains(lower, phrase) {
			leadIn = true
			break
		}
	}
	if !leadIn {
		return actionNone
	}

	if strings.HasSuffix(strings.TrimRight(trimmed, " \t"), ":") {
		return actionStrong
	}

	endsTerminal := strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "!") || strings.HasSuffix(trimmed, "?")
	if len(trimmed) < 500 && !endsTerminal {
		return actionWeak
	}

	return actionNone
}

// proceedPrompt is the synthetic user message appended after an action-phrase
// signal, per §4.1.
const proceedPrompt = "Please proceed with the action you described. Make the appropriate tool call."

// fallbackToolsRanMessage and fallbackEmptyMessage are the two final-answer
// fallback strings when both content and reasoning-content are empty (§4.1).
const (
	fallbackToolsRanMessage = "✅ Done."
	fallbackEmptyMessage    = "The model returned an empty response."
)

// finalAnswer resolves §4.1's final-answer fallback chain: content, then
// reasoning-content, then one of the two fixed fallback strings.
func finalAnswer(content, reasoning string, anyToolRanThisConversation bool) string {
	if content != "" {
		return content
	}
	if reasoning != "" {
		return reasoning
	}
	if anyToolRanThisConversation {
		return fallbackToolsRanMessage
	}
	return fallbackEmptyMessage
}
