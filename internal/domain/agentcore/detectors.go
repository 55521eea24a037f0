package agentcore

import (
	"encoding/json"
	"strings"
)

// failureStreak tracks consecutive failures per tool name, reset on any
// success of that same tool (§4.1's per-tool consecutive-failure cap).
type failureStreak struct {
	counts map[string]int
}

func newFailureStreak() *failureStreak {
	return &failureStreak{counts: make(map[string]int)}
}

// record updates the streak for toolName and reports the new count.
func (f *failureStreak) record(toolName string, failed bool) int {
	if !failed {
		f.counts[toolName] = 0
		return 0
	}
	f.counts[toolName]++
	return f.counts[toolName]
}

// isFailureResult reports whether a tool result's JSON encodes a failure per
// §4.1: "success":false, "timed_out":true, "stderr":"timeout", or a non-null
// "error".
func isFailureResult(resultJSON string) bool {
	if resultJSON == "" {
		return false
	}
	var probe struct {
		Success  *bool       `json:"success"`
		TimedOut *bool       `json:"timed_out"`
		Stderr   string      `json:"stderr"`
		Error    interface{} `json:"error"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &probe); err != nil {
		// Not JSON at all; treat non-empty unparsed output as success — the
		// compressor/tool layer is expected to always emit JSON.
		return false
	}
	if probe.Success != nil && !*probe.Success {
		return true
	}
	if probe.TimedOut != nil && *probe.TimedOut {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(probe.Stderr), "timeout") {
		return true
	}
	if probe.Error != nil {
		return true
	}
	return false
}

// noProgressTracker implements §4.1's no-progress repetition cap: a set of
// "name:arguments" signatures seen so far this conversation, plus a counter
// that increments only when every tool call in a response repeats a
// previously-seen signature, and resets the moment any new signature shows up.
type noProgressTracker struct {
	seen    map[string]bool
	counter int
}

func newNoProgressTracker() *noProgressTracker {
	return &noProgressTracker{seen: make(map[string]bool)}
}

func signatureOf(call ToolCallInfo) string {
	return call.Name + ":" + call.Arguments
}

// record processes one response's batch of tool calls and returns the
// updated no-progress counter.
func (n *noProgressTracker) record(calls []ToolCallInfo) int {
	if len(calls) == 0 {
		return n.counter
	}
	allRepeats := true
	for _, c := range calls {
		if !n.seen[signatureOf(c)] {
			allRepeats = false
		}
	}
	for _, c := range calls {
		n.seen[signatureOf(c)] = true
	}
	if allRepeats {
		n.counter++
	} else {
		n.counter = 0
	}
	return n.counter
}

const noProgressReflectionPrompt = "You appear to be repeating the same tool calls without making progress. Try a different approach."
