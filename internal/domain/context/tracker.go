package context

import "sync"

// TokenUsage is the latest usage snapshot reported for one model call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	MaxContextLength int
}

// UsagePercent is prompt_tokens / max_context_length, the ratio the trigger
// policy checks (§4.3). Returns 0 when the context length isn't known yet.
func (u TokenUsage) UsagePercent() float64 {
	if u.MaxContextLength <= 0 {
		return 0
	}
	return float64(u.PromptTokens) / float64(u.MaxContextLength)
}

// Tracker records the latest TokenUsage per key. Orchestrated mode uses one
// key per agent; a single global agent uses one shared key (§4.3).
type Tracker struct {
	mu                   sync.RWMutex
	usage                map[string]TokenUsage
	autoSummarizeEnabled bool
}

// NewTracker builds a Tracker with the given auto-summarize default.
func NewTracker(autoSummarizeEnabled bool) *Tracker {
	return &Tracker{
		usage:                make(map[string]TokenUsage),
		autoSummarizeEnabled: autoSummarizeEnabled,
	}
}

// Record stores the latest usage for key, replacing any prior snapshot.
func (t *Tracker) Record(key string, usage TokenUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage[key] = usage
}

// Get returns the latest usage for key, or a zero value if none recorded.
func (t *Tracker) Get(key string) TokenUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.usage[key]
}

// AutoSummarizeEnabled reports whether the tracker should trigger
// summarization automatically as usage crosses the threshold.
func (t *Tracker) AutoSummarizeEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.autoSummarizeEnabled
}

// SetAutoSummarizeEnabled toggles the auto-summarize flag.
func (t *Tracker) SetAutoSummarizeEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.autoSummarizeEnabled = v
}
