package context

import (
	"context"
	"errors"
	"fmt"
)

// Literal delimiters wrapping a compacted summary (§4.3) — the assistant is
// expected to recognize these when resuming.
const (
	summaryHeader = "[CONVERSATION SUMMARY - earlier turns compacted to fit the context window]"
	summaryFooter = "[END SUMMARY - Continue from here]"
	summaryAck    = "Understood — I have the summarized context and will continue the task from here."

	truncationNote = "The earlier part of this conversation was dropped to stay within the context window; only the most recent turns are kept below."
	truncationAck  = "Understood."
)

// ManagerConfig holds the §4.3 trigger ratios and truncation tail size.
type ManagerConfig struct {
	SummarizeTriggerRatio float64 // attempt summarization at or above this usage ratio
	TruncateTriggerRatio  float64 // truncate if usage is still at or above this ratio after summarizing
	TruncateKeep          int     // how many trailing non-system messages truncation keeps
}

// DefaultManagerConfig returns the spec's literal 90%/95% trigger ratios and
// a K=5 truncation tail (§4.3: "default K = 4-6").
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SummarizeTriggerRatio: 0.90,
		TruncateTriggerRatio:  0.95,
		TruncateKeep:          5,
	}
}

// Manager applies the §4.3 trigger policy: below the soft ratio, do nothing;
// at or above it, summarize; if usage projects to still be over the hard
// ratio afterward, truncate as a second pass.
type Manager struct {
	cfg        ManagerConfig
	tokenizer  Tokenizer
	summarizer Summarizer
	pruner     *Pruner
}

// NewManager builds a Manager. A nil tokenizer defaults to SimpleTokenizer; a
// nil summarizer disables summarization and falls straight to truncation
// once the soft ratio is crossed.
func NewManager(cfg ManagerConfig, tokenizer Tokenizer, summarizer Summarizer) *Manager {
	if tokenizer == nil {
		tokenizer = NewSimpleTokenizer()
	}
	pruneCfg := DefaultPruneConfig()
	pruneCfg.SoftTrimRatio = cfg.SummarizeTriggerRatio
	pruneCfg.HardClearRatio = cfg.TruncateTriggerRatio
	pruneCfg.PreserveRecent = cfg.TruncateKeep
	return &Manager{
		cfg:        cfg,
		tokenizer:  tokenizer,
		summarizer: summarizer,
		pruner:     NewPruner(pruneCfg, tokenizer),
	}
}

// MaxContextLength resolves a model's context length: the reported value if
// positive, else the baked-in fallback table, else 0 (unknown).
func (m *Manager) MaxContextLength(model string, reported int) int {
	if reported > 0 {
		return reported
	}
	return FallbackContextLength(model)
}

// Manage runs the trigger policy for one point in the conversation. It
// returns the rewritten message list and true if a rewrite happened, or the
// original list and false if usage was under the soft threshold.
func (m *Manager) Manage(ctx context.Context, messages []Message, usage TokenUsage) ([]Message, bool, error) {
	if usage.UsagePercent() < m.cfg.SummarizeTriggerRatio {
		return messages, false, nil
	}

	summarized, err := m.summarize(ctx, messages)
	if err != nil {
		// Summarization unavailable or failed: fall back straight to
		// truncation so the conversation can still proceed (§4.3).
		return m.truncate(messages), true, nil
	}

	projectedTokens := m.tokenizer.Count(flattenContent(summarized))
	projected := float64(projectedTokens) / float64(usage.MaxContextLength)
	if usage.MaxContextLength > 0 && projected >= m.cfg.TruncateTriggerRatio {
		return m.truncate(summarized), true, nil
	}
	return summarized, true, nil
}

// CheapPrune runs the model-free adaptive pruner directly, skipping the
// summarization round-trip entirely. Intended for orchestrated worker
// agents, where paying for a summarization completion per worker is wasteful
// and the conversation is disposable once its subtask completes.
func (m *Manager) CheapPrune(messages []Message) []Message {
	return m.pruner.Prune(messages)
}

func (m *Manager) summarize(ctx context.Context, messages []Message) ([]Message, error) {
	if m.summarizer == nil {
		return nil, errors.New("no summarizer configured")
	}

	sysMsg, rest := splitSystem(messages)

	summary, err := m.summarizer.Summarize(ctx, rest)
	if err != nil {
		return nil, err
	}

	result := make([]Message, 0, 3)
	if sysMsg != nil {
		result = append(result, *sysMsg)
	}
	result = append(result, Message{
		Role:    "user",
		Content: fmt.Sprintf("%s\n%s\n%s", summaryHeader, summary, summaryFooter),
	})
	result = append(result, Message{Role: "assistant", Content: summaryAck})
	return result, nil
}

// truncate keeps the system message plus the most recent TruncateKeep
// non-system messages, inserting a note/ack pair to explain the gap. It
// never rewrites message contents, only drops older ones (§4.3).
func (m *Manager) truncate(messages []Message) []Message {
	k := m.cfg.TruncateKeep
	if k <= 0 {
		k = 5
	}

	sysMsg, rest := splitSystem(messages)

	if k > len(rest) {
		k = len(rest)
	}
	tail := rest[len(rest)-k:]

	result := make([]Message, 0, len(tail)+3)
	if sysMsg != nil {
		result = append(result, *sysMsg)
	}
	result = append(result, Message{Role: "user", Content: truncationNote})
	result = append(result, Message{Role: "assistant", Content: truncationAck})
	result = append(result, tail...)
	return result
}

// splitSystem pulls the first system message out of messages, returning it
// separately from the rest in original order.
func splitSystem(messages []Message) (*Message, []Message) {
	var sys *Message
	rest := make([]Message, 0, len(messages))
	for i := range messages {
		if sys == nil && messages[i].Role == "system" {
			m := messages[i]
			sys = &m
			continue
		}
		rest = append(rest, messages[i])
	}
	return sys, rest
}

func flattenContent(messages []Message) string {
	var total string
	for _, m := range messages {
		total += m.Content
	}
	return total
}
