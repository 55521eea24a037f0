// Package context implements the context-window manager: token tracking,
// the summarize/truncate trigger policy, and a cheap adaptive pruner for
// conversations that should not pay for a summarization round-trip.
package context

import (
	"strings"
	"unicode/utf8"
)

// PruningStrategy selects how Pruner.Prune reduces a message list.
type PruningStrategy int

const (
	PruneNone      PruningStrategy = iota // no pruning
	PruneAdaptive                         // keep system + recent + importance-filtered middle
	PruneHardClear                        // keep system + as many recent messages as fit the budget
	PruneSummarize                        // requires a model call; Manager handles this, not Pruner
)

// String returns the strategy's name.
func (s PruningStrategy) String() string {
	switch s {
	case PruneNone:
		return "none"
	case PruneAdaptive:
		return "adaptive"
	case PruneHardClear:
		return "hard_clear"
	case PruneSummarize:
		return "summarize"
	default:
		return "unknown"
	}
}

// Message is the context package's view of one conversation turn — just
// enough (role, content, tool linkage) to tokenize, score, and rewrite.
type Message struct {
	Role       string
	Content    string
	Name       string // tool name, set when Role == "tool"
	ToolCallID string
	Importance float64 // 0-1; 0 means "not yet scored"
	Tokens     int     // cached estimate, 0 means "not yet counted"
}

// PruneConfig configures the cheap adaptive pruner.
type PruneConfig struct {
	Strategy            PruningStrategy
	MaxTokens           int
	SoftTrimRatio       float64 // start trimming once usage crosses this ratio
	HardClearRatio      float64 // trim harder once usage crosses this ratio
	PreserveSystem      bool
	PreserveRecent      int // always keep the last N messages
	ImportanceThreshold float64
}

// DefaultPruneConfig mirrors the §4.3 trigger ratios (90%/95%) so the cheap
// pruner and the summarize/truncate Manager agree on when to act.
func DefaultPruneConfig() *PruneConfig {
	return &PruneConfig{
		Strategy:            PruneAdaptive,
		MaxTokens:           100000,
		SoftTrimRatio:        0.90,
		HardClearRatio:       0.95,
		PreserveSystem:       true,
		PreserveRecent:       5,
		ImportanceThreshold:  0.3,
	}
}

// Pruner does cheap, model-free message reduction: no completion request,
// just token estimation and importance heuristics. Used where a full
// summarization round-trip isn't worth it (e.g. orchestrated worker agents).
type Pruner struct {
	config    *PruneConfig
	tokenizer Tokenizer
}

// Tokenizer estimates the token cost of a string.
type Tokenizer interface {
	Count(text string) int
}

// SimpleTokenizer estimates tokens from character counts: ~2 chars/token for
// CJK text, ~4 chars/token otherwise. No model-specific BPE table is wired
// in any example in the pack, so this stays a heuristic.
type SimpleTokenizer struct {
	charsPerToken float64
}

// NewSimpleTokenizer builds the default heuristic tokenizer.
func NewSimpleTokenizer() *SimpleTokenizer {
	return &SimpleTokenizer{charsPerToken: 4.0}
}

// Count estimates the token count of text.
func (t *SimpleTokenizer) Count(text string) int {
	cjkCount := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			cjkCount++
		}
	}

	totalChars := utf8.RuneCountInString(text)
	otherChars := totalChars - cjkCount

	tokens := float64(cjkCount)/2.0 + float64(otherChars)/t.charsPerToken
	return int(tokens) + 1
}

// NewPruner builds a Pruner; a nil tokenizer defaults to SimpleTokenizer.
func NewPruner(config *PruneConfig, tokenizer Tokenizer) *Pruner {
	if tokenizer == nil {
		tokenizer = NewSimpleTokenizer()
	}
	return &Pruner{config: config, tokenizer: tokenizer}
}

// Prune reduces messages per the configured strategy. PruneSummarize falls
// back to adaptive pruning here — Manager is the only thing that can issue
// the completion request a real summary needs.
func (p *Pruner) Prune(messages []Message) []Message {
	if p.config.Strategy == PruneNone {
		return messages
	}

	totalTokens := p.calculateTotalTokens(messages)
	softThreshold := int(float64(p.config.MaxTokens) * p.config.SoftTrimRatio)
	hardThreshold := int(float64(p.config.MaxTokens) * p.config.HardClearRatio)

	if totalTokens < softThreshold {
		return messages
	}

	switch p.config.Strategy {
	case PruneAdaptive, PruneSummarize:
		return p.adaptivePrune(messages, softThreshold, hardThreshold)
	case PruneHardClear:
		return p.hardClearPrune(messages, hardThreshold)
	default:
		return messages
	}
}

func (p *Pruner) calculateTotalTokens(messages []Message) int {
	total := 0
	for i := range messages {
		if messages[i].Tokens == 0 {
			messages[i].Tokens = p.tokenizer.Count(messages[i].Content)
		}
		total += messages[i].Tokens
	}
	return total
}

// adaptivePrune keeps system messages, the most recent PreserveRecent
// messages, and any middle message whose importance clears the threshold.
func (p *Pruner) adaptivePrune(messages []Message, _, hardThreshold int) []Message {
	if len(messages) == 0 {
		return messages
	}

	var systemMessages []Message
	if p.config.PreserveSystem {
		for _, msg := range messages {
			if msg.Role == "system" {
				systemMessages = append(systemMessages, msg)
			}
		}
	}

	recentStart := len(messages) - p.config.PreserveRecent
	if recentStart < 0 {
		recentStart = 0
	}
	recentMessages := messages[recentStart:]

	var middleMessages []Message
	for i, msg := range messages {
		if msg.Role == "system" || i >= recentStart {
			continue
		}
		if p.evaluateImportance(msg) >= p.config.ImportanceThreshold {
			middleMessages = append(middleMessages, msg)
		}
	}

	result := make([]Message, 0, len(systemMessages)+len(middleMessages)+len(recentMessages))
	result = append(result, systemMessages...)
	result = append(result, middleMessages...)
	result = append(result, recentMessages...)

	if currentTokens := p.calculateTotalTokens(result); currentTokens > hardThreshold && len(middleMessages) > 0 {
		halfMiddle := len(middleMessages) / 2
		result = make([]Message, 0, len(systemMessages)+len(middleMessages)-halfMiddle+len(recentMessages))
		result = append(result, systemMessages...)
		result = append(result, middleMessages[halfMiddle:]...)
		result = append(result, recentMessages...)
	}

	return result
}

// hardClearPrune keeps system messages plus as many of the most recent
// messages as fit under hardThreshold, dropping everything older.
func (p *Pruner) hardClearPrune(messages []Message, hardThreshold int) []Message {
	if len(messages) == 0 {
		return messages
	}

	result := make([]Message, 0)
	currentTokens := 0

	if p.config.PreserveSystem {
		for _, msg := range messages {
			if msg.Role == "system" {
				result = append(result, msg)
				currentTokens += msg.Tokens
			}
		}
	}

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role == "system" {
			continue
		}
		if currentTokens+msg.Tokens > hardThreshold {
			break
		}

		insertIdx := len(result)
		for j, m := range result {
			if m.Role != "system" {
				insertIdx = j
				break
			}
		}
		result = append(result[:insertIdx], append([]Message{msg}, result[insertIdx:]...)...)
		currentTokens += msg.Tokens
	}

	return result
}

// evaluateImportance scores a message 0-1: tool results, code blocks, error
// text, and long messages all score higher than plain chatter.
func (p *Pruner) evaluateImportance(msg Message) float64 {
	if msg.Importance > 0 {
		return msg.Importance
	}

	importance := 0.5

	if msg.Role == "tool" || msg.ToolCallID != "" {
		importance += 0.2
	}
	if strings.Contains(msg.Content, "```") {
		importance += 0.15
	}

	lowerContent := strings.ToLower(msg.Content)
	if strings.Contains(lowerContent, "error") ||
		strings.Contains(lowerContent, "failed") ||
		strings.Contains(lowerContent, "exception") {
		importance += 0.1
	}

	if len(msg.Content) > 500 {
		importance += 0.05
	}

	if importance > 1.0 {
		importance = 1.0
	}
	return importance
}

// EstimateTokens totals the token estimate across messages.
func (p *Pruner) EstimateTokens(messages []Message) int {
	return p.calculateTotalTokens(messages)
}

// NeedsPruning reports whether messages have crossed the soft threshold.
func (p *Pruner) NeedsPruning(messages []Message) bool {
	totalTokens := p.calculateTotalTokens(messages)
	softThreshold := int(float64(p.config.MaxTokens) * p.config.SoftTrimRatio)
	return totalTokens >= softThreshold
}
