// Package agentcore implements the agent control loop: it drives a
// request/response cycle against an upstream model, classifies each
// response, dispatches any tool calls it carries, and decides — via three
// independent stall detectors — when to keep iterating and when to stop.
package agentcore

import (
	"context"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/tool"
)

// ContentPart is one part of a possibly-multimodal message. Providers that
// cannot accept image parts get a flattened text-only view built from these.
type ContentPart struct {
	Type     string // "text" or "image"
	Text     string
	MediaURL string
	MimeType string
}

// ToolCallInfo is a tool call the model asked for, however it was obtained —
// a structured provider tool-call, or one recovered from inline text.
type ToolCallInfo struct {
	ID        string
	Name      string
	Arguments string // raw JSON object text
	Inline    bool   // true if recovered from message text rather than the provider's tool-call field
}

// Message is one turn of the conversation as the loop sees it.
type Message struct {
	Role             string // "system" | "user" | "assistant" | "tool"
	Content          string
	ReasoningContent string // cleared on older turns once a new user turn begins
	Parts            []ContentPart
	ToolCalls        []ToolCallInfo
	ToolCallID       string // set on role=="tool" messages, echoes the call it answers
	Name             string // tool name, set on role=="tool" messages
}

// TextContent returns the flattened text of a message, joining any content
// parts' text when Content itself is empty.
func (m Message) TextContent() string {
	if m.Content != "" {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// HasMedia reports whether the message carries any non-text content part.
func (m Message) HasMedia() bool {
	for _, p := range m.Parts {
		if p.Type != "text" {
			return true
		}
	}
	return false
}

// Request is one call into the upstream model.
type Request struct {
	Messages    []Message
	Tools       []tool.Definition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the model's answer to one Request.
type Response struct {
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCallInfo
	FinishReason     string
	ModelUsed        string
	PromptTokens     int
	CompletionTokens int
	TokensUsed       int
	MaxContextLength int // 0 when the provider did not report one
}

// Completer is the upstream model abstraction the loop drives. A concrete
// implementation adapts a provider client plus the streaming decoder
// (infrastructure/llm/stream) into this single-call shape.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ToolExecutor runs one named tool call and reports its definitions.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, argsJSON string) (*tool.Result, error)
	Definitions() []tool.Definition
	KindOf(name string) tool.Kind
}

// ModelRegistry resolves per-model capabilities the loop needs: whether a
// model accepts image content parts, and its last-known context ceiling
// (updated reactively from server-reported max_context_length, §4.1).
type ModelRegistry interface {
	SupportsVision(model string) bool
	MaxContextLength(model string) int
	SetMaxContextLength(model string, length int)
}

// PermissionChecker mediates tool dispatch; a thin seam over
// internal/domain/security.Gate so agentcore doesn't import it directly.
type PermissionChecker interface {
	Check(ctx context.Context, repoPath, toolName, argsJSON string) (bool, error)
}

// ResultCompressor shrinks a tool result's JSON before it re-enters the
// transcript (§4.3); a thin seam over this package's own compressor
// (compress.go). Implementations MUST be idempotent.
type ResultCompressor interface {
	Compress(toolName string, resultJSON string) string
}

// TokenUsage is the subset of ctxwin.TokenUsage the loop needs to decide
// whether the context-window manager should run (§4.3).
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	MaxContextLength int
}

// ContextManager applies the §4.3 trigger policy between iterations:
// summarize once usage crosses the soft threshold, truncate as a fallback
// if it's still over the hard threshold afterward. A thin seam over
// internal/domain/context.Manager.
type ContextManager interface {
	Manage(ctx context.Context, messages []Message, usage TokenUsage) ([]Message, bool, error)
	MaxContextLength(model string, reported int) int
}

// identityCompressor passes results through unchanged; used when no
// compressor is wired, so the loop is independently testable.
type identityCompressor struct{}

func (identityCompressor) Compress(_ string, resultJSON string) string { return resultJSON }

// StopReason names why the loop stopped without a final answer, or "" if it
// ended with one (§4.1: iteration cap / failure cap / no-progress hard stop).
type StopReason string

const (
	StopNone              StopReason = ""
	StopMaxIterations      StopReason = "max_iterations"
	StopConsecutiveFailure StopReason = "consecutive_tool_failures"
	StopNoProgress         StopReason = "no_progress"
)

// Result is what complete_with_tools returns: either a final answer, or a
// stop reason explaining why the loop gave up without one.
type Result struct {
	FinalText  string
	StopReason StopReason
	Iterations int
	Messages   []Message // full transcript, including tool results appended
}

// Config holds every tunable threshold the loop enforces (§4.1, §9 defaults).
type Config struct {
	// MaxIterations caps the number of model-completion rounds. Default 50.
	MaxIterations int

	// MaxConsecutiveFailures caps repeated failures of the *same* tool before
	// the loop gives up. Default 10; StrictFailureMode drops it to 3.
	MaxConsecutiveFailures int
	StrictFailureMode      bool

	// NoProgressWarn/NoProgressHard are repetition thresholds on the
	// no-progress detector: reaching Warn injects a reflection prompt,
	// reaching Hard returns StopNoProgress. Defaults 3 and 5.
	NoProgressWarn int
	NoProgressHard int
	// NoProgressWindow is carried in the config but not read by Loop: the
	// no-progress detector compares against every tool-call signature seen
	// in the run, with no window.
	NoProgressWindow int

	Temperature float64
	MaxTokens   int
	ToolTimeout time.Duration

	// MaxOutputChars truncates a single tool result's output before it is
	// appended to the transcript (separate from the §4.3 compressor, which
	// runs after this as a content-aware pass).
	MaxOutputChars int
}

// DefaultConfig returns the spec's literal defaults (§9).
func DefaultConfig() Config {
	return Config{
		MaxIterations:          50,
		MaxConsecutiveFailures: 10,
		StrictFailureMode:      false,
		NoProgressWarn:         3,
		NoProgressHard:         5,
		NoProgressWindow:       20,
		Temperature:            0.3,
		MaxTokens:              4096,
		ToolTimeout:            60 * time.Minute,
		MaxOutputChars:         8000,
	}
}

func (c Config) failureThreshold() int {
	if c.StrictFailureMode {
		return 3
	}
	if c.MaxConsecutiveFailures > 0 {
		return c.MaxConsecutiveFailures
	}
	return 10
}
