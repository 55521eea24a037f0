package agentcore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/tool"
	"github.com/ngoclaw/ngoclaw/gateway/pkg/safego"
)

// Loop drives complete_with_tools: one conversation's worth of completion
// requests, response classification, and tool dispatch (§4.1).
type Loop struct {
	completer  Completer
	tools      ToolExecutor
	gate       PermissionChecker
	compressor ResultCompressor
	registry   ModelRegistry
	contextMgr ContextManager
	config     Config
	logger     *zap.Logger
}

// Option configures optional Loop collaborators.
type Option func(*Loop)

// WithPermissionGate wires the permission gate into tool dispatch. Without
// one, every write-class call proceeds unchecked — callers that care about
// §4.6 must supply this.
func WithPermissionGate(g PermissionChecker) Option {
	return func(l *Loop) { l.gate = g }
}

// WithCompressor wires the §4.3 tool-result compressor.
func WithCompressor(c ResultCompressor) Option {
	return func(l *Loop) { l.compressor = c }
}

// WithModelRegistry wires vision-capability and context-length tracking.
func WithModelRegistry(r ModelRegistry) Option {
	return func(l *Loop) { l.registry = r }
}

// WithContextManager wires the §4.3 summarize/truncate trigger policy.
// Without one, the loop never rewrites its own message history.
func WithContextManager(m ContextManager) Option {
	return func(l *Loop) { l.contextMgr = m }
}

// New builds a Loop. completer and tools are required; other collaborators
// default to permissive/no-op implementations.
func New(completer Completer, tools ToolExecutor, config Config, logger *zap.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		completer:  completer,
		tools:      tools,
		compressor: identityCompressor{},
		config:     config,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Callbacks is the loop's optional callback set: iteration count,
// content-replace, tool start, and tool completion. There is no
// token-streaming or tool-progress callback; a completion arrives whole and
// a tool reports only when it finishes. Any field may be nil.
type Callbacks struct {
	OnIteration      func(n int)
	OnContentReplace func(newContent string)
	OnToolStart      func(call ToolCallInfo)
	OnToolDone       func(call ToolCallInfo, resultJSON string, failed bool)
}

// Run executes complete_with_tools for one conversation: model, messages,
// tools (from l.tools.Definitions()), and the configured max_iterations.
// repoPath scopes permission grants (§4.6).
func (l *Loop) Run(ctx context.Context, model, repoPath string, messages []Message, cb Callbacks) Result {
	toolDefs := l.tools.Definitions()
	failures := newFailureStreak()
	noProgress := newNoProgressTracker()
	anyToolRan := false
	iterations := 0

	for {
		if iterations >= l.config.MaxIterations {
			return l.stopResult(messages, StopMaxIterations, iterations,
				fmt.Sprintf("Stopped after reaching the iteration cap (%d).", l.config.MaxIterations))
		}

		if len(messages) > 0 && messages[len(messages)-1].Role == "user" {
			clearStaleReasoning(messages)
		}

		iterations++
		if cb.OnIteration != nil {
			cb.OnIteration(iterations)
		}

		resp, err := l.completer.Complete(ctx, &Request{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       model,
			MaxTokens:   l.config.MaxTokens,
			Temperature: l.config.Temperature,
		})
		if err != nil {
			return l.stopResult(messages, StopNone, iterations, fmt.Sprintf("completion request failed: %v", err))
		}

		l.updateModelContext(model, resp.MaxContextLength)
		messages = l.applyContextPolicy(ctx, model, messages, resp)

		if containsCompletionSignal(resp.Content) {
			return Result{FinalText: resp.Content, StopReason: StopNone, Iterations: iterations, Messages: messages}
		}

		calls := resp.ToolCalls
		content := resp.Content

		if len(calls) == 0 {
			if recovered, stripped := recoverInlineToolCalls(content, toolNames(toolDefs)); len(recovered) > 0 {
				calls = recovered
				content = stripped
				if cb.OnContentReplace != nil {
					cb.OnContentReplace(stripped)
				}
			}
		}

		if len(calls) == 0 {
			switch classifyActionPhrase(content) {
			case actionStrong, actionWeak:
				messages = append(messages, Message{Role: "assistant", Content: resp.Content, ReasoningContent: resp.ReasoningContent, ToolCalls: resp.ToolCalls})
				messages = append(messages, Message{Role: "user", Content: proceedPrompt})
				continue
			}
			return Result{
				FinalText:  finalAnswer(content, resp.ReasoningContent, anyToolRan),
				StopReason: StopNone,
				Iterations: iterations,
				Messages:   messages,
			}
		}

		messages = append(messages, Message{
			Role:             "assistant",
			Content:          content,
			ReasoningContent: resp.ReasoningContent,
			ToolCalls:        calls,
		})
		anyToolRan = true

		messages, stop := l.dispatchCalls(ctx, model, repoPath, messages, calls, failures, cb)
		if stop != "" {
			return l.stopResult(messages, stop, iterations, stopMessage(stop, ""))
		}

		if n := noProgress.record(calls); n >= l.config.NoProgressHard {
			return l.stopResult(messages, StopNoProgress, iterations, stopMessage(StopNoProgress, ""))
		} else if n >= l.config.NoProgressWarn {
			messages = append(messages, Message{Role: "user", Content: noProgressReflectionPrompt})
		}
	}
}

// clearStaleReasoning drops reasoning-content from prior assistant turns once
// a new user turn begins — older chain-of-thought is not valid context for
// non-final turns with some providers (§4.1 step 1, §3 Message invariants).
func clearStaleReasoning(messages []Message) {
	for i := range messages {
		if messages[i].Role == "assistant" {
			messages[i].ReasoningContent = ""
		}
	}
}

func toolNames(defs []tool.Definition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}

func (l *Loop) dispatchCalls(ctx context.Context, model, repoPath string, messages []Message, calls []ToolCallInfo, failures *failureStreak, cb Callbacks) ([]Message, StopReason) {
	threshold := l.config.failureThreshold()

	for _, call := range calls {
		if cb.OnToolStart != nil {
			cb.OnToolStart(call)
		}

		resultJSON, failed := l.runOneTool(ctx, repoPath, call)
		resultJSON = l.compressor.Compress(call.Name, resultJSON)

		if cb.OnToolDone != nil {
			cb.OnToolDone(call, resultJSON, failed)
		}

		messages = append(messages, Message{
			Role:       "tool",
			Content:    resultJSON,
			Name:       call.Name,
			ToolCallID: call.ID,
		})

		if n := failures.record(call.Name, failed); n >= threshold {
			return messages, StopConsecutiveFailure
		}

		if l.registry != nil && l.registry.SupportsVision(model) {
			if imgURL, ok := extractScreenshotImage(resultJSON); ok {
				messages = append(messages, Message{
					Role: "user",
					Parts: []ContentPart{
						{Type: "image", MediaURL: imgURL},
					},
				})
			}
		}
	}

	return messages, ""
}

func (l *Loop) runOneTool(ctx context.Context, repoPath string, call ToolCallInfo) (resultJSON string, failed bool) {
	if l.gate != nil {
		granted, err := l.gate.Check(ctx, repoPath, call.Name, call.Arguments)
		if err != nil {
			return mustJSON(map[string]interface{}{"success": false, "error": err.Error()}), true
		}
		if !granted {
			return mustJSON(map[string]interface{}{"success": false, "error": "permission denied"}), true
		}
	}

	timeout := l.config.ToolTimeout
	if timeout <= 0 {
		timeout = 60 * time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res *tool.Result
	var execErr error
	done := make(chan struct{})
	safego.Go(l.logger, "agentcore-tool-exec", func() {
		defer close(done)
		res, execErr = l.tools.Execute(callCtx, call.Name, call.Arguments)
	})

	select {
	case <-done:
	case <-callCtx.Done():
		<-done // wait for the goroutine to observe cancellation and return
		if ctx.Err() == nil {
			// Inner timeout fired, outer context still live: a timeout failure,
			// not an outer cancellation (§5 tool-execution supervision).
			return mustJSON(map[string]interface{}{"error": "timeout", "timed_out": true}), true
		}
		// Outer cancellation: fall through and report whatever the goroutine
		// produced, same as a normal completion.
	}

	if execErr != nil {
		return mustJSON(map[string]interface{}{"success": false, "error": execErr.Error()}), true
	}
	if res == nil {
		return mustJSON(map[string]interface{}{"success": false, "error": "tool returned no result"}), true
	}

	out := map[string]interface{}{"success": res.Success, "output": res.Output}
	if res.Error != "" {
		out["error"] = res.Error
	}
	if res.Metadata != nil {
		out["metadata"] = res.Metadata
	}
	if len(res.Output) > l.config.MaxOutputChars && l.config.MaxOutputChars > 0 {
		out["output"] = res.Output[:l.config.MaxOutputChars] + fmt.Sprintf("\n[... truncated, original %d chars]", len(res.Output))
	}

	encoded := mustJSON(out)
	return encoded, isFailureResult(encoded)
}

func extractScreenshotImage(resultJSON string) (string, bool) {
	var probe struct {
		ImageBase64 string `json:"image_base64"`
		Screenshot  string `json:"screenshot"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &probe); err != nil {
		return "", false
	}
	if probe.ImageBase64 != "" {
		return "data:image/png;base64," + probe.ImageBase64, true
	}
	if probe.Screenshot != "" {
		return "data:image/png;base64," + probe.Screenshot, true
	}
	return "", false
}

// applyContextPolicy runs the §4.3 summarize/truncate trigger policy against
// the transcript as it stands after the latest response, before that
// response is classified or dispatched. A rewrite here only ever touches
// already-resolved turns, never the in-flight response.
func (l *Loop) applyContextPolicy(ctx context.Context, model string, messages []Message, resp *Response) []Message {
	if l.contextMgr == nil {
		return messages
	}

	maxContext := resp.MaxContextLength
	if l.registry != nil {
		if known := l.registry.MaxContextLength(model); known > 0 {
			maxContext = known
		}
	}
	maxContext = l.contextMgr.MaxContextLength(model, maxContext)
	if maxContext <= 0 {
		return messages
	}

	usage := TokenUsage{
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TokensUsed,
		MaxContextLength: maxContext,
	}

	rewritten, changed, err := l.contextMgr.Manage(ctx, messages, usage)
	if err != nil || !changed {
		return messages
	}
	return rewritten
}

func (l *Loop) updateModelContext(model string, maxContextLength int) {
	if l.registry == nil || maxContextLength <= 0 {
		return
	}
	if l.registry.MaxContextLength(model) != maxContextLength {
		l.registry.SetMaxContextLength(model, maxContextLength)
	}
}

func (l *Loop) stopResult(messages []Message, reason StopReason, iterations int, text string) Result {
	return Result{
		FinalText:  text,
		StopReason: reason,
		Iterations: iterations,
		Messages:   messages,
	}
}

func stopMessage(reason StopReason, detail string) string {
	switch reason {
	case StopMaxIterations:
		return "Stopped: reached the iteration cap."
	case StopConsecutiveFailure:
		if detail != "" {
			return fmt.Sprintf("Stopped: tool %q failed too many times in a row.", detail)
		}
		return "Stopped: a tool failed too many times in a row."
	case StopNoProgress:
		return "Stopped: the same tool calls kept repeating without progress."
	default:
		return ""
	}
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"success":false,"error":"internal: failed to encode tool result"}`
	}
	return string(b)
}
