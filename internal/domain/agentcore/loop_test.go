package agentcore

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/tool"
)

// fakeCompleter replays a scripted sequence of responses, one per call.
type fakeCompleter struct {
	responses []*Response
	calls     int
}

func (f *fakeCompleter) Complete(ctx context.Context, req *Request) (*Response, error) {
	if f.calls >= len(f.responses) {
		return &Response{Content: "fallback: script exhausted"}, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

// fakeTools runs each call against a scripted result, keyed by tool name.
type fakeTools struct {
	defs    []tool.Definition
	results map[string]*tool.Result
	execErr map[string]error
	calls   []string
}

func (f *fakeTools) Execute(ctx context.Context, name string, argsJSON string) (*tool.Result, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.execErr[name]; ok {
		return nil, err
	}
	if r, ok := f.results[name]; ok {
		return r, nil
	}
	return &tool.Result{Success: true, Output: "ok"}, nil
}

func (f *fakeTools) Definitions() []tool.Definition { return f.defs }
func (f *fakeTools) KindOf(name string) tool.Kind   { return tool.KindEdit }

func newTestLoop(completer *fakeCompleter, tools *fakeTools, cfg Config, opts ...Option) *Loop {
	return New(completer, tools, cfg, zap.NewNop(), opts...)
}

func TestLoop_CompletionSignalEndsImmediately(t *testing.T) {
	completer := &fakeCompleter{responses: []*Response{
		{Content: "All done. Task complete."},
	}}
	tools := &fakeTools{defs: []tool.Definition{{Name: "write_file"}}}
	loop := newTestLoop(completer, tools, DefaultConfig())

	res := loop.Run(context.Background(), "gpt-4o", "/repo", []Message{{Role: "user", Content: "do it"}}, Callbacks{})
	if res.StopReason != StopNone {
		t.Fatalf("expected clean completion, got stop reason %q", res.StopReason)
	}
	if res.FinalText != "All done. Task complete." {
		t.Fatalf("unexpected final text: %q", res.FinalText)
	}
	if completer.calls != 1 {
		t.Fatalf("expected exactly one completion call, got %d", completer.calls)
	}
}

func TestLoop_StructuredToolCallThenFinalAnswer(t *testing.T) {
	completer := &fakeCompleter{responses: []*Response{
		{ToolCalls: []ToolCallInfo{{ID: "c1", Name: "write_file", Arguments: `{"path":"a.go"}`}}},
		{Content: "Wrote the file."},
	}}
	tools := &fakeTools{
		defs:    []tool.Definition{{Name: "write_file"}},
		results: map[string]*tool.Result{"write_file": {Success: true, Output: "wrote a.go"}},
	}
	loop := newTestLoop(completer, tools, DefaultConfig())

	res := loop.Run(context.Background(), "gpt-4o", "/repo", []Message{{Role: "user", Content: "write a.go"}}, Callbacks{})
	if res.StopReason != StopNone {
		t.Fatalf("expected clean completion, got %q", res.StopReason)
	}
	if res.FinalText != "Wrote the file." {
		t.Fatalf("unexpected final text: %q", res.FinalText)
	}
	if len(tools.calls) != 1 || tools.calls[0] != "write_file" {
		t.Fatalf("expected exactly one write_file call, got %v", tools.calls)
	}

	// Transcript must be self-consistent: the tool-call message is followed
	// immediately by its matching tool-result message.
	foundCall, foundResult := false, false
	for i, m := range res.Messages {
		if m.Role == "assistant" && len(m.ToolCalls) == 1 && m.ToolCalls[0].ID == "c1" {
			foundCall = true
			if i+1 >= len(res.Messages) || res.Messages[i+1].Role != "tool" || res.Messages[i+1].ToolCallID != "c1" {
				t.Fatalf("expected tool-result message immediately after its call")
			}
			foundResult = true
		}
	}
	if !foundCall || !foundResult {
		t.Fatal("expected to find the tool call and its immediate result in the transcript")
	}
}

func TestLoop_InlineToolCallRecovery(t *testing.T) {
	completer := &fakeCompleter{responses: []*Response{
		{Content: `I'll write the file now. write_file{"path":"a.go","content":"package main"}`},
		{Content: "Done."},
	}}
	tools := &fakeTools{defs: []tool.Definition{{Name: "write_file"}}}
	loop := newTestLoop(completer, tools, DefaultConfig())

	var replaced string
	res := loop.Run(context.Background(), "gpt-4o", "/repo", []Message{{Role: "user", Content: "write a.go"}}, Callbacks{
		OnContentReplace: func(s string) { replaced = s },
	})
	if res.StopReason != StopNone {
		t.Fatalf("expected clean completion, got %q", res.StopReason)
	}
	if len(tools.calls) != 1 || tools.calls[0] != "write_file" {
		t.Fatalf("expected inline call to be recovered and dispatched, got %v", tools.calls)
	}
	if replaced == "" {
		t.Fatal("expected a content-replace event with the tool text stripped")
	}
}

func TestLoop_ActionPhraseStrongInjectsProceedPrompt(t *testing.T) {
	completer := &fakeCompleter{responses: []*Response{
		{Content: "Let me check the following:"},
		{Content: "Final answer."},
	}}
	tools := &fakeTools{defs: []tool.Definition{{Name: "write_file"}}}
	loop := newTestLoop(completer, tools, DefaultConfig())

	res := loop.Run(context.Background(), "gpt-4o", "/repo", []Message{{Role: "user", Content: "go"}}, Callbacks{})
	if res.StopReason != StopNone || res.FinalText != "Final answer." {
		t.Fatalf("expected the loop to continue past the action phrase and finish, got %+v", res)
	}
	if completer.calls != 2 {
		t.Fatalf("expected two completion calls (one for the action phrase, one after), got %d", completer.calls)
	}

	foundProceed := false
	for _, m := range res.Messages {
		if m.Role == "user" && m.Content == proceedPrompt {
			foundProceed = true
		}
	}
	if !foundProceed {
		t.Fatal("expected the synthetic proceed-prompt user message to be appended")
	}
}

func TestLoop_MaxIterationsStops(t *testing.T) {
	responses := make([]*Response, 0, 60)
	for i := 0; i < 60; i++ {
		responses = append(responses, &Response{Content: "Let me continue working on this:"})
	}
	completer := &fakeCompleter{responses: responses}
	tools := &fakeTools{defs: []tool.Definition{{Name: "write_file"}}}
	cfg := DefaultConfig()
	cfg.MaxIterations = 5
	loop := newTestLoop(completer, tools, cfg)

	res := loop.Run(context.Background(), "gpt-4o", "/repo", []Message{{Role: "user", Content: "go"}}, Callbacks{})
	if res.StopReason != StopMaxIterations {
		t.Fatalf("expected StopMaxIterations, got %q", res.StopReason)
	}
	if res.Iterations != cfg.MaxIterations {
		t.Fatalf("expected exactly %d iterations, got %d", cfg.MaxIterations, res.Iterations)
	}
}

func TestLoop_ConsecutiveFailureCapStops(t *testing.T) {
	// Arguments vary on every call so the no-progress detector (a distinct
	// stall detector) never fires and this test isolates the failure cap.
	var responses []*Response
	for i := 0; i < 12; i++ {
		responses = append(responses, &Response{
			ToolCalls: []ToolCallInfo{{ID: "c", Name: "run_build", Arguments: fmt.Sprintf(`{"attempt":%d}`, i)}},
		})
	}
	completer := &fakeCompleter{responses: responses}
	tools := &fakeTools{
		defs:    []tool.Definition{{Name: "run_build"}},
		results: map[string]*tool.Result{"run_build": {Success: false, Error: "build failed"}},
	}
	cfg := DefaultConfig()
	loop := newTestLoop(completer, tools, cfg)

	res := loop.Run(context.Background(), "gpt-4o", "/repo", []Message{{Role: "user", Content: "build it"}}, Callbacks{})
	if res.StopReason != StopConsecutiveFailure {
		t.Fatalf("expected StopConsecutiveFailure, got %q", res.StopReason)
	}
	if len(tools.calls) != cfg.MaxConsecutiveFailures {
		t.Fatalf("expected exactly %d attempts before stopping, got %d", cfg.MaxConsecutiveFailures, len(tools.calls))
	}
}

func TestLoop_NoProgressHardStop(t *testing.T) {
	var responses []*Response
	for i := 0; i < 8; i++ {
		responses = append(responses, &Response{
			ToolCalls: []ToolCallInfo{{ID: "c", Name: "read_file", Arguments: `{"path":"a.go"}`}},
		})
	}
	completer := &fakeCompleter{responses: responses}
	tools := &fakeTools{defs: []tool.Definition{{Name: "read_file"}}}
	cfg := DefaultConfig()
	loop := newTestLoop(completer, tools, cfg)

	res := loop.Run(context.Background(), "gpt-4o", "/repo", []Message{{Role: "user", Content: "read it"}}, Callbacks{})
	if res.StopReason != StopNoProgress {
		t.Fatalf("expected StopNoProgress, got %q", res.StopReason)
	}
}

func TestLoop_PermissionGateDeniesWriteCall(t *testing.T) {
	completer := &fakeCompleter{responses: []*Response{
		{ToolCalls: []ToolCallInfo{{ID: "c1", Name: "write_file", Arguments: `{"path":"a.go"}`}}},
		{Content: "Stopped because permission was denied."},
	}}
	tools := &fakeTools{defs: []tool.Definition{{Name: "write_file"}}}
	denyGate := permissionCheckerFunc(func(ctx context.Context, repoPath, toolName, argsJSON string) (bool, error) {
		return false, nil
	})
	loop := newTestLoop(completer, tools, DefaultConfig(), WithPermissionGate(denyGate))

	res := loop.Run(context.Background(), "gpt-4o", "/repo", []Message{{Role: "user", Content: "write"}}, Callbacks{})
	if res.StopReason != StopNone {
		t.Fatalf("unexpected stop reason: %q", res.StopReason)
	}
	if len(tools.calls) != 0 {
		t.Fatalf("expected the tool executor never to run when permission is denied, got %v", tools.calls)
	}
}

type permissionCheckerFunc func(ctx context.Context, repoPath, toolName, argsJSON string) (bool, error)

func (f permissionCheckerFunc) Check(ctx context.Context, repoPath, toolName, argsJSON string) (bool, error) {
	return f(ctx, repoPath, toolName, argsJSON)
}

func TestLoop_EmptyResponseFallsBackToFixedMessage(t *testing.T) {
	completer := &fakeCompleter{responses: []*Response{{Content: ""}}}
	tools := &fakeTools{defs: []tool.Definition{{Name: "write_file"}}}
	loop := newTestLoop(completer, tools, DefaultConfig())

	res := loop.Run(context.Background(), "gpt-4o", "/repo", []Message{{Role: "user", Content: "hi"}}, Callbacks{})
	if res.FinalText != fallbackEmptyMessage {
		t.Fatalf("expected the fixed empty-response fallback, got %q", res.FinalText)
	}
}

// fakeContextManager scripts whether Manage rewrites the message list, and
// records every usage snapshot it was asked to judge.
type fakeContextManager struct {
	rewriteWith []Message
	seenUsage   []TokenUsage
	maxContext  int
}

func (f *fakeContextManager) Manage(_ context.Context, messages []Message, usage TokenUsage) ([]Message, bool, error) {
	f.seenUsage = append(f.seenUsage, usage)
	if f.rewriteWith != nil {
		return f.rewriteWith, true, nil
	}
	return messages, false, nil
}

func (f *fakeContextManager) MaxContextLength(model string, reported int) int {
	if reported > 0 {
		return reported
	}
	return f.maxContext
}

func TestLoop_ContextManagerRewritesHistoryBetweenIterations(t *testing.T) {
	completer := &fakeCompleter{responses: []*Response{
		{Content: "", ToolCalls: []ToolCallInfo{{ID: "c1", Name: "write_file", Arguments: `{"path":"a.go"}`}}, PromptTokens: 950, MaxContextLength: 1000},
		{Content: "Done after compaction."},
	}}
	tools := &fakeTools{defs: []tool.Definition{{Name: "write_file"}}}
	cm := &fakeContextManager{rewriteWith: []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "[CONVERSATION SUMMARY - ...]\ncondensed\n[END SUMMARY - Continue from here]"},
		{Role: "assistant", Content: "ack"},
	}}
	loop := newTestLoop(completer, tools, DefaultConfig(), WithContextManager(cm))

	res := loop.Run(context.Background(), "gpt-4o", "/repo", []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "do it"},
	}, Callbacks{})

	if res.StopReason != StopNone {
		t.Fatalf("expected clean completion, got %q", res.StopReason)
	}
	if len(cm.seenUsage) == 0 || cm.seenUsage[0].PromptTokens != 950 || cm.seenUsage[0].MaxContextLength != 1000 {
		t.Fatalf("expected the context manager to see the response's usage, got %+v", cm.seenUsage)
	}
	// The rewrite replaced history with 3 messages, then the tool dispatch for
	// the first response's call appended 1 more (assistant) + 1 more (tool).
	foundSummary := false
	for _, m := range res.Messages {
		if m.Content != "" && m.Role == "user" && len(m.Content) > 10 && m.Content[0] == '[' {
			foundSummary = true
		}
	}
	if !foundSummary {
		t.Fatalf("expected the rewritten summary message to survive into the final transcript, got %+v", res.Messages)
	}
}

func TestLoop_ContextManagerNotConsultedWithoutMaxContextLength(t *testing.T) {
	completer := &fakeCompleter{responses: []*Response{
		{Content: "All done. Task complete."},
	}}
	tools := &fakeTools{defs: []tool.Definition{{Name: "write_file"}}}
	cm := &fakeContextManager{} // maxContext defaults to 0: unknown
	loop := newTestLoop(completer, tools, DefaultConfig(), WithContextManager(cm))

	loop.Run(context.Background(), "gpt-4o", "/repo", []Message{{Role: "user", Content: "hi"}}, Callbacks{})
	if len(cm.seenUsage) != 0 {
		t.Fatalf("expected Manage to be skipped when no context length is known, got %+v", cm.seenUsage)
	}
}
