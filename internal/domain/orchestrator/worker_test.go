package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/agentcore"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/tool"
)

type fakeCompleter struct {
	response *agentcore.Response
	err      error
}

func (f *fakeCompleter) Complete(_ context.Context, _ *agentcore.Request) (*agentcore.Response, error) {
	return f.response, f.err
}

type fakeTools struct{}

func (f *fakeTools) Execute(_ context.Context, _ string, _ string) (*tool.Result, error) {
	return &tool.Result{Success: true}, nil
}
func (f *fakeTools) Definitions() []tool.Definition { return nil }
func (f *fakeTools) KindOf(_ string) tool.Kind       { return tool.KindRead }

func TestLoopSpawner_SuccessfulSubtaskReturnsFinalAnswer(t *testing.T) {
	completer := &fakeCompleter{response: &agentcore.Response{Content: "Task complete."}}
	newLoop := func() *agentcore.Loop {
		return agentcore.New(completer, &fakeTools{}, agentcore.DefaultConfig(), zap.NewNop())
	}

	spawner := NewLoopSpawner(LoopSpawnerConfig{
		Model:        "gpt-4o",
		RootWorkDir:  filepath.Join(t.TempDir(), "work"),
		SystemPrompt: "you are a worker agent",
	}, newLoop)

	st := &plan.Subtask{ID: "task-1", Title: "do the thing", Description: "do it well"}
	result, err := spawner.Spawn(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failed {
		t.Fatal("expected a successful worker result")
	}
	if result.Summary != "Task complete." {
		t.Errorf("expected the final answer passed through, got %q", result.Summary)
	}
}

func TestLoopSpawner_UsesThinkingModelWhenEscalated(t *testing.T) {
	var gotModel string
	completer := &fakeCompleter{response: &agentcore.Response{Content: "done"}}
	newLoop := func() *agentcore.Loop {
		return agentcore.New(&modelCapturingCompleter{inner: completer, got: &gotModel}, &fakeTools{}, agentcore.DefaultConfig(), zap.NewNop())
	}

	spawner := NewLoopSpawner(LoopSpawnerConfig{
		Model:         "gpt-4o",
		ThinkingModel: "o1",
		RootWorkDir:   filepath.Join(t.TempDir(), "work"),
	}, newLoop)

	st := &plan.Subtask{ID: "task-1", UseThinkingModel: true}
	if _, err := spawner.Spawn(context.Background(), st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotModel != "o1" {
		t.Errorf("expected the thinking model to be used, got %q", gotModel)
	}
}

type modelCapturingCompleter struct {
	inner agentcore.Completer
	got   *string
}

func (m *modelCapturingCompleter) Complete(ctx context.Context, req *agentcore.Request) (*agentcore.Response, error) {
	*m.got = req.Model
	return m.inner.Complete(ctx, req)
}

func TestLoopSpawner_NonCleanStopReportsFailure(t *testing.T) {
	cfg := agentcore.DefaultConfig()
	cfg.MaxIterations = 1
	completer := &fakeCompleter{response: &agentcore.Response{
		Content:   "",
		ToolCalls: []agentcore.ToolCallInfo{{ID: "c1", Name: "noop", Arguments: "{}"}},
	}}
	newLoop := func() *agentcore.Loop {
		return agentcore.New(completer, &fakeTools{}, cfg, zap.NewNop())
	}

	spawner := NewLoopSpawner(LoopSpawnerConfig{
		Model:       "gpt-4o",
		RootWorkDir: filepath.Join(t.TempDir(), "work"),
	}, newLoop)

	st := &plan.Subtask{ID: "task-1"}
	result, err := spawner.Spawn(context.Background(), st)
	if err == nil {
		t.Fatal("expected an error when the loop stops without a clean completion")
	}
	if !result.Failed {
		t.Fatal("expected the worker result to be marked failed")
	}
}
