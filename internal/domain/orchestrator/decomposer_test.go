package orchestrator

import (
	"context"
	"testing"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
)

type fakePlanCompleter struct {
	response string
	err      error
}

func (f *fakePlanCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	return f.response, f.err
}

func TestExtractJSON_FencedJSONBlock(t *testing.T) {
	text := "Here is the plan:\n```json\n{\"summary\":\"x\"}\n```\nhope that helps"
	got, ok := extractJSON(text)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if got != `{"summary":"x"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSON_BareFence(t *testing.T) {
	text := "```\n{\"summary\":\"y\"}\n```"
	got, ok := extractJSON(text)
	if !ok || got != `{"summary":"y"}` {
		t.Errorf("got %q, ok=%v", got, ok)
	}
}

func TestExtractJSON_LargestBalancedBrace(t *testing.T) {
	text := `some preamble {"ignored": "because smaller"} and then the real one: {"summary": "real plan", "nested": {"a": 1}} trailing text`
	got, ok := extractJSON(text)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if got != `{"summary": "real plan", "nested": {"a": 1}}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSON_BracesInsideStringsIgnored(t *testing.T) {
	text := `{"summary": "curly brace in prose: } not a real close"}`
	got, ok := extractJSON(text)
	if !ok || got != text {
		t.Errorf("got %q, ok=%v", got, ok)
	}
}

func TestExtractJSON_NoJSONAtAll(t *testing.T) {
	if _, ok := extractJSON("no json here at all"); ok {
		t.Fatal("expected extraction to fail")
	}
}

func TestDecompose_WellFormedResponse(t *testing.T) {
	completer := &fakePlanCompleter{response: "```json\n" + `{
		"summary": "add health check",
		"subtasks": [
			{"id": "task-1", "title": "handler", "description": "write it", "type": "implementation", "complexity": "simple", "dependencies": []},
			{"id": "task-2", "title": "test", "description": "test it", "type": "testing", "complexity": "medium", "dependencies": ["task-1"]}
		],
		"recommendedAgentCount": 2
	}` + "\n```"}

	p, err := Decompose(context.Background(), completer, "gpt-4o", "task-abc", "add a health check endpoint", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(p.Subtasks))
	}
	if p.RecommendedAgentCount != 2 {
		t.Errorf("expected recommendedAgentCount 2, got %d", p.RecommendedAgentCount)
	}
	if p.Subtasks[1].Dependencies[0] != "task-1" {
		t.Errorf("expected task-2 to depend on task-1, got %+v", p.Subtasks[1].Dependencies)
	}
}

func TestDecompose_BadEnumsDefaulted(t *testing.T) {
	completer := &fakePlanCompleter{response: `{
		"summary": "x",
		"subtasks": [
			{"id": "task-1", "title": "t", "description": "d", "type": "not-a-real-type", "complexity": "super-hard"}
		]
	}`}

	p, err := Decompose(context.Background(), completer, "gpt-4o", "task-abc", "do something", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := p.Subtasks[0]
	if st.Type != plan.DefaultType {
		t.Errorf("expected default type, got %q", st.Type)
	}
	if st.Complexity != plan.DefaultComplexity {
		t.Errorf("expected default complexity, got %q", st.Complexity)
	}
	if st.Dependencies == nil || len(st.Dependencies) != 0 {
		t.Errorf("expected an empty (non-nil) dependency list, got %+v", st.Dependencies)
	}
}

func TestDecompose_UnparsableResponseFallsBackToDegenerate(t *testing.T) {
	completer := &fakePlanCompleter{response: "I refuse to produce JSON today."}

	p, err := Decompose(context.Background(), completer, "gpt-4o", "task-abc", "fix the login bug", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Subtasks) != 1 || p.Subtasks[0].Description != "fix the login bug" {
		t.Fatalf("expected the degenerate single-subtask fallback, got %+v", p)
	}
}

func TestDecompose_CompletionErrorPropagates(t *testing.T) {
	completer := &fakePlanCompleter{err: context.DeadlineExceeded}
	_, err := Decompose(context.Background(), completer, "gpt-4o", "task-abc", "do it", "")
	if err == nil {
		t.Fatal("expected the completion error to propagate rather than degrade to a degenerate plan")
	}
}
