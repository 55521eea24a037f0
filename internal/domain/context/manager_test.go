package context

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type scriptedSummarizer struct {
	summary string
	err     error
}

func (s *scriptedSummarizer) Summarize(_ context.Context, _ []Message) (string, error) {
	return s.summary, s.err
}

func conversation(n int) []Message {
	messages := []Message{{Role: "system", Content: "You are a coding agent."}}
	for i := 0; i < n; i++ {
		messages = append(messages,
			Message{Role: "user", Content: strings.Repeat("please do the next step. ", 50)},
			Message{Role: "assistant", Content: strings.Repeat("working on it. ", 50)},
		)
	}
	return messages
}

func TestManager_BelowThresholdDoesNothing(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), nil, &scriptedSummarizer{summary: "s"})
	messages := conversation(2)

	out, changed, err := m.Manage(context.Background(), messages, TokenUsage{PromptTokens: 10, MaxContextLength: 1000000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatal("expected no rewrite below the soft threshold")
	}
	if len(out) != len(messages) {
		t.Fatalf("expected message list unchanged, got %d vs %d", len(out), len(messages))
	}
}

func TestManager_AtThresholdSummarizes(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), nil, &scriptedSummarizer{summary: "condensed history"})
	messages := conversation(20)

	out, changed, err := m.Manage(context.Background(), messages, TokenUsage{PromptTokens: 950, MaxContextLength: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected a rewrite at or above the soft threshold")
	}
	if len(out) != 3 {
		t.Fatalf("expected system + summary + ack, got %d messages", len(out))
	}
	if out[0].Role != "system" {
		t.Fatal("expected the system message preserved first")
	}
	if !strings.Contains(out[1].Content, summaryHeader) || !strings.Contains(out[1].Content, summaryFooter) {
		t.Fatalf("expected the literal summary delimiters, got %q", out[1].Content)
	}
	if !strings.Contains(out[1].Content, "condensed history") {
		t.Fatal("expected the summarizer's output embedded in the wrapped message")
	}
	if out[2].Role != "assistant" {
		t.Fatal("expected a trailing assistant acknowledgement")
	}
}

func TestManager_SummarizeFailureFallsBackToTruncate(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), nil, &scriptedSummarizer{err: errors.New("model unavailable")})
	messages := conversation(20)

	out, changed, err := m.Manage(context.Background(), messages, TokenUsage{PromptTokens: 950, MaxContextLength: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected a rewrite even when summarization fails")
	}
	// system + note + ack + TruncateKeep tail messages
	want := 3 + DefaultManagerConfig().TruncateKeep
	if len(out) != want {
		t.Fatalf("expected %d messages after truncate fallback, got %d", want, len(out))
	}
}

func TestManager_NoSummarizerGoesStraightToTruncate(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), nil, nil)
	messages := conversation(20)

	out, changed, err := m.Manage(context.Background(), messages, TokenUsage{PromptTokens: 950, MaxContextLength: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected truncation to run even without a summarizer")
	}
	if out[1].Content != truncationNote || out[2].Content != truncationAck {
		t.Fatalf("expected the note/ack pair, got %+v", out[1:3])
	}
}

func TestManager_TruncateNeverModifiesKeptContent(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), nil, nil)
	messages := conversation(20)
	out := m.truncate(messages)

	tail := out[len(out)-DefaultManagerConfig().TruncateKeep:]
	originalTail := messages[len(messages)-DefaultManagerConfig().TruncateKeep:]
	for i := range tail {
		if tail[i].Content != originalTail[i].Content {
			t.Fatalf("expected kept message content untouched at index %d", i)
		}
	}
}

func TestManager_MaxContextLength_PrefersReported(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), nil, nil)
	if got := m.MaxContextLength("gpt-4o", 50000); got != 50000 {
		t.Errorf("expected reported length to win, got %d", got)
	}
	if got := m.MaxContextLength("gpt-4o", 0); got != 128000 {
		t.Errorf("expected fallback table length, got %d", got)
	}
}

func TestManager_CheapPruneDoesNotCallSummarizer(t *testing.T) {
	called := false
	s := &scriptedSummarizer{summary: "x"}
	_ = s
	m := NewManager(DefaultManagerConfig(), nil, &countingSummarizer{onCall: func() { called = true }})

	m.CheapPrune(conversation(30))
	if called {
		t.Fatal("expected CheapPrune to never invoke the summarizer")
	}
}

type countingSummarizer struct {
	onCall func()
}

func (c *countingSummarizer) Summarize(_ context.Context, _ []Message) (string, error) {
	c.onCall()
	return "x", nil
}
