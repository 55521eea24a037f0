package stream

import (
	"context"
	"strings"
	"testing"
	"time"
)

func sseBody(events ...string) string {
	return strings.Join(events, "\n") + "\n"
}

func TestDecode_ContentAccumulates(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	)

	var tokens []string
	res, err := Decode(context.Background(), strings.NewReader(body), Callbacks{
		OnToken: func(d string) { tokens = append(tokens, d) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "Hello" {
		t.Fatalf("expected merged content %q, got %q", "Hello", res.Content)
	}
	if res.FinishReason != "stop" {
		t.Fatalf("expected finish reason stop, got %q", res.FinishReason)
	}
	if strings.Join(tokens, "") != "Hello" {
		t.Fatalf("expected OnToken deltas to reconstruct content, got %v", tokens)
	}
}

func TestDecode_ToolCallDeltaMerge(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"write_file","arguments":"{\"pa"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"x\"}"}}]}}]}`,
		`data: [DONE]`,
	)

	res, err := Decode(context.Background(), strings.NewReader(body), Callbacks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("expected exactly one merged tool call, got %d", len(res.ToolCalls))
	}
	tc := res.ToolCalls[0]
	if tc.ID != "c1" {
		t.Fatalf("expected id to be taken once from the first fragment, got %q", tc.ID)
	}
	if tc.Name != "write_file" {
		t.Fatalf("expected name taken from the first fragment, got %q", tc.Name)
	}
	if tc.Arguments != `{"path":"x"}` {
		t.Fatalf("expected concatenated arguments %q, got %q", `{"path":"x"}`, tc.Arguments)
	}
}

func TestDecode_ToolCallIndexOrderingOutOfArrival(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"second","function":{"name":"b","arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"first","function":{"name":"a","arguments":"{}"}}]}}]}`,
		`data: [DONE]`,
	)

	res, err := Decode(context.Background(), strings.NewReader(body), Callbacks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected two tool calls, got %d", len(res.ToolCalls))
	}
	if res.ToolCalls[0].ID != "first" || res.ToolCalls[1].ID != "second" {
		t.Fatalf("expected ascending-index output order regardless of arrival order, got %+v", res.ToolCalls)
	}
}

func TestDecode_MissingToolCallIDSynthesized(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"a","arguments":"{}"}}]}}]}`,
		`data: [DONE]`,
	)

	res, err := Decode(context.Background(), strings.NewReader(body), Callbacks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ID == "" {
		t.Fatalf("expected a synthesized non-empty id, got %+v", res.ToolCalls)
	}
}

func TestDecode_TrailingUsageOnlyEventCaptured(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"content":"hi"},"finish_reason":null}]}`,
		`data: {"choices":[],"usage":{"total_tokens":42}}`,
		`data: [DONE]`,
	)

	var gotUsage *Usage
	res, err := Decode(context.Background(), strings.NewReader(body), Callbacks{
		OnUsage: func(u *Usage) { gotUsage = u },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Usage == nil || res.Usage.Total() != 42 {
		t.Fatalf("expected trailing usage-only event to be captured, got %+v", res.Usage)
	}
	if gotUsage == nil || gotUsage.Total() != 42 {
		t.Fatalf("expected OnUsage callback to fire with the usage event")
	}
}

// blockingReader never returns, simulating a stalled connection with zero
// bytes delivered — the idle timeout must fire as a hard error since no
// progress was ever made.
type blockingReader struct {
	unblock chan struct{}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	<-b.unblock
	return 0, context.Canceled
}

func TestDecode_IdleTimeoutBeforeProgressIsHardError(t *testing.T) {
	orig := IdleTimeout
	IdleTimeout = 20 * time.Millisecond
	defer func() { IdleTimeout = orig }()

	r := &blockingReader{unblock: make(chan struct{})}
	defer close(r.unblock)

	_, err := Decode(context.Background(), r, Callbacks{})
	if err == nil {
		t.Fatal("expected idle timeout before any progress to be a hard error")
	}
}

// progressThenStallReader emits one valid SSE line, then blocks forever —
// simulating a provider that streamed some content and then the connection
// went idle without a [DONE] sentinel.
type progressThenStallReader struct {
	data    []byte
	sent    bool
	unblock chan struct{}
}

func (r *progressThenStallReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		n := copy(p, r.data)
		return n, nil
	}
	<-r.unblock
	return 0, context.Canceled
}

func TestDecode_IdleTimeoutAfterProgressIsCleanEnd(t *testing.T) {
	orig := IdleTimeout
	IdleTimeout = 20 * time.Millisecond
	defer func() { IdleTimeout = orig }()

	line := []byte(`data: {"choices":[{"delta":{"content":"partial"}}]}` + "\n")
	r := &progressThenStallReader{data: line, unblock: make(chan struct{})}
	defer close(r.unblock)

	res, err := Decode(context.Background(), r, Callbacks{})
	if err != nil {
		t.Fatalf("expected idle timeout after progress to end cleanly, got error: %v", err)
	}
	if res.Content != "partial" {
		t.Fatalf("expected partial content to survive the clean end-of-stream, got %q", res.Content)
	}
}
