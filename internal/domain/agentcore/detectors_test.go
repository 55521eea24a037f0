package agentcore

import "testing"

func TestIsFailureResult(t *testing.T) {
	cases := map[string]bool{
		`{"success":true,"output":"ok"}`:                   false,
		`{"success":false,"error":"bad args"}`:              true,
		`{"success":true,"timed_out":true}`:                 true,
		`{"success":true,"stderr":"timeout"}`:                true,
		`{"success":true,"stderr":"Timeout"}`:                true,
		`{"success":true,"error":null}`:                      false,
		`{"success":true,"error":"oops"}`:                    true,
		`not even json`:                                      false,
	}
	for input, want := range cases {
		if got := isFailureResult(input); got != want {
			t.Errorf("isFailureResult(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestFailureStreak_ResetsOnSuccess(t *testing.T) {
	f := newFailureStreak()
	if n := f.record("build", true); n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}
	if n := f.record("build", true); n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}
	if n := f.record("build", false); n != 0 {
		t.Fatalf("expected success to reset count to 0, got %d", n)
	}
	if n := f.record("build", true); n != 1 {
		t.Fatalf("expected count to restart at 1 after reset, got %d", n)
	}
}

func TestFailureStreak_IndependentPerTool(t *testing.T) {
	f := newFailureStreak()
	f.record("build", true)
	f.record("build", true)
	if n := f.record("lint", true); n != 1 {
		t.Fatalf("expected a fresh counter for a different tool name, got %d", n)
	}
}

func TestNoProgressTracker_ResetsOnNewSignature(t *testing.T) {
	n := newNoProgressTracker()
	repeat := ToolCallInfo{Name: "read_file", Arguments: `{"path":"a.go"}`}

	if got := n.record([]ToolCallInfo{repeat}); got != 0 {
		t.Fatalf("expected 0 on first sighting, got %d", got)
	}
	if got := n.record([]ToolCallInfo{repeat}); got != 1 {
		t.Fatalf("expected 1 on first repeat, got %d", got)
	}
	if got := n.record([]ToolCallInfo{repeat}); got != 2 {
		t.Fatalf("expected 2 on second repeat, got %d", got)
	}

	fresh := ToolCallInfo{Name: "read_file", Arguments: `{"path":"b.go"}`}
	if got := n.record([]ToolCallInfo{fresh}); got != 0 {
		t.Fatalf("expected a new signature to reset the counter to 0, got %d", got)
	}
}

func TestNoProgressTracker_MixedBatchWithOneNewSignatureDoesNotCount(t *testing.T) {
	n := newNoProgressTracker()
	a := ToolCallInfo{Name: "read_file", Arguments: `{"path":"a.go"}`}
	b := ToolCallInfo{Name: "read_file", Arguments: `{"path":"b.go"}`}

	n.record([]ToolCallInfo{a})
	// Second response repeats a but also introduces b for the first time:
	// not ALL calls are repeats, so the counter must not advance.
	if got := n.record([]ToolCallInfo{a, b}); got != 0 {
		t.Fatalf("expected counter to stay at 0 when the batch has any new signature, got %d", got)
	}
}
