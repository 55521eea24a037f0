package agentcore

import "testing"

func TestRecoverInlineToolCalls_SingleCall(t *testing.T) {
	content := `I'll write the file now. write_file{"path":"a.go","content":"package main"}`
	calls, cleaned := recoverInlineToolCalls(content, []string{"write_file", "read_file"})

	if len(calls) != 1 {
		t.Fatalf("expected exactly one recovered call, got %d", len(calls))
	}
	if calls[0].Name != "write_file" {
		t.Fatalf("unexpected tool name: %q", calls[0].Name)
	}
	if calls[0].Arguments != `{"path":"a.go","content":"package main"}` {
		t.Fatalf("unexpected arguments: %q", calls[0].Arguments)
	}
	if calls[0].ID == "" {
		t.Fatal("expected a synthesized id")
	}
	if cleaned != "I'll write the file now." {
		t.Fatalf("expected the tool-call span stripped from content, got %q", cleaned)
	}
}

func TestRecoverInlineToolCalls_NestedBracesAndEscapedQuotes(t *testing.T) {
	content := `read_file{"path":"a.go","opts":{"encoding":"utf-8","note":"say \"hi\""}}`
	calls, cleaned := recoverInlineToolCalls(content, []string{"read_file"})

	if len(calls) != 1 {
		t.Fatalf("expected one call, got %d", len(calls))
	}
	want := `{"path":"a.go","opts":{"encoding":"utf-8","note":"say \"hi\""}}`
	if calls[0].Arguments != want {
		t.Fatalf("expected brace-balanced extraction past nested braces/escaped quotes:\ngot  %q\nwant %q", calls[0].Arguments, want)
	}
	if cleaned != "" {
		t.Fatalf("expected nothing left after stripping the sole call, got %q", cleaned)
	}
}

func TestRecoverInlineToolCalls_MultipleCallsInOrder(t *testing.T) {
	content := `First read_file{"path":"a.go"} then write_file{"path":"b.go"}`
	calls, _ := recoverInlineToolCalls(content, []string{"write_file", "read_file"})

	if len(calls) != 2 {
		t.Fatalf("expected two recovered calls, got %d", len(calls))
	}
	if calls[0].Name != "read_file" || calls[1].Name != "write_file" {
		t.Fatalf("expected calls in textual order regardless of toolNames iteration order, got %+v", calls)
	}
}

func TestRecoverInlineToolCalls_WordBoundaryAvoidsSubstringMatch(t *testing.T) {
	content := `can_write_file{"path":"a.go"} should not match write_file`
	calls, _ := recoverInlineToolCalls(content, []string{"write_file"})
	if len(calls) != 0 {
		t.Fatalf("expected no match for a tool name embedded in a longer identifier, got %d", len(calls))
	}
}

func TestRecoverInlineToolCalls_NoMatchReturnsOriginalContent(t *testing.T) {
	content := "Just a plain sentence with no tool calls."
	calls, cleaned := recoverInlineToolCalls(content, []string{"write_file"})
	if calls != nil {
		t.Fatalf("expected no recovered calls, got %v", calls)
	}
	if cleaned != content {
		t.Fatalf("expected content unchanged when nothing recovered, got %q", cleaned)
	}
}

func TestRecoverInlineToolCalls_UnbalancedBraceIsIgnored(t *testing.T) {
	content := `write_file{"path":"a.go"`
	calls, cleaned := recoverInlineToolCalls(content, []string{"write_file"})
	if calls != nil {
		t.Fatalf("expected no recovered call for an unterminated JSON object, got %v", calls)
	}
	if cleaned != content {
		t.Fatalf("expected content unchanged, got %q", cleaned)
	}
}
