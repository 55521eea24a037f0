package security

import (
	"context"
	"testing"
)

type memStore struct {
	grants map[string]bool
}

func newMemStore() *memStore { return &memStore{grants: map[string]bool{}} }

func (m *memStore) Get(repoPath, toolName string) (bool, error) {
	return m.grants[key(repoPath, toolName)], nil
}

func (m *memStore) Set(repoPath, toolName string, granted bool) error {
	m.grants[key(repoPath, toolName)] = granted
	return nil
}

func TestGate_ReadOnlyBypasses(t *testing.T) {
	c := NewStaticClassifier([]string{"write_file"}, nil, nil, nil)
	g := NewGate(c, nil, nil, nil, nil)

	ok, err := g.Check(context.Background(), "/repo", "read_file", "{}")
	if err != nil || !ok {
		t.Fatalf("expected read-only tool to bypass gate, got ok=%v err=%v", ok, err)
	}
}

func TestGate_WriteRequiresPromptThenRemembersSession(t *testing.T) {
	c := NewStaticClassifier([]string{"write_file"}, nil, nil, nil)
	calls := 0
	prompt := func(ctx context.Context, tool, args string) (Decision, error) {
		calls++
		return DecisionSession, nil
	}
	g := NewGate(c, nil, prompt, nil, nil)

	ok, err := g.Check(context.Background(), "/repo", "write_file", "{}")
	if err != nil || !ok {
		t.Fatalf("expected first write call to be granted, got ok=%v err=%v", ok, err)
	}
	if calls != 1 {
		t.Fatalf("expected prompt to fire once, got %d", calls)
	}

	// Second call to same (repo, tool) should be granted from the session
	// store without prompting again.
	ok, err = g.Check(context.Background(), "/repo", "write_file", "{}")
	if err != nil || !ok {
		t.Fatalf("expected session grant to cover second call, got ok=%v err=%v", ok, err)
	}
	if calls != 1 {
		t.Fatalf("expected no second prompt, got %d calls", calls)
	}
}

func TestGate_AlwaysGrantPersists(t *testing.T) {
	c := NewStaticClassifier([]string{"delete_file"}, nil, nil, nil)
	store := newMemStore()
	prompt := func(ctx context.Context, tool, args string) (Decision, error) {
		return DecisionAlways, nil
	}
	g := NewGate(c, store, prompt, nil, nil)

	ok, _ := g.Check(context.Background(), "/Repo/", "delete_file", "{}")
	if !ok {
		t.Fatal("expected grant")
	}

	// A fresh gate with the same persistent store (path case/trailing-slash
	// varied) should see the always-grant without prompting.
	g2 := NewGate(c, store, func(context.Context, string, string) (Decision, error) {
		t.Fatal("should not prompt again: an always-grant exists")
		return DecisionDeny, nil
	}, nil, nil)

	ok, err := g2.Check(context.Background(), "/repo", "delete_file", "{}")
	if err != nil || !ok {
		t.Fatalf("expected persisted always-grant to apply across path normalization, got ok=%v err=%v", ok, err)
	}
}

func TestGate_DenyDecisionDenies(t *testing.T) {
	c := NewStaticClassifier([]string{"shell_exec"}, nil, nil, nil)
	g := NewGate(c, nil, func(context.Context, string, string) (Decision, error) {
		return DecisionDeny, nil
	}, nil, nil)

	ok, err := g.Check(context.Background(), "/repo", "shell_exec", `{"command":"rm -rf /"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected deny decision to deny the call")
	}
}

func TestGate_MCPContextAutoGrants(t *testing.T) {
	c := NewStaticClassifier([]string{"write_file"}, nil, nil, nil)
	g := NewGate(c, nil, func(context.Context, string, string) (Decision, error) {
		t.Fatal("should not prompt when in MCP context")
		return DecisionDeny, nil
	}, nil, nil)

	ctx := WithMCPContext(context.Background())
	ok, err := g.Check(ctx, "/repo", "write_file", "{}")
	if err != nil || !ok {
		t.Fatalf("expected MCP context to auto-grant, got ok=%v err=%v", ok, err)
	}
}

func TestGate_UICategoryRequiresCapabilityFirst(t *testing.T) {
	c := NewStaticClassifier([]string{"browser_click"}, []string{"browser_click"}, nil, nil)
	capCalls := 0
	g := NewGate(c, nil, func(context.Context, string, string) (Decision, error) {
		return DecisionOnce, nil
	}, func(ctx context.Context, cat Category) (bool, error) {
		capCalls++
		return true, nil
	}, nil)

	ok, err := g.Check(context.Background(), "/repo", "browser_click", "{}")
	if err != nil || !ok {
		t.Fatalf("expected call after capability grant to succeed, got ok=%v err=%v", ok, err)
	}
	if capCalls != 1 {
		t.Fatalf("expected one capability prompt, got %d", capCalls)
	}

	// Second call: capability flag already on, no second capability prompt.
	_, _ = g.Check(context.Background(), "/repo", "browser_click", "{}")
	if capCalls != 1 {
		t.Fatalf("expected capability prompt to fire only once, got %d", capCalls)
	}
}
