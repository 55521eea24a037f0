package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/planstore"
)

// scriptedSpawner succeeds or fails per subtask id, counting attempts.
type scriptedSpawner struct {
	mu        sync.Mutex
	failUntil map[string]int // subtask id -> number of attempts that must fail before succeeding
	attempts  map[string]int
}

func newScriptedSpawner(failUntil map[string]int) *scriptedSpawner {
	return &scriptedSpawner{failUntil: failUntil, attempts: make(map[string]int)}
}

func (s *scriptedSpawner) Spawn(_ context.Context, st *plan.Subtask) (WorkerResult, error) {
	s.mu.Lock()
	s.attempts[st.ID]++
	attempt := s.attempts[st.ID]
	s.mu.Unlock()

	if need, ok := s.failUntil[st.ID]; ok && attempt <= need {
		return WorkerResult{Failed: true}, nil
	}
	return WorkerResult{Summary: "done: " + st.ID}, nil
}

func seedPlan(t *testing.T, path string, p *plan.TaskPlan) *planstore.Store {
	t.Helper()
	s := planstore.New(path)
	if err := s.Mutate(context.Background(), func(current *plan.TaskPlan) (*plan.TaskPlan, error) { return p, nil }); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return s
}

func TestExecutor_LinearChainCompletesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	p := &plan.TaskPlan{
		TaskID:                "t1",
		RecommendedAgentCount: 2,
		Subtasks: []*plan.Subtask{
			{ID: "a", Status: plan.StatusPending},
			{ID: "b", Status: plan.StatusPending, Dependencies: []string{"a"}},
		},
	}
	store := seedPlan(t, path, p)

	exec := NewExecutor(DefaultExecutorConfig(), nil)
	spawner := newScriptedSpawner(nil)

	if err := exec.Execute(context.Background(), store, spawner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if final.ByID("a").Status != plan.StatusCompleted || final.ByID("b").Status != plan.StatusCompleted {
		t.Fatalf("expected both subtasks completed, got %+v", final.Subtasks)
	}
}

func TestExecutor_IndependentSubtasksRunConcurrently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	p := &plan.TaskPlan{
		TaskID:                "t1",
		RecommendedAgentCount: 4,
		Subtasks: []*plan.Subtask{
			{ID: "a", Status: plan.StatusPending},
			{ID: "b", Status: plan.StatusPending},
			{ID: "c", Status: plan.StatusPending},
		},
	}
	store := seedPlan(t, path, p)

	exec := NewExecutor(DefaultExecutorConfig(), nil)
	spawner := newScriptedSpawner(nil)

	if err := exec.Execute(context.Background(), store, spawner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, _ := store.Load(context.Background())
	for _, id := range []string{"a", "b", "c"} {
		if final.ByID(id).Status != plan.StatusCompleted {
			t.Errorf("expected %s completed, got %v", id, final.ByID(id).Status)
		}
	}
}

func TestExecutor_RetriesThenSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	p := &plan.TaskPlan{
		TaskID:                "t1",
		RecommendedAgentCount: 1,
		Subtasks: []*plan.Subtask{
			{ID: "a", Status: plan.StatusPending, Complexity: plan.ComplexityComplex},
		},
	}
	store := seedPlan(t, path, p)

	exec := NewExecutor(DefaultExecutorConfig(), nil)
	spawner := newScriptedSpawner(map[string]int{"a": 2}) // fails twice, succeeds on 3rd

	if err := exec.Execute(context.Background(), store, spawner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, _ := store.Load(context.Background())
	a := final.ByID("a")
	if a.Status != plan.StatusCompleted {
		t.Fatalf("expected eventual success, got %v", a.Status)
	}
	if a.RetryCount != 2 {
		t.Fatalf("expected 2 recorded retries, got %d", a.RetryCount)
	}
	if !a.UseThinkingModel {
		t.Fatal("expected escalation to the thinking model after a Complex task's first failure")
	}
}

func TestExecutor_ExhaustsRetriesAndMarksFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	p := &plan.TaskPlan{
		TaskID:                "t1",
		RecommendedAgentCount: 1,
		Subtasks: []*plan.Subtask{
			{ID: "a", Status: plan.StatusPending},
		},
	}
	store := seedPlan(t, path, p)

	cfg := ExecutorConfig{MaxRetries: 2}
	exec := NewExecutor(cfg, nil)
	spawner := newScriptedSpawner(map[string]int{"a": 99}) // never succeeds

	if err := exec.Execute(context.Background(), store, spawner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, _ := store.Load(context.Background())
	if final.ByID("a").Status != plan.StatusFailed {
		t.Fatalf("expected the subtask to give up as failed, got %v", final.ByID("a").Status)
	}
}

func TestExecutor_CycleReportsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	p := &plan.TaskPlan{
		TaskID: "t1",
		Subtasks: []*plan.Subtask{
			{ID: "a", Status: plan.StatusPending, Dependencies: []string{"b"}},
			{ID: "b", Status: plan.StatusPending, Dependencies: []string{"a"}},
		},
	}
	store := seedPlan(t, path, p)

	exec := NewExecutor(DefaultExecutorConfig(), nil)
	err := exec.Execute(context.Background(), store, newScriptedSpawner(nil))
	if err == nil {
		t.Fatal("expected a cycle error")
	}
}

func TestExecutor_FailedDependencyUnblocksDownstreamInRelaxedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	p := &plan.TaskPlan{
		TaskID:                "t1",
		RecommendedAgentCount: 1,
		Subtasks: []*plan.Subtask{
			{ID: "a", Status: plan.StatusPending},
			{ID: "b", Status: plan.StatusPending, Dependencies: []string{"a"}},
		},
	}
	store := seedPlan(t, path, p)

	exec := NewExecutor(DefaultExecutorConfig(), nil)
	spawner := newScriptedSpawner(map[string]int{"a": 99}) // a always fails

	if err := exec.Execute(context.Background(), store, spawner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, _ := store.Load(context.Background())
	if final.ByID("a").Status != plan.StatusFailed {
		t.Fatalf("expected a failed, got %v", final.ByID("a").Status)
	}
	if final.ByID("b").Status != plan.StatusCompleted {
		t.Fatalf("expected b to still run via relaxed-mode unblocking, got %v", final.ByID("b").Status)
	}
}
