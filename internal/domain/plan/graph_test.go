package plan

import "testing"

func linearPlan() *TaskPlan {
	return &TaskPlan{
		Subtasks: []*Subtask{
			{ID: "a", Status: StatusPending},
			{ID: "b", Status: StatusPending, Dependencies: []string{"a"}},
			{ID: "c", Status: StatusPending, Dependencies: []string{"b"}},
		},
	}
}

func TestReadySet_OnlyUnblockedPendingTasks(t *testing.T) {
	p := linearPlan()
	ready := ReadySet(p, false)
	if len(ready) != 1 || ready[0].ID != "a" {
		t.Fatalf("expected only 'a' ready, got %+v", ready)
	}
}

func TestReadySet_UnblocksAfterDependencyCompletes(t *testing.T) {
	p := linearPlan()
	p.ByID("a").Status = StatusCompleted

	ready := ReadySet(p, false)
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("expected only 'b' ready, got %+v", ready)
	}
}

func TestReadySet_RelaxedModeAcceptsFailedOrSkipped(t *testing.T) {
	p := linearPlan()
	p.ByID("a").Status = StatusFailed

	if ready := ReadySet(p, false); len(ready) != 0 {
		t.Fatalf("expected normal mode to stay blocked on a failed dependency, got %+v", ready)
	}
	ready := ReadySet(p, true)
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("expected relaxed mode to unblock 'b', got %+v", ready)
	}
}

func TestParallelGroups_LinearChainIsOnePerPhase(t *testing.T) {
	p := linearPlan()
	groups, err := ParallelGroups(p, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("expected 3 phases for a linear chain, got %d", len(groups))
	}
	for i, want := range []string{"a", "b", "c"} {
		if len(groups[i]) != 1 || groups[i][0].ID != want {
			t.Fatalf("phase %d: expected [%s], got %+v", i, want, groups[i])
		}
	}
	// ParallelGroups must not mutate the real plan's statuses.
	if p.ByID("a").Status != StatusPending {
		t.Fatal("expected ParallelGroups to leave the real plan untouched")
	}
}

func TestParallelGroups_IndependentTasksShareAPhase(t *testing.T) {
	p := &TaskPlan{Subtasks: []*Subtask{
		{ID: "a", Status: StatusPending},
		{ID: "b", Status: StatusPending},
		{ID: "c", Status: StatusPending, Dependencies: []string{"a", "b"}},
	}}
	groups, err := ParallelGroups(p, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(groups))
	}
	if len(groups[0]) != 2 {
		t.Fatalf("expected the first phase to contain both independent tasks, got %+v", groups[0])
	}
}

func TestParallelGroups_CycleDetected(t *testing.T) {
	p := &TaskPlan{Subtasks: []*Subtask{
		{ID: "a", Status: StatusPending, Dependencies: []string{"b"}},
		{ID: "b", Status: StatusPending, Dependencies: []string{"a"}},
	}}
	_, err := ParallelGroups(p, false)
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	cycleErr, ok := err.(*CycleError)
	if !ok {
		t.Fatalf("expected a *CycleError, got %T", err)
	}
	if len(cycleErr.RemainingIDs) != 2 {
		t.Fatalf("expected both cyclic ids reported, got %v", cycleErr.RemainingIDs)
	}
}

func TestResetInterrupted_ClearsInProgressWithoutTouchingRetryCount(t *testing.T) {
	p := &TaskPlan{Subtasks: []*Subtask{
		{ID: "a", Status: StatusInProgress, AssignedAgent: "agent-1", RetryCount: 2},
		{ID: "b", Status: StatusCompleted},
	}}
	ResetInterrupted(p)

	a := p.ByID("a")
	if a.Status != StatusPending {
		t.Fatalf("expected in-progress reset to pending, got %v", a.Status)
	}
	if a.AssignedAgent != "" {
		t.Fatal("expected the agent assignment cleared")
	}
	if a.RetryCount != 2 {
		t.Fatalf("expected retry-count untouched by interruption, got %d", a.RetryCount)
	}
	if p.ByID("b").Status != StatusCompleted {
		t.Fatal("expected completed tasks left alone")
	}
}

func TestRetry_EscalatesComplexTaskOnFirstFailure(t *testing.T) {
	s := &Subtask{ID: "a", Complexity: ComplexityComplex, Status: StatusFailed}
	Retry(s)
	if s.RetryCount != 1 {
		t.Fatalf("expected retry-count 1, got %d", s.RetryCount)
	}
	if !s.UseThinkingModel {
		t.Fatal("expected a Complex task to escalate after its first failure")
	}
	if s.Status != StatusPending {
		t.Fatalf("expected the subtask re-armed to pending, got %v", s.Status)
	}
}

func TestRetry_EscalatesAnyTaskOnSecondRetry(t *testing.T) {
	s := &Subtask{ID: "a", Complexity: ComplexityMedium, Status: StatusFailed}
	Retry(s)
	if s.UseThinkingModel {
		t.Fatal("expected no escalation after a Medium task's first retry")
	}
	Retry(s)
	if s.RetryCount != 2 {
		t.Fatalf("expected retry-count 2, got %d", s.RetryCount)
	}
	if !s.UseThinkingModel {
		t.Fatal("expected escalation after any task's second retry")
	}
}
