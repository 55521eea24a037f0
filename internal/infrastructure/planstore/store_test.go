package planstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
)

func samplePlan() *plan.TaskPlan {
	return &plan.TaskPlan{
		TaskID:                "task-1",
		OriginalRequest:       "add a health check endpoint",
		Summary:               "add a health check endpoint",
		RecommendedAgentCount: 2,
		Subtasks: []*plan.Subtask{
			{ID: "a", Title: "write handler", Status: plan.StatusPending},
			{ID: "b", Title: "write test", Status: plan.StatusPending, Dependencies: []string{"a"}},
		},
	}
}

func TestStore_CreateLoadMutateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	s := New(path)
	ctx := context.Background()

	if err := s.Mutate(ctx, func(current *plan.TaskPlan) (*plan.TaskPlan, error) {
		if current != nil {
			t.Fatal("expected no plan to exist yet")
		}
		return samplePlan(), nil
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded == nil || loaded.TaskID != "task-1" {
		t.Fatalf("expected the written plan back, got %+v", loaded)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt to be stamped on write")
	}

	if err := s.UpdateSubtaskStatus(ctx, "a", plan.StatusCompleted); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	loaded, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.ByID("a").Status != plan.StatusCompleted {
		t.Fatalf("expected subtask a completed, got %v", loaded.ByID("a").Status)
	}

	// No lock or temp files should survive a clean run.
	if _, err := os.Stat(s.lockPath()); !os.IsNotExist(err) {
		t.Errorf("expected the lock file removed after release, stat err = %v", err)
	}
	matches, _ := filepath.Glob(path + ".tmp.*")
	if len(matches) != 0 {
		t.Errorf("expected no leftover temp files, found %v", matches)
	}
}

func TestStore_ResetsInProgressSubtasksOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	s := New(path)
	ctx := context.Background()

	p := samplePlan()
	p.ByID("a").Status = plan.StatusInProgress
	p.ByID("a").AssignedAgent = "agent-7"
	p.ByID("a").RetryCount = 1
	if err := s.Mutate(ctx, func(current *plan.TaskPlan) (*plan.TaskPlan, error) { return p, nil }); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	a := loaded.ByID("a")
	if a.Status != plan.StatusPending {
		t.Fatalf("expected in-progress reset to pending on load, got %v", a.Status)
	}
	if a.AssignedAgent != "" {
		t.Fatal("expected the agent assignment cleared on load")
	}
	if a.RetryCount != 1 {
		t.Fatalf("expected retry-count left untouched by the reload reset, got %d", a.RetryCount)
	}
}

func TestStore_LockTimeoutIsReportedAsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	s := New(path)

	origDeadline, origStart, origCap := lockDeadline, backoffStart, backoffCap
	lockDeadline = 150 * time.Millisecond
	backoffStart = 20 * time.Millisecond
	backoffCap = 40 * time.Millisecond
	defer func() { lockDeadline, backoffStart, backoffCap = origDeadline, origStart, origCap }()

	holder := flock.New(s.lockPath())
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("failed to seize the lock externally: locked=%v err=%v", locked, err)
	}
	defer holder.Unlock()

	err = s.Mutate(context.Background(), func(current *plan.TaskPlan) (*plan.TaskPlan, error) {
		t.Fatal("mutation should never run when the lock can't be acquired")
		return current, nil
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestStore_ConcurrentUpdatesToDifferentSubtasksBothSurvive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	seed := New(path)
	ctx := context.Background()
	if err := seed.Mutate(ctx, func(current *plan.TaskPlan) (*plan.TaskPlan, error) { return samplePlan(), nil }); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// Two independent Store instances over the same path simulate two
	// separate workers racing on the cross-process lock (§4.4 edge case:
	// "two workers finish at the same instant").
	s1 := New(path)
	s2 := New(path)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- s1.UpdateSubtaskStatus(ctx, "a", plan.StatusCompleted)
	}()
	go func() {
		defer wg.Done()
		errs <- s2.UpdateSubtaskStatus(ctx, "b", plan.StatusCompleted)
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	var final plan.TaskPlan
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatalf("parse final file: %v", err)
	}
	if final.ByID("a").Status != plan.StatusCompleted {
		t.Error("expected subtask a's update to survive")
	}
	if final.ByID("b").Status != plan.StatusCompleted {
		t.Error("expected subtask b's update to survive")
	}
}

func TestStore_MutateErrorSkipsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current-plan.json")
	s := New(path)
	ctx := context.Background()
	if err := s.Mutate(ctx, func(current *plan.TaskPlan) (*plan.TaskPlan, error) { return samplePlan(), nil }); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	sentinel := errors.New("mutation failed")
	err := s.Mutate(ctx, func(current *plan.TaskPlan) (*plan.TaskPlan, error) {
		current.Summary = "should not be persisted"
		return nil, sentinel
	})
	if err != sentinel {
		t.Fatalf("expected the sentinel error propagated, got %v", err)
	}

	loaded, loadErr := s.Load(ctx)
	if loadErr != nil {
		t.Fatalf("load failed: %v", loadErr)
	}
	if loaded.Summary == "should not be persisted" {
		t.Fatal("expected a failed mutation to leave the file untouched")
	}
}
