package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/planstore"
)

// WorkerResult is what one subtask's agent loop produced.
type WorkerResult struct {
	Summary string
	Failed  bool
}

// WorkerSpawner spawns and runs one agent loop for a subtask. Each call owns
// its own work directory, cancellation handle, and conversation history —
// never shared across subtasks (§4.4).
type WorkerSpawner interface {
	Spawn(ctx context.Context, st *plan.Subtask) (WorkerResult, error)
}

// ExecutorConfig tunes the parallel executor beyond what §4.4 specifies
// directly.
type ExecutorConfig struct {
	// MaxRetries caps how many times a failed subtask is re-armed before it's
	// given up on permanently. The spec describes retry *escalation* but
	// leaves the giving-up point to the implementation; default 3.
	MaxRetries int
}

// DefaultExecutorConfig returns MaxRetries = 3.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{MaxRetries: 3}
}

// Executor drives the ready-set/spawn/update loop described in §4.4's
// "Parallel execution": dependency order grouped into phases is an emergent
// property of repeatedly recomputing the ready set, not a fixed upfront
// schedule — retries can reintroduce a subtask into a later phase.
// Grounded on the teacher's semaphore-bounded DAG dispatch loop (its
// internal/domain/agent package, no longer in this tree), adapted to drive
// off a persisted plan.TaskPlan instead of a static in-memory DAG.
type Executor struct {
	cfg    ExecutorConfig
	logger *zap.Logger
}

// NewExecutor builds an Executor.
func NewExecutor(cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultExecutorConfig().MaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger.With(zap.String("component", "orchestrator-executor"))}
}

// Execute runs subtasks to completion: repeatedly load the plan, take the
// next ready set (bounded by recommendedAgentCount), spawn one worker per
// subtask, and atomically fold each worker's outcome back into the plan.
// Returns nil once every subtask reaches a terminal status.
func (e *Executor) Execute(ctx context.Context, store *planstore.Store, spawn WorkerSpawner) error {
	for {
		current, err := store.Load(ctx)
		if err != nil {
			return fmt.Errorf("orchestrator: load plan: %w", err)
		}
		if current == nil {
			return fmt.Errorf("orchestrator: no plan exists at %s", store.Path())
		}
		if allTerminal(current) {
			return nil
		}

		ready := plan.ReadySet(current, false)
		if len(ready) == 0 {
			// Normal mode is stalled. Relaxed mode unblocks work behind a
			// dependency that died non-critically; fall back to it rather
			// than stopping the whole orchestration over one dead branch.
			ready = plan.ReadySet(current, true)
		}
		if len(ready) == 0 {
			if _, cycleErr := plan.ParallelGroups(current, true); cycleErr != nil {
				return fmt.Errorf("orchestrator: %w", cycleErr)
			}
			return fmt.Errorf("orchestrator: stalled — pending subtasks remain but none are ready")
		}

		limit := current.RecommendedAgentCount
		if limit <= 0 {
			limit = 1
		}
		if len(ready) > limit {
			ready = ready[:limit]
		}

		if err := e.markInProgress(ctx, store, ready); err != nil {
			return err
		}

		e.runBatch(ctx, store, spawn, ready)
	}
}

func allTerminal(p *plan.TaskPlan) bool {
	for _, s := range p.Subtasks {
		switch s.Status {
		case plan.StatusCompleted, plan.StatusFailed, plan.StatusSkipped:
		default:
			return false
		}
	}
	return true
}

// markInProgress flips a just-selected batch from pending to in-progress in
// one RMW pass, so a concurrent recomputation elsewhere never double-picks
// the same subtask.
func (e *Executor) markInProgress(ctx context.Context, store *planstore.Store, batch []*plan.Subtask) error {
	ids := make([]string, len(batch))
	for i, s := range batch {
		ids[i] = s.ID
	}
	return store.Mutate(ctx, func(current *plan.TaskPlan) (*plan.TaskPlan, error) {
		for _, id := range ids {
			st := current.ByID(id)
			if st == nil || st.Status != plan.StatusPending {
				continue
			}
			st.Status = plan.StatusInProgress
		}
		return current, nil
	})
}

// runBatch spawns one worker per subtask and waits for all of them, each
// folding its own outcome back into the plan independently — satisfying the
// "two workers finish at the same instant" concurrency requirement (§4.4).
func (e *Executor) runBatch(ctx context.Context, store *planstore.Store, spawn WorkerSpawner, batch []*plan.Subtask) {
	var wg sync.WaitGroup
	wg.Add(len(batch))
	for _, st := range batch {
		go func(st *plan.Subtask) {
			defer wg.Done()
			e.runOne(ctx, store, spawn, st)
		}(st)
	}
	wg.Wait()
}

func (e *Executor) runOne(ctx context.Context, store *planstore.Store, spawn WorkerSpawner, st *plan.Subtask) {
	result, err := spawn.Spawn(ctx, st)
	if err != nil {
		e.logger.Warn("subtask worker failed", zap.String("subtask", st.ID), zap.Error(err))
	}

	mutateErr := store.Mutate(ctx, func(current *plan.TaskPlan) (*plan.TaskPlan, error) {
		live := current.ByID(st.ID)
		if live == nil {
			return current, nil
		}
		if err != nil || result.Failed {
			if live.RetryCount >= e.cfg.MaxRetries {
				live.Status = plan.StatusFailed
				live.AssignedAgent = ""
			} else {
				plan.Retry(live)
			}
			return current, nil
		}
		live.Status = plan.StatusCompleted
		live.AssignedAgent = ""
		return current, nil
	})
	if mutateErr != nil {
		e.logger.Error("failed to persist subtask outcome", zap.String("subtask", st.ID), zap.Error(mutateErr))
		return
	}

	if latest, loadErr := store.Load(ctx); loadErr == nil && latest != nil {
		if mirrorErr := store.WriteMarkdownMirror(latest); mirrorErr != nil {
			e.logger.Warn("failed to write markdown mirror", zap.Error(mirrorErr))
		}
	}
}
