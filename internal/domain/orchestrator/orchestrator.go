package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/planstore"
)

// Orchestrator ties the decomposer, the plan store, and the parallel
// executor together into one entry point: a user request in, a completed
// (or partially-failed) TaskPlan on disk.
type Orchestrator struct {
	completer PlanCompleter
	model     string
	store     *planstore.Store
	executor  *Executor
	spawn     WorkerSpawner
	logger    *zap.Logger
}

// New builds an Orchestrator.
func New(completer PlanCompleter, model string, store *planstore.Store, executor *Executor, spawn WorkerSpawner, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		completer: completer,
		model:     model,
		store:     store,
		executor:  executor,
		spawn:     spawn,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
}

// Run decomposes request into a plan (if one doesn't already exist at the
// store's path — resuming an interrupted run skips straight to execution,
// per §4.4's plan-load reset semantics) and drives it to completion.
func (o *Orchestrator) Run(ctx context.Context, taskID, request, codebaseHints string) (*plan.TaskPlan, error) {
	existing, err := o.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load existing plan: %w", err)
	}

	if existing == nil {
		newPlan, err := Decompose(ctx, o.completer, o.model, taskID, request, codebaseHints)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: decompose: %w", err)
		}
		o.logger.Info("decomposed task plan",
			zap.String("task_id", newPlan.TaskID),
			zap.Int("subtasks", len(newPlan.Subtasks)),
			zap.Int("recommended_agent_count", newPlan.RecommendedAgentCount),
		)
		if err := o.store.Mutate(ctx, func(current *plan.TaskPlan) (*plan.TaskPlan, error) {
			return newPlan, nil
		}); err != nil {
			return nil, fmt.Errorf("orchestrator: persist new plan: %w", err)
		}
		if err := o.store.WriteMarkdownMirror(newPlan); err != nil {
			o.logger.Warn("failed to write initial markdown mirror", zap.Error(err))
		}
	}

	if err := o.executor.Execute(ctx, o.store, o.spawn); err != nil {
		return nil, fmt.Errorf("orchestrator: execute: %w", err)
	}

	return o.store.Load(ctx)
}
