package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ngoclaw/ngoclaw/gateway/internal/application"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/orchestrator"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/planstore"
	"github.com/ngoclaw/ngoclaw/gateway/internal/interfaces/tui"
)

func newPlanCmd() *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan [request...]",
		Short: "decompose a request into subtasks and run them through the orchestrator (§4.4)",
		Args:  cobra.ArbitraryArgs,
		RunE:  runPlan,
	}
	planCmd.Flags().String("plan-file", "", "plan JSON path (defaults to <workspace>/.ngoclaw/plan.json)")
	planCmd.Flags().Int("max-retries", 0, "override the executor's per-subtask retry cap (default 3)")
	planCmd.AddCommand(newPlanWatchCmd())
	return planCmd
}

func newPlanWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "live TUI over a plan's parallel-group/subtask status",
		Args:  cobra.NoArgs,
		RunE:  runPlanWatch,
	}
	watchCmd.Flags().String("plan-file", "", "plan JSON path (defaults to <workspace>/.ngoclaw/plan.json)")
	return watchCmd
}

// runPlanWatch renders the same plan file "plan" writes through, as a
// read-only bubbletea view — no agentcore.Loop, no orchestrator, no
// provider router needed, so it skips buildCore entirely.
func runPlanWatch(cmd *cobra.Command, args []string) error {
	workspace, _ := cmd.Flags().GetString("workspace")
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	planFile, _ := cmd.Flags().GetString("plan-file")
	if planFile == "" {
		planFile = filepath.Join(workspace, ".ngoclaw", "plan.json")
	}

	store := planstore.New(planFile)
	return tui.RunPlanWatch(store)
}

// runPlan decomposes request into a plan.TaskPlan, persists it through
// planstore.Store, and drives it to completion via the parallel executor —
// each ready subtask spawning its own agentcore.Loop (§4.4).
func runPlan(cmd *cobra.Command, args []string) error {
	workspace, _ := cmd.Flags().GetString("workspace")
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	yolo, _ := cmd.Flags().GetBool("yolo")
	modelOverride, _ := cmd.Flags().GetString("model")
	planFile, _ := cmd.Flags().GetString("plan-file")
	maxRetries, _ := cmd.Flags().GetInt("max-retries")

	if len(args) == 0 {
		return fmt.Errorf("usage: %s plan [request...]", coreName)
	}
	request := strings.Join(args, " ")

	if planFile == "" {
		planFile = filepath.Join(workspace, ".ngoclaw", "plan.json")
	}
	if err := os.MkdirAll(filepath.Dir(planFile), 0o755); err != nil {
		return fmt.Errorf("plan directory: %w", err)
	}

	c, err := buildCore(workspace, yolo)
	if err != nil {
		return err
	}
	defer c.log.Sync()

	model := c.cfg.Agent.DefaultModel
	if modelOverride != "" {
		model = modelOverride
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	store := planstore.New(planFile)

	execCfg := orchestrator.DefaultExecutorConfig()
	if maxRetries > 0 {
		execCfg.MaxRetries = maxRetries
	}
	executor := orchestrator.NewExecutor(execCfg, c.log)

	spawner := orchestrator.NewLoopSpawner(orchestrator.LoopSpawnerConfig{
		Model:        model,
		RootWorkDir:  filepath.Join(filepath.Dir(planFile), "workers"),
		SystemPrompt: fmt.Sprintf("You are one of several NGOClaw sub-agents working in parallel on a larger task, scoped to a single subtask in %s.", workspace),
		Timeout:      30 * time.Minute,
	}, c.newLoop)

	planCompleter := application.NewPlanCompleter(c.app.LLMRouter())
	orch := orchestrator.New(planCompleter, model, store, executor, spawner, c.log)

	result, err := orch.Run(ctx, uuid.NewString(), request, "")
	if err != nil {
		return fmt.Errorf("orchestrator run: %w", err)
	}

	fmt.Printf("Task %s: %s\n", result.TaskID, result.Summary)
	for _, st := range result.Subtasks {
		fmt.Printf("  [%s] %s — %s\n", st.Status, st.ID, st.Title)
	}
	fmt.Printf("\nPlan stored at %s (markdown mirror alongside it)\n", planFile)
	return nil
}
