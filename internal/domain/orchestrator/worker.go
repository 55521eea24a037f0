package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/agentcore"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
)

// LoopFactory builds a fresh agentcore.Loop for one subtask. Each call must
// return an independent Loop — in particular one wired with its own
// ContextManager/token tracker — so that per-agent context isolation
// (§4.4: "its own ... token tracker ... conversation history") holds
// without the executor needing to manage trackers itself.
type LoopFactory func() *agentcore.Loop

// LoopSpawnerConfig configures how LoopSpawner builds a subtask's work
// directory, system prompt, and model choice.
type LoopSpawnerConfig struct {
	// Model is used unless the subtask has UseThinkingModel set.
	Model string
	// ThinkingModel is substituted when a subtask's retry escalation has
	// set UseThinkingModel (§4.4). Falls back to Model if empty.
	ThinkingModel string
	// RootWorkDir is the parent directory; each subtask gets its own
	// RootWorkDir/<subtaskID> subdirectory.
	RootWorkDir string
	// SystemPrompt seeds every worker's conversation.
	SystemPrompt string
	// Timeout bounds one subtask's agent loop; zero means no extra timeout
	// beyond the caller's context.
	Timeout time.Duration
}

// LoopSpawner is the production WorkerSpawner: one agentcore.Loop per
// subtask, grounded on the teacher's sub-agent spawner's per-agent
// isolation (its internal/domain/agent package, no longer in this tree) (work directory, independent lifecycle) adapted from a
// free-form sub-agent spawner to a plan-subtask-bound worker.
type LoopSpawner struct {
	cfg     LoopSpawnerConfig
	newLoop LoopFactory
}

// NewLoopSpawner builds a LoopSpawner.
func NewLoopSpawner(cfg LoopSpawnerConfig, newLoop LoopFactory) *LoopSpawner {
	return &LoopSpawner{cfg: cfg, newLoop: newLoop}
}

// Spawn creates the subtask's work directory, seeds a fresh conversation
// from its description, and runs a dedicated agent loop against it.
func (s *LoopSpawner) Spawn(ctx context.Context, st *plan.Subtask) (WorkerResult, error) {
	workDir := filepath.Join(s.cfg.RootWorkDir, st.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return WorkerResult{}, fmt.Errorf("orchestrator: create work directory for %s: %w", st.ID, err)
	}

	model := s.cfg.Model
	if st.UseThinkingModel && s.cfg.ThinkingModel != "" {
		model = s.cfg.ThinkingModel
	}

	runCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	messages := []agentcore.Message{
		{Role: "system", Content: s.cfg.SystemPrompt},
		{Role: "user", Content: fmt.Sprintf("%s\n\n%s", st.Title, st.Description)},
	}

	loop := s.newLoop()
	res := loop.Run(runCtx, model, workDir, messages, agentcore.Callbacks{})

	if res.StopReason != agentcore.StopNone {
		return WorkerResult{Summary: res.FinalText, Failed: true},
			fmt.Errorf("subtask %s stopped without completing: %s", st.ID, res.StopReason)
	}
	return WorkerResult{Summary: res.FinalText}, nil
}
