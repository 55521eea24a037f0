package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/gateway/internal/application"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/agentcore"
	ctxwindow "github.com/ngoclaw/ngoclaw/gateway/internal/domain/context"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/security"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/logger"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/permstore"
)

// core bundles every collaborator the run/plan subcommands share, built
// once per invocation from the config/provider/tool-registry stack that
// internal/application.NewAppCLI constructs.
type core struct {
	cfg    *config.Config
	log    *zap.Logger
	app    *application.App
	gate   *security.Gate
	ctxMgr *ctxwindow.Manager
}

// writeToolNames is the set the static classifier treats as write-class;
// drawn from the teacher's builtin tool set (internal/infrastructure/tool),
// not every tool the registry might end up holding — an unrecognized tool
// defaults to read-only, matching StaticClassifier's stated default.
var writeToolNames = []string{
	"write_file", "edit_file", "patch_file", "delete_file",
	"shell_exec", "run_command", "git_commit", "git_push",
}

var uiToolNames = []string{"browser_click", "browser_type", "browser_navigate"}
var codeExecToolNames = []string{"shell_exec", "run_command", "python_exec"}

func buildCore(workspace string, yolo bool) (*core, error) {
	log, err := logger.NewLogger(logger.Config{Level: "info", Format: "console", OutputPath: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if workspace != "" {
		cfg.Agent.Workspace = workspace
	}

	app, err := application.NewAppCLI(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("app init: %w", err)
	}

	classifier := security.NewStaticClassifier(writeToolNames, uiToolNames, nil, codeExecToolNames)

	dbPath := filepath.Join(os.Getenv("HOME"), ".ngoclaw", "permissions.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("permission store dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open permission store: %w", err)
	}
	permStore, err := permstore.New(db, log)
	if err != nil {
		return nil, fmt.Errorf("permission store migrate: %w", err)
	}

	var promptFn security.PromptFunc
	var capPromptFn security.CapabilityPromptFunc
	if yolo {
		promptFn = func(context.Context, string, string) (security.Decision, error) {
			return security.DecisionAlways, nil
		}
		capPromptFn = func(context.Context, security.Category) (bool, error) { return true, nil }
	} else {
		promptFn = stdinPrompt
		capPromptFn = stdinCapabilityPrompt
	}

	gate := security.NewGate(classifier, permStore, promptFn, capPromptFn, log)

	tokenizer := ctxwindow.NewSimpleTokenizer()
	summarizer := ctxwindow.Summarizer(ctxwindow.NewSimpleSummarizer())
	if app.LLMRouter() != nil {
		summarizer = ctxwindow.NewLLMSummarizer(application.NewSummarizerModelClient(app.LLMRouter(), cfg.Agent.DefaultModel))
	}
	ctxMgr := ctxwindow.NewManager(ctxwindow.DefaultManagerConfig(), tokenizer, summarizer)

	return &core{cfg: cfg, log: log, app: app, gate: gate, ctxMgr: ctxMgr}, nil
}

// newLoop builds one agentcore.Loop wired with this core's completer, tool
// executor, permission gate, and context manager. Called once per top-level
// run, and once per orchestrator subtask (each subtask gets its own Loop so
// its context-window state never leaks across subtasks, §4.4).
func (c *core) newLoop() *agentcore.Loop {
	completer := application.NewAgentCoreCompleter(c.app.LLMRouter())
	tools := application.NewAgentCoreToolExecutor(c.app.ToolRegistry())
	return agentcore.New(completer, tools, agentcore.DefaultConfig(), c.log,
		agentcore.WithPermissionGate(c.gate),
		agentcore.WithContextManager(application.NewContextManagerAdapter(c.ctxMgr)),
	)
}

// stdinPrompt asks A/S/O/N on the controlling terminal (§4.6).
func stdinPrompt(_ context.Context, toolName, argsJSON string) (security.Decision, error) {
	fmt.Printf("\nTool %q wants to run with args %s\n", toolName, argsJSON)
	fmt.Print("Allow? [a]lways / [s]ession / [o]nce / [N]o: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "a", "always":
		return security.DecisionAlways, nil
	case "s", "session":
		return security.DecisionSession, nil
	case "o", "once":
		return security.DecisionOnce, nil
	default:
		return security.DecisionDeny, nil
	}
}

// stdinCapabilityPrompt asks once for a whole tool category (UI automation,
// inter-agent) before its first use this session.
func stdinCapabilityPrompt(_ context.Context, cat security.Category) (bool, error) {
	fmt.Printf("\nThis task wants to use tool category %v for the rest of the session. Allow? [y/N]: ", cat)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}
