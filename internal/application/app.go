package application

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	domaintool "github.com/ngoclaw/ngoclaw/gateway/internal/domain/tool"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm"
	_ "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm/anthropic" // register anthropic provider factory
	_ "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm/gemini"    // register gemini provider factory
	_ "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm/openai"    // register openai provider factory
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/prompt"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/sandbox"
	toolpkg "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/tool"
	"go.uber.org/zap"
)

// App wires the infrastructure shared by every cmd/ngoclaw-core subcommand:
// the tool registry/executor, the multi-provider LLM router, the MCP manager
// and the prompt engine. It no longer owns a server lifecycle — agentcore.Loop
// and orchestrator.Orchestrator (built per-invocation in cmd/ngoclaw-core) are
// the only consumers of what App assembles.
type App struct {
	config *config.Config
	logger *zap.Logger

	toolRegistry domaintool.Registry
	toolExecutor *toolpkg.Executor
	llmRouter    *llm.Router
	mcpManager   *toolpkg.MCPManager
	promptEngine *prompt.PromptEngine
}

// NewAppCLI builds the infrastructure layer cmd/ngoclaw-core composes into
// agentcore.Loop / orchestrator.Orchestrator: tool registry + executor, LLM
// router, MCP manager, prompt engine. No DB, no HTTP/Telegram/gRPC servers —
// those interfaces were the teacher's product, not SPEC_FULL.md's.
func NewAppCLI(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	return app, nil
}

// initInfrastructure wires the tool registry, sandbox, LLM router, MCP
// manager and prompt engine — the shared substrate every cmd/ngoclaw-core
// subcommand (run/plan/serve) builds its agentcore.Loop on top of.
func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")

	app.toolRegistry = domaintool.NewInMemoryRegistry()
	homeDir, _ := os.UserHomeDir()
	systemSkillsDir := filepath.Join(homeDir, ".ngoclaw", "skills")

	workspaceDir := app.config.Agent.Workspace
	skillsDirs := []string{systemSkillsDir}
	if workspaceDir != "" {
		wsSkillsDir := filepath.Join(workspaceDir, ".ngoclaw", "skills")
		skillsDirs = append(skillsDirs, wsSkillsDir)
	}

	sbxCfg := sandbox.DefaultConfig()
	sbxCfg.PythonEnv = app.config.PythonEnv
	if app.config.Agent.Runtime.ToolTimeout > 0 {
		sbxCfg.Timeout = app.config.Agent.Runtime.ToolTimeout
	}
	sbx, sbxErr := sandbox.NewProcessSandbox(sbxCfg, app.logger)
	if sbxErr != nil {
		app.logger.Warn("Sandbox init failed, tools will run unsandboxed", zap.Error(sbxErr))
	}

	app.toolExecutor = toolpkg.NewExecutor(
		app.toolRegistry,
		&domaintool.Policy{Profile: "full"},
		sbx, nil, app.logger,
		app.config.PythonEnv, systemSkillsDir,
	)

	// LLM Router must be built before RegisterAllTools — spawn_agent depends on it.
	app.llmRouter = llm.NewRouter(app.logger)
	// The router tries providers in insertion order: add lowest priority first.
	providerCfgs := append(app.config.Agent.Providers[:0:0], app.config.Agent.Providers...)
	sort.SliceStable(providerCfgs, func(i, j int) bool { return providerCfgs[i].Priority < providerCfgs[j].Priority })
	for _, p := range providerCfgs {
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:     p.Name,
			Type:     p.Type,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Models:   p.Models,
			Priority: p.Priority,
		}, app.logger)
		if err != nil {
			app.logger.Error("Failed to create LLM provider",
				zap.String("name", p.Name),
				zap.String("type", p.Type),
				zap.Error(err),
			)
			continue
		}
		app.llmRouter.AddProvider(provider)
	}
	app.logger.Info("LLM Router initialized",
		zap.Int("providers", len(app.config.Agent.Providers)),
	)

	homeDir, _ = os.UserHomeDir()
	mcpConfigPath := filepath.Join(homeDir, ".ngoclaw", "mcp.json")
	app.mcpManager = toolpkg.NewMCPManager(mcpConfigPath, app.toolRegistry, app.logger)

	subMaxSteps := app.config.Agent.Runtime.SubAgentMaxSteps
	if subMaxSteps <= 0 {
		subMaxSteps = 25
	}
	var researchURL, researchKey, researchModel string
	if len(app.config.Agent.Providers) > 0 {
		p := app.config.Agent.Providers[0]
		researchURL = p.BaseURL
		researchKey = p.APIKey
		if len(p.Models) > 0 {
			model := p.Models[0]
			if idx := strings.Index(model, "/"); idx >= 0 {
				model = model[idx+1:]
			}
			researchModel = model
		}
	}

	toolpkg.RegisterAllTools(toolpkg.ToolLayerDeps{
		Registry:         app.toolRegistry,
		Sandbox:          sbx,
		SkillExec:        nil,
		PythonEnv:        app.config.PythonEnv,
		SkillsDir:        systemSkillsDir,
		ResearchLLMURL:   researchURL,
		ResearchLLMKey:   researchKey,
		ResearchLLMModel: researchModel,
		Workspace:        app.config.Agent.Workspace,
		MCPManager:       app.mcpManager,
		SubAgent: &toolpkg.SubAgentDeps{
			LLMClient:    app.llmRouter,
			ToolExecutor: &toolBridge{registry: app.toolRegistry},
			DefaultModel: app.config.Agent.DefaultModel,
			MaxSteps:     subMaxSteps,
			Timeout:      app.config.Agent.Runtime.SubAgentTimeout,
		},
		Logger: app.logger,
	})

	app.promptEngine = prompt.NewPromptEngine(app.config.Agent.Workspace, app.logger)
	if err := app.promptEngine.Discover(); err != nil {
		app.logger.Warn("Prompt engine discovery failed, will use empty system prompt",
			zap.Error(err),
		)
	}

	return nil
}

// Logger returns the application logger.
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// AppConfig returns the application config.
func (app *App) AppConfig() *config.Config {
	return app.config
}

// PromptEngine returns the prompt engine (used by cmd/ngoclaw-core).
func (app *App) PromptEngine() *prompt.PromptEngine {
	return app.promptEngine
}

// ToolRegistry returns the tool registry (used by cmd/ngoclaw-core).
func (app *App) ToolRegistry() domaintool.Registry {
	return app.toolRegistry
}

// LLMRouter returns the multi-provider completion router cmd/ngoclaw-core
// drives the agentcore/orchestrator stack off of.
func (app *App) LLMRouter() *llm.Router {
	return app.llmRouter
}
