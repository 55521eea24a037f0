package application

import (
	"context"
	"fmt"

	domaintool "github.com/ngoclaw/ngoclaw/gateway/internal/domain/tool"
)

// toolBridge adapts domaintool.Registry → service.ToolExecutor, so the
// teacher's AgentLoop engine (kept alive as the spawn_agent sub-agent
// runtime, see internal/infrastructure/tool/subagent_tool.go) can discover
// and execute tools through the same registry agentcore.Loop drives.
type toolBridge struct {
	registry domaintool.Registry
}

func (b *toolBridge) Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	tool, ok := b.registry.Get(name)
	if !ok {
		return &domaintool.Result{
			Output:  fmt.Sprintf("Tool '%s' not found", name),
			Success: false,
			Error:   fmt.Sprintf("tool '%s' not registered", name),
		}, nil
	}
	return tool.Execute(ctx, args)
}

func (b *toolBridge) GetDefinitions() []domaintool.Definition {
	return b.registry.List()
}

func (b *toolBridge) GetToolKind(name string) domaintool.Kind {
	tool, ok := b.registry.Get(name)
	if !ok {
		return domaintool.KindExecute
	}
	return tool.Kind()
}
