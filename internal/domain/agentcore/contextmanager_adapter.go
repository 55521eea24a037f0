package agentcore

import (
	"context"

	ctxwin "github.com/ngoclaw/ngoclaw/gateway/internal/domain/context"
)

// ContextManagerAdapter adapts an internal/domain/context.Manager — which
// speaks its own leaner Message type — to the ContextManager seam agentcore
// depends on, converting in both directions.
type ContextManagerAdapter struct {
	manager *ctxwin.Manager
}

// NewContextManagerAdapter wraps manager for use as a Loop's ContextManager.
func NewContextManagerAdapter(manager *ctxwin.Manager) *ContextManagerAdapter {
	return &ContextManagerAdapter{manager: manager}
}

// Manage converts messages to the context package's shape, runs the §4.3
// trigger policy, and converts the result back. On no-rewrite or error it
// returns the original messages unchanged, so callers never lose
// ToolCalls/ReasoningContent/Parts they didn't ask to drop.
func (a *ContextManagerAdapter) Manage(ctx context.Context, messages []Message, usage TokenUsage) ([]Message, bool, error) {
	converted := make([]ctxwin.Message, len(messages))
	for i, m := range messages {
		converted[i] = ctxwin.Message{
			Role:       m.Role,
			Content:    m.TextContent(),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
	}

	out, changed, err := a.manager.Manage(ctx, converted, ctxwin.TokenUsage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		MaxContextLength: usage.MaxContextLength,
	})
	if err != nil || !changed {
		return messages, false, err
	}

	rewritten := make([]Message, len(out))
	for i, m := range out {
		rewritten[i] = Message{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
	}
	return rewritten, true, nil
}

// MaxContextLength delegates to the wrapped Manager.
func (a *ContextManagerAdapter) MaxContextLength(model string, reported int) int {
	return a.manager.MaxContextLength(model, reported)
}
