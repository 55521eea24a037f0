package application

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/agentcore"
	ctxwindow "github.com/ngoclaw/ngoclaw/gateway/internal/domain/context"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/orchestrator"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	domaintool "github.com/ngoclaw/ngoclaw/gateway/internal/domain/tool"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/llm"
)

// routerCompleter adapts *llm.Router into agentcore.Completer, so the
// composition root can drive agentcore.Loop off the same multi-provider
// router the teacher's service.AgentLoop already uses.
type routerCompleter struct {
	router *llm.Router
}

// NewAgentCoreCompleter wraps router as an agentcore.Completer.
func NewAgentCoreCompleter(router *llm.Router) agentcore.Completer {
	return &routerCompleter{router: router}
}

func (c *routerCompleter) Complete(ctx context.Context, req *agentcore.Request) (*agentcore.Response, error) {
	llmReq := &service.LLMRequest{
		Messages:    make([]service.LLMMessage, 0, len(req.Messages)),
		Tools:       req.Tools,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		llmReq.Messages = append(llmReq.Messages, service.LLMMessage{
			Role:       m.Role,
			Content:    m.Content,
			Parts:      contentPartsToService(m.Parts),
			ToolCalls:  toolCallsToEntity(m.ToolCalls),
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}

	resp, err := c.router.Generate(ctx, llmReq)
	if err != nil {
		return nil, err
	}

	return &agentcore.Response{
		Content:      resp.Content,
		ToolCalls:    toolCallsFromEntity(resp.ToolCalls),
		FinishReason: "",
		ModelUsed:    resp.ModelUsed,
		TokensUsed:   resp.TokensUsed,
	}, nil
}

func contentPartsToService(parts []agentcore.ContentPart) []service.ContentPart {
	if len(parts) == 0 {
		return nil
	}
	out := make([]service.ContentPart, len(parts))
	for i, p := range parts {
		out[i] = service.ContentPart{Type: p.Type, Text: p.Text, MediaURL: p.MediaURL, MimeType: p.MimeType}
	}
	return out
}

func toolCallsToEntity(calls []agentcore.ToolCallInfo) []entity.ToolCallInfo {
	if len(calls) == 0 {
		return nil
	}
	out := make([]entity.ToolCallInfo, len(calls))
	for i, c := range calls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(c.Arguments), &args)
		out[i] = entity.ToolCallInfo{ID: c.ID, Name: c.Name, Arguments: args}
	}
	return out
}

func toolCallsFromEntity(calls []entity.ToolCallInfo) []agentcore.ToolCallInfo {
	if len(calls) == 0 {
		return nil
	}
	out := make([]agentcore.ToolCallInfo, len(calls))
	for i, c := range calls {
		argsJSON, _ := json.Marshal(c.Arguments)
		out[i] = agentcore.ToolCallInfo{ID: c.ID, Name: c.Name, Arguments: string(argsJSON)}
	}
	return out
}

// registryToolExecutor adapts domaintool.Registry into agentcore.ToolExecutor:
// agentcore hands tool arguments down as a raw JSON object string (§4.1),
// the registry's tools take map[string]interface{} (teacher's original
// shape) — this is the seam between the two.
type registryToolExecutor struct {
	registry domaintool.Registry
}

// NewAgentCoreToolExecutor wraps registry as an agentcore.ToolExecutor.
func NewAgentCoreToolExecutor(registry domaintool.Registry) agentcore.ToolExecutor {
	return &registryToolExecutor{registry: registry}
}

func (e *registryToolExecutor) Execute(ctx context.Context, name string, argsJSON string) (*domaintool.Result, error) {
	t, ok := e.registry.Get(name)
	if !ok {
		return &domaintool.Result{
			Output:  fmt.Sprintf("tool '%s' not found", name),
			Success: false,
			Error:   fmt.Sprintf("tool '%s' not registered", name),
		}, nil
	}
	var args map[string]interface{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return &domaintool.Result{
				Output:  fmt.Sprintf("invalid arguments for '%s': %v", name, err),
				Success: false,
				Error:   err.Error(),
			}, nil
		}
	}
	return t.Execute(ctx, args)
}

func (e *registryToolExecutor) Definitions() []domaintool.Definition {
	return e.registry.List()
}

func (e *registryToolExecutor) KindOf(name string) domaintool.Kind {
	t, ok := e.registry.Get(name)
	if !ok {
		return domaintool.KindExecute
	}
	return t.Kind()
}

// routerPlanCompleter adapts *llm.Router into orchestrator.PlanCompleter —
// the decomposer's simpler one-shot prompt/response shape, with no tool-call
// plumbing.
type routerPlanCompleter struct {
	router *llm.Router
}

// NewPlanCompleter wraps router as an orchestrator.PlanCompleter.
func NewPlanCompleter(router *llm.Router) orchestrator.PlanCompleter {
	return &routerPlanCompleter{router: router}
}

func (c *routerPlanCompleter) Complete(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.router.Generate(ctx, &service.LLMRequest{
		Messages: []service.LLMMessage{{Role: "user", Content: prompt}},
		Model:    model,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// routerModelClient adapts *llm.Router into context.ModelClient, so the
// §4.3 context-window manager can summarize a transcript through the same
// provider router the rest of the composition root uses.
type routerModelClient struct {
	router *llm.Router
	model  string
}

// NewSummarizerModelClient wraps router as a ctxwindow.ModelClient, pinned
// to model for every summarization call.
func NewSummarizerModelClient(router *llm.Router, model string) ctxwindow.ModelClient {
	return &routerModelClient{router: router, model: model}
}

func (c *routerModelClient) Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	resp, err := c.router.Generate(ctx, &service.LLMRequest{
		Messages: []service.LLMMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Model:       c.model,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// contextManagerAdapter adapts *ctxwindow.Manager into agentcore.ContextManager,
// translating between agentcore's and the context package's parallel
// Message/TokenUsage shapes. agentcore also carries its own equivalent,
// agentcore.ContextManagerAdapter; the composition root uses this one.
type contextManagerAdapter struct {
	mgr *ctxwindow.Manager
}

// NewContextManagerAdapter wraps mgr as an agentcore.ContextManager.
func NewContextManagerAdapter(mgr *ctxwindow.Manager) agentcore.ContextManager {
	return &contextManagerAdapter{mgr: mgr}
}

func (a *contextManagerAdapter) Manage(ctx context.Context, messages []agentcore.Message, usage agentcore.TokenUsage) ([]agentcore.Message, bool, error) {
	in := make([]ctxwindow.Message, len(messages))
	for i, m := range messages {
		in[i] = ctxwindow.Message{Role: m.Role, Content: m.TextContent(), Name: m.Name, ToolCallID: m.ToolCallID}
	}
	out, rewritten, err := a.mgr.Manage(ctx, in, ctxwindow.TokenUsage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		MaxContextLength: usage.MaxContextLength,
	})
	if err != nil || !rewritten {
		return messages, rewritten, err
	}

	result := make([]agentcore.Message, len(out))
	for i, m := range out {
		result[i] = agentcore.Message{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
	}
	return result, true, nil
}

func (a *contextManagerAdapter) MaxContextLength(model string, reported int) int {
	return a.mgr.MaxContextLength(model, reported)
}
