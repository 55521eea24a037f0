package context

import (
	"context"
	"fmt"
	"strings"
)

// Summarizer produces a compacted transcript of older conversation turns.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// ModelClient is the completion call a Summarizer needs: one prompt in, one
// text answer out, at the given temperature.
type ModelClient interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)
}

// maxBodyChars caps each transcript line before it's handed to the model
// (§4.3: "cap each message body at 2 000 characters with a trailing
// ellipsis-marker").
const maxBodyChars = 2000

// summarizeSystemPrompt is issued as the dedicated system prompt for the
// summarization completion request (§4.3).
const summarizeSystemPrompt = "You are compacting a coding agent's conversation history. " +
	"Create a concise summary that preserves all important context, decisions made, " +
	"files modified, errors encountered, and current task status, so the agent can " +
	"resume the task with no loss of continuity."

// LLMSummarizer asks a model for a summary of the transcript it's given.
type LLMSummarizer struct {
	client ModelClient
}

// NewLLMSummarizer builds a Summarizer backed by client.
func NewLLMSummarizer(client ModelClient) *LLMSummarizer {
	return &LLMSummarizer{client: client}
}

// roleLabel returns the transcript label for a message (§4.3: "User",
// "Assistant", "Tool(<name>)").
func roleLabel(msg Message) string {
	switch msg.Role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	case "tool":
		if msg.Name != "" {
			return fmt.Sprintf("Tool(%s)", msg.Name)
		}
		return "Tool"
	default:
		return msg.Role
	}
}

// buildTranscript renders messages as a plain-text, role-labeled transcript
// with each body capped at maxBodyChars.
func buildTranscript(messages []Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		body := msg.Content
		if len(body) > maxBodyChars {
			body = body[:maxBodyChars] + "…[truncated]"
		}
		sb.WriteString(roleLabel(msg))
		sb.WriteString(": ")
		sb.WriteString(body)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Summarize builds the role-labeled transcript and asks the model for a
// summary at temperature 0.3, per §4.3.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	transcript := buildTranscript(messages)
	summary, err := s.client.Generate(ctx, summarizeSystemPrompt, transcript, 0.3)
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}
	return summary, nil
}

// SimpleSummarizer extracts lines that look significant (errors, completed
// work) without calling a model. Used as a summarizer of last resort, and in
// tests that should not depend on a live model.
type SimpleSummarizer struct{}

// NewSimpleSummarizer builds a model-free Summarizer.
func NewSimpleSummarizer() *SimpleSummarizer {
	return &SimpleSummarizer{}
}

// Summarize extracts lines containing error/completion markers, falling
// back to a bare message count when nothing stands out.
func (s *SimpleSummarizer) Summarize(_ context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var points []string
	for _, msg := range messages {
		content := strings.ToLower(msg.Content)
		if strings.Contains(content, "error") ||
			strings.Contains(content, "created") ||
			strings.Contains(content, "updated") ||
			strings.Contains(content, "complete") {
			summary := msg.Content
			if len(summary) > 100 {
				summary = summary[:100] + "..."
			}
			points = append(points, fmt.Sprintf("- [%s] %s", roleLabel(msg), summary))
		}
	}

	if len(points) == 0 {
		return fmt.Sprintf("%d prior messages with no notable errors or completions.", len(messages)), nil
	}
	if len(points) > 10 {
		points = points[len(points)-10:]
	}
	return strings.Join(points, "\n"), nil
}
