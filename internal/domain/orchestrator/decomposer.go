// Package orchestrator implements the task decomposer and parallel executor
// (§4.4): turning one user request into a TaskPlan, then driving worker
// agent loops against it through internal/infrastructure/planstore until
// every subtask reaches a terminal status.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
)

// PlanCompleter issues the decomposition completion request: a prompt in, a
// raw text response out. A thin seam so this package doesn't depend on
// agentcore.Completer's tool-call plumbing, which decomposition never uses.
type PlanCompleter interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// knownSubtaskTypes are the values the decomposer prompt asks for; anything
// else is a "bad enum" per §4.4 and defaults to DefaultType.
var knownSubtaskTypes = map[string]bool{
	"implementation": true,
	"testing":        true,
	"research":       true,
	"configuration":  true,
	"documentation":  true,
}

var knownComplexities = map[plan.Complexity]bool{
	plan.ComplexitySimple:      true,
	plan.ComplexityMedium:      true,
	plan.ComplexityComplex:     true,
	plan.ComplexityVeryComplex: true,
}

const decomposerSystemPrompt = `You are decomposing a coding task into a plan of parallelizable subtasks for a team of autonomous coding agents.

Respond with ONLY a JSON object (no prose around it) matching this shape:
{
  "summary": "one-sentence summary of the overall task",
  "subtasks": [
    {
      "id": "task-1",
      "title": "short title",
      "description": "enough detail for an agent to execute this independently",
      "type": "implementation" | "testing" | "research" | "configuration" | "documentation",
      "complexity": "simple" | "medium" | "complex" | "very_complex",
      "dependencies": ["task-ids this subtask must wait on"]
    }
  ],
  "recommendedAgentCount": 1,
  "parallelizationStrategy": "short note on how the subtasks can run concurrently",
  "riskAssessment": "short note on what could go wrong"
}

Keep dependencies minimal — only list a dependency when the subtask genuinely cannot start before it.`

// buildDecomposerPrompt assembles the user-turn prompt handed to the model.
func buildDecomposerPrompt(request, codebaseHints string) string {
	var sb strings.Builder
	sb.WriteString("Task request:\n")
	sb.WriteString(request)
	if codebaseHints != "" {
		sb.WriteString("\n\nCodebase hints:\n")
		sb.WriteString(codebaseHints)
	}
	return sb.String()
}

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	fencedBareRe = regexp.MustCompile("(?s)```\\s*(.*?)```")
)

// extractJSON pulls a JSON object out of a model response: a fenced ```json
// block first, then a bare ``` fence, then the largest balanced `{…}` found
// anywhere in the text (§4.4).
func extractJSON(text string) (string, bool) {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if candidate := strings.TrimSpace(m[1]); candidate != "" {
			return candidate, true
		}
	}
	if m := fencedBareRe.FindStringSubmatch(text); m != nil {
		if candidate := strings.TrimSpace(m[1]); candidate != "" {
			return candidate, true
		}
	}
	return extractLargestBalancedObject(text)
}

// extractLargestBalancedObject scans text for every top-level balanced
// `{...}` span (ignoring braces inside quoted strings) and returns the
// longest one found.
func extractLargestBalancedObject(text string) (string, bool) {
	var best string
	depth := 0
	start := -1
	inString := false
	escape := false

	for i, r := range text {
		if escape {
			escape = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escape = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := text[start : i+1]
					if len(candidate) > len(best) {
						best = candidate
					}
				}
			}
		}
	}
	return best, best != ""
}

// rawSubtask mirrors the JSON shape the decomposer prompt asks for, kept
// separate from plan.Subtask so lenient parsing/defaulting never needs to
// special-case the real domain type's stricter field types.
type rawSubtask struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Type         string   `json:"type"`
	Complexity   string   `json:"complexity"`
	Dependencies []string `json:"dependencies"`
}

type rawPlan struct {
	Summary                 string       `json:"summary"`
	Subtasks                []rawSubtask `json:"subtasks"`
	RecommendedAgentCount   int          `json:"recommendedAgentCount"`
	ParallelizationStrategy string       `json:"parallelizationStrategy"`
	RiskAssessment          string       `json:"riskAssessment"`
}

// parseLenient converts raw decomposer JSON into a TaskPlan: unknown fields
// are dropped by json.Unmarshal itself, bad enums default to
// implementation/medium, and a missing dependency list defaults to empty
// (§4.4).
func parseLenient(jsonText, taskID, originalRequest string) (*plan.TaskPlan, error) {
	var raw rawPlan
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, fmt.Errorf("orchestrator: parse decomposer JSON: %w", err)
	}
	if len(raw.Subtasks) == 0 {
		return nil, fmt.Errorf("orchestrator: decomposer JSON has no subtasks")
	}

	p := &plan.TaskPlan{
		TaskID:                  taskID,
		OriginalRequest:         originalRequest,
		Summary:                 raw.Summary,
		ParallelizationStrategy: raw.ParallelizationStrategy,
		RiskAssessment:          raw.RiskAssessment,
		RecommendedAgentCount:   raw.RecommendedAgentCount,
	}
	if p.Summary == "" {
		p.Summary = originalRequest
	}
	if p.RecommendedAgentCount <= 0 {
		p.RecommendedAgentCount = 1
	}

	for i, rs := range raw.Subtasks {
		id := rs.ID
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
		}
		typ := rs.Type
		if !knownSubtaskTypes[typ] {
			typ = plan.DefaultType
		}
		complexity := plan.Complexity(rs.Complexity)
		if !knownComplexities[complexity] {
			complexity = plan.DefaultComplexity
		}
		deps := rs.Dependencies
		if deps == nil {
			deps = []string{}
		}

		p.Subtasks = append(p.Subtasks, &plan.Subtask{
			ID:           id,
			Title:        rs.Title,
			Description:  rs.Description,
			Type:         typ,
			Complexity:   complexity,
			Dependencies: deps,
			Status:       plan.StatusPending,
		})
	}

	return p, nil
}

// Decompose issues the decomposition completion request and builds a
// TaskPlan from its response. A completion error propagates (it's
// transient/infrastructural); a response that can't be parsed into a plan
// falls back to plan.Degenerate, per §4.4's explicit fallback rule.
func Decompose(ctx context.Context, completer PlanCompleter, model, taskID, request, codebaseHints string) (*plan.TaskPlan, error) {
	raw, err := completer.Complete(ctx, model, buildDecomposerPrompt(request, codebaseHints))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decomposition completion failed: %w", err)
	}

	jsonText, ok := extractJSON(raw)
	if !ok {
		return plan.Degenerate(taskID, request), nil
	}

	parsed, err := parseLenient(jsonText, taskID, request)
	if err != nil {
		return plan.Degenerate(taskID, request), nil
	}
	return parsed, nil
}
