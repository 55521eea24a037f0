package planstore

import (
	"fmt"
	"os"
	"strings"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
)

// statusIcon renders a subtask status as a short glyph for the markdown
// mirror.
func statusIcon(s plan.Status) string {
	switch s {
	case plan.StatusCompleted:
		return "✅"
	case plan.StatusInProgress:
		return "\U0001F504"
	case plan.StatusFailed:
		return "❌"
	case plan.StatusSkipped:
		return "⏭"
	case plan.StatusBlocked:
		return "\U0001F6AB"
	default:
		return "⏳"
	}
}

// RenderMarkdown renders p as a human-readable progress report, grouped by
// parallel phase. It is informational only — §4.4 is explicit that this
// mirror is never read back as a source of truth, so a dependency cycle is
// reported inline rather than returned as an error.
func RenderMarkdown(p *plan.TaskPlan) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", p.Summary)
	fmt.Fprintf(&sb, "Task: %s\n\n", p.OriginalRequest)
	if p.RiskAssessment != "" {
		fmt.Fprintf(&sb, "Risk: %s\n\n", p.RiskAssessment)
	}

	groups, err := plan.ParallelGroups(p, true)
	if err != nil {
		sb.WriteString("> dependency cycle detected, falling back to a flat listing\n\n")
		sb.WriteString("## Subtasks\n\n")
		for _, s := range p.Subtasks {
			writeSubtaskLine(&sb, s)
		}
		return sb.String()
	}

	for i, phase := range groups {
		fmt.Fprintf(&sb, "## Phase %d\n\n", i+1)
		for _, s := range phase {
			writeSubtaskLine(&sb, s)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func writeSubtaskLine(sb *strings.Builder, s *plan.Subtask) {
	fmt.Fprintf(sb, "- %s **%s** (%s", statusIcon(s.Status), s.Title, s.Status)
	if s.RetryCount > 0 {
		fmt.Fprintf(sb, ", retry %d", s.RetryCount)
	}
	if s.UseThinkingModel {
		sb.WriteString(", thinking model")
	}
	if s.AssignedAgent != "" {
		fmt.Fprintf(sb, ", agent %s", s.AssignedAgent)
	}
	sb.WriteString(")\n")
}

// WriteMarkdownMirror renders p and writes it to the plan file's ".md"
// sibling. Failures here never block the real write path in Mutate — the
// mirror is a convenience, not a guarantee.
func (s *Store) WriteMarkdownMirror(p *plan.TaskPlan) error {
	content := RenderMarkdown(p)
	return os.WriteFile(s.path+".md", []byte(content), 0o644)
}
