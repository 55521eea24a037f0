// Package cli holds terminal-output formatting shared by cmd/ngoclaw-core's
// subcommands — glamour markdown rendering over lipgloss-styled accents,
// adapted from the teacher's REPL renderer down to what a one-shot "run"
// invocation actually prints (no approval dialogs or tool-call chrome; the
// agentcore.Callbacks wiring in cmd/ngoclaw-core/run.go covers that).
package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Accent colors shared with cmd/ngoclaw-core's own lipgloss styles for
// tool-call chrome, so the run/plan/serve output reads as one palette.
const (
	ColorCyan   = lipgloss.Color("#00D7FF")
	ColorGray   = lipgloss.Color("#6C6C6C")
	ColorGreen  = lipgloss.Color("#00FF87")
	ColorYellow = lipgloss.Color("#FFD75F")
)

// Renderer turns a model's markdown reply into styled terminal output.
type Renderer struct {
	glamour *glamour.TermRenderer
}

// NewRenderer builds a renderer word-wrapped to width columns.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{glamour: r}
}

// RenderMarkdown renders md, falling back to the raw text if glamour failed
// to initialize or errors on this particular input.
func (r *Renderer) RenderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}
