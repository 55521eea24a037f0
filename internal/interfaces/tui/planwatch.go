package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/planstore"
)

// pollInterval is how often PlanWatchModel re-reads the plan file. The
// orchestrator writes through planstore.Store's cross-process lock, so a
// concurrent "ngoclaw-core plan" run and this read-only watcher never race.
const pollInterval = 750 * time.Millisecond

var (
	statusStyle = map[plan.Status]lipgloss.Style{
		plan.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		plan.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		plan.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		plan.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		plan.StatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		plan.StatusSkipped:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Strikethrough(true),
	}
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

type planLoadedMsg struct {
	plan *plan.TaskPlan
}

type planErrMsg struct {
	err error
}

type tickMsg time.Time

// PlanWatchModel is a read-only bubbletea view over one planstore.Store:
// the parallel-group/subtask-status the orchestrator's executor is
// driving, refreshed on a timer rather than pushed (the store has no
// subscribe hook — §4.4 only specifies the file format, not a notification
// channel).
type PlanWatchModel struct {
	store   *planstore.Store
	plan    *plan.TaskPlan
	spinner spinner.Model
	err     error
	quitting bool
}

// NewPlanWatchModel builds a watcher over store.
func NewPlanWatchModel(store *planstore.Store) *PlanWatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	return &PlanWatchModel{store: store, spinner: s}
}

// RunPlanWatch runs the watcher until the user quits (q / ctrl+c).
func RunPlanWatch(store *planstore.Store) error {
	_, err := tea.NewProgram(NewPlanWatchModel(store)).Run()
	return err
}

func (m *PlanWatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, loadPlanCmd(m.store), tickCmd())
}

func loadPlanCmd(store *planstore.Store) tea.Cmd {
	return func() tea.Msg {
		p, err := store.Load(context.Background())
		if err != nil {
			return planErrMsg{err: err}
		}
		return planLoadedMsg{plan: p}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *PlanWatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(loadPlanCmd(m.store), tickCmd())
	case planLoadedMsg:
		m.plan = msg.plan
		m.err = nil
		return m, nil
	case planErrMsg:
		m.err = msg.err
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *PlanWatchModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	if m.err != nil {
		fmt.Fprintf(&b, "%s\n", errStyle.Render("error: "+m.err.Error()))
	}
	if m.plan == nil {
		fmt.Fprintf(&b, "%s waiting for plan…\n", m.spinner.View())
		return b.String()
	}

	fmt.Fprintf(&b, "%s\n", headerStyle.Render(fmt.Sprintf("%s — %s", m.plan.TaskID, m.plan.Summary)))
	for _, st := range m.plan.Subtasks {
		style, ok := statusStyle[st.Status]
		if !ok {
			style = lipgloss.NewStyle()
		}
		marker := string(st.Status)
		if st.Status == plan.StatusInProgress {
			marker = m.spinner.View() + " " + marker
		}
		fmt.Fprintf(&b, "  [%s] %s  %s\n", style.Render(marker), st.ID, st.Title)
	}
	b.WriteString("\n(q to quit)\n")
	return b.String()
}
