// Package plan holds the task-plan data model and the pure graph
// computations (readiness, parallel phasing, retry escalation) the
// orchestrator drives. File I/O and locking live in
// internal/infrastructure/planstore; this package never touches disk.
package plan

import "time"

// Status is a subtask's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusSkipped    Status = "skipped"
)

// Complexity is the decomposer's estimate of a subtask's difficulty; it
// drives retry escalation to a more capable model (§4.4).
type Complexity string

const (
	ComplexitySimple      Complexity = "simple"
	ComplexityMedium      Complexity = "medium"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// DefaultType is the subtask type a lenient parse falls back to.
const DefaultType = "implementation"

// DefaultComplexity is the complexity a lenient parse falls back to.
const DefaultComplexity = ComplexityMedium

// Subtask is one unit of work in a TaskPlan.
type Subtask struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Type             string     `json:"type"`
	Complexity       Complexity `json:"complexity"`
	Dependencies     []string   `json:"dependencies"`
	Status           Status     `json:"status"`
	RetryCount       int        `json:"retryCount"`
	UseThinkingModel bool       `json:"useThinkingModel"`
	AssignedAgent    string     `json:"assignedAgent,omitempty"`
}

// TaskPlan is the shared source of truth for one orchestration run.
type TaskPlan struct {
	TaskID                  string     `json:"taskId"`
	OriginalRequest         string     `json:"originalRequest"`
	Summary                 string     `json:"summary"`
	Subtasks                []*Subtask `json:"subtasks"`
	RecommendedAgentCount   int        `json:"recommendedAgentCount"`
	ParallelizationStrategy string     `json:"parallelizationStrategy,omitempty"`
	RiskAssessment          string     `json:"riskAssessment,omitempty"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt,omitempty"`
}

// ByID returns the subtask with id, or nil if not present.
func (p *TaskPlan) ByID(id string) *Subtask {
	for _, s := range p.Subtasks {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Degenerate builds the one-subtask fallback plan the decomposer returns
// when it cannot parse a JSON plan out of the model's response (§4.4).
func Degenerate(taskID, originalRequest string) *TaskPlan {
	return &TaskPlan{
		TaskID:                taskID,
		OriginalRequest:       originalRequest,
		Summary:               originalRequest,
		RecommendedAgentCount: 1,
		CreatedAt:             time.Now().UTC(),
		Subtasks: []*Subtask{
			{
				ID:          "task-1",
				Title:       originalRequest,
				Description: originalRequest,
				Type:        DefaultType,
				Complexity:  DefaultComplexity,
				Status:      StatusPending,
			},
		},
	}
}
