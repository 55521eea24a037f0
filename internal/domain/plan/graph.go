package plan

import "fmt"

// CycleError reports the subtask ids left over when the parallel-group walk
// terminates with an unsatisfiable remainder (§4.4).
type CycleError struct {
	RemainingIDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("task plan has a dependency cycle among: %v", e.RemainingIDs)
}

// satisfied reports whether a dependency id counts as cleared. Normal mode
// only accepts completed; relaxed mode also accepts failed/skipped so a
// dead non-critical dependency doesn't block everything downstream forever.
func satisfied(dep *Subtask, relaxed bool) bool {
	if dep == nil {
		return false
	}
	if dep.Status == StatusCompleted {
		return true
	}
	return relaxed && (dep.Status == StatusFailed || dep.Status == StatusSkipped)
}

// ReadySet returns every pending subtask whose dependencies are all
// satisfied under the given mode (§4.4).
func ReadySet(p *TaskPlan, relaxed bool) []*Subtask {
	var ready []*Subtask
	for _, s := range p.Subtasks {
		if s.Status != StatusPending {
			continue
		}
		allSatisfied := true
		for _, depID := range s.Dependencies {
			if !satisfied(p.ByID(depID), relaxed) {
				allSatisfied = false
				break
			}
		}
		if allSatisfied {
			ready = append(ready, s)
		}
	}
	return ready
}

// ParallelGroups computes phases by repeatedly taking the current ready set
// as one phase, marking those subtasks as if completed, and iterating. The
// first empty phase ends the walk; a non-empty remainder means a cycle
// (§4.4). This never mutates p — it works against a scratch status copy.
func ParallelGroups(p *TaskPlan, relaxed bool) ([][]*Subtask, error) {
	statuses := make(map[string]Status, len(p.Subtasks))
	for _, s := range p.Subtasks {
		statuses[s.ID] = s.Status
	}

	scratch := &TaskPlan{Subtasks: p.Subtasks}
	remaining := make(map[string]bool)
	for _, s := range p.Subtasks {
		if s.Status == StatusPending {
			remaining[s.ID] = true
		}
	}

	var groups [][]*Subtask
	for len(remaining) > 0 {
		phase := readyAgainst(scratch, statuses, relaxed, remaining)
		if len(phase) == 0 {
			ids := make([]string, 0, len(remaining))
			for id := range remaining {
				ids = append(ids, id)
			}
			return groups, &CycleError{RemainingIDs: ids}
		}
		groups = append(groups, phase)
		for _, s := range phase {
			statuses[s.ID] = StatusCompleted
			delete(remaining, s.ID)
		}
	}
	return groups, nil
}

// readyAgainst is ReadySet but against a scratch status map rather than the
// live Status field, so ParallelGroups can simulate completion without
// mutating the real plan.
func readyAgainst(p *TaskPlan, statuses map[string]Status, relaxed bool, remaining map[string]bool) []*Subtask {
	var ready []*Subtask
	for _, s := range p.Subtasks {
		if !remaining[s.ID] {
			continue
		}
		allSatisfied := true
		for _, depID := range s.Dependencies {
			depStatus, ok := statuses[depID]
			if !ok {
				allSatisfied = false
				break
			}
			if depStatus == StatusCompleted {
				continue
			}
			if relaxed && (depStatus == StatusFailed || depStatus == StatusSkipped) {
				continue
			}
			allSatisfied = false
			break
		}
		if allSatisfied {
			ready = append(ready, s)
		}
	}
	return ready
}

// ResetInterrupted resets any in-progress subtask back to pending and clears
// its agent assignment, without touching retry-count — an interruption is
// not a retry (§4.4: "on plan load ... retry-count is NOT incremented").
func ResetInterrupted(p *TaskPlan) {
	for _, s := range p.Subtasks {
		if s.Status == StatusInProgress {
			s.Status = StatusPending
			s.AssignedAgent = ""
		}
	}
}

// Retry re-arms a subtask for another attempt: increments retry-count and
// escalates to the thinking model per the spec's literal rule — after one
// failure of a Complex/VeryComplex task, or after the second retry of any
// task (§4.4).
func Retry(s *Subtask) {
	s.RetryCount++
	s.Status = StatusPending
	s.AssignedAgent = ""

	if s.RetryCount >= 2 {
		s.UseThinkingModel = true
		return
	}
	if s.Complexity == ComplexityComplex || s.Complexity == ComplexityVeryComplex {
		s.UseThinkingModel = true
	}
}
