// Package planstore implements the §4.4 plan-file read-modify-write
// protocol: a single JSON document shared by every worker of one
// orchestration, guarded by a layered in-process semaphore plus a
// cross-process file lock, written back atomically.
package planstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/plan"
)

// lockDeadline bounds the cumulative time spent retrying the cross-process
// lock before giving up and reporting a timeout. Package-level vars (not
// consts) so tests can shrink them instead of waiting out the real 30s.
var (
	lockDeadline = 30 * time.Second
	backoffStart = 50 * time.Millisecond
	backoffCap   = 500 * time.Millisecond
)

// DefaultFileName is the plan file's default name in the user's working
// directory (§4.4).
const DefaultFileName = "current-plan.json"

// Store is the crash-safe, cross-process plan file.
type Store struct {
	path string
	mu   sync.Mutex // the in-process semaphore: a single permit
}

// New builds a Store rooted at path; an empty path defaults to
// "current-plan.json" in the current directory.
func New(path string) *Store {
	if path == "" {
		path = DefaultFileName
	}
	return &Store{path: path}
}

// Path returns the plan file's path.
func (s *Store) Path() string { return s.path }

func (s *Store) lockPath() string { return s.path + ".lock" }
func (s *Store) tmpPath() string  { return fmt.Sprintf("%s.tmp.%d", s.path, os.Getpid()) }

// Mutate runs the full read-modify-write protocol: in-process lock,
// cross-process lock, read, fn (the mutation), atomic write, release in
// reverse order. current is nil if the plan file doesn't exist yet; fn may
// return the same pointer it was given, or a replacement plan (e.g. the
// decomposer creating one for the first time). Returning a nil plan with a
// nil error skips the write.
func (s *Store) Mutate(ctx context.Context, fn func(current *plan.TaskPlan) (*plan.TaskPlan, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fileLock := flock.New(s.lockPath())
	acquired, err := s.acquireCrossProcessLock(ctx, fileLock)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("planstore: timed out acquiring lock on %s after %s", s.lockPath(), lockDeadline)
	}
	defer func() {
		_ = fileLock.Unlock()
		_ = os.Remove(s.lockPath()) // delete-on-close semantics
	}()

	current, err := s.read()
	if err != nil {
		return err
	}

	updated, err := fn(current)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil
	}
	updated.UpdatedAt = time.Now().UTC()

	return s.writeAtomic(updated)
}

// acquireCrossProcessLock polls TryLock with exponential backoff (50ms,
// doubling, capped at 500ms) until it succeeds or the 30-second deadline
// passes. On success it stamps the lock file with "<pid>:<UTC>" for
// debugging, per §4.4.
func (s *Store) acquireCrossProcessLock(ctx context.Context, fileLock *flock.Flock) (bool, error) {
	deadline := time.Now().Add(lockDeadline)
	backoff := backoffStart

	for {
		locked, err := fileLock.TryLock()
		if err != nil {
			return false, fmt.Errorf("planstore: lock attempt on %s failed: %w", s.lockPath(), err)
		}
		if locked {
			s.stampLockDebugInfo()
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

func (s *Store) stampLockDebugInfo() {
	content := fmt.Sprintf("%d:%s", os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano))
	_ = os.WriteFile(s.lockPath(), []byte(content), 0o644)
}

// read loads the plan file, resetting any in-progress subtask to pending
// (an interrupted run, per §4.4) without touching retry-count. Returns a nil
// plan and nil error if the file doesn't exist yet.
func (s *Store) read() (*plan.TaskPlan, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("planstore: read %s: %w", s.path, err)
	}

	var p plan.TaskPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("planstore: parse %s: %w", s.path, err)
	}
	plan.ResetInterrupted(&p)
	return &p, nil
}

// writeAtomic serializes p to a sibling temp file, flushes it, then
// replaces the original via delete-then-rename — the portable minimum for
// an atomic swap (§4.4).
func (s *Store) writeAtomic(p *plan.TaskPlan) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("planstore: marshal plan: %w", err)
	}

	tmp := s.tmpPath()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("planstore: open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("planstore: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("planstore: flush temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("planstore: close temp file: %w", err)
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		os.Remove(tmp)
		return fmt.Errorf("planstore: remove original before rename: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("planstore: rename temp into place: %w", err)
	}
	return nil
}

// UpdateSubtaskStatus is the common case of Mutate: set one subtask's
// status atomically through the full RMW path (§4.4).
func (s *Store) UpdateSubtaskStatus(ctx context.Context, subtaskID string, status plan.Status) error {
	return s.Mutate(ctx, func(current *plan.TaskPlan) (*plan.TaskPlan, error) {
		if current == nil {
			return nil, fmt.Errorf("planstore: no plan exists at %s", s.path)
		}
		st := current.ByID(subtaskID)
		if st == nil {
			return nil, fmt.Errorf("planstore: unknown subtask %q", subtaskID)
		}
		st.Status = status
		return current, nil
	})
}

// Load reads the plan without taking the write path — used by callers that
// only need a consistent snapshot (e.g. computing the next ready set) and
// will mutate it back through Mutate if anything changes.
func (s *Store) Load(ctx context.Context) (*plan.TaskPlan, error) {
	var out *plan.TaskPlan
	err := s.Mutate(ctx, func(current *plan.TaskPlan) (*plan.TaskPlan, error) {
		out = current
		return nil, nil // nil update: Mutate skips the write
	})
	return out, err
}
