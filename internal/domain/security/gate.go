// Package security implements the permission gate that mediates every
// side-effecting tool call (§4.6): category capability, MCP-context
// auto-grant, then risk-class consultation of a persisted/session grant map.
package security

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// RiskClass classifies a tool as read-only (bypasses the gate) or write
// (subject to the grant map).
type RiskClass int

const (
	RiskReadOnly RiskClass = iota
	RiskWrite
)

// Category groups tools that need a session-wide capability flag before
// their per-tool grants apply.
type Category int

const (
	CategoryOrdinary Category = iota
	CategoryUIAutomation
	CategoryInterAgent
	CategoryCodeExec
)

// ToolClass is the {risk, category} pair for one tool name.
type ToolClass struct {
	Risk     RiskClass
	Category Category
}

// Classifier maps a tool name to its risk class and category. A single
// implementation backs the whole gate, replacing the teacher's several
// independent name-sets (DangerousTools/TrustedTools/...) with one registry.
type Classifier interface {
	Classify(toolName string) ToolClass
}

// StaticClassifier classifies tools from configured name sets.
type StaticClassifier struct {
	mu             sync.RWMutex
	writeTools     map[string]bool
	uiTools        map[string]bool
	interAgent     map[string]bool
	codeExec       map[string]bool
	defaultIsWrite bool
}

// NewStaticClassifier builds a classifier from explicit tool-name lists.
// Any tool not named in writeTools is treated as read-only.
func NewStaticClassifier(writeTools, uiTools, interAgentTools, codeExecTools []string) *StaticClassifier {
	c := &StaticClassifier{
		writeTools: toSet(writeTools),
		uiTools:    toSet(uiTools),
		interAgent: toSet(interAgentTools),
		codeExec:   toSet(codeExecTools),
	}
	return c
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func (c *StaticClassifier) Classify(toolName string) ToolClass {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tc := ToolClass{Risk: RiskReadOnly, Category: CategoryOrdinary}
	if c.writeTools[toolName] {
		tc.Risk = RiskWrite
	}
	switch {
	case c.uiTools[toolName]:
		tc.Category = CategoryUIAutomation
	case c.interAgent[toolName]:
		tc.Category = CategoryInterAgent
	case c.codeExec[toolName]:
		tc.Category = CategoryCodeExec
	}
	return tc
}

// SetWriteTool marks a tool name as write-class (or read-only if write=false).
func (c *StaticClassifier) SetWriteTool(name string, write bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if write {
		c.writeTools[name] = true
	} else {
		delete(c.writeTools, name)
	}
}

// Scope is the duration of a permission grant.
type Scope int

const (
	ScopeDeny Scope = iota
	ScopeOnce
	ScopeSession
	ScopeAlways
)

// Decision is the user's answer to a per-tool approval prompt: Always/
// Session/Once/No, matching §4.6's A/S/O/N choices.
type Decision int

const (
	DecisionAlways Decision = iota
	DecisionSession
	DecisionOnce
	DecisionDeny
)

func (d Decision) scope() Scope {
	switch d {
	case DecisionAlways:
		return ScopeAlways
	case DecisionSession:
		return ScopeSession
	case DecisionOnce:
		return ScopeOnce
	default:
		return ScopeDeny
	}
}

// PersistentStore backs "always" grants across runs. Implementations live in
// infrastructure/permstore (gorm-backed; the composition root opens it on
// sqlite).
type PersistentStore interface {
	Get(repoPath, toolName string) (bool, error)
	Set(repoPath, toolName string, granted bool) error
}

// SessionStore holds in-memory "session" grants, cleared on session reset.
type SessionStore struct {
	mu    sync.RWMutex
	grant map[string]bool
}

func NewSessionStore() *SessionStore {
	return &SessionStore{grant: make(map[string]bool)}
}

func (s *SessionStore) Get(repoPath, toolName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grant[key(repoPath, toolName)]
}

func (s *SessionStore) Set(repoPath, toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grant[key(repoPath, toolName)] = true
}

// Reset clears all session grants.
func (s *SessionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grant = make(map[string]bool)
}

// normalizePath makes a repo path absolute, strips a trailing separator, and
// lower-cases it for case-insensitive key comparison (§4.6).
func normalizePath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	abs = strings.TrimRight(abs, string(filepath.Separator))
	return strings.ToLower(abs)
}

func key(repoPath, toolName string) string {
	return normalizePath(repoPath) + ":" + toolName
}

type mcpContextKey struct{}

// WithMCPContext marks ctx as running inside an MCP tool-batching frame that
// already acquired outer permission (§4.6 layer 2).
func WithMCPContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, mcpContextKey{}, true)
}

// InMCPContext reports whether ctx carries the MCP auto-grant flag.
func InMCPContext(ctx context.Context) bool {
	v, _ := ctx.Value(mcpContextKey{}).(bool)
	return v
}

// PromptFunc requests user confirmation for a write-class tool call. It must
// block until the user responds or ctx is cancelled.
type PromptFunc func(ctx context.Context, toolName string, argsJSON string) (Decision, error)

// CapabilityPromptFunc requests the one-shot session capability for a tool
// category (UI automation / inter-agent).
type CapabilityPromptFunc func(ctx context.Context, category Category) (bool, error)

// Gate is the permission gate: category capability → MCP-context auto-grant
// → risk-class grant map, per §4.6.
type Gate struct {
	classifier Classifier
	persistent PersistentStore
	session    *SessionStore
	prompt     PromptFunc
	capPrompt  CapabilityPromptFunc
	logger     *zap.Logger

	mu         sync.Mutex
	capability map[Category]bool // session-wide capability flags
}

// NewGate builds a permission gate. prompt/capPrompt may be nil in
// fully-automatic deployments, in which case ungranted write calls are
// denied rather than silently allowed.
func NewGate(classifier Classifier, persistent PersistentStore, prompt PromptFunc, capPrompt CapabilityPromptFunc, logger *zap.Logger) *Gate {
	return &Gate{
		classifier: classifier,
		persistent: persistent,
		session:    NewSessionStore(),
		prompt:     prompt,
		capPrompt:  capPrompt,
		logger:     logger,
		capability: make(map[Category]bool),
	}
}

// Check performs the full 3-layer permission check for one tool call and
// returns whether it is granted.
func (g *Gate) Check(ctx context.Context, repoPath, toolName, argsJSON string) (bool, error) {
	class := g.classifier.Classify(toolName)

	// Layer 1: category capability.
	if class.Category == CategoryUIAutomation || class.Category == CategoryInterAgent {
		if class.Risk == RiskReadOnly {
			// Read-only tools in these categories are auto-allowed once the
			// flag is on; they still need the flag raised at least once.
			if !g.hasCapability(class.Category) {
				if ok, err := g.requestCapability(ctx, class.Category); err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		}
		if !g.hasCapability(class.Category) {
			ok, err := g.requestCapability(ctx, class.Category)
			if err != nil || !ok {
				return false, err
			}
		}
	}

	// Layer 2: MCP context auto-grant.
	if InMCPContext(ctx) {
		return true, nil
	}

	// Layer 3: risk class.
	if class.Risk == RiskReadOnly {
		return true, nil
	}

	return g.checkWriteGrant(ctx, repoPath, toolName, argsJSON)
}

func (g *Gate) hasCapability(cat Category) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capability[cat]
}

func (g *Gate) requestCapability(ctx context.Context, cat Category) (bool, error) {
	if g.capPrompt == nil {
		return false, nil
	}
	ok, err := g.capPrompt(ctx, cat)
	if err != nil {
		return false, err
	}
	if ok {
		g.mu.Lock()
		g.capability[cat] = true
		g.mu.Unlock()
	}
	return ok, nil
}

func (g *Gate) checkWriteGrant(ctx context.Context, repoPath, toolName, argsJSON string) (bool, error) {
	if g.persistent != nil {
		if granted, err := g.persistent.Get(repoPath, toolName); err == nil && granted {
			return true, nil
		}
	}
	if g.session.Get(repoPath, toolName) {
		return true, nil
	}

	if g.prompt == nil {
		return false, nil
	}

	decision, err := g.prompt(ctx, toolName, argsJSON)
	if err != nil {
		if g.logger != nil {
			g.logger.Error("permission prompt failed", zap.String("tool", toolName), zap.Error(err))
		}
		return false, err
	}

	switch decision.scope() {
	case ScopeAlways:
		if g.persistent != nil {
			if err := g.persistent.Set(repoPath, toolName, true); err != nil {
				return false, err
			}
		}
		return true, nil
	case ScopeSession:
		g.session.Set(repoPath, toolName)
		return true, nil
	case ScopeOnce:
		return true, nil
	default:
		return false, nil
	}
}

// ResetSession clears in-memory session grants and capability flags.
func (g *Gate) ResetSession() {
	g.session.Reset()
	g.mu.Lock()
	g.capability = make(map[Category]bool)
	g.mu.Unlock()
}
