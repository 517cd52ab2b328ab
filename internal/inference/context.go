package inference

import (
	"sync"
	"time"
)

// charsPerToken is the heuristic ratio used for token estimation. English
// text averages roughly 4 characters per token across common tokenizers;
// using the heuristic avoids a tokenizer dependency on the context path.
const charsPerToken = 4

// DefaultSafetyMargin is the fraction of the model's context window the
// conversation may occupy, leaving the remainder for the template scaffolding
// and the reply.
const DefaultSafetyMargin = 0.75

// Context is the bounded conversation history: a system persona plus an
// ordered sequence of user/assistant turns whose estimated token total never
// exceeds the budget.
//
// Eviction removes the oldest non-system turn first; the system persona is
// stored separately and is never evicted. The turn controller is the single
// writer; the engine reads snapshots when building prompts. All methods are
// safe for concurrent use.
type Context struct {
	mu     sync.Mutex
	budget int
	system Turn
	turns  []Turn
	tokens int
}

// NewContext creates a conversation bounded to budget estimated tokens with
// the given system persona. The persona counts against the budget but is
// never evicted.
func NewContext(budget int, system string) *Context {
	return &Context{
		budget: budget,
		system: Turn{Role: RoleSystem, Text: system, Timestamp: time.Now()},
	}
}

// SetBudget updates the token budget (e.g., after a different model loads)
// and evicts immediately if the history now exceeds it.
func (c *Context) SetBudget(budget int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = budget
	c.evictLocked()
}

// AddTurn appends a turn and evicts the oldest non-system turns until the
// estimated token total fits the budget again.
func (c *Context) AddTurn(role Role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Turn{Role: role, Text: text, Timestamp: time.Now()}
	c.turns = append(c.turns, t)
	c.tokens += estimateTurnTokens(t)
	c.evictLocked()
}

// System returns the persona text.
func (c *Context) System() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.system.Text
}

// SetSystem replaces the persona text and evicts if the new persona pushes
// the history over budget.
func (c *Context) SetSystem(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = Turn{Role: RoleSystem, Text: text, Timestamp: time.Now()}
	c.evictLocked()
}

// Budget returns the token budget.
func (c *Context) Budget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// Turns returns a snapshot of the non-system turns in order.
func (c *Context) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// TokenEstimate returns the current estimated token total, system persona
// included.
func (c *Context) TokenEstimate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens + estimateTurnTokens(c.system)
}

// Reset clears all non-system turns. The persona is kept.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = c.turns[:0]
	c.tokens = 0
}

// evictLocked drops oldest turns until the budget holds. When a single
// remaining turn still exceeds the budget on its own, its text is truncated
// to fit rather than kept whole: the estimate must stay within budget after
// every insertion, or the rendered prompt can overflow the model's window.
// Must be called with c.mu held.
func (c *Context) evictLocked() {
	if c.budget <= 0 {
		return
	}
	systemTokens := estimateTurnTokens(c.system)
	for c.tokens+systemTokens > c.budget && len(c.turns) > 1 {
		c.tokens -= estimateTurnTokens(c.turns[0])
		c.turns = c.turns[1:]
	}
	if c.tokens+systemTokens <= c.budget || len(c.turns) == 0 {
		return
	}
	t := &c.turns[0]
	maxText := (c.budget-systemTokens)*charsPerToken - len(t.Role)
	if maxText <= 0 {
		// Not even the role label fits; the persona already consumes the
		// whole budget.
		c.turns = c.turns[:0]
		c.tokens = 0
		return
	}
	t.Text = t.Text[:maxText]
	c.tokens = estimateTurnTokens(*t)
}

// estimateTurnTokens returns a rough token count for one turn using the
// 1-token-per-4-characters heuristic. Non-empty turns count at least 1.
func estimateTurnTokens(t Turn) int {
	chars := len(t.Text) + len(t.Role)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
