package inference

import (
	"strings"
	"testing"
)

func TestContextAddAndSnapshot(t *testing.T) {
	c := NewContext(1000, "persona")
	c.AddTurn(RoleUser, "hello")
	c.AddTurn(RoleAssistant, "hi there")

	turns := c.Turns()
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Text != "hello" {
		t.Errorf("turns[0] = %+v", turns[0])
	}
	if turns[1].Role != RoleAssistant {
		t.Errorf("turns[1] = %+v", turns[1])
	}
	if c.System() != "persona" {
		t.Errorf("System = %q", c.System())
	}
}

func TestContextEvictsOldestFirst(t *testing.T) {
	// Budget fits roughly three 100-char turns plus the persona.
	c := NewContext(90, "sys")
	long := strings.Repeat("x", 100) // ~26 tokens per turn

	c.AddTurn(RoleUser, long+"1")
	c.AddTurn(RoleAssistant, long+"2")
	c.AddTurn(RoleUser, long+"3")
	c.AddTurn(RoleAssistant, long+"4")

	turns := c.Turns()
	if len(turns) >= 4 {
		t.Fatalf("no eviction happened, len = %d", len(turns))
	}
	// Eviction is strictly oldest-first, so the newest turn survives.
	last := turns[len(turns)-1]
	if !strings.HasSuffix(last.Text, "4") {
		t.Errorf("newest turn evicted, last = %q", last.Text)
	}
	for i := 1; i < len(turns); i++ {
		if turns[i-1].Timestamp.After(turns[i].Timestamp) {
			t.Error("turns out of order after eviction")
		}
	}
}

func TestContextTruncatesOversizedTurn(t *testing.T) {
	c := NewContext(10, "")
	c.AddTurn(RoleUser, strings.Repeat("x", 400))

	if got := c.TokenEstimate(); got > c.Budget() {
		t.Fatalf("estimate %d exceeds budget %d", got, c.Budget())
	}
	turns := c.Turns()
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if turns[0].Text == "" || len(turns[0].Text) >= 400 {
		t.Errorf("turn text not truncated: %d bytes", len(turns[0].Text))
	}
	if !strings.HasPrefix(strings.Repeat("x", 400), turns[0].Text) {
		t.Error("truncation did not keep a prefix of the original text")
	}
}

func TestContextDropsTurnWhenPersonaFillsBudget(t *testing.T) {
	// Persona estimates to exactly 20 tokens: 74 chars + len("system") = 80.
	c := NewContext(20, strings.Repeat("p", 74))
	c.AddTurn(RoleUser, "hello there")

	if got := c.TokenEstimate(); got > c.Budget() {
		t.Fatalf("estimate %d exceeds budget %d", got, c.Budget())
	}
	if len(c.Turns()) != 0 {
		t.Error("turn kept although the persona consumes the whole budget")
	}
}

func TestContextSystemNeverEvicted(t *testing.T) {
	c := NewContext(40, strings.Repeat("p", 80))
	for i := 0; i < 20; i++ {
		c.AddTurn(RoleUser, strings.Repeat("y", 60))
	}
	if c.System() == "" {
		t.Fatal("persona was evicted")
	}
}

func TestContextTokenEstimateIncludesSystem(t *testing.T) {
	c := NewContext(1000, strings.Repeat("p", 40))
	base := c.TokenEstimate()
	if base == 0 {
		t.Fatal("persona not counted in estimate")
	}
	c.AddTurn(RoleUser, strings.Repeat("u", 40))
	if got := c.TokenEstimate(); got <= base {
		t.Errorf("estimate did not grow: %d -> %d", base, got)
	}
}

func TestContextStaysWithinBudget(t *testing.T) {
	c := NewContext(50, "sys")
	for i := 0; i < 50; i++ {
		c.AddTurn(RoleUser, strings.Repeat("z", 30))
	}
	if got := c.TokenEstimate(); got > 50 {
		t.Errorf("estimate %d exceeds budget 50", got)
	}
	if len(c.Turns()) < 1 {
		t.Error("context fully drained")
	}
}

func TestContextReset(t *testing.T) {
	c := NewContext(1000, "persona")
	c.AddTurn(RoleUser, "hello")
	c.Reset()

	if len(c.Turns()) != 0 {
		t.Error("turns survived reset")
	}
	if c.System() != "persona" {
		t.Error("persona lost on reset")
	}
}

func TestContextSetBudgetEvicts(t *testing.T) {
	c := NewContext(10000, "")
	for i := 0; i < 10; i++ {
		c.AddTurn(RoleUser, strings.Repeat("a", 200))
	}
	before := len(c.Turns())
	c.SetBudget(60)
	if after := len(c.Turns()); after >= before {
		t.Errorf("shrinking budget did not evict: %d -> %d", before, after)
	}
}
