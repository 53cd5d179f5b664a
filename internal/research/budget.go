package research

import (
	"errors"
	"sync"
)

// ErrBudgetExhausted is returned once the run-wide research-query budget is
// spent. The tool layer converts it to a capped-out tool result rather than
// failing the run.
var ErrBudgetExhausted = errors.New("research query budget exhausted")

// Budget is the shared research-query counter for one run. Every search and
// page read spends one unit.
type Budget struct {
	mu        sync.Mutex
	remaining int
}

// NewBudget creates a budget of n queries.
func NewBudget(n int) *Budget {
	return &Budget{remaining: n}
}

// Spend consumes one unit, or returns ErrBudgetExhausted when none remain.
func (b *Budget) Spend() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return ErrBudgetExhausted
	}
	b.remaining--
	return nil
}

// Remaining returns the unspent query count.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}
