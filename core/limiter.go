package core

import "sync"

// StepLimiter counts model invocations against the turn's budget. Budgets are
// always positive; TurnContext validation rejects anything else.
type StepLimiter struct {
	budget int
	used   int
	mu     sync.Mutex
}

// NewStepLimiter creates a limiter for budget model invocations.
func NewStepLimiter(budget int) *StepLimiter {
	return &StepLimiter{budget: budget}
}

// Take reserves the next invocation. It reports false once the budget is
// spent; exhaustion is an ordinary termination for the caller, not a failure.
func (l *StepLimiter) Take() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.used >= l.budget {
		return false
	}
	l.used++
	return true
}

// Used returns the number of invocations taken so far.
func (l *StepLimiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.used
}

// Remaining returns how many invocations are left.
func (l *StepLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.budget - l.used
}
