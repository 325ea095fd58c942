package orchestrator

import (
	"fmt"
	"strings"
	"sync"
)

// PhaseError records a failure inside one scan phase.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ErrorAggregator collects phase failures so the remaining phases can run.
// Thread-safe: Can be used from multiple goroutines
type ErrorAggregator struct {
	errors []*PhaseError
	mu     sync.Mutex
}

func NewErrorAggregator() *ErrorAggregator {
	return &ErrorAggregator{
		errors: make([]*PhaseError, 0),
	}
}

// Add records err against phase. Nil errors are ignored.
func (ea *ErrorAggregator) Add(phase string, err error) {
	if err == nil {
		return
	}
	ea.mu.Lock()
	defer ea.mu.Unlock()
	ea.errors = append(ea.errors, &PhaseError{Phase: phase, Err: err})
}

func (ea *ErrorAggregator) HasErrors() bool {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	return len(ea.errors) > 0
}

func (ea *ErrorAggregator) Count() int {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	return len(ea.errors)
}

// Phases returns the names of the failed phases in failure order.
func (ea *ErrorAggregator) Phases() []string {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	out := make([]string, len(ea.errors))
	for i, e := range ea.errors {
		out[i] = e.Phase
	}
	return out
}

// Errors returns a copy of all collected errors
func (ea *ErrorAggregator) Errors() []*PhaseError {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	result := make([]*PhaseError, len(ea.errors))
	copy(result, ea.errors)
	return result
}

// Error combines all collected errors into one message
func (ea *ErrorAggregator) Error() string {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	if len(ea.errors) == 0 {
		return ""
	}

	if len(ea.errors) == 1 {
		return ea.errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d phases failed:\n", len(ea.errors)))
	for i, err := range ea.errors {
		sb.WriteString(fmt.Sprintf("  %d. %v\n", i+1, err))
	}
	return sb.String()
}

// Summary returns a user-friendly error summary
func (ea *ErrorAggregator) Summary(totalPhases int) string {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	if len(ea.errors) == 0 {
		return fmt.Sprintf("All %d phases succeeded", totalPhases)
	}
	return fmt.Sprintf("%d/%d phases failed", len(ea.errors), totalPhases)
}
