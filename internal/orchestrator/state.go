package orchestrator

import "fmt"

// State is a scan's position in its lifecycle.
type State int

const (
	// StateIdle is the state before Run and after a rejected start
	StateIdle State = iota

	// StateCrawling discovers pages and forms
	StateCrawling

	// StateTesting runs the enabled testers in configuration order
	StateTesting

	// StateReporting assembles the ScanReport
	StateReporting

	// StateDone is terminal; the session has been closed
	StateDone
)

func (s State) String() string {
	names := []string{"idle", "crawling", "testing", "reporting", "done"}
	if int(s) >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// transitions lists the legal successors of each state. Cancellation jumps
// straight to reporting so a partial report is still produced.
var transitions = map[State][]State{
	StateIdle:      {StateCrawling},
	StateCrawling:  {StateTesting, StateReporting},
	StateTesting:   {StateReporting},
	StateReporting: {StateDone},
	StateDone:      {},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s State) transition(next State) (State, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("illegal state transition %s -> %s", s, next)
	}
	return next, nil
}
