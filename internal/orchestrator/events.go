package orchestrator

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventPageFetched  EventType = "page_fetched"
	EventPhaseDone    EventType = "phase_done"
	EventFinding      EventType = "finding"
)

// Event is a progress notification. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	ScanID   string
	Time     time.Time
	State    State
	Phase    string
	URL      string
	Depth    int
	Status   int
	Err      error
	Finding  *types.Finding
	Findings int
	Duration time.Duration
}

// Observer receives events synchronously on the scanning goroutine. It must
// not block for long.
type Observer func(Event)
