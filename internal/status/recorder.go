package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder is a concurrency-safe in-memory run log collector.
//
// Recording uses a single mutex; ordering is the arrival order of events,
// which for a single-orchestrator caller is the submission/harvest order.
type Recorder struct {
	mu      sync.Mutex
	runID   uuid.UUID
	started time.Time
	events  []Event
}

// NewRecorder starts an empty run log with a fresh run id.
func NewRecorder() *Recorder {
	return &Recorder{runID: uuid.New(), started: time.Now()}
}

// RunID returns the run's identifier.
func (r *Recorder) RunID() string { return r.runID.String() }

// Record appends an event. It never panics and never returns an error.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	if event.At.IsZero() {
		event.At = time.Now()
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a copy of the run log collected so far.
func (r *Recorder) Snapshot() *RunLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]Event, len(r.events))
	copy(events, r.events)
	return &RunLog{
		RunID:     r.runID.String(),
		StartedAt: r.started,
		Events:    events,
	}
}
