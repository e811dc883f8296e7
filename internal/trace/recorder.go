package trace

import "sync"

// Recorder collects the events of one run. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a copy of the events recorded so far.
func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds a StageTrace from the events recorded so far.
func (r *Recorder) Trace(runKey string) StageTrace {
	return StageTrace{RunKey: runKey, Events: r.Snapshot()}
}
