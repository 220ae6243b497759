package extractor

import "sync"

// State is the extraction loop's lifecycle phase.
type State int

const (
	StateInit State = iota
	StateFetching
	StateProcessing
	StateStopping
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateInit:       "init",
	StateFetching:   "fetching",
	StateProcessing: "processing",
	StateStopping:   "stopping",
	StateDone:       "done",
	StateFailed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// stateTracker guards the current state for concurrent readers such
// as progress reporters
type stateTracker struct {
	mu    sync.RWMutex
	state State
}

func (t *stateTracker) set(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *stateTracker) get() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}
