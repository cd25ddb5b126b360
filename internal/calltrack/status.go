package calltrack

import (
	"sync"
	"time"
)

// Status is a call status label.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusAnswered   Status = "answered"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"

	StatusBusy     Status = "busy"
	StatusNoAnswer Status = "no-answer"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// unranked sorts below queued. Terminal failures are outside the order.
const unranked = -1

// Rank is the position of s in the progression
// queued < initiated < ringing < answered == in-progress < completed.
func (s Status) Rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusInitiated:
		return 1
	case StatusRinging:
		return 2
	case StatusAnswered, StatusInProgress:
		return 3
	case StatusCompleted:
		return 4
	default:
		return unranked
	}
}

// IsTerminalFailure reports whether s may interrupt any progression.
func (s Status) IsTerminalFailure() bool {
	switch s {
	case StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further progression is expected after s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s.IsTerminalFailure()
}

// Record is the accepted status history of one call.
type Record struct {
	LastStatus  Status
	History     []Status
	LastUpdated time.Time
}

// Tracker enforces status progression and duplicate suppression per call.
// It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	calls map[string]*Record
}

func NewTracker() *Tracker {
	return &Tracker{calls: map[string]*Record{}}
}

// Decide reports whether status should be relayed for callID and, if so,
// records it. A rejection is expected steady-state behavior, not an error.
func (t *Tracker) Decide(callID string, status Status, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.calls[callID]
	if !ok {
		t.calls[callID] = &Record{LastStatus: status, History: []Status{status}, LastUpdated: now}
		return true
	}
	if !accepts(rec.LastStatus, status) {
		return false
	}
	rec.LastStatus = status
	rec.History = append(rec.History, status)
	rec.LastUpdated = now
	return true
}

func accepts(last, next Status) bool {
	if next == last {
		return false
	}
	if next.IsTerminalFailure() {
		return true
	}
	// nothing in the progression follows a terminal failure
	if last.IsTerminalFailure() {
		return false
	}
	return next.Rank() > last.Rank()
}

// Get returns a copy of the record for callID.
func (t *Tracker) Get(callID string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.calls[callID]
	if !ok {
		return Record{}, false
	}
	cp := *rec
	cp.History = append([]Status(nil), rec.History...)
	return cp, true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Breakdown counts tracked calls by their last accepted status.
func (t *Tracker) Breakdown() map[Status]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Status]int, 8)
	for _, rec := range t.calls {
		out[rec.LastStatus]++
	}
	return out
}

// Evict forgets callID. Evicting an unknown call is a no-op.
func (t *Tracker) Evict(callID string) {
	t.mu.Lock()
	delete(t.calls, callID)
	t.mu.Unlock()
}

// EvictOlderThan removes calls last updated before cutoff and returns their ids.
func (t *Tracker) EvictOlderThan(cutoff time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id, rec := range t.calls {
		if rec.LastUpdated.Before(cutoff) {
			delete(t.calls, id)
			out = append(out, id)
		}
	}
	return out
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.calls = map[string]*Record{}
	t.mu.Unlock()
}
