package calltrack

import (
	"sync"
	"time"
)

// Secs is an elapsed time in whole seconds. Unknown means the annotation
// should be omitted.
type Secs int

const Unknown Secs = -1

func (s Secs) Known() bool { return s >= 0 }

// durationNoise is the smallest authoritative call duration trusted over a
// locally derived one.
const durationNoise = 1

// Timing holds the timestamps observed for one call. Each is set at most once.
type Timing struct {
	Started   time.Time
	Initiated time.Time
	Ringing   time.Time
	Answered  time.Time
	Completed time.Time
}

// Hints are authoritative values supplied with a notification or call record.
type Hints struct {
	Duration     *int // call duration, seconds
	RingDuration *int // ring time, seconds
}

// Elapsed annotations computed by RecordAndGet. Fields not relevant to the
// observed status are Unknown.
type Elapsed struct {
	RingSetup    Secs // initiated -> ringing
	RingDuration Secs // ringing -> answered
	CallDuration Secs // answered -> completed
	RingTime     Secs // time spent ringing before no-answer
}

func unknownElapsed() Elapsed {
	return Elapsed{RingSetup: Unknown, RingDuration: Unknown, CallDuration: Unknown, RingTime: Unknown}
}

// TimingTracker keeps per-call timestamps. It is safe for concurrent use.
type TimingTracker struct {
	mu    sync.Mutex
	calls map[string]*Timing
}

func NewTimingTracker() *TimingTracker {
	return &TimingTracker{calls: map[string]*Timing{}}
}

// RecordAndGet stamps the timestamp matching status and returns the elapsed
// annotations it enables.
func (t *TimingTracker) RecordAndGet(callID string, status Status, hints Hints, now time.Time) Elapsed {
	t.mu.Lock()
	defer t.mu.Unlock()

	tm, ok := t.calls[callID]
	if !ok {
		tm = &Timing{Started: now}
		t.calls[callID] = tm
	}

	out := unknownElapsed()
	switch status {
	case StatusQueued, StatusInitiated:
		stamp(&tm.Initiated, now)
	case StatusRinging:
		stamp(&tm.Ringing, now)
		out.RingSetup = since(tm.Initiated, now)
	case StatusAnswered, StatusInProgress:
		stamp(&tm.Answered, now)
		out.RingDuration = since(tm.Ringing, now)
	case StatusCompleted:
		stamp(&tm.Completed, now)
		if hints.Duration != nil && *hints.Duration > durationNoise {
			out.CallDuration = Secs(*hints.Duration)
		} else {
			out.CallDuration = since(tm.Answered, now)
		}
	case StatusNoAnswer:
		switch {
		case hints.RingDuration != nil && *hints.RingDuration > 0:
			out.RingTime = Secs(*hints.RingDuration)
		case !tm.Ringing.IsZero():
			out.RingTime = since(tm.Ringing, now)
		default:
			out.RingTime = since(tm.Initiated, now)
		}
	}
	return out
}

func stamp(dst *time.Time, now time.Time) {
	if dst.IsZero() {
		*dst = now
	}
}

func since(from, now time.Time) Secs {
	if from.IsZero() {
		return Unknown
	}
	d := now.Sub(from)
	if d < 0 {
		return Unknown
	}
	return Secs(d / time.Second)
}

// Get returns a copy of the timing for callID.
func (t *TimingTracker) Get(callID string) (Timing, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.calls[callID]
	if !ok {
		return Timing{}, false
	}
	return *tm, true
}

func (t *TimingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *TimingTracker) Evict(callID string) {
	t.mu.Lock()
	delete(t.calls, callID)
	t.mu.Unlock()
}

func (t *TimingTracker) Reset() {
	t.mu.Lock()
	t.calls = map[string]*Timing{}
	t.mu.Unlock()
}
