package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local Store. It backs tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	closed bool

	notifications map[string]*memNotification
	calls         map[string]Call
	states        map[string][]CallState
	transcripts   map[string][]Transcript
	dtmf          map[string][]DTMFEntry
	inputs        map[string][]Input
	metrics       map[string][2]int // name -> [ok, fail]
}

type memNotification struct {
	n       Notification
	status  string
	ackErr  string
	ackedAt time.Time
}

// Ack is the acknowledgement state of one notification.
type Ack struct {
	Status string // pending, sent or failed
	Detail string
	At     time.Time
}

func NewMemory() *Memory {
	return &Memory{
		notifications: map[string]*memNotification{},
		calls:         map[string]Call{},
		states:        map[string][]CallState{},
		transcripts:   map[string][]Transcript{},
		dtmf:          map[string][]DTMFEntry{},
		inputs:        map[string][]Input{},
		metrics:       map[string][2]int{},
	}
}

func (m *Memory) Ready(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) PendingNotifications(ctx context.Context, limit int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Notification, 0, len(m.notifications))
	for _, mn := range m.notifications {
		if mn.status == "pending" {
			out = append(out, mn.n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Acknowledge(ctx context.Context, id string, outcome Outcome, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mn, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	mn.status = string(outcome)
	mn.ackErr = detail
	mn.ackedAt = time.Now()
	return nil
}

func (m *Memory) Enqueue(ctx context.Context, n Notification) (string, error) {
	if strings.TrimSpace(n.CallID) == "" || strings.TrimSpace(n.Type) == "" {
		return "", errors.New("enqueue: call id and type are required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Details == nil {
		n.Details = map[string]any{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.notifications[n.ID] = &memNotification{n: n, status: "pending"}
	return n.ID, nil
}

// Ack reports the acknowledgement state of a notification.
func (m *Memory) Ack(id string) (Ack, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mn, ok := m.notifications[id]
	if !ok {
		return Ack{}, false
	}
	return Ack{Status: mn.status, Detail: mn.ackErr, At: mn.ackedAt}, true
}

func (m *Memory) Call(ctx context.Context, callID string) (Call, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	return c, ok, nil
}

func (m *Memory) UpsertCall(ctx context.Context, c Call) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("upsert call: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.calls[c.ID]; ok && c.CreatedAt.IsZero() {
		c.CreatedAt = prev.CreatedAt
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.BusinessContext == nil {
		c.BusinessContext = map[string]any{}
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	m.calls[c.ID] = c
	return nil
}

func (m *Memory) CallStates(ctx context.Context, callID string) ([]CallState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallState(nil), m.states[callID]...), nil
}

func (m *Memory) Transcripts(ctx context.Context, callID string) ([]Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transcript(nil), m.transcripts[callID]...), nil
}

func (m *Memory) DTMFEntries(ctx context.Context, callID string) ([]DTMFEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DTMFEntry(nil), m.dtmf[callID]...), nil
}

func (m *Memory) Inputs(ctx context.Context, callID string) ([]Input, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Input(nil), m.inputs[callID]...), nil
}

func (m *Memory) AddCallState(callID string, st CallState) {
	m.mu.Lock()
	m.states[callID] = append(m.states[callID], st)
	m.mu.Unlock()
}

func (m *Memory) AddTranscript(callID string, t Transcript) {
	m.mu.Lock()
	m.transcripts[callID] = append(m.transcripts[callID], t)
	m.mu.Unlock()
}

func (m *Memory) AddDTMF(callID string, d DTMFEntry) {
	m.mu.Lock()
	m.dtmf[callID] = append(m.dtmf[callID], d)
	m.mu.Unlock()
}

func (m *Memory) AddInput(callID string, in Input) {
	m.mu.Lock()
	m.inputs[callID] = append(m.inputs[callID], in)
	m.mu.Unlock()
}

func (m *Memory) RecordMetric(ctx context.Context, name string, ok bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.metrics[name]
	if ok {
		c[0]++
	} else {
		c[1]++
	}
	m.metrics[name] = c
	return nil
}

// Metric returns the recorded success and failure counts for name.
func (m *Memory) Metric(name string) (ok, fail int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.metrics[name]
	return c[0], c[1]
}
