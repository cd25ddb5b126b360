package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver       string
	Path         string        // sqlite file
	DSN          string        // postgres; never log it
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default
}

// Outcome is the terminal result reported for one notification.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// Notification is one pending unit of relay work.
type Notification struct {
	ID          string
	CallID      string
	Type        string
	Destination string // chat id; empty means the default chat
	CreatedAt   time.Time

	ErrorMessage string
	RingDuration *int // seconds
	Duration     *int // seconds
	Details      map[string]any
}

// Call is a snapshot of one call record.
type Call struct {
	ID              string
	Status          string
	Duration        *int // seconds
	PhoneNumber     string
	Outcome         string
	ErrorMessage    string
	BusinessContext map[string]any
	Metadata        map[string]any
	AnsweredBy      string
	CreatedAt       time.Time
}

type CallState struct {
	Status string
	At     time.Time
}

type Transcript struct {
	Speaker string
	Text    string
	At      time.Time
}

type DTMFEntry struct {
	Digits string
	Label  string
	At     time.Time
}

type Input struct {
	Name  string
	Value string
	At    time.Time
}

// Store is the persistence API consumed by the relay.
type Store interface {
	Ready(ctx context.Context) error

	PendingNotifications(ctx context.Context, limit int) ([]Notification, error)
	Acknowledge(ctx context.Context, id string, outcome Outcome, detail string) error
	Enqueue(ctx context.Context, n Notification) (string, error)

	Call(ctx context.Context, callID string) (Call, bool, error)
	UpsertCall(ctx context.Context, c Call) error
	CallStates(ctx context.Context, callID string) ([]CallState, error)
	Transcripts(ctx context.Context, callID string) ([]Transcript, error)
	DTMFEntries(ctx context.Context, callID string) ([]DTMFEntry, error)
	Inputs(ctx context.Context, callID string) ([]Input, error)

	RecordMetric(ctx context.Context, name string, ok bool) error

	Close() error
}

// decodeMap decodes a JSON object column. Malformed or empty input yields an
// empty map.
func decodeMap(raw string) map[string]any {
	m := map[string]any{}
	if raw == "" {
		return m
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func encodeMap(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
