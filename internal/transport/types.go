package transport

import (
	"context"
	"time"
)

// ParseModeHTML is the only parse mode the relay renders.
const ParseModeHTML = "HTML"

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Action is a follow-up control rendered under a message (Telegram: inline button).
type Action struct {
	Label  string
	Action string
	CallID string
}

// OutboundMessage is one logical text body. Adapters split it into
// transport-sized chunks; Actions are attached to the first chunk only.
type OutboundMessage struct {
	Text           string
	ParseMode      string
	DisablePreview bool
	Actions        []Action
}

// Callback is a button press on a previously sent message.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// ProbeResult describes a successful lightweight round-trip to the transport.
type ProbeResult struct {
	Username string
	Latency  time.Duration
}

// Sender delivers messages. Implementations must return an error for any
// non-success response so callers can mark the record failed.
type Sender interface {
	Send(ctx context.Context, to ChatTarget, msg OutboundMessage) (MessageRef, error)
}

type Prober interface {
	Probe(ctx context.Context) (ProbeResult, error)
}

type Adapter interface {
	Sender
	Prober

	Start(ctx context.Context, out chan<- Callback) error
	Stop(ctx context.Context) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
