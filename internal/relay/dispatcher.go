package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"callrelay/internal/calltrack"
	"callrelay/internal/storage"
	kit "callrelay/internal/transport"
	"callrelay/pkg/logx"
)

const (
	ackTimeout    = 5 * time.Second
	lookupTimeout = 5 * time.Second
)

var errNoDestination = errors.New("no destination chat configured")

// Dispatcher turns one notification record into at most one outbound message
// and exactly one queue acknowledgement.
type Dispatcher struct {
	log    logx.Logger
	store  storage.Store
	sender kit.Sender
	status *calltrack.Tracker
	timing *calltrack.TimingTracker

	cfg        func() Config
	now        func() time.Time
	onTerminal func(callID string)

	processed  atomic.Uint64
	sent       atomic.Uint64
	failed     atomic.Uint64
	suppressed atomic.Uint64
}

// DispatchCounters are cumulative per-process counts.
type DispatchCounters struct {
	Processed  uint64 `json:"processed"`
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
	Suppressed uint64 `json:"suppressed"`
}

func (d *Dispatcher) Counters() DispatchCounters {
	return DispatchCounters{
		Processed:  d.processed.Load(),
		Sent:       d.sent.Load(),
		Failed:     d.failed.Load(),
		Suppressed: d.suppressed.Load(),
	}
}

// Process relays n and acknowledges it as sent or failed. It never panics
// and never returns without acknowledging.
func (d *Dispatcher) Process(ctx context.Context, n storage.Notification) (outcome storage.Outcome) {
	log := d.log.With(logx.String("notification", n.ID), logx.String("call", n.CallID), logx.String("type", n.Type))
	acked := false
	ack := func(o storage.Outcome, detail string, label string) {
		if acked {
			return
		}
		acked = true
		outcome = o
		d.acknowledge(ctx, log, n, o, detail, label)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("notification processing panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			ack(storage.OutcomeFailed, fmt.Sprintf("panic: %v", r), "failed")
		}
	}()
	d.processed.Add(1)

	cfg := d.cfg()
	route := Classify(Kind(n.Type))
	now := d.now()

	if !route.Informational {
		if !d.status.Decide(n.CallID, route.Status, now) {
			log.Debug("status suppressed", logx.String("status", string(route.Status)))
			ack(storage.OutcomeSent, "", "suppressed")
			return
		}
		if route.Status.IsTerminal() && d.onTerminal != nil {
			d.onTerminal(n.CallID)
		}
	}

	to, err := d.destination(n, cfg)
	if err != nil {
		log.Warn("notification has no usable destination", logx.Err(err))
		ack(storage.OutcomeFailed, err.Error(), "failed")
		return
	}

	msg := d.render(ctx, log, n, route, now, cfg)
	if err := d.send(ctx, to, msg, cfg); err != nil {
		log.Warn("notification send failed", logx.Err(err))
		ack(storage.OutcomeFailed, err.Error(), "failed")
		if route.Kind == KindFailed {
			d.sendErrorNotice(ctx, log, to, n.CallID, cfg)
		}
		return
	}
	ack(storage.OutcomeSent, "", "sent")
	return
}

func (d *Dispatcher) acknowledge(ctx context.Context, log logx.Logger, n storage.Notification, o storage.Outcome, detail, label string) {
	switch label {
	case "sent":
		d.sent.Add(1)
	case "suppressed":
		d.suppressed.Add(1)
	default:
		d.failed.Add(1)
	}
	notificationsTotal.WithLabelValues(label).Inc()

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := d.store.Acknowledge(actx, n.ID, o, detail); err != nil {
		log.Error("acknowledge failed", logx.String("outcome", string(o)), logx.Err(err))
	}
	if label != "suppressed" {
		if err := d.store.RecordMetric(actx, "notification_"+string(o), o == storage.OutcomeSent); err != nil {
			log.Debug("record metric failed", logx.Err(err))
		}
	}
}

func (d *Dispatcher) destination(n storage.Notification, cfg Config) (kit.ChatTarget, error) {
	dest := strings.TrimSpace(n.Destination)
	if dest == "" {
		if cfg.Target.IsZero() {
			return kit.ChatTarget{}, errNoDestination
		}
		return cfg.Target, nil
	}
	id, err := strconv.ParseInt(dest, 10, 64)
	if err != nil || id == 0 {
		return kit.ChatTarget{}, fmt.Errorf("invalid destination %q", dest)
	}
	to := kit.ChatTarget{ChatID: id}
	if id == cfg.Target.ChatID {
		to.ThreadID = cfg.Target.ThreadID
	}
	return to, nil
}

// send runs one bounded send. In-flight sends outlive cancellation of ctx so
// a stop never cuts a message in half.
func (d *Dispatcher) send(ctx context.Context, to kit.ChatTarget, msg kit.OutboundMessage, cfg Config) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SendTimeout)
	defer cancel()
	start := time.Now()
	_, err := d.sender.Send(sctx, to, msg)
	status := "ok"
	if err != nil {
		status = "error"
	}
	sendDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return err
}

// sendErrorNotice is best-effort: its failure is logged and discarded so the
// primary outcome stands.
func (d *Dispatcher) sendErrorNotice(ctx context.Context, log logx.Logger, to kit.ChatTarget, callID string, cfg Config) {
	f := cfg.formatter()
	msg := kit.OutboundMessage{Text: f.ErrorNotice(callID), ParseMode: kit.ParseModeHTML, DisablePreview: true}
	if err := d.send(ctx, to, msg, cfg); err != nil {
		log.Warn("error notice send failed", logx.Err(err))
	}
}

// render builds the message body. Any failure degrades to the fallback line.
func (d *Dispatcher) render(ctx context.Context, log logx.Logger, n storage.Notification, route Route, now time.Time, cfg Config) (msg kit.OutboundMessage) {
	label := string(route.Status)
	if route.Informational {
		label = string(route.Kind)
	}
	msg = kit.OutboundMessage{ParseMode: kit.ParseModeHTML, DisablePreview: true}
	defer func() {
		if r := recover(); r != nil {
			log.Error("render panicked, using fallback", logx.Any("panic", r))
			msg.Text = Fallback(n.CallID, label)
			msg.Actions = nil
		}
		if strings.TrimSpace(msg.Text) == "" {
			msg.Text = Fallback(n.CallID, label)
		}
	}()

	f := cfg.formatter()
	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	switch route.Kind {
	case KindDTMFCaptured:
		entries, err := d.store.DTMFEntries(lctx, n.CallID)
		if err != nil {
			log.Warn("dtmf lookup failed", logx.Err(err))
		}
		msg.Text = f.DTMF(n.CallID, entries)
		return msg
	case KindTranscriptReady:
		entries, err := d.store.Transcripts(lctx, n.CallID)
		if err != nil {
			log.Warn("transcript lookup failed", logx.Err(err))
		}
		msg.Text = f.Transcript(n.CallID, entries)
		return msg
	case KindVerificationStep:
		msg.Text = f.Verification(n.CallID, n.Details)
		return msg
	}

	var call *storage.Call
	if c, ok, err := d.store.Call(lctx, n.CallID); err != nil {
		log.Warn("call lookup failed", logx.Err(err))
	} else if ok {
		call = &c
	}

	hints, errMsg := resolveAnnotations(n, call)
	elapsed := d.timing.RecordAndGet(n.CallID, route.Status, hints, now)

	msg.Text = f.Status(StatusView{
		CallID:       n.CallID,
		Status:       route.Status,
		Call:         call,
		Elapsed:      elapsed,
		ErrorMessage: errMsg,
	})
	if route.Status.IsTerminal() {
		msg.Actions = []kit.Action{
			{Label: "📋 Details", Action: ActionDetails, CallID: n.CallID},
			{Label: "📝 Transcript", Action: ActionTranscript, CallID: n.CallID},
		}
	}
	return msg
}

// resolveAnnotations prefers values attached to the record and falls back to
// the call snapshot.
func resolveAnnotations(n storage.Notification, call *storage.Call) (calltrack.Hints, string) {
	h := calltrack.Hints{Duration: n.Duration, RingDuration: n.RingDuration}
	errMsg := strings.TrimSpace(n.ErrorMessage)
	if call == nil {
		return h, errMsg
	}
	if h.Duration == nil {
		h.Duration = call.Duration
	}
	if h.RingDuration == nil {
		if v, ok := intFromAny(call.Metadata["ring_duration"]); ok {
			h.RingDuration = &v
		}
	}
	if errMsg == "" {
		errMsg = strings.TrimSpace(call.ErrorMessage)
	}
	return h, errMsg
}

func intFromAny(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case int:
		return x, true
	case int64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	}
	return 0, false
}
