package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"callrelay/internal/calltrack"
	"callrelay/internal/storage"
	kit "callrelay/internal/transport"
	"callrelay/pkg/logx"
)

type sentMessage struct {
	to  kit.ChatTarget
	msg kit.OutboundMessage
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentMessage
	sentAt   []time.Time
	attempts int
	answers  []string
	failFn   func(msg kit.OutboundMessage) error
	probeErr error
}

func (f *fakeTransport) Send(ctx context.Context, to kit.ChatTarget, msg kit.OutboundMessage) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	f.sentAt = append(f.sentAt, time.Now())
	if f.failFn != nil {
		if err := f.failFn(msg); err != nil {
			return kit.MessageRef{}, err
		}
	}
	f.sent = append(f.sent, sentMessage{to: to, msg: msg})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeTransport) Probe(ctx context.Context) (kit.ProbeResult, error) {
	if f.probeErr != nil {
		return kit.ProbeResult{}, f.probeErr
	}
	return kit.ProbeResult{Username: "relay_bot", Latency: time.Millisecond}, nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, id, text string) error {
	f.mu.Lock()
	f.answers = append(f.answers, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeTransport) sendTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.sentAt...)
}

func (f *fakeTransport) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func testConfig() Config {
	return Config{
		Target:             kit.ChatTarget{ChatID: -100, ThreadID: 7},
		ItemDelay:          time.Millisecond,
		PollInterval:       time.Hour,
		SweepInterval:      time.Hour,
		TerminalEvictDelay: time.Hour,
	}
}

func newTestService(t *testing.T, cfg Config) (*Service, *storage.Memory, *fakeTransport) {
	t.Helper()
	store := storage.NewMemory()
	tr := &fakeTransport{}
	return New(cfg, store, tr, logx.Nop()), store, tr
}

func enqueue(t *testing.T, store *storage.Memory, n storage.Notification) string {
	t.Helper()
	id, err := store.Enqueue(context.Background(), n)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func ackOf(t *testing.T, store *storage.Memory, id string) storage.Ack {
	t.Helper()
	a, ok := store.Ack(id)
	if !ok {
		t.Fatalf("notification %s missing", id)
	}
	return a
}

func pending(t *testing.T, store *storage.Memory, id string) storage.Notification {
	t.Helper()
	ns, err := store.PendingNotifications(context.Background(), 0)
	if err != nil {
		t.Fatalf("PendingNotifications: %v", err)
	}
	for _, n := range ns {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("notification %s not pending", id)
	return storage.Notification{}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind          Kind
		status        calltrack.Status
		informational bool
		generic       bool
	}{
		{kind: KindQueued, status: calltrack.StatusQueued},
		{kind: KindRinging, status: calltrack.StatusRinging},
		{kind: KindInProgress, status: calltrack.StatusInProgress},
		{kind: KindNoAnswer, status: calltrack.StatusNoAnswer},
		{kind: KindCanceled, status: calltrack.StatusCanceled},
		{kind: KindDTMFCaptured, informational: true},
		{kind: KindTranscriptReady, informational: true},
		{kind: KindVerificationStep, informational: true},
		{kind: "call_voicemail", status: "voicemail", generic: true},
		{kind: "call_machine_detected", status: "machine-detected", generic: true},
		{kind: "something", status: "something", generic: true},
		{kind: "", status: "unknown", generic: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			r := Classify(tt.kind)
			if r.Status != tt.status || r.Informational != tt.informational || r.Generic != tt.generic {
				t.Fatalf("Classify(%q) = %+v", tt.kind, r)
			}
		})
	}
}

func TestRingingTwiceSuppressesSecond(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	ctx := context.Background()

	first := enqueue(t, store, storage.Notification{CallID: "c1", Type: string(KindRinging)})
	if got := s.disp.Process(ctx, pending(t, store, first)); got != storage.OutcomeSent {
		t.Fatalf("first outcome = %q", got)
	}
	msgs := tr.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].msg.Text, "🔔") {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].to != (kit.ChatTarget{ChatID: -100, ThreadID: 7}) {
		t.Fatalf("target = %+v", msgs[0].to)
	}

	second := enqueue(t, store, storage.Notification{CallID: "c1", Type: string(KindRinging)})
	if got := s.disp.Process(ctx, pending(t, store, second)); got != storage.OutcomeSent {
		t.Fatalf("second outcome = %q", got)
	}
	if n := tr.attemptCount(); n != 1 {
		t.Fatalf("transport called %d times, want 1", n)
	}
	if a := ackOf(t, store, second); a.Status != "sent" {
		t.Fatalf("second ack = %+v", a)
	}
	if c := s.disp.Counters(); c.Suppressed != 1 || c.Sent != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestStaleStatusAfterBusyIsNotSent(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	ctx := context.Background()

	var ids []string
	for _, k := range []Kind{KindBusy, KindRinging, KindQueued} {
		id := enqueue(t, store, storage.Notification{CallID: "c-busy", Type: string(k)})
		if got := s.disp.Process(ctx, pending(t, store, id)); got != storage.OutcomeSent {
			t.Fatalf("%s outcome = %q", k, got)
		}
		ids = append(ids, id)
	}
	if n := tr.attemptCount(); n != 1 {
		t.Fatalf("transport called %d times, want 1 (busy only)", n)
	}
	for _, id := range ids {
		if a := ackOf(t, store, id); a.Status != "sent" {
			t.Fatalf("ack %s = %+v", id, a)
		}
	}
	if c := s.disp.Counters(); c.Suppressed != 2 || c.Sent != 1 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestNoAnswerUsesAttachedRingDuration(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	ring := 14
	id := enqueue(t, store, storage.Notification{CallID: "c2", Type: string(KindNoAnswer), RingDuration: &ring})

	// A prior initiated stamp must not win over the attached value.
	s.timing.RecordAndGet("c2", calltrack.StatusInitiated, calltrack.Hints{}, time.Now().Add(-time.Minute))

	s.disp.Process(context.Background(), pending(t, store, id))
	msgs := tr.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages", len(msgs))
	}
	if !strings.Contains(msgs[0].msg.Text, "(rang 14s)") {
		t.Fatalf("text = %q, want (rang 14s)", msgs[0].msg.Text)
	}
	if len(msgs[0].msg.Actions) != 2 {
		t.Fatalf("terminal message actions = %+v", msgs[0].msg.Actions)
	}
}

func TestCompletedDurationFromCallRecord(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	dur := 125
	_ = store.UpsertCall(context.Background(), storage.Call{ID: "c3", Duration: &dur, Outcome: "confirmed", PhoneNumber: "+15550101234"})
	id := enqueue(t, store, storage.Notification{CallID: "c3", Type: string(KindCompleted)})

	s.disp.Process(context.Background(), pending(t, store, id))
	text := tr.messages()[0].msg.Text
	for _, want := range []string{"2m 5s", "confirmed", "1234"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text %q missing %q", text, want)
		}
	}
	if strings.Contains(text, "5550101") {
		t.Fatalf("phone number not masked: %q", text)
	}
}

func TestSendFailureAcksFailed(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	tr.failFn = func(kit.OutboundMessage) error { return errors.New("telegram: 502 bad gateway") }

	id := enqueue(t, store, storage.Notification{CallID: "c4", Type: string(KindAnswered)})
	if got := s.disp.Process(context.Background(), pending(t, store, id)); got != storage.OutcomeFailed {
		t.Fatalf("outcome = %q", got)
	}
	a := ackOf(t, store, id)
	if a.Status != "failed" || !strings.Contains(a.Detail, "502") {
		t.Fatalf("ack = %+v", a)
	}
	if n := tr.attemptCount(); n != 1 {
		t.Fatalf("attempts = %d, want 1 (no error notice for non-failure kinds)", n)
	}
	if ok, fail := store.Metric("notification_failed"); ok != 0 || fail != 1 {
		t.Fatalf("metric = %d/%d", ok, fail)
	}
}

func TestCallFailedSendsErrorNoticeAndSwallowsItsFailure(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	tr.failFn = func(kit.OutboundMessage) error { return errors.New("network down") }

	id := enqueue(t, store, storage.Notification{CallID: "c5", Type: string(KindFailed), ErrorMessage: "carrier rejected"})
	if got := s.disp.Process(context.Background(), pending(t, store, id)); got != storage.OutcomeFailed {
		t.Fatalf("outcome = %q", got)
	}
	if n := tr.attemptCount(); n != 2 {
		t.Fatalf("attempts = %d, want primary plus error notice", n)
	}
	if a := ackOf(t, store, id); a.Status != "failed" || a.Detail != "network down" {
		t.Fatalf("ack = %+v", a)
	}
}

func TestCallFailedErrorNoticeDelivered(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	tr.failFn = func(msg kit.OutboundMessage) error {
		if strings.Contains(msg.Text, "carrier rejected") {
			return errors.New("message rejected")
		}
		return nil
	}
	id := enqueue(t, store, storage.Notification{CallID: "c6", Type: string(KindFailed), ErrorMessage: "carrier rejected"})
	s.disp.Process(context.Background(), pending(t, store, id))

	msgs := tr.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].msg.Text, "An error occurred") {
		t.Fatalf("messages = %+v", msgs)
	}
	if a := ackOf(t, store, id); a.Status != "failed" {
		t.Fatalf("ack = %+v", a)
	}
}

func TestUnknownTypeTakesGenericPath(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	id := enqueue(t, store, storage.Notification{CallID: "c7", Type: "call_voicemail"})

	if got := s.disp.Process(context.Background(), pending(t, store, id)); got != storage.OutcomeSent {
		t.Fatalf("outcome = %q", got)
	}
	if text := tr.messages()[0].msg.Text; !strings.Contains(text, "voicemail") {
		t.Fatalf("text = %q", text)
	}
	if rec, ok := s.status.Get("c7"); !ok || rec.LastStatus != "voicemail" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestInformationalKindsBypassTracker(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaskDTMF = true
	s, store, tr := newTestService(t, cfg)
	store.AddDTMF("c8", storage.DTMFEntry{Digits: "123456", Label: "PIN", At: time.Now()})

	for i := 0; i < 2; i++ {
		id := enqueue(t, store, storage.Notification{CallID: "c8", Type: string(KindDTMFCaptured)})
		if got := s.disp.Process(context.Background(), pending(t, store, id)); got != storage.OutcomeSent {
			t.Fatalf("outcome = %q", got)
		}
	}
	msgs := tr.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d, want 2", len(msgs))
	}
	if !strings.Contains(msgs[0].msg.Text, "••••56") || strings.Contains(msgs[0].msg.Text, "1234") {
		t.Fatalf("dtmf not masked: %q", msgs[0].msg.Text)
	}
	if s.status.Len() != 0 {
		t.Fatal("informational kinds must not create status records")
	}
}

func TestVerificationAndTranscript(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	store.AddTranscript("c9", storage.Transcript{Speaker: "agent", Text: "Hello <there>", At: time.Now()})

	id1 := enqueue(t, store, storage.Notification{CallID: "c9", Type: string(KindVerificationStep), Details: map[string]any{"step": "dob", "result": "passed"}})
	id2 := enqueue(t, store, storage.Notification{CallID: "c9", Type: string(KindTranscriptReady)})
	s.disp.Process(context.Background(), pending(t, store, id1))
	s.disp.Process(context.Background(), pending(t, store, id2))

	msgs := tr.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d", len(msgs))
	}
	if !strings.Contains(msgs[0].msg.Text, "dob") || !strings.Contains(msgs[0].msg.Text, "passed") {
		t.Fatalf("verification text = %q", msgs[0].msg.Text)
	}
	if !strings.Contains(msgs[1].msg.Text, "Hello &lt;there&gt;") {
		t.Fatalf("transcript text not escaped: %q", msgs[1].msg.Text)
	}
}

func TestPanicInSendIsRecovered(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	tr.failFn = func(kit.OutboundMessage) error { panic("boom") }

	id := enqueue(t, store, storage.Notification{CallID: "c10", Type: string(KindRinging)})
	if got := s.disp.Process(context.Background(), pending(t, store, id)); got != storage.OutcomeFailed {
		t.Fatalf("outcome = %q", got)
	}
	if a := ackOf(t, store, id); a.Status != "failed" || !strings.Contains(a.Detail, "boom") {
		t.Fatalf("ack = %+v", a)
	}
}

func TestDestinationResolution(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Target = kit.ChatTarget{}
	s, store, tr := newTestService(t, cfg)

	noDest := enqueue(t, store, storage.Notification{CallID: "d1", Type: string(KindRinging)})
	if got := s.disp.Process(context.Background(), pending(t, store, noDest)); got != storage.OutcomeFailed {
		t.Fatalf("outcome without destination = %q", got)
	}

	bad := enqueue(t, store, storage.Notification{CallID: "d2", Type: string(KindRinging), Destination: "general"})
	if got := s.disp.Process(context.Background(), pending(t, store, bad)); got != storage.OutcomeFailed {
		t.Fatalf("outcome with bad destination = %q", got)
	}

	good := enqueue(t, store, storage.Notification{CallID: "d3", Type: string(KindRinging), Destination: "-200"})
	if got := s.disp.Process(context.Background(), pending(t, store, good)); got != storage.OutcomeSent {
		t.Fatalf("outcome with explicit destination = %q", got)
	}
	if to := tr.messages()[0].to; to.ChatID != -200 {
		t.Fatalf("target = %+v", to)
	}
}

func TestPollOnceIsolatesFailures(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	tr.failFn = func(msg kit.OutboundMessage) error {
		if strings.Contains(msg.Text, "bad-call") {
			return errors.New("rejected")
		}
		return nil
	}
	base := time.Now().Add(-time.Minute)
	ids := []string{
		enqueue(t, store, storage.Notification{CallID: "ok-1", Type: string(KindRinging), CreatedAt: base}),
		enqueue(t, store, storage.Notification{CallID: "bad-call", Type: string(KindRinging), CreatedAt: base.Add(time.Second)}),
		enqueue(t, store, storage.Notification{CallID: "ok-2", Type: string(KindRinging), CreatedAt: base.Add(2 * time.Second)}),
	}

	n, err := s.PollOnce(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("PollOnce = %d, %v", n, err)
	}
	want := []string{"sent", "failed", "sent"}
	for i, id := range ids {
		if a := ackOf(t, store, id); a.Status != want[i] {
			t.Fatalf("ack[%d] = %+v, want %s", i, a, want[i])
		}
	}

	// Sequential processing preserves queue order.
	msgs := tr.messages()
	if len(msgs) != 2 || !strings.Contains(msgs[0].msg.Text, "ok-1") || !strings.Contains(msgs[1].msg.Text, "ok-2") {
		t.Fatalf("messages out of order: %+v", msgs)
	}

	if n, _ := s.PollOnce(context.Background()); n != 0 {
		t.Fatalf("second poll processed %d, want 0", n)
	}
}

func TestPollOnceRespectsBatchSize(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.BatchSize = 2
	s, store, _ := newTestService(t, cfg)
	for i := 0; i < 5; i++ {
		enqueue(t, store, storage.Notification{CallID: "b" + string(rune('a'+i)), Type: string(KindQueued)})
	}
	if n, _ := s.PollOnce(context.Background()); n != 2 {
		t.Fatalf("processed %d, want 2", n)
	}
}

func TestPollOnceSpacesSends(t *testing.T) {
	t.Parallel()
	const delay = 50 * time.Millisecond
	cfg := testConfig()
	cfg.ItemDelay = delay
	s, store, tr := newTestService(t, cfg)
	base := time.Now().Add(-time.Minute)
	for i, id := range []string{"p1", "p2", "p3"} {
		enqueue(t, store, storage.Notification{CallID: id, Type: string(KindRinging), CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	if n, err := s.PollOnce(context.Background()); err != nil || n != 3 {
		t.Fatalf("PollOnce = %d, %v", n, err)
	}
	at := tr.sendTimes()
	if len(at) != 3 {
		t.Fatalf("sends = %d, want 3", len(at))
	}
	// timer granularity
	const slack = 5 * time.Millisecond
	for i := 1; i < len(at); i++ {
		if gap := at[i].Sub(at[i-1]); gap < delay-slack {
			t.Fatalf("gap between send %d and %d = %v, want >= %v", i-1, i, gap, delay)
		}
	}
}

func TestInertWithoutTransportOrReadyStore(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	enqueue(t, store, storage.Notification{CallID: "x", Type: string(KindRinging)})

	s := New(testConfig(), store, nil, logx.Nop())
	if n, err := s.PollOnce(context.Background()); n != 0 || err != nil {
		t.Fatalf("PollOnce without transport = %d, %v", n, err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start inert: %v", err)
	}
	if st := s.Stats(); st.Running || st.Enabled {
		t.Fatalf("stats = %+v", st)
	}
	if h := s.Health(context.Background()); h.Status != HealthDisabled {
		t.Fatalf("health = %+v", h)
	}

	tr := &fakeTransport{}
	closed := storage.NewMemory()
	_ = closed.Close()
	s2 := New(testConfig(), closed, tr, logx.Nop())
	if n, err := s2.PollOnce(context.Background()); n != 0 || err != nil {
		t.Fatalf("PollOnce with unready store = %d, %v", n, err)
	}
	if h := s2.Health(context.Background()); h.Status != HealthDegraded {
		t.Fatalf("health = %+v", h)
	}
}

func TestSweepEvictsStaleCalls(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestService(t, testConfig())
	id := enqueue(t, store, storage.Notification{CallID: "s1", Type: string(KindRinging)})
	s.disp.Process(context.Background(), pending(t, store, id))
	if s.Stats().TrackedCalls != 1 || s.Stats().TimedCalls != 1 {
		t.Fatalf("stats = %+v", s.Stats())
	}

	if n := s.Sweep(time.Now()); n != 0 {
		t.Fatalf("fresh call evicted")
	}
	if n := s.Sweep(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	st := s.Stats()
	if st.TrackedCalls != 0 || st.TimedCalls != 0 {
		t.Fatalf("stats after sweep = %+v", st)
	}
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTerminalStatusEvictsAfterDelay(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.TerminalEvictDelay = 20 * time.Millisecond
	s, store, _ := newTestService(t, cfg)

	for _, typ := range []Kind{KindRinging, KindCompleted} {
		id := enqueue(t, store, storage.Notification{CallID: "t1", Type: string(typ)})
		s.disp.Process(context.Background(), pending(t, store, id))
	}
	if s.Stats().PendingEvictions != 1 {
		t.Fatalf("stats = %+v", s.Stats())
	}
	waitFor(t, 2*time.Second, func() bool {
		st := s.Stats()
		return st.TrackedCalls == 0 && st.TimedCalls == 0 && st.PendingEvictions == 0
	})
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	s, store, tr := newTestService(t, cfg)
	enqueue(t, store, storage.Notification{CallID: "l1", Type: string(KindRinging)})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	// The immediate startup poll delivers the pending record.
	waitFor(t, 2*time.Second, func() bool { return tr.attemptCount() == 1 })
	if !s.Stats().Running {
		t.Fatal("service not running")
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(sctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(sctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	st := s.Stats()
	if st.Running || st.TrackedCalls != 0 || st.TimedCalls != 0 {
		t.Fatalf("stats after stop = %+v", st)
	}
}

func TestStopCancelsEvictionTimers(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestService(t, testConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := enqueue(t, store, storage.Notification{CallID: "e1", Type: string(KindBusy)})
	s.disp.Process(context.Background(), pending(t, store, id))
	if s.Stats().PendingEvictions != 1 {
		t.Fatalf("stats = %+v", s.Stats())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Stop(ctx)
	if s.Stats().PendingEvictions != 0 {
		t.Fatal("timers survived Stop")
	}
}

func TestApplyUpdatesConfig(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestService(t, testConfig())
	cfg := testConfig()
	cfg.BatchSize = 7
	cfg.Target = kit.ChatTarget{ChatID: -300}
	s.Apply(cfg)
	got := s.Config()
	if got.BatchSize != 7 || got.Target.ChatID != -300 || got.SendTimeout != DefaultSendTimeout {
		t.Fatalf("config = %+v", got)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s, _, tr := newTestService(t, testConfig())
	h := s.Health(context.Background())
	if h.Status != HealthHealthy || h.Bot != "relay_bot" || !h.StoreReady {
		t.Fatalf("health = %+v", h)
	}
	tr.probeErr = errors.New("unauthorized")
	if h := s.Health(context.Background()); h.Status != HealthDegraded || h.Reason != "unauthorized" {
		t.Fatalf("health = %+v", h)
	}
}

func TestHandleCallback(t *testing.T) {
	t.Parallel()
	s, store, tr := newTestService(t, testConfig())
	ctx := context.Background()
	_ = store.UpsertCall(ctx, storage.Call{ID: "cb1", Status: "completed", Outcome: "confirmed"})
	store.AddCallState("cb1", storage.CallState{Status: "ringing", At: time.Now()})
	store.AddInput("cb1", storage.Input{Name: "account", Value: "A-17", At: time.Now()})
	store.AddTranscript("cb1", storage.Transcript{Speaker: "caller", Text: "yes please", At: time.Now()})

	s.HandleCallback(ctx, kit.Callback{ID: "q1", ChatID: -100, Data: "call:details:cb1"})
	s.HandleCallback(ctx, kit.Callback{ID: "q2", ChatID: -100, Data: "call:transcript:cb1"})
	s.HandleCallback(ctx, kit.Callback{ID: "q3", ChatID: -100, Data: "call:nope:cb1"})
	s.HandleCallback(ctx, kit.Callback{ID: "q4", ChatID: -100, Data: "garbage"})
	s.HandleCallback(ctx, kit.Callback{ID: "q5", ChatID: -100, Data: "call:details:missing"})

	msgs := tr.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if !strings.Contains(msgs[0].msg.Text, "A-17") || !strings.Contains(msgs[0].msg.Text, "ringing") {
		t.Fatalf("details text = %q", msgs[0].msg.Text)
	}
	if !strings.Contains(msgs[1].msg.Text, "yes please") {
		t.Fatalf("transcript text = %q", msgs[1].msg.Text)
	}

	tr.mu.Lock()
	answers := append([]string(nil), tr.answers...)
	tr.mu.Unlock()
	want := []string{"", "", "Unknown action", "Unknown action", "Call not found"}
	if strings.Join(answers, "|") != strings.Join(want, "|") {
		t.Fatalf("answers = %q, want %q", answers, want)
	}
}

func TestRunCallbacksStopsOnClose(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestService(t, testConfig())
	in := make(chan kit.Callback, 1)
	in <- kit.Callback{ID: "x", Data: "bad"}
	close(in)
	if err := s.RunCallbacks(context.Background(), in); err != nil {
		t.Fatalf("RunCallbacks = %v", err)
	}
}
