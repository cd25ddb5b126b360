package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"callrelay/internal/calltrack"
	rtsup "callrelay/internal/runtime/supervisor"
	"callrelay/internal/storage"
	kit "callrelay/internal/transport"
	"callrelay/pkg/logx"
)

// ErrDisabled is returned by operations that need a transport when none is
// configured.
var ErrDisabled = errors.New("relay disabled: no transport credential")

// Transport is what the relay needs from the messaging channel.
type Transport interface {
	kit.Sender
	kit.Prober
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// Service polls the notification queue and relays each record. Without a
// transport it is permanently inert.
type Service struct {
	log       logx.Logger
	store     storage.Store
	transport Transport

	cfgMu sync.RWMutex
	cfg   Config

	status *calltrack.Tracker
	timing *calltrack.TimingTracker
	disp   *Dispatcher

	mu      sync.Mutex
	running bool
	c       *cron.Cron
	pollID  cron.EntryID
	sweepID cron.EntryID
	sup     *rtsup.Supervisor

	stopping atomic.Bool
	pollMu   sync.Mutex
	limiter  *rate.Limiter

	tmu    sync.Mutex
	timers map[string]*time.Timer

	lastPollAt   atomic.Int64 // unix milli
	lastBatch    atomic.Int64
	lastPollErr  atomic.Value // stores string
	lastSweepAt  atomic.Int64
	sweepEvicted atomic.Uint64
}

// New builds the service. store or transport may be nil; the service is then
// inert and reports itself as disabled.
func New(cfg Config, store storage.Store, transport Transport, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:       log,
		store:     store,
		transport: transport,
		cfg:       cfg,
		status:    calltrack.NewTracker(),
		timing:    calltrack.NewTimingTracker(),
		limiter:   rate.NewLimiter(rate.Every(cfg.ItemDelay), 1),
		timers:    map[string]*time.Timer{},
	}
	s.lastPollErr.Store("")
	s.disp = &Dispatcher{
		log:        log,
		store:      store,
		sender:     transport,
		status:     s.status,
		timing:     s.timing,
		cfg:        s.Config,
		now:        time.Now,
		onTerminal: s.scheduleEviction,
	}
	return s
}

func (s *Service) Config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Enabled reports whether a transport credential is configured.
func (s *Service) Enabled() bool { return s.transport != nil && s.store != nil }

// Start schedules polling and sweeping and runs one immediate poll.
// Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if !s.Enabled() {
		s.log.Info("relay inert", logx.Bool("transport", s.transport != nil), logx.Bool("store", s.store != nil))
		return nil
	}
	cfg := s.Config()

	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.pollID = s.c.Schedule(cron.Every(cfg.PollInterval), cron.FuncJob(s.pollJob))
	s.sweepID = s.c.Schedule(cron.Every(cfg.SweepInterval), cron.FuncJob(s.sweepJob))
	s.stopping.Store(false)
	s.running = true
	s.c.Start()

	s.sup.Go0("relay.poll.initial", func(ctx context.Context) {
		if _, err := s.PollOnce(ctx); err != nil {
			s.log.Warn("initial poll failed", logx.Err(err))
		}
	})
	s.log.Info("relay started",
		logx.Duration("poll_interval", cfg.PollInterval),
		logx.Duration("sweep_interval", cfg.SweepInterval),
		logx.Int("batch_size", cfg.BatchSize),
	)
	return nil
}

// Stop disables further scheduling, cancels pending evictions and clears the
// trackers. An in-flight send is allowed to finish within its own timeout.
// Calling Stop more than once is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopping.Store(true)
	c, sup := s.c, s.sup
	s.c, s.sup = nil, nil
	s.mu.Unlock()

	var err error
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.tmu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.tmu.Unlock()

	sup.Cancel()
	if werr := sup.Wait(ctx); werr != nil && err == nil && !errors.Is(werr, context.Canceled) {
		err = werr
	}

	s.status.Reset()
	s.timing.Reset()
	s.log.Info("relay stopped")
	return err
}

func (s *Service) supCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return nil
	}
	return s.sup.Context()
}

func (s *Service) pollJob() {
	ctx := s.supCtx()
	if ctx == nil {
		return
	}
	if _, err := s.PollOnce(ctx); err != nil {
		s.log.Warn("poll failed", logx.Err(err))
	}
}

func (s *Service) sweepJob() {
	if n := s.Sweep(time.Now()); n > 0 {
		s.log.Info("tracker sweep", logx.Int("evicted", n), logx.Int("tracked", s.status.Len()))
	}
}

// PollOnce fetches one batch and dispatches it sequentially. It returns the
// number of records processed. Overlapping calls return immediately.
func (s *Service) PollOnce(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	if !s.pollMu.TryLock() {
		return 0, nil
	}
	defer s.pollMu.Unlock()
	cfg := s.Config()

	rctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	err := s.store.Ready(rctx)
	cancel()
	if err != nil {
		s.log.Debug("store not ready, skipping poll", logx.Err(err))
		return 0, nil
	}

	s.lastPollAt.Store(time.Now().UnixMilli())
	batch, err := s.store.PendingNotifications(ctx, cfg.BatchSize)
	if err != nil {
		s.lastPollErr.Store(err.Error())
		return 0, fmt.Errorf("fetch pending notifications: %w", err)
	}
	s.lastPollErr.Store("")
	s.lastBatch.Store(int64(len(batch)))
	if len(batch) == 0 {
		return 0, nil
	}

	processed := 0
	for _, n := range batch {
		if s.stopping.Load() {
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		s.disp.Process(ctx, n)
		processed++
	}
	s.log.Debug("poll processed", logx.Int("batch", len(batch)), logx.Int("processed", processed))
	return processed, nil
}

// Sweep evicts calls not updated within the TTL. It returns how many were evicted.
func (s *Service) Sweep(now time.Time) int {
	ids := s.status.EvictOlderThan(now.Add(-s.Config().TrackTTL))
	for _, id := range ids {
		s.timing.Evict(id)
		s.cancelEviction(id)
	}
	s.lastSweepAt.Store(now.UnixMilli())
	s.sweepEvicted.Add(uint64(len(ids)))
	if len(ids) > 0 {
		evictionsTotal.WithLabelValues("ttl").Add(float64(len(ids)))
	}
	return len(ids)
}

// scheduleEviction forgets callID after the terminal eviction delay. A newer
// terminal status for the same call replaces the pending timer.
func (s *Service) scheduleEviction(callID string) {
	delay := s.Config().TerminalEvictDelay
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if s.stopping.Load() {
		return
	}
	if old := s.timers[callID]; old != nil {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		if s.timers[callID] != t {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, callID)
		s.tmu.Unlock()
		s.evict(callID)
		evictionsTotal.WithLabelValues("terminal").Inc()
	})
	s.timers[callID] = t
}

func (s *Service) cancelEviction(callID string) {
	s.tmu.Lock()
	if t := s.timers[callID]; t != nil {
		t.Stop()
		delete(s.timers, callID)
	}
	s.tmu.Unlock()
}

func (s *Service) evict(callID string) {
	s.status.Evict(callID)
	s.timing.Evict(callID)
}

// Apply swaps the runtime config. Changed poll or sweep intervals are
// rescheduled on a running service.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfgMu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.cfgMu.Unlock()

	if cfg.ItemDelay != old.ItemDelay {
		s.limiter.SetLimit(rate.Every(cfg.ItemDelay))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	if cfg.PollInterval != old.PollInterval {
		s.c.Remove(s.pollID)
		s.pollID = s.c.Schedule(cron.Every(cfg.PollInterval), cron.FuncJob(s.pollJob))
		s.log.Info("poll rescheduled", logx.Duration("interval", cfg.PollInterval))
	}
	if cfg.SweepInterval != old.SweepInterval {
		s.c.Remove(s.sweepID)
		s.sweepID = s.c.Schedule(cron.Every(cfg.SweepInterval), cron.FuncJob(s.sweepJob))
		s.log.Info("sweep rescheduled", logx.Duration("interval", cfg.SweepInterval))
	}
}

// Stats is a read-only, non-authoritative view for observability.
type Stats struct {
	Enabled          bool             `json:"enabled"`
	Running          bool             `json:"running"`
	TrackedCalls     int              `json:"tracked_calls"`
	TimedCalls       int              `json:"timed_calls"`
	PendingEvictions int              `json:"pending_evictions"`
	StatusBreakdown  map[string]int   `json:"status_breakdown"`
	Dispatch         DispatchCounters `json:"dispatch"`
	LastPollAt       time.Time        `json:"last_poll_at"`
	LastBatch        int              `json:"last_batch"`
	LastPollError    string           `json:"last_poll_error,omitempty"`
	LastSweepAt      time.Time        `json:"last_sweep_at"`
	SweepEvicted     uint64           `json:"sweep_evicted"`
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	s.tmu.Lock()
	pending := len(s.timers)
	s.tmu.Unlock()

	bd := map[string]int{}
	for st, n := range s.status.Breakdown() {
		bd[string(st)] = n
	}
	lastErr, _ := s.lastPollErr.Load().(string)
	return Stats{
		Enabled:          s.Enabled(),
		Running:          running,
		TrackedCalls:     s.status.Len(),
		TimedCalls:       s.timing.Len(),
		PendingEvictions: pending,
		StatusBreakdown:  bd,
		Dispatch:         s.disp.Counters(),
		LastPollAt:       unixMilli(s.lastPollAt.Load()),
		LastBatch:        int(s.lastBatch.Load()),
		LastPollError:    lastErr,
		LastSweepAt:      unixMilli(s.lastSweepAt.Load()),
		SweepEvicted:     s.sweepEvicted.Load(),
	}
}

func unixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthDisabled = "disabled"
)

type Health struct {
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	Bot          string `json:"bot,omitempty"`
	LatencyMS    int64  `json:"latency_ms,omitempty"`
	StoreReady   bool   `json:"store_ready"`
	Running      bool   `json:"running"`
	TrackedCalls int    `json:"tracked_calls"`
}

// Health performs a transport round-trip and a store readiness check.
func (s *Service) Health(ctx context.Context) Health {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	h := Health{Running: running, TrackedCalls: s.status.Len()}

	if s.transport == nil {
		h.Status = HealthDisabled
		h.Reason = ErrDisabled.Error()
		return h
	}
	cfg := s.Config()

	if s.store != nil {
		sctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		h.StoreReady = s.store.Ready(sctx) == nil
		cancel()
	}

	pctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()
	res, err := s.transport.Probe(pctx)
	switch {
	case err != nil:
		h.Status = HealthDegraded
		h.Reason = err.Error()
	case !h.StoreReady:
		h.Status = HealthDegraded
		h.Reason = "store not ready"
	default:
		h.Status = HealthHealthy
	}
	if err == nil {
		h.Bot = res.Username
		h.LatencyMS = res.Latency.Milliseconds()
	}
	return h
}
