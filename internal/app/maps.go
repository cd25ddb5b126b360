package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"callrelay/internal/config"
	"callrelay/internal/ops"
	"callrelay/internal/relay"
	"callrelay/internal/storage"
	kit "callrelay/internal/transport"
	telegram "callrelay/internal/transport/telegram/adapter"
	"callrelay/pkg/logx"
)

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

// parseChatTarget reads telegram.chat_id. An empty value yields a zero target.
func parseChatTarget(cfg *config.Config) (kit.ChatTarget, error) {
	raw := strings.TrimSpace(cfg.Telegram.ChatID)
	if raw == "" {
		return kit.ChatTarget{}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return kit.ChatTarget{}, fmt.Errorf("telegram.chat_id: invalid %q", raw)
	}
	if cfg.Telegram.ThreadID < 0 {
		return kit.ChatTarget{}, fmt.Errorf("telegram.thread_id must be >= 0")
	}
	return kit.ChatTarget{ChatID: id, ThreadID: cfg.Telegram.ThreadID}, nil
}

// mapTelegramConfig returns enabled=false when no token is configured.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	probeTimeout, err := parseDurationOrDefault("telegram.probe_timeout", cfg.Telegram.ProbeTimeout, relay.DefaultProbeTimeout)
	if err != nil {
		return telegram.Config{}, false, err
	}
	sendTimeout, err := parseDurationOrDefault("relay.send_timeout", cfg.Relay.SendTimeout, relay.DefaultSendTimeout)
	if err != nil {
		return telegram.Config{}, false, err
	}
	tc := telegram.Config{
		Token:        strings.TrimSpace(cfg.Telegram.Token),
		APIURL:       strings.TrimSpace(cfg.Telegram.APIURL),
		PollTimeout:  pollTimeout,
		ProbeTimeout: probeTimeout,
		SendTimeout:  sendTimeout,
	}
	return tc, tc.Token != "", nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// logTarget is the chat receiving forwarded log lines: the default chat in
// the logging thread.
func logTarget(cfg *config.Config) kit.ChatTarget {
	to, err := parseChatTarget(cfg)
	if err != nil || to.IsZero() {
		return kit.ChatTarget{}
	}
	to.ThreadID = cfg.Logging.Telegram.ThreadID
	return to
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	rc := cfg.Relay
	var out relay.Config
	target, err := parseChatTarget(cfg)
	if err != nil {
		return out, err
	}
	out.Target = target

	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"relay.poll_interval", rc.PollInterval, &out.PollInterval},
		{"relay.sweep_interval", rc.SweepInterval, &out.SweepInterval},
		{"relay.track_ttl", rc.TrackTTL, &out.TrackTTL},
		{"relay.terminal_evict_delay", rc.TerminalEvictDelay, &out.TerminalEvictDelay},
		{"relay.item_delay", rc.ItemDelay, &out.ItemDelay},
		{"relay.send_timeout", rc.SendTimeout, &out.SendTimeout},
		{"telegram.probe_timeout", cfg.Telegram.ProbeTimeout, &out.ProbeTimeout},
	}
	for _, f := range fields {
		d, err := parseDurationField(f.path, f.raw)
		if err != nil {
			return out, err
		}
		*f.dst = d
	}
	if out.PollInterval > 0 && out.PollInterval < 100*time.Millisecond {
		return out, fmt.Errorf("relay.poll_interval must be >= 100ms")
	}
	if rc.BatchSize < 0 {
		return out, fmt.Errorf("relay.batch_size must be >= 0")
	}
	out.BatchSize = rc.BatchSize
	out.MaskDTMF = rc.MaskDTMF
	if tz := strings.TrimSpace(rc.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return out, fmt.Errorf("relay.timezone: %w", err)
		}
		out.Location = loc
	}
	return out, nil
}

// mapStorageConfig returns enabled=false for an omitted or "none" driver.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	if sc.MaxOpenConns < 0 {
		return storage.Config{}, false, fmt.Errorf("storage.max_open_conns must be >= 0")
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "memory":
		return storage.Config{Driver: driver}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql", "pgx":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn (or %s) is required when storage.driver=%s", config.EnvStorageDSN, driver)
		}
		return storage.Config{Driver: driver, DSN: dsn, MaxOpenConns: sc.MaxOpenConns}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
	if out.Addr == "" {
		out.Addr = ops.DefaultAddr
	}

	var err error
	if out.ReadTimeout, err = parseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	// default 0 (disabled) so long profiles complete
	if out.WriteTimeout, err = parseDurationField("ops.write_timeout", oc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = parseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}

	if oc.MutexProfileFraction < 0 {
		return out, fmt.Errorf("ops.mutex_profile_fraction must be >= 0")
	}
	if oc.BlockProfileRate < 0 {
		return out, fmt.Errorf("ops.block_profile_rate must be >= 0")
	}
	out.MutexProfileFraction = oc.MutexProfileFraction
	out.BlockProfileRate = oc.BlockProfileRate

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("ops.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if !out.AllowInsecure && out.Token == "" && !ops.IsLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("ops: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}
	return out, nil
}

// Validate checks every section the way startup and hot reload consume it.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapRelayConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		return fmt.Errorf("logging.telegram.rate_per_sec must be >= 0")
	}
	if cfg.Logging.Telegram.ThreadID < 0 {
		return fmt.Errorf("logging.telegram.thread_id must be >= 0")
	}
	return nil
}
