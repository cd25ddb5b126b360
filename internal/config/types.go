package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Relay    RelayConfig    `json:"relay"`
	Storage  StorageConfig  `json:"storage"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

// TelegramConfig configures the Bot API transport.
//
// Token and ChatID may be left empty in the file and supplied through
// CALLRELAY_TELEGRAM_TOKEN and CALLRELAY_TELEGRAM_CHAT_ID instead.
// Without a token the relay stays inert.
type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the default destination chat (e.g. "-1001234567890").
	ChatID   string `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout  string `json:"poll_timeout,omitempty"`
	ProbeTimeout string `json:"probe_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at or above MinLevel to telegram.chat_id.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RelayConfig controls polling, pacing and tracker retention.
//
// All durations are Go duration strings. Omitted or zero values use the
// relay defaults:
//   - poll_interval: "3s"
//   - sweep_interval: "30m"
//   - track_ttl: "1h"
//   - terminal_evict_delay: "5m"
//   - item_delay: "150ms"
//   - batch_size: 50
//   - send_timeout: "15s"
type RelayConfig struct {
	PollInterval       string `json:"poll_interval,omitempty"`
	SweepInterval      string `json:"sweep_interval,omitempty"`
	TrackTTL           string `json:"track_ttl,omitempty"`
	TerminalEvictDelay string `json:"terminal_evict_delay,omitempty"`
	ItemDelay          string `json:"item_delay,omitempty"`
	BatchSize          int    `json:"batch_size,omitempty"`
	SendTimeout        string `json:"send_timeout,omitempty"`
	MaskDTMF           bool   `json:"mask_dtmf,omitempty"`
	Timezone           string `json:"timezone,omitempty"` // IANA name; empty means host local time
}

// StorageConfig selects the notification store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./callrelay.db" }
//	"storage": { "driver": "postgres" }  // DSN from CALLRELAY_STORAGE_DSN
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`          // never logged
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// OpsConfig controls the optional operations HTTP server
// (/healthz, /stats, /metrics, /debug/pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
