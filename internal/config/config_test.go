package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func noEnv(string) string { return "" }

func TestDecodeJSONAndYAML(t *testing.T) {
	t.Parallel()
	jsonBody := `{
		"telegram": {"token": "t", "chat_id": "-100", "thread_id": 3},
		"relay": {"poll_interval": "2s", "batch_size": 10, "mask_dtmf": true},
		"storage": {"driver": "sqlite", "path": "./x.db"}
	}`
	yamlBody := `
telegram:
  token: t
  chat_id: "-100"
  thread_id: 3
relay:
  poll_interval: 2s
  batch_size: 10
  mask_dtmf: true
storage:
  driver: sqlite
  path: ./x.db
`
	for _, tc := range []struct {
		name, path, body string
	}{
		{"json", "c.json", jsonBody},
		{"yaml", "c.yaml", yamlBody},
		{"yml", "c.yml", yamlBody},
	} {
		cfg, err := Decode(tc.path, []byte(tc.body))
		if err != nil {
			t.Fatalf("%s: Decode: %v", tc.name, err)
		}
		if cfg.Telegram.ChatID != "-100" || cfg.Telegram.ThreadID != 3 {
			t.Fatalf("%s: telegram = %+v", tc.name, cfg.Telegram)
		}
		if cfg.Relay.PollInterval != "2s" || cfg.Relay.BatchSize != 10 || !cfg.Relay.MaskDTMF {
			t.Fatalf("%s: relay = %+v", tc.name, cfg.Relay)
		}
		if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./x.db" {
			t.Fatalf("%s: storage = %+v", tc.name, cfg.Storage)
		}
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, path, body string
	}{
		{"unknown json key", "c.json", `{"relay": {"poll_every": "1s"}}`},
		{"unknown yaml key", "c.yaml", "plugins:\n  echo: {}\n"},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "relay: [unclosed"},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvTelegramToken:  " env-token ",
		EnvTelegramChatID: "-200",
		EnvStorageDSN:     "postgres://u:p@db/relay",
	}
	cfg := &Config{Telegram: TelegramConfig{Token: "file-token", ChatID: "-100"}}
	ApplyEnv(cfg, func(k string) string { return env[k] })
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.ChatID != "-200" || cfg.Storage.DSN != "postgres://u:p@db/relay" {
		t.Fatalf("cfg = %+v", cfg)
	}

	keep := &Config{Telegram: TelegramConfig{Token: "file-token"}}
	ApplyEnv(keep, noEnv)
	if keep.Telegram.Token != "file-token" {
		t.Fatalf("empty env overwrote token: %+v", keep.Telegram)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	writeFile(t, p, EnvTelegramChatID+"=-555\n"+EnvTelegramToken+"=from-file\n")
	t.Setenv(EnvTelegramToken, "from-process")
	t.Setenv(EnvTelegramChatID, "")
	_ = os.Unsetenv(EnvTelegramChatID)

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(EnvTelegramChatID); got != "-555" {
		t.Fatalf("chat id = %q", got)
	}
	if got := os.Getenv(EnvTelegramToken); got != "from-process" {
		t.Fatalf("existing variable overwritten: %q", got)
	}
}

func TestManagerLoadAppliesEnv(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, p, `{"telegram": {"chat_id": "-1"}, "storage": {"driver": "memory"}}`)

	m := NewConfigManager(p)
	m.SetEnv(func(k string) string {
		if k == EnvTelegramToken {
			return "secret"
		}
		return ""
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "secret" || m.Get() != cfg {
		t.Fatalf("cfg = %+v", cfg.Telegram)
	}
}

func TestReloadValidatesAndPublishes(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, p, `{"relay": {"batch_size": 5}}`)
	m := NewConfigManager(p)
	m.SetEnv(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Relay.BatchSize < 0 {
			return errors.New("relay.batch_size must be >= 0")
		}
		return nil
	})
	ctx := context.Background()

	if ok, err := m.Reload(ctx); ok || err != nil {
		t.Fatalf("unchanged reload = %v, %v", ok, err)
	}

	writeFile(t, p, `{"relay": {"batch_size": -1}}`)
	if ok, err := m.Reload(ctx); ok || err == nil {
		t.Fatalf("invalid reload = %v, %v", ok, err)
	}
	if m.Get().Relay.BatchSize != 5 {
		t.Fatal("rejected config was committed")
	}

	writeFile(t, p, `{"relay": {"batch_size": 9}}`)
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("valid reload = %v, %v", ok, err)
	}
	select {
	case got := <-sub:
		if got.Relay.BatchSize != 9 {
			t.Fatalf("published = %+v", got.Relay)
		}
	default:
		t.Fatal("nothing published")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("subscription not closed")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	a := &Config{Relay: RelayConfig{BatchSize: 1}}
	b := &Config{Relay: RelayConfig{BatchSize: 2}}
	m.publish(a)
	m.publish(b)
	if got := <-sub; got != b {
		t.Fatalf("got batch %d, want newest", got.Relay.BatchSize)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, p, "relay:\n  batch_size: 1\n")
	m := NewConfigManager(p)
	m.SetEnv(noEnv)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		// rewrite until the watcher is registered and picks it up
		writeFile(t, p, "relay:\n  batch_size: 2\n")
		select {
		case got := <-sub:
			if got.Relay.BatchSize != 2 {
				t.Fatalf("published = %+v", got.Relay)
			}
			return
		case <-deadline:
			t.Fatal("watch did not publish")
		case <-tick.C:
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Telegram: TelegramConfig{Token: "old-secret"},
		Storage:  StorageConfig{Driver: "postgres", DSN: "postgres://a"},
	}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "new-secret"},
		Relay:    RelayConfig{BatchSize: 3},
		Storage:  StorageConfig{Driver: "postgres", DSN: "postgres://b"},
		Ops:      OpsConfig{Enabled: true, Token: "ops-secret"},
	}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if got := strings.Join(sections, ","); got != "ops,relay,storage,telegram" {
		t.Fatalf("sections = %q", got)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}

	if got := RestartRequired(oldCfg, newCfg); strings.Join(got, ",") != "storage,telegram.token" {
		t.Fatalf("restart required = %v", got)
	}
	if s, _ := SummarizeConfigChange(newCfg, newCfg); len(s) != 0 {
		t.Fatalf("identical configs reported %v", s)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", " 150ms "); err != nil || d != 150*time.Millisecond {
		t.Fatalf("parse = %v, %v", d, err)
	}
	if _, err := ParseDurationField("relay.poll_interval", "soon"); err == nil || !strings.Contains(err.Error(), "relay.poll_interval") {
		t.Fatalf("err = %v", err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, err := ParseDurationField("x", "30"); err != nil || d != 30*time.Second {
		t.Fatalf("bare seconds = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "0", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("zero default = %v, %v", d, err)
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte("# nothing yet\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *cfg != (Config{}) {
		t.Fatalf("cfg = %+v", cfg)
	}
}
