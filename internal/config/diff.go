package config

import (
	"sort"
	"strings"

	"callrelay/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets (bot token, DSN, ops token) only ever appear as
// "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 20)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		trim(ot.ChatID) != trim(nt.ChatID) ||
		ot.ThreadID != nt.ThreadID ||
		trim(ot.APIURL) != trim(nt.APIURL) ||
		trim(ot.PollTimeout) != trim(nt.PollTimeout) ||
		trim(ot.ProbeTimeout) != trim(nt.ProbeTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", isSet(nt.Token)),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.chat_id", trim(nt.ChatID)),
			logx.Int("telegram.thread_id", nt.ThreadID),
			logx.String("telegram.poll_timeout", trim(nt.PollTimeout)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		r := newCfg.Relay
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.poll_interval", trim(r.PollInterval)),
			logx.String("relay.sweep_interval", trim(r.SweepInterval)),
			logx.String("relay.track_ttl", trim(r.TrackTTL)),
			logx.String("relay.item_delay", trim(r.ItemDelay)),
			logx.Int("relay.batch_size", r.BatchSize),
			logx.Bool("relay.mask_dtmf", r.MaskDTMF),
			logx.String("relay.timezone", trim(r.Timezone)),
		)
	}

	oldS, ns := oldCfg.Storage, newCfg.Storage
	if !strings.EqualFold(trim(oldS.Driver), trim(ns.Driver)) ||
		trim(oldS.Path) != trim(ns.Path) ||
		oldS.DSN != ns.DSN ||
		trim(oldS.BusyTimeout) != trim(ns.BusyTimeout) ||
		oldS.MaxOpenConns != ns.MaxOpenConns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(ns.Driver)),
			logx.Bool("storage.path_set", isSet(ns.Path)),
			logx.Bool("storage.dsn_set", isSet(ns.DSN)),
			logx.String("storage.busy_timeout", trim(ns.BusyTimeout)),
		)
	}

	if oldCfg.Ops != newCfg.Ops {
		o := newCfg.Ops
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", o.Enabled),
			logx.String("ops.addr", trim(o.Addr)),
			logx.Bool("ops.token_set", isSet(o.Token)),
			logx.Bool("ops.allow_insecure", o.AllowInsecure),
			logx.Bool("ops.pprof", o.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed keys that only take effect after a restart:
// the store and the transport are built once at startup.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		out = append(out, "telegram.token")
	}
	if trim(oldCfg.Telegram.APIURL) != trim(newCfg.Telegram.APIURL) {
		out = append(out, "telegram.api_url")
	}
	if trim(oldCfg.Telegram.PollTimeout) != trim(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.poll_timeout")
	}
	return out
}

func trim(s string) string { return strings.TrimSpace(s) }

func isSet(s string) bool { return strings.TrimSpace(s) != "" }
