package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "callrelay/internal/transport"
	"callrelay/pkg/tgui"
)

const (
	tgQueueSize   = 256
	tgSendTimeout = 10 * time.Second
	tgValueRunes  = 300
)

var levelBadges = map[string]string{
	"debug": "🐞",
	"info":  "ℹ️",
	"warn":  "⚠️",
	"error": "🛑",
}

type tgLine struct {
	to   kit.ChatTarget
	text string
}

// telegramSink is a zerolog.LevelWriter that queues rendered lines for a
// single worker goroutine. Writes never block; excess lines are dropped.
type telegramSink struct {
	sender kit.Sender

	mu       sync.Mutex
	target   kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue   chan tgLine
	dropped atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newTelegramSink(sender kit.Sender) *telegramSink {
	return &telegramSink{
		sender:   sender,
		minLevel: zerolog.WarnLevel,
		queue:    make(chan tgLine, tgQueueSize),
		done:     make(chan struct{}),
	}
}

func (t *telegramSink) setTarget(to kit.ChatTarget) {
	t.mu.Lock()
	t.target = to
	t.mu.Unlock()
}

func (t *telegramSink) targetZero() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target.IsZero()
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()

	t.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		go t.run(ctx)
	})
}

func (t *telegramSink) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-t.queue:
			sctx, cancel := context.WithTimeout(ctx, tgSendTimeout)
			_, _ = t.sender.Send(sctx, line.to, kit.OutboundMessage{
				Text:           line.text,
				ParseMode:      kit.ParseModeHTML,
				DisablePreview: true,
			})
			cancel()
		}
	}
}

func (t *telegramSink) close() {
	t.stopOnce.Do(func() {
		if t.cancel == nil {
			return
		}
		t.cancel()
		<-t.done
	})
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	to, lim, minLevel := t.target, t.limiter, t.minLevel
	t.mu.Unlock()

	if to.IsZero() || lim == nil || level < minLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		t.dropped.Add(1)
		return len(p), nil
	}
	select {
	case t.queue <- tgLine{to: to, text: renderLogLine(p)}:
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

// renderLogLine turns one zerolog JSON line into a Telegram HTML card: the
// level and message as the title, then the remaining keys in sorted order.
func renderLogLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return tgui.Esc(tgui.TruncRunes(strings.TrimSpace(string(p)), tgui.TextLimit)).String()
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	delete(m, "level")
	delete(m, "message")
	delete(m, "time")

	title := strings.TrimSpace(strings.ToUpper(lvl) + " " + msg)
	if title == "" {
		title = "log"
	}
	c := tgui.NewCard().Title(levelBadges[lvl], title)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := tgui.TruncRunes(fmt.Sprint(m[k]), tgValueRunes)
		if k == zerolog.CallerFieldName {
			c.KVCode(k, v)
			continue
		}
		c.KV(k, v)
	}
	return c.String()
}
