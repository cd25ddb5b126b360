package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "callrelay/internal/runtime/supervisor"
	kit "callrelay/internal/transport"
	"callrelay/pkg/logx"
	"callrelay/pkg/tgui"
)

const defaultAPIURL = "https://api.telegram.org"

// clientSlack keeps the HTTP client deadline above the long-poll wait.
const clientSlack = 5 * time.Second

type Config struct {
	Token        string
	APIURL       string // empty means the public Bot API
	PollTimeout  time.Duration
	ProbeTimeout time.Duration

	// SendTimeout bounds a Send whose context carries no deadline.
	SendTimeout time.Duration
}

// Adapter is the Telegram Bot API transport. It sends relay messages and
// long-polls inline button callbacks.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Callback)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and its helpers. Created on Start, canceled on Stop.
	sup *rtsup.Supervisor

	droppedCallbacks uint64
	http             *http.Client
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 8 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	// One client serves getUpdates and sendMessage, so it must outlast the poll.
	b, err := tele.NewBot(tele.Settings{
		URL:    cfg.APIURL,
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout, AllowedUpdates: []string{"callback_query"}},
		Client: &http.Client{Timeout: max(cfg.SendTimeout, cfg.PollTimeout) + clientSlack},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, http: &http.Client{Timeout: cfg.ProbeTimeout}}
	var nilOut chan<- kit.Callback
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start may swap it.
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.forward(kit.Callback{
			ID:        cb.ID,
			FromID:    cb.Sender.ID,
			ChatID:    m.Chat.ID,
			ThreadID:  m.ThreadID,
			MessageID: m.ID,
			Data:      strings.TrimPrefix(cb.Data, "\f"),
		})
		return nil
	})
}

func (a *Adapter) forward(cb kit.Callback) {
	out, _ := a.out.Load().(chan<- kit.Callback)
	if out == nil {
		return
	}
	select {
	case out <- cb:
	default:
		atomic.AddUint64(&a.droppedCallbacks, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Callback) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("callbacks.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedCallbacks, 0); n > 0 {
					a.log.Warn("callbacks dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; an early return while ctx is alive is restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Callback
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop", logx.Err(err))
	}
	return nil
}

// Send delivers msg to the target chat, split into Telegram-sized chunks.
// Follow-up actions are attached to the first chunk only.
func (a *Adapter) Send(ctx context.Context, to kit.ChatTarget, msg kit.OutboundMessage) (kit.MessageRef, error) {
	if to.IsZero() {
		return kit.MessageRef{}, errors.New("telegram: empty chat target")
	}
	chunks := tgui.SplitLines(msg.Text, tgui.TextLimit)
	if len(chunks) == 0 {
		return kit.MessageRef{}, errors.New("telegram: empty message")
	}
	chat := &tele.Chat{ID: to.ChatID}
	markup := tgui.Keyboard(msg.Actions)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.SendTimeout)
		defer cancel()
	}

	var first kit.MessageRef
	for i, chunk := range chunks {
		opt := &tele.SendOptions{
			ParseMode:             tele.ParseMode(msg.ParseMode),
			DisableWebPagePreview: msg.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if i == 0 && markup != nil {
			opt.ReplyMarkup = markup
		}
		var m *tele.Message
		err := a.call(ctx, func() error {
			var err error
			m, err = a.bot.Send(chat, chunk, opt)
			return err
		})
		if err != nil {
			return first, fmt.Errorf("telegram send (chunk %d/%d): %w", i+1, len(chunks), err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: m.ID}
		}
	}
	return first, nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return a.call(ctx, func() error {
		return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
	})
}

// call runs a telebot request, which takes no context, and gives up when ctx
// ends. The abandoned request is still bounded by the bot's client timeout.
func (a *Adapter) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Probe performs a getMe round-trip.
func (a *Adapter) Probe(ctx context.Context) (kit.ProbeResult, error) {
	start := time.Now()
	url := a.cfg.APIURL + "/bot" + strings.TrimSpace(a.cfg.Token) + "/getMe"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return kit.ProbeResult{}, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		// The URL embeds the token; never surface it.
		var uerr interface{ Unwrap() error }
		if errors.As(err, &uerr) && uerr.Unwrap() != nil {
			err = uerr.Unwrap()
		}
		return kit.ProbeResult{}, fmt.Errorf("telegram getMe: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
		Result      struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return kit.ProbeResult{}, fmt.Errorf("telegram getMe failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return kit.ProbeResult{}, fmt.Errorf("telegram getMe failed: http=%d", resp.StatusCode)
	}
	return kit.ProbeResult{Username: out.Result.Username, Latency: time.Since(start)}, nil
}
