package relay

import (
	"context"

	kit "callrelay/internal/transport"
	"callrelay/pkg/logx"
	"callrelay/pkg/tgui"
)

// Follow-up actions attached to terminal status messages.
const (
	ActionDetails    = "details"
	ActionTranscript = "transcript"
)

// RunCallbacks handles button presses until ctx is done or in is closed.
func (s *Service) RunCallbacks(ctx context.Context, in <-chan kit.Callback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cb, ok := <-in:
			if !ok {
				return nil
			}
			s.HandleCallback(ctx, cb)
		}
	}
}

// HandleCallback answers one follow-up action. Failures are logged only.
func (s *Service) HandleCallback(ctx context.Context, cb kit.Callback) {
	log := s.log.With(logx.String("callback", cb.ID), logx.Int64("from", cb.FromID))
	if s.transport == nil {
		return
	}
	cfg := s.Config()

	prefix, action, callID, err := tgui.ParseData(cb.Data)
	if err != nil || prefix != tgui.CallbackPrefix || callID == "" {
		s.answer(ctx, log, cb.ID, "Unknown action")
		return
	}
	log = log.With(logx.String("call", callID), logx.String("action", action))

	if s.store == nil {
		s.answer(ctx, log, cb.ID, "Storage unavailable")
		return
	}

	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	f := cfg.formatter()

	var text string
	switch action {
	case ActionDetails:
		call, ok, err := s.store.Call(lctx, callID)
		if err != nil {
			log.Warn("details lookup failed", logx.Err(err))
			s.answer(ctx, log, cb.ID, "Lookup failed")
			return
		}
		if !ok {
			s.answer(ctx, log, cb.ID, "Call not found")
			return
		}
		states, err := s.store.CallStates(lctx, callID)
		if err != nil {
			log.Debug("call states lookup failed", logx.Err(err))
		}
		inputs, err := s.store.Inputs(lctx, callID)
		if err != nil {
			log.Debug("inputs lookup failed", logx.Err(err))
		}
		dtmf, err := s.store.DTMFEntries(lctx, callID)
		if err != nil {
			log.Debug("dtmf lookup failed", logx.Err(err))
		}
		text = f.Details(call, states, inputs, dtmf)
	case ActionTranscript:
		entries, err := s.store.Transcripts(lctx, callID)
		if err != nil {
			log.Warn("transcript lookup failed", logx.Err(err))
			s.answer(ctx, log, cb.ID, "Lookup failed")
			return
		}
		text = f.Transcript(callID, entries)
	default:
		s.answer(ctx, log, cb.ID, "Unknown action")
		return
	}

	s.answer(ctx, log, cb.ID, "")
	to := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	sctx, cancel2 := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel2()
	if _, err := s.transport.Send(sctx, to, kit.OutboundMessage{Text: text, ParseMode: kit.ParseModeHTML, DisablePreview: true}); err != nil {
		log.Warn("action reply failed", logx.Err(err))
	}
}

func (s *Service) answer(ctx context.Context, log logx.Logger, id, text string) {
	actx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	if err := s.transport.AnswerCallback(actx, id, text); err != nil {
		log.Debug("answer callback failed", logx.Err(err))
	}
}
