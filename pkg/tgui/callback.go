package tgui

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "callrelay/internal/transport"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// NOTE: This is the length of the full string: "prefix:action:payload".
const MaxCallbackDataLen = 64

// CallbackPrefix namespaces relay follow-up buttons.
const CallbackPrefix = "call"

var (
	ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
	ErrCallbackData        = errors.New("tgui: malformed callback_data")
)

// Data formats inline callback data as "prefix:action:payload".
func Data(prefix, action, payload string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	action = strings.TrimSpace(action)
	s := prefix + ":" + action
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// ParseData splits "prefix:action:payload". The payload may itself contain ':'.
func ParseData(data string) (prefix, action, payload string, err error) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", ErrCallbackData
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, nil
}

// Keyboard renders follow-up actions as an inline keyboard, two buttons per row.
// Actions whose callback data would exceed Telegram's limit are skipped.
// It returns nil when no button survives.
func Keyboard(actions []kit.Action) *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(actions))
	for _, a := range actions {
		data, err := Data(CallbackPrefix, a.Action, a.CallID)
		if err != nil || strings.TrimSpace(a.Label) == "" {
			continue
		}
		btns = append(btns, tele.Btn{Text: a.Label, Data: data})
	}
	if len(btns) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Split(2, btns)...)
	return rm
}
