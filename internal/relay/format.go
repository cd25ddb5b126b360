package relay

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"callrelay/internal/calltrack"
	"callrelay/internal/storage"
	"callrelay/pkg/tgui"
)

// StatusView is everything a status message is rendered from.
type StatusView struct {
	CallID       string
	Status       calltrack.Status
	Call         *storage.Call
	Elapsed      calltrack.Elapsed
	ErrorMessage string
}

// Formatter renders relay messages as Telegram HTML.
type Formatter struct {
	MaskDTMF bool
	Location *time.Location
}

type statusStyle struct {
	emoji string
	title string
}

var statusStyles = map[calltrack.Status]statusStyle{
	calltrack.StatusQueued:     {"🕐", "Call queued"},
	calltrack.StatusInitiated:  {"📲", "Call initiated"},
	calltrack.StatusRinging:    {"🔔", "Ringing"},
	calltrack.StatusAnswered:   {"✅", "Answered"},
	calltrack.StatusInProgress: {"🗣", "In progress"},
	calltrack.StatusCompleted:  {"🏁", "Call completed"},
	calltrack.StatusFailed:     {"❌", "Call failed"},
	calltrack.StatusBusy:       {"📵", "Line busy"},
	calltrack.StatusNoAnswer:   {"🔕", "No answer"},
	calltrack.StatusCanceled:   {"🚫", "Call canceled"},
}

// Status renders one accepted status transition.
func (f Formatter) Status(v StatusView) string {
	st, ok := statusStyles[v.Status]
	if !ok {
		st = statusStyle{"📞", "Status: " + string(v.Status)}
	}

	head := tgui.Esc(st.emoji).String() + " " + tgui.B(st.title).String()
	switch v.Status {
	case calltrack.StatusRinging:
		if v.Elapsed.RingSetup.Known() {
			head += tgui.Esc(" (setup " + FormatSecs(v.Elapsed.RingSetup) + ")").String()
		}
	case calltrack.StatusAnswered, calltrack.StatusInProgress:
		if v.Elapsed.RingDuration.Known() {
			head += tgui.Esc(" (rang " + FormatSecs(v.Elapsed.RingDuration) + ")").String()
		}
	case calltrack.StatusNoAnswer:
		if v.Elapsed.RingTime.Known() {
			head += tgui.Esc(" (rang " + FormatSecs(v.Elapsed.RingTime) + ")").String()
		}
	}

	c := tgui.NewCard().Raw(tgui.H(head))
	c.KVCode("Call", v.CallID)
	if v.Call != nil {
		c.KV("Phone", MaskPhone(v.Call.PhoneNumber))
		if v.Status == calltrack.StatusAnswered || v.Status == calltrack.StatusInProgress {
			c.KV("Answered by", v.Call.AnsweredBy)
		}
	}
	if v.Status == calltrack.StatusCompleted {
		if v.Elapsed.CallDuration.Known() {
			c.KV("Duration", FormatSecs(v.Elapsed.CallDuration))
		}
		if v.Call != nil {
			c.KV("Outcome", v.Call.Outcome)
		}
	}
	if v.Status == calltrack.StatusFailed {
		c.KV("Error", tgui.TruncRunes(v.ErrorMessage, 500))
	}
	if v.Call != nil && v.Status.IsTerminal() {
		f.context(c, v.Call.BusinessContext)
	}
	return c.String()
}

const maxContextKeys = 8

func (f Formatter) context(c *tgui.Card, m map[string]any) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxContextKeys {
		keys = keys[:maxContextKeys]
	}
	c.Section("Context")
	for _, k := range keys {
		c.KV(k, tgui.TruncRunes(fmt.Sprint(m[k]), 120))
	}
}

// DTMF renders captured keypad input.
func (f Formatter) DTMF(callID string, entries []storage.DTMFEntry) string {
	c := tgui.NewCard().Title("🔢", "Keypad input captured")
	c.KVCode("Call", callID)
	if len(entries) == 0 {
		c.Line("No digits recorded yet.")
		return c.String()
	}
	for _, e := range entries {
		digits := e.Digits
		if f.MaskDTMF {
			digits = MaskDigits(digits)
		}
		label := e.Label
		if strings.TrimSpace(label) == "" {
			label = "Digits"
		}
		c.KVCode(label, digits)
	}
	return c.String()
}

// Transcript renders the conversation as "speaker: text" lines.
func (f Formatter) Transcript(callID string, entries []storage.Transcript) string {
	c := tgui.NewCard().Title("📝", "Transcript")
	c.KVCode("Call", callID)
	if len(entries) == 0 {
		c.Line("Transcript is empty.")
		return c.String()
	}
	c.Section("Conversation")
	for _, e := range entries {
		speaker := strings.TrimSpace(e.Speaker)
		if speaker == "" {
			speaker = "unknown"
		}
		c.Raw(tgui.H(tgui.B(speaker).String() + ": " + tgui.Esc(e.Text).String()))
	}
	return c.String()
}

// Verification renders one verification step from the record details.
func (f Formatter) Verification(callID string, details map[string]any) string {
	c := tgui.NewCard().Title("🛡", "Verification step")
	c.KVCode("Call", callID)
	c.KV("Step", str(details["step"]))
	c.KV("Result", str(details["result"]))
	c.KV("Note", tgui.TruncRunes(str(details["message"]), 300))
	return c.String()
}

// Details renders the call snapshot requested through the details action.
func (f Formatter) Details(call storage.Call, states []storage.CallState, inputs []storage.Input, dtmf []storage.DTMFEntry) string {
	c := tgui.NewCard().Title("📋", "Call details")
	c.KVCode("Call", call.ID)
	c.KV("Status", call.Status)
	c.KV("Outcome", call.Outcome)
	c.KV("Phone", MaskPhone(call.PhoneNumber))
	c.KV("Answered by", call.AnsweredBy)
	if call.Duration != nil {
		c.KV("Duration", FormatSecs(calltrack.Secs(*call.Duration)))
	}
	c.KV("Error", tgui.TruncRunes(call.ErrorMessage, 500))
	if !call.CreatedAt.IsZero() {
		c.KV("Created", f.clock(call.CreatedAt))
	}
	if len(states) > 0 {
		c.Section("History")
		for _, s := range states {
			c.Line(f.clock(s.At) + "  " + s.Status)
		}
	}
	if len(inputs) > 0 {
		c.Section("Inputs")
		for _, in := range inputs {
			c.KV(in.Name, tgui.TruncRunes(in.Value, 200))
		}
	}
	if len(dtmf) > 0 {
		c.Section("Keypad")
		for _, d := range dtmf {
			digits := d.Digits
			if f.MaskDTMF {
				digits = MaskDigits(digits)
			}
			c.KVCode(firstNonEmpty(d.Label, "Digits"), digits)
		}
	}
	f.context(c, call.BusinessContext)
	return c.String()
}

// ErrorNotice is the secondary message sent when relaying a call failure failed.
func (f Formatter) ErrorNotice(callID string) string {
	return tgui.NewCard().
		Title("⚠️", "An error occurred").
		Line("Could not deliver the failure report for this call.").
		KVCode("Call", callID).
		String()
}

// Fallback is the minimal line sent when rendering failed.
func Fallback(callID string, label string) string {
	return tgui.Esc("📞 Call " + callID + ": " + label).String()
}

func (f Formatter) clock(t time.Time) string {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("15:04:05")
}

// FormatSecs renders whole seconds as "14s", "2m 5s" or "1h 3m".
func FormatSecs(s calltrack.Secs) string {
	n := int(s)
	switch {
	case n < 0:
		return ""
	case n < 60:
		return fmt.Sprintf("%ds", n)
	case n < 3600:
		return fmt.Sprintf("%dm %ds", n/60, n%60)
	default:
		return fmt.Sprintf("%dh %dm", n/3600, (n%3600)/60)
	}
}

// MaskPhone keeps the leading '+' and the last four digits.
func MaskPhone(p string) string {
	p = strings.TrimSpace(p)
	n := utf8.RuneCountInString(p)
	if n <= 4 {
		return p
	}
	rs := []rune(p)
	var b strings.Builder
	for i, r := range rs {
		if i >= n-4 || (i == 0 && r == '+') {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('•')
	}
	return b.String()
}

// MaskDigits keeps the last two digits.
func MaskDigits(d string) string {
	rs := []rune(strings.TrimSpace(d))
	if len(rs) <= 2 {
		return string(rs)
	}
	return strings.Repeat("•", len(rs)-2) + string(rs[len(rs)-2:])
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
