package tgui

import (
	"html"
	"strings"
)

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
// Values of type H should be treated as already-escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Card accumulates the lines of one HTML message.
// Empty values are skipped so callers can add optional fields unconditionally.
type Card struct {
	lines []string
}

func NewCard() *Card { return &Card{} }

// Title adds "<emoji> <b>title</b>".
func (c *Card) Title(emoji, title string) *Card {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return c
	}
	if e != "" {
		c.lines = append(c.lines, Esc(e).String()+" "+B(t).String())
		return c
	}
	c.lines = append(c.lines, B(t).String())
	return c
}

// KV adds a "• <b>key</b>: value" row. Rows with an empty value are skipped.
func (c *Card) KV(key, value string) *Card {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return c
	}
	c.lines = append(c.lines, "• "+B(key).String()+": "+Esc(value).String())
	return c
}

// KVCode is KV with the value rendered as inline code.
func (c *Card) KVCode(key, value string) *Card {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return c
	}
	c.lines = append(c.lines, "• "+B(key).String()+": "+Code(value).String())
	return c
}

// Line adds one escaped line.
func (c *Card) Line(s string) *Card {
	if strings.TrimSpace(s) == "" {
		return c
	}
	c.lines = append(c.lines, Esc(s).String())
	return c
}

// Raw adds an already-safe line.
func (c *Card) Raw(h H) *Card {
	if strings.TrimSpace(h.String()) == "" {
		return c
	}
	c.lines = append(c.lines, h.String())
	return c
}

// Section adds a blank separator followed by a bold header.
func (c *Card) Section(title string) *Card {
	if strings.TrimSpace(title) == "" {
		return c
	}
	c.lines = append(c.lines, "", B(title).String())
	return c
}

func (c *Card) Len() int { return len(c.lines) }

// String joins the lines with newlines.
func (c *Card) String() string {
	return strings.Trim(strings.Join(c.lines, "\n"), "\n")
}
