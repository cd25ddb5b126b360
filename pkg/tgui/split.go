package tgui

import (
	"strings"
	"unicode/utf8"
)

// TextLimit is the chunk size used for Telegram messages. Telegram's hard
// limit is 4096 characters; the margin absorbs entity expansion.
const TextLimit = 4000

// SplitLines splits text into chunks of at most maxLen runes.
//
// Lines are accumulated into the current chunk while they fit (joined by a
// single newline). A line longer than maxLen is broken at the last space at or
// before the limit, or hard-cut at the limit when it has no space; the
// remainder seeds the next chunk. Every chunk is trimmed and empty chunks are
// dropped.
//
// This is a line/word splitter, not a grapheme-aware one: it may split inside
// a multi-rune emoji sequence or inside an HTML tag of an overlong line.
func SplitLines(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = TextLimit
	}

	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		need := n
		if curLen > 0 {
			need++ // newline separator
		}
		if curLen+need <= maxLen {
			if curLen > 0 {
				cur.WriteByte('\n')
			}
			cur.WriteString(line)
			curLen += need
			continue
		}

		if curLen > 0 {
			flush()
		}
		for n > maxLen {
			head, rest := breakLine(line, maxLen)
			if s := strings.TrimSpace(head); s != "" {
				out = append(out, s)
			}
			line = rest
			n = utf8.RuneCountInString(line)
		}
		cur.WriteString(line)
		curLen = n
	}
	flush()
	return out
}

// breakLine cuts line at the last space at or before maxLen runes. The space
// itself is consumed. Without a usable space the line is hard-cut at maxLen.
func breakLine(line string, maxLen int) (head, rest string) {
	rs := []rune(line)
	if len(rs) <= maxLen {
		return line, ""
	}
	for i := maxLen; i > 0; i-- {
		if rs[i] == ' ' {
			return string(rs[:i]), string(rs[i+1:])
		}
	}
	return string(rs[:maxLen]), string(rs[maxLen:])
}
