// Package tgui provides small Telegram rendering helpers used by the relay:
//   - HTML-safe text building for ParseMode="HTML"
//   - Callback data helpers ("call:action:payload")
//   - Inline keyboards for follow-up actions
//   - A line/word chunker for messages above Telegram's size limit
package tgui
