// Package logx configures callrelay's structured logging on top of zerolog.
//
// Console output is human readable with a short caller, the optional file
// sink writes JSON lines, and the optional Telegram sink forwards warnings
// (rate limited) to the operators' chat as small HTML cards.
package logx
