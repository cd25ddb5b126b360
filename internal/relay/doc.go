// Package relay is the notification dispatch core.
//
// A Service polls the store-backed notification queue on a cron schedule and
// hands each record to the Dispatcher, which consults the per-call status
// tracker, renders the message, sends it and acknowledges the record as sent
// or failed. A sweeper and one-shot post-terminal timers bound the memory
// held for in-flight calls.
package relay
