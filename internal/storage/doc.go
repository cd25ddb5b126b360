// Package storage is the notification queue and call record store the relay
// consumes.
//
// Drivers:
//   - "sqlite":   modernc.org/sqlite database file (embedded migrations)
//   - "postgres": Postgres through the pgx database/sql driver
//   - "memory":   process-local store for tests and dry runs
package storage
