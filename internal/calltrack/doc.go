// Package calltrack keeps bounded in-memory state per call: the accepted
// status history used to suppress stale or duplicate updates, and the
// timestamps used for ring and call duration annotations.
package calltrack
