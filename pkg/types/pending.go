package types

import "time"

// Op is the kind of write a pending entry replays.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// PendingStatus is the lifecycle state of a pending write.
//
//	queued -> in_flight -> (deleted on success | queued again | abandoned)
//
// Succeeded entries are removed from the queue; abandoned entries are kept
// for operator intervention, never silently dropped.
type PendingStatus string

const (
	StatusQueued    PendingStatus = "queued"
	StatusInFlight  PendingStatus = "in_flight"
	StatusAbandoned PendingStatus = "abandoned"
)

// PendingWrite is a durable record of a remote write that has not yet been
// replayed. At most one non-abandoned entry exists per (entity type, record
// identifier); a newer write for the same identifier supersedes the payload
// of an unreplayed one instead of stacking a duplicate.
type PendingWrite struct {
	// ID is the entry's idempotency key, a UUID v7.
	ID         string
	EntityType string
	RecordID   string
	Op         Op
	// Payload is the full record snapshot to replay; nil for deletes.
	Payload Record
	Status  PendingStatus
	// Attempts counts replays tried so far.
	Attempts int
	// Seq increments every time the payload is superseded. The drain
	// worker commits success only against the seq it claimed, so a write
	// accepted mid-replay is never lost.
	Seq           int64
	NextAttemptAt time.Time
	LastError     string
	EnqueuedAt    time.Time
	UpdatedAt     time.Time
}
