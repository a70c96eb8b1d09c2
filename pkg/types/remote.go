package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RemoteTable is the contract for the spreadsheet backend: one worksheet per
// entity type, row 1 is the schema header and never data. Update and Delete
// re-resolve the identifier to a row position immediately before mutating;
// positions are never carried across calls because concurrent external edits
// can shift rows.
type RemoteTable interface {
	// ListRows returns every data row of the entity's worksheet in order,
	// excluding the header.
	ListRows(ctx context.Context, entityType string) ([][]string, error)

	// AppendRow appends one encoded row after the last data row.
	AppendRow(ctx context.Context, entityType string, row []string) error

	// UpdateRow locates the row whose ID cell equals id and overwrites it.
	// A missing ID falls back to append, so replays are idempotent by
	// identifier.
	UpdateRow(ctx context.Context, entityType, id string, row []string) error

	// DeleteRow locates the row whose ID cell equals id and removes it.
	// A missing ID is a successful no-op.
	DeleteRow(ctx context.Context, entityType, id string) error

	// EnsureWorksheet creates the entity's worksheet with its header row if
	// it does not already exist.
	EnsureWorksheet(ctx context.Context, entityType string, schema Schema) error
}

// RemoteKind classifies a RemoteError.
type RemoteKind string

const (
	RemoteAuth        RemoteKind = "auth"
	RemoteNotFound    RemoteKind = "not_found"
	RemoteRateLimited RemoteKind = "rate_limited"
	RemoteTransient   RemoteKind = "transient"
	RemoteConflict    RemoteKind = "conflict"
)

// RemoteError is the tagged failure result of a RemoteTable call. The
// persistence engine is the sole interpreter of the tag: retryable kinds are
// routed to the retry queue, RemoteAuth propagates to the caller.
type RemoteError struct {
	Kind RemoteKind
	// RetryAfter carries a server-provided backoff hint for rate-limit
	// responses; zero when the server gave none.
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("remote %s", e.Kind)
}

func (e *RemoteError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.sentinel()
}

// Is lets errors.Is match the kind's sentinel regardless of the wrapped cause.
func (e *RemoteError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *RemoteError) sentinel() error {
	switch e.Kind {
	case RemoteAuth:
		return ErrAuthFailure
	case RemoteNotFound:
		return ErrWorksheetAbsent
	case RemoteRateLimited:
		return ErrRateLimited
	case RemoteConflict:
		return ErrConflict
	default:
		return ErrTransient
	}
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *RemoteError) Retryable() bool {
	return e.Kind != RemoteAuth
}

// IsRetryable reports whether err is a retryable remote failure.
func IsRetryable(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Retryable()
}
