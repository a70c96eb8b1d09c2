package types

import "errors"

// Store operation errors.
var (
	ErrNotFound       = errors.New("record not found")
	ErrAlreadyExists  = errors.New("record already exists")
	ErrInvalidID      = errors.New("invalid record ID")
	ErrUnknownEntity  = errors.New("unknown entity type")
	ErrStoreClosed    = errors.New("store is closed")
	ErrSchemaMismatch = errors.New("record field not present in worksheet schema")
)

// Remote backend errors. ErrAuthFailure is fatal and surfaces to the caller;
// the rest classify retryable failures (see RemoteError).
var (
	ErrAuthFailure     = errors.New("remote authentication failure")
	ErrWorksheetAbsent = errors.New("worksheet not found")
	ErrRateLimited     = errors.New("remote rate limited")
	ErrTransient       = errors.New("transient remote failure")
	ErrConflict        = errors.New("remote row changed since last read")
)

// Schema validation errors.
var (
	ErrEntityTypeEmpty = errors.New("entity type must not be empty")
	ErrIDFieldEmpty    = errors.New("ID field must not be empty")
	ErrIDFieldMissing  = errors.New("ID field is not a schema column")
	ErrSchemaEmpty     = errors.New("schema has no columns")
	ErrColumnNameEmpty = errors.New("column name must not be empty")
	ErrDuplicateColumn = errors.New("duplicate column name")
)

// Config validation errors.
var (
	ErrBackendEmpty       = errors.New("backend must not be empty")
	ErrBackendUnknown     = errors.New("unknown backend")
	ErrSpreadsheetIDEmpty = errors.New("spreadsheet ID is required for the remote backend")
	ErrCredentialsMissing = errors.New("remote backend requires credentials (inline JSON or file path)")
	ErrCredentialsBoth    = errors.New("inline credentials and credentials file are mutually exclusive")
	ErrRetryInvalid       = errors.New("retry policy bounds must be positive")
)
