package types

import "context"

// Store provides uniform CRUD operations over entity records, independent of
// the backing storage. The persistence engine and the local store both
// implement it; callers hold a single Store reference selected at startup.
type Store interface {
	// Create stores a new record. When the record's ID field is empty a
	// UUID v7 is generated. Returns the identifier actually used.
	Create(ctx context.Context, entityType string, rec Record) (string, error)

	// Read retrieves the record with the given identifier.
	// Returns ErrNotFound if no record exists with that identifier.
	Read(ctx context.Context, entityType, id string) (Record, error)

	// Update applies the fields of partial on top of the stored record.
	// The identifier field is immutable and cannot be changed.
	// Returns ErrNotFound if no record exists with that identifier.
	Update(ctx context.Context, entityType, id string, partial Record) error

	// Delete removes the record with the given identifier.
	// Returns ErrNotFound if no record exists with that identifier.
	Delete(ctx context.Context, entityType, id string) error

	// List returns all records matching the filter. Filter values compare
	// against record fields case-insensitively on their string forms; an
	// empty filter returns every record of the entity type.
	List(ctx context.Context, entityType string, filter map[string]any) ([]Record, error)
}
