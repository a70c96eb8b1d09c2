// Package sqlite implements the embedded local store: entity records for
// local-only mode and the durable retry queue that backs the remote mode.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yln-platform/sheetstore/internal/codec"
	"github.com/yln-platform/sheetstore/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// DBFileName is the database file created under the data directory.
const DBFileName = "sheetstore.db"

// Store is a SQLite-backed types.Store. It also persists the retry queue
// (see queue.go). Reads after writes are consistent within the process; an
// empty data directory means an in-memory database that does not survive it.
type Store struct {
	mu      sync.RWMutex
	db      *sql.DB
	schemas map[string]types.Schema
	closed  bool
}

var _ types.Store = (*Store)(nil)

// Open opens (or creates) the store under dataDir and registers the given
// entity schemas. dataDir == "" opens an in-memory database.
func Open(dataDir string, schemas []types.Schema) (*Store, error) {
	dsn := ":memory:"
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, DBFileName)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps the in-memory database alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	byType := make(map[string]types.Schema, len(schemas))
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("schema %s: %w", s.EntityType, err)
		}
		byType[s.EntityType] = s
	}

	return &Store{db: db, schemas: byType}, nil
}

// Close releases the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Schema returns the registered schema for an entity type.
func (s *Store) Schema(entityType string) (types.Schema, error) {
	sc, ok := s.schemas[entityType]
	if !ok {
		return types.Schema{}, fmt.Errorf("%q: %w", entityType, types.ErrUnknownEntity)
	}
	return sc, nil
}

// Schemas returns every registered schema.
func (s *Store) Schemas() []types.Schema {
	out := make([]types.Schema, 0, len(s.schemas))
	for _, sc := range s.schemas {
		out = append(out, sc)
	}
	return out
}

// Create stores a new record, generating a UUID v7 identifier when the
// record's ID field is empty.
func (s *Store) Create(ctx context.Context, entityType string, rec types.Record) (string, error) {
	sc, err := s.Schema(entityType)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", types.ErrStoreClosed
	}

	rec = rec.Clone()
	if rec == nil {
		rec = types.Record{}
	}
	id, _ := rec[sc.IDField].(string)
	if id == "" {
		id = newID()
		rec[sc.IDField] = id
	}

	payload, err := encodePayload(rec, sc)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC().Format(types.TimeFormat)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (entity_type, record_id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		entityType, id, payload, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return "", fmt.Errorf("%s/%s: %w", entityType, id, types.ErrAlreadyExists)
		}
		return "", fmt.Errorf("inserting record: %w", err)
	}
	return id, nil
}

// Read retrieves a record by identifier.
func (s *Store) Read(ctx context.Context, entityType, id string) (types.Record, error) {
	sc, err := s.Schema(entityType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}

	var payload string
	err = s.db.QueryRowContext(ctx,
		"SELECT payload FROM records WHERE entity_type = ? AND record_id = ?",
		entityType, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	return decodePayload(payload, sc)
}

// Upsert writes the full record under its identifier, creating or replacing.
// Used by the engine to mirror remote-mode writes for read fallback.
func (s *Store) Upsert(ctx context.Context, entityType string, rec types.Record) error {
	sc, err := s.Schema(entityType)
	if err != nil {
		return err
	}
	id, _ := rec[sc.IDField].(string)
	if id == "" {
		return types.ErrInvalidID
	}
	payload, err := encodePayload(rec, sc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}

	now := time.Now().UTC().Format(types.TimeFormat)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (entity_type, record_id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, record_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		entityType, id, payload, now, now)
	if err != nil {
		return fmt.Errorf("upserting record: %w", err)
	}
	return nil
}

// Update applies partial on top of the stored record. The identifier field
// is immutable.
func (s *Store) Update(ctx context.Context, entityType, id string, partial types.Record) error {
	sc, err := s.Schema(entityType)
	if err != nil {
		return err
	}
	if id == "" {
		return types.ErrInvalidID
	}
	if v, ok := partial[sc.IDField]; ok {
		if vs, _ := v.(string); vs != id {
			return types.ErrInvalidID
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}

	var payload string
	err = s.db.QueryRowContext(ctx,
		"SELECT payload FROM records WHERE entity_type = ? AND record_id = ?",
		entityType, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading record for update: %w", err)
	}

	current, err := decodePayload(payload, sc)
	if err != nil {
		return err
	}
	next, err := encodePayload(current.Merge(partial), sc)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(types.TimeFormat)
	_, err = s.db.ExecContext(ctx,
		"UPDATE records SET payload = ?, updated_at = ? WHERE entity_type = ? AND record_id = ?",
		next, now, entityType, id)
	if err != nil {
		return fmt.Errorf("updating record: %w", err)
	}
	return nil
}

// Delete removes a record by identifier.
func (s *Store) Delete(ctx context.Context, entityType, id string) error {
	if _, err := s.Schema(entityType); err != nil {
		return err
	}
	if id == "" {
		return types.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE entity_type = ? AND record_id = ?",
		entityType, id)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// List returns records matching the filter, in creation order.
func (s *Store) List(ctx context.Context, entityType string, filter map[string]any) ([]types.Record, error) {
	sc, err := s.Schema(entityType)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM records WHERE entity_type = ? ORDER BY created_at, record_id",
		entityType)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	results := []types.Record{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec, err := decodePayload(payload, sc)
		if err != nil {
			return nil, err
		}
		if MatchesFilter(rec, filter) {
			results = append(results, rec)
		}
	}
	return results, rows.Err()
}

// FindByField looks records up by one field value, the secondary index used
// for email and session lookups. The match runs inside SQLite against the
// encoded payload cell for the field's column.
func (s *Store) FindByField(ctx context.Context, entityType, field, value string) ([]types.Record, error) {
	sc, err := s.Schema(entityType)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, c := range sc.Columns {
		if c.Name == field {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("field %q: %w", field, types.ErrSchemaMismatch)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT payload FROM records
			WHERE entity_type = ? AND json_extract(payload, '$[%d]') = ?
			ORDER BY created_at, record_id`, idx),
		entityType, value)
	if err != nil {
		return nil, fmt.Errorf("finding records by %s: %w", field, err)
	}
	defer rows.Close()

	results := []types.Record{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec, err := decodePayload(payload, sc)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// MatchesFilter reports whether every filter entry equals the record's field
// on its string form, case-insensitively. Mirrors the remote read path's
// filtering so both backends behave the same.
func MatchesFilter(rec types.Record, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if !ok {
			return false
		}
		if !strings.EqualFold(fmt.Sprint(got), fmt.Sprint(want)) {
			return false
		}
	}
	return true
}

// encodePayload renders a record as its codec row, stored as a JSON array.
func encodePayload(rec types.Record, sc types.Schema) (string, error) {
	row, err := codec.Encode(rec, sc)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(payload string, sc types.Schema) (types.Record, error) {
	var row []string
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	return codec.Decode(row, sc), nil
}

// newID generates a UUID v7 string.
func newID() string {
	return types.NewID()
}
