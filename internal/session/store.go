// Package session stores authentication sessions in a local bbolt file.
// Sessions never travel to the remote backend regardless of which backend
// handles entity records.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yln-platform/sheetstore/pkg/types"
)

const sessionBucket = "sessions"

// Store is a bbolt-backed session store. When opened without an explicit
// path it uses a temporary file that is removed on Close, so sessions do
// not outlive the process.
type Store struct {
	mu        sync.Mutex
	db        *bbolt.DB
	ephemeral string
	closed    bool
}

// Open opens the session store at path. An empty path creates an
// ephemeral store backed by a temporary file.
func Open(path string) (*Store, error) {
	ephemeral := ""
	if path == "" {
		f, err := os.CreateTemp("", "sheetstore-sessions-*.db")
		if err != nil {
			return nil, fmt.Errorf("creating session temp file: %w", err)
		}
		path = f.Name()
		ephemeral = path
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("closing session temp file: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating session bucket: %w", err)
	}

	return &Store{db: db, ephemeral: ephemeral}, nil
}

// Close closes the store and deletes the backing file when the store is
// ephemeral. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if s.ephemeral != "" {
		if rmErr := os.Remove(s.ephemeral); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

// Put stores a session, overwriting any session with the same ID.
func (s *Store) Put(ctx context.Context, sess types.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.check(); err != nil {
		return err
	}
	if sess.ID == "" {
		return fmt.Errorf("session id: %w", types.ErrInvalidID)
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Put([]byte(sess.ID), payload)
	})
	if err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Get fetches a session by ID. Expired sessions are deleted lazily and
// reported as not found.
func (s *Store) Get(ctx context.Context, id string) (types.Session, error) {
	if err := ctx.Err(); err != nil {
		return types.Session{}, err
	}
	if err := s.check(); err != nil {
		return types.Session{}, err
	}

	var sess types.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket([]byte(sessionBucket)).Get([]byte(id))
		if payload == nil {
			return types.ErrNotFound
		}
		return json.Unmarshal(payload, &sess)
	})
	if err != nil {
		return types.Session{}, fmt.Errorf("fetching session %s: %w", id, err)
	}

	if sess.Expired(time.Now().UTC()) {
		if err := s.Delete(ctx, id); err != nil {
			return types.Session{}, err
		}
		return types.Session{}, fmt.Errorf("fetching session %s: %w", id, types.ErrNotFound)
	}
	return sess, nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.check(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// List returns every live session. Expired sessions are skipped but not
// deleted; Purge handles removal.
func (s *Store) List(ctx context.Context) ([]types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.check(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var out []types.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).ForEach(func(_, v []byte) error {
			var sess types.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if !sess.Expired(now) {
				out = append(out, sess)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return out, nil
}

// Purge removes every session that expired before now and returns how
// many were removed.
func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.check(); err != nil {
		return 0, err
	}

	purged := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		cur := bucket.Cursor()
		var stale [][]byte
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var sess types.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				// Unreadable payloads are dropped along with expired ones.
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			if sess.Expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	if err != nil {
		return purged, fmt.Errorf("purging sessions: %w", err)
	}
	return purged, nil
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	return nil
}
