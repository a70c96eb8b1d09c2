// Package engine is the persistence facade. It routes entity CRUD to the
// backend selected by config, keeps sessions in the local session store
// regardless of backend, and absorbs retryable remote failures into a
// durable queue so callers see success-with-pending instead of flaky
// errors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yln-platform/sheetstore/internal/codec"
	"github.com/yln-platform/sheetstore/internal/session"
	"github.com/yln-platform/sheetstore/internal/sheets"
	"github.com/yln-platform/sheetstore/internal/sqlite"
	"github.com/yln-platform/sheetstore/pkg/types"
)

// AlertFunc is invoked when a pending write is abandoned after exhausting
// its retry budget. It runs on the drain goroutine and must not block.
type AlertFunc func(pw types.PendingWrite)

var _ types.Store = (*Engine)(nil)

// Engine implements types.Store over either backend. In remote mode every
// write is mirrored into the local store first, so reads can fall back to
// the mirror when the remote service is unreachable.
type Engine struct {
	cfg      types.Config
	local    *sqlite.Store
	sessions *session.Store
	remote   types.RemoteTable
	alert    AlertFunc
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Option adjusts engine construction.
type Option func(*options)

type options struct {
	remote  types.RemoteTable
	alert   AlertFunc
	logger  *slog.Logger
	schemas []types.Schema
}

// WithRemote substitutes the remote table client. Remote mode without
// this option builds a Google Sheets client from config.
func WithRemote(r types.RemoteTable) Option {
	return func(o *options) { o.remote = r }
}

// WithAlertFunc registers the abandonment callback.
func WithAlertFunc(fn AlertFunc) Option {
	return func(o *options) { o.alert = fn }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSchemas registers entity schemas beyond the built-in set.
func WithSchemas(schemas ...types.Schema) Option {
	return func(o *options) { o.schemas = schemas }
}

// New builds an engine from config. The drain worker is not running until
// Start is called.
func New(ctx context.Context, cfg types.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	schemas := types.BuiltinSchemas()
	schemas = append(schemas, o.schemas...)

	local, err := sqlite.Open(cfg.DataDir, schemas)
	if err != nil {
		return nil, err
	}
	sessions, err := session.Open(cfg.SessionPath)
	if err != nil {
		local.Close()
		return nil, err
	}

	remote := o.remote
	if remote == nil && cfg.Backend == types.BackendRemote {
		byType := make(map[string]types.Schema, len(schemas))
		for _, sc := range schemas {
			byType[sc.EntityType] = sc
		}
		remote, err = sheets.New(ctx, cfg, byType)
		if err != nil {
			sessions.Close()
			local.Close()
			return nil, err
		}
	}

	e := &Engine{
		cfg:      cfg,
		local:    local,
		sessions: sessions,
		remote:   remote,
		alert:    o.alert,
		logger:   o.logger,
	}

	// Entries left in flight by a crashed process go back to queued.
	n, err := local.ReclaimInFlight(ctx)
	if err != nil {
		e.closeStores()
		return nil, err
	}
	if n > 0 {
		e.logger.Info("reclaimed in-flight pending writes", "count", n)
	}
	return e, nil
}

// Start launches the background drain worker. It is a no-op in local mode
// and when already started.
func (e *Engine) Start(ctx context.Context) {
	if e.remote == nil || e.done != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.drainLoop(ctx)
}

// Close stops the drain worker and releases both stores.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
		<-e.done
		e.cancel = nil
		e.done = nil
	}
	return e.closeStores()
}

func (e *Engine) closeStores() error {
	return errors.Join(e.sessions.Close(), e.local.Close())
}

// Sessions exposes the session store for token-based lookups.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// Local exposes the local store. Remote mode uses it as a read mirror and
// the sync command reads from it directly.
func (e *Engine) Local() *sqlite.Store {
	return e.local
}

// Create stores a new record and returns its identifier. In remote mode a
// retryable remote failure still returns success: the write is queued
// durably and replayed in the background.
func (e *Engine) Create(ctx context.Context, entityType string, rec types.Record) (string, error) {
	if entityType == types.EntitySessions {
		return e.sessionCreate(ctx, rec)
	}

	if e.remoteMode() {
		// Encode up front so a malformed record fails synchronously
		// instead of from the drain worker.
		schema, err := e.local.Schema(entityType)
		if err != nil {
			return "", err
		}
		if _, err := codec.Encode(rec, schema); err != nil {
			return "", err
		}
	}

	id, err := e.local.Create(ctx, entityType, rec)
	if err != nil {
		return "", err
	}
	if !e.remoteMode() {
		return id, nil
	}

	full, err := e.local.Read(ctx, entityType, id)
	if err != nil {
		return "", err
	}
	row, err := e.encode(entityType, full)
	if err != nil {
		return "", err
	}

	if err := e.remote.AppendRow(ctx, entityType, row); err != nil {
		if !types.IsRetryable(err) {
			// The mirror write never happened as far as the caller is
			// concerned.
			_ = e.local.Delete(ctx, entityType, id)
			return "", err
		}
		if _, qerr := e.local.UpsertPending(ctx, entityType, id, types.OpCreate, full); qerr != nil {
			return "", qerr
		}
		e.logger.Warn("create queued for replay",
			"entity_type", entityType, "id", id, "cause", err)
		return id, nil
	}
	if err := e.resolvePending(ctx, entityType, id, types.OpCreate, full); err != nil {
		return "", err
	}
	return id, nil
}

// Read fetches a record by identifier. Unreplayed pending writes overlay
// the remote view so a caller always reads its own writes.
func (e *Engine) Read(ctx context.Context, entityType, id string) (types.Record, error) {
	if entityType == types.EntitySessions {
		return e.sessionRead(ctx, id)
	}
	if !e.remoteMode() {
		return e.local.Read(ctx, entityType, id)
	}

	pw, err := e.local.GetPending(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	if pw != nil {
		if pw.Op == types.OpDelete {
			return nil, fmt.Errorf("reading %s %s: %w", entityType, id, types.ErrNotFound)
		}
		return pw.Payload.Clone(), nil
	}

	rec, err := e.remoteRead(ctx, entityType, id)
	if err != nil {
		if types.IsRetryable(err) {
			e.logger.Warn("remote read failed, serving local mirror",
				"entity_type", entityType, "id", id, "cause", err)
			return e.local.Read(ctx, entityType, id)
		}
		if errors.Is(err, types.ErrNotFound) {
			// An abandoned write keeps its record visible, stale, until
			// an operator intervenes.
			if stale := e.abandonedOverlay(ctx, entityType, id); stale != nil {
				return stale, nil
			}
		}
		return nil, err
	}
	return rec, nil
}

// abandonedOverlay returns the payload of the newest abandoned non-delete
// entry for the identifier, or nil.
func (e *Engine) abandonedOverlay(ctx context.Context, entityType, id string) types.Record {
	pending, err := e.local.ListPending(ctx, entityType)
	if err != nil {
		return nil
	}
	var stale types.Record
	for _, pw := range pending {
		if pw.Status == types.StatusAbandoned && pw.RecordID == id && pw.Op != types.OpDelete {
			stale = pw.Payload.Clone()
		}
	}
	return stale
}

// resolvePending clears a leftover pending entry whose effect the
// foreground call just applied directly, so a later replay cannot clobber
// the newer remote state. A queued entry is removed outright; an entry
// claimed by the drain worker is superseded with the fresh op instead,
// which replays as an idempotent re-apply.
func (e *Engine) resolvePending(ctx context.Context, entityType, id string, op types.Op, payload types.Record) error {
	pw, err := e.local.GetPending(ctx, entityType, id)
	if err != nil || pw == nil {
		return err
	}
	if pw.Status == types.StatusQueued {
		removed, err := e.local.CancelQueued(ctx, entityType, id)
		if err != nil {
			return err
		}
		if removed {
			return nil
		}
		// Claimed between the lookup and the removal; fall through.
	}
	_, err = e.local.UpsertPending(ctx, entityType, id, op, payload)
	return err
}

// Update merges partial fields into an existing record. The identifier
// field cannot change.
func (e *Engine) Update(ctx context.Context, entityType, id string, partial types.Record) error {
	if entityType == types.EntitySessions {
		return e.sessionUpdate(ctx, id, partial)
	}
	if !e.remoteMode() {
		return e.local.Update(ctx, entityType, id, partial)
	}

	schema, err := e.local.Schema(entityType)
	if err != nil {
		return err
	}
	current, err := e.Read(ctx, entityType, id)
	if err != nil {
		return err
	}
	if newID, ok := partial[schema.IDField]; ok && fmt.Sprint(newID) != id {
		return fmt.Errorf("updating %s %s: %w", entityType, id, types.ErrInvalidID)
	}
	merged := current.Merge(partial)
	row, err := e.encode(entityType, merged)
	if err != nil {
		return err
	}

	prior, priorErr := e.local.Read(ctx, entityType, id)
	if err := e.local.Upsert(ctx, entityType, merged); err != nil {
		return err
	}

	if err := e.remote.UpdateRow(ctx, entityType, id, row); err != nil {
		if !types.IsRetryable(err) {
			if priorErr == nil {
				_ = e.local.Upsert(ctx, entityType, prior)
			} else {
				_ = e.local.Delete(ctx, entityType, id)
			}
			return err
		}
		if _, qerr := e.local.UpsertPending(ctx, entityType, id, types.OpUpdate, merged); qerr != nil {
			return qerr
		}
		e.logger.Warn("update queued for replay",
			"entity_type", entityType, "id", id, "cause", err)
		return nil
	}
	return e.resolvePending(ctx, entityType, id, types.OpUpdate, merged)
}

// Delete removes a record by identifier.
func (e *Engine) Delete(ctx context.Context, entityType, id string) error {
	if entityType == types.EntitySessions {
		return e.sessions.Delete(ctx, id)
	}
	if !e.remoteMode() {
		return e.local.Delete(ctx, entityType, id)
	}

	// Existence check against the overlaid view so deleting a record that
	// only exists as a pending create still works.
	prior, err := e.Read(ctx, entityType, id)
	if err != nil {
		return err
	}

	if err := e.local.Delete(ctx, entityType, id); err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}

	if err := e.remote.DeleteRow(ctx, entityType, id); err != nil {
		if !types.IsRetryable(err) {
			_ = e.local.Upsert(ctx, entityType, prior)
			return err
		}
		pw, qerr := e.local.UpsertPending(ctx, entityType, id, types.OpDelete, nil)
		if qerr != nil {
			return qerr
		}
		if pw != nil {
			e.logger.Warn("delete queued for replay",
				"entity_type", entityType, "id", id, "cause", err)
		}
		return nil
	}

	// A completed delete also clears any abandoned entries, which would
	// otherwise keep the record visible in the stale overlay.
	if _, err := e.local.ClearAbandoned(ctx, entityType, id); err != nil {
		return err
	}
	return e.resolvePending(ctx, entityType, id, types.OpDelete, nil)
}

// List returns records of an entity type matching the filter. In remote
// mode pending writes overlay the remote rows.
func (e *Engine) List(ctx context.Context, entityType string, filter map[string]any) ([]types.Record, error) {
	if entityType == types.EntitySessions {
		return e.sessionList(ctx, filter)
	}
	if !e.remoteMode() {
		return e.local.List(ctx, entityType, filter)
	}

	schema, err := e.local.Schema(entityType)
	if err != nil {
		return nil, err
	}
	rows, err := e.remote.ListRows(ctx, entityType)
	if err != nil {
		if types.IsRetryable(err) {
			e.logger.Warn("remote list failed, serving local mirror",
				"entity_type", entityType, "cause", err)
			return e.local.List(ctx, entityType, filter)
		}
		return nil, err
	}

	byID := make(map[string]types.Record, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		rec := codec.Decode(row, schema)
		idVal, ok := rec[schema.IDField]
		if !ok {
			continue
		}
		id := fmt.Sprint(idVal)
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = rec
	}

	pending, err := e.local.ListPending(ctx, entityType)
	if err != nil {
		return nil, err
	}
	for _, pw := range pending {
		if pw.Status == types.StatusAbandoned {
			// Stale overlay: visible only where the remote has nothing
			// fresher, and an abandoned delete never hides remote data.
			if pw.Op == types.OpDelete {
				continue
			}
			if _, seen := byID[pw.RecordID]; !seen {
				order = append(order, pw.RecordID)
				byID[pw.RecordID] = pw.Payload.Clone()
			}
			continue
		}
		if pw.Op == types.OpDelete {
			delete(byID, pw.RecordID)
			continue
		}
		if _, seen := byID[pw.RecordID]; !seen {
			order = append(order, pw.RecordID)
		}
		byID[pw.RecordID] = pw.Payload.Clone()
	}

	out := make([]types.Record, 0, len(byID))
	for _, id := range order {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		if sqlite.MatchesFilter(rec, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// PendingCount reports queue depth by status, for the check and sync
// commands.
func (e *Engine) PendingCount(ctx context.Context, status types.PendingStatus) (int, error) {
	return e.local.CountPending(ctx, status)
}

func (e *Engine) remoteMode() bool {
	return e.cfg.Backend == types.BackendRemote && e.remote != nil
}

func (e *Engine) encode(entityType string, rec types.Record) ([]string, error) {
	schema, err := e.local.Schema(entityType)
	if err != nil {
		return nil, err
	}
	return codec.Encode(rec, schema)
}

func (e *Engine) remoteRead(ctx context.Context, entityType, id string) (types.Record, error) {
	schema, err := e.local.Schema(entityType)
	if err != nil {
		return nil, err
	}
	rows, err := e.remote.ListRows(ctx, entityType)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		rec := codec.Decode(row, schema)
		if fmt.Sprint(rec[schema.IDField]) == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("reading %s %s: %w", entityType, id, types.ErrNotFound)
}

func (e *Engine) sessionCreate(ctx context.Context, rec types.Record) (string, error) {
	sess, err := sessionFromRecord(rec)
	if err != nil {
		return "", err
	}
	if sess.ID == "" {
		sess.ID = types.NewID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if err := e.sessions.Put(ctx, sess); err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (e *Engine) sessionRead(ctx context.Context, id string) (types.Record, error) {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return recordFromSession(sess), nil
}

func (e *Engine) sessionUpdate(ctx context.Context, id string, partial types.Record) error {
	sess, err := e.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	merged := recordFromSession(sess).Merge(partial)
	next, err := sessionFromRecord(merged)
	if err != nil {
		return err
	}
	if next.ID != id {
		return fmt.Errorf("updating session %s: %w", id, types.ErrInvalidID)
	}
	return e.sessions.Put(ctx, next)
}

func (e *Engine) sessionList(ctx context.Context, filter map[string]any) ([]types.Record, error) {
	all, err := e.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Record, 0, len(all))
	for _, sess := range all {
		rec := recordFromSession(sess)
		if sqlite.MatchesFilter(rec, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func sessionFromRecord(rec types.Record) (types.Session, error) {
	var sess types.Session
	if v, ok := rec["id"]; ok {
		sess.ID = fmt.Sprint(v)
	}
	if v, ok := rec["user_id"]; ok {
		sess.UserID = fmt.Sprint(v)
	}
	if v, ok := rec["claims"]; ok {
		claims, ok := v.(map[string]string)
		if !ok {
			return types.Session{}, fmt.Errorf("session claims: %w", types.ErrSchemaMismatch)
		}
		sess.Claims = claims
	}
	for field, dst := range map[string]*time.Time{
		"expires_at": &sess.ExpiresAt,
		"created_at": &sess.CreatedAt,
	} {
		v, ok := rec[field]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case time.Time:
			*dst = t
		case string:
			parsed, err := time.Parse(types.TimeFormat, t)
			if err != nil {
				return types.Session{}, fmt.Errorf("session %s: %w", field, types.ErrSchemaMismatch)
			}
			*dst = parsed
		default:
			return types.Session{}, fmt.Errorf("session %s: %w", field, types.ErrSchemaMismatch)
		}
	}
	if sess.ExpiresAt.IsZero() {
		return types.Session{}, fmt.Errorf("session expires_at: %w", types.ErrSchemaMismatch)
	}
	return sess, nil
}

func recordFromSession(sess types.Session) types.Record {
	rec := types.Record{
		"id":         sess.ID,
		"user_id":    sess.UserID,
		"expires_at": sess.ExpiresAt,
		"created_at": sess.CreatedAt,
	}
	if sess.Claims != nil {
		rec["claims"] = sess.Claims
	}
	return rec
}
