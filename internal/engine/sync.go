package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/yln-platform/sheetstore/internal/codec"
	"github.com/yln-platform/sheetstore/pkg/types"
)

// SyncResult reports one entity type's bulk sync outcome.
type SyncResult struct {
	Synced int
	Errors int
}

// SyncAll pushes every local record of the given entity types to the
// remote backend as an identifier-keyed overwrite. With no entity types
// given it syncs every registered schema. Per-row failures are counted
// and logged rather than aborting the pass.
func (e *Engine) SyncAll(ctx context.Context, entityTypes ...string) (map[string]SyncResult, error) {
	if e.remote == nil {
		return nil, fmt.Errorf("syncing: remote backend not configured")
	}
	if len(entityTypes) == 0 {
		for _, schema := range e.local.Schemas() {
			entityTypes = append(entityTypes, schema.EntityType)
		}
	}

	results := make(map[string]SyncResult, len(entityTypes))
	for _, entityType := range entityTypes {
		schema, err := e.local.Schema(entityType)
		if err != nil {
			return results, err
		}
		if err := e.remote.EnsureWorksheet(ctx, entityType, schema); err != nil {
			return results, err
		}

		recs, err := e.local.List(ctx, entityType, nil)
		if err != nil {
			return results, err
		}

		var res SyncResult
		for _, rec := range recs {
			id := fmt.Sprint(rec[schema.IDField])
			row, err := codec.Encode(rec, schema)
			if err != nil {
				res.Errors++
				e.logger.Error("sync encode failed",
					"entity_type", entityType, "id", id, "cause", err)
				continue
			}
			if err := e.remote.UpdateRow(ctx, entityType, id, row); err != nil {
				res.Errors++
				e.logger.Error("sync push failed",
					"entity_type", entityType, "id", id, "cause", err)
				continue
			}
			res.Synced++
		}
		results[entityType] = res
		e.logger.Info("entity type synced",
			"entity_type", entityType, "synced", res.Synced, "errors", res.Errors)
	}
	return results, nil
}

// SeedAdmin creates a verified admin user when no user carries the given
// email. The credential string is stored opaquely; hashing is the
// caller's concern. Returns the admin's identifier and whether a record
// was created.
func (e *Engine) SeedAdmin(ctx context.Context, email, passwordHash string) (string, bool, error) {
	if email == "" {
		return "", false, fmt.Errorf("seeding admin: email is required")
	}

	existing, err := e.List(ctx, types.EntityUsers, map[string]any{"email": email})
	if err != nil {
		return "", false, err
	}
	if len(existing) > 0 {
		schema, err := e.local.Schema(types.EntityUsers)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprint(existing[0][schema.IDField]), false, nil
	}

	id, err := e.Create(ctx, types.EntityUsers, types.Record{
		"email":         email,
		"password_hash": passwordHash,
		"role":          "admin",
		"is_verified":   true,
		"created_at":    time.Now().UTC(),
	})
	if err != nil {
		return "", false, err
	}
	e.logger.Info("admin user seeded", "id", id, "email", email)
	return id, true, nil
}
