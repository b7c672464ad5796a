package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tangentland/elile-sub002/internal/cache"
	"github.com/tangentland/elile-sub002/internal/idgen"
)

// PersistCachedResult writes the durable-of-record copy of a cache row to
// Postgres (spec.md §3 "CachedResult"). internal/cache owns the hot Redis
// path and its own TTL-driven expiry; this table keeps the durable copy,
// matching the teacher's two-tier cache shape adapted to this domain (see
// DESIGN.md's redis/go-redis/v9 entry). Nothing in this module reads it back
// into Redis.
func (s *Store) PersistCachedResult(ctx context.Context, scope, tenantID string, r cache.Result) error {
	id := idgen.New()
	var tenantScope sql.NullString
	if scope == string(cache.ScopeTenant) {
		tenantScope = sql.NullString{String: tenantID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_results
			(id, entity_id, provider_id, check_type, data_origin, tenant_scope, acquired_at, fresh_until, stale_until, raw_encrypted, normalized, cost)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, id, r.EntityID, r.ProviderID, r.CheckType, r.DataOrigin, tenantScope, r.AcquiredAt, r.FreshUntil, r.StaleUntil, r.RawEncrypted, []byte(r.Normalized), r.Cost)
	return err
}

// LatestCachedResult returns the most recently written durable row for
// (entity, check, scope). Nothing in this module calls it.
func (s *Store) LatestCachedResult(ctx context.Context, entityID, checkType, scope, tenantID string) (cache.Result, bool, error) {
	var row *sql.Row
	if scope == string(cache.ScopeShared) {
		row = s.db.QueryRowContext(ctx, `
			SELECT entity_id, provider_id, check_type, data_origin, acquired_at, fresh_until, stale_until, raw_encrypted, normalized, cost
			FROM cached_results
			WHERE entity_id = $1 AND check_type = $2 AND tenant_scope IS NULL
			ORDER BY acquired_at DESC
			LIMIT 1
		`, entityID, checkType)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT entity_id, provider_id, check_type, data_origin, acquired_at, fresh_until, stale_until, raw_encrypted, normalized, cost
			FROM cached_results
			WHERE entity_id = $1 AND check_type = $2 AND tenant_scope = $3
			ORDER BY acquired_at DESC
			LIMIT 1
		`, entityID, checkType, tenantID)
	}

	var (
		r             cache.Result
		normalizedRaw []byte
		acquiredAt    time.Time
		freshUntil    time.Time
		staleUntil    time.Time
	)
	if err := row.Scan(&r.EntityID, &r.ProviderID, &r.CheckType, &r.DataOrigin, &acquiredAt, &freshUntil, &staleUntil, &r.RawEncrypted, &normalizedRaw, &r.Cost); err != nil {
		if err == sql.ErrNoRows {
			return cache.Result{}, false, nil
		}
		return cache.Result{}, false, err
	}
	r.AcquiredAt = acquiredAt.UTC()
	r.FreshUntil = freshUntil.UTC()
	r.StaleUntil = staleUntil.UTC()
	r.Normalized = json.RawMessage(normalizedRaw)
	return r, true, nil
}
