// Package cache implements the cache-aside layer with freshness and
// tenant-isolation semantics for provider check results (spec.md §4.C).
// Redis is the hot-path store; the durable record of a CachedResult
// lives in internal/store (Postgres) and is written by the same caller
// that writes here, so this package only owns the fast-read path and
// the freshness/tier-policy decision.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tangentland/elile-sub002/internal/errors"
)

// State is the freshness state of a cached result at read time
// (spec.md §4.C).
type State string

const (
	StateFresh   State = "FRESH"
	StateStale   State = "STALE"
	StateExpired State = "EXPIRED"
	StateAbsent  State = "ABSENT"
)

// Action is the tier-aware decision for a STALE row (spec.md §4.C
// tier-policy matrix).
type Action string

const (
	ActionUseAndFlag     Action = "USE_AND_FLAG"
	ActionBlockAndRefresh Action = "BLOCK_AND_REFRESH"
)

// DataOrigin distinguishes a shared paid-external row from a
// tenant-isolated customer-provided row (spec.md §3 CachedResult,
// §4.C Key).
type DataOrigin string

const (
	OriginPaidExternal     DataOrigin = "PAID_EXTERNAL"
	OriginCustomerProvided DataOrigin = "CUSTOMER_PROVIDED"
)

// Scope selects which partition a lookup may read, mirrors
// reqctx.CacheScope without importing it (this package is lower-level).
type Scope string

const (
	ScopeShared Scope = "shared"
	ScopeTenant Scope = "tenant"
)

// Result is a cached provider result (spec.md §3 CachedResult). RawEncrypted
// holds the authenticated-encryption ciphertext of the raw provider
// payload; Normalized is the canonical, queryable shape.
type Result struct {
	EntityID    string          `json:"entity_id"`
	ProviderID  string          `json:"provider_id"`
	CheckType   string          `json:"check_type"`
	DataOrigin  DataOrigin      `json:"data_origin"`
	TenantScope string          `json:"tenant_scope,omitempty"`
	AcquiredAt  time.Time       `json:"acquired_at"`
	FreshUntil  time.Time       `json:"fresh_until"`
	StaleUntil  time.Time       `json:"stale_until"`
	RawEncrypted []byte         `json:"raw_encrypted"`
	Normalized  json.RawMessage `json:"normalized"`
	Cost        float64         `json:"cost"`
}

// FreshnessPolicy is the per-check-type freshness/stale window pair
// (spec.md §4.C "Freshness policy").
type FreshnessPolicy struct {
	FreshWindow time.Duration
	StaleWindow time.Duration // 0 = unbounded (education has no stale upper bound)
}

// TierPolicyMatrix maps check-type to the Action taken for a STALE row
// at a given tier. Missing an entry for a check-type is a loud
// configuration error (spec.md §9 Open Questions item 2), never a
// silent default — callers must call Validate against the full catalog
// of check types at startup.
type TierPolicyMatrix struct {
	// entries[checkType][tier] = Action
	entries map[string]map[string]Action
}

// NewTierPolicyMatrix builds a matrix from loaded configuration.
func NewTierPolicyMatrix(entries map[string]map[string]Action) *TierPolicyMatrix {
	return &TierPolicyMatrix{entries: entries}
}

// Validate ensures every checkType in the catalog has an entry for
// every tier in tiers. Returns InternalInvariant on the first gap found.
func (m *TierPolicyMatrix) Validate(checkTypes, tiers []string) error {
	for _, ct := range checkTypes {
		tierMap, ok := m.entries[ct]
		if !ok {
			return errors.InternalInvariant(fmt.Sprintf("tier-policy matrix missing check type %q", ct))
		}
		for _, tier := range tiers {
			if _, ok := tierMap[tier]; !ok {
				return errors.InternalInvariant(fmt.Sprintf("tier-policy matrix missing (%q, %q)", ct, tier))
			}
		}
	}
	return nil
}

// Action returns the configured action for (checkType, tier). Callers
// must have called Validate at startup; Action panics on a gap because
// that represents the loud configuration error Validate exists to
// catch before any request reaches this path.
func (m *TierPolicyMatrix) Action(checkType, tier string) Action {
	tierMap, ok := m.entries[checkType]
	if !ok {
		panic(fmt.Sprintf("cache: no tier-policy entry for check type %q", checkType))
	}
	action, ok := tierMap[tier]
	if !ok {
		panic(fmt.Sprintf("cache: no tier-policy entry for (%q, %q)", checkType, tier))
	}
	return action
}

// RefreshFunc is invoked asynchronously, best-effort, when a STALE row
// is served under USE_AND_FLAG (spec.md §4.C). Errors are logged by the
// caller, not returned, since the original read already succeeded.
type RefreshFunc func(ctx context.Context, r Result)

// Cache is the Redis-backed cache-aside layer.
type Cache struct {
	rdb     *redis.Client
	policy  map[string]FreshnessPolicy
	tiers   *TierPolicyMatrix
}

// New builds a Cache over an existing Redis client, the per-check-type
// freshness policy, and the tier-policy matrix.
func New(rdb *redis.Client, policy map[string]FreshnessPolicy, tiers *TierPolicyMatrix) *Cache {
	return &Cache{rdb: rdb, policy: policy, tiers: tiers}
}

func key(entityID, checkType string, scope Scope, tenantID string) string {
	if scope == ScopeTenant {
		return fmt.Sprintf("cache:%s:%s:%s:%s", tenantID, entityID, checkType, "tenant")
	}
	return fmt.Sprintf("cache:shared:%s:%s", entityID, checkType)
}

// Lookup reads the cache-aside row for (entityID, checkType, scope).
// A shared-scope lookup never surfaces a CustomerProvided row — the
// data-origin check happens before the scope check, fail closed
// (spec.md §4.C, §8 invariant 5).
func (c *Cache) Lookup(ctx context.Context, entityID, checkType string, scope Scope, tenantID string) (Result, State, error) {
	raw, err := c.rdb.Get(ctx, key(entityID, checkType, scope, tenantID)).Bytes()
	if err == redis.Nil {
		return Result{}, StateAbsent, nil
	}
	if err != nil {
		return Result{}, StateAbsent, errors.DataIntegrity("cached_result", err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, StateAbsent, errors.DataIntegrity("cached_result", err)
	}

	if scope == ScopeShared && result.DataOrigin == OriginCustomerProvided {
		return Result{}, StateAbsent, errors.InternalInvariant(
			"shared cache lookup surfaced a customer-provided row; refusing to return it")
	}

	now := time.Now()
	switch {
	case now.Before(result.FreshUntil) || now.Equal(result.FreshUntil):
		return result, StateFresh, nil
	case result.StaleUntil.IsZero() || now.Before(result.StaleUntil) || now.Equal(result.StaleUntil):
		return result, StateStale, nil
	default:
		return result, StateExpired, nil
	}
}

// LookupAndMaybeRefresh wraps Lookup with the tier-aware STALE handling
// from spec.md §4.C: a STALE row under USE_AND_FLAG is returned
// immediately with an asynchronous, best-effort refresh queued (not
// awaited); under BLOCK_AND_REFRESH, ok is false so the caller falls
// through to a provider query.
func (c *Cache) LookupAndMaybeRefresh(ctx context.Context, entityID, checkType string, scope Scope, tenantID, tier string, refresh RefreshFunc) (Result, bool, error) {
	result, state, err := c.Lookup(ctx, entityID, checkType, scope, tenantID)
	if err != nil {
		return Result{}, false, err
	}

	switch state {
	case StateFresh:
		return result, true, nil
	case StateStale:
		if c.tiers.Action(checkType, tier) == ActionUseAndFlag {
			if refresh != nil {
				go refresh(context.WithoutCancel(ctx), result)
			}
			return result, true, nil
		}
		return Result{}, false, nil
	default:
		return Result{}, false, nil
	}
}

// Write stores a new row, never updating in place (spec.md §4.C "Write
// policy"). The row's Redis TTL is set to the stale window so expired
// rows are reclaimed automatically; the durable copy in internal/store
// has no such expiry. Last-writer-wins keyed by AcquiredAt (spec.md §5
// "Cache layer" shared-resource policy) is enforced by simply writing:
// Redis SET always replaces, and callers only call Write after a
// successful provider query with a later AcquiredAt than anything
// already cached.
func (c *Cache) Write(ctx context.Context, scope Scope, tenantID string, r Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return errors.Internal("marshal cached result", err)
	}

	ttl := time.Duration(0)
	if !r.StaleUntil.IsZero() {
		ttl = time.Until(r.StaleUntil)
		if ttl < 0 {
			ttl = time.Minute
		}
	}

	if err := c.rdb.Set(ctx, key(r.EntityID, r.CheckType, scope, tenantID), raw, ttl).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "write cached result", 500, err).
			WithDetails("entity_id", r.EntityID).WithDetails("check_type", r.CheckType)
	}
	return nil
}

// Policy returns the freshness policy for checkType. The bool reports
// whether an entry was configured.
func (c *Cache) Policy(checkType string) (FreshnessPolicy, bool) {
	p, ok := c.policy[checkType]
	return p, ok
}

// DefaultFreshnessPolicies returns the spec.md §4.C default freshness
// windows. Stale windows are set to 3x the freshness window except
// where the spec calls out a specific multiplier or "no upper bound".
func DefaultFreshnessPolicies() map[string]FreshnessPolicy {
	day := 24 * time.Hour
	return map[string]FreshnessPolicy{
		"sanctions":     {FreshWindow: 0, StaleWindow: 0},
		"adverse_media": {FreshWindow: day, StaleWindow: 3 * day},
		"criminal":      {FreshWindow: 7 * day, StaleWindow: 21 * day},
		"civil":         {FreshWindow: 14 * day, StaleWindow: 42 * day},
		"credit":        {FreshWindow: 30 * day, StaleWindow: 90 * day},
		"corporate":     {FreshWindow: 30 * day, StaleWindow: 90 * day},
		"osint":         {FreshWindow: 30 * day, StaleWindow: 90 * day},
		"employment":    {FreshWindow: 90 * day, StaleWindow: 270 * day},
		"behavioral":    {FreshWindow: 90 * day, StaleWindow: 270 * day},
		"education":     {FreshWindow: 365 * day, StaleWindow: 0},
	}
}

// DefaultTierPolicy returns the spec.md §4.C illustrative tier-policy
// matrix.
func DefaultTierPolicy() *TierPolicyMatrix {
	return NewTierPolicyMatrix(map[string]map[string]Action{
		"sanctions":     {"standard": ActionBlockAndRefresh, "enhanced": ActionBlockAndRefresh},
		"criminal":      {"standard": ActionUseAndFlag, "enhanced": ActionBlockAndRefresh},
		"adverse_media": {"standard": ActionUseAndFlag, "enhanced": ActionBlockAndRefresh},
		"civil":         {"standard": ActionUseAndFlag, "enhanced": ActionUseAndFlag},
		"credit":        {"standard": ActionUseAndFlag, "enhanced": ActionUseAndFlag},
		"employment":    {"standard": ActionUseAndFlag, "enhanced": ActionUseAndFlag},
		"education":     {"standard": ActionUseAndFlag, "enhanced": ActionUseAndFlag},
		"corporate":     {"standard": ActionUseAndFlag, "enhanced": ActionUseAndFlag},
		"behavioral":    {"enhanced": ActionUseAndFlag},
		"osint":         {"enhanced": ActionUseAndFlag},
	})
}
