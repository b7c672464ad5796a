// Package planner implements the query planner/executor/refiner that
// drives each SAR cycle's SEARCH step (spec.md §4.F steps 1 and 3):
// enumerate candidate (provider, check, params) tuples, dedupe, filter
// by the request's compliance grant, execute through the cache-aside
// layer and the provider router, and turn results into sar.Fact values
// for the ASSESS step. Gap-targeted refinement queries are produced the
// same way, scoped to the gap kinds REFINE identified.
package planner

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tangentland/elile-sub002/internal/cache"
	"github.com/tangentland/elile-sub002/internal/cost"
	"github.com/tangentland/elile-sub002/internal/provider"
	"github.com/tangentland/elile-sub002/internal/reqctx"
	"github.com/tangentland/elile-sub002/internal/sar"
	"github.com/tangentland/elile-sub002/internal/secrets"
	"github.com/tangentland/elile-sub002/internal/store"
)

// Template is one entry of the static query catalog for an info type:
// the provider-agnostic check type to run and a param-builder that
// fills in subject-specific values at plan time. GapKinds, when
// non-empty, restricts this template to REFINE-driven targeted queries
// for those gap kinds; an empty GapKinds means the template always
// fires during the initial SEARCH enumeration.
type Template struct {
	CheckType string
	ParamsFn  func(subjectID string, attrs map[string]string) map[string]string
	GapKinds  []string
}

// Catalog maps each info type to its query templates. Built from
// configuration by the caller (cmd/orchestrator), not compiled in
// (spec.md §9).
type Catalog map[sar.InfoType][]Template

func (c Catalog) templatesFor(t sar.InfoType, gapKinds map[string]struct{}) []Template {
	var out []Template
	for _, tmpl := range c[t] {
		if len(tmpl.GapKinds) == 0 && gapKinds == nil {
			out = append(out, tmpl)
			continue
		}
		if gapKinds == nil {
			continue
		}
		for _, gk := range tmpl.GapKinds {
			if _, ok := gapKinds[gk]; ok {
				out = append(out, tmpl)
				break
			}
		}
	}
	return out
}

// Enumerate builds the deduplicated query list for infoType's initial
// SEARCH step, restricted to checks the request's grant permits (spec.md
// §4.F step 1 "Queries are deduplicated... Compliance and tier filters
// are applied before, not after, execution").
func Enumerate(catalog Catalog, infoType sar.InfoType, subjectID string, attrs map[string]string, rc *reqctx.RequestContext) []sar.Query {
	return enumerate(catalog, infoType, subjectID, attrs, rc, nil)
}

// EnumerateRefinement builds the targeted query list for REFINE's
// gap-driven loop-back, restricted to templates tagged with one of
// gaps' kinds (spec.md §4.F step 3 "REFINE").
func EnumerateRefinement(catalog Catalog, infoType sar.InfoType, subjectID string, attrs map[string]string, rc *reqctx.RequestContext, gaps []sar.Gap) []sar.Query {
	gapKinds := make(map[string]struct{}, len(gaps))
	for _, g := range gaps {
		gapKinds[g.Kind] = struct{}{}
	}
	return enumerate(catalog, infoType, subjectID, attrs, rc, gapKinds)
}

func enumerate(catalog Catalog, infoType sar.InfoType, subjectID string, attrs map[string]string, rc *reqctx.RequestContext, gapKinds map[string]struct{}) []sar.Query {
	permitted := make(map[string]struct{})
	for _, c := range rc.PermittedChecks() {
		permitted[c] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []sar.Query
	for _, tmpl := range catalog.templatesFor(infoType, gapKinds) {
		if _, ok := permitted[tmpl.CheckType]; !ok {
			continue
		}
		params := tmpl.ParamsFn(subjectID, attrs)
		q := sar.Query{CheckType: tmpl.CheckType, Params: params}
		key := q.CanonicalKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	return out
}

// Executor runs a query list through the cache-aside layer and, on a
// miss, the provider router; it records cost and returns normalized
// facts for the ASSESS step.
type Executor struct {
	cache       *cache.Cache
	router      *provider.Router
	costSvc     *cost.Service
	store       *store.Store
	secrets     *secrets.Manager
	concurrency int
}

// NewExecutor builds an Executor. concurrency bounds how many queries
// for a single info type run at once (spec.md §5 "bounded worker pool
// per phase", generalized to per-type execution). st and sm are both
// optional: a nil st skips durable persistence of cache writes (tests
// running against Redis alone), and a nil sm leaves RawEncrypted as the
// plaintext raw payload instead of AEAD-sealed ciphertext.
func NewExecutor(c *cache.Cache, r *provider.Router, cs *cost.Service, st *store.Store, sm *secrets.Manager, concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Executor{cache: c, router: r, costSvc: cs, store: st, secrets: sm, concurrency: concurrency}
}

// normalized is the subset of a provider Result's normalized payload
// this package understands how to turn into Facts; adapters that
// produce richer shapes are read generically via json.RawMessage
// fields and re-serialized into Fact.Value.
type normalizedFact struct {
	Key          string  `json:"key"`
	Value        string  `json:"value"`
	Confidence   float64 `json:"confidence"`
	Corroborated bool    `json:"corroborated"`
}

// Execute runs every query in queries concurrently (bounded by
// e.concurrency), consulting the cache first and falling through to
// the provider router on a miss, per spec.md §4.B step "check cache
// first" / §4.C "cache-aside". It returns the accumulated facts and a
// gap for every query that failed after cache+provider were both
// exhausted, plus counts for the ASSESS step's query_success ratio.
func (e *Executor) Execute(ctx context.Context, rc *reqctx.RequestContext, permittedSources map[string]struct{}, entityID, locale, degree string, queries []sar.Query) (facts []sar.Fact, gaps []sar.Gap, executed, succeeded int) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, q := range queries {
		q := q
		g.Go(func() error {
			fs, gap, ok := e.executeOne(gctx, rc, permittedSources, entityID, locale, degree, q)
			mu.Lock()
			defer mu.Unlock()
			executed++
			if ok {
				succeeded++
				facts = append(facts, fs...)
			} else if gap != nil {
				gaps = append(gaps, *gap)
			}
			return nil // query-level failures degrade gracefully into gaps, never abort the group
		})
	}
	_ = g.Wait()
	return facts, gaps, executed, succeeded
}

func (e *Executor) executeOne(ctx context.Context, rc *reqctx.RequestContext, permittedSources map[string]struct{}, entityID, locale, degree string, q sar.Query) ([]sar.Fact, *sar.Gap, bool) {
	scope := cache.ScopeShared
	if rc.CacheScope == reqctx.CacheScopeTenant {
		scope = cache.ScopeTenant
	}

	refresh := func(rctx context.Context, stale cache.Result) {
		e.refreshOne(rctx, scope, rc.TenantID, entityID, locale, degree, string(rc.Tier), permittedSources, q)
	}

	if cached, ok, err := e.cache.LookupAndMaybeRefresh(ctx, entityID, q.CheckType, scope, rc.TenantID, string(rc.Tier), refresh); err == nil && ok {
		return factsFromNormalized(cached.Normalized, cached.ProviderID), nil, true
	}

	if err := rc.AssertCheckPermitted(q.CheckType); err != nil {
		return nil, &sar.Gap{Kind: q.CheckType, Detail: "not permitted under compliance grant"}, false
	}

	result, err := e.router.Execute(ctx, q.CheckType, entityID, locale, degree, string(rc.Tier), permittedSources)
	if err != nil {
		return nil, &sar.Gap{Kind: q.CheckType, Detail: err.Error()}, false
	}

	if e.costSvc != nil && result.Cost > 0 {
		e.costSvc.RecordSpend(rc.TenantID, result.ProviderID, result.CheckType, result.Cost)
	}

	e.writeBack(ctx, scope, rc.TenantID, entityID, result)

	return factsFromNormalized(result.Normalized, result.ProviderID), nil, true
}

// writeBack persists a fresh provider result into the cache-aside layer
// and, when a durable store is configured, into Postgres (spec.md §4.C
// "Write policy: on a successful provider query, a new row is written").
// Failures are logged, not returned: the original read that triggered
// this query already succeeded and must not fail on its account.
func (e *Executor) writeBack(ctx context.Context, scope cache.Scope, tenantID, entityID string, result provider.Result) {
	now := time.Now()
	row := cache.Result{
		EntityID:     entityID,
		ProviderID:   result.ProviderID,
		CheckType:    result.CheckType,
		DataOrigin:   cache.OriginPaidExternal,
		AcquiredAt:   now,
		RawEncrypted: e.sealRaw(result.Raw),
		Normalized:   json.RawMessage(result.Normalized),
		Cost:         result.Cost,
	}
	if scope == cache.ScopeTenant {
		row.TenantScope = tenantID
	}
	if policy, ok := e.cache.Policy(result.CheckType); ok {
		row.FreshUntil = now.Add(policy.FreshWindow)
		if policy.StaleWindow > 0 {
			row.StaleUntil = now.Add(policy.StaleWindow)
		}
	} else {
		row.FreshUntil = now
	}

	if err := e.cache.Write(ctx, scope, tenantID, row); err != nil {
		log.Printf("planner: cache write-back failed for %s/%s: %v", entityID, result.CheckType, err)
	}
	if e.store != nil {
		if err := e.store.PersistCachedResult(ctx, string(scope), tenantID, row); err != nil {
			log.Printf("planner: durable persist failed for %s/%s: %v", entityID, result.CheckType, err)
		}
	}
}

// sealRaw encrypts the provider's raw payload under the configured
// secrets.Manager, if any (spec.md §3/§6 "raw provider payloads are
// encrypted at rest"). Without a manager configured the raw bytes pass
// through unencrypted, matching the teacher's dev-mode posture elsewhere
// in this tree rather than silently dropping the payload.
func (e *Executor) sealRaw(raw []byte) []byte {
	if e.secrets == nil || len(raw) == 0 {
		return raw
	}
	sealed, err := e.secrets.EncryptPayload(raw)
	if err != nil {
		log.Printf("planner: raw payload encryption failed, storing unsealed: %v", err)
		return raw
	}
	return sealed
}

// refreshOne re-runs a query against the provider router and writes the
// result back to cache+store, asynchronously and best-effort, queued by
// LookupAndMaybeRefresh when a STALE row is served under USE_AND_FLAG
// (spec.md §4.C, §8 invariant 4).
func (e *Executor) refreshOne(ctx context.Context, scope cache.Scope, tenantID, entityID, locale, degree, tier string, permittedSources map[string]struct{}, q sar.Query) {
	result, err := e.router.Execute(ctx, q.CheckType, entityID, locale, degree, tier, permittedSources)
	if err != nil {
		log.Printf("planner: background refresh failed for %s/%s: %v", entityID, q.CheckType, err)
		return
	}
	if e.costSvc != nil && result.Cost > 0 {
		e.costSvc.RecordSpend(tenantID, result.ProviderID, result.CheckType, result.Cost)
	}
	e.writeBack(ctx, scope, tenantID, entityID, result)
}

func factsFromNormalized(raw json.RawMessage, providerID string) []sar.Fact {
	if len(raw) == 0 {
		return nil
	}
	var entries []normalizedFact
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	facts := make([]sar.Fact, 0, len(entries))
	for _, e := range entries {
		facts = append(facts, sar.Fact{
			Key:          e.Key,
			Value:        e.Value,
			Source:       providerID,
			Confidence:   e.Confidence,
			Corroborated: e.Corroborated,
		})
	}
	return facts
}
