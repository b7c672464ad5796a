// Package provider implements the provider registry and router
// (spec.md §4.B). Providers are registered with capability metadata;
// the router selects a primary + fallback list per (check, context),
// applies per-provider rate limiting and circuit breaking, and
// classifies failures into transient (retry, then fallback) or
// permanent (circuit-open, fallback immediately).
package provider

import (
	"context"
	"sort"
	"time"

	"github.com/tangentland/elile-sub002/internal/errors"
	"github.com/tangentland/elile-sub002/internal/fallback"
	"github.com/tangentland/elile-sub002/internal/ratelimit"
	"github.com/tangentland/elile-sub002/internal/resilience"
)

// Category is the provider tier-eligibility category (spec.md §4.B).
type Category string

const (
	CategoryCore    Category = "CORE"
	CategoryPremium Category = "PREMIUM"
)

// Health is a provider's current health snapshot, used for selection
// ordering (spec.md §4.B "Registry").
type Health struct {
	CircuitState resilience.State
	ErrorRate    float64
	P95Latency   time.Duration
}

// Metadata describes a registered provider (spec.md §6 "Provider
// adapter interface" declared metadata).
type Metadata struct {
	ID               string
	Category         Category
	SupportedChecks  []string
	SupportedLocales []string
	CostTier         float64
}

func (m Metadata) supports(set []string, want string) bool {
	for _, v := range set {
		if v == want {
			return true
		}
	}
	return false
}

// Result is the canonical, normalized provider result shape. Adapters
// are responsible for producing this from source-specific payloads
// (spec.md §6).
type Result struct {
	ProviderID string
	CheckType  string
	Normalized []byte
	Raw        []byte // pre-encryption; caller encrypts before persisting
	Cost       float64
}

// Adapter is the capability interface a concrete provider integration
// implements (spec.md §6 "Provider adapter interface"). One adapter per
// external data source; no class hierarchy beyond this single
// interface (spec.md §9).
type Adapter interface {
	ExecuteCheck(ctx context.Context, checkType, subjectID, locale, degree string) (Result, error)
	HealthCheck(ctx context.Context) (Health, error)
}

type registration struct {
	meta    Metadata
	adapter Adapter
	breaker *resilience.CircuitBreaker
	limiter *ratelimit.RateLimiter
}

// Registry holds every registered provider and its resilience wiring.
type Registry struct {
	providers map[string]*registration
	errRates  map[string]float64
	latencies map[string]time.Duration
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*registration),
		errRates:  make(map[string]float64),
		latencies: make(map[string]time.Duration),
	}
}

// Register adds a provider with its own circuit breaker and rate
// limiter (spec.md §5 "Rate limiters & circuit breakers" — each is
// process-local, per-provider state, not a global singleton).
func (r *Registry) Register(meta Metadata, adapter Adapter, cbConfig resilience.Config, rlConfig ratelimit.RateLimitConfig) {
	r.providers[meta.ID] = &registration{
		meta:    meta,
		adapter: adapter,
		breaker: resilience.New(cbConfig),
		limiter: ratelimit.New(rlConfig),
	}
}

// RecordOutcome updates the rolling error-rate and p95-latency figures
// used to break selection ties (spec.md §4.B "Registry" selection
// ordering: "ties broken by lower error-rate then lower p95 latency").
// Callers feed this from completed calls; it is a simple decaying
// estimate, not a histogram, since the spec only requires an ordering
// signal, not precise quantiles.
func (r *Registry) RecordOutcome(providerID string, success bool, latency time.Duration) {
	const decay = 0.9
	prevErr := r.errRates[providerID]
	if success {
		r.errRates[providerID] = prevErr * decay
	} else {
		r.errRates[providerID] = prevErr*decay + (1 - decay)
	}
	prevLat := r.latencies[providerID]
	r.latencies[providerID] = time.Duration(float64(prevLat)*decay + float64(latency)*(1-decay))
}

// SelectCandidates computes the primary + fallbacks list for
// (checkType, locale, tier) filtered by permittedSources, per spec.md
// §4.B "Registry". OPEN-circuit providers are excluded; PREMIUM
// providers are excluded for the standard tier; remaining candidates
// are sorted by cost ascending, ties broken by error-rate then p95
// latency.
func (r *Registry) SelectCandidates(checkType, locale, tier string, permittedSources map[string]struct{}) []Metadata {
	var candidates []*registration
	for _, reg := range r.providers {
		if reg.breaker.State() == resilience.StateOpen {
			continue
		}
		if reg.meta.Category == CategoryPremium && tier != "enhanced" {
			continue
		}
		if !reg.meta.supports(reg.meta.SupportedChecks, checkType) {
			continue
		}
		if !reg.meta.supports(reg.meta.SupportedLocales, locale) {
			continue
		}
		if _, ok := permittedSources[reg.meta.ID]; !ok {
			continue
		}
		candidates = append(candidates, reg)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.meta.CostTier != b.meta.CostTier {
			return a.meta.CostTier < b.meta.CostTier
		}
		if r.errRates[a.meta.ID] != r.errRates[b.meta.ID] {
			return r.errRates[a.meta.ID] < r.errRates[b.meta.ID]
		}
		return r.latencies[a.meta.ID] < r.latencies[b.meta.ID]
	})

	out := make([]Metadata, len(candidates))
	for i, c := range candidates {
		out[i] = c.meta
	}
	return out
}

// FailureKind classifies a provider call failure (spec.md §4.B step 4).
type FailureKind string

const (
	FailureTransient FailureKind = "transient" // timeout, rate-limited, network
	FailurePermanent FailureKind = "permanent" // remote 4xx/auth/contract error
)

// Classify maps an adapter error to a FailureKind. Adapters that want
// precise classification should wrap their errors with
// errors.TransientProvider / errors.PermanentProvider; anything else
// defaults to transient, since retrying an unclassified error is safer
// than giving up on the first attempt.
func Classify(err error) FailureKind {
	if svcErr := errors.GetServiceError(err); svcErr != nil {
		if svcErr.Code == errors.ErrCodePermanentProvider {
			return FailurePermanent
		}
	}
	return FailureTransient
}

// RouterConfig bounds the retry-then-fallback behavior (spec.md §4.B
// step 4 defaults: 3 attempts, 200ms base, factor 2, jitter).
type RouterConfig struct {
	Retry            resilience.RetryConfig
	RateLimitBudget  time.Duration // how long a call waits on the rate limiter before failing fast
}

// DefaultRouterConfig returns the spec.md §4.B defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.2,
		},
		RateLimitBudget: 2 * time.Second,
	}
}

// Router executes the selection + retry + fallback algorithm.
type Router struct {
	registry *Registry
	config   RouterConfig
	fallback *fallback.Handler
}

// NewRouter builds a Router over registry.
func NewRouter(registry *Registry, cfg RouterConfig) *Router {
	return &Router{
		registry: registry,
		config:   cfg,
		fallback: fallback.NewHandler(fallback.Config{
			MaxAttempts: 1, // this handler's own retry loop is not used; resilience.Retry handles per-candidate retry
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
			Multiplier:  2.0,
			Jitter:      0.1,
		}),
	}
}

// ErrExhausted is returned when every candidate provider failed and the
// caller must mark the check incomplete (spec.md §4.B step 5).
var ErrExhausted = errors.New(errors.ErrCodeExternalAPI, "all candidate providers exhausted", 502)

// Execute runs the router algorithm for one (checkType, subjectID)
// against the candidate list computed from registry.SelectCandidates.
// It does not itself consult the cache (§4.C) or record cost (§4.D);
// those are the caller's responsibility around this call, per the
// router algorithm's steps 2 and 3 ("check cache first", "on success
// record cost, normalize, cache").
func (rt *Router) Execute(ctx context.Context, checkType, subjectID, locale, degree, tier string, permittedSources map[string]struct{}) (Result, error) {
	candidates := rt.registry.SelectCandidates(checkType, locale, tier, permittedSources)
	if len(candidates) == 0 {
		return Result{}, ErrExhausted
	}

	funcs := make([]fallback.Func, len(candidates))
	for i, meta := range candidates {
		meta := meta
		funcs[i] = func(ctx context.Context) (interface{}, error) {
			return rt.invokeWithRetry(ctx, meta, checkType, subjectID, locale, degree)
		}
	}

	res := rt.fallback.Execute(ctx, funcs[0], funcs[1:]...)
	if res.Err != nil {
		return Result{}, ErrExhausted
	}
	return res.Value.(Result), nil
}

// invokeWithRetry acquires the rate limiter, executes through the
// circuit breaker, and retries transient failures against the SAME
// candidate before giving up on it (spec.md §4.B step 4).
func (rt *Router) invokeWithRetry(ctx context.Context, meta Metadata, checkType, subjectID, locale, degree string) (Result, error) {
	reg := rt.registry.providers[meta.ID]

	waitCtx, cancel := context.WithTimeout(ctx, rt.config.RateLimitBudget)
	defer cancel()
	if err := reg.limiter.Wait(waitCtx); err != nil {
		return Result{}, errors.TransientProvider(meta.ID, err)
	}

	var result Result
	retryErr := resilience.Retry(ctx, rt.config.Retry, func() error {
		start := time.Now()
		cbErr := reg.breaker.Execute(ctx, func() error {
			r, err := reg.adapter.ExecuteCheck(ctx, checkType, subjectID, locale, degree)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		success := cbErr == nil
		rt.registry.RecordOutcome(meta.ID, success, time.Since(start))
		if cbErr == nil {
			return nil
		}
		if Classify(cbErr) == FailurePermanent {
			// Stops the retry loop for this candidate immediately; the
			// router moves on to the next candidate in the fallback list.
			return resilience.Permanent(cbErr)
		}
		return cbErr
	})

	if retryErr == nil {
		return result, nil
	}
	if Classify(retryErr) == FailurePermanent {
		return Result{}, errors.PermanentProvider(meta.ID, retryErr)
	}
	return Result{}, errors.TransientProvider(meta.ID, retryErr)
}
