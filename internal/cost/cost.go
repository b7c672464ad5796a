// Package cost implements per-tenant budget accounting, enforcement,
// and cache-savings reporting (spec.md §4.D).
package cost

import (
	"sync"
	"time"
)

// Budget is the optional soft/hard ceiling configuration for a tenant
// (spec.md §4.D "Budgets").
type Budget struct {
	DailySoftWarning   *float64
	MonthlySoftWarning *float64
	HardCeiling        *float64
}

type dayKey struct {
	tenantID string
	date     string // YYYY-MM-DD, process-local clock
}

// counters is the mutable per-(tenant, day) accumulator (spec.md §4.D).
type counters struct {
	mu              sync.Mutex
	total           float64
	byProvider      map[string]float64
	byCheckType     map[string]float64
	cacheSavings    float64
	cacheHits       int
	cacheMisses     int
}

// Service accounts spend across every tenant and day. It is a
// process-owned value passed into constructors (spec.md §9 "Global
// singletons"), not a package-level global.
type Service struct {
	mu       sync.Mutex
	byDay    map[dayKey]*counters
	budgets  map[string]Budget
	now      func() time.Time
}

// NewService builds a cost Service. now defaults to time.Now; tests
// substitute a fixed clock to make day-bucketing deterministic.
func NewService(now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		byDay:   make(map[dayKey]*counters),
		budgets: make(map[string]Budget),
		now:     now,
	}
}

// SetBudget configures the soft/hard thresholds for tenantID.
func (s *Service) SetBudget(tenantID string, b Budget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[tenantID] = b
}

func (s *Service) bucket(tenantID string) *counters {
	key := dayKey{tenantID: tenantID, date: s.now().UTC().Format("2006-01-02")}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byDay[key]
	if !ok {
		c = &counters{byProvider: make(map[string]float64), byCheckType: make(map[string]float64)}
		s.byDay[key] = c
	}
	return c
}

// RecordSpend records a paid provider call's cost under (tenantID,
// today, providerID, checkType). Intended to be called after
// RequestContext.AssertBudgetAvailable has already committed the cost
// into the context's cost_accumulated — this is the tenant-wide ledger,
// not the per-request one (spec.md §5 "Cost counters": per-tenant
// atomic increments; budget check + increment is a single critical
// section, enforced at the reqctx layer, not here).
func (s *Service) RecordSpend(tenantID, providerID, checkType string, amount float64) {
	c := s.bucket(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += amount
	c.byProvider[providerID] += amount
	c.byCheckType[checkType] += amount
}

// RecordCacheHit records that a check was served from cache instead of
// a paid provider call, and what it would have cost as a miss
// (spec.md §4.D "cache-savings").
func (s *Service) RecordCacheHit(tenantID string, wouldHaveCost float64) {
	c := s.bucket(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheSavings += wouldHaveCost
	c.cacheHits++
}

// RecordCacheMiss records a cache miss for hit-rate reporting.
func (s *Service) RecordCacheMiss(tenantID string) {
	c := s.bucket(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheMisses++
}

// Report is the point-in-time spend summary for a tenant's current day.
type Report struct {
	Total         float64
	ByProvider    map[string]float64
	ByCheckType   map[string]float64
	CacheSavings  float64
	CacheHits     int
	CacheMisses   int
	SoftWarning   bool
	HardExceeded  bool
}

// Today returns the accumulated spend report for tenantID's current
// day, evaluated against its configured Budget.
func (s *Service) Today(tenantID string) Report {
	c := s.bucket(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()

	s.mu.Lock()
	budget := s.budgets[tenantID]
	s.mu.Unlock()

	report := Report{
		Total:        c.total,
		ByProvider:   copyMap(c.byProvider),
		ByCheckType:  copyMap(c.byCheckType),
		CacheSavings: c.cacheSavings,
		CacheHits:    c.cacheHits,
		CacheMisses:  c.cacheMisses,
	}
	if budget.DailySoftWarning != nil && c.total >= *budget.DailySoftWarning {
		report.SoftWarning = true
	}
	if budget.HardCeiling != nil && c.total > *budget.HardCeiling {
		report.HardExceeded = true
	}
	return report
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
