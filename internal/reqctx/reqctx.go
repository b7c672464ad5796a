// Package reqctx defines the immutable request context that flows through
// every call of an investigation (spec.md §3 "RequestContext", §4.A
// "Request context & compliance gate").
//
// A RequestContext is built once, at submission time, from the evaluated
// compliance ruleset, and is value-propagated to every downstream
// component. Every field is frozen after construction except
// cost_accumulated, which may only be incremented.
package reqctx

import (
	"sync"
	"time"

	"github.com/tangentland/elile-sub002/internal/errors"
)

// Tier is the service tier requested (spec.md GLOSSARY "Tier").
type Tier string

const (
	TierStandard Tier = "standard"
	TierEnhanced Tier = "enhanced"
)

// Degree is the network-expansion degree requested (spec.md GLOSSARY
// "Degree").
type Degree string

const (
	DegreeD1 Degree = "D1"
	DegreeD2 Degree = "D2"
	DegreeD3 Degree = "D3"
)

// Vigilance governs re-screen cadence (spec.md GLOSSARY "Vigilance").
type Vigilance string

const (
	VigilanceV0 Vigilance = "V0"
	VigilanceV1 Vigilance = "V1"
	VigilanceV2 Vigilance = "V2"
	VigilanceV3 Vigilance = "V3"
)

// CacheScope selects which cache partition a provider lookup may read
// (spec.md §4.C).
type CacheScope string

const (
	CacheScopeShared CacheScope = "shared"
	CacheScopeTenant CacheScope = "tenant"
)

// Grant is the result of compliance-ruleset evaluation at construction
// time: the permitted checks and sources for this request, plus the
// effective lookback and disclosures produced by rule resolution
// (spec.md §4.A "Rule evaluation"). Build is handed a Grant
// rather than evaluating rules itself, so this package has no dependency
// on the compliance ruleset's internal representation.
type Grant struct {
	PermittedChecks  map[string]struct{}
	PermittedSources map[string]struct{}
	LookbackYears    int
	Disclosures      []string
}

// Params is the caller-supplied input to Build: everything about the
// request that is fixed before the compliance grant is evaluated.
type Params struct {
	TenantID      string
	Actor         string
	Locale        string
	ConsentToken  string
	ConsentScope  string
	ConsentExpiry time.Time
	Tier          Tier
	Degree        Degree
	Vigilance     Vigilance
	BudgetLimit   *float64
	CacheScope    CacheScope
}

// RequestContext is frozen after construction; cost_accumulated is the
// only mutable field and may only be increased (spec.md §3).
type RequestContext struct {
	RequestID    string
	TenantID     string
	Actor        string
	Locale       string
	ConsentToken string
	ConsentScope string
	consentExpiry time.Time

	Tier      Tier
	Degree    Degree
	Vigilance Vigilance

	AuditID      string
	InitiatedAt  time.Time
	BudgetLimit  *float64
	CacheScope   CacheScope

	permittedChecks  map[string]struct{}
	permittedSources map[string]struct{}
	lookbackYears    int
	disclosures      []string

	mu             sync.Mutex
	costAccumulated float64
}

// Build constructs a frozen RequestContext from the request-id/audit-id
// pair (minted by the caller via internal/idgen), the request params, and
// the compliance grant already evaluated for (locale, tier, role,
// consent-scope).
func Build(requestID, auditID string, p Params, grant Grant) *RequestContext {
	checks := make(map[string]struct{}, len(grant.PermittedChecks))
	for k := range grant.PermittedChecks {
		checks[k] = struct{}{}
	}
	sources := make(map[string]struct{}, len(grant.PermittedSources))
	for k := range grant.PermittedSources {
		sources[k] = struct{}{}
	}
	disclosures := append([]string(nil), grant.Disclosures...)

	return &RequestContext{
		RequestID:        requestID,
		TenantID:         p.TenantID,
		Actor:            p.Actor,
		Locale:           p.Locale,
		ConsentToken:     p.ConsentToken,
		ConsentScope:     p.ConsentScope,
		consentExpiry:    p.ConsentExpiry,
		Tier:             p.Tier,
		Degree:           p.Degree,
		Vigilance:        p.Vigilance,
		AuditID:          auditID,
		InitiatedAt:      time.Now(),
		BudgetLimit:      p.BudgetLimit,
		CacheScope:       p.CacheScope,
		permittedChecks:  checks,
		permittedSources: sources,
		lookbackYears:    grant.LookbackYears,
		disclosures:      disclosures,
	}
}

// ConsentExpiry returns the frozen consent expiry timestamp.
func (c *RequestContext) ConsentExpiry() time.Time { return c.consentExpiry }

// LookbackYears returns the effective lookback computed at construction.
func (c *RequestContext) LookbackYears() int { return c.lookbackYears }

// Disclosures returns the union of required disclosures computed at
// construction. The returned slice is a copy; callers must not mutate it.
func (c *RequestContext) Disclosures() []string {
	return append([]string(nil), c.disclosures...)
}

// PermittedChecks returns the check types permitted under the compliance
// grant this context was built with, in no particular order.
func (c *RequestContext) PermittedChecks() []string {
	out := make([]string, 0, len(c.permittedChecks))
	for k := range c.permittedChecks {
		out = append(out, k)
	}
	return out
}

// CostAccumulated returns the current accumulated cost under lock, since
// it is the one field mutated concurrently across phase handlers.
func (c *RequestContext) CostAccumulated() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.costAccumulated
}

// AssertCheckPermitted fails with ComplianceBlocked when check is not in
// permitted_checks (spec.md §4.A).
func (c *RequestContext) AssertCheckPermitted(check string) error {
	if _, ok := c.permittedChecks[check]; !ok {
		return errors.ComplianceBlocked(check)
	}
	return nil
}

// AssertSourcePermitted fails with ComplianceBlocked when provider is not
// in permitted_sources (spec.md §4.A).
func (c *RequestContext) AssertSourcePermitted(providerID string) error {
	if _, ok := c.permittedSources[providerID]; !ok {
		return errors.ComplianceBlocked(providerID)
	}
	return nil
}

// AssertBudgetAvailable fails with BudgetExceeded if cost_accumulated +
// cost > budget_limit, when a limit is set (spec.md §4.A, §8 invariant 3).
// On success the cost is committed atomically in the same critical
// section (spec.md §5 "Cost counters": budget check + increment is a
// single critical section).
func (c *RequestContext) AssertBudgetAvailable(cost float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.BudgetLimit != nil && c.costAccumulated+cost > *c.BudgetLimit {
		return errors.BudgetExceeded(c.TenantID, c.costAccumulated, *c.BudgetLimit)
	}
	c.costAccumulated += cost
	return nil
}

// AssertConsentValid fails with ConsentExpired when now is past the
// frozen consent expiry (spec.md §4.A).
func (c *RequestContext) AssertConsentValid(now time.Time) error {
	if !c.consentExpiry.IsZero() && now.After(c.consentExpiry) {
		return errors.ConsentExpired()
	}
	return nil
}
