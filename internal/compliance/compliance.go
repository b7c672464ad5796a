// Package compliance evaluates the jurisdictional compliance ruleset
// that gates every investigation (spec.md §4.A "Rule evaluation"). The
// specific rules are data, loaded at startup (spec.md Non-goals:
// "implementing the specific jurisdictional rules"); this package only
// implements the evaluation algorithm over that data.
package compliance

import (
	"sort"
	"strings"
)

// Rule is one row of the compliance ruleset: (locale, check-type,
// role-categories?, tier applicability, data-source category, permitted
// bool, conditions[], lookback-years?, required-disclosures[],
// data-restrictions[], requires-explicit-consent, excluded-categories[])
// per spec.md §4.A.
type Rule struct {
	Locale             string
	CheckType          string
	RoleCategories     []string // empty = applies to every role
	TierApplicability  []string // empty = applies to every tier
	DataSourceCategory string   // provider category/id this rule grants or restricts
	Permitted          bool
	Conditions         []string // attribute predicates, "key=value", all must hold
	LookbackYears      int      // 0 = no lookback restriction
	RequiredDisclosures []string
	DataRestrictions    []string
	RequiresExplicitConsent bool
	ExcludedCategories      []string // provider categories this rule forbids even when CheckType permitted
}

// Ruleset is the full set of compliance rules for all locales.
type Ruleset struct {
	rules []Rule
}

// NewRuleset builds a Ruleset from loaded rule rows.
func NewRuleset(rules []Rule) *Ruleset {
	return &Ruleset{rules: append([]Rule(nil), rules...)}
}

// Input describes the inputs to a compliance evaluation: the locale and
// role of the subject request, the requested tier, the consent scope
// granted, and every check-type the request might attempt (the
// information-type manager's full catalog, not just the ones already
// known to be relevant).
type Input struct {
	Locale       string
	RoleCategory string
	Tier         string
	ConsentScope string
	CheckTypes   []string
	Attributes   map[string]string // free-form predicate inputs for Conditions
}

// Result is the evaluated grant: the permitted checks and sources, the
// effective (minimum) lookback, and the union of required disclosures.
// It is handed to reqctx.Build as a reqctx.Grant-shaped value by the
// caller that owns both packages (cmd/orchestrator), keeping this
// package free of a dependency on reqctx.
type Result struct {
	PermittedChecks  map[string]struct{}
	PermittedSources map[string]struct{}
	LookbackYears    int
	Disclosures      []string
}

// localeChain returns the fallback chain from most to least specific,
// e.g. "US-CA" -> ["US-CA", "US", "default"].
func localeChain(locale string) []string {
	chain := []string{locale}
	for {
		idx := strings.LastIndex(locale, "-")
		if idx < 0 {
			break
		}
		locale = locale[:idx]
		chain = append(chain, locale)
	}
	if chain[len(chain)-1] != "default" {
		chain = append(chain, "default")
	}
	return chain
}

func matchesRoleAndTier(r Rule, roleCategory, tier string) bool {
	if len(r.RoleCategories) > 0 {
		found := false
		for _, rc := range r.RoleCategories {
			if rc == roleCategory {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.TierApplicability) > 0 {
		found := false
		for _, t := range r.TierApplicability {
			if t == tier {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func conditionsSatisfied(r Rule, attrs map[string]string) bool {
	for _, cond := range r.Conditions {
		parts := strings.SplitN(cond, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if attrs[parts[0]] != parts[1] {
			return false
		}
	}
	return true
}

// Evaluate resolves (locale, check-type, role, tier, consent-scope) for
// every requested check type and produces the aggregate grant
// (spec.md §4.A). For each check type, the locale fallback chain is
// walked from most to least specific; the first locale level with at
// least one role/tier-matching rule decides that check (permitted only
// if every matching rule at that level is permitted=true, all of its
// conditions hold, and — when RequiresExplicitConsent — the granted
// consent scope covers it). A check type with no matching rule anywhere
// in the chain is excluded (fail closed, per spec.md §9's stance that
// missing configuration is a loud error rather than a silent default).
func (rs *Ruleset) Evaluate(in Input) Result {
	result := Result{
		PermittedChecks:  make(map[string]struct{}),
		PermittedSources: make(map[string]struct{}),
	}
	lookbacks := make([]int, 0, len(in.CheckTypes))
	disclosureSet := make(map[string]struct{})

	for _, checkType := range in.CheckTypes {
		permitted, matched := rs.evaluateCheck(checkType, in)
		if !matched || !permitted.ok {
			continue
		}
		result.PermittedChecks[checkType] = struct{}{}
		for src := range permitted.sources {
			result.PermittedSources[src] = struct{}{}
		}
		if permitted.lookbackYears > 0 {
			lookbacks = append(lookbacks, permitted.lookbackYears)
		}
		for _, d := range permitted.disclosures {
			disclosureSet[d] = struct{}{}
		}
	}

	if len(lookbacks) > 0 {
		sort.Ints(lookbacks)
		result.LookbackYears = lookbacks[0]
	}
	for d := range disclosureSet {
		result.Disclosures = append(result.Disclosures, d)
	}
	sort.Strings(result.Disclosures)
	return result
}

type checkEval struct {
	ok            bool
	sources       map[string]struct{}
	lookbackYears int
	disclosures   []string
}

func (rs *Ruleset) evaluateCheck(checkType string, in Input) (checkEval, bool) {
	for _, locale := range localeChain(in.Locale) {
		var matching []Rule
		for _, r := range rs.rules {
			if r.Locale != locale || r.CheckType != checkType {
				continue
			}
			if !matchesRoleAndTier(r, in.RoleCategory, in.Tier) {
				continue
			}
			matching = append(matching, r)
		}
		if len(matching) == 0 {
			continue
		}

		eval := checkEval{ok: true, sources: make(map[string]struct{})}
		minLookback := 0
		for _, r := range matching {
			if !r.Permitted || !conditionsSatisfied(r, in.Attributes) {
				eval.ok = false
				continue
			}
			if r.RequiresExplicitConsent && !strings.Contains(in.ConsentScope, checkType) && in.ConsentScope != "full" {
				eval.ok = false
				continue
			}
			if r.DataSourceCategory != "" {
				eval.sources[r.DataSourceCategory] = struct{}{}
			}
			if r.LookbackYears > 0 && (minLookback == 0 || r.LookbackYears < minLookback) {
				minLookback = r.LookbackYears
			}
			eval.disclosures = append(eval.disclosures, r.RequiredDisclosures...)
		}
		eval.lookbackYears = minLookback
		return eval, true
	}
	return checkEval{}, false
}
