package ai

import (
	"context"
	"strings"
	"time"

	"github.com/tangentland/elile-sub002/internal/sar"
	"github.com/tangentland/elile-sub002/internal/store"
)

// keywordRule maps a substring found in a fact's value to the finding
// shape it implies. This is the deterministic rule-based extractor
// spec.md §4.H requires as the always-available fallback when the AI
// transport or parse fails — narrow and literal by design, since its
// job is "never empty-handed", not "as good as the model".
type keywordRule struct {
	substr      string
	category    string
	subCategory string
	severity    store.FindingSeverity
	confidence  float64
}

var defaultRules = []keywordRule{
	{"felony", "criminal", "felony_conviction", store.SeverityCritical, 0.9},
	{"misdemeanor", "criminal", "misdemeanor_conviction", store.SeverityMedium, 0.85},
	{"sanction", "sanctions", "watchlist_match", store.SeverityCritical, 0.9},
	{"ofac", "sanctions", "watchlist_match", store.SeverityCritical, 0.9},
	{"license_revoked", "licenses", "revocation", store.SeverityHigh, 0.85},
	{"license_suspended", "licenses", "suspension", store.SeverityMedium, 0.8},
	{"judgment", "civil", "civil_judgment", store.SeverityMedium, 0.75},
	{"lien", "financial", "tax_lien", store.SeverityMedium, 0.75},
	{"bankruptcy", "financial", "bankruptcy", store.SeverityMedium, 0.75},
	{"terminated_for_cause", "employment", "termination_for_cause", store.SeverityHigh, 0.8},
	{"degree_not_conferred", "education", "credential_not_verified", store.SeverityHigh, 0.85},
}

// RuleBased is a Model implementation that never calls out to a
// network transport; it pattern-matches fact values against a fixed
// rule table. Used directly as a standing fallback, or wrapped by
// Fallback alongside a real Model.
type RuleBased struct {
	rules []keywordRule
}

// NewRuleBased builds a RuleBased extractor using the default rule
// table. A caller may pass an extended table for locale-specific
// keyword sets.
func NewRuleBased(rules ...keywordRule) *RuleBased {
	if len(rules) == 0 {
		rules = defaultRules
	}
	return &RuleBased{rules: rules}
}

func (r *RuleBased) Extract(_ context.Context, facts []sar.Fact, _ string) ([]store.Finding, error) {
	var findings []store.Finding
	now := time.Now().UTC()
	for _, f := range facts {
		lower := strings.ToLower(f.Value)
		for _, rule := range r.rules {
			if strings.Contains(lower, rule.substr) {
				findings = append(findings, store.Finding{
					Category:     rule.category,
					SubCategory:  rule.subCategory,
					Summary:      f.Key + ": " + f.Value,
					Severity:     rule.severity,
					Confidence:   rule.confidence,
					Sources:      []string{f.Source},
					Corroborated: f.Corroborated,
					DiscoveredAt: now,
				})
			}
		}
	}
	return findings, nil
}

func (r *RuleBased) Classify(_ context.Context, summary string) (string, string, float64, error) {
	lower := strings.ToLower(summary)
	for _, rule := range r.rules {
		if strings.Contains(lower, rule.substr) {
			return rule.category, rule.subCategory, rule.confidence, nil
		}
	}
	return "uncategorized", "", 0.3, nil
}

func (r *RuleBased) Score(_ context.Context, summary, _ string) (float64, error) {
	lower := strings.ToLower(summary)
	for _, rule := range r.rules {
		if strings.Contains(lower, rule.substr) {
			return rule.confidence, nil
		}
	}
	return 0.3, nil
}

// Fallback wraps a primary Model and falls back to a RuleBased
// extractor whenever the primary call returns an error, so the
// SAR pipeline always produces a finding set regardless of AI
// transport health (spec.md §4.H "AI unavailable -> rule-based
// fallback, always").
type Fallback struct {
	primary  Model
	fallback Model
}

// NewFallback pairs a primary Model (typically *Claude) with a
// fallback Model (typically *RuleBased, but substitutable in tests).
func NewFallback(primary, fallback Model) *Fallback {
	return &Fallback{primary: primary, fallback: fallback}
}

func (f *Fallback) Extract(ctx context.Context, facts []sar.Fact, investigationContext string) ([]store.Finding, error) {
	findings, err := f.primary.Extract(ctx, facts, investigationContext)
	if err != nil {
		return f.fallback.Extract(ctx, facts, investigationContext)
	}
	return findings, nil
}

func (f *Fallback) Classify(ctx context.Context, summary string) (string, string, float64, error) {
	category, sub, confidence, err := f.primary.Classify(ctx, summary)
	if err != nil {
		return f.fallback.Classify(ctx, summary)
	}
	return category, sub, confidence, nil
}

func (f *Fallback) Score(ctx context.Context, summary, category string) (float64, error) {
	score, err := f.primary.Score(ctx, summary, category)
	if err != nil {
		return f.fallback.Score(ctx, summary, category)
	}
	return score, nil
}
