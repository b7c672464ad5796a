package resolver

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Decision is the outcome of Resolve (spec.md §4.E "Decision").
type Decision string

const (
	DecisionCanonicalMatch     Decision = "canonical_match"
	DecisionAutoMatchFlagged   Decision = "auto_match_flagged"   // Standard, 0.85-0.95
	DecisionSoftLinkPendingReview Decision = "soft_link_pending_review" // Enhanced, 0.85-0.95
	DecisionDuplicateCandidate Decision = "duplicate_candidate"  // 0.70-0.85
	DecisionNew                Decision = "new"
)

// Subject is the incoming, not-yet-normalized subject data a request
// carries (spec.md §4.E step 1).
type Subject struct {
	SSN       string
	EIN       string
	Passport  string
	Email     string
	Phone     string
	LastName  string
	FirstName string
	DOB       *time.Time
	Address   string
}

// Candidate is the minimal projection of an existing entity needed to
// score a fuzzy match against it (spec.md §4.E step 3).
type Candidate struct {
	EntityID string
	LastName string
	FirstName string
	DOB      *time.Time
	Address  string
}

// Store is the narrow capability this package needs from the entity
// store (spec.md §9 "narrow capability interfaces"); internal/store
// implements it. Keeping it here, not in internal/store, means this
// package has no import-time dependency on the storage engine.
type Store interface {
	FindByStrongIdentifier(ctx context.Context, tenantID, idType, normalizedValue string) (entityID string, found bool, err error)
	FuzzyCandidates(ctx context.Context, tenantID, lastNameKey string) ([]Candidate, error)
}

// Weights are the fuzzy-score field weights (spec.md §4.E step 3,
// defaults 0.4/0.25/0.2/0.15). Exposed as configuration per spec.md §9
// Open Questions item 1 — not compiled constants.
type Weights struct {
	LastName float64
	FirstName float64
	DOB      float64
	Address  float64
}

// DefaultWeights returns spec.md's stated defaults.
func DefaultWeights() Weights {
	return Weights{LastName: 0.4, FirstName: 0.25, DOB: 0.2, Address: 0.15}
}

// Thresholds are the tier-aware score bands (spec.md §4.E step 4,
// defaults 0.70/0.85/0.95).
type Thresholds struct {
	Canonical float64 // score >= Canonical -> canonical match
	Review    float64 // Review <= score < Canonical -> tier-aware review band
	Duplicate float64 // Duplicate <= score < Review -> DuplicateCandidate
}

// DefaultThresholds returns spec.md's stated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Canonical: 0.95, Review: 0.85, Duplicate: 0.70}
}

// Resolver resolves incoming subjects to canonical entities.
type Resolver struct {
	store      Store
	weights    Weights
	thresholds Thresholds
}

// New builds a Resolver.
func New(store Store, weights Weights, thresholds Thresholds) *Resolver {
	return &Resolver{store: store, weights: weights, thresholds: thresholds}
}

// Result is the outcome of resolving one subject.
type Result struct {
	Decision       Decision
	EntityID       string // set for CanonicalMatch, AutoMatchFlagged, SoftLinkPendingReview
	Score          float64
	MatchedOn      string // "exact:ssn", "fuzzy", ""
}

var (
	digitsOnly = regexp.MustCompile(`\D+`)
)

// NormalizeSSN strips everything but digits (spec.md §4.E step 1).
func NormalizeSSN(ssn string) string { return digitsOnly.ReplaceAllString(ssn, "") }

// NormalizeEIN strips everything but digits.
func NormalizeEIN(ein string) string { return digitsOnly.ReplaceAllString(ein, "") }

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// NormalizePhone reduces a phone number to E.164-ish digits-with-leading-plus.
// This is a best-effort normalization (no libphonenumber in the example
// pack); it strips formatting characters and assumes a leading "+" means
// the number is already in international form.
func NormalizePhone(phone string) string {
	trimmed := strings.TrimSpace(phone)
	hasPlus := strings.HasPrefix(trimmed, "+")
	digits := digitsOnly.ReplaceAllString(trimmed, "")
	if hasPlus {
		return "+" + digits
	}
	if len(digits) == 10 {
		return "+1" + digits
	}
	return "+" + digits
}

// Resolve implements the full match algorithm (spec.md §4.E).
func (r *Resolver) Resolve(ctx context.Context, tenantID string, tier string, subject Subject) (Result, error) {
	if entityID, found, err := r.matchExact(ctx, tenantID, subject); err != nil {
		return Result{}, err
	} else if found {
		return Result{Decision: DecisionCanonicalMatch, EntityID: entityID, Score: 1.0, MatchedOn: "exact"}, nil
	}

	candidates, err := r.store.FuzzyCandidates(ctx, tenantID, Normalize(subject.LastName))
	if err != nil {
		return Result{}, err
	}

	best := Candidate{}
	bestScore := 0.0
	for _, c := range candidates {
		score := r.score(subject, c)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}

	switch {
	case bestScore >= r.thresholds.Canonical:
		return Result{Decision: DecisionCanonicalMatch, EntityID: best.EntityID, Score: bestScore, MatchedOn: "fuzzy"}, nil
	case bestScore >= r.thresholds.Review:
		if tier == "enhanced" {
			return Result{Decision: DecisionSoftLinkPendingReview, EntityID: best.EntityID, Score: bestScore, MatchedOn: "fuzzy"}, nil
		}
		return Result{Decision: DecisionAutoMatchFlagged, EntityID: best.EntityID, Score: bestScore, MatchedOn: "fuzzy"}, nil
	case bestScore >= r.thresholds.Duplicate:
		return Result{Decision: DecisionDuplicateCandidate, EntityID: best.EntityID, Score: bestScore, MatchedOn: "fuzzy"}, nil
	default:
		return Result{Decision: DecisionNew, Score: bestScore}, nil
	}
}

func (r *Resolver) matchExact(ctx context.Context, tenantID string, subject Subject) (string, bool, error) {
	type strongID struct {
		kind, value string
	}
	ids := []strongID{
		{"ssn", NormalizeSSN(subject.SSN)},
		{"ein", NormalizeEIN(subject.EIN)},
		{"passport", strings.ToUpper(strings.TrimSpace(subject.Passport))},
	}
	for _, id := range ids {
		if id.value == "" {
			continue
		}
		entityID, found, err := r.store.FindByStrongIdentifier(ctx, tenantID, id.kind, id.value)
		if err != nil {
			return "", false, err
		}
		if found {
			return entityID, true, nil
		}
	}
	return "", false, nil
}

// score computes the weighted fuzzy score (spec.md §4.E step 3).
func (r *Resolver) score(subject Subject, candidate Candidate) float64 {
	lastScore := jaroWinkler(Normalize(subject.LastName), Normalize(candidate.LastName))
	firstScore := jaroWinkler(Normalize(subject.FirstName), Normalize(candidate.FirstName))

	dobScore := 0.0
	if subject.DOB != nil && candidate.DOB != nil && subject.DOB.Equal(*candidate.DOB) {
		dobScore = 1.0
	}

	addressScore := jaroWinkler(Normalize(subject.Address), Normalize(candidate.Address))

	return lastScore*r.weights.LastName +
		firstScore*r.weights.FirstName +
		dobScore*r.weights.DOB +
		addressScore*r.weights.Address
}
