// Package sar implements the SEARCH/ASSESS/REFINE state machine run once
// per information type during an investigation (spec.md §4.F "SAR cycle
// per type").
package sar

import "time"

// Phase is the SAR type state (spec.md §3 "SAR type state").
type Phase string

const (
	PhaseSearch    Phase = "SEARCH"
	PhaseAssess    Phase = "ASSESS"
	PhaseRefine    Phase = "REFINE"
	PhaseComplete  Phase = "COMPLETE"
	PhaseCapped    Phase = "CAPPED"
	PhaseDiminished Phase = "DIMINISHED"
)

// InfoType enumerates the information types driven through a SAR cycle
// (spec.md §4.F "Phase sequencing").
type InfoType string

const (
	InfoIdentity        InfoType = "IDENTITY"
	InfoEmployment       InfoType = "EMPLOYMENT"
	InfoEducation        InfoType = "EDUCATION"
	InfoCriminal         InfoType = "CRIMINAL"
	InfoCivil            InfoType = "CIVIL"
	InfoFinancial        InfoType = "FINANCIAL"
	InfoLicenses         InfoType = "LICENSES"
	InfoRegulatory       InfoType = "REGULATORY"
	InfoSanctions        InfoType = "SANCTIONS"
	InfoAdverseMedia     InfoType = "ADVERSE_MEDIA"
	InfoDigitalFootprint InfoType = "DIGITAL_FOOTPRINT"
	InfoNetworkD2        InfoType = "NETWORK_D2"
	InfoNetworkD3        InfoType = "NETWORK_D3"
)

// foundationTypes add +0.05 to the effective confidence threshold
// (spec.md §4.F step 2 "type_confidence").
var foundationTypes = map[InfoType]struct{}{
	InfoIdentity:  {},
	InfoEmployment: {},
	InfoEducation:  {},
}

// IsFoundation reports whether t is one of the Foundation-phase types.
func IsFoundation(t InfoType) bool {
	_, ok := foundationTypes[t]
	return ok
}

// Gap is a declared-expected-but-not-observed fact kind (spec.md §4.F
// step 2 "gaps").
type Gap struct {
	Kind   string
	Detail string
}

// Fact is a single extracted, source-attributed datum (spec.md §4.F step 2
// "each fact tagged with (source, confidence, corroborated?)").
type Fact struct {
	Key          string
	Value        string
	Source       string
	Confidence   float64
	Corroborated bool
}

// Query is one (provider, check, params) tuple the planner enumerates
// (spec.md §4.F step 1 "SEARCH").
type Query struct {
	ProviderID string
	CheckType  string
	Params     map[string]string
}

// CanonicalKey returns the dedup key for a query (spec.md §4.F step 1
// "Queries are deduplicated by (provider, check, canonical params)").
func (q Query) CanonicalKey() string {
	key := q.ProviderID + "|" + q.CheckType
	for _, k := range sortedKeys(q.Params) {
		key += "|" + k + "=" + q.Params[k]
	}
	return key
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// simple insertion sort: parameter maps are small (a handful of
	// search params per query), so this avoids pulling in sort for a
	// one-line call site.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// Config is the per-type tuning surface (spec.md §4.F step 3 "REFINE"),
// loaded from configuration rather than compiled in (spec.md §9).
type Config struct {
	Threshold        float64 // τ, default 0.85; Refine adds 0.05 for foundation types
	MaxIterations    int     // I, default 3 / foundation 4
	MinGainRate      float64 // g, default 0.10
	ImprovementEpsilon float64 // ε
	ConfidenceWeights ConfidenceWeights
}

// ConfidenceWeights are the weighted-sum components of type_confidence
// (spec.md §4.F step 2), defaults 0.30/0.25/0.20/0.15/0.10.
type ConfidenceWeights struct {
	Completeness    float64
	Corroboration   float64
	QuerySuccess    float64
	MeanFactConfidence float64
	SourceDiversity float64
}

// DefaultConfidenceWeights returns spec.md's stated defaults.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{Completeness: 0.30, Corroboration: 0.25, QuerySuccess: 0.20, MeanFactConfidence: 0.15, SourceDiversity: 0.10}
}

// DefaultConfig returns spec.md's stated defaults for a non-Foundation type.
func DefaultConfig() Config {
	return Config{Threshold: 0.85, MaxIterations: 3, MinGainRate: 0.10, ImprovementEpsilon: 0.02, ConfidenceWeights: DefaultConfidenceWeights()}
}

// DefaultFoundationConfig returns spec.md's stated defaults for a
// Foundation-phase type (max iterations 4). Threshold stays at the 0.85
// default; Refine adds the foundation bump of 0.05, for an effective 0.90.
func DefaultFoundationConfig() Config {
	c := DefaultConfig()
	c.MaxIterations = 4
	return c
}

// State is the full per-type SAR state (spec.md §3 "SAR type state").
// Monotone invariants: Confidence may only increase; Iteration strictly
// increments; Phase transitions are one-way except the REFINE-driven
// loop-back SEARCH→ASSESS→REFINE→SEARCH.
type State struct {
	InfoType   InfoType
	Iteration  int
	Phase      Phase
	Confidence float64
	InfoGainRate float64
	Gaps       []Gap
	Queries    []Query
	Facts      []Fact

	prevConfidence float64
}

// NewState starts a fresh SAR cycle for an info type at iteration 1.
func NewState(t InfoType) *State {
	return &State{InfoType: t, Iteration: 1, Phase: PhaseSearch}
}

// AssessInput is what the assessor needs to compute type_confidence and
// info_gain_rate for one iteration (spec.md §4.F step 2).
type AssessInput struct {
	ExpectedFacts   int
	ObservedFacts   []Fact
	QueriesExecuted int
	QueriesSucceeded int
}

// Assess computes type_confidence and info_gain_rate for this iteration and
// transitions the state to PhaseAssess (spec.md §4.F step 2). Gaps are not
// computed here. InfoGainRate is set to new facts per executed query, and
// the number of new facts is returned.
func (s *State) Assess(in AssessInput, weights ConfidenceWeights, effectiveThresholdBump float64) (newFacts int) {
	s.Phase = PhaseAssess
	s.prevConfidence = s.Confidence
	s.Facts = append(s.Facts, in.ObservedFacts...)

	completeness := 0.0
	if in.ExpectedFacts > 0 {
		completeness = float64(len(in.ObservedFacts)) / float64(in.ExpectedFacts)
		if completeness > 1 {
			completeness = 1
		}
	}

	corroborated := 0
	for _, f := range in.ObservedFacts {
		if f.Corroborated {
			corroborated++
		}
	}
	corroborationShare := 0.0
	if len(in.ObservedFacts) > 0 {
		corroborationShare = float64(corroborated) / float64(len(in.ObservedFacts))
	}

	querySuccess := 0.0
	if in.QueriesExecuted > 0 {
		querySuccess = float64(in.QueriesSucceeded) / float64(in.QueriesExecuted)
	}

	meanConfidence := 0.0
	if len(in.ObservedFacts) > 0 {
		sum := 0.0
		for _, f := range in.ObservedFacts {
			sum += f.Confidence
		}
		meanConfidence = sum / float64(len(in.ObservedFacts))
	}

	sourceSet := make(map[string]struct{})
	for _, f := range in.ObservedFacts {
		sourceSet[f.Source] = struct{}{}
	}
	sourceDiversity := 0.0
	if len(in.ObservedFacts) > 0 {
		sourceDiversity = float64(len(sourceSet)) / float64(len(in.ObservedFacts))
	}

	computed := completeness*weights.Completeness +
		corroborationShare*weights.Corroboration +
		querySuccess*weights.QuerySuccess +
		meanConfidence*weights.MeanFactConfidence +
		sourceDiversity*weights.SourceDiversity

	// Confidence is monotone: it may only increase (spec.md §3 "SAR type
	// state" invariant).
	if computed > s.Confidence {
		s.Confidence = computed
	}

	newFacts = len(in.ObservedFacts)
	if in.QueriesExecuted > 0 {
		s.InfoGainRate = float64(newFacts) / float64(in.QueriesExecuted)
	} else {
		s.InfoGainRate = 0
	}

	return newFacts
}

// RefineDecision is the outcome of the REFINE step.
type RefineDecision struct {
	NextPhase Phase
	// GapsToTarget is set only when NextPhase == PhaseSearch: the gap-kinds
	// that need targeted follow-up queries.
	GapsToTarget []Gap
}

// Refine applies spec.md §4.F step 3's decision table and advances
// Iteration when looping back to SEARCH.
func (s *State) Refine(cfg Config) RefineDecision {
	s.Phase = PhaseRefine

	threshold := cfg.Threshold
	if IsFoundation(s.InfoType) {
		threshold += 0.05
	}

	switch {
	case s.Confidence >= threshold:
		s.Phase = PhaseComplete
		return RefineDecision{NextPhase: PhaseComplete}
	case s.Iteration >= cfg.MaxIterations:
		s.Phase = PhaseCapped
		return RefineDecision{NextPhase: PhaseCapped}
	case s.InfoGainRate < cfg.MinGainRate && (s.Confidence-s.prevConfidence) < cfg.ImprovementEpsilon:
		s.Phase = PhaseDiminished
		return RefineDecision{NextPhase: PhaseDiminished}
	default:
		s.Iteration++
		s.Phase = PhaseSearch
		return RefineDecision{NextPhase: PhaseSearch, GapsToTarget: s.Gaps}
	}
}

// PrevConfidence exposes the confidence recorded before the most recent
// Assess call. Needed by internal/checkpoint to restore an exact
// equivalent state rather than an approximation.
func (s *State) PrevConfidence() float64 { return s.prevConfidence }

// Restore reconstructs a State from persisted fields (spec.md §4.F
// "Checkpointing" — "resume restores an exact equivalent state").
func Restore(t InfoType, iteration int, phase Phase, confidence, prevConfidence, infoGainRate float64, gaps []Gap, queries []Query, facts []Fact) *State {
	return &State{
		InfoType:       t,
		Iteration:      iteration,
		Phase:          phase,
		Confidence:     confidence,
		prevConfidence: prevConfidence,
		InfoGainRate:   infoGainRate,
		Gaps:           gaps,
		Queries:        queries,
		Facts:          facts,
	}
}

// Elapsed wall-clock helper for per-type cap enforcement (spec.md §5
// "per-type wall-clock cap, default 10 min"); callers track StartedAt
// themselves and compare against time.Now().
func Elapsed(startedAt time.Time) time.Duration {
	return time.Since(startedAt)
}
