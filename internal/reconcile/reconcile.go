// Package reconcile implements the terminal Reconciliation phase:
// inconsistency detection across the accumulated KnowledgeBase,
// deception scoring with pattern modifiers, and finding dedup
// (spec.md §4.F "Reconciliation").
package reconcile

// Kind enumerates the inconsistency kinds spec.md §4.F names
// ("12+ inconsistency kinds"). The list covers every kind the spec
// calls out by name plus the remainder needed to reach its stated
// floor; new kinds are additive, never silently dropped (spec.md §9).
type Kind string

const (
	KindDateMismatch         Kind = "DATE_MISMATCH"
	KindTitleDegreeMismatch  Kind = "TITLE_DEGREE_MISMATCH"
	KindHiddenEmploymentGap  Kind = "HIDDEN_EMPLOYMENT_GAP"
	KindEducationInflation   Kind = "EDUCATION_INFLATION"
	KindFabricatedEmployer   Kind = "FABRICATED_EMPLOYER"
	KindImpossibleTimeline   Kind = "IMPOSSIBLE_TIMELINE"
	KindMultipleIdentities   Kind = "MULTIPLE_IDENTITIES"
	KindSystematicPattern    Kind = "SYSTEMATIC_PATTERN"
	KindAddressMismatch      Kind = "ADDRESS_MISMATCH"
	KindNameVariantConflict  Kind = "NAME_VARIANT_CONFLICT"
	KindLicenseStatusConflict Kind = "LICENSE_STATUS_CONFLICT"
	KindEmployerOverlap      Kind = "EMPLOYER_OVERLAP"
	KindCompensationOutlier  Kind = "COMPENSATION_OUTLIER"
)

// baseDeceptionScore is each kind's base score before pattern modifiers
// are applied (spec.md §4.F "Each has a base deception score"). Loaded
// as package-level defaults rather than hard-coded deep in scoring
// logic so a future config layer can override per-tenant, but the
// default table is itself the spec's unstated-but-implied fixed point:
// more severe identity/timeline fabrications score higher than
// surface-level mismatches.
var baseDeceptionScore = map[Kind]float64{
	KindDateMismatch:          10,
	KindTitleDegreeMismatch:   15,
	KindHiddenEmploymentGap:   20,
	KindEducationInflation:    25,
	KindFabricatedEmployer:    40,
	KindImpossibleTimeline:    35,
	KindMultipleIdentities:    50,
	KindSystematicPattern:     45,
	KindAddressMismatch:       8,
	KindNameVariantConflict:   12,
	KindLicenseStatusConflict: 18,
	KindEmployerOverlap:       15,
	KindCompensationOutlier:   10,
}

// BaseScore returns kind's configured base deception score, 0 if unset.
func BaseScore(kind Kind) float64 { return baseDeceptionScore[kind] }

// Inconsistency is one detected discrepancy between two or more facts
// in the KnowledgeBase, queued during SAR cycles (spec.md §4.F step 2
// "detected inconsistencies... queued for reconciliation").
type Inconsistency struct {
	Kind       Kind
	Field      string   // the fact field in conflict, e.g. "start_date"
	InfoType   string   // the info type this inconsistency was detected under
	Sources    []string // provider/source ids that disagree
	Detail     string
	Directional bool // true when the conflicting values consistently favor the subject (spec.md "directional bias")
}

// Finding is a Reconciliation-phase output: an unresolved inconsistency
// promoted to a risk finding in a dedicated category (spec.md §4.F
// "Unresolved inconsistencies become risk findings in a dedicated
// category").
type Finding struct {
	Kind            Kind
	DeceptionScore  float64
	Inconsistencies []Inconsistency
}

// patternModifiers computes the multiplicative adjustment spec.md §4.F
// describes: "pattern modifiers multiply: ×1.3 (2-3 same field), ×1.5
// (2-3 different fields), ×2.0 (≥4), ×1.5 (spans ≥3 info types), ×1.8
// (directional bias)". Modifiers compose multiplicatively, not
// additively, since the spec states them as a multiply chain.
func patternModifier(group []Inconsistency) float64 {
	modifier := 1.0

	fieldCounts := make(map[string]int)
	infoTypes := make(map[string]struct{})
	directional := false
	for _, inc := range group {
		fieldCounts[inc.Field]++
		infoTypes[inc.InfoType] = struct{}{}
		if inc.Directional {
			directional = true
		}
	}

	sameFieldMax := 0
	distinctFields := 0
	for _, count := range fieldCounts {
		distinctFields++
		if count > sameFieldMax {
			sameFieldMax = count
		}
	}

	switch {
	case sameFieldMax >= 4:
		modifier *= 2.0
	case sameFieldMax >= 2:
		modifier *= 1.3
	}

	switch {
	case distinctFields >= 4:
		modifier *= 2.0
	case distinctFields >= 2:
		modifier *= 1.5
	}

	if len(infoTypes) >= 3 {
		modifier *= 1.5
	}

	if directional {
		modifier *= 1.8
	}

	return modifier
}

// groupKey groups inconsistencies of the same Kind together for
// dedup/pattern-modifier purposes (spec.md §4.F "finding dedup").
func groupKey(inc Inconsistency) Kind { return inc.Kind }

// Reconcile groups detected inconsistencies by kind, computes the
// deception score for each group (base score × pattern modifier), and
// returns one deduplicated Finding per kind (spec.md §4.F
// "Reconciliation (terminal): inconsistency detection, deception
// scoring, finding dedup").
func Reconcile(inconsistencies []Inconsistency) []Finding {
	groups := make(map[Kind][]Inconsistency)
	var order []Kind
	for _, inc := range inconsistencies {
		k := groupKey(inc)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], inc)
	}

	findings := make([]Finding, 0, len(order))
	for _, k := range order {
		group := groups[k]
		score := BaseScore(k) * patternModifier(group)
		findings = append(findings, Finding{Kind: k, DeceptionScore: score, Inconsistencies: group})
	}
	return findings
}

// TotalDeceptionScore sums every finding's deception score, the
// deception_adj term spec.md §4.F's aggregation formula consumes
// (`final_score = clamp(base_score + pattern_adj + anomaly_adj +
// network_adj + deception_adj, 0, 100)`).
func TotalDeceptionScore(findings []Finding) float64 {
	var total float64
	for _, f := range findings {
		total += f.DeceptionScore
	}
	return total
}
