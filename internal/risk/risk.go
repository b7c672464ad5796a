// Package risk implements the risk analyzer's classification, severity,
// scoring, anomaly detection, network propagation, and aggregation
// steps (spec.md §4.G "Risk analyzer"). Finding extraction itself (the
// AI-model interface with its rule-based fallback) lives in
// internal/ai; this package consumes the findings it produces.
package risk

import (
	"sort"
	"time"

	"github.com/tangentland/elile-sub002/internal/reconcile"
	"github.com/tangentland/elile-sub002/internal/store"
)

// Level is the aggregate risk band (spec.md §4.G "Scoring").
type Level string

const (
	LevelLow      Level = "LOW"
	LevelModerate Level = "MODERATE"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// LevelFor maps a 0-100 score to its band: LOW <25, MODERATE <50,
// HIGH <75, CRITICAL >=75 (spec.md §4.G "Scoring").
func LevelFor(score float64) Level {
	switch {
	case score >= 75:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 25:
		return LevelModerate
	default:
		return LevelLow
	}
}

// CategoryWeights maps a finding category to its scoring weight
// (spec.md §4.G "Category weights (e.g., criminal 1.5, regulatory
// 1.3)"). Loaded from configuration; DefaultCategoryWeights below
// supplies the spec's named examples plus sensible weights for every
// other category the catalog produces, so scoring never silently
// treats an unlisted category as zero-weighted.
type CategoryWeights map[string]float64

// DefaultCategoryWeights returns the spec's stated defaults.
func DefaultCategoryWeights() CategoryWeights {
	return CategoryWeights{
		"criminal":          1.5,
		"regulatory":        1.3,
		"sanctions":         1.8,
		"civil":             1.1,
		"financial":         1.2,
		"licenses":          1.0,
		"adverse_media":     1.0,
		"digital_footprint": 0.8,
		"employment":        0.9,
		"education":         0.9,
	}
}

func (w CategoryWeights) weight(category string) float64 {
	if v, ok := w[category]; ok {
		return v
	}
	return 1.0
}

// severityWeight is the base numeric weight per severity band, the
// severity_weight term in spec.md §4.G "Scoring".
var severityWeight = map[store.FindingSeverity]float64{
	store.SeverityLow:      10,
	store.SeverityMedium:   30,
	store.SeverityHigh:     60,
	store.SeverityCritical: 100,
}

// RecencyDecay implements spec.md §4.G "recency decays linearly from
// 1.0 (<=1 year) to 0.5 (>=7 years)". Findings with no FindingDate get
// full weight (1.0): a finding with no date is not assumed stale.
func RecencyDecay(findingDate *time.Time, now time.Time) float64 {
	if findingDate == nil {
		return 1.0
	}
	years := now.Sub(*findingDate).Hours() / (24 * 365.25)
	switch {
	case years <= 1:
		return 1.0
	case years >= 7:
		return 0.5
	default:
		return 1.0 - (years-1)/6*0.5
	}
}

// CorroborationBonus is 1.2x when a finding has >=2 independent
// sources, else 1.0 (spec.md §4.G "Scoring").
func CorroborationBonus(f store.Finding) float64 {
	if len(f.Sources) >= 2 {
		return 1.2
	}
	return 1.0
}

// ScoreCategory computes the weighted sum over findings of
// severity_weight x recency_decay x corroboration_bonus, scaled by the
// category's weight, for one category's findings (spec.md §4.G
// "Scoring"). Callers sum across categories and normalize to produce
// the overall base_score; this function returns the per-category raw
// contribution so the caller controls normalization.
func ScoreCategory(findings []store.Finding, weights CategoryWeights, now time.Time) float64 {
	if len(findings) == 0 {
		return 0
	}
	category := findings[0].Category
	var sum float64
	for _, f := range findings {
		sum += severityWeight[f.Severity] * RecencyDecay(f.FindingDate, now) * CorroborationBonus(f)
	}
	return sum * weights.weight(category)
}

// BaseScore sums ScoreCategory across every category present in
// findings, then clamps to [0,100] — the base_score term in spec.md
// §4.G's aggregation formula, before pattern/anomaly/network/deception
// adjustments are added.
func BaseScore(findings []store.Finding, weights CategoryWeights, now time.Time) float64 {
	byCategory := make(map[string][]store.Finding)
	for _, f := range findings {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}
	var total float64
	for _, fs := range byCategory {
		total += ScoreCategory(fs, weights, now)
	}
	return clamp(total, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AnomalySignal is one detected pattern contributing a score
// adjustment (spec.md §4.G "Anomaly & pattern detection").
type AnomalySignal struct {
	Kind       string
	Adjustment float64
	Detail     string
}

// Anomaly kinds named in spec.md §4.G.
const (
	AnomalyInconsistencyPattern   = "INCONSISTENCY_PATTERN"
	AnomalyTimelineImpossibility  = "TIMELINE_IMPOSSIBILITY"
	AnomalyCredentialInflation    = "CREDENTIAL_INFLATION"
	AnomalyFrequencyBurst         = "FREQUENCY_BURST"
	AnomalyEscalation             = "ESCALATION"
	AnomalyCrossCategorySaturation = "CROSS_CATEGORY_SATURATION"
)

// DetectInconsistencyPattern surfaces reconcile.Reconcile's own output
// as anomaly signals, so a caller that already ran Reconciliation can
// fold its unresolved inconsistencies straight into the anomaly_adj
// term without re-deriving them (spec.md §4.G "Anomaly & pattern
// detection": "Inconsistency patterns").
func DetectInconsistencyPattern(findings []reconcile.Finding) []AnomalySignal {
	signals := make([]AnomalySignal, 0, len(findings))
	for _, f := range findings {
		signals = append(signals, AnomalySignal{
			Kind:       AnomalyInconsistencyPattern,
			Adjustment: f.DeceptionScore * 0.1, // a fraction of the dedicated deception_adj term, since the full score is already counted there
			Detail:     string(f.Kind),
		})
	}
	return signals
}

// DetectTimelineImpossibility flags overlapping employment/education
// windows for the same subject that cannot both be true (spec.md
// §4.G "timeline impossibilities"). windows is every (start, end) pair
// observed across employment and education records; end == nil means
// ongoing as of now.
func DetectTimelineImpossibility(windows []TimelineWindow, now time.Time) []AnomalySignal {
	var signals []AnomalySignal
	for i := 0; i < len(windows); i++ {
		for j := i + 1; j < len(windows); j++ {
			a, b := windows[i], windows[j]
			if a.FullTime && b.FullTime && overlaps(a, b, now) {
				signals = append(signals, AnomalySignal{
					Kind:       AnomalyTimelineImpossibility,
					Adjustment: 15,
					Detail:     a.Label + " overlaps " + b.Label,
				})
			}
		}
	}
	return signals
}

// TimelineWindow is one employment/education interval considered for
// overlap detection.
type TimelineWindow struct {
	Label    string
	Start    time.Time
	End      *time.Time
	FullTime bool
}

func overlaps(a, b TimelineWindow, now time.Time) bool {
	aEnd, bEnd := now, now
	if a.End != nil {
		aEnd = *a.End
	}
	if b.End != nil {
		bEnd = *b.End
	}
	return a.Start.Before(bEnd) && b.Start.Before(aEnd)
}

// DetectCredentialInflation flags a claimed degree/license level that
// exceeds what the corroborated education findings support (spec.md
// §4.G "credential inflation"). claimedLevel/verifiedLevel are small
// ordinal ranks (e.g. associate=1, bachelor=2, master=3, doctorate=4)
// supplied by the caller's classification of the claim vs. the
// verification finding.
func DetectCredentialInflation(claimedLevel, verifiedLevel int) []AnomalySignal {
	if claimedLevel > verifiedLevel {
		return []AnomalySignal{{
			Kind:       AnomalyCredentialInflation,
			Adjustment: float64(claimedLevel-verifiedLevel) * 10,
			Detail:     "claimed credential level exceeds verified level",
		}}
	}
	return nil
}

// DetectFrequencyBurst flags when more than burstThreshold findings in
// a single category share the same FindingDate (month granularity),
// suggesting a burst rather than organically accumulated history.
func DetectFrequencyBurst(findings []store.Finding, burstThreshold int) []AnomalySignal {
	byCategoryMonth := make(map[string]int)
	for _, f := range findings {
		if f.FindingDate == nil {
			continue
		}
		key := f.Category + "|" + f.FindingDate.Format("2006-01")
		byCategoryMonth[key]++
	}
	var signals []AnomalySignal
	for key, count := range byCategoryMonth {
		if count > burstThreshold {
			signals = append(signals, AnomalySignal{Kind: AnomalyFrequencyBurst, Adjustment: 5, Detail: key})
		}
	}
	return signals
}

// DetectEscalation flags when severities across findings in a category
// rise over time (earliest-half mean severity weight strictly less
// than latest-half mean), per spec.md §4.G "escalation (severity rising
// over time)".
func DetectEscalation(findings []store.Finding) []AnomalySignal {
	byCategory := make(map[string][]store.Finding)
	for _, f := range findings {
		if f.FindingDate == nil {
			continue
		}
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	var signals []AnomalySignal
	for category, fs := range byCategory {
		if len(fs) < 4 {
			continue
		}
		sorted := append([]store.Finding(nil), fs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].FindingDate.Before(*sorted[j].FindingDate) })
		mid := len(sorted) / 2
		early := meanSeverity(sorted[:mid])
		late := meanSeverity(sorted[mid:])
		if late > early {
			signals = append(signals, AnomalySignal{Kind: AnomalyEscalation, Adjustment: 8, Detail: category})
		}
	}
	return signals
}

func meanSeverity(fs []store.Finding) float64 {
	if len(fs) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fs {
		sum += severityWeight[f.Severity]
	}
	return sum / float64(len(fs))
}

// DetectCrossCategorySaturation flags when findings span at least
// minCategories distinct categories, per spec.md §4.G "cross-category
// saturation".
func DetectCrossCategorySaturation(findings []store.Finding, minCategories int) []AnomalySignal {
	categories := make(map[string]struct{})
	for _, f := range findings {
		categories[f.Category] = struct{}{}
	}
	if len(categories) >= minCategories {
		return []AnomalySignal{{Kind: AnomalyCrossCategorySaturation, Adjustment: 6, Detail: "spans multiple categories"}}
	}
	return nil
}

// AnomalyAdjustment sums every detected signal's adjustment, the
// anomaly_adj term in spec.md §4.G's aggregation formula.
func AnomalyAdjustment(signals []AnomalySignal) float64 {
	var total float64
	for _, s := range signals {
		total += s.Adjustment
	}
	return total
}

// ConnectionRisk is one D2/D3-subgraph entity's intrinsic risk
// assignment (spec.md §4.G "Network propagation": "assign intrinsic
// risk to each connected entity (sanctions, PEP, shell company, etc.)
// and propagate to the subject with decay per hop").
type ConnectionRisk struct {
	EntityID       string
	Hop            int // 2 for D2, 3 for D3
	IntrinsicScore float64
	Centrality     float64 // degree/betweenness-derived weight in [0,1]
}

// hopDecay returns spec.md's stated per-hop decay: 0.5 for D2, 0.25
// for D3.
func hopDecay(hop int) float64 {
	switch hop {
	case 2:
		return 0.5
	case 3:
		return 0.25
	default:
		return 0
	}
}

// NetworkAdjustment propagates each connection's intrinsic risk to the
// subject with hop-decay and centrality weighting, summed into the
// network_adj term (spec.md §4.G "Network propagation", §4.G
// "Aggregation").
func NetworkAdjustment(connections []ConnectionRisk) float64 {
	var total float64
	for _, c := range connections {
		centrality := c.Centrality
		if centrality <= 0 {
			centrality = 1.0
		}
		total += c.IntrinsicScore * hopDecay(c.Hop) * centrality
	}
	return total
}

// AggregationInput bundles the four adjustment terms spec.md §4.G's
// formula sums, plus the escalation signals that can override the
// numeric band regardless of score.
type AggregationInput struct {
	BaseScore            float64
	PatternAdjustment    float64 // not currently produced by any detector in this package; reserved for a future pattern-specific signal distinct from anomaly detection
	AnomalyAdjustment    float64
	NetworkAdjustment    float64
	DeceptionFindings    []reconcile.Finding
	HasCriticalDeception bool
	HasCriticalSanctions bool
}

// Aggregation is the final risk verdict for an entity profile.
type Aggregation struct {
	Score float64
	Level Level
}

// Aggregate computes `final_score = clamp(base_score + pattern_adj +
// anomaly_adj + network_adj + deception_adj, 0, 100)` and applies
// spec.md §4.G's auto-escalation rule: "raise the level when any
// critical deception signal or any critical sanctions finding is
// present, regardless of numeric score".
func Aggregate(in AggregationInput) Aggregation {
	deceptionAdj := reconcile.TotalDeceptionScore(in.DeceptionFindings)
	score := clamp(in.BaseScore+in.PatternAdjustment+in.AnomalyAdjustment+in.NetworkAdjustment+deceptionAdj, 0, 100)

	level := LevelFor(score)
	if (in.HasCriticalDeception || in.HasCriticalSanctions) && level != LevelCritical {
		level = LevelCritical
	}
	return Aggregation{Score: score, Level: level}
}
