package store

import (
	"encoding/json"
	"time"
)

// FindingSeverity enumerates finding severity bands (spec.md §3 "Finding").
type FindingSeverity string

const (
	SeverityLow      FindingSeverity = "LOW"
	SeverityMedium   FindingSeverity = "MEDIUM"
	SeverityHigh     FindingSeverity = "HIGH"
	SeverityCritical FindingSeverity = "CRITICAL"
)

// Finding is immutable after creation (spec.md §3 "Finding").
type Finding struct {
	ID              string
	Category        string
	SubCategory     string
	Summary         string
	Detail          string
	Severity        FindingSeverity
	Confidence      float64 // [0,1]
	RoleRelevance   float64 // [0,1]
	Sources         []string
	Corroborated    bool
	FindingDate     *time.Time
	DiscoveredAt    time.Time
	SubjectEntityID string
	ConnectionPath  []string
}

// ProfileDelta is derived at write time and stored with the successor
// profile (spec.md §3 "ProfileDelta", §4.E "Profile versioning").
type ProfileDelta struct {
	NewFindings      []string
	ResolvedFindings []string
	ChangedFindings  []string
	ScoreChange      float64
	ConnectionDelta  int
	NewConnections   []string
	LostConnections  []string
	EvolutionSignals []string
}

// EntityProfile is a versioned, immutable-after-commit investigation
// artifact (spec.md §3 "EntityProfile (versioned)").
type EntityProfile struct {
	ID               string
	EntityID         string
	Version          int
	CreatedAt        time.Time
	Trigger          string
	Findings         []Finding
	RiskScore        float64
	Connections      []string
	SourcesUsed      []string
	StaleSources     []string
	EvolutionSignals []string
	PreviousVersion  string
	Delta            *ProfileDelta
}

// computeDelta derives a ProfileDelta by matching findings across versions
// on (category, source, finding-date) per spec.md §4.E "Profile versioning".
func computeDelta(prev, next []Finding, prevScore, nextScore float64, prevConns, nextConns []string) ProfileDelta {
	key := func(f Finding) string {
		date := ""
		if f.FindingDate != nil {
			date = f.FindingDate.Format("2006-01-02")
		}
		src := ""
		if len(f.Sources) > 0 {
			src = f.Sources[0]
		}
		return f.Category + "|" + src + "|" + date
	}

	prevByKey := make(map[string]Finding, len(prev))
	for _, f := range prev {
		prevByKey[key(f)] = f
	}
	nextByKey := make(map[string]Finding, len(next))
	for _, f := range next {
		nextByKey[key(f)] = f
	}

	var delta ProfileDelta
	for k, f := range nextByKey {
		if old, ok := prevByKey[k]; !ok {
			delta.NewFindings = append(delta.NewFindings, f.ID)
		} else if old.Severity != f.Severity || old.Detail != f.Detail {
			delta.ChangedFindings = append(delta.ChangedFindings, f.ID)
		}
	}
	for k, f := range prevByKey {
		if _, ok := nextByKey[k]; !ok {
			delta.ResolvedFindings = append(delta.ResolvedFindings, f.ID)
		}
	}

	delta.ScoreChange = nextScore - prevScore

	prevSet := make(map[string]struct{}, len(prevConns))
	for _, c := range prevConns {
		prevSet[c] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(nextConns))
	for _, c := range nextConns {
		nextSet[c] = struct{}{}
	}
	for c := range nextSet {
		if _, ok := prevSet[c]; !ok {
			delta.NewConnections = append(delta.NewConnections, c)
		}
	}
	for c := range prevSet {
		if _, ok := nextSet[c]; !ok {
			delta.LostConnections = append(delta.LostConnections, c)
		}
	}
	delta.ConnectionDelta = len(nextConns) - len(prevConns)

	return delta
}

func marshalFindings(findings []Finding) ([]byte, error) { return json.Marshal(findings) }
func unmarshalFindings(raw []byte) ([]Finding, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var findings []Finding
	err := json.Unmarshal(raw, &findings)
	return findings, err
}
