// Package knowledgebase implements the per-investigation accumulator
// (spec.md §3 "KnowledgeBase", §5 "KnowledgeBase: per-investigation
// ownership; mutations guarded by an investigation-scoped lock").
package knowledgebase

import (
	"sync"
	"time"
)

// EmploymentRecord is a confirmed employment fact accumulated during an
// investigation.
type EmploymentRecord struct {
	Employer  string
	Title     string
	StartDate *time.Time
	EndDate   *time.Time
	Source    string
}

// EducationRecord is a confirmed education fact.
type EducationRecord struct {
	Institution string
	Degree      string
	Field       string
	GradDate    *time.Time
	Source      string
}

// LicenseRecord is a confirmed professional license or certification fact.
type LicenseRecord struct {
	Kind       string
	Issuer     string
	Number     string
	IssuedDate *time.Time
	Source     string
}

// DiscoveredParty is a person or organization surfaced during the
// investigation, queued for the network phase (spec.md §4.F step 2
// "newly discovered entities").
type DiscoveredParty struct {
	Name       string
	Kind       string // "person" | "organization"
	Relation   string
	Source     string
}

// KnowledgeBase is the accumulator for one investigation. It is mutated
// only by the Assess step of each SAR cycle and read by every subsequent
// planner (spec.md §3). The zero value is not usable; use New.
type KnowledgeBase struct {
	mu sync.Mutex

	nameVariants map[string]struct{}
	dob          *time.Time
	addresses    map[string]struct{}
	employers    []EmploymentRecord
	education    []EducationRecord
	licenses     []LicenseRecord
	discovered   []DiscoveredParty
	jurisdictions map[string]struct{}

	// observed indexes facts by a caller-chosen key for observe_then_add's
	// "has this fact already been recorded" check.
	observed map[string]struct{}
}

// New creates an empty KnowledgeBase for one investigation.
func New() *KnowledgeBase {
	return &KnowledgeBase{
		nameVariants:  make(map[string]struct{}),
		addresses:     make(map[string]struct{}),
		jurisdictions: make(map[string]struct{}),
		observed:      make(map[string]struct{}),
	}
}

// Snapshot is an immutable point-in-time view of the KnowledgeBase, used
// for checkpointing (spec.md §4.F "Checkpointing") and for planners that
// must not observe concurrent mutation mid-read.
type Snapshot struct {
	NameVariants  []string
	DOB           *time.Time
	Addresses     []string
	Employers     []EmploymentRecord
	Education     []EducationRecord
	Licenses      []LicenseRecord
	Discovered    []DiscoveredParty
	Jurisdictions []string
	// Observed are the observe_then_add keys already recorded, needed to
	// restore an equivalent KnowledgeBase on checkpoint resume rather than
	// just its visible facts (spec.md §4.F "Checkpointing").
	Observed []string
}

// Snapshot returns a defensive copy of the current state.
func (kb *KnowledgeBase) Snapshot() Snapshot {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	s := Snapshot{
		Employers:  append([]EmploymentRecord(nil), kb.employers...),
		Education:  append([]EducationRecord(nil), kb.education...),
		Licenses:   append([]LicenseRecord(nil), kb.licenses...),
		Discovered: append([]DiscoveredParty(nil), kb.discovered...),
		DOB:        kb.dob,
	}
	for n := range kb.nameVariants {
		s.NameVariants = append(s.NameVariants, n)
	}
	for a := range kb.addresses {
		s.Addresses = append(s.Addresses, a)
	}
	for j := range kb.jurisdictions {
		s.Jurisdictions = append(s.Jurisdictions, j)
	}
	for k := range kb.observed {
		s.Observed = append(s.Observed, k)
	}
	return s
}

// Restore rebuilds a KnowledgeBase from a previously taken Snapshot, used
// by internal/checkpoint to resume an investigation (spec.md §4.F
// "resume restores an exact equivalent state").
func Restore(s Snapshot) *KnowledgeBase {
	kb := New()
	for _, n := range s.NameVariants {
		kb.nameVariants[n] = struct{}{}
	}
	kb.dob = s.DOB
	for _, a := range s.Addresses {
		kb.addresses[a] = struct{}{}
	}
	kb.employers = append([]EmploymentRecord(nil), s.Employers...)
	kb.education = append([]EducationRecord(nil), s.Education...)
	kb.licenses = append([]LicenseRecord(nil), s.Licenses...)
	kb.discovered = append([]DiscoveredParty(nil), s.Discovered...)
	for _, j := range s.Jurisdictions {
		kb.jurisdictions[j] = struct{}{}
	}
	for _, k := range s.Observed {
		kb.observed[k] = struct{}{}
	}
	return kb
}

// ObserveThenAdd is the transactional primitive required by spec.md §5:
// "concurrent types that both observe a missing fact and one that writes
// it must converge". add is invoked, and its effect recorded under key,
// only if key has not already been observed under this KnowledgeBase's
// lock — so two concurrent SAR cycles racing to add the same fact
// converge on a single write.
func (kb *KnowledgeBase) ObserveThenAdd(key string, add func()) (added bool) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, seen := kb.observed[key]; seen {
		return false
	}
	kb.observed[key] = struct{}{}
	add()
	return true
}

// AddNameVariant records a confirmed name variant.
func (kb *KnowledgeBase) AddNameVariant(name string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.nameVariants[name] = struct{}{}
}

// SetDOB records a confirmed date of birth, first writer wins (subsequent
// calls are no-ops once set, matching the accumulator's append-only
// philosophy for facts that should not silently change mid-investigation).
func (kb *KnowledgeBase) SetDOB(dob time.Time) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.dob == nil {
		kb.dob = &dob
	}
}

// AddAddress records a confirmed address.
func (kb *KnowledgeBase) AddAddress(addr string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.addresses[addr] = struct{}{}
}

// AddEmployer records a confirmed employment fact.
func (kb *KnowledgeBase) AddEmployer(r EmploymentRecord) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.employers = append(kb.employers, r)
}

// AddEducation records a confirmed education fact.
func (kb *KnowledgeBase) AddEducation(r EducationRecord) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.education = append(kb.education, r)
}

// AddLicense records a confirmed license/certification fact.
func (kb *KnowledgeBase) AddLicense(r LicenseRecord) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.licenses = append(kb.licenses, r)
}

// AddDiscoveredParty queues a newly discovered person/organization for the
// network phase.
func (kb *KnowledgeBase) AddDiscoveredParty(p DiscoveredParty) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.discovered = append(kb.discovered, p)
}

// AddJurisdiction records a jurisdiction relevant to this subject (drives
// locale-specific compliance lookups for later-phase checks).
func (kb *KnowledgeBase) AddJurisdiction(j string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.jurisdictions[j] = struct{}{}
}
