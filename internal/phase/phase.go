// Package phase implements the information-type manager and phase
// handlers that sequence an investigation's SAR cycles (spec.md §4.F
// "Phase sequencing"): Foundation types run sequentially, Records and
// Intelligence types run in parallel once their dependencies clear, and
// Network/Reconciliation are terminal phases that consume everything
// that came before.
package phase

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tangentland/elile-sub002/internal/knowledgebase"
	"github.com/tangentland/elile-sub002/internal/planner"
	"github.com/tangentland/elile-sub002/internal/reqctx"
	"github.com/tangentland/elile-sub002/internal/sar"
)

// Name identifies one of the four investigation phases (spec.md §4.F
// "Phase sequencing").
type Name string

const (
	PhaseFoundation     Name = "FOUNDATION"
	PhaseRecords        Name = "RECORDS"
	PhaseIntelligence   Name = "INTELLIGENCE"
	PhaseNetwork        Name = "NETWORK"
	PhaseReconciliation Name = "RECONCILIATION"
)

// terminalStates are the SAR phases at which a type is considered
// resolved for dependency purposes: COMPLETE, CAPPED, and DIMINISHED
// all count as "done", since spec.md §4.F's dependency rule is
// "predecessors COMPLETE/CAPPED/DIMINISHED", not "predecessors
// COMPLETE".
var terminalStates = map[sar.Phase]struct{}{
	sar.PhaseComplete:   {},
	sar.PhaseCapped:     {},
	sar.PhaseDiminished: {},
}

// IsTerminal reports whether a SAR phase represents a resolved type for
// dependency-gating purposes.
func IsTerminal(p sar.Phase) bool {
	_, ok := terminalStates[p]
	return ok
}

// Plan lays out which info types belong to which phase and, within the
// Intelligence phase, which types are tier-gated (spec.md §4.F "the
// Intelligence phase's types are filtered by the request's tier before
// they are even scheduled"). This is policy, loaded by the caller, not
// hard-coded business logic living deeper in the stack (spec.md §9).
type Plan struct {
	Foundation   []sar.InfoType // run strictly sequentially, in slice order
	Records      []sar.InfoType // run in parallel once every Foundation type is terminal
	Intelligence []sar.InfoType // run in parallel once Records is terminal, standard-tier types pre-filtered by the caller
	Network      []sar.InfoType // NETWORK_D2 then NETWORK_D3, run sequentially once Intelligence is terminal
}

// DefaultPlan returns the phase layout named in spec.md §4.F "Phase
// sequencing".
func DefaultPlan() Plan {
	return Plan{
		Foundation: []sar.InfoType{sar.InfoIdentity, sar.InfoEmployment, sar.InfoEducation},
		Records: []sar.InfoType{
			sar.InfoCriminal, sar.InfoCivil, sar.InfoFinancial,
			sar.InfoLicenses, sar.InfoRegulatory, sar.InfoSanctions,
		},
		Intelligence: []sar.InfoType{sar.InfoAdverseMedia, sar.InfoDigitalFootprint},
		Network:      []sar.InfoType{sar.InfoNetworkD2, sar.InfoNetworkD3},
	}
}

// TypeResult is the terminal outcome of one info type's SAR cycle,
// reported back to the manager for dependency gating and, eventually,
// risk scoring.
type TypeResult struct {
	InfoType sar.InfoType
	State    *sar.State
}

// Subject carries the per-investigation identity inputs a phase handler
// needs to enumerate and execute queries; it is deliberately thin —
// everything else flows through the RequestContext and KnowledgeBase.
type Subject struct {
	EntityID string
	Locale   string
	Degree   string
	Attrs    map[string]string
}

// Runner drives one info type through its full SAR cycle: enumerate,
// execute, assess, refine, loop until terminal. It is the glue between
// internal/sar's state machine and internal/planner's query execution.
type Runner struct {
	catalog  planner.Catalog
	executor *planner.Executor
	kb       *knowledgebase.KnowledgeBase
	configs  map[sar.InfoType]sar.Config
}

// NewRunner builds a Runner. configs supplies per-type tuning
// (spec.md §4.F step 3); a type missing from configs gets
// sar.DefaultConfig (or DefaultFoundationConfig for Foundation types).
func NewRunner(catalog planner.Catalog, executor *planner.Executor, kb *knowledgebase.KnowledgeBase, configs map[sar.InfoType]sar.Config) *Runner {
	return &Runner{catalog: catalog, executor: executor, kb: kb, configs: configs}
}

func (r *Runner) configFor(t sar.InfoType) sar.Config {
	if c, ok := r.configs[t]; ok {
		return c
	}
	if sar.IsFoundation(t) {
		return sar.DefaultFoundationConfig()
	}
	return sar.DefaultConfig()
}

// ExpectedFacts is a placeholder completeness denominator; real
// wiring supplies this per type from the information-type catalog's
// declared expected-fact count (spec.md §4.F step 2 "completeness").
// Runner accepts it as a parameter rather than hard-coding it so the
// catalog of "what counts as complete" stays configuration, not code.
type ExpectedFacts map[sar.InfoType]int

// Run drives infoType through SEARCH→ASSESS→REFINE until it reaches a
// terminal phase, feeding new facts into the shared KnowledgeBase via
// ObserveThenAdd so concurrently-running types converge on the same
// underlying facts (spec.md §5).
func (r *Runner) Run(ctx context.Context, rc *reqctx.RequestContext, permittedSources map[string]struct{}, subject Subject, infoType sar.InfoType, expected ExpectedFacts) *sar.State {
	state := sar.NewState(infoType)
	cfg := r.configFor(infoType)
	weights := cfg.ConfidenceWeights

	var pendingGaps []sar.Gap
	for {
		var queries []sar.Query
		if pendingGaps == nil {
			queries = planner.Enumerate(r.catalog, infoType, subject.EntityID, subject.Attrs, rc)
		} else {
			queries = planner.EnumerateRefinement(r.catalog, infoType, subject.EntityID, subject.Attrs, rc, pendingGaps)
		}
		state.Queries = append(state.Queries, queries...)

		facts, gaps, executed, succeeded := r.executor.Execute(ctx, rc, permittedSources, subject.EntityID, subject.Locale, subject.Degree, queries)
		state.Gaps = gaps

		for _, f := range facts {
			f := f
			r.kb.ObserveThenAdd(factKey(infoType, f), func() {})
		}

		state.Assess(sar.AssessInput{
			ExpectedFacts:    expected[infoType],
			ObservedFacts:    facts,
			QueriesExecuted:  executed,
			QueriesSucceeded: succeeded,
		}, weights, 0)

		decision := state.Refine(cfg)
		if decision.NextPhase != sar.PhaseSearch {
			return state
		}
		pendingGaps = decision.GapsToTarget
	}
}

// factKey derives an ObserveThenAdd key scoped to this info type and
// fact, so two different info types independently converging on "the
// same" raw fact value don't collide across type boundaries.
func factKey(t sar.InfoType, f sar.Fact) string { return string(t) + "|" + f.Key + "|" + f.Value }

// RunSequential runs each info type in types one after another, in
// order, waiting for each to reach a terminal state before starting the
// next (spec.md §4.F "Foundation... run strictly sequentially").
func (r *Runner) RunSequential(ctx context.Context, rc *reqctx.RequestContext, permittedSources map[string]struct{}, subject Subject, types []sar.InfoType, expected ExpectedFacts) []TypeResult {
	var results []TypeResult
	for _, t := range types {
		state := r.Run(ctx, rc, permittedSources, subject, t, expected)
		results = append(results, TypeResult{InfoType: t, State: state})
	}
	return results
}

// RunParallel runs every type in types concurrently, each through its
// own full SAR cycle, and waits for all to reach a terminal state
// (spec.md §4.F "Records... run in parallel").
func (r *Runner) RunParallel(ctx context.Context, rc *reqctx.RequestContext, permittedSources map[string]struct{}, subject Subject, types []sar.InfoType, expected ExpectedFacts) []TypeResult {
	results := make([]TypeResult, len(types))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		i, t := i, t
		g.Go(func() error {
			state := r.Run(gctx, rc, permittedSources, subject, t, expected)
			mu.Lock()
			results[i] = TypeResult{InfoType: t, State: state}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Manager sequences the full Foundation→Records→Intelligence→Network
// plan, enforcing the dependency rule that a phase only starts once
// every type in the previous phase is terminal (spec.md §4.F
// "predecessors COMPLETE/CAPPED/DIMINISHED").
type Manager struct {
	runner *Runner
	plan   Plan
}

// NewManager builds a Manager over an already-constructed Runner and
// phase Plan.
func NewManager(runner *Runner, plan Plan) *Manager {
	return &Manager{runner: runner, plan: plan}
}

// Outcome is the full set of per-phase results for one investigation.
type Outcome struct {
	Foundation   []TypeResult
	Records      []TypeResult
	Intelligence []TypeResult
	Network      []TypeResult
}

// Run drives the investigation through all four phases in order.
// Intelligence types should already be tier-filtered by the caller
// before being placed in m.plan.Intelligence (spec.md §4.F "filtered by
// the request's tier before they are even scheduled").
func (m *Manager) Run(ctx context.Context, rc *reqctx.RequestContext, permittedSources map[string]struct{}, subject Subject, expected ExpectedFacts) Outcome {
	var out Outcome
	out.Foundation = m.runner.RunSequential(ctx, rc, permittedSources, subject, m.plan.Foundation, expected)
	out.Records = m.runner.RunParallel(ctx, rc, permittedSources, subject, m.plan.Records, expected)
	out.Intelligence = m.runner.RunParallel(ctx, rc, permittedSources, subject, m.plan.Intelligence, expected)
	out.Network = m.runner.RunSequential(ctx, rc, permittedSources, subject, m.plan.Network, expected)
	return out
}
