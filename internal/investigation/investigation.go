// Package investigation wires the per-request pipeline together: compliance
// grant evaluation, phase-sequenced SAR cycles, reconciliation, risk
// aggregation, profile commit, checkpointing, and audit/webhook side effects
// (spec.md §4 end to end). It is the top-level glue cmd/orchestrator calls;
// none of the packages it composes know about each other directly, matching
// the teacher's own application-layer/infrastructure-layer split (the
// teacher's internal/app package plays the analogous role over its
// blockchain/oracle services).
package investigation

import (
	"context"
	"fmt"
	"time"

	"github.com/tangentland/elile-sub002/internal/ai"
	"github.com/tangentland/elile-sub002/internal/audit"
	"github.com/tangentland/elile-sub002/internal/checkpoint"
	"github.com/tangentland/elile-sub002/internal/compliance"
	"github.com/tangentland/elile-sub002/internal/errors"
	"github.com/tangentland/elile-sub002/internal/idgen"
	"github.com/tangentland/elile-sub002/internal/knowledgebase"
	"github.com/tangentland/elile-sub002/internal/metrics"
	"github.com/tangentland/elile-sub002/internal/phase"
	"github.com/tangentland/elile-sub002/internal/reconcile"
	"github.com/tangentland/elile-sub002/internal/reqctx"
	"github.com/tangentland/elile-sub002/internal/risk"
	"github.com/tangentland/elile-sub002/internal/sar"
	"github.com/tangentland/elile-sub002/internal/store"
	"github.com/tangentland/elile-sub002/internal/webhook"
)

// Request is the caller-supplied input to Launch: everything needed to
// evaluate a compliance grant and run the investigation.
type Request struct {
	Params     reqctx.Params
	Subject    phase.Subject
	EntityID   string
	CheckTypes []string // the full catalog of check types the manager's plan could attempt, for compliance.Input
	Expected   phase.ExpectedFacts
}

// Service composes the per-request pipeline. All fields are already
// constructed, policy-configured dependencies; Service owns none of their
// lifecycles.
type Service struct {
	Rules       *compliance.Ruleset
	Runner      *phase.Runner
	KB          *knowledgebase.KnowledgeBase // the same instance passed to phase.NewRunner when Runner was built
	Plan        phase.Plan
	Entities    *store.Store
	Checkpoints *checkpoint.Manager
	Audit       *audit.Logger
	Webhooks    *webhook.Publisher
	Model       ai.Model
	Weights     risk.CategoryWeights
}

// Launch runs one investigation end to end: evaluate the compliance grant,
// drive every information type through its SAR cycle phase by phase,
// reconcile accumulated facts, aggregate a risk score, and commit the
// resulting profile version. One checkpoint (TriggerPhaseBoundary) is
// written after the phase manager has run all four phases, and a second
// (TriggerTypeCompletion) after the profile commit; no checkpoint is
// written between phases, and Launch always starts from the beginning
// rather than from a saved checkpoint.
func (s *Service) Launch(ctx context.Context, req Request) (store.EntityProfile, error) {
	requestID := idgen.New()
	auditID := idgen.New()

	grant := s.Rules.Evaluate(compliance.Input{
		Locale:       req.Params.Locale,
		RoleCategory: string(req.Params.Degree),
		Tier:         string(req.Params.Tier),
		ConsentScope: req.Params.ConsentScope,
		CheckTypes:   req.CheckTypes,
	})
	rc := reqctx.Build(requestID, auditID, req.Params, reqctx.Grant{
		PermittedChecks:  grant.PermittedChecks,
		PermittedSources: grant.PermittedSources,
		LookbackYears:    grant.LookbackYears,
		Disclosures:      grant.Disclosures,
	})

	if err := rc.AssertConsentValid(time.Now()); err != nil {
		return store.EntityProfile{}, err
	}

	s.logAudit(ctx, requestID, req.Params.TenantID, req.Params.Actor, audit.EventComplianceEvaluated, map[string]any{
		"permitted_checks": len(grant.PermittedChecks),
		"lookback_years":   grant.LookbackYears,
	})
	if err := s.publish(ctx, req.Params.TenantID, requestID, webhook.EventScreeningStarted, nil); err != nil {
		return store.EntityProfile{}, err
	}

	mgr := phase.NewManager(s.Runner, s.Plan)
	outcome := mgr.Run(ctx, rc, grant.PermittedSources, req.Subject, req.Expected)

	s.checkpointPhase(ctx, req.EntityID, req.Params.TenantID, checkpoint.TriggerPhaseBoundary, outcome)
	if err := s.publish(ctx, req.Params.TenantID, requestID, webhook.EventScreeningProgress, outcome); err != nil {
		return store.EntityProfile{}, err
	}

	allFindings := s.extractFindings(ctx, outcome)
	inconsistencies := deriveInconsistencies(s.KB)
	reconciled := reconcile.Reconcile(inconsistencies)

	base := risk.BaseScore(allFindings, s.Weights, time.Now())
	agg := risk.Aggregate(risk.AggregationInput{
		BaseScore:            base,
		DeceptionFindings:    reconciled,
		HasCriticalSanctions: hasCriticalSanctions(allFindings),
	})
	metrics.RecordRiskScore(string(agg.Level), agg.Score)

	profile, err := s.Entities.CommitProfile(ctx, req.EntityID, "initial_screening", allFindings, agg.Score, nil, sourcesUsed(outcome), nil)
	if err != nil {
		return store.EntityProfile{}, err
	}

	s.checkpointPhase(ctx, req.EntityID, req.Params.TenantID, checkpoint.TriggerTypeCompletion, outcome)
	s.logAudit(ctx, requestID, req.Params.TenantID, req.Params.Actor, audit.EventProfileCommitted, map[string]any{
		"entity_id": req.EntityID, "risk_score": agg.Score, "risk_level": agg.Level,
	})

	eventType := webhook.EventScreeningComplete
	if agg.Level == risk.LevelCritical || agg.Level == risk.LevelHigh {
		eventType = webhook.EventReviewRequired
	}
	if err := s.publish(ctx, req.Params.TenantID, requestID, eventType, profile); err != nil {
		return store.EntityProfile{}, err
	}

	return profile, nil
}

func (s *Service) extractFindings(ctx context.Context, outcome phase.Outcome) []store.Finding {
	var findings []store.Finding
	for _, tr := range allResults(outcome) {
		if len(tr.State.Facts) == 0 {
			continue
		}
		found, err := s.Model.Extract(ctx, tr.State.Facts, string(tr.InfoType))
		if err != nil {
			metrics.RecordAIFallback("extract")
			continue
		}
		findings = append(findings, found...)
		metrics.RecordSARTermination(string(tr.InfoType), string(tr.State.Phase), tr.State.Iteration, tr.State.Confidence)
	}
	return findings
}

func allResults(o phase.Outcome) []phase.TypeResult {
	var out []phase.TypeResult
	out = append(out, o.Foundation...)
	out = append(out, o.Records...)
	out = append(out, o.Intelligence...)
	out = append(out, o.Network...)
	return out
}

func sourcesUsed(o phase.Outcome) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tr := range allResults(o) {
		for _, q := range tr.State.Queries {
			if _, ok := seen[q.CheckType]; ok {
				continue
			}
			seen[q.CheckType] = struct{}{}
			out = append(out, q.CheckType)
		}
	}
	return out
}

func hasCriticalSanctions(findings []store.Finding) bool {
	for _, f := range findings {
		if f.Category == "sanctions" && f.Severity == store.SeverityCritical {
			return true
		}
	}
	return false
}

// deriveInconsistencies applies a small set of heuristics over the
// accumulated KnowledgeBase to surface the inconsistency kinds that are
// structurally detectable from corroborated facts alone (spec.md §4.F
// step 2 "detected inconsistencies ... queued for reconciliation"); richer
// cross-source comparisons belong to the provider-normalization layer and
// are out of scope for this pass (see DESIGN.md).
func deriveInconsistencies(kb *knowledgebase.KnowledgeBase) []reconcile.Inconsistency {
	snap := kb.Snapshot()
	var out []reconcile.Inconsistency

	if len(snap.NameVariants) > 1 {
		out = append(out, reconcile.Inconsistency{
			Kind: reconcile.KindNameVariantConflict, Field: "name",
			InfoType: "IDENTITY", Detail: fmt.Sprintf("%d distinct name variants observed", len(snap.NameVariants)),
		})
	}
	if len(snap.Addresses) > 2 {
		out = append(out, reconcile.Inconsistency{
			Kind: reconcile.KindAddressMismatch, Field: "address",
			InfoType: "IDENTITY", Detail: fmt.Sprintf("%d distinct addresses observed", len(snap.Addresses)),
		})
	}

	statusByLicense := make(map[string]string)
	for _, lic := range snap.Licenses {
		key := lic.Kind + "|" + lic.Number
		if prior, ok := statusByLicense[key]; ok && prior != lic.Issuer {
			out = append(out, reconcile.Inconsistency{
				Kind: reconcile.KindLicenseStatusConflict, Field: "issuer",
				InfoType: "LICENSES", Sources: []string{lic.Source}, Detail: "conflicting issuer for the same license number",
			})
		}
		statusByLicense[key] = lic.Issuer
	}
	return out
}

func (s *Service) checkpointPhase(ctx context.Context, investigationID, tenantID string, trigger checkpoint.Trigger, outcome phase.Outcome) {
	states := make(map[sar.InfoType]*sar.State, len(allResults(outcome)))
	for _, tr := range allResults(outcome) {
		states[tr.InfoType] = tr.State
	}
	cp := checkpoint.Snapshot(investigationID, tenantID, trigger, states, s.KB)
	if err := s.Checkpoints.Save(ctx, cp); err == nil {
		metrics.RecordCheckpointWrite(string(trigger))
	}
}

func (s *Service) logAudit(ctx context.Context, requestID, tenantID, actor string, eventType audit.EventType, payload any) {
	if s.Audit == nil {
		return
	}
	_, _ = s.Audit.Append(ctx, requestID, tenantID, actor, eventType, payload)
}

func (s *Service) publish(ctx context.Context, tenantID, requestID string, eventType webhook.OutboundEventType, payload any) error {
	if s.Webhooks == nil {
		return nil
	}
	err := s.Webhooks.Publish(ctx, webhook.OutboundEvent{
		Type: eventType, TenantID: tenantID, RequestID: requestID, Payload: payload, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		metrics.RecordWebhookDelivery(string(eventType), "failed")
		return errors.Wrap(errors.ErrCodeExternalAPI, "webhook delivery", 502, err)
	}
	metrics.RecordWebhookDelivery(string(eventType), "delivered")
	return nil
}
