package planner

import (
	"testing"

	"github.com/tangentland/elile-sub002/internal/reqctx"
	"github.com/tangentland/elile-sub002/internal/sar"
)

func testCatalog() Catalog {
	return Catalog{
		sar.InfoCriminal: {
			{CheckType: "criminal_county", ParamsFn: func(subjectID string, attrs map[string]string) map[string]string {
				return map[string]string{"subject": subjectID, "county": attrs["county"]}
			}},
			{CheckType: "criminal_federal", ParamsFn: func(subjectID string, attrs map[string]string) map[string]string {
				return map[string]string{"subject": subjectID}
			}},
			{CheckType: "criminal_county_appeals", GapKinds: []string{"criminal_county"}, ParamsFn: func(subjectID string, attrs map[string]string) map[string]string {
				return map[string]string{"subject": subjectID}
			}},
		},
	}
}

func testGrant(checks ...string) reqctx.Grant {
	permitted := make(map[string]struct{}, len(checks))
	for _, c := range checks {
		permitted[c] = struct{}{}
	}
	return reqctx.Grant{PermittedChecks: permitted, PermittedSources: map[string]struct{}{}}
}

func TestEnumerateFiltersByComplianceGrant(t *testing.T) {
	rc := reqctx.Build("req1", "aud1", reqctx.Params{TenantID: "t1", Tier: reqctx.TierStandard}, testGrant("criminal_county"))

	queries := Enumerate(testCatalog(), sar.InfoCriminal, "subj1", map[string]string{"county": "LA"}, rc)
	if len(queries) != 1 {
		t.Fatalf("got %d queries, want 1 (only criminal_county is permitted)", len(queries))
	}
	if queries[0].CheckType != "criminal_county" {
		t.Fatalf("CheckType = %q, want criminal_county", queries[0].CheckType)
	}
}

func TestEnumerateExcludesRefinementOnlyTemplates(t *testing.T) {
	rc := reqctx.Build("req1", "aud1", reqctx.Params{TenantID: "t1"}, testGrant("criminal_county", "criminal_federal", "criminal_county_appeals"))

	queries := Enumerate(testCatalog(), sar.InfoCriminal, "subj1", nil, rc)
	for _, q := range queries {
		if q.CheckType == "criminal_county_appeals" {
			t.Fatalf("initial SEARCH enumeration must not include gap-targeted-only templates")
		}
	}
	if len(queries) != 2 {
		t.Fatalf("got %d queries, want 2 (criminal_county, criminal_federal)", len(queries))
	}
}

func TestEnumerateRefinementTargetsGapKind(t *testing.T) {
	rc := reqctx.Build("req1", "aud1", reqctx.Params{TenantID: "t1"}, testGrant("criminal_county", "criminal_federal", "criminal_county_appeals"))

	queries := EnumerateRefinement(testCatalog(), sar.InfoCriminal, "subj1", nil, rc, []sar.Gap{{Kind: "criminal_county"}})
	if len(queries) != 1 || queries[0].CheckType != "criminal_county_appeals" {
		t.Fatalf("got %v, want exactly the criminal_county_appeals refinement query", queries)
	}
}

func TestEnumerateDedupesByCanonicalKey(t *testing.T) {
	catalog := Catalog{
		sar.InfoCriminal: {
			{CheckType: "criminal_county", ParamsFn: func(subjectID string, attrs map[string]string) map[string]string {
				return map[string]string{"county": "LA"}
			}},
			{CheckType: "criminal_county", ParamsFn: func(subjectID string, attrs map[string]string) map[string]string {
				return map[string]string{"county": "LA"}
			}},
		},
	}
	rc := reqctx.Build("req1", "aud1", reqctx.Params{TenantID: "t1"}, testGrant("criminal_county"))
	queries := Enumerate(catalog, sar.InfoCriminal, "subj1", nil, rc)
	if len(queries) != 1 {
		t.Fatalf("got %d queries, want 1 after dedup", len(queries))
	}
}
