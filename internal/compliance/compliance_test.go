package compliance

import "testing"

func ruleset() *Ruleset {
	return NewRuleset([]Rule{
		{
			Locale: "default", CheckType: "criminal",
			DataSourceCategory: "CORE", Permitted: true, LookbackYears: 7,
			RequiredDisclosures: []string{"fcra_disclosure"},
		},
		{
			Locale: "US-CA", CheckType: "criminal",
			DataSourceCategory: "CORE", Permitted: false,
		},
		{
			Locale: "default", CheckType: "sanctions",
			DataSourceCategory: "CORE", Permitted: true,
		},
		{
			Locale: "default", CheckType: "adverse_media",
			DataSourceCategory: "PREMIUM", Permitted: true,
			TierApplicability: []string{"enhanced"},
		},
		{
			Locale: "default", CheckType: "employment",
			DataSourceCategory: "CORE", Permitted: true,
			RequiresExplicitConsent: true,
		},
	})
}

func TestEvaluatePermitsDefaultRule(t *testing.T) {
	rs := ruleset()
	result := rs.Evaluate(Input{
		Locale: "US-NY", Tier: "standard", ConsentScope: "full",
		CheckTypes: []string{"criminal", "sanctions"},
	})

	if _, ok := result.PermittedChecks["criminal"]; !ok {
		t.Fatal("expected criminal permitted under default rule for US-NY")
	}
	if _, ok := result.PermittedChecks["sanctions"]; !ok {
		t.Fatal("expected sanctions permitted")
	}
	if result.LookbackYears != 7 {
		t.Fatalf("LookbackYears = %d, want 7", result.LookbackYears)
	}
	if len(result.Disclosures) != 1 || result.Disclosures[0] != "fcra_disclosure" {
		t.Fatalf("Disclosures = %v, want [fcra_disclosure]", result.Disclosures)
	}
}

func TestEvaluateMoreSpecificLocaleOverridesFallback(t *testing.T) {
	rs := ruleset()
	result := rs.Evaluate(Input{
		Locale: "US-CA", Tier: "standard", ConsentScope: "full",
		CheckTypes: []string{"criminal"},
	})

	if _, ok := result.PermittedChecks["criminal"]; ok {
		t.Fatal("expected criminal blocked for US-CA, more specific rule forbids it")
	}
}

func TestEvaluateTierGating(t *testing.T) {
	rs := ruleset()

	standard := rs.Evaluate(Input{
		Locale: "US", Tier: "standard", ConsentScope: "full",
		CheckTypes: []string{"adverse_media"},
	})
	if _, ok := standard.PermittedChecks["adverse_media"]; ok {
		t.Fatal("expected adverse_media excluded for standard tier")
	}

	enhanced := rs.Evaluate(Input{
		Locale: "US", Tier: "enhanced", ConsentScope: "full",
		CheckTypes: []string{"adverse_media"},
	})
	if _, ok := enhanced.PermittedChecks["adverse_media"]; !ok {
		t.Fatal("expected adverse_media permitted for enhanced tier")
	}
}

func TestEvaluateRequiresExplicitConsent(t *testing.T) {
	rs := ruleset()

	withoutConsent := rs.Evaluate(Input{
		Locale: "US", Tier: "standard", ConsentScope: "criminal",
		CheckTypes: []string{"employment"},
	})
	if _, ok := withoutConsent.PermittedChecks["employment"]; ok {
		t.Fatal("expected employment blocked without matching consent scope")
	}

	withConsent := rs.Evaluate(Input{
		Locale: "US", Tier: "standard", ConsentScope: "full",
		CheckTypes: []string{"employment"},
	})
	if _, ok := withConsent.PermittedChecks["employment"]; !ok {
		t.Fatal("expected employment permitted with full consent scope")
	}
}

func TestEvaluateUnknownCheckTypeExcluded(t *testing.T) {
	rs := ruleset()
	result := rs.Evaluate(Input{
		Locale: "US", Tier: "standard", ConsentScope: "full",
		CheckTypes: []string{"not_a_real_check"},
	})
	if len(result.PermittedChecks) != 0 {
		t.Fatalf("expected no permitted checks, got %v", result.PermittedChecks)
	}
}

func TestLocaleChain(t *testing.T) {
	got := localeChain("US-CA")
	want := []string{"US-CA", "US", "default"}
	if len(got) != len(want) {
		t.Fatalf("localeChain = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("localeChain = %v, want %v", got, want)
		}
	}
}
