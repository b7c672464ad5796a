package store

import "testing"

func TestComputeDeltaNewResolvedAndChanged(t *testing.T) {
	prev := []Finding{
		{ID: "f1", Category: "criminal", Severity: SeverityLow, Sources: []string{"provider-a"}},
		{ID: "f2", Category: "civil", Severity: SeverityMedium, Sources: []string{"provider-b"}},
	}
	next := []Finding{
		{ID: "f1", Category: "criminal", Severity: SeverityHigh, Sources: []string{"provider-a"}}, // changed
		{ID: "f3", Category: "adverse_media", Severity: SeverityLow, Sources: []string{"provider-c"}}, // new
		// f2 resolved (absent from next)
	}

	delta := computeDelta(prev, next, 0.3, 0.6, []string{"c1"}, []string{"c1", "c2"})

	if len(delta.NewFindings) != 1 || delta.NewFindings[0] != "f3" {
		t.Fatalf("NewFindings = %v, want [f3]", delta.NewFindings)
	}
	if len(delta.ResolvedFindings) != 1 || delta.ResolvedFindings[0] != "f2" {
		t.Fatalf("ResolvedFindings = %v, want [f2]", delta.ResolvedFindings)
	}
	if len(delta.ChangedFindings) != 1 || delta.ChangedFindings[0] != "f1" {
		t.Fatalf("ChangedFindings = %v, want [f1]", delta.ChangedFindings)
	}
	if delta.ScoreChange != 0.3 {
		t.Fatalf("ScoreChange = %v, want 0.3", delta.ScoreChange)
	}
	if delta.ConnectionDelta != 1 {
		t.Fatalf("ConnectionDelta = %d, want 1", delta.ConnectionDelta)
	}
	if len(delta.NewConnections) != 1 || delta.NewConnections[0] != "c2" {
		t.Fatalf("NewConnections = %v, want [c2]", delta.NewConnections)
	}
}

func TestComputeDeltaEmptyPrevAllNew(t *testing.T) {
	next := []Finding{{ID: "f1", Category: "criminal", Sources: []string{"provider-a"}}}
	delta := computeDelta(nil, next, 0, 0.4, nil, []string{"c1"})
	if len(delta.NewFindings) != 1 {
		t.Fatalf("NewFindings = %v, want one entry", delta.NewFindings)
	}
	if len(delta.ResolvedFindings) != 0 {
		t.Fatalf("ResolvedFindings = %v, want none", delta.ResolvedFindings)
	}
}
