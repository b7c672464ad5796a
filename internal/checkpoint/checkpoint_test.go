package checkpoint

import (
	"testing"
	"time"

	"github.com/tangentland/elile-sub002/internal/knowledgebase"
	"github.com/tangentland/elile-sub002/internal/sar"
)

func TestTypeStateRoundTripsThroughRestore(t *testing.T) {
	s := sar.NewState(sar.InfoIdentity)
	s.Assess(sar.AssessInput{
		ExpectedFacts: 2,
		ObservedFacts: []sar.Fact{{Key: "dob", Value: "1985-04-12", Source: "dmv", Confidence: 0.9, Corroborated: true}},
	}, sar.DefaultConfidenceWeights(), 0)
	decision := s.Refine(sar.DefaultFoundationConfig())
	if decision.NextPhase != sar.PhaseSearch {
		t.Fatalf("expected a loop back to SEARCH to exercise iteration increment, got %v", decision.NextPhase)
	}

	ts := FromState(s)
	restored := ts.Restore()

	if restored.InfoType != s.InfoType || restored.Iteration != s.Iteration || restored.Phase != s.Phase {
		t.Fatalf("restored state diverges: %+v vs %+v", restored, s)
	}
	if restored.Confidence != s.Confidence || restored.PrevConfidence() != s.PrevConfidence() {
		t.Fatalf("restored confidence diverges: (%v,%v) vs (%v,%v)",
			restored.Confidence, restored.PrevConfidence(), s.Confidence, s.PrevConfidence())
	}
	if len(restored.Facts) != len(s.Facts) {
		t.Fatalf("restored fact count = %d, want %d", len(restored.Facts), len(s.Facts))
	}
}

func TestKnowledgeBaseSnapshotRestorePreservesObservedKeys(t *testing.T) {
	kb := knowledgebase.New()
	kb.AddNameVariant("Jane Doe")
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	kb.SetDOB(dob)

	added := kb.ObserveThenAdd("employer:acme", func() {
		kb.AddEmployer(knowledgebase.EmploymentRecord{Employer: "Acme", Title: "Engineer"})
	})
	if !added {
		t.Fatal("expected first ObserveThenAdd to add")
	}

	snap := kb.Snapshot()
	restored := knowledgebase.Restore(snap)

	// the restored KnowledgeBase must still refuse to re-add the same key,
	// or a resumed investigation would double-count facts.
	reAdded := restored.ObserveThenAdd("employer:acme", func() {
		restored.AddEmployer(knowledgebase.EmploymentRecord{Employer: "Duplicate", Title: "Should not apply"})
	})
	if reAdded {
		t.Fatal("restored KnowledgeBase re-added a key already observed before checkpointing")
	}

	restoredSnap := restored.Snapshot()
	if len(restoredSnap.Employers) != 1 || restoredSnap.Employers[0].Employer != "Acme" {
		t.Fatalf("restored employers = %+v, want exactly the original Acme record", restoredSnap.Employers)
	}
	if restoredSnap.DOB == nil || !restoredSnap.DOB.Equal(dob) {
		t.Fatalf("restored DOB = %v, want %v", restoredSnap.DOB, dob)
	}
}

func TestSnapshotBuildsCheckpointFromLiveState(t *testing.T) {
	states := map[sar.InfoType]*sar.State{
		sar.InfoIdentity: sar.NewState(sar.InfoIdentity),
	}
	kb := knowledgebase.New()
	kb.AddAddress("123 Main St")

	c := Snapshot("inv-1", "tenant-1", TriggerIteration, states, kb)

	if c.ID == "" || c.InvestigationID != "inv-1" || c.TenantID != "tenant-1" || c.Trigger != TriggerIteration {
		t.Fatalf("unexpected checkpoint header: %+v", c)
	}
	if _, ok := c.TypeStates[string(sar.InfoIdentity)]; !ok {
		t.Fatal("expected IDENTITY type state in checkpoint")
	}
	if len(c.KnowledgeBase.Addresses) != 1 {
		t.Fatalf("expected one address in knowledge base snapshot, got %d", len(c.KnowledgeBase.Addresses))
	}

	restoredStates := c.States()
	if _, ok := restoredStates[sar.InfoIdentity]; !ok {
		t.Fatal("States() did not reconstruct the IDENTITY state")
	}
	restoredKB := c.KnowledgeBaseRestored()
	if len(restoredKB.Snapshot().Addresses) != 1 {
		t.Fatal("KnowledgeBaseRestored() did not reconstruct the address")
	}
}
