package checkpoint

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/tangentland/elile-sub002/internal/knowledgebase"
	"github.com/tangentland/elile-sub002/internal/migrate"
	"github.com/tangentland/elile-sub002/internal/sar"
)

func newTestManager(t *testing.T) (*Manager, context.Context) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Apply(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE checkpoints`); err != nil {
		t.Fatalf("truncate checkpoints: %v", err)
	}

	t.Cleanup(func() {
		_, _ = db.Exec(`TRUNCATE checkpoints`)
		_ = db.Close()
	})

	return NewManager(db), context.Background()
}

func TestManagerSaveAndLatestIntegration(t *testing.T) {
	m, ctx := newTestManager(t)

	states := map[sar.InfoType]*sar.State{sar.InfoIdentity: sar.NewState(sar.InfoIdentity)}
	kb := knowledgebase.New()
	kb.AddAddress("1 First St")

	c := Snapshot("inv-100", "tenant-a", TriggerTypeCompletion, states, kb)
	if err := m.Save(ctx, c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := m.Latest(ctx, "inv-100")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !ok {
		t.Fatal("expected a checkpoint to be found")
	}
	if got.InvestigationID != "inv-100" || got.Trigger != TriggerTypeCompletion {
		t.Fatalf("Latest returned %+v, want a match for the saved checkpoint", got)
	}
	if len(got.KnowledgeBase.Addresses) != 1 {
		t.Fatalf("restored snapshot lost the address, got %+v", got.KnowledgeBase)
	}
}

func TestManagerBranchClonesIntoNewInvestigation(t *testing.T) {
	m, ctx := newTestManager(t)

	states := map[sar.InfoType]*sar.State{sar.InfoIdentity: sar.NewState(sar.InfoIdentity)}
	kb := knowledgebase.New()
	c := Snapshot("inv-source", "tenant-a", TriggerPhaseBoundary, states, kb)
	if err := m.Save(ctx, c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	branch, err := m.Branch(ctx, "inv-source", "inv-branch")
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if branch.InvestigationID != "inv-branch" {
		t.Fatalf("branch investigation id = %q, want inv-branch", branch.InvestigationID)
	}
	if branch.ID == c.ID {
		t.Fatal("branch must have its own checkpoint id, not the source's")
	}

	// the source investigation's own lineage must be unaffected.
	sourceLatest, ok, err := m.Latest(ctx, "inv-source")
	if err != nil || !ok {
		t.Fatalf("Latest(inv-source): %v, %v", ok, err)
	}
	if sourceLatest.ID != c.ID {
		t.Fatalf("source's latest checkpoint changed after branching: %q", sourceLatest.ID)
	}
}

func TestManagerBranchWithNoSourceCheckpointErrors(t *testing.T) {
	m, ctx := newTestManager(t)

	if _, err := m.Branch(ctx, "does-not-exist", "inv-new"); err == nil {
		t.Fatal("expected an error branching from an investigation with no checkpoint")
	}
}
