package store

import (
	"testing"
	"time"
)

func TestStoreEntityLifecycleIntegration(t *testing.T) {
	s, ctx := newTestStore(t)

	dob := time.Date(1985, 4, 12, 0, 0, 0, 0, time.UTC)
	e, err := s.CreateEntity(ctx, Entity{
		Kind:         EntityKindIndividual,
		TenantScope:  "tenant-1",
		NameVariants: []string{"John Smith"},
		DOB:          &dob,
		DataOrigin:   DataOriginPaidExternal,
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected generated entity id")
	}

	if err := s.AddIdentifier(ctx, Identifier{
		EntityID:        e.ID,
		Type:            IdentifierSSN,
		Value:           "123-45-6789",
		NormalizedValue: "123456789",
		Confidence:      1.0,
		Source:          "subject-provided",
	}); err != nil {
		t.Fatalf("AddIdentifier: %v", err)
	}

	entityID, found, err := s.FindByStrongIdentifier(ctx, "tenant-1", "ssn", "123456789")
	if err != nil {
		t.Fatalf("FindByStrongIdentifier: %v", err)
	}
	if !found || entityID != e.ID {
		t.Fatalf("FindByStrongIdentifier = (%q, %v), want (%q, true)", entityID, found, e.ID)
	}

	ids, err := s.ListIdentifiers(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListIdentifiers: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("len(ids) = %d, want 1", len(ids))
	}
}

func TestStoreRelationshipsAndNeighborsIntegration(t *testing.T) {
	s, ctx := newTestStore(t)

	a, _ := s.CreateEntity(ctx, Entity{Kind: EntityKindIndividual, TenantScope: "tenant-1", DataOrigin: DataOriginPaidExternal})
	b, _ := s.CreateEntity(ctx, Entity{Kind: EntityKindOrganization, TenantScope: "tenant-1", DataOrigin: DataOriginPaidExternal})

	if _, err := s.CreateRelationship(ctx, Relationship{
		FromID:  a.ID,
		ToID:    b.ID,
		Kind:    RelationshipEmployer,
		Strength: 0.9,
		Sources:  []string{"employment-check"},
	}); err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}

	neighbors, err := s.Neighbors(ctx, a.ID)
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].ToID != b.ID {
		t.Fatalf("Neighbors(a) = %+v, want one edge to %q", neighbors, b.ID)
	}
}

func TestStoreProfileVersioningIntegration(t *testing.T) {
	s, ctx := newTestStore(t)

	e, _ := s.CreateEntity(ctx, Entity{Kind: EntityKindIndividual, TenantScope: "tenant-1", DataOrigin: DataOriginPaidExternal})

	f1 := Finding{ID: "f1", Category: "criminal", Severity: SeverityLow, Sources: []string{"provider-a"}}
	v1, err := s.CommitProfile(ctx, e.ID, "initial_screen", []Finding{f1}, 0.2, []string{"conn-1"}, []string{"provider-a"}, nil)
	if err != nil {
		t.Fatalf("CommitProfile v1: %v", err)
	}
	if v1.Version != 1 {
		t.Fatalf("v1.Version = %d, want 1", v1.Version)
	}

	f2 := Finding{ID: "f2", Category: "adverse_media", Severity: SeverityMedium, Sources: []string{"provider-b"}}
	v2, err := s.CommitProfile(ctx, e.ID, "rescreen", []Finding{f1, f2}, 0.5, []string{"conn-1", "conn-2"}, []string{"provider-a", "provider-b"}, nil)
	if err != nil {
		t.Fatalf("CommitProfile v2: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("v2.Version = %d, want 2", v2.Version)
	}
	if v2.PreviousVersion != v1.ID {
		t.Fatalf("v2.PreviousVersion = %q, want %q", v2.PreviousVersion, v1.ID)
	}
	if v2.Delta == nil || len(v2.Delta.NewFindings) != 1 {
		t.Fatalf("expected exactly one new finding in delta, got %+v", v2.Delta)
	}

	latest, err := s.LatestProfile(ctx, e.ID)
	if err != nil {
		t.Fatalf("LatestProfile: %v", err)
	}
	if latest.Version != 2 {
		t.Fatalf("LatestProfile version = %d, want 2", latest.Version)
	}
}

func TestStoreMergeEntitiesIntegration(t *testing.T) {
	s, ctx := newTestStore(t)

	older, _ := s.CreateEntity(ctx, Entity{Kind: EntityKindIndividual, TenantScope: "tenant-1", DataOrigin: DataOriginPaidExternal})
	time.Sleep(10 * time.Millisecond)
	newer, _ := s.CreateEntity(ctx, Entity{Kind: EntityKindIndividual, TenantScope: "tenant-1", DataOrigin: DataOriginPaidExternal})

	if err := s.AddIdentifier(ctx, Identifier{EntityID: newer.ID, Type: IdentifierEmail, Value: "a@b.com", NormalizedValue: "a@b.com", Confidence: 0.9, Source: "osint"}); err != nil {
		t.Fatalf("AddIdentifier: %v", err)
	}

	if err := s.MergeEntities(ctx, newer.ID, older.ID); err != nil {
		t.Fatalf("MergeEntities: %v", err)
	}

	merged, err := s.GetEntity(ctx, newer.ID)
	if err != nil {
		t.Fatalf("GetEntity(newer): %v", err)
	}
	if merged.MergedInto != older.ID {
		t.Fatalf("MergedInto = %q, want the canonical (older) id %q", merged.MergedInto, older.ID)
	}
}
