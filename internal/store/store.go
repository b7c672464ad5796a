// Package store provides the entity resolver's canonical-entity, identifier,
// relationship and versioned-profile persistence, backed by PostgreSQL via
// database/sql + lib/pq, following the teacher's explicit-SQL tenant-scoped
// Store pattern (applications/storage/postgres/store_datafeeds.go).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/tangentland/elile-sub002/internal/idgen"
	"github.com/tangentland/elile-sub002/internal/resolver"
)

// Store persists entities, identifiers, relationships, and profiles.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ resolver.Store = (*Store)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// --- resolver.Store -----------------------------------------------------

// FindByStrongIdentifier looks up an entity by an exact, normalized strong
// identifier (SSN/EIN/passport) scoped to a tenant (spec.md §4.E step 2).
func (s *Store) FindByStrongIdentifier(ctx context.Context, tenantID, idType, normalizedValue string) (string, bool, error) {
	if normalizedValue == "" {
		return "", false, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id
		FROM entity_identifiers i
		JOIN entities e ON e.id = i.entity_id
		WHERE e.tenant_scope = $1 AND i.type = $2 AND i.normalized_value = $3 AND e.merged_into = ''
		LIMIT 1
	`, tenantID, idType, normalizedValue)

	var entityID string
	if err := row.Scan(&entityID); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return entityID, true, nil
}

// FuzzyCandidates returns candidate entities sharing a last-name bucket for
// scoring (spec.md §4.E step 3). lastNameKey is already normalized.
func (s *Store) FuzzyCandidates(ctx context.Context, tenantID, lastNameKey string) ([]resolver.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, last_name, first_name, dob, address
		FROM entity_fuzzy_index
		WHERE tenant_scope = $1 AND last_name_key = $2
	`, tenantID, lastNameKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []resolver.Candidate
	for rows.Next() {
		var (
			c       resolver.Candidate
			dob     sql.NullTime
			address sql.NullString
		)
		if err := rows.Scan(&c.EntityID, &c.LastName, &c.FirstName, &dob, &address); err != nil {
			return nil, err
		}
		if dob.Valid {
			t := dob.Time.UTC()
			c.DOB = &t
		}
		c.Address = address.String
		result = append(result, c)
	}
	return result, rows.Err()
}

// --- Entity ---------------------------------------------------------------

// CreateEntity inserts a new canonical entity.
func (s *Store) CreateEntity(ctx context.Context, e Entity) (Entity, error) {
	if e.ID == "" {
		e.ID = idgen.New()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	namesJSON, err := json.Marshal(e.NameVariants)
	if err != nil {
		return Entity{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, kind, tenant_scope, name_variants, dob, data_origin, merged_into, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.Kind, e.TenantScope, namesJSON, toNullTime(e.DOB), e.DataOrigin, e.MergedInto, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return Entity{}, err
	}
	return e, nil
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(ctx context.Context, id string) (Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, tenant_scope, name_variants, dob, data_origin, merged_into, created_at, updated_at
		FROM entities
		WHERE id = $1
	`, id)
	return scanEntity(row)
}

// MergeEntities merges loser into survivor: survivor is the older id per
// spec.md §4.E "Merge/split" ("canonical entity ... is the oldest by id").
// Identifiers are unioned (conflicts recorded by leaving both rows with
// distinct sources); relationships are re-pointed; profile versions are
// renumbered by the caller (profile renumbering needs findings context the
// store alone does not have, so MergeEntities only performs the
// entity/identifier/relationship migration).
func (s *Store) MergeEntities(ctx context.Context, survivorID, loserID string) error {
	survivor, err := s.GetEntity(ctx, survivorID)
	if err != nil {
		return err
	}
	loser, err := s.GetEntity(ctx, loserID)
	if err != nil {
		return err
	}
	if survivor.CreatedAt.After(loser.CreatedAt) {
		survivorID, loserID = loserID, survivorID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE entity_identifiers SET entity_id = $1 WHERE entity_id = $2
	`, survivorID, loserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE relationships SET from_entity_id = $1 WHERE from_entity_id = $2
	`, survivorID, loserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE relationships SET to_entity_id = $1 WHERE to_entity_id = $2
	`, survivorID, loserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE entities SET merged_into = $1, updated_at = $2 WHERE id = $3
	`, survivorID, time.Now().UTC(), loserID); err != nil {
		return err
	}

	return tx.Commit()
}

func scanEntity(scanner rowScanner) (Entity, error) {
	var (
		e         Entity
		namesRaw  []byte
		dob       sql.NullTime
		createdAt time.Time
		updatedAt time.Time
	)
	if err := scanner.Scan(&e.ID, &e.Kind, &e.TenantScope, &namesRaw, &dob, &e.DataOrigin, &e.MergedInto, &createdAt, &updatedAt); err != nil {
		return Entity{}, err
	}
	if len(namesRaw) > 0 {
		_ = json.Unmarshal(namesRaw, &e.NameVariants)
	}
	if dob.Valid {
		t := dob.Time.UTC()
		e.DOB = &t
	}
	e.CreatedAt = createdAt.UTC()
	e.UpdatedAt = updatedAt.UTC()
	return e, nil
}

// --- Identifier -------------------------------------------------------------

// AddIdentifier attaches a typed identifier to an entity.
func (s *Store) AddIdentifier(ctx context.Context, id Identifier) error {
	if id.FirstSeen.IsZero() {
		id.FirstSeen = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_identifiers (entity_id, type, value, normalized_value, confidence, source, first_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.EntityID, id.Type, id.Value, id.NormalizedValue, id.Confidence, id.Source, id.FirstSeen)
	return err
}

// ListIdentifiers returns every identifier recorded for an entity.
func (s *Store) ListIdentifiers(ctx context.Context, entityID string) ([]Identifier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, type, value, normalized_value, confidence, source, first_seen
		FROM entity_identifiers
		WHERE entity_id = $1
		ORDER BY first_seen
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Identifier
	for rows.Next() {
		var id Identifier
		var firstSeen time.Time
		if err := rows.Scan(&id.EntityID, &id.Type, &id.Value, &id.NormalizedValue, &id.Confidence, &id.Source, &firstSeen); err != nil {
			return nil, err
		}
		id.FirstSeen = firstSeen.UTC()
		result = append(result, id)
	}
	return result, rows.Err()
}

// --- Relationship -----------------------------------------------------------

// CreateRelationship inserts a directed edge between two entities.
func (s *Store) CreateRelationship(ctx context.Context, r Relationship) (Relationship, error) {
	if r.ID == "" {
		r.ID = idgen.New()
	}
	if r.FirstSeen.IsZero() {
		r.FirstSeen = time.Now().UTC()
	}
	sourcesJSON, err := json.Marshal(r.Sources)
	if err != nil {
		return Relationship{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, from_entity_id, to_entity_id, kind, strength, first_seen, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.FromID, r.ToID, r.Kind, r.Strength, r.FirstSeen, sourcesJSON)
	if err != nil {
		return Relationship{}, err
	}
	return r, nil
}

// Neighbors returns the relationships with from_entity_id or to_entity_id
// equal to entityID, for adjacency-list graph traversal (spec.md §4.E
// "Graph"). It returns direct neighbours only; no caller in this module
// expands further.
func (s *Store) Neighbors(ctx context.Context, entityID string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_entity_id, to_entity_id, kind, strength, first_seen, sources
		FROM relationships
		WHERE from_entity_id = $1 OR to_entity_id = $1
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Relationship
	for rows.Next() {
		var (
			r          Relationship
			sourcesRaw []byte
			firstSeen  time.Time
		)
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.Kind, &r.Strength, &firstSeen, &sourcesRaw); err != nil {
			return nil, err
		}
		if len(sourcesRaw) > 0 {
			_ = json.Unmarshal(sourcesRaw, &r.Sources)
		}
		r.FirstSeen = firstSeen.UTC()
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- EntityProfile (versioned) ----------------------------------------------

// CommitProfile writes a new, immutable profile version for an entity. The
// caller supplies the findings/score/connections for this version; delta is
// computed against the entity's current latest version (spec.md §4.E
// "Profile versioning"). Version numbers form a dense per-entity sequence:
// the latest version row is read with SELECT ... FOR UPDATE and the new row
// takes version+1, with UNIQUE (entity_id, version) as the backstop.
func (s *Store) CommitProfile(ctx context.Context, entityID, trigger string, findings []Finding, riskScore float64, connections, sourcesUsed, staleSources []string) (EntityProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EntityProfile{}, err
	}
	defer tx.Rollback()

	var (
		prevID      sql.NullString
		prevVersion int
		prevScore   float64
		prevConns   []byte
		prevFindRaw []byte
	)
	row := tx.QueryRowContext(ctx, `
		SELECT id, version, risk_score, connections, findings
		FROM entity_profiles
		WHERE entity_id = $1
		ORDER BY version DESC
		LIMIT 1
		FOR UPDATE
	`, entityID)
	err = row.Scan(&prevID, &prevVersion, &prevScore, &prevConns, &prevFindRaw)
	hasPrev := err == nil
	if err != nil && err != sql.ErrNoRows {
		return EntityProfile{}, err
	}

	var prevConnections []string
	if len(prevConns) > 0 {
		_ = json.Unmarshal(prevConns, &prevConnections)
	}
	prevFindings, err := unmarshalFindings(prevFindRaw)
	if err != nil {
		return EntityProfile{}, err
	}

	delta := computeDelta(prevFindings, findings, prevScore, riskScore, prevConnections, connections)

	profile := EntityProfile{
		ID:           idgen.New(),
		EntityID:     entityID,
		Version:      prevVersion + 1,
		CreatedAt:    time.Now().UTC(),
		Trigger:      trigger,
		Findings:     findings,
		RiskScore:    riskScore,
		Connections:  connections,
		SourcesUsed:  sourcesUsed,
		StaleSources: staleSources,
		Delta:        &delta,
	}
	if hasPrev {
		profile.PreviousVersion = prevID.String
	}

	findingsJSON, err := marshalFindings(findings)
	if err != nil {
		return EntityProfile{}, err
	}
	connsJSON, err := json.Marshal(connections)
	if err != nil {
		return EntityProfile{}, err
	}
	sourcesJSON, err := json.Marshal(sourcesUsed)
	if err != nil {
		return EntityProfile{}, err
	}
	staleJSON, err := json.Marshal(staleSources)
	if err != nil {
		return EntityProfile{}, err
	}
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return EntityProfile{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_profiles
			(id, entity_id, version, created_at, trigger, findings, risk_score, connections, sources_used, stale_sources, previous_version, delta)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, profile.ID, entityID, profile.Version, profile.CreatedAt, trigger, findingsJSON, riskScore, connsJSON, sourcesJSON, staleJSON, toNullString(profile.PreviousVersion), deltaJSON)
	if err != nil {
		return EntityProfile{}, err
	}

	if err := tx.Commit(); err != nil {
		return EntityProfile{}, err
	}
	return profile, nil
}

// LatestProfile returns the highest-version profile for an entity.
func (s *Store) LatestProfile(ctx context.Context, entityID string) (EntityProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity_id, version, created_at, trigger, findings, risk_score, connections, sources_used, stale_sources, previous_version, delta
		FROM entity_profiles
		WHERE entity_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, entityID)
	return scanProfile(row)
}

func scanProfile(scanner rowScanner) (EntityProfile, error) {
	var (
		p             EntityProfile
		findingsRaw   []byte
		connsRaw      []byte
		sourcesRaw    []byte
		staleRaw      []byte
		deltaRaw      []byte
		previousVer   sql.NullString
		createdAt     time.Time
	)
	if err := scanner.Scan(&p.ID, &p.EntityID, &p.Version, &createdAt, &p.Trigger, &findingsRaw, &p.RiskScore, &connsRaw, &sourcesRaw, &staleRaw, &previousVer, &deltaRaw); err != nil {
		return EntityProfile{}, err
	}
	p.CreatedAt = createdAt.UTC()
	if previousVer.Valid {
		p.PreviousVersion = previousVer.String
	}
	findings, err := unmarshalFindings(findingsRaw)
	if err != nil {
		return EntityProfile{}, err
	}
	p.Findings = findings
	_ = json.Unmarshal(connsRaw, &p.Connections)
	_ = json.Unmarshal(sourcesRaw, &p.SourcesUsed)
	_ = json.Unmarshal(staleRaw, &p.StaleSources)
	if len(deltaRaw) > 0 {
		var delta ProfileDelta
		if err := json.Unmarshal(deltaRaw, &delta); err == nil {
			p.Delta = &delta
		}
	}
	return p, nil
}

func toNullString(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
