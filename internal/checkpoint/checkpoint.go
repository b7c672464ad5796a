// Package checkpoint persists and restores investigation state at phase
// boundaries, type completions, and iterations (spec.md §4.F
// "Checkpointing"). It serializes the SAR state per information type plus
// the KnowledgeBase snapshot so that resume restores an exact equivalent
// state, and branching clones a checkpoint into a new investigation id.
// Backed by PostgreSQL via database/sql + lib/pq, following the teacher's
// explicit-SQL tenant-scoped Store pattern also used by internal/store.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tangentland/elile-sub002/internal/errors"
	"github.com/tangentland/elile-sub002/internal/idgen"
	"github.com/tangentland/elile-sub002/internal/knowledgebase"
	"github.com/tangentland/elile-sub002/internal/sar"
)

// Trigger identifies why a checkpoint was written (spec.md §4.F
// "configurable points (phase boundary, type completion, iteration)").
type Trigger string

const (
	TriggerPhaseBoundary  Trigger = "PHASE_BOUNDARY"
	TriggerTypeCompletion Trigger = "TYPE_COMPLETION"
	TriggerIteration      Trigger = "ITERATION"
	TriggerCancelled      Trigger = "CANCELLED"
)

// TypeState is the serializable form of one sar.State, since sar.State's
// prevConfidence field is unexported and must round-trip through the
// exported sar.Restore constructor.
type TypeState struct {
	InfoType       sar.InfoType `json:"info_type"`
	Iteration      int          `json:"iteration"`
	Phase          sar.Phase    `json:"phase"`
	Confidence     float64      `json:"confidence"`
	PrevConfidence float64      `json:"prev_confidence"`
	InfoGainRate   float64      `json:"info_gain_rate"`
	Gaps           []sar.Gap    `json:"gaps"`
	Queries        []sar.Query  `json:"queries"`
	Facts          []sar.Fact   `json:"facts"`
}

// FromState captures a TypeState from a live sar.State.
func FromState(s *sar.State) TypeState {
	return TypeState{
		InfoType:       s.InfoType,
		Iteration:      s.Iteration,
		Phase:          s.Phase,
		Confidence:     s.Confidence,
		PrevConfidence: s.PrevConfidence(),
		InfoGainRate:   s.InfoGainRate,
		Gaps:           s.Gaps,
		Queries:        s.Queries,
		Facts:          s.Facts,
	}
}

// Restore rebuilds a live sar.State from a persisted TypeState.
func (ts TypeState) Restore() *sar.State {
	return sar.Restore(ts.InfoType, ts.Iteration, ts.Phase, ts.Confidence, ts.PrevConfidence, ts.InfoGainRate, ts.Gaps, ts.Queries, ts.Facts)
}

// Checkpoint is the full serialized investigation state at one point in
// time (spec.md §4.F "serializes the SAR state + KnowledgeBase snapshot +
// per-type iteration states").
type Checkpoint struct {
	ID              string                 `json:"id"`
	InvestigationID string                 `json:"investigation_id"`
	TenantID        string                 `json:"tenant_id"`
	Trigger         Trigger                `json:"trigger"`
	TypeStates      map[string]TypeState   `json:"type_states"`
	KnowledgeBase   knowledgebase.Snapshot `json:"knowledge_base"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Snapshot builds a Checkpoint from live state, ready for Manager.Save.
func Snapshot(investigationID, tenantID string, trigger Trigger, states map[sar.InfoType]*sar.State, kb *knowledgebase.KnowledgeBase) Checkpoint {
	typeStates := make(map[string]TypeState, len(states))
	for t, s := range states {
		typeStates[string(t)] = FromState(s)
	}
	return Checkpoint{
		ID:              idgen.New(),
		InvestigationID: investigationID,
		TenantID:        tenantID,
		Trigger:         trigger,
		TypeStates:      typeStates,
		KnowledgeBase:   kb.Snapshot(),
		CreatedAt:       time.Now().UTC(),
	}
}

// States reconstructs the live sar.State map from a persisted checkpoint.
func (c Checkpoint) States() map[sar.InfoType]*sar.State {
	out := make(map[sar.InfoType]*sar.State, len(c.TypeStates))
	for t, ts := range c.TypeStates {
		out[sar.InfoType(t)] = ts.Restore()
	}
	return out
}

// KnowledgeBaseRestored reconstructs a live KnowledgeBase from the
// checkpoint's snapshot.
func (c Checkpoint) KnowledgeBaseRestored() *knowledgebase.KnowledgeBase {
	return knowledgebase.Restore(c.KnowledgeBase)
}

// Manager saves, restores, and branches checkpoints in PostgreSQL.
type Manager struct {
	db *sql.DB
}

// NewManager creates a Manager using the provided database handle.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Save persists a checkpoint. The investigation_id + created_at index lets
// Latest find the most recent row cheaply.
func (m *Manager) Save(ctx context.Context, c Checkpoint) error {
	if c.ID == "" {
		c.ID = idgen.New()
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, investigation_id, tenant_id, trigger, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.InvestigationID, c.TenantID, string(c.Trigger), payload, c.CreatedAt)
	return err
}

// Latest returns the most recently written checkpoint for an investigation,
// the resume path (spec.md §4.F "Resume restores an exact equivalent state").
func (m *Manager) Latest(ctx context.Context, investigationID string) (Checkpoint, bool, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT payload
		FROM checkpoints
		WHERE investigation_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, investigationID)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	var c Checkpoint
	if err := json.Unmarshal(payload, &c); err != nil {
		return Checkpoint{}, false, err
	}
	return c, true, nil
}

// Branch clones the latest checkpoint of sourceInvestigationID into a new
// investigation id, giving the branch its own checkpoint lineage (spec.md
// §4.F "branching clones a checkpoint into a new investigation id").
func (m *Manager) Branch(ctx context.Context, sourceInvestigationID, newInvestigationID string) (Checkpoint, error) {
	latest, ok, err := m.Latest(ctx, sourceInvestigationID)
	if err != nil {
		return Checkpoint{}, err
	}
	if !ok {
		return Checkpoint{}, errors.NotFound("checkpoint", sourceInvestigationID)
	}
	branch := latest
	branch.ID = idgen.New()
	branch.InvestigationID = newInvestigationID
	branch.CreatedAt = time.Now().UTC()
	if err := m.Save(ctx, branch); err != nil {
		return Checkpoint{}, err
	}
	return branch, nil
}
