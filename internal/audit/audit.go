// Package audit implements the append-only, HMAC-chained audit trail
// (spec.md §6 "Audit event format": "audit_id, request_id, tenant_id,
// actor, ts, event_type, payload (structured), hmac_chain. Event types
// cover every gate ... and every external call. Retention >= 7 years.").
// The chaining idiom (crypto/hmac + crypto/sha256, no third-party MAC
// library) follows the teacher's own envelope/VRF packages
// (infrastructure/crypto/envelope.go, infrastructure/crypto/vrf.go),
// which reach straight for the stdlib HMAC primitives rather than a
// wrapper library — the pack has no HMAC-chain library anywhere, so
// this is stdlib by the same reasoning the teacher itself applies.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/tangentland/elile-sub002/internal/idgen"
)

// EventType enumerates the gates and external calls spec.md §4.H
// requires an audit event for.
type EventType string

const (
	EventConsentGranted       EventType = "CONSENT_GRANTED"
	EventComplianceEvaluated  EventType = "COMPLIANCE_EVALUATED"
	EventComplianceBlocked    EventType = "COMPLIANCE_BLOCKED"
	EventProviderCalled       EventType = "PROVIDER_CALLED"
	EventCacheHit             EventType = "CACHE_HIT"
	EventCacheRefresh         EventType = "CACHE_REFRESH"
	EventBudgetChecked        EventType = "BUDGET_CHECKED"
	EventBudgetExceeded       EventType = "BUDGET_EXCEEDED"
	EventTypeCompleted        EventType = "TYPE_COMPLETED"
	EventPhaseCompleted       EventType = "PHASE_COMPLETED"
	EventProfileCommitted     EventType = "PROFILE_COMMITTED"
	EventCheckpointWritten    EventType = "CHECKPOINT_WRITTEN"
	EventInvestigationCancel  EventType = "INVESTIGATION_CANCELLED"
	EventAIFallback           EventType = "AI_FALLBACK_USED"
	EventWebhookReceived      EventType = "WEBHOOK_RECEIVED"
	EventWebhookDelivered     EventType = "WEBHOOK_DELIVERED"
	EventAdverseActionPending EventType = "ADVERSE_ACTION_PENDING"
)

// Event is one append-only audit record (spec.md §6 exact field list).
type Event struct {
	AuditID   string          `json:"audit_id"`
	RequestID string          `json:"request_id"`
	TenantID  string          `json:"tenant_id"`
	Actor     string          `json:"actor"`
	Timestamp time.Time       `json:"ts"`
	EventType EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	HMACChain string          `json:"hmac_chain"`
}

// Logger appends HMAC-chained audit events and verifies chain integrity.
// The chain key is shared (read once at startup by the caller), but the
// chain itself is per-tenant: Tail/VerifyChain operate on a
// tenant-filtered event subsequence, so Append tracks one "prev" tip per
// tenant rather than a single global tip, and one tenant's events never
// become links in another tenant's chain.
type Logger struct {
	db  *sql.DB
	key []byte

	mu   sync.Mutex
	prev map[string]string
}

// NewLogger creates a Logger. key is the HMAC chain key, supplied by the
// caller (cmd/orchestrator reads it through internal/config), never a
// literal in code.
func NewLogger(db *sql.DB, key []byte) *Logger {
	return &Logger{db: db, key: key, prev: make(map[string]string)}
}

// Append computes the next hmac_chain value as HMAC(key, prevChain ||
// auditID || eventType || payload) and writes the event, so any record's
// integrity depends on every record before it in that tenant's chain
// (spec.md §6 "hmac_chain"). The first Append for a tenant since process
// start seeds its chain tip from the last persisted row for that tenant,
// so a restart never silently resets the chain to "".
func (l *Logger) Append(ctx context.Context, requestID, tenantID, actor string, eventType EventType, payload any) (Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	// the chain must be serialized per tenant: two concurrent appends for
	// the same tenant computing the next link from the same prev would
	// both "extend" the chain and one write would silently fork it, so
	// the lock spans the DB write too. A single mutex serializes across
	// tenants as well, which is fine: Append is not a hot enough path for
	// per-tenant locks to matter, and it keeps the prev-seeding query and
	// the insert atomic with respect to each other.
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.prev[tenantID]
	if !ok {
		prev, err = l.lastChainLocked(ctx, tenantID)
		if err != nil {
			return Event{}, err
		}
	}

	e := Event{
		AuditID:   idgen.New(),
		RequestID: requestID,
		TenantID:  tenantID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Payload:   payloadJSON,
	}
	e.HMACChain = l.chainValue(prev, e)

	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (audit_id, request_id, tenant_id, actor, ts, event_type, payload, hmac_chain)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.AuditID, e.RequestID, e.TenantID, e.Actor, e.Timestamp, string(e.EventType), payloadJSON, e.HMACChain); err != nil {
		return Event{}, err
	}

	l.prev[tenantID] = e.HMACChain
	return e, nil
}

// lastChainLocked returns the hmac_chain of the most recently persisted
// event for tenantID, or "" if the tenant has no prior events. Caller
// must hold l.mu.
func (l *Logger) lastChainLocked(ctx context.Context, tenantID string) (string, error) {
	var chain string
	err := l.db.QueryRowContext(ctx, `
		SELECT hmac_chain FROM audit_events
		WHERE tenant_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, tenantID).Scan(&chain)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return chain, nil
}

func (l *Logger) chainValue(prev string, e Event) string {
	mac := hmac.New(sha256.New, l.key)
	mac.Write([]byte(prev))
	mac.Write([]byte{0})
	mac.Write([]byte(e.AuditID))
	mac.Write([]byte{0})
	mac.Write([]byte(e.EventType))
	mac.Write([]byte{0})
	mac.Write(e.Payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Tail returns the most recent n audit events for a tenant, oldest first,
// for chain verification or display.
func (l *Logger) Tail(ctx context.Context, tenantID string, n int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT audit_id, request_id, tenant_id, actor, ts, event_type, payload, hmac_chain
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, tenantID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType string
		var payload []byte
		if err := rows.Scan(&e.AuditID, &e.RequestID, &e.TenantID, &e.Actor, &e.Timestamp, &eventType, &payload, &e.HMACChain); err != nil {
			return nil, err
		}
		e.EventType = EventType(eventType)
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to oldest-first, matching chain verification order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// VerifyChain recomputes each event's hmac_chain from its predecessor and
// reports the index of the first mismatch, or -1 if the chain is intact.
// events must be oldest-first, as returned by Tail. prev is the
// hmac_chain of the event immediately before events[0], or "" if
// events[0] is the first event ever appended.
func (l *Logger) VerifyChain(prev string, events []Event) int {
	for i, e := range events {
		want := l.chainValue(prev, e)
		if want != e.HMACChain {
			return i
		}
		prev = e.HMACChain
	}
	return -1
}
