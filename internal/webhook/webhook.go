// Package webhook implements the HRIS event ingress/egress surface
// (spec.md §6 "HRIS event ingress" / "outbound events ... published with
// retry/backoff"). Inbound signature verification follows the teacher's
// own header-gate middleware idiom (infrastructure/middleware/
// headergate.go: crypto/sha256 + crypto/subtle.ConstantTimeCompare, no
// third-party HMAC-verification library); outbound delivery reuses
// internal/resilience.Retry for backoff rather than hand-rolling a
// second retry loop.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tangentland/elile-sub002/internal/errors"
	"github.com/tangentland/elile-sub002/internal/resilience"
)

// InboundEventType enumerates the normalized HRIS events the orchestrator
// accepts (spec.md §6).
type InboundEventType string

const (
	EventHireInitiated    InboundEventType = "hire.initiated"
	EventConsentGranted   InboundEventType = "consent.granted"
	EventPositionChanged  InboundEventType = "position.changed"
	EventEmployeeTerminated InboundEventType = "employee.terminated"
	EventRehireInitiated  InboundEventType = "rehire.initiated"
)

// InboundEvent is a normalized HRIS event delivered to the receiver.
type InboundEvent struct {
	Type      InboundEventType `json:"type"`
	TenantID  string           `json:"tenant_id"`
	SubjectID string           `json:"subject_id"`
	Payload   json.RawMessage  `json:"payload"`
	Timestamp time.Time        `json:"ts"`
}

// VerifySignature checks an inbound webhook's HMAC-SHA256 signature
// against body, using a fixed-length constant-time comparison so the
// check is not a timing oracle (grounded on the teacher's
// HeaderGateMiddleware, generalized from a shared-secret header check to
// a body-signed HMAC).
func VerifySignature(secret []byte, body []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signatureHex)
	if err != nil || len(got) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(expected, got) == 1
}

// Handler processes one inbound event type. Dispatcher maps an
// InboundEventType to the Handler that applies it to an investigation or
// the entity store (e.g. consent.granted resumes a pending_consent
// request, employee.terminated triggers vigilance teardown).
type Handler func(ctx context.Context, e InboundEvent) error

// Dispatcher routes verified inbound events to registered handlers.
type Dispatcher struct {
	secret   []byte
	handlers map[InboundEventType]Handler
}

// NewDispatcher creates a Dispatcher. secret is the tenant's (or shared)
// webhook signing secret; cmd/orchestrator reads it from
// WEBHOOK_SHARED_SECRET through internal/config.
func NewDispatcher(secret []byte) *Dispatcher {
	return &Dispatcher{secret: secret, handlers: make(map[InboundEventType]Handler)}
}

// On registers the handler invoked for a given inbound event type.
func (d *Dispatcher) On(t InboundEventType, h Handler) {
	d.handlers[t] = h
}

// Receive verifies the signature, decodes the event, and dispatches it to
// the registered handler. Returns errors.NotFound if no handler is
// registered for the event's type, so an unhandled event type fails loud
// rather than silently dropping.
func (d *Dispatcher) Receive(ctx context.Context, body []byte, signatureHex string) error {
	if !VerifySignature(d.secret, body, signatureHex) {
		return errors.Unauthorized("invalid webhook signature")
	}
	var e InboundEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return errors.InvalidInput("body", "malformed webhook payload")
	}
	h, ok := d.handlers[e.Type]
	if !ok {
		return errors.NotFound("webhook handler", string(e.Type))
	}
	return h(ctx, e)
}

// OutboundEventType enumerates the events the orchestrator publishes to
// subscribers (spec.md §6).
type OutboundEventType string

const (
	EventScreeningStarted  OutboundEventType = "screening.started"
	EventScreeningProgress OutboundEventType = "screening.progress"
	EventScreeningComplete OutboundEventType = "screening.complete"
	EventReviewRequired    OutboundEventType = "review.required"
	EventAdverseActionPending OutboundEventType = "adverse_action.pending"
	EventAlertGenerated    OutboundEventType = "alert.generated"
)

// OutboundEvent is one event published to a tenant's subscribed callback
// URL.
type OutboundEvent struct {
	Type      OutboundEventType `json:"type"`
	TenantID  string            `json:"tenant_id"`
	RequestID string            `json:"request_id"`
	Payload   any               `json:"payload"`
	Timestamp time.Time         `json:"ts"`
}

// Subscription is one tenant's registered callback for outbound events.
type Subscription struct {
	TenantID    string
	CallbackURL string
	Secret      []byte
}

// Publisher delivers outbound events to subscribed callback URLs with
// retry/backoff (spec.md §6 "published with retry/backoff").
type Publisher struct {
	client        *http.Client
	subscriptions map[string][]Subscription // tenantID -> subscriptions
	retryConfig   resilience.RetryConfig
}

// NewPublisher creates a Publisher using client for delivery (nil uses
// http.DefaultClient) and cfg for retry/backoff tuning (zero value uses
// resilience.DefaultRetryConfig).
func NewPublisher(client *http.Client, cfg resilience.RetryConfig) *Publisher {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxAttempts == 0 {
		cfg = resilience.DefaultRetryConfig()
	}
	return &Publisher{client: client, subscriptions: make(map[string][]Subscription), retryConfig: cfg}
}

// Subscribe registers a tenant's callback URL for outbound delivery.
func (p *Publisher) Subscribe(s Subscription) {
	p.subscriptions[s.TenantID] = append(p.subscriptions[s.TenantID], s)
}

// Publish delivers e to every subscription registered for e.TenantID,
// signing each delivery with that subscription's own secret and retrying
// network errors and 5xx responses with exponential backoff via
// resilience.Retry; a 4xx response is not retried.
// Delivery failures are collected and returned together so one dead
// subscriber does not block delivery to the others.
func (p *Publisher) Publish(ctx context.Context, e OutboundEvent) error {
	subs := p.subscriptions[e.TenantID]
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	var failures []error
	for _, sub := range subs {
		if err := p.deliver(ctx, sub, body); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", sub.CallbackURL, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("webhook: %d of %d deliveries failed: %v", len(failures), len(subs), failures)
	}
	return nil
}

func (p *Publisher) deliver(ctx context.Context, sub Subscription, body []byte) error {
	return resilience.Retry(ctx, p.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.CallbackURL, bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", sign(sub.Secret, body))

		resp, err := p.client.Do(req)
		if err != nil {
			return err // transient: network error, retry
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook: subscriber returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return resilience.Permanent(fmt.Errorf("webhook: subscriber returned %d", resp.StatusCode))
		}
		return nil
	})
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
