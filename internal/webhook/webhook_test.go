package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tangentland/elile-sub002/internal/resilience"
)

func TestVerifySignatureAcceptsValidAndRejectsTampered(t *testing.T) {
	secret := []byte("shared-secret")
	body := []byte(`{"type":"consent.granted"}`)
	valid := sign(secret, body)

	if !VerifySignature(secret, body, valid) {
		t.Fatal("expected a correctly signed body to verify")
	}
	if VerifySignature(secret, []byte(`{"type":"tampered"}`), valid) {
		t.Fatal("expected a tampered body to fail verification")
	}
	if VerifySignature([]byte("wrong-secret"), body, valid) {
		t.Fatal("expected a signature under a different secret to fail verification")
	}
}

func TestDispatcherRoutesToRegisteredHandler(t *testing.T) {
	secret := []byte("shared-secret")
	d := NewDispatcher(secret)

	var received InboundEvent
	d.On(EventConsentGranted, func(_ context.Context, e InboundEvent) error {
		received = e
		return nil
	})

	e := InboundEvent{Type: EventConsentGranted, TenantID: "tenant-1", SubjectID: "subj-1", Timestamp: time.Now().UTC()}
	body, _ := json.Marshal(e)
	sig := sign(secret, body)

	if err := d.Receive(context.Background(), body, sig); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if received.SubjectID != "subj-1" {
		t.Fatalf("handler received %+v, want subject subj-1", received)
	}
}

func TestDispatcherRejectsInvalidSignature(t *testing.T) {
	d := NewDispatcher([]byte("shared-secret"))
	d.On(EventConsentGranted, func(context.Context, InboundEvent) error { return nil })

	e := InboundEvent{Type: EventConsentGranted, TenantID: "tenant-1"}
	body, _ := json.Marshal(e)

	if err := d.Receive(context.Background(), body, "deadbeef"); err == nil {
		t.Fatal("expected an error for an invalid signature")
	}
}

func TestDispatcherErrorsOnUnregisteredEventType(t *testing.T) {
	secret := []byte("shared-secret")
	d := NewDispatcher(secret)

	e := InboundEvent{Type: EventRehireInitiated, TenantID: "tenant-1"}
	body, _ := json.Marshal(e)
	sig := sign(secret, body)

	if err := d.Receive(context.Background(), body, sig); err == nil {
		t.Fatal("expected an error when no handler is registered for the event type")
	}
}

func TestPublisherDeliversSignedPayloadAndRetriesServerErrors(t *testing.T) {
	var attempts int32
	secret := []byte("subscriber-secret")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		sig := r.Header.Get("X-Webhook-Signature")
		if !VerifySignature(secret, body, sig) {
			t.Errorf("subscriber received an incorrectly signed payload")
		}
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewPublisher(nil, resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2})
	p.Subscribe(Subscription{TenantID: "tenant-1", CallbackURL: server.URL, Secret: secret})

	err := p.Publish(context.Background(), OutboundEvent{Type: EventScreeningStarted, TenantID: "tenant-1", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if atomic.LoadInt32(&attempts) < 2 {
		t.Fatalf("expected at least 2 attempts (one retry after 503), got %d", attempts)
	}
}

func TestPublisherDoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	p := NewPublisher(nil, resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2})
	p.Subscribe(Subscription{TenantID: "tenant-1", CallbackURL: server.URL, Secret: []byte("s")})

	if err := p.Publish(context.Background(), OutboundEvent{Type: EventAlertGenerated, TenantID: "tenant-1"}); err == nil {
		t.Fatal("expected Publish to surface the permanent 400 failure")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected exactly 1 attempt for a 4xx response, got %d", attempts)
	}
}

func TestPublishNoopsWithNoSubscriptions(t *testing.T) {
	p := NewPublisher(nil, resilience.DefaultRetryConfig())
	if err := p.Publish(context.Background(), OutboundEvent{Type: EventAlertGenerated, TenantID: "no-subscribers"}); err != nil {
		t.Fatalf("Publish with no subscriptions should no-op, got %v", err)
	}
}
