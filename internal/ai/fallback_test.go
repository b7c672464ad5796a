package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/tangentland/elile-sub002/internal/sar"
	"github.com/tangentland/elile-sub002/internal/store"
)

func TestRuleBasedExtractMatchesKeyword(t *testing.T) {
	rb := NewRuleBased()
	facts := []sar.Fact{{Key: "criminal_record", Value: "county felony conviction 2019", Source: "courtlink"}}
	findings, err := rb.Extract(context.Background(), facts, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].Category != "criminal" || findings[0].Severity != store.SeverityCritical {
		t.Fatalf("got %+v, want one CRITICAL criminal finding", findings)
	}
}

func TestRuleBasedExtractNoMatchIsEmpty(t *testing.T) {
	rb := NewRuleBased()
	facts := []sar.Fact{{Key: "employment_title", Value: "senior engineer", Source: "hris"}}
	findings, err := rb.Extract(context.Background(), facts, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("got %d findings, want 0", len(findings))
	}
}

type stubModel struct {
	findings []store.Finding
	err      error
}

func (s *stubModel) Extract(context.Context, []sar.Fact, string) ([]store.Finding, error) {
	return s.findings, s.err
}
func (s *stubModel) Classify(context.Context, string) (string, string, float64, error) {
	if s.err != nil {
		return "", "", 0, s.err
	}
	return "criminal", "felony", 0.9, nil
}
func (s *stubModel) Score(context.Context, string, string) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return 0.9, nil
}

func TestFallbackUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubModel{findings: []store.Finding{{Category: "criminal"}}}
	fb := NewFallback(primary, NewRuleBased())
	findings, err := fb.Extract(context.Background(), nil, "")
	if err != nil || len(findings) != 1 || findings[0].Category != "criminal" {
		t.Fatalf("got %+v, %v; want the primary's single finding", findings, err)
	}
}

func TestFallbackSwitchesOnPrimaryError(t *testing.T) {
	primary := &stubModel{err: errors.New("transport down")}
	fb := NewFallback(primary, NewRuleBased())
	facts := []sar.Fact{{Key: "sanctions_check", Value: "OFAC SDN list match", Source: "worldcheck"}}
	findings, err := fb.Extract(context.Background(), facts, "")
	if err != nil {
		t.Fatalf("fallback should absorb the primary's error: %v", err)
	}
	if len(findings) != 1 || findings[0].Category != "sanctions" {
		t.Fatalf("got %+v, want the rule-based sanctions finding", findings)
	}
}

func TestFallbackClassifyAndScoreSwitchOnError(t *testing.T) {
	primary := &stubModel{err: errors.New("down")}
	fb := NewFallback(primary, NewRuleBased())
	category, _, _, err := fb.Classify(context.Background(), "felony conviction for theft")
	if err != nil || category != "criminal" {
		t.Fatalf("Classify fallback = %q, %v; want criminal, nil", category, err)
	}
	score, err := fb.Score(context.Background(), "felony conviction for theft", "criminal")
	if err != nil || score <= 0 {
		t.Fatalf("Score fallback = %v, %v; want positive score, nil", score, err)
	}
}
