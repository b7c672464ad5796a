// Package ai implements the AI-model interface spec.md §6 describes:
// one Go interface with a concrete adapter backed by
// github.com/anthropics/anthropic-sdk-go, and a deterministic
// rule-based fallback used whenever the model call fails transport or
// the response fails to parse (spec.md §4.G "Finding extraction",
// §4.H "Failure semantics"). Grounded on the provider-adapter shape
// (interface + concrete client + factory) used throughout the example
// pack's own AI integrations, generalized from chat-completion calls
// to structured extract/classify/score calls forced through tool use.
package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tangentland/elile-sub002/internal/errors"
	"github.com/tangentland/elile-sub002/internal/httputil"
	"github.com/tangentland/elile-sub002/internal/sar"
	"github.com/tangentland/elile-sub002/internal/store"
)

// Model is the Go interface a concrete AI adapter implements (spec.md
// §6 "AI-model interface"). One adapter per backing model provider;
// no class hierarchy beyond this interface (spec.md §9).
type Model interface {
	// Extract turns a batch of raw facts into structured findings.
	Extract(ctx context.Context, facts []sar.Fact, context string) ([]store.Finding, error)
	// Classify assigns a category/subcategory and confidence to a
	// single finding's free-text summary.
	Classify(ctx context.Context, summary string) (category, subCategory string, confidence float64, err error)
	// Score estimates a severity-contributing signal strength in [0,1]
	// for a finding given its surrounding context.
	Score(ctx context.Context, summary, category string) (float64, error)
}

// Claude is the concrete Model adapter backed by anthropic-sdk-go.
type Claude struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewClaude builds a Claude adapter. apiKey is supplied by the caller
// (cmd/orchestrator reads it through internal/config's env/secret
// lookup), never a literal in code (spec.md §9 "Secrets").
// The outbound transport is built through httputil, the same
// TLS-1.2-floor/timeout client construction every other external call
// in this tree goes through, rather than anthropic-sdk-go's bare
// default transport.
func NewClaude(apiKey string, model anthropic.Model) *Claude {
	httpClient, _ := httputil.NewClient(httputil.ClientConfig{
		HTTPClient: &http.Client{Transport: httputil.DefaultTransportWithMinTLS12()},
		Timeout:    30 * time.Second,
	}, httputil.DefaultClientDefaults())
	client := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient))
	return &Claude{client: &client, model: model}
}

// extractionTool forces the model to return findings as a single JSON
// tool call rather than free text, so a parse failure is a schema
// violation the caller can detect and fall back from, not prose to
// scrape (spec.md §4.G "Finding extraction").
var extractionTool = anthropic.ToolParam{
	Name:        "report_findings",
	Description: anthropic.String("Report every background-screening finding extracted from the supplied facts."),
	InputSchema: anthropic.ToolInputSchemaParam{
		Type: "object",
		Properties: map[string]interface{}{
			"findings": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"category":       map[string]interface{}{"type": "string"},
						"sub_category":   map[string]interface{}{"type": "string"},
						"summary":        map[string]interface{}{"type": "string"},
						"detail":         map[string]interface{}{"type": "string"},
						"severity":       map[string]interface{}{"type": "string", "enum": []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}},
						"confidence":     map[string]interface{}{"type": "number"},
						"role_relevance": map[string]interface{}{"type": "number"},
					},
					"required": []string{"category", "summary", "severity", "confidence"},
				},
			},
		},
		Required: []string{"findings"},
	},
}

type extractedFinding struct {
	Category      string  `json:"category"`
	SubCategory   string  `json:"sub_category"`
	Summary       string  `json:"summary"`
	Detail        string  `json:"detail"`
	Severity      string  `json:"severity"`
	Confidence    float64 `json:"confidence"`
	RoleRelevance float64 `json:"role_relevance"`
}

type extractionResult struct {
	Findings []extractedFinding `json:"findings"`
}

// Extract calls Claude with facts serialized into the prompt and the
// surrounding investigation context, forcing tool-use output, then
// maps the tool call's input into store.Finding values.
func (c *Claude) Extract(ctx context.Context, facts []sar.Fact, investigationContext string) ([]store.Finding, error) {
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return nil, errors.AIUnavailable("extract", err)
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{{
			Text: "You are a background-screening analyst. Extract every distinct finding implied by the supplied facts. Call report_findings exactly once.",
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(
				"Investigation context: " + investigationContext + "\nFacts: " + string(factsJSON))),
		},
		Tools:      []anthropic.ToolUnionParam{{OfTool: &extractionTool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{OfToolChoiceTool: &anthropic.ToolChoiceToolParam{Name: extractionTool.Name}},
	})
	if err != nil {
		return nil, errors.AIUnavailable("extract", err)
	}

	for _, block := range message.Content {
		if block.Type != "tool_use" {
			continue
		}
		var result extractionResult
		if err := json.Unmarshal(block.Input, &result); err != nil {
			return nil, errors.AIUnavailable("extract", err)
		}
		return toFindings(result), nil
	}
	return nil, errors.AIUnavailable("extract", context.DeadlineExceeded)
}

func toFindings(result extractionResult) []store.Finding {
	findings := make([]store.Finding, 0, len(result.Findings))
	for _, f := range result.Findings {
		findings = append(findings, store.Finding{
			Category:      f.Category,
			SubCategory:   f.SubCategory,
			Summary:       f.Summary,
			Detail:        f.Detail,
			Severity:      store.FindingSeverity(f.Severity),
			Confidence:    f.Confidence,
			RoleRelevance: f.RoleRelevance,
			DiscoveredAt:  time.Now().UTC(),
		})
	}
	return findings
}

// Classify and Score do not call the model: both always return
// AIUnavailable. Wrapped in a Fallback, every Classify/Score call is
// therefore answered by the fallback Model (the RuleBased extractor in
// fallback.go).
func (c *Claude) Classify(ctx context.Context, summary string) (string, string, float64, error) {
	return "", "", 0, errors.AIUnavailable("classify", context.DeadlineExceeded)
}

func (c *Claude) Score(ctx context.Context, summary, category string) (float64, error) {
	return 0, errors.AIUnavailable("score", context.DeadlineExceeded)
}
