package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/policylens/policylens/internal/llm"
	"github.com/policylens/policylens/internal/policy"
)

const extractionPrompt = `You are a precise financial policy analyst. Return only valid JSON without any markdown formatting.

Extract structured information from the following government policy announcement.

POLICY TITLE: %s

POLICY SUMMARY: %s

Extract the following information and return ONLY a valid JSON object (no markdown, no code blocks):

1. category: Choose ONE from: %s
2. impact_type: Choose ONE from: %s
   - percentage: for rate changes (e.g., GST increase from 18%% to 20%%)
   - fixed_amount: for absolute amount changes (e.g., subsidy of 500)
   - multiplier: for multiplicative changes (e.g., doubled from X to 2X)
   - binary: for yes/no changes (e.g., service introduced or removed)
3. impact_value: A numeric value representing the impact
   - For percentage: the change amount (e.g., 2 for 18%% to 20%%)
   - For fixed_amount: the amount in rupees
   - For multiplier: the multiplication factor
   - For binary: 1 for positive, -1 for negative
4. old_value: The previous value (if mentioned, otherwise null)
5. new_value: The new value (if mentioned, otherwise null)
6. affected_items: List of specific items/services affected (e.g., ["luxury cars", "SUVs"])
7. description: A brief 1-2 sentence summary of the impact

Return ONLY this JSON structure:
{
  "category": "...",
  "impact_type": "...",
  "impact_value": 0.0,
  "old_value": 0.0 or null,
  "new_value": 0.0 or null,
  "affected_items": [],
  "description": "..."
}

If you cannot extract meaningful financial impact data, return null for all fields except description.`

// OutcomeKind tags an extraction outcome.
type OutcomeKind int

const (
	// OutcomeFailed is an ordinary per-item failure: parse error after
	// retries, invalid extraction, or an unclassified provider error.
	OutcomeFailed OutcomeKind = iota
	// OutcomeSuccess carries a validated extraction.
	OutcomeSuccess
	// OutcomeQuotaExhausted means the provider reported quota/rate-limit
	// exhaustion even after backoff. Callers must stop issuing calls for the
	// remainder of the batch.
	OutcomeQuotaExhausted
	// OutcomeModelUnavailable means the configured model does not exist.
	// Also a batch-halting signal.
	OutcomeModelUnavailable
)

// Extraction is a validated structured result from the reasoning service.
type Extraction struct {
	Category      string
	ImpactType    *string
	ImpactValue   *float64
	OldValue      *float64
	NewValue      *float64
	AffectedItems []string
	Description   *string
}

// Outcome is the result of one extraction attempt: a success payload or a
// classified failure.
type Outcome struct {
	Kind       OutcomeKind
	Extraction *Extraction
}

// Extractor sends policy text to the reasoning service and validates the
// structured response.
type Extractor struct {
	provider  llm.Provider
	maxTokens int
	retries   int

	// Delays are fields so tests can shrink them.
	retryDelay  time.Duration
	backoffBase time.Duration
}

// NewExtractor creates an extractor. retries < 0 falls back to 2.
func NewExtractor(provider llm.Provider, maxTokens, retries int) *Extractor {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	if retries < 0 {
		retries = 2
	}
	return &Extractor{
		provider:    provider,
		maxTokens:   maxTokens,
		retries:     retries,
		retryDelay:  time.Second,
		backoffBase: 2 * time.Second,
	}
}

// Extract asks the reasoning service for structured impact data.
func (e *Extractor) Extract(ctx context.Context, title, summary string) Outcome {
	if e.provider == nil || !e.provider.IsConfigured() {
		return Outcome{Kind: OutcomeModelUnavailable}
	}

	prompt := fmt.Sprintf(extractionPrompt, title, summary,
		strings.Join(policy.Categories, ", "), strings.Join(policy.ImpactTypes, ", "))

	for attempt := 0; attempt <= e.retries; attempt++ {
		text, err := e.provider.Generate(ctx, prompt, e.maxTokens)
		if err != nil {
			switch classifyError(err) {
			case failureQuota:
				if attempt < e.retries {
					wait := e.backoffBase << attempt
					log.Printf("Quota exceeded (attempt %d/%d), backing off %s", attempt+1, e.retries+1, wait)
					if !sleepCtx(ctx, wait) {
						return Outcome{Kind: OutcomeQuotaExhausted}
					}
					continue
				}
				log.Printf("Quota exhausted after %d attempts", e.retries+1)
				return Outcome{Kind: OutcomeQuotaExhausted}
			case failureModel:
				log.Printf("Model unavailable: %v", err)
				return Outcome{Kind: OutcomeModelUnavailable}
			default:
				log.Printf("Extraction error: %v", err)
				if attempt < e.retries {
					sleepCtx(ctx, e.retryDelay)
					continue
				}
				return Outcome{Kind: OutcomeFailed}
			}
		}

		parsed, perr := llm.ParseJSONResponse(text)
		if perr != nil {
			log.Printf("JSON parsing error: %v", perr)
			if attempt < e.retries {
				sleepCtx(ctx, e.retryDelay)
				continue
			}
			return Outcome{Kind: OutcomeFailed}
		}

		ext, ok := validateExtraction(parsed)
		if !ok {
			log.Printf("Invalid extraction for %q", title)
			return Outcome{Kind: OutcomeFailed}
		}
		return Outcome{Kind: OutcomeSuccess, Extraction: ext}
	}

	return Outcome{Kind: OutcomeFailed}
}

type failureClass int

const (
	failureOther failureClass = iota
	failureQuota
	failureModel
)

// classifyError maps a provider error to a failure class by status code,
// falling back to message substrings the way provider SDKs surface them.
func classifyError(err error) failureClass {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case 429:
			return failureQuota
		case 404:
			return failureModel
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "quota"),
		strings.Contains(msg, "rate limit"), strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "resource exhausted"):
		return failureQuota
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		return failureModel
	}
	return failureOther
}

// validateExtraction enforces the response contract: required keys present,
// non-null category and impact_type drawn from the fixed vocabularies, and a
// numeric-coercible impact_value.
func validateExtraction(data map[string]any) (*Extraction, bool) {
	for _, key := range []string{"category", "impact_type", "impact_value", "description"} {
		if _, ok := data[key]; !ok {
			return nil, false
		}
	}

	ext := &Extraction{}

	if v, ok := data["category"].(string); ok && v != "" {
		if !policy.ValidCategory(v) {
			return nil, false
		}
		ext.Category = v
	} else if data["category"] != nil {
		return nil, false
	}

	if v, ok := data["impact_type"].(string); ok && v != "" {
		if !policy.ValidImpactType(v) {
			return nil, false
		}
		ext.ImpactType = &v
	} else if data["impact_type"] != nil {
		return nil, false
	}

	if data["impact_value"] != nil {
		f, ok := toFloat(data["impact_value"])
		if !ok {
			return nil, false
		}
		ext.ImpactValue = &f
	}

	if f, ok := toFloat(data["old_value"]); ok {
		ext.OldValue = &f
	}
	if f, ok := toFloat(data["new_value"]); ok {
		ext.NewValue = &f
	}

	if arr, ok := data["affected_items"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok {
				ext.AffectedItems = append(ext.AffectedItems, s)
			}
		}
	}

	if s, ok := data["description"].(string); ok && s != "" {
		ext.Description = &s
	}

	return ext, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
