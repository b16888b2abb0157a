package analyze

import (
	"context"
	"log"
	"time"

	"github.com/policylens/policylens/internal/policy"
)

// BatchOutcome summarizes one batch analysis run.
type BatchOutcome struct {
	Succeeded     int
	Failed        int
	CircuitOpened bool
}

// Batcher drives the extractor over a list of items. A quota or model failure
// opens a circuit that suppresses further extractor calls for the rest of the
// batch; every item still comes out with a schema-complete record.
type Batcher struct {
	extractor *Extractor
	pacing    time.Duration
}

// NewBatcher creates a batch controller around the given extractor.
func NewBatcher(extractor *Extractor) *Batcher {
	return &Batcher{extractor: extractor, pacing: 500 * time.Millisecond}
}

// AnalyzeBatch enriches items in order and returns them with the run counts.
// Item identity (ID, fingerprint) passes through untouched so callers can key
// updates without relying on positions.
func (b *Batcher) AnalyzeBatch(ctx context.Context, items []policy.Item) ([]policy.Item, BatchOutcome) {
	out := make([]policy.Item, 0, len(items))
	outcome := BatchOutcome{}
	circuitOpen := false

	for i, it := range items {
		if circuitOpen {
			log.Printf("[%d/%d] Skipping (circuit open): %s", i+1, len(items), clip(it.Title))
			applyFallback(&it)
			outcome.Failed++
			out = append(out, it)
			continue
		}

		log.Printf("[%d/%d] Analyzing: %s", i+1, len(items), clip(it.Title))
		result := b.extractor.Extract(ctx, it.Title, it.Summary)

		switch result.Kind {
		case OutcomeQuotaExhausted, OutcomeModelUnavailable:
			circuitOpen = true
			outcome.CircuitOpened = true
			log.Printf("Halting analysis for this batch — remaining items saved without analysis")
			applyFallback(&it)
			outcome.Failed++
		case OutcomeSuccess:
			applyExtraction(&it, result.Extraction)
			outcome.Succeeded++
		default:
			applyFallback(&it)
			outcome.Failed++
		}

		out = append(out, it)

		// Pace calls to stay under provider rate limits. No point once the
		// circuit is open or before anything has succeeded.
		if i < len(items)-1 && !circuitOpen && outcome.Succeeded > 0 {
			sleepCtx(ctx, b.pacing)
		}
	}

	if outcome.CircuitOpened {
		log.Printf("Analysis incomplete: %d successful, %d skipped or failed", outcome.Succeeded, outcome.Failed)
	} else {
		log.Printf("Analysis complete: %d successful, %d failed", outcome.Succeeded, outcome.Failed)
	}
	return out, outcome
}

// applyExtraction merges a validated extraction onto the item.
func applyExtraction(it *policy.Item, ext *Extraction) {
	it.Category = ext.Category
	if it.Category == "" {
		it.Category = "general"
	}
	it.ImpactType = ext.ImpactType
	it.ImpactValue = ext.ImpactValue
	it.OldValue = ext.OldValue
	it.NewValue = ext.NewValue
	it.AffectedItems = ext.AffectedItems
	if it.AffectedItems == nil {
		it.AffectedItems = []string{}
	}
	it.AIDescription = ext.Description
	it.Analyzed = true
}

// applyFallback writes the deterministic unanalyzed record.
func applyFallback(it *policy.Item) {
	it.Category = "general"
	it.ImpactType = nil
	it.ImpactValue = nil
	it.OldValue = nil
	it.NewValue = nil
	it.AffectedItems = []string{}
	it.AIDescription = nil
	it.Analyzed = false
}

func clip(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
