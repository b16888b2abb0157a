package pipeline

import (
	"context"
	"fmt"
	"log"
)

// RetryResult holds the outcome of a retry-analysis pass.
type RetryResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Analyzed int    `json:"analyzed"`
	Failed   int    `json:"failed"`
	Total    int    `json:"total"`
}

// RetryUnanalyzed re-runs batch analysis over persisted records that are
// still unanalyzed, then updates the rows that came back analyzed. Rows that
// stay unanalyzed are left untouched for the next retry. Never inserts.
func (p *Pipeline) RetryUnanalyzed(ctx context.Context, limit int) (*RetryResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.db.UnanalyzedPolicies(limit)
	if err != nil {
		return nil, fmt.Errorf("selecting unanalyzed policies: %w", err)
	}
	if len(rows) == 0 {
		return &RetryResult{Status: "success", Message: "no unanalyzed policies found"}, nil
	}

	log.Printf("Retrying analysis for %d unanalyzed policies", len(rows))

	// Reset enrichment so the batch sees the same shape the scraper
	// produces; row IDs ride along so updates are keyed, not positional.
	for i := range rows {
		rows[i].Category = "general"
		rows[i].ImpactType = nil
		rows[i].ImpactValue = nil
		rows[i].OldValue = nil
		rows[i].NewValue = nil
		rows[i].AffectedItems = nil
		rows[i].AIDescription = nil
		rows[i].Analyzed = false
	}

	enriched, _ := p.batcher.AnalyzeBatch(ctx, rows)

	r := &RetryResult{Status: "success", Total: len(rows)}
	for _, it := range enriched {
		if !it.Analyzed {
			log.Printf("Still unanalyzed: %s", clip(it.Title))
			r.Failed++
			continue
		}
		if err := p.db.UpdateAnalysis(it.ID, it); err != nil {
			log.Printf("Update failed for %q: %v", clip(it.Title), err)
			r.Failed++
			continue
		}
		log.Printf("Analyzed: %s", clip(it.Title))
		r.Analyzed++
	}

	log.Printf("Retry complete: %d analyzed, %d failed, %d total", r.Analyzed, r.Failed, r.Total)
	return r, nil
}
