package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/policylens/policylens/internal/analyze"
	"github.com/policylens/policylens/internal/config"
	"github.com/policylens/policylens/internal/database"
	"github.com/policylens/policylens/internal/fetch"
	"github.com/policylens/policylens/internal/llm"
	"github.com/policylens/policylens/internal/policy"
	"github.com/policylens/policylens/internal/scrape"
)

// Result holds the outcome of one full scrape-analyze-persist pass.
type Result struct {
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	TotalScraped int    `json:"total_scraped"`
	Analyzed     int    `json:"analyzed"`
	Unanalyzed   int    `json:"unanalyzed"`
	Saved        int    `json:"saved"`
	Skipped      int    `json:"skipped"`
	Errors       int    `json:"errors"`
	CircuitOpen  bool   `json:"circuit_open"`
}

// SaveResult counts the persistence gate's decisions.
type SaveResult struct {
	Saved   int
	Skipped int
	Errors  int
}

// Pipeline wires the scraper, summary backfill, batch analysis, and the
// dedup-gated persistence path.
type Pipeline struct {
	db      *database.DB
	scraper *scrape.Scraper
	fetcher *fetch.SummaryFetcher
	batcher *analyze.Batcher
}

// New builds a pipeline from configuration.
func New(cfg *config.Config, db *database.DB) *Pipeline {
	provider := llm.NewGeminiProvider(cfg.Analysis.Model, cfg.Analysis.BaseURL, cfg.Analysis.APIKeyEnv)
	extractor := analyze.NewExtractor(provider, cfg.Analysis.MaxTokens, cfg.Analysis.Retries)

	return &Pipeline{
		db:      db,
		scraper: scrape.New(cfg.Sources, cfg.Keywords, cfg.Scraper.MaxItems),
		fetcher: fetch.NewSummaryFetcher(15 * time.Second),
		batcher: analyze.NewBatcher(extractor),
	}
}

// NewWithParts builds a pipeline from pre-constructed components. Used by
// tests to substitute fake sources and providers.
func NewWithParts(db *database.DB, scraper *scrape.Scraper, fetcher *fetch.SummaryFetcher, batcher *analyze.Batcher) *Pipeline {
	return &Pipeline{db: db, scraper: scraper, fetcher: fetcher, batcher: batcher}
}

// Run executes one full pass: scrape sources, backfill thin summaries,
// analyze the batch, and save everything through the dedup gate. Failures
// local to a source or an item are counted, never raised; the returned
// result is always structured so the scheduler can survive any pass.
func (p *Pipeline) Run(ctx context.Context) *Result {
	r := &Result{Status: "success"}

	scraped := p.scraper.Scrape(ctx)
	r.TotalScraped = len(scraped.Items)
	if len(scraped.Items) == 0 {
		r.Message = "no relevant policy items found"
		return r
	}

	p.fetcher.FillMissingSummaries(scraped.Items)

	items, outcome := p.batcher.AnalyzeBatch(ctx, scraped.Items)
	r.Analyzed = outcome.Succeeded
	r.Unanalyzed = outcome.Failed
	r.CircuitOpen = outcome.CircuitOpened
	if outcome.CircuitOpened {
		r.Message = "analysis halted mid-batch; run retry-analysis once quota recovers"
	}

	save := p.save(items)
	r.Saved = save.Saved
	r.Skipped = save.Skipped
	r.Errors = save.Errors
	if r.Errors > 0 {
		r.Status = "partial"
	}

	log.Printf("Pass complete: %d scraped, %d saved, %d duplicates, %d errors",
		r.TotalScraped, r.Saved, r.Skipped, r.Errors)
	return r
}

// save runs each item through the dedup gate: existing fingerprints are
// skipped, new ones inserted. A failing item never aborts the rest.
func (p *Pipeline) save(items []policy.Item) SaveResult {
	var sr SaveResult
	for _, it := range items {
		exists, err := p.db.HasFingerprint(it.Fingerprint)
		if err != nil {
			log.Printf("Error checking %q: %v", clip(it.Title), err)
			sr.Errors++
			continue
		}
		if exists {
			log.Printf("Skipping duplicate: %s", clip(it.Title))
			sr.Skipped++
			continue
		}
		if _, err := p.db.InsertPolicy(it); err != nil {
			log.Printf("Error saving %q: %v", clip(it.Title), err)
			sr.Errors++
			continue
		}
		sr.Saved++
	}
	return sr
}

func clip(s string) string {
	if len(s) > 50 {
		return s[:50] + "..."
	}
	return s
}
