package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/policylens/policylens/internal/analyze"
	"github.com/policylens/policylens/internal/config"
	"github.com/policylens/policylens/internal/database"
	"github.com/policylens/policylens/internal/fetch"
	"github.com/policylens/policylens/internal/llm"
	"github.com/policylens/policylens/internal/policy"
	"github.com/policylens/policylens/internal/scrape"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type mockProvider struct {
	response string
	err      error
	calls    int
}

func (m *mockProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	m.calls++
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

const validResponse = `{
	"category": "food",
	"impact_type": "percentage",
	"impact_value": 2,
	"old_value": 18,
	"new_value": 20,
	"affected_items": ["restaurant meals"],
	"description": "GST on restaurant meals rises by 2 points."
}`

const listingPage = `<html><body>
<div class="news-item">
  <h2>GST rate revised for restaurants</h2>
  <a href="/gst">More</a>
  <p>Rates move from 18% to 20% next month.</p>
</div>
<div class="news-item">
  <h2>New housing subsidy scheme launched</h2>
  <a href="/subsidy">More</a>
  <p>A subsidy of 50,000 for first-time buyers.</p>
</div>
<div class="news-item">
  <h2>Income Tax slabs restructured</h2>
  <a href="/tax">More</a>
  <p>New slabs take effect in April.</p>
</div>
<div class="news-item">
  <h2>Cricket team announces new captain</h2>
  <a href="/cricket">More</a>
  <p>A sports story with no fiscal content.</p>
</div>
<div class="news-item">
  <h2>Film festival opens this weekend</h2>
  <a href="/film">More</a>
  <p>Screenings run through Sunday.</p>
</div>
</body></html>`

var testKeywords = []string{"GST", "Tax", "Subsidy", "Budget"}

func newTestPipeline(t *testing.T, db *database.DB, p llm.Provider) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage))
	}))
	t.Cleanup(srv.Close)

	scraper := scrape.New([]config.Source{{URL: srv.URL, Name: "Test Gov", Type: "html"}}, testKeywords, 10)
	fetcher := fetch.NewSummaryFetcher(5 * time.Second)
	batcher := analyze.NewBatcher(analyze.NewExtractor(p, 500, 0))
	return NewWithParts(db, scraper, fetcher, batcher)
}

func TestRunEndToEnd(t *testing.T) {
	db := openTestDB(t)
	provider := &mockProvider{response: validResponse}
	pipe := newTestPipeline(t, db, provider)

	r := pipe.Run(context.Background())

	if r.TotalScraped != 3 {
		t.Fatalf("expected 3 relevant items scraped, got %d", r.TotalScraped)
	}
	if r.Analyzed != 3 || r.Unanalyzed != 0 {
		t.Errorf("expected all items analyzed, got %+v", r)
	}
	if r.Saved != 3 || r.Skipped != 0 || r.Errors != 0 {
		t.Errorf("expected 3 saved, got %+v", r)
	}
	if r.CircuitOpen {
		t.Error("expected circuit closed")
	}

	stats, _ := db.GetStats()
	if stats.TotalPolicies != 3 || stats.AnalyzedPolicies != 3 {
		t.Errorf("unexpected db state: %+v", stats)
	}
}

func TestRunDeduplicatesSecondPass(t *testing.T) {
	db := openTestDB(t)
	provider := &mockProvider{response: validResponse}
	pipe := newTestPipeline(t, db, provider)

	pipe.Run(context.Background())
	r := pipe.Run(context.Background())

	if r.Saved != 0 {
		t.Errorf("expected nothing saved on second pass, got %d", r.Saved)
	}
	if r.Skipped != 3 {
		t.Errorf("expected 3 duplicates skipped, got %d", r.Skipped)
	}

	stats, _ := db.GetStats()
	if stats.TotalPolicies != 3 {
		t.Errorf("expected 3 policies after both passes, got %d", stats.TotalPolicies)
	}
}

func TestRunSavesUnanalyzedWhenCircuitOpens(t *testing.T) {
	db := openTestDB(t)
	provider := &mockProvider{err: &llm.StatusError{Code: 429, Message: "quota exceeded"}}
	pipe := newTestPipeline(t, db, provider)

	r := pipe.Run(context.Background())

	if !r.CircuitOpen {
		t.Fatal("expected circuit open")
	}
	if r.Analyzed != 0 || r.Unanalyzed != 3 {
		t.Errorf("expected all items unanalyzed, got %+v", r)
	}
	// every scraped item still lands in the database
	if r.Saved != 3 {
		t.Errorf("expected 3 saved without analysis, got %d", r.Saved)
	}
	if provider.calls != 1 {
		t.Errorf("expected 1 provider call before the circuit opened, got %d", provider.calls)
	}

	pending, _ := db.UnanalyzedPolicies(50)
	if len(pending) != 3 {
		t.Errorf("expected 3 unanalyzed rows, got %d", len(pending))
	}
}

func TestRunEmptyScrape(t *testing.T) {
	db := openTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body></body></html>"))
	}))
	defer srv.Close()

	provider := &mockProvider{response: validResponse}
	scraper := scrape.New([]config.Source{{URL: srv.URL, Name: "Empty", Type: "html"}}, testKeywords, 10)
	pipe := NewWithParts(db, scraper, fetch.NewSummaryFetcher(5*time.Second),
		analyze.NewBatcher(analyze.NewExtractor(provider, 500, 0)))

	r := pipe.Run(context.Background())
	if r.TotalScraped != 0 {
		t.Errorf("expected nothing scraped, got %d", r.TotalScraped)
	}
	if r.Message == "" {
		t.Error("expected explanatory message for empty pass")
	}
	if provider.calls != 0 {
		t.Errorf("expected no provider calls, got %d", provider.calls)
	}
}

func insertUnanalyzed(t *testing.T, db *database.DB, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		title := fmt.Sprintf("Pending policy %d", i)
		link := fmt.Sprintf("https://example.gov/pending/%d", i)
		_, err := db.InsertPolicy(policy.Item{
			Title:       title,
			Summary:     "Needs analysis",
			Link:        link,
			Fingerprint: policy.Fingerprint(title, link),
			Category:    "general",
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func TestRetryUnanalyzed(t *testing.T) {
	db := openTestDB(t)
	insertUnanalyzed(t, db, 5)

	done := policy.Item{
		Title: "Done", Link: "https://example.gov/done",
		Fingerprint: policy.Fingerprint("Done", "https://example.gov/done"),
		Category:    "food", Analyzed: true,
	}
	db.InsertPolicy(done)

	provider := &mockProvider{response: validResponse}
	pipe := newTestPipeline(t, db, provider)

	r, err := pipe.RetryUnanalyzed(context.Background(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Total != 5 || r.Analyzed != 5 || r.Failed != 0 {
		t.Errorf("unexpected result: %+v", r)
	}

	// updates only, never inserts
	stats, _ := db.GetStats()
	if stats.TotalPolicies != 6 {
		t.Errorf("expected 6 rows, got %d", stats.TotalPolicies)
	}
	if stats.AnalyzedPolicies != 6 {
		t.Errorf("expected all rows analyzed, got %d", stats.AnalyzedPolicies)
	}
}

func TestRetryUnanalyzedKeepsFailuresPending(t *testing.T) {
	db := openTestDB(t)
	insertUnanalyzed(t, db, 3)

	provider := &mockProvider{response: "not json"}
	pipe := newTestPipeline(t, db, provider)

	r, err := pipe.RetryUnanalyzed(context.Background(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Analyzed != 0 || r.Failed != 3 {
		t.Errorf("unexpected result: %+v", r)
	}

	pending, _ := db.UnanalyzedPolicies(50)
	if len(pending) != 3 {
		t.Errorf("expected rows left pending for the next retry, got %d", len(pending))
	}
}

func TestRetryUnanalyzedNothingPending(t *testing.T) {
	db := openTestDB(t)
	provider := &mockProvider{response: validResponse}
	pipe := newTestPipeline(t, db, provider)

	r, err := pipe.RetryUnanalyzed(context.Background(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Total != 0 {
		t.Errorf("expected empty retry, got %+v", r)
	}
	if provider.calls != 0 {
		t.Errorf("expected no provider calls, got %d", provider.calls)
	}
}
