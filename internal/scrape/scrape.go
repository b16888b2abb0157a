package scrape

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/policylens/policylens/internal/config"
	"github.com/policylens/policylens/internal/policy"
)

// maxPerSource bounds how many candidates one source may contribute.
const maxPerSource = 20

// candidate is a raw item extracted from a source before filtering and
// normalization.
type candidate struct {
	Title     string
	Summary   string
	Link      string
	Published string
}

// Result holds the results of a scrape pass.
type Result struct {
	Items         []policy.Item
	TotalFound    int
	Irrelevant    int
	SourcesFailed int
}

// Scraper fetches candidate items from the configured sources in order,
// keeps the keyword-relevant ones, and stops once enough items accumulate.
type Scraper struct {
	sources  []config.Source
	keywords []string
	maxItems int
	client   *http.Client
}

// New creates a Scraper. maxItems <= 0 falls back to 10.
func New(sources []config.Source, keywords []string, maxItems int) *Scraper {
	if maxItems <= 0 {
		maxItems = 10
	}
	return &Scraper{
		sources:  sources,
		keywords: keywords,
		maxItems: maxItems,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Scrape walks the source list in order. A failing source is logged and
// skipped; it never aborts the pass.
func (s *Scraper) Scrape(ctx context.Context) *Result {
	r := &Result{}

	for _, src := range s.sources {
		var cands []candidate
		var err error

		switch src.Type {
		case "rss":
			cands, err = s.scrapeFeed(ctx, src)
		default:
			cands, err = s.scrapeHTML(ctx, src)
		}
		if err != nil {
			log.Printf("Skipping source %s: %v", src.Name, err)
			r.SourcesFailed++
			continue
		}

		r.TotalFound += len(cands)
		for _, c := range cands {
			if !IsRelevant(c.Title, c.Summary, s.keywords) {
				r.Irrelevant++
				continue
			}
			r.Items = append(r.Items, normalize(c, src.Name))
		}
		log.Printf("Source %s: %d candidates, %d relevant so far", src.Name, len(cands), len(r.Items))

		if len(r.Items) >= s.maxItems {
			break
		}
	}

	log.Printf("Scrape complete: %d found, %d relevant, %d sources failed",
		r.TotalFound, len(r.Items), r.SourcesFailed)
	return r
}

// normalize converts a raw candidate into an unanalyzed policy item.
// The fingerprint is derived before truncation so identity is stable
// regardless of the storage bounds.
func normalize(c candidate, sourceName string) policy.Item {
	published := c.Published
	if published == "" {
		published = time.Now().UTC().Format(time.RFC3339)
	}
	return policy.Item{
		Title:         policy.TruncateTitle(strings.TrimSpace(c.Title)),
		Summary:       policy.TruncateSummary(strings.TrimSpace(c.Summary)),
		Link:          c.Link,
		Source:        sourceName,
		PublishedDate: published,
		Fingerprint:   policy.Fingerprint(strings.TrimSpace(c.Title), c.Link),
		Category:      "general",
		Analyzed:      false,
	}
}

// IsRelevant reports whether the combined title and summary text contains at
// least one keyword, case-insensitively.
func IsRelevant(title, summary string, keywords []string) bool {
	text := strings.ToLower(title + " " + summary)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
