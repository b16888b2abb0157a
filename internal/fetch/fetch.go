package fetch

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/policylens/policylens/internal/policy"
)

// Result holds the results of a summary backfill run.
type Result struct {
	Filled  int
	Skipped int
	Failed  int
}

// SummaryFetcher fills in thin item summaries by fetching the linked page and
// extracting its readable text.
type SummaryFetcher struct {
	client *http.Client
}

// NewSummaryFetcher creates a new summary fetcher.
func NewSummaryFetcher(timeout time.Duration) *SummaryFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &SummaryFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// FillMissingSummaries fetches page text for items whose summary is empty or
// merely repeats the title. Items are modified in place. One failing domain
// is only tried once per run.
func (f *SummaryFetcher) FillMissingSummaries(items []policy.Item) *Result {
	result := &Result{}
	failedDomains := make(map[string]struct{})

	for i := range items {
		if !needsSummary(items[i]) {
			result.Skipped++
			continue
		}

		u, _ := url.Parse(items[i].Link)
		domain := ""
		if u != nil {
			domain = strings.ToLower(u.Host)
		}
		if _, failed := failedDomains[domain]; failed {
			result.Failed++
			continue
		}

		text, err := f.fetchPageText(items[i].Link)
		if err != nil || text == "" {
			result.Failed++
			if err != nil && domain != "" {
				failedDomains[domain] = struct{}{}
				log.Printf("HTTP error for %s — skipping remaining from %s", items[i].Link, domain)
			}
			continue
		}

		items[i].Summary = policy.TruncateSummary(text)
		result.Filled++
	}

	if result.Filled > 0 || result.Failed > 0 {
		log.Printf("Summary backfill: %d filled, %d failed, %d already had summaries",
			result.Filled, result.Failed, result.Skipped)
	}
	return result
}

func needsSummary(it policy.Item) bool {
	s := strings.TrimSpace(it.Summary)
	return s == "" || s == strings.TrimSpace(it.Title)
}

func (f *SummaryFetcher) fetchPageText(pageURL string) (string, error) {
	req, err := http.NewRequest("GET", pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "PolicyLens/1.0 (policy tracker)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", pageURL, err)
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(string(bodyBytes)), parsedURL)
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", pageURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > 100 {
		return text, nil
	}
	return "", nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
