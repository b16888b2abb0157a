package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/policylens/policylens/internal/config"
)

var articleClassExpr = regexp.MustCompile(`(?i)(news|article|story|post|press|release)`)

// scrapeHTML pulls candidate items off a listing page. Government and news
// sites vary wildly, so this looks for article-like containers first and
// falls back to bare headings.
func (s *Scraper) scrapeHTML(ctx context.Context, src config.Source) ([]candidate, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetching %s: status %d", src.URL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", src.URL, err)
	}

	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing source URL: %w", err)
	}

	nodes := articleNodes(doc)

	var cands []candidate
	for _, node := range nodes {
		if len(cands) >= maxPerSource {
			break
		}

		title := nodeTitle(node)
		if len(title) < 10 {
			continue
		}

		link := src.URL
		if href, ok := node.Find("a[href]").First().Attr("href"); ok && href != "" {
			link = resolveLink(base, href)
		}

		summary := strings.TrimSpace(node.Find("p").First().Text())
		if summary == "" {
			summary = title
		}

		cands = append(cands, candidate{Title: title, Summary: summary, Link: link})
	}

	return cands, nil
}

// articleNodes returns up to maxPerSource container selections likely to hold
// one announcement each.
func articleNodes(doc *goquery.Document) []*goquery.Selection {
	var nodes []*goquery.Selection

	doc.Find("article, div").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		class, _ := sel.Attr("class")
		if articleClassExpr.MatchString(class) {
			nodes = append(nodes, sel)
		}
		return len(nodes) < maxPerSource
	})

	if len(nodes) == 0 {
		doc.Find("h2, h3").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			nodes = append(nodes, sel)
			return len(nodes) < maxPerSource
		})
	}

	return nodes
}

func nodeTitle(node *goquery.Selection) string {
	heading := node.Find("h1, h2, h3, h4, a").First()
	title := strings.TrimSpace(heading.Text())
	if title == "" {
		title = strings.TrimSpace(node.Text())
	}
	return collapseSpace(title)
}

func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return base.String()
	}
	return base.ResolveReference(ref).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
