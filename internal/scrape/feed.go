package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/policylens/policylens/internal/config"
)

// scrapeFeed pulls candidate items from an RSS/Atom source.
func (s *Scraper) scrapeFeed(ctx context.Context, src config.Source) ([]candidate, error) {
	parser := gofeed.NewParser()
	feed, err := parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", src.URL, err)
	}

	var cands []candidate
	for _, item := range feed.Items {
		if len(cands) >= maxPerSource {
			break
		}

		link := item.Link
		if link == "" {
			link = item.GUID
		}
		title := strings.TrimSpace(item.Title)
		if link == "" || title == "" {
			continue
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		summary = stripHTML(summary)
		if summary == "" {
			summary = title
		}

		var published string
		if item.PublishedParsed != nil {
			published = item.PublishedParsed.UTC().Format(time.RFC3339)
		} else if item.UpdatedParsed != nil {
			published = item.UpdatedParsed.UTC().Format(time.RFC3339)
		}

		cands = append(cands, candidate{
			Title:     title,
			Summary:   summary,
			Link:      link,
			Published: published,
		})
	}

	return cands, nil
}

// stripHTML removes tags and decodes the handful of entities feeds commonly
// carry in their description fields.
func stripHTML(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	s := b.String()
	for entity, repl := range map[string]string{
		"&nbsp;": " ", "&amp;": "&", "&lt;": "<",
		"&gt;": ">", "&quot;": `"`, "&#39;": "'",
	} {
		s = strings.ReplaceAll(s, entity, repl)
	}

	return strings.Join(strings.Fields(s), " ")
}
