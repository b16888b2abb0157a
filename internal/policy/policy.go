package policy

import (
	"crypto/md5"
	"encoding/hex"
	"unicode/utf8"
)

// Categories is the closed set of policy domains an item can be classified into.
var Categories = []string{
	"transportation", "food", "housing", "healthcare",
	"education", "utilities", "entertainment", "shopping",
	"savings", "investments", "general",
}

// ImpactTypes is the closed set of ways a policy changes a monetary quantity.
var ImpactTypes = []string{"percentage", "fixed_amount", "multiplier", "binary"}

const (
	// MaxTitleLen bounds stored titles, in characters.
	MaxTitleLen = 200
	// MaxSummaryLen bounds stored summaries, in characters.
	MaxSummaryLen = 500
)

// Item is a policy record as it flows through scrape, analysis, and storage.
// Enrichment fields stay empty until a successful extraction merges them in.
type Item struct {
	ID            int64
	Title         string
	Summary       string
	Link          string
	Source        string
	PublishedDate string
	Fingerprint   string
	CreatedAt     string

	Category      string
	ImpactType    *string
	ImpactValue   *float64
	OldValue      *float64
	NewValue      *float64
	AffectedItems []string
	AIDescription *string
	Analyzed      bool
}

// Fingerprint derives the stable content identity of an item: the md5 hex
// digest of title followed by link. Order matters; the same pair always
// produces the same digest.
func Fingerprint(title, link string) string {
	sum := md5.Sum([]byte(title + link))
	return hex.EncodeToString(sum[:])
}

// ValidCategory reports whether c is one of the fixed categories.
func ValidCategory(c string) bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// ValidImpactType reports whether t is one of the fixed impact types.
func ValidImpactType(t string) bool {
	for _, v := range ImpactTypes {
		if t == v {
			return true
		}
	}
	return false
}

// TruncateTitle bounds a title to MaxTitleLen characters.
func TruncateTitle(s string) string {
	return truncate(s, MaxTitleLen)
}

// TruncateSummary bounds a summary to MaxSummaryLen characters.
func TruncateSummary(s string) string {
	return truncate(s, MaxSummaryLen)
}

// truncate cuts s after max runes. Counting runes rather than bytes keeps
// rupee signs and other multi-byte text intact at the cut point.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
