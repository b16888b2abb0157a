package server

import "github.com/policylens/policylens/internal/policy"

// policyJSON is the wire shape of a policy record.
type policyJSON struct {
	ID            int64    `json:"id"`
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	Link          string   `json:"link"`
	Source        string   `json:"source"`
	PublishedDate string   `json:"published_date"`
	Fingerprint   string   `json:"fingerprint"`
	Category      string   `json:"category"`
	ImpactType    *string  `json:"impact_type"`
	ImpactValue   *float64 `json:"impact_value"`
	OldValue      *float64 `json:"old_value"`
	NewValue      *float64 `json:"new_value"`
	AffectedItems []string `json:"affected_items"`
	AIDescription *string  `json:"ai_description"`
	Analyzed      bool     `json:"analyzed"`
	CreatedAt     string   `json:"created_at"`
}

func toPolicyJSON(it policy.Item) policyJSON {
	affected := it.AffectedItems
	if affected == nil {
		affected = []string{}
	}
	return policyJSON{
		ID:            it.ID,
		Title:         it.Title,
		Summary:       it.Summary,
		Link:          it.Link,
		Source:        it.Source,
		PublishedDate: it.PublishedDate,
		Fingerprint:   it.Fingerprint,
		Category:      it.Category,
		ImpactType:    it.ImpactType,
		ImpactValue:   it.ImpactValue,
		OldValue:      it.OldValue,
		NewValue:      it.NewValue,
		AffectedItems: affected,
		AIDescription: it.AIDescription,
		Analyzed:      it.Analyzed,
		CreatedAt:     it.CreatedAt,
	}
}
