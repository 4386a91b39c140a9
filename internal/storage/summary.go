package storage

import (
	"math"
	"time"

	"github.com/lueurxax/profilewatch/internal/core/domain"
)

// Summary aggregates statistics over a profile collection.
type Summary struct {
	Total           int                            `json:"total"`
	ByBotType       map[domain.BotType]int         `json:"by_bot_type"`
	WithFilters     int                            `json:"with_filters"`
	WithResponsible int                            `json:"with_responsible"`
	WithTracking    int                            `json:"with_tracking"`
	WithRecipient   int                            `json:"with_recipient"`
	Categories      map[domain.SuccessCategory]int `json:"categories"`
	AverageCriteria float64                        `json:"average_criteria"`
	Searched        int                            `json:"searched"`
	AverageFound    float64                        `json:"average_found"`
	PendingAlerts   int                            `json:"pending_alerts"`
	LastSearchAt    *time.Time                     `json:"last_search_at,omitempty"`
}

// Summarize computes a Summary. AverageFound only counts profiles that have
// run at least once.
func Summarize(profiles []domain.Profile) Summary {
	sum := Summary{
		Total:      len(profiles),
		ByBotType:  make(map[domain.BotType]int, len(domain.BotTypes)),
		Categories: make(map[domain.SuccessCategory]int, len(domain.Categories)),
	}

	for _, bt := range domain.BotTypes {
		sum.ByBotType[bt] = 0
	}

	for _, c := range domain.Categories {
		sum.Categories[c] = 0
	}

	var criteria, found int

	for _, p := range profiles {
		sum.ByBotType[p.BotType]++
		sum.Categories[p.Category()]++
		criteria += len(p.Criteria)

		if len(p.SenderFilters) > 0 {
			sum.WithFilters++
		}

		if p.Responsible != "" {
			sum.WithResponsible++
		}

		if p.TrackOptimal {
			sum.WithTracking++
		}

		if p.AlertRecipient != "" {
			sum.WithRecipient++
		}

		if p.ShouldAlert() {
			sum.PendingAlerts++
		}

		if p.SearchCount > 0 {
			sum.Searched++
			found += p.FoundCount
		}

		if p.LastSearchAt != nil && (sum.LastSearchAt == nil || p.LastSearchAt.After(*sum.LastSearchAt)) {
			t := *p.LastSearchAt
			sum.LastSearchAt = &t
		}
	}

	if sum.Total > 0 {
		sum.AverageCriteria = round2(float64(criteria) / float64(sum.Total))
	}

	if sum.Searched > 0 {
		sum.AverageFound = round2(float64(found) / float64(sum.Searched))
	}

	return sum
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
