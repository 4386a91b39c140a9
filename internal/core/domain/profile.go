package domain

import (
	"math"
	"time"
)

const (
	percent = 100

	thresholdOptimal = 100
	thresholdHigh    = 90
	thresholdMedium  = 50
	thresholdLow     = 30
)

// Profile is a named search configuration with its tracking and alert state.
type Profile struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Criteria          []string   `json:"criteria"`
	SenderFilters     []string   `json:"sender_filters"`
	Responsible       string     `json:"responsible,omitempty"`
	LastUpdateNote    string     `json:"last_update_note,omitempty"`
	DeliveryNote      string     `json:"delivery_note,omitempty"`
	BotType           BotType    `json:"bot_type"`
	FoundCount        int        `json:"found_count"`
	LastSearchAt      *time.Time `json:"last_search_at"`
	SearchCount       int        `json:"search_count"`
	TrackOptimal      bool       `json:"track_optimal"`
	OptimalExecutions int        `json:"optimal_executions"`
	AlertRecipient    string     `json:"alert_recipient,omitempty"`
	AlertThreshold    float64    `json:"alert_threshold,omitempty"`
	LastAlertSentAt   *time.Time `json:"last_alert_sent_at"`
	AlertSuppressed   bool       `json:"alert_suppressed"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewProfile builds a profile from a cleaned spec.
func NewProfile(id string, spec Spec, now time.Time) (Profile, error) {
	clean, err := spec.Clean()
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		ID:        id,
		BotType:   BotTypeManual,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.assign(clean)

	return p, nil
}

// Apply replaces the editable fields with the cleaned spec.
// The profile is left untouched when the spec is rejected.
func (p *Profile) Apply(spec Spec, now time.Time) error {
	clean, err := spec.Clean()
	if err != nil {
		return err
	}

	p.assign(clean)
	p.UpdatedAt = now

	return nil
}

func (p *Profile) assign(clean Spec) {
	p.Name = clean.Name
	p.Criteria = clean.Criteria
	p.SenderFilters = clean.SenderFilters
	p.Responsible = clean.Responsible
	p.LastUpdateNote = clean.LastUpdateNote
	p.DeliveryNote = clean.DeliveryNote
	p.BotType = BotType(clean.BotType)
	p.OptimalExecutions = clean.OptimalExecutions
	p.AlertRecipient = clean.AlertRecipient
	p.AlertThreshold = clean.AlertThreshold

	if p.TrackOptimal != clean.TrackOptimal {
		p.AlertSuppressed = false
	}

	p.TrackOptimal = clean.TrackOptimal
}

// Validate checks every invariant of a stored profile.
func (p Profile) Validate() error {
	_, err := p.Spec().Clean()

	return err
}

// Spec returns the editable fields of the profile.
func (p Profile) Spec() Spec {
	return Spec{
		Name:              p.Name,
		Criteria:          append([]string(nil), p.Criteria...),
		SenderFilters:     append([]string(nil), p.SenderFilters...),
		Responsible:       p.Responsible,
		LastUpdateNote:    p.LastUpdateNote,
		DeliveryNote:      p.DeliveryNote,
		BotType:           string(p.BotType),
		TrackOptimal:      p.TrackOptimal,
		OptimalExecutions: p.OptimalExecutions,
		AlertRecipient:    p.AlertRecipient,
		AlertThreshold:    p.AlertThreshold,
	}
}

// Clone returns a deep copy so callers never alias stored slices or timestamps.
func (p Profile) Clone() Profile {
	c := p
	c.Criteria = append([]string(nil), p.Criteria...)
	c.SenderFilters = append([]string(nil), p.SenderFilters...)
	c.LastSearchAt = cloneTime(p.LastSearchAt)
	c.LastAlertSentAt = cloneTime(p.LastAlertSentAt)

	return c
}

// SuccessRatio returns found/optimal*100 rounded to one decimal.
// The second value is false when the ratio is undefined.
func (p Profile) SuccessRatio() (float64, bool) {
	if !p.TrackOptimal || p.OptimalExecutions <= 0 {
		return 0, false
	}

	ratio := float64(p.FoundCount) / float64(p.OptimalExecutions) * percent

	return math.Round(ratio*10) / 10, true
}

// Category buckets the success ratio.
func (p Profile) Category() SuccessCategory {
	ratio, ok := p.SuccessRatio()
	if !ok {
		return CategoryNoTracking
	}

	return CategoryFor(ratio)
}

// CategoryFor buckets a defined ratio.
func CategoryFor(ratio float64) SuccessCategory {
	switch {
	case ratio >= thresholdOptimal:
		return CategoryOptimal
	case ratio >= thresholdHigh:
		return CategoryHigh
	case ratio >= thresholdMedium:
		return CategoryMedium
	case ratio >= thresholdLow:
		return CategoryLow
	default:
		return CategoryVeryLow
	}
}

// Threshold returns the alert threshold in effect for the profile.
func (p Profile) Threshold() float64 {
	if p.AlertThreshold > 0 {
		return p.AlertThreshold
	}

	return DefaultAlertThreshold
}

// Degraded reports whether the last result left the ratio below the alert threshold.
func (p Profile) Degraded() bool {
	ratio, ok := p.SuccessRatio()

	return ok && ratio < p.Threshold()
}

// ApplyResult overwrites the found count with the latest execution's result.
// Leaving the degraded band re-arms the alert.
func (p *Profile) ApplyResult(found int, now time.Time) {
	p.FoundCount = found
	p.LastSearchAt = &now
	p.SearchCount++
	p.UpdatedAt = now

	if !p.Degraded() {
		p.AlertSuppressed = false
	}
}

// ShouldAlert reports whether a degraded-ratio alert is due.
// Suppression is edge-triggered: once sent, no alert fires again until the
// ratio has recovered to the threshold and dropped below it again.
func (p Profile) ShouldAlert() bool {
	if p.AlertRecipient == "" || p.LastSearchAt == nil {
		return false
	}

	return p.Degraded() && !p.AlertSuppressed
}

// MarkAlertSent records an alert and suppresses repeats in the current degraded state.
func (p *Profile) MarkAlertSent(now time.Time) {
	p.LastAlertSentAt = &now
	p.AlertSuppressed = true
	p.UpdatedAt = now
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}
