package domain

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"

	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
)

const pathHostileChars = `<>:"/\|?*`

// Spec carries the user-editable fields of a profile.
type Spec struct {
	Name              string   `json:"name"`
	Criteria          []string `json:"criteria"`
	SenderFilters     []string `json:"sender_filters"`
	Responsible       string   `json:"responsible"`
	LastUpdateNote    string   `json:"last_update_note"`
	DeliveryNote      string   `json:"delivery_note"`
	BotType           string   `json:"bot_type"`
	TrackOptimal      bool     `json:"track_optimal"`
	OptimalExecutions int      `json:"optimal_executions"`
	AlertRecipient    string   `json:"alert_recipient"`
	AlertThreshold    float64  `json:"alert_threshold"`
}

// Clean validates the spec and returns its normalized form.
func (s Spec) Clean() (Spec, error) {
	var (
		out Spec
		err error
	)

	if out.Name, err = CleanName(s.Name); err != nil {
		return Spec{}, err
	}

	if out.Criteria, err = CleanCriteria(s.Criteria); err != nil {
		return Spec{}, err
	}

	if out.SenderFilters, err = CleanSenderFilters(s.SenderFilters); err != nil {
		return Spec{}, err
	}

	if out.Responsible, err = CleanText("responsible", s.Responsible, MaxResponsibleLength); err != nil {
		return Spec{}, err
	}

	if out.LastUpdateNote, err = CleanText("last_update_note", s.LastUpdateNote, MaxNoteLength); err != nil {
		return Spec{}, err
	}

	if out.DeliveryNote, err = CleanText("delivery_note", s.DeliveryNote, MaxNoteLength); err != nil {
		return Spec{}, err
	}

	botType := BotTypeManual
	if strings.TrimSpace(s.BotType) != "" {
		if botType, err = ParseBotType(s.BotType); err != nil {
			return Spec{}, err
		}
	}

	out.BotType = string(botType)

	if err := validateTracking(s.TrackOptimal, s.OptimalExecutions); err != nil {
		return Spec{}, err
	}

	out.TrackOptimal = s.TrackOptimal
	out.OptimalExecutions = s.OptimalExecutions

	if out.AlertRecipient, err = CleanEmail(s.AlertRecipient); err != nil {
		return Spec{}, err
	}

	if s.AlertThreshold < 0 || s.AlertThreshold > percent {
		return Spec{}, apperrors.Invalid("alert_threshold", "must be within 0-100", apperrors.ErrInvalidThreshold)
	}

	out.AlertThreshold = s.AlertThreshold

	return out, nil
}

func validateTracking(track bool, optimal int) error {
	if optimal < 0 {
		return apperrors.Invalid("optimal_executions", "must not be negative", apperrors.ErrInvalidOptimal)
	}

	if track && optimal == 0 {
		return apperrors.Invalid("optimal_executions", "must be positive when tracking is enabled", apperrors.ErrInvalidOptimal)
	}

	return nil
}

// CleanName strips control and path-hostile characters and enforces the length bounds.
func CleanName(raw string) (string, error) {
	name := strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(pathHostileChars, r) {
			return -1
		}

		return r
	}, raw))

	n := utf8.RuneCountInString(name)
	if n < MinNameLength || n > MaxNameLength {
		return "", apperrors.Invalid("name", "must be 2-50 characters", apperrors.ErrInvalidName)
	}

	return name, nil
}

// CleanCriteria trims each criterion, drops empty entries and enforces
// count, length, content and case-insensitive uniqueness rules.
func CleanCriteria(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	folder := cases.Fold()

	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}

		n := utf8.RuneCountInString(c)
		if n < MinCriterionLength || n > MaxCriterionLength {
			return nil, apperrors.Invalid("criteria", "each criterion must be 2-100 characters", apperrors.ErrInvalidCriteria)
		}

		if !hasAlphanumeric(c) {
			return nil, apperrors.Invalid("criteria", "each criterion needs a letter or digit", apperrors.ErrInvalidCriteria)
		}

		key := folder.String(c)
		if _, dup := seen[key]; dup {
			return nil, apperrors.Invalid("criteria", "duplicate criterion", apperrors.ErrInvalidCriteria)
		}

		seen[key] = struct{}{}
		out = append(out, c)
	}

	if len(out) == 0 {
		return nil, apperrors.Invalid("criteria", "at least one criterion is required", apperrors.ErrInvalidCriteria)
	}

	if len(out) > MaxCriteria {
		return nil, apperrors.Invalid("criteria", "at most 3 criteria", apperrors.ErrInvalidCriteria)
	}

	return out, nil
}

// CleanSenderFilters trims, drops empties and dedupes case-insensitively, keeping first-seen order.
func CleanSenderFilters(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	folder := cases.Fold()

	for _, f := range raw {
		f = strings.TrimSpace(stripControl(f))
		if f == "" {
			continue
		}

		if utf8.RuneCountInString(f) > MaxSenderFilterLength {
			return nil, apperrors.Invalid("sender_filters", "filter too long", apperrors.ErrInvalidText)
		}

		key := folder.String(f)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, f)
	}

	if len(out) > MaxSenderFilters {
		return nil, apperrors.Invalid("sender_filters", "too many filters", apperrors.ErrInvalidText)
	}

	return out, nil
}

// CleanText trims and strips control characters, rejecting values longer than limit.
func CleanText(field, raw string, limit int) (string, error) {
	text := strings.TrimSpace(stripControl(raw))
	if utf8.RuneCountInString(text) > limit {
		return "", apperrors.Invalid(field, "too long", apperrors.ErrInvalidText)
	}

	return text, nil
}

// CleanEmail validates an optional e-mail address and returns its bare form.
func CleanEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", apperrors.Invalid("alert_recipient", "must be a valid e-mail address", apperrors.ErrInvalidEmail)
	}

	return addr.Address, nil
}

// ParseBotType parses a bot type strictly.
func ParseBotType(raw string) (BotType, error) {
	bt := BotType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range BotTypes {
		if bt == known {
			return bt, nil
		}
	}

	return "", apperrors.Invalid("bot_type", "must be automatic, manual or offline", apperrors.ErrInvalidBotType)
}

// BotTypeOrDefault parses a bot type, falling back to manual.
func BotTypeOrDefault(raw string) BotType {
	bt, err := ParseBotType(raw)
	if err != nil {
		return BotTypeManual
	}

	return bt
}

// SameName reports whether two names collide case-insensitively after trimming.
func SameName(a, b string) bool {
	folder := cases.Fold()

	return folder.String(strings.TrimSpace(a)) == folder.String(strings.TrimSpace(b))
}

func hasAlphanumeric(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}

	return false
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}

		return r
	}, s)
}
