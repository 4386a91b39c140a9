package match

import (
	"sort"
	"strings"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
)

// Pattern is a criterion prepared for comparison.
type Pattern struct {
	Criterion string
	Folded    string
}

// Compile normalizes a criterion the same way content is normalized, so
// accented and unaccented spellings compare equal in both directions.
func Compile(criterion string) (Pattern, error) {
	folded := Normalize(criterion).Folded
	if folded == "" {
		return Pattern{}, apperrors.Invalid("criteria", "criterion is empty after normalization", apperrors.ErrInvalidCriteria)
	}

	return Pattern{Criterion: criterion, Folded: folded}, nil
}

// Signature identifies the pattern in the result cache.
func (p Pattern) Signature() string {
	return p.Folded
}

// Content is a message with every matchable field normalized once.
type Content struct {
	Subject NormalizedText
	Body    NormalizedText
	Sender  NormalizedText
}

// Prepare normalizes the matchable fields of msg.
func Prepare(msg domain.Message) Content {
	return Content{
		Subject: Normalize(msg.Subject),
		Body:    Normalize(msg.Body),
		Sender:  Normalize(msg.Sender),
	}
}

// Matches reports whether the pattern occurs in the subject, the body or the
// sender. Any one field is enough.
func Matches(c Content, p Pattern) bool {
	if p.Folded == "" {
		return false
	}

	return strings.Contains(c.Subject.Folded, p.Folded) ||
		strings.Contains(c.Body.Folded, p.Folded) ||
		strings.Contains(c.Sender.Folded, p.Folded)
}

// MatchesMessage prepares msg and matches it against p.
func MatchesMessage(msg domain.Message, p Pattern) bool {
	return Matches(Prepare(msg), p)
}

// SenderFilter restricts which messages a profile counts.
type SenderFilter []string

// CompileSenderFilter folds each filter, dropping the ones that fold to nothing.
func CompileSenderFilter(filters []string) SenderFilter {
	out := make(SenderFilter, 0, len(filters))

	for _, f := range filters {
		if folded := Normalize(f).Folded; folded != "" {
			out = append(out, folded)
		}
	}

	return out
}

// Allows reports whether the sender contains one of the filters. An empty
// filter allows every message.
func (f SenderFilter) Allows(c Content) bool {
	if len(f) == 0 {
		return true
	}

	for _, hint := range f {
		if strings.Contains(c.Sender.Folded, hint) {
			return true
		}
	}

	return false
}

func (f SenderFilter) signature() string {
	if len(f) == 0 {
		return ""
	}

	sorted := append([]string(nil), f...)
	sort.Strings(sorted)

	return strings.Join(sorted, "\x1f")
}

func cacheKey(p Pattern, f SenderFilter) string {
	return p.Signature() + "\x00" + f.signature()
}

// SenderAllowed reports whether msg passes the sender filters.
func SenderAllowed(msg domain.Message, filters []string) bool {
	return CompileSenderFilter(filters).Allows(Prepare(msg))
}
