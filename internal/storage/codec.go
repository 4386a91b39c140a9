package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
)

// collectionVersion is written into every saved envelope.
const collectionVersion = 2

var (
	errEmptyFile        = errors.New("empty collection file")
	errUnknownLayout    = errors.New("collection is neither an array nor an envelope")
	errMalformedRecord  = errors.New("record is not a JSON object")
	errAllRecordsFailed = errors.New("no record could be decoded")
	errFieldType        = errors.New("unexpected field type")
	errDuplicateID      = errors.New("duplicate profile id")
)

type envelope struct {
	Version  int              `json:"version"`
	SavedAt  time.Time        `json:"saved_at"`
	Profiles []domain.Profile `json:"profiles"`
}

type rawEnvelope struct {
	Version  int               `json:"version"`
	Profiles []json.RawMessage `json:"profiles"`
}

func encodeCollection(profiles []domain.Profile, now time.Time) ([]byte, error) {
	if profiles == nil {
		profiles = []domain.Profile{}
	}

	data, err := json.MarshalIndent(envelope{
		Version:  collectionVersion,
		SavedAt:  now,
		Profiles: profiles,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal collection: %w", err)
	}

	return data, nil
}

// splitCollection accepts a bare array of records or the versioned envelope.
func splitCollection(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errEmptyFile
	}

	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode collection: %w", err)
		}

		return records, nil
	case '{':
		var env rawEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode collection: %w", err)
		}

		if env.Profiles == nil && !bytes.Contains(trimmed, []byte(`"profiles"`)) {
			return nil, errUnknownLayout
		}

		return env.Profiles, nil
	default:
		return nil, errUnknownLayout
	}
}

// decodeCollection decodes every record independently. Bad records are
// reported and skipped; the error is non-nil only when the file as a whole
// is unusable.
func decodeCollection(data []byte, now time.Time, newID func() string) ([]domain.Profile, []RecordError, error) {
	records, err := splitCollection(data)
	if err != nil {
		return nil, nil, err
	}

	var (
		profiles = make([]domain.Profile, 0, len(records))
		skipped  []RecordError
		ids      = make(map[string]struct{}, len(records))
	)

	for i, raw := range records {
		p, err := decodeRecord(raw, now, newID)
		if err == nil {
			err = checkUnique(p, profiles, ids)
		}

		if err != nil {
			skipped = append(skipped, RecordError{Index: i, ID: p.ID, Err: err})
			continue
		}

		ids[p.ID] = struct{}{}
		profiles = append(profiles, p)
	}

	if len(records) > 0 && len(profiles) == 0 {
		return nil, skipped, errAllRecordsFailed
	}

	return profiles, skipped, nil
}

func checkUnique(p domain.Profile, accepted []domain.Profile, ids map[string]struct{}) error {
	if _, dup := ids[p.ID]; dup {
		return fmt.Errorf("%w: %s", errDuplicateID, p.ID)
	}

	for _, other := range accepted {
		if domain.SameName(other.Name, p.Name) {
			return fmt.Errorf("%w: %q", apperrors.ErrDuplicateName, p.Name)
		}
	}

	return nil
}

func decodeRecord(raw json.RawMessage, now time.Time, newID func() string) (domain.Profile, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return domain.Profile{}, errMalformedRecord
	}

	f := make(fields, len(obj))
	for k, v := range obj {
		f[normalizeKey(k)] = v
	}

	d := decoder{f: f}

	id := strings.TrimSpace(d.str("id"))
	if id == "" {
		id = newID()
	}

	spec := domain.Spec{
		Name:              d.str("name"),
		Criteria:          d.strs("criteria"),
		SenderFilters:     append(d.strs("senderfilters"), d.strs("senderfilter")...),
		Responsible:       d.str("responsible"),
		LastUpdateNote:    d.str("lastupdatenote"),
		DeliveryNote:      d.str("deliverynote"),
		BotType:           string(domain.BotTypeOrDefault(d.str("bottype"))),
		TrackOptimal:      d.boolean("trackoptimal"),
		OptimalExecutions: d.integer("optimalexecutions"),
		AlertRecipient:    d.str("alertrecipient"),
		AlertThreshold:    d.float("alertthreshold"),
	}

	// Older files enabled tracking before a target was set.
	if spec.TrackOptimal && spec.OptimalExecutions <= 0 {
		spec.TrackOptimal = false
		spec.OptimalExecutions = 0
	}

	found := d.integer("foundcount")
	searches := d.integer("searchcount")
	lastSearch := d.timestamp("lastsearchat")
	lastAlert := d.timestamp("lastalertsentat")
	createdAt := d.timestamp("createdat")
	updatedAt := d.timestamp("updatedat")

	if d.err != nil {
		return domain.Profile{ID: id}, d.err
	}

	if found < 0 || searches < 0 {
		return domain.Profile{ID: id}, apperrors.Invalid("found_count", "must not be negative", apperrors.ErrInvalidCount)
	}

	created := now
	if createdAt != nil {
		created = *createdAt
	}

	p, err := domain.NewProfile(id, spec, created)
	if err != nil {
		return domain.Profile{ID: id}, err
	}

	p.FoundCount = found
	p.SearchCount = searches
	p.LastSearchAt = lastSearch
	p.LastAlertSentAt = lastAlert

	if updatedAt != nil {
		p.UpdatedAt = *updatedAt
	}

	if _, ok := f["alertsuppressed"]; ok {
		p.AlertSuppressed = d.boolean("alertsuppressed")
	} else {
		p.AlertSuppressed = alertedSinceLastResult(p)
	}

	if d.err != nil {
		return domain.Profile{ID: id}, d.err
	}

	return p, nil
}

// alertedSinceLastResult derives the suppression latch for records written
// before it was persisted.
func alertedSinceLastResult(p domain.Profile) bool {
	if p.LastAlertSentAt == nil || p.LastSearchAt == nil {
		return false
	}

	return p.Degraded() && !p.LastAlertSentAt.Before(*p.LastSearchAt)
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))

	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

type fields map[string]json.RawMessage

// decoder reads loosely typed fields and keeps the first error.
type decoder struct {
	f   fields
	err error
}

func (d *decoder) fail(key string, raw json.RawMessage) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s=%s", errFieldType, key, truncateRaw(raw))
	}
}

func (d *decoder) value(key string) (any, json.RawMessage, bool) {
	raw, ok := d.f[key]
	if !ok {
		return nil, nil, false
	}

	var v any

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := dec.Decode(&v); err != nil {
		d.fail(key, raw)
		return nil, raw, false
	}

	if v == nil {
		return nil, raw, false
	}

	return v, raw, true
}

func (d *decoder) str(key string) string {
	v, raw, ok := d.value(key)
	if !ok {
		return ""
	}

	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		d.fail(key, raw)
		return ""
	}
}

func (d *decoder) strs(key string) []string {
	v, raw, ok := d.value(key)
	if !ok {
		return nil
	}

	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))

		for _, item := range t {
			s, isString := item.(string)
			if !isString {
				d.fail(key, raw)
				return nil
			}

			out = append(out, s)
		}

		return out
	default:
		d.fail(key, raw)
		return nil
	}
}

func (d *decoder) integer(key string) int {
	v, raw, ok := d.value(key)
	if !ok {
		return 0
	}

	var text string

	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
		if text == "" {
			return 0
		}
	default:
		d.fail(key, raw)
		return 0
	}

	n, err := strconv.Atoi(text)
	if err != nil {
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil || f != float64(int(f)) {
			d.fail(key, raw)
			return 0
		}

		n = int(f)
	}

	return n
}

func (d *decoder) float(key string) float64 {
	v, raw, ok := d.value(key)
	if !ok {
		return 0
	}

	var text string

	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
		if text == "" {
			return 0
		}
	default:
		d.fail(key, raw)
		return 0
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		d.fail(key, raw)
		return 0
	}

	return f
}

func (d *decoder) boolean(key string) bool {
	v, raw, ok := d.value(key)
	if !ok {
		return false
	}

	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		return t.String() != "0"
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			d.fail(key, raw)
			return false
		}

		return b
	default:
		d.fail(key, raw)
		return false
	}
}

// timestamp accepts RFC 3339 and the looser layouts older files used,
// such as naive "2024-01-05 10:00:00" stamps in local time.
func (d *decoder) timestamp(key string) *time.Time {
	v, raw, ok := d.value(key)
	if !ok {
		return nil
	}

	s, isString := v.(string)
	if !isString {
		d.fail(key, raw)
		return nil
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = dateparse.ParseIn(s, time.Local)
		if err != nil {
			d.fail(key, raw)
			return nil
		}
	}

	return &t
}

func truncateRaw(raw json.RawMessage) string {
	const limit = 40

	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}

	return string(raw)
}
