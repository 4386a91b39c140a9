package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
)

const (
	testGoodEnvelope = `{"version":2,"profiles":[{"id":"a","name":"Vencimientos","criteria":["factura"]}]}`
	testBadJSON      = `{"version":2,"profiles":[`
)

func TestLoadLegacyArray(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, testFileName, `[
		{
			"name": "Legacy",
			"criteria": "Próximos a Vencer",
			"sender_filter": "billing@example.com",
			"botType": "robot",
			"foundCount": "7",
			"searchCount": 3,
			"trackOptimal": "true",
			"optimalExecutions": 10,
			"alertRecipient": "ops@example.com",
			"lastSearchAt": "2024-01-05 10:00:00",
			"lastAlertSentAt": "2024-01-05 11:00:00",
			"createdAt": "2023-12-01T09:00:00Z"
		}
	]`)

	store, report := env.open(t)
	require.Equal(t, SourcePrimary, report.Source)
	require.Empty(t, report.Skipped)

	list := store.List()
	require.Len(t, list, 1)

	p := list[0]
	assert.Equal(t, "id-1", p.ID, "missing id is generated")
	assert.Equal(t, []string{"Próximos a Vencer"}, p.Criteria)
	assert.Equal(t, []string{"billing@example.com"}, p.SenderFilters)
	assert.Equal(t, domain.BotTypeManual, p.BotType, "unknown bot type falls back to manual")
	assert.Equal(t, 7, p.FoundCount)
	assert.Equal(t, 3, p.SearchCount)
	assert.True(t, p.TrackOptimal)
	assert.Equal(t, time.Date(2023, 12, 1, 9, 0, 0, 0, time.UTC), p.CreatedAt)
	assert.Equal(t, p.CreatedAt, p.UpdatedAt)

	require.NotNil(t, p.LastSearchAt)
	assert.Equal(t, 2024, p.LastSearchAt.Year())
	assert.Equal(t, 10, p.LastSearchAt.Hour())

	assert.True(t, p.AlertSuppressed, "alert sent after the last degraded result stays suppressed")
	assert.False(t, p.ShouldAlert())
}

func TestLoadLegacyTrackingWithoutTarget(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, testFileName, `[{"id":"a","name":"Legacy","criteria":["aa"],"track_optimal":true,"optimal_executions":0}]`)

	store, report := env.open(t)
	require.Empty(t, report.Skipped)

	p, err := store.Get("a")
	require.NoError(t, err)
	assert.False(t, p.TrackOptimal)

	_, ok := p.SuccessRatio()
	assert.False(t, ok)
}

func TestLoadSkipsBadRecords(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, testFileName, `{"version":2,"profiles":[
		{"id":"a","name":"Good","criteria":["factura"]},
		{"id":"b","name":"x","criteria":["factura"]},
		{"id":"c","name":"No criteria","criteria":[]},
		"not an object",
		{"id":"d","name":"GOOD","criteria":["aviso"]},
		{"id":"a","name":"Same id","criteria":["aviso"]},
		{"id":"e","name":"Negative","criteria":["aviso"],"found_count":-3},
		{"id":"f","name":"Bad type","criteria":["aviso"],"search_count":{"n":1}},
		{"id":"g","name":"Also good","criteria":["aviso"]}
	]}`)

	store, report := env.open(t)
	assert.Equal(t, SourcePrimary, report.Source)
	assert.Equal(t, 2, report.Loaded)
	require.Len(t, report.Skipped, 7)
	assert.True(t, report.Degraded())

	assert.ErrorIs(t, report.Skipped[0], apperrors.ErrInvalidName)
	assert.Equal(t, "b", report.Skipped[0].ID)
	assert.ErrorIs(t, report.Skipped[1], apperrors.ErrInvalidCriteria)
	assert.ErrorIs(t, report.Skipped[2], errMalformedRecord)
	assert.ErrorIs(t, report.Skipped[3], apperrors.ErrDuplicateName)
	assert.ErrorIs(t, report.Skipped[4], errDuplicateID)
	assert.ErrorIs(t, report.Skipped[5], apperrors.ErrInvalidCount)
	assert.ErrorIs(t, report.Skipped[6], errFieldType)

	ids := []string{}
	for _, p := range store.List() {
		ids = append(ids, p.ID)
	}

	assert.Equal(t, []string{"a", "g"}, ids)
}

func TestLoadFallsBackToBackup(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, testFileName, testBadJSON)
	env.write(t, testFileName+backupSuffix, testGoodEnvelope)

	store, report := env.open(t)
	assert.Equal(t, SourceBackup, report.Source)
	require.Len(t, report.Failures, 1)
	assert.Len(t, store.List(), 1)
}

func TestLoadFallsBackToNewestSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, testFileName, testBadJSON)
	env.write(t, testFileName+backupSuffix, `[{"name":"x","criteria":["aa"]}]`)
	env.write(t, "backups/profiles-20260101T000000.000000000.json", `[{"id":"old","name":"Old","criteria":["aa"]}]`)
	env.write(t, "backups/profiles-20260201T000000.000000000.json", `[{"id":"new","name":"New","criteria":["aa"]}]`)

	store, report := env.open(t)
	assert.Equal(t, SourceSnapshot, report.Source)
	assert.Len(t, report.Failures, 2, "primary malformed, backup has no usable record")

	_, err := store.Get("new")
	require.NoError(t, err)
}

func TestLoadFallsBackToEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, testFileName, "")
	env.write(t, testFileName+backupSuffix, `"just a string"`)

	store, report := env.open(t)
	assert.Equal(t, SourceEmpty, report.Source)
	assert.Len(t, report.Failures, 2)
	assert.Empty(t, store.List())

	_, err := store.Add(specNamed(testNameA, "factura"))
	require.NoError(t, err, "store stays usable after an empty fallback")
}

func TestLoadEmptyEnvelope(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, testFileName, `{"version":2,"saved_at":"2026-03-01T00:00:00Z","profiles":[]}`)

	store, report := env.open(t)
	assert.Equal(t, SourcePrimary, report.Source)
	assert.False(t, report.Degraded())
	assert.Empty(t, store.List())
}

func TestSummarize(t *testing.T) {
	searched := testNow.Add(-time.Hour)
	latest := testNow

	profiles := []domain.Profile{
		{
			Name: "a", Criteria: []string{"aa", "bb"}, BotType: domain.BotTypeAutomatic,
			SenderFilters: []string{"x"}, Responsible: "Ana",
			TrackOptimal: true, OptimalExecutions: 10, FoundCount: 10, SearchCount: 2,
			LastSearchAt: &searched,
		},
		{
			Name: "b", Criteria: []string{"aa"}, BotType: domain.BotTypeManual,
			TrackOptimal: true, OptimalExecutions: 10, FoundCount: 2, SearchCount: 1,
			AlertRecipient: testRecipient, LastSearchAt: &latest,
		},
		{
			Name: "c", Criteria: []string{"aa", "bb", "cc"}, BotType: domain.BotTypeManual,
		},
	}

	sum := Summarize(profiles)

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.ByBotType[domain.BotTypeAutomatic])
	assert.Equal(t, 2, sum.ByBotType[domain.BotTypeManual])
	assert.Equal(t, 0, sum.ByBotType[domain.BotTypeOffline])
	assert.Equal(t, 1, sum.WithFilters)
	assert.Equal(t, 1, sum.WithResponsible)
	assert.Equal(t, 2, sum.WithTracking)
	assert.Equal(t, 1, sum.WithRecipient)
	assert.Equal(t, 1, sum.Categories[domain.CategoryOptimal])
	assert.Equal(t, 1, sum.Categories[domain.CategoryVeryLow])
	assert.Equal(t, 1, sum.Categories[domain.CategoryNoTracking])
	assert.InDelta(t, 2.0, sum.AverageCriteria, 0.001)
	assert.Equal(t, 2, sum.Searched)
	assert.InDelta(t, 6.0, sum.AverageFound, 0.001)
	assert.Equal(t, 1, sum.PendingAlerts)
	require.NotNil(t, sum.LastSearchAt)
	assert.Equal(t, latest, *sum.LastSearchAt)
}
