package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
)

var (
	testNow        = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	errMailboxGone = errors.New("mailbox gone")
)

type countingSource struct {
	name string
	msgs []domain.Message
	err  error

	mu    sync.Mutex
	scans int
}

func (s *countingSource) Name() string { return s.name }

func (s *countingSource) Scan(ctx context.Context, fn func(domain.Message) error) error {
	s.mu.Lock()
	s.scans++
	s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	for _, m := range s.msgs {
		m.Source = s.name
		if err := fn(m); err != nil {
			return err
		}
	}

	return nil
}

func (s *countingSource) Scans() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scans
}

func inbox() *countingSource {
	return &countingSource{name: "inbox", msgs: []domain.Message{
		{ID: "1", Subject: "Próximos a vencer", Sender: "billing@example.com", Date: testNow.Add(-time.Hour)},
		{ID: "2", Subject: "Factura marzo", Sender: "billing@example.com", Date: testNow.Add(-48 * time.Hour)},
		{ID: "3", Subject: "Factura: proximos a vencer", Sender: "alerts@example.com", Date: testNow.Add(-2 * time.Hour)},
		{ID: "4", Subject: "Lunch", Sender: "friend@example.com", Date: testNow.Add(-time.Hour)},
	}}
}

func newTestEngine(opts Options, sources ...Source) *Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}

	return NewEngine(sources, opts, nil)
}

func mustCompile(t *testing.T, s string) Pattern {
	t.Helper()

	p, err := Compile(s)
	require.NoError(t, err)

	return p
}

func TestSearchCachesResults(t *testing.T) {
	src := inbox()
	e := newTestEngine(Options{}, src)
	p := mustCompile(t, "proximos")

	first, err := e.Search(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Matched())
	assert.Equal(t, 4, first.Scanned)
	assert.False(t, first.Cached)

	second, err := e.Search(context.Background(), mustCompile(t, "PRÓXIMOS"), nil)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Keys, second.Keys)
	assert.Equal(t, 1, src.Scans())
	assert.Equal(t, 1, e.CacheLen())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheLen())

	_, err = e.Search(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Scans())
}

func TestSearchCacheKeyIncludesFilter(t *testing.T) {
	src := inbox()
	e := newTestEngine(Options{}, src)
	p := mustCompile(t, "proximos")

	all, err := e.Search(context.Background(), p, nil)
	require.NoError(t, err)

	filtered, err := e.Search(context.Background(), p, CompileSenderFilter([]string{"billing@"}))
	require.NoError(t, err)

	assert.Equal(t, 2, all.Matched())
	assert.Equal(t, 1, filtered.Matched())
	assert.False(t, filtered.Cached)
	assert.Equal(t, 2, e.CacheLen())
}

func TestSearchSkipsUnreadableSource(t *testing.T) {
	broken := &countingSource{name: "archive", err: errMailboxGone}
	e := newTestEngine(Options{}, broken, inbox())

	res, err := e.Search(context.Background(), mustCompile(t, "factura"), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Matched())
	require.Len(t, res.SourceErrors, 1)
	assert.Equal(t, "archive", res.SourceErrors[0].Source)
	require.ErrorIs(t, res.SourceErrors[0], apperrors.ErrSourceUnreadable)
	require.ErrorIs(t, res.SourceErrors[0], errMailboxGone)
}

func TestSearchLookback(t *testing.T) {
	e := newTestEngine(Options{Lookback: 24 * time.Hour}, inbox())

	res, err := e.Search(context.Background(), mustCompile(t, "factura"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Matched(), "the march invoice is older than the lookback")
	assert.Equal(t, 3, res.Scanned)
}

func TestSearchHonoursCancellation(t *testing.T) {
	e := newTestEngine(Options{}, inbox())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Search(ctx, mustCompile(t, "factura"), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, e.CacheLen())
}

func TestExecuteProfileCountsDistinctMessages(t *testing.T) {
	e := newTestEngine(Options{}, inbox())

	exec, err := e.ExecuteProfile(context.Background(), domain.Profile{
		ID:       "p-1",
		Name:     "Vencimientos",
		Criteria: []string{"Próximos a Vencer", "Factura"},
	})
	require.NoError(t, err)

	require.Len(t, exec.Criteria, 2)
	assert.Equal(t, 2, exec.Criteria[0].Matched)
	assert.Equal(t, 2, exec.Criteria[1].Matched)
	assert.Equal(t, 3, exec.Found, "message 3 matches both criteria and counts once")
	assert.Equal(t, "p-1", exec.ProfileID)
}

func TestExecuteProfileAppliesSenderFilters(t *testing.T) {
	e := newTestEngine(Options{}, inbox())

	exec, err := e.ExecuteProfile(context.Background(), domain.Profile{
		Name:          "Billing",
		Criteria:      []string{"Factura", "proximos"},
		SenderFilters: []string{"BILLING@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, exec.Found)
}

func TestExecuteProfileReusesCacheAcrossProfiles(t *testing.T) {
	src := inbox()
	e := newTestEngine(Options{}, src)

	_, err := e.ExecuteProfile(context.Background(), domain.Profile{Name: "a", Criteria: []string{"factura"}})
	require.NoError(t, err)

	exec, err := e.ExecuteProfile(context.Background(), domain.Profile{Name: "b", Criteria: []string{"FACTURA"}})
	require.NoError(t, err)

	require.Len(t, exec.Criteria, 1)
	assert.True(t, exec.Criteria[0].Cached)
	assert.Equal(t, 1, src.Scans())
}
