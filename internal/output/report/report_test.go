package report

import (
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	"github.com/lueurxax/profilewatch/internal/output/notify"
	"github.com/lueurxax/profilewatch/internal/platform/schedule"
	"github.com/lueurxax/profilewatch/internal/process/mailsource"
	"github.com/lueurxax/profilewatch/internal/process/match"
	"github.com/lueurxax/profilewatch/internal/storage"
)

const (
	testRecipient = "ops@example.com"
	testSubject   = "Daily profile report 2026-03-02"
)

var (
	testNow     = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	errSendDown = errors.New("send down")
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Name() string {
	return "mock"
}

func (m *mockSender) Send(ctx context.Context, msg notify.Message) error {
	args := m.Called(ctx, msg)

	return args.Error(0)
}

type fixture struct {
	store    *storage.ProfileStore
	engine   *match.Engine
	dispatch *mockSender
	alerts   *mockSender
	tracked  domain.Profile
	plain    domain.Profile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	store, _ := storage.Open(storage.Options{
		Path:             filepath.Join(dir, "profiles.json"),
		DefaultThreshold: domain.DefaultAlertThreshold,
		Now:              func() time.Time { return testNow },
	}, nil)

	tracked, err := store.Add(domain.Spec{
		Name:              "Vencimientos",
		Criteria:          []string{"Próximos a vencer"},
		TrackOptimal:      true,
		OptimalExecutions: 4,
		AlertRecipient:    testRecipient,
	})
	require.NoError(t, err)

	plain, err := store.Add(domain.Spec{Name: "Facturas & B2B", Criteria: []string{"factura"}})
	require.NoError(t, err)

	src := mailsource.NewStatic("inbox",
		domain.Message{ID: "1", Subject: "PrÃ³ximos a vencer"},
		domain.Message{ID: "2", Body: "Proximos a vencer: dos recibos"},
		domain.Message{ID: "3", Subject: "Factura 17"},
	)

	engine := match.NewEngine([]match.Source{src}, match.Options{Now: func() time.Time { return testNow }}, nil)

	return &fixture{
		store:    store,
		engine:   engine,
		dispatch: &mockSender{},
		alerts:   &mockSender{},
		tracked:  tracked,
		plain:    plain,
	}
}

func (f *fixture) producer(alerts notify.Sender) *Producer {
	return New(f.store, f.engine, f.dispatch, alerts, Options{Now: func() time.Time { return testNow }}, nil)
}

func isReport(msg notify.Message) bool {
	return msg.Subject == testSubject && len(msg.Attachments) == 1
}

func isAlert(msg notify.Message) bool {
	return len(msg.To) == 1 && msg.To[0] == testRecipient && strings.Contains(msg.Subject, "Vencimientos")
}

func TestProduceRecordsResultsAndAlertsOnce(t *testing.T) {
	f := newFixture(t)
	f.dispatch.On("Send", mock.Anything, mock.MatchedBy(isReport)).Return(nil).Twice()
	f.alerts.On("Send", mock.Anything, mock.MatchedBy(isAlert)).Return(nil).Once()

	p := f.producer(f.alerts)

	require.NoError(t, p.Produce(context.Background(), schedule.Daily))

	tracked, err := f.store.Get(f.tracked.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, tracked.FoundCount)
	assert.Equal(t, 1, tracked.SearchCount)
	assert.True(t, tracked.AlertSuppressed)
	require.NotNil(t, tracked.LastAlertSentAt)

	plain, err := f.store.Get(f.plain.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, plain.FoundCount)

	require.NoError(t, p.Produce(context.Background(), schedule.Daily), "still degraded, no second alert")

	f.dispatch.AssertExpectations(t)
	f.alerts.AssertExpectations(t)
}

func TestProduceFailsWhenDispatchFails(t *testing.T) {
	f := newFixture(t)
	f.dispatch.On("Send", mock.Anything, mock.Anything).Return(errSendDown)
	f.alerts.On("Send", mock.Anything, mock.Anything).Return(nil)

	err := f.producer(f.alerts).Produce(context.Background(), schedule.Weekly)
	require.ErrorIs(t, err, errSendDown)

	tracked, err := f.store.Get(f.tracked.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, tracked.FoundCount, "results are recorded before dispatch")
	assert.True(t, tracked.AlertSuppressed)
}

func TestProduceWithoutAlertSenderKeepsAlertPending(t *testing.T) {
	f := newFixture(t)
	f.dispatch.On("Send", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.producer(nil).Produce(context.Background(), schedule.Daily))

	tracked, err := f.store.Get(f.tracked.ID)
	require.NoError(t, err)
	assert.False(t, tracked.AlertSuppressed)
	assert.True(t, tracked.ShouldAlert())
}

func TestProduceFailedAlertIsRetriedNextRun(t *testing.T) {
	f := newFixture(t)
	f.dispatch.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.alerts.On("Send", mock.Anything, mock.Anything).Return(errSendDown).Once()
	f.alerts.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	p := f.producer(f.alerts)

	require.NoError(t, p.Produce(context.Background(), schedule.Daily))

	tracked, err := f.store.Get(f.tracked.ID)
	require.NoError(t, err)
	assert.False(t, tracked.AlertSuppressed)

	require.NoError(t, p.Produce(context.Background(), schedule.Daily))

	tracked, err = f.store.Get(f.tracked.ID)
	require.NoError(t, err)
	assert.True(t, tracked.AlertSuppressed)
	f.alerts.AssertExpectations(t)
}

func TestOverlappingRunsAlertOnce(t *testing.T) {
	f := newFixture(t)
	f.dispatch.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.alerts.On("Send", mock.Anything, mock.MatchedBy(isAlert)).Return(nil).After(20 * time.Millisecond)

	p := f.producer(f.alerts)

	var wg sync.WaitGroup

	errs := make([]error, 2)

	for i, freq := range []schedule.Frequency{schedule.Daily, schedule.Weekly} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			errs[i] = p.Produce(context.Background(), freq)
		}()
	}

	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	f.alerts.AssertNumberOfCalls(t, "Send", 1)
	f.dispatch.AssertNumberOfCalls(t, "Send", 2)

	tracked, err := f.store.Get(f.tracked.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, tracked.SearchCount)
	assert.True(t, tracked.AlertSuppressed)
}

func TestProduceStopsOnCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.producer(f.alerts).Produce(ctx, schedule.Daily)
	require.ErrorIs(t, err, context.Canceled)
	f.dispatch.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestBuildAndRender(t *testing.T) {
	f := newFixture(t)

	rep, err := f.producer(nil).Build(context.Background(), schedule.Daily)
	require.NoError(t, err)

	require.Len(t, rep.Rows, 2)
	assert.Equal(t, 2, rep.Summary.Total)
	assert.Equal(t, 2, rep.Summary.Searched)
	assert.Equal(t, 1, rep.Summary.PendingAlerts)

	tracked := rep.Rows[0]
	assert.True(t, tracked.RatioDefined)
	assert.InDelta(t, 50.0, tracked.Ratio, 0.001)
	assert.Equal(t, domain.CategoryMedium, tracked.Category)
	assert.True(t, tracked.Alert)
	require.Len(t, tracked.Criteria, 1)
	assert.Equal(t, 2, tracked.Criteria[0].Matched)

	msg := Render(rep)
	assert.Equal(t, testSubject, msg.Subject)
	assert.Contains(t, msg.Text, "ratio 50.0% (medium)")
	assert.Contains(t, msg.Text, "optimal n/a, ratio n/a (no_tracking)")
	assert.Contains(t, msg.HTML, "Facturas &amp; B2B")
	assert.NotContains(t, msg.HTML, "Facturas & B2B")

	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "profiles-daily-2026-03-02.csv", msg.Attachments[0].Name)

	records, err := csv.NewReader(strings.NewReader(string(msg.Attachments[0].Data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "Vencimientos", records[1][1])
	assert.Equal(t, "2", records[1][5])
	assert.Equal(t, "50.0%", records[1][7])
	assert.Equal(t, "true", records[1][10])
}

func TestRenderAlert(t *testing.T) {
	now := testNow
	p := domain.Profile{
		Name:              "Vencimientos",
		Criteria:          []string{"Próximos a vencer"},
		TrackOptimal:      true,
		OptimalExecutions: 10,
		FoundCount:        3,
		AlertRecipient:    testRecipient,
		AlertThreshold:    80,
		LastSearchAt:      &now,
	}

	msg := RenderAlert(p)
	assert.Equal(t, []string{testRecipient}, msg.To)
	assert.Contains(t, msg.Subject, "30.0%")
	assert.Contains(t, msg.Text, "Success ratio: 30.0% (threshold 80.0%)")
	assert.Contains(t, msg.Text, "Found: 3 of 10 expected")
}
