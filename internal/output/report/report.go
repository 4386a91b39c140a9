// Package report runs every profile's search and delivers the resulting
// report. It is the producer the scheduler fires.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
	"github.com/lueurxax/profilewatch/internal/output/notify"
	"github.com/lueurxax/profilewatch/internal/platform/observability"
	"github.com/lueurxax/profilewatch/internal/platform/schedule"
	"github.com/lueurxax/profilewatch/internal/process/match"
	"github.com/lueurxax/profilewatch/internal/storage"
)

const (
	logFieldReport    = "report_id"
	logFieldFrequency = "frequency"
	logFieldProfile   = "profile"
	logFieldFound     = "found"
	logFieldProfiles  = "profiles"
	logFieldRecipient = "recipient"
)

// Store is the part of the profile store the producer needs.
type Store interface {
	List() []domain.Profile
	RecordResult(id string, found int) (domain.Profile, error)
	RecordAlertSent(id string) (domain.Profile, error)
}

// Searcher executes profile searches.
type Searcher interface {
	ClearCache()
	ExecuteProfile(ctx context.Context, p domain.Profile) (match.Execution, error)
}

// Options configures a Producer.
type Options struct {
	Now func() time.Time
}

// Row is one profile's line in a report.
type Row struct {
	ProfileID    string
	Name         string
	BotType      domain.BotType
	Responsible  string
	Criteria     []match.CriterionResult
	Found        int
	Optimal      int
	Ratio        float64
	RatioDefined bool
	Category     domain.SuccessCategory
	LastSearchAt *time.Time
	Alert        bool
	Error        string
}

// Report is the outcome of one producer run.
type Report struct {
	ID           string
	Frequency    schedule.Frequency
	GeneratedAt  time.Time
	Rows         []Row
	Summary      storage.Summary
	SourceErrors []string
}

// Producer runs searches, records results, dispatches the report and sends
// degraded-ratio alerts.
type Producer struct {
	store    Store
	search   Searcher
	dispatch notify.Sender
	alerts   notify.Sender
	opts     Options
	logger   *zerolog.Logger

	// runs serializes Produce: overlapping frequencies share the match cache
	// and the alert latch.
	runs sync.Mutex
}

// New builds a producer. alerts may be nil, in which case no alert is sent
// and alert state is left untouched.
func New(store Store, search Searcher, dispatch, alerts notify.Sender, opts Options, logger *zerolog.Logger) *Producer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Producer{
		store:    store,
		search:   search,
		dispatch: dispatch,
		alerts:   alerts,
		opts:     opts,
		logger:   logger,
	}
}

// Produce implements the scheduler producer for freq. The match cache is
// cleared first so every run reads the mailboxes afresh. The run fails when
// the report cannot be dispatched or ctx ends; a profile whose result cannot
// be stored is reported with its error instead. Concurrent calls run one
// after another.
func (p *Producer) Produce(ctx context.Context, freq schedule.Frequency) error {
	p.runs.Lock()
	defer p.runs.Unlock()

	rep, err := p.Build(ctx, freq)
	if err != nil {
		return err
	}

	dispatchErr := p.dispatch.Send(ctx, Render(rep))
	if dispatchErr != nil {
		dispatchErr = fmt.Errorf("dispatch %s report: %w", freq, dispatchErr)
	} else {
		p.logger.Info().
			Str(logFieldReport, rep.ID).
			Str(logFieldFrequency, string(freq)).
			Int(logFieldProfiles, len(rep.Rows)).
			Msg("report dispatched")
	}

	p.sendAlerts(ctx)

	return dispatchErr
}

// Build searches every profile, records the found counts and assembles the
// report without sending it.
func (p *Producer) Build(ctx context.Context, freq schedule.Frequency) (Report, error) {
	p.search.ClearCache()

	profiles := p.store.List()
	rep := Report{
		ID:          uuid.NewString(),
		Frequency:   freq,
		GeneratedAt: p.opts.Now(),
		Rows:        make([]Row, 0, len(profiles)),
	}

	updated := make([]domain.Profile, 0, len(profiles))
	sourceErrs := make(map[string]struct{})

	for _, profile := range profiles {
		exec, err := p.search.ExecuteProfile(ctx, profile)
		if err != nil {
			return Report{}, fmt.Errorf("search profile %s: %w", profile.Name, err)
		}

		for _, se := range exec.SourceErrors {
			sourceErrs[se.Error()] = struct{}{}
		}

		stored, err := p.store.RecordResult(profile.ID, exec.Found)
		if err != nil {
			p.logger.Error().Err(err).Str(logFieldProfile, profile.Name).Msg("failed to record search result")

			row := newRow(profile, exec)
			row.Found = exec.Found
			row.Error = err.Error()
			rep.Rows = append(rep.Rows, row)
			updated = append(updated, profile)

			continue
		}

		p.logger.Debug().Str(logFieldProfile, stored.Name).Int(logFieldFound, exec.Found).Msg("profile searched")

		rep.Rows = append(rep.Rows, newRow(stored, exec))
		updated = append(updated, stored)
	}

	rep.Summary = storage.Summarize(updated)

	for msg := range sourceErrs {
		rep.SourceErrors = append(rep.SourceErrors, msg)
	}

	sort.Strings(rep.SourceErrors)

	return rep, nil
}

func newRow(profile domain.Profile, exec match.Execution) Row {
	ratio, defined := profile.SuccessRatio()

	return Row{
		ProfileID:    profile.ID,
		Name:         profile.Name,
		BotType:      profile.BotType,
		Responsible:  profile.Responsible,
		Criteria:     exec.Criteria,
		Found:        profile.FoundCount,
		Optimal:      profile.OptimalExecutions,
		Ratio:        ratio,
		RatioDefined: defined,
		Category:     profile.Category(),
		LastSearchAt: profile.LastSearchAt,
		Alert:        profile.ShouldAlert(),
	}
}

// sendAlerts e-mails the recipient of every profile whose ratio dropped below
// its threshold and records the alert so it is not repeated until the ratio
// recovers.
func (p *Producer) sendAlerts(ctx context.Context) {
	for _, profile := range p.store.List() {
		if !profile.ShouldAlert() {
			continue
		}

		if err := p.sendAlert(ctx, profile); err != nil {
			status := observability.StatusFailure
			if errors.Is(err, apperrors.ErrDispatchDisabled) {
				status = observability.StatusSkipped
			}

			observability.AlertsSent.WithLabelValues(status).Inc()
			p.logger.Warn().Err(err).Str(logFieldProfile, profile.Name).Msg("alert not sent")

			continue
		}

		observability.AlertsSent.WithLabelValues(observability.StatusSuccess).Inc()
	}
}

func (p *Producer) sendAlert(ctx context.Context, profile domain.Profile) error {
	if p.alerts == nil {
		return apperrors.ErrDispatchDisabled
	}

	if err := p.alerts.Send(ctx, RenderAlert(profile)); err != nil {
		return err
	}

	if _, err := p.store.RecordAlertSent(profile.ID); err != nil {
		return fmt.Errorf("record alert: %w", err)
	}

	p.logger.Info().Str(logFieldProfile, profile.Name).Str(logFieldRecipient, profile.AlertRecipient).Msg("alert sent")

	return nil
}
