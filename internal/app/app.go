// Package app provides the main application bootstrap and runtime orchestration.
//
// The App type wires together all dependencies and exposes methods to run
// the operational modes:
//
//   - Scheduler mode: polling loop that fires daily, weekly and monthly reports
//   - Report mode: produce and dispatch one report immediately
//   - Summary mode: print the profile collection summary
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/profilewatch/internal/output/notify"
	"github.com/lueurxax/profilewatch/internal/output/report"
	"github.com/lueurxax/profilewatch/internal/platform/config"
	"github.com/lueurxax/profilewatch/internal/platform/fsutil"
	"github.com/lueurxax/profilewatch/internal/platform/observability"
	"github.com/lueurxax/profilewatch/internal/platform/schedule"
	"github.com/lueurxax/profilewatch/internal/process/mailsource"
	"github.com/lueurxax/profilewatch/internal/process/match"
	"github.com/lueurxax/profilewatch/internal/process/scheduler"
	"github.com/lueurxax/profilewatch/internal/storage"
	"github.com/lueurxax/profilewatch/internal/storage/history"
)

const (
	logFieldSources   = "sources"
	logFieldChannels  = "channels"
	logFieldFrequency = "frequency"

	recentFiresLimit = 20
)

var errStoreNotLoaded = errors.New("profile store not loaded")

// App holds the application dependencies and provides methods to run different modes.
type App struct {
	cfg        *config.Config
	logger     *zerolog.Logger
	store      *storage.ProfileStore
	loadReport storage.LoadReport
	schedules  *schedule.Store
	engine     *match.Engine
	producer   *report.Producer
	history    *history.DB
	scheduler  *scheduler.Scheduler
}

// New opens the stores, builds the search engine and the dispatch channels.
// The run history database is connected and migrated when configured.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := fsutil.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	store, loadReport := storage.Open(storage.Options{
		Path:             cfg.ProfilesPath(),
		BackupDir:        cfg.BackupPath(),
		BackupKeep:       cfg.BackupKeep,
		DefaultThreshold: cfg.AlertThreshold,
	}, logger)

	a := &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		loadReport: loadReport,
		schedules:  schedule.NewStore(cfg.SchedulePath(), logger),
	}

	mboxes := mailsource.FromPaths(cfg.MailSources, logger)

	sources := make([]match.Source, 0, len(mboxes))
	for _, m := range mboxes {
		sources = append(sources, m)
	}

	if len(sources) == 0 {
		logger.Warn().Msg("no mail sources configured, every search will find nothing")
	}

	logger.Info().Int(logFieldSources, len(sources)).Msg("mail sources configured")

	a.engine = match.NewEngine(sources, match.Options{Lookback: cfg.SearchLookback}, logger)

	dispatch, alerts := a.newSenders()
	a.producer = report.New(store, a.engine, dispatch, alerts, report.Options{}, logger)

	if cfg.PostgresDSN != "" {
		db, err := history.New(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("history database: %w", err)
		}

		if err := db.Migrate(ctx); err != nil {
			db.Close()

			return nil, fmt.Errorf("history migrations: %w", err)
		}

		a.history = db
	}

	a.scheduler = a.newScheduler()

	return a, nil
}

func (a *App) newSenders() (notify.Sender, notify.Sender) {
	var (
		channels []notify.Sender
		alerts   notify.Sender
	)

	if a.cfg.SMTPEnabled() {
		email := notify.NewEmailSender(notify.EmailConfig{
			Host:          a.cfg.SMTPHost,
			Port:          a.cfg.SMTPPort,
			Username:      a.cfg.SMTPUsername,
			Password:      a.cfg.SMTPPassword,
			From:          a.cfg.SMTPFrom,
			DefaultTo:     a.cfg.ReportRecipients,
			RatePerMinute: a.cfg.SMTPRatePerMinute,
		}, a.logger)

		alerts = email

		if len(a.cfg.ReportRecipients) > 0 {
			channels = append(channels, email)
		}
	}

	if a.cfg.TelegramEnabled() {
		tg, err := notify.NewTelegramSender(a.cfg.TelegramBotToken, a.cfg.TelegramChatID, a.logger)
		if err != nil {
			a.logger.Error().Err(err).Msg("telegram dispatch disabled")
		} else {
			channels = append(channels, tg)
		}
	}

	multi := notify.NewMulti(a.logger, channels...)
	if multi.Len() == 0 {
		a.logger.Warn().Msg("no report channel configured, reports will fail to dispatch")
	}

	a.logger.Info().Int(logFieldChannels, multi.Len()).Msg("report channels configured")

	return multi, alerts
}

// Close releases the history database.
func (a *App) Close() {
	if a.history != nil {
		a.history.Close()
	}
}

// StartHealthServer starts the health check and metrics server. A zero port disables it.
func (a *App) StartHealthServer(ctx context.Context) error {
	if a.cfg.HealthPort == 0 {
		return nil
	}

	srv := observability.NewServer(a.cfg.HealthPort, a.logger)
	srv.AddCheck("store", func(context.Context) error {
		if !a.store.Loaded() {
			return errStoreNotLoaded
		}

		return nil
	})

	if a.history != nil {
		srv.AddCheck("database", a.history.Ping)
	}

	srv.SetStatus(a.status)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("health server start: %w", err)
	}

	return nil
}

// RunScheduler runs the report loop until ctx is canceled.
func (a *App) RunScheduler(ctx context.Context) error {
	if err := a.scheduler.Seed(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("failed to seed fired state from history")
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	a.scheduler.Stop()

	return fmt.Errorf("scheduler stopped: %w", ctx.Err())
}

func (a *App) newScheduler() *scheduler.Scheduler {
	opts := scheduler.Options{
		PollInterval:  a.cfg.SchedulerPollInterval,
		ErrorBackoff:  a.cfg.SchedulerErrorBackoff,
		CatchupWindow: a.cfg.SchedulerCatchupWindow,
	}

	if a.history != nil {
		opts.History = a.history
	}

	producers := make(map[schedule.Frequency]scheduler.Producer, len(schedule.Frequencies))
	for _, freq := range schedule.Frequencies {
		producers[freq] = a.producer.Produce
	}

	return scheduler.New(opts, a.schedules, producers, a.logger)
}

// RunReport produces and dispatches one report for freq.
func (a *App) RunReport(ctx context.Context, freq schedule.Frequency) error {
	a.logger.Info().Str(logFieldFrequency, string(freq)).Msg("producing report on demand")

	if err := a.producer.Produce(ctx, freq); err != nil {
		return fmt.Errorf("produce %s report: %w", freq, err)
	}

	return nil
}

// RunSummary writes the collection summary as indented JSON.
func (a *App) RunSummary(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(a.store.Summary()); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	return nil
}

type loadStatus struct {
	Source   storage.LoadSource `json:"source"`
	Path     string             `json:"path"`
	Loaded   int                `json:"loaded"`
	Skipped  int                `json:"skipped"`
	Degraded bool               `json:"degraded"`
}

type statusView struct {
	Now         time.Time          `json:"now"`
	Profiles    storage.Summary    `json:"profiles"`
	Load        loadStatus         `json:"load"`
	Running     bool               `json:"scheduler_running"`
	Schedule    []scheduler.Status `json:"schedule,omitempty"`
	RecentFires []history.Fire     `json:"recent_fires,omitempty"`
}

func (a *App) status(ctx context.Context) any {
	now := time.Now()

	view := statusView{
		Now:      now,
		Profiles: a.store.Summary(),
		Load: loadStatus{
			Source:   a.loadReport.Source,
			Path:     a.loadReport.Path,
			Loaded:   a.loadReport.Loaded,
			Skipped:  len(a.loadReport.Skipped),
			Degraded: a.loadReport.Degraded(),
		},
	}

	view.Running = a.scheduler.Running()
	view.Schedule = a.scheduler.Snapshot(now)

	if a.history != nil {
		fires, err := a.history.RecentFires(ctx, recentFiresLimit)
		if err != nil {
			a.logger.Warn().Err(err).Msg("failed to read recent fires")
		}

		view.RecentFires = fires
	}

	return view
}
