// Package scheduler fires report producers when their schedule clock is due.
//
// The loop polls: every tick reloads the schedule configuration, evaluates
// each frequency and runs the producers that are due. A frequency fires at
// most once per period key (the local trigger date); a failed run is not
// recorded as fired, so the next tick inside the trigger window retries it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
	"github.com/lueurxax/profilewatch/internal/platform/observability"
	"github.com/lueurxax/profilewatch/internal/platform/schedule"
	"github.com/lueurxax/profilewatch/internal/platform/worker"
	"github.com/lueurxax/profilewatch/internal/storage/history"
)

const (
	workerName = "scheduler"

	historyTimeout = 5 * time.Second

	logFieldFrequency = "frequency"
	logFieldPeriod    = "period"
	logFieldTrigger   = "trigger"
	logFieldDuration  = "duration"
)

// Producer produces and dispatches the report for one frequency.
type Producer func(ctx context.Context, freq schedule.Frequency) error

// ConfigSource supplies the current schedule configuration.
type ConfigSource interface {
	Load() (schedule.Config, error)
}

// History persists fire attempts across restarts.
type History interface {
	RecordFire(ctx context.Context, f history.Fire) error
	LastSuccess(ctx context.Context, frequency string) (time.Time, bool, error)
}

// State describes a frequency between ticks.
type State string

// States.
const (
	StateIdle  State = "idle"
	StateArmed State = "armed"
	StateFired State = "fired"
)

// Options configures a Scheduler.
type Options struct {
	PollInterval  time.Duration
	ErrorBackoff  time.Duration
	CatchupWindow time.Duration
	Now           func() time.Time
	History       History
}

// Status is a point-in-time view of one frequency.
type Status struct {
	Frequency schedule.Frequency `json:"frequency"`
	State     State              `json:"state"`
	InFlight  bool               `json:"in_flight"`
	LastFired *time.Time         `json:"last_fired,omitempty"`
	Next      *time.Time         `json:"next,omitempty"`
}

// Scheduler is the polling loop.
type Scheduler struct {
	opts      Options
	config    ConfigSource
	producers map[schedule.Frequency]Producer
	logger    *zerolog.Logger
	runner    worker.Runner
	fires     sync.WaitGroup

	mu        sync.Mutex
	cfg       schedule.Config
	fired     map[schedule.Frequency]string
	lastFired map[schedule.Frequency]time.Time
	inFlight  map[schedule.Frequency]bool
}

// New builds a stopped scheduler.
func New(opts Options, config ConfigSource, producers map[schedule.Frequency]Producer, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := make(map[schedule.Frequency]Producer, len(producers))
	for freq, fn := range producers {
		p[freq] = fn
	}

	return &Scheduler{
		opts:      opts,
		config:    config,
		producers: p,
		logger:    logger,
		cfg:       schedule.DefaultConfig(),
		fired:     make(map[schedule.Frequency]string),
		lastFired: make(map[schedule.Frequency]time.Time),
		inFlight:  make(map[schedule.Frequency]bool),
	}
}

// Start launches the loop. It fails with ErrSchedulerRunning when the loop
// is already active.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.runner.Start(ctx, s.run); err != nil {
		if errors.Is(err, worker.ErrAlreadyRunning) {
			return apperrors.ErrSchedulerRunning
		}

		return fmt.Errorf("start scheduler: %w", err)
	}

	return nil
}

// Stop cancels the loop and waits for it, including any running producers,
// to return.
func (s *Scheduler) Stop() {
	s.runner.Stop()
}

// Restart stops the loop if it runs and starts it again. Fired state is kept.
func (s *Scheduler) Restart(ctx context.Context) error {
	s.runner.Restart(ctx, s.run)

	return nil
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	return s.runner.Running()
}

func (s *Scheduler) run(ctx context.Context) {
	err := worker.Loop(ctx, worker.Config{
		Name:         workerName,
		PollInterval: s.opts.PollInterval,
		ErrorBackoff: s.opts.ErrorBackoff,
		Logger:       s.logger,
		Process: func(ctx context.Context) error {
			err := s.Tick(ctx, s.opts.Now())
			if err != nil {
				observability.SchedulerLoopErrors.Inc()
			}

			return err
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("scheduler loop exited")
	}

	s.fires.Wait()
}

// Wait blocks until every producer started by Tick has returned.
func (s *Scheduler) Wait() {
	s.fires.Wait()
}

// Seed marks as fired every frequency whose latest successful run in the
// history belongs to the current period, so a restart inside the trigger
// window does not fire twice.
func (s *Scheduler) Seed(ctx context.Context) error {
	if s.opts.History == nil {
		return nil
	}

	var errs []error

	for _, freq := range schedule.Frequencies {
		period, ok, err := s.opts.History.LastSuccess(ctx, string(freq))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", freq, err))
			continue
		}

		if !ok {
			continue
		}

		s.mu.Lock()
		s.fired[freq] = schedule.PeriodKey(period)
		s.mu.Unlock()
	}

	return errors.Join(errs...)
}

// Tick evaluates every frequency at now and starts each due producer in its
// own goroutine without waiting for it, so a slow run never delays the clock
// of another frequency. Only a failure to load the configuration is returned;
// producer failures are logged and counted.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	cfg, err := s.config.Load()
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	for _, freq := range schedule.Frequencies {
		trigger, due, err := cfg.Due(freq, now, s.opts.CatchupWindow)
		if err != nil {
			s.logger.Warn().Err(err).Str(logFieldFrequency, string(freq)).Msg("cannot evaluate schedule clock")
			continue
		}

		if !due {
			continue
		}

		key := schedule.PeriodKey(trigger)
		if !s.claim(freq, key) {
			continue
		}

		s.fires.Add(1)

		go func() {
			defer s.fires.Done()

			s.fire(ctx, freq, trigger, key)
		}()
	}

	return nil
}

// claim reserves freq for key unless it already fired for key or is running.
func (s *Scheduler) claim(freq schedule.Frequency, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fired[freq] == key || s.inFlight[freq] {
		return false
	}

	s.inFlight[freq] = true

	return true
}

func (s *Scheduler) fire(ctx context.Context, freq schedule.Frequency, trigger time.Time, key string) {
	producer := s.producers[freq]
	if producer == nil {
		s.release(freq, key, trigger, false)
		observability.SchedulerFires.WithLabelValues(string(freq), observability.StatusSkipped).Inc()
		s.logger.Warn().Str(logFieldFrequency, string(freq)).Msg("no producer registered for due frequency")

		return
	}

	s.logger.Info().
		Str(logFieldFrequency, string(freq)).
		Str(logFieldPeriod, key).
		Time(logFieldTrigger, trigger).
		Msg("firing report")

	started := s.opts.Now()
	err := worker.Safe(func() error { return producer(ctx, freq) })
	finished := s.opts.Now()

	s.release(freq, key, trigger, err == nil)
	s.record(ctx, freq, trigger, started, finished, err)

	if err != nil {
		observability.SchedulerFires.WithLabelValues(string(freq), observability.StatusFailure).Inc()
		s.logger.Error().Err(err).
			Str(logFieldFrequency, string(freq)).
			Str(logFieldPeriod, key).
			Msg("report producer failed")

		return
	}

	observability.SchedulerFires.WithLabelValues(string(freq), observability.StatusSuccess).Inc()
	s.logger.Info().
		Str(logFieldFrequency, string(freq)).
		Str(logFieldPeriod, key).
		Dur(logFieldDuration, finished.Sub(started)).
		Msg("report fired")
}

func (s *Scheduler) release(freq schedule.Frequency, key string, trigger time.Time, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight[freq] = false

	if success {
		s.fired[freq] = key
		s.lastFired[freq] = trigger
	}
}

func (s *Scheduler) record(ctx context.Context, freq schedule.Frequency, trigger, started, finished time.Time, runErr error) {
	if s.opts.History == nil {
		return
	}

	fire := history.Fire{
		Frequency:  string(freq),
		Period:     time.Date(trigger.Year(), trigger.Month(), trigger.Day(), 0, 0, 0, 0, time.UTC),
		StartedAt:  started,
		FinishedAt: finished,
		Status:     history.StatusSuccess,
	}

	if runErr != nil {
		fire.Status = history.StatusFailure
		fire.Error = runErr.Error()
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	if err := s.opts.History.RecordFire(hctx, fire); err != nil {
		s.logger.Warn().Err(err).Str(logFieldFrequency, string(freq)).Msg("failed to record fire history")
	}
}

// State reports the state of freq at now against the last loaded configuration.
func (s *Scheduler) State(freq schedule.Frequency, now time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stateLocked(freq, now)
}

func (s *Scheduler) stateLocked(freq schedule.Frequency, now time.Time) State {
	if !s.cfg.Enabled(freq) {
		return StateIdle
	}

	loc, err := s.cfg.Location()
	if err != nil {
		return StateIdle
	}

	if key, ok := s.fired[freq]; ok && key == schedule.PeriodKey(now.In(loc)) {
		return StateFired
	}

	return StateArmed
}

// LastFired returns the trigger instant of the latest successful fire of freq
// in this process.
func (s *Scheduler) LastFired(freq schedule.Frequency) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.lastFired[freq]

	return t, ok
}

// Snapshot reports every frequency at now.
func (s *Scheduler) Snapshot(now time.Time) []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(schedule.Frequencies))

	for _, freq := range schedule.Frequencies {
		st := Status{
			Frequency: freq,
			State:     s.stateLocked(freq, now),
			InFlight:  s.inFlight[freq],
		}

		if t, ok := s.lastFired[freq]; ok {
			st.LastFired = &t
		}

		if next, ok, err := s.cfg.Next(freq, now); err == nil && ok {
			st.Next = &next
		}

		out = append(out, st)
	}

	return out
}
