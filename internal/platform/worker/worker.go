// Package worker provides the background loop primitives: a poll loop with
// error backoff, cancellable waits, panic recovery and a start/stop runner.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	logFieldWorker    = "worker"
	logFieldOperation = "operation"
	logFieldPanic     = "panic"
	logFieldBackoff   = "backoff"
)

// ErrPanic wraps a value recovered from a panicking step.
var ErrPanic = errors.New("panic recovered")

// ProcessFunc is called each iteration.
type ProcessFunc func(ctx context.Context) error

// Config configures the worker loop behavior.
type Config struct {
	// Name identifies the worker for logging.
	Name string

	// PollInterval is the time between process iterations.
	PollInterval time.Duration

	// ErrorBackoff replaces PollInterval after a failed or panicking iteration.
	ErrorBackoff time.Duration

	// Process is called each iteration to do the main work.
	Process ProcessFunc

	// OnStart is called once when the loop starts.
	OnStart func(ctx context.Context)

	// OnStop is called once when the loop exits.
	OnStop func()

	// Logger for the worker.
	Logger *zerolog.Logger
}

// Loop runs Process every PollInterval until ctx is canceled. Errors and
// panics from Process never end the loop; they are logged and followed by
// ErrorBackoff. Returns a wrapped ctx.Err().
func Loop(ctx context.Context, cfg Config) error {
	logger := getLogger(cfg.Logger)

	logger.Info().Str(logFieldWorker, cfg.Name).Msg("starting worker loop")

	if cfg.OnStart != nil {
		cfg.OnStart(ctx)
	}

	defer func() {
		if cfg.OnStop != nil {
			cfg.OnStop()
		}

		logger.Info().Str(logFieldWorker, cfg.Name).Msg("worker loop stopped")
	}()

	for {
		if err := checkCanceled(ctx, cfg.Name); err != nil {
			return err
		}

		wait := cfg.PollInterval

		if err := runProcessStep(ctx, cfg); err != nil && ctx.Err() == nil {
			wait = max(cfg.ErrorBackoff, cfg.PollInterval)

			logger.Error().Err(err).
				Str(logFieldWorker, cfg.Name).
				Dur(logFieldBackoff, wait).
				Msg("process error, backing off")
		}

		if err := Wait(ctx, wait); err != nil {
			return fmt.Errorf("worker loop %s: %w", cfg.Name, err)
		}
	}
}

func runProcessStep(ctx context.Context, cfg Config) (err error) {
	if cfg.Process == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	return cfg.Process(ctx)
}

func checkCanceled(ctx context.Context, name string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("worker loop %s: %w", name, ctx.Err())
	default:
		return nil
	}
}

// Wait blocks until duration elapses or context is canceled.
// Returns a wrapped context error if context is canceled.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Safe runs fn and converts a panic into an ErrPanic error.
func Safe(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	return fn()
}

// RecoverPanic recovers from panics and logs them.
// Use as: defer worker.RecoverPanic(logger, "operation name")
func RecoverPanic(logger *zerolog.Logger, operation string) {
	if r := recover(); r != nil {
		getLogger(logger).Error().
			Interface(logFieldPanic, r).
			Str(logFieldOperation, operation).
			Msg("recovered from panic")
	}
}

func getLogger(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}

	return logger
}
