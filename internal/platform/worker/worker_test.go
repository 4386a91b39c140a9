package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWorkerName = "test"
	testEventually = time.Second
	testTick       = 5 * time.Millisecond
)

var errTestProcess = errors.New("process failed")

func TestWaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Wait(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitZero(t *testing.T) {
	require.NoError(t, Wait(context.Background(), 0))
}

func TestLoopSurvivesErrorsAndPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32

	done := make(chan error, 1)

	go func() {
		done <- Loop(ctx, Config{
			Name:         testWorkerName,
			PollInterval: time.Millisecond,
			ErrorBackoff: time.Millisecond,
			Process: func(context.Context) error {
				switch calls.Add(1) {
				case 1:
					return errTestProcess
				case 2:
					panic("boom")
				default:
					return nil
				}
			},
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, testEventually, testTick)

	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoopBacksOffAfterError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32

	done := make(chan error, 1)

	go func() {
		done <- Loop(ctx, Config{
			Name:         testWorkerName,
			PollInterval: time.Millisecond,
			ErrorBackoff: time.Hour,
			Process: func(context.Context) error {
				calls.Add(1)
				return errTestProcess
			},
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, testEventually, testTick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "backoff must delay the next iteration")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestSafe(t *testing.T) {
	err := Safe(func() error { panic("boom") })
	require.ErrorIs(t, err, ErrPanic)

	require.ErrorIs(t, Safe(func() error { return errTestProcess }), errTestProcess)
}

func TestRunnerStopJoins(t *testing.T) {
	var (
		r       Runner
		stopped atomic.Bool
	)

	require.NoError(t, r.Start(context.Background(), func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		stopped.Store(true)
	}))
	assert.True(t, r.Running())

	r.Stop()

	assert.True(t, stopped.Load(), "Stop must return after the goroutine exits")
	assert.False(t, r.Running())
}

func TestRunnerDoubleStart(t *testing.T) {
	var r Runner
	defer r.Stop()

	block := func(ctx context.Context) { <-ctx.Done() }

	require.NoError(t, r.Start(context.Background(), block))
	require.ErrorIs(t, r.Start(context.Background(), block), ErrAlreadyRunning)
}

func TestRunnerRestart(t *testing.T) {
	var (
		r      Runner
		starts atomic.Int32
	)
	defer r.Stop()

	run := func(ctx context.Context) {
		starts.Add(1)
		<-ctx.Done()
	}

	require.NoError(t, r.Start(context.Background(), run))
	require.Eventually(t, func() bool { return starts.Load() == 1 }, testEventually, testTick)

	r.Restart(context.Background(), run)
	require.Eventually(t, func() bool { return starts.Load() == 2 }, testEventually, testTick)
	assert.True(t, r.Running())
}

func TestRunnerStartAfterExit(t *testing.T) {
	var r Runner

	require.NoError(t, r.Start(context.Background(), func(context.Context) {}))
	require.Eventually(t, func() bool { return !r.Running() }, testEventually, testTick)
	require.NoError(t, r.Start(context.Background(), func(context.Context) {}))

	r.Stop()
}
