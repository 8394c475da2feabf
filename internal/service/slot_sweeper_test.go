package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sweepRecorder struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (r *sweepRecorder) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, now)
	if r.err != nil {
		return 0, r.err
	}
	return 2, nil
}

func (r *sweepRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestSlotSweeperRunsImmediatelyAndOnTick(t *testing.T) {
	recorder := &sweepRecorder{}
	sweeper := NewSlotSweeper(recorder, 10*time.Millisecond, nil)

	sweeper.Start(context.Background())
	require.Eventually(t, func() bool { return recorder.count() >= 2 }, time.Second, 5*time.Millisecond)
	sweeper.Stop()

	after := recorder.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, recorder.count())
}

func TestSlotSweeperStopsOnContextCancel(t *testing.T) {
	recorder := &sweepRecorder{err: errors.New("db down")}
	sweeper := NewSlotSweeper(recorder, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	sweeper.Start(ctx)
	require.Eventually(t, func() bool { return recorder.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func TestSlotSweeperStopWithoutStart(t *testing.T) {
	sweeper := NewSlotSweeper(&sweepRecorder{}, 0, nil)

	sweeper.Stop()
	assert.Equal(t, time.Hour, sweeper.interval)
}

func TestSlotSweeperRunOnceUsesClock(t *testing.T) {
	recorder := &sweepRecorder{}
	sweeper := NewSlotSweeper(recorder, time.Hour, nil)
	sweeper.now = func() time.Time { return at(12, 0) }

	deleted, err := sweeper.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, []time.Time{at(12, 0)}, recorder.calls)
}
