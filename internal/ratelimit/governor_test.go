package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acquireAt runs Acquire in the background and advances the mock clock in
// small steps until it returns, reporting the mock time it returned at.
func acquireAt(t *testing.T, g *Governor, mock *clock.Mock) time.Time {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- g.Acquire(context.Background()) }()
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			return mock.Now()
		default:
			mock.Add(10 * time.Millisecond)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Max: 0, Window: time.Second}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Max: 1, Window: 0}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Max: 1, Window: time.Second, MinSpacing: -1}, nil, nil)
	assert.Error(t, err)
}

func TestAcquireWithoutWaiting(t *testing.T) {
	mock := clock.NewMock()
	g, err := New(Config{Max: 3, Window: time.Second}, mock, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Acquire(context.Background()))
	}
	assert.Equal(t, 3, g.InFlight())

	mock.Add(time.Second)
	assert.Equal(t, 0, g.InFlight())
}

func TestWindowCapBlocksUntilOldestExpires(t *testing.T) {
	mock := clock.NewMock()
	g, err := New(Config{Max: 2, Window: time.Second}, mock, nil)
	require.NoError(t, err)

	start := mock.Now()
	require.NoError(t, g.Acquire(context.Background()))
	require.NoError(t, g.Acquire(context.Background()))

	at := acquireAt(t, g, mock)
	assert.GreaterOrEqual(t, at.Sub(start), time.Second)
	assert.LessOrEqual(t, g.InFlight(), 2)
}

func TestMinimumSpacing(t *testing.T) {
	mock := clock.NewMock()
	g, err := New(Config{Max: 10, Window: time.Second, MinSpacing: 200 * time.Millisecond}, mock, nil)
	require.NoError(t, err)

	prev := acquireAt(t, g, mock)
	for i := 0; i < 4; i++ {
		at := acquireAt(t, g, mock)
		assert.GreaterOrEqual(t, at.Sub(prev), 200*time.Millisecond)
		prev = at
	}
}

func TestAcquireHonorsCancellation(t *testing.T) {
	mock := clock.NewMock()
	g, err := New(Config{Max: 1, Window: time.Second}, mock, nil)
	require.NoError(t, err)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Acquire(ctx), context.Canceled)
	assert.Equal(t, 1, g.InFlight())
}

func TestConcurrentCallersShareTheCap(t *testing.T) {
	mock := clock.NewMock()
	g, err := New(Config{Max: 2, Window: time.Second}, mock, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Acquire(context.Background()))
		}()
	}
	finished := make(chan struct{})
	go func() { wg.Wait(); close(finished) }()

	start := mock.Now()
	for {
		select {
		case <-finished:
			// six calls at two per window need at least two full windows
			assert.GreaterOrEqual(t, mock.Now().Sub(start), 2*time.Second)
			return
		default:
			mock.Add(50 * time.Millisecond)
		}
	}
}

func TestRealClockBurst(t *testing.T) {
	if testing.Short() {
		t.Skip("takes several seconds")
	}
	g, err := New(DefaultConfig(), clock.New(), nil)
	require.NoError(t, err)

	stamps := make([]time.Time, 0, 20)
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, g.Acquire(context.Background()))
		stamps = append(stamps, time.Now())
	}
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Second)

	for i := 5; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-5]), time.Second-25*time.Millisecond,
			"more than 5 calls within one window ending at call %d", i)
	}
}
