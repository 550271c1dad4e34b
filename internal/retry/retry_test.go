package retry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epoch-crank/internal/ledger"
)

type countingGovernor struct {
	calls int
	err   error
}

func (g *countingGovernor) Acquire(context.Context) error {
	g.calls++
	return g.err
}

func throttled() error {
	return &ledger.Error{Op: "rounds", Code: ledger.CodeRateLimited, ProgramCode: ledger.ProgramTooManyRequests}
}

func newPolicy(t *testing.T, attempts int, gov Acquirer) (*Policy, *[]time.Duration) {
	t.Helper()
	p, err := New(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond}, gov, nil, zerolog.Nop())
	require.NoError(t, err)
	var delays []time.Duration
	p.OnBackoff = func(_ string, attempt int, d time.Duration) {
		assert.Equal(t, len(delays)+1, attempt)
		delays = append(delays, d)
	}
	return p, &delays
}

func TestExhaustsAfterMaxAttempts(t *testing.T) {
	gov := &countingGovernor{}
	p, delays := newPolicy(t, 4, gov)

	calls := 0
	err := p.Do(context.Background(), "rounds", func(context.Context) error {
		calls++
		return throttled()
	})

	require.Error(t, err)
	assert.True(t, ledger.IsRateLimited(err))
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, gov.calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, *delays)
}

func TestOtherErrorsAreNotRetried(t *testing.T) {
	gov := &countingGovernor{}
	p, delays := newPolicy(t, 5, gov)

	rejected := &ledger.Error{Op: "end_epoch", Code: ledger.CodeRejected, ProgramCode: ledger.ProgramEpochAlreadyInactive}
	calls := 0
	err := p.Do(context.Background(), "end_epoch", func(context.Context) error {
		calls++
		return rejected
	})

	assert.Same(t, rejected, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestRecoversAfterThrottling(t *testing.T) {
	gov := &countingGovernor{}
	p, delays := newPolicy(t, 5, gov)

	calls := 0
	got, err := Value(context.Background(), p, "rounds", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, throttled()
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, gov.calls)
	assert.Len(t, *delays, 2)
}

func TestGovernorFailureStopsImmediately(t *testing.T) {
	gov := &countingGovernor{err: context.Canceled}
	p, _ := newPolicy(t, 5, gov)

	called := false
	err := p.Do(context.Background(), "rounds", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestSingleAttemptNeverWaits(t *testing.T) {
	p, delays := newPolicy(t, 1, &countingGovernor{})
	err := p.Do(context.Background(), "rounds", func(context.Context) error { return throttled() })
	assert.True(t, ledger.IsRateLimited(err))
	assert.Empty(t, *delays)
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{MaxAttempts: 0, InitialDelay: time.Second}, &countingGovernor{}, nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(DefaultConfig(), nil, nil, zerolog.Nop())
	assert.Error(t, err)
	assert.NoError(t, DefaultConfig().Validate())
}

func TestBackoffScheduleDoublesAndStops(t *testing.T) {
	p, err := New(Config{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond}, &countingGovernor{}, nil, zerolog.Nop())
	require.NoError(t, err)

	b := p.backoff("rounds")
	var got []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		got = append(got, d)
		require.Less(t, len(got), 10)
	}
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, got)
}

func TestZeroBaseDelayIsRejected(t *testing.T) {
	_, err := New(Config{MaxAttempts: 3, InitialDelay: 0}, &countingGovernor{}, nil, zerolog.Nop())
	assert.Error(t, err)
}
