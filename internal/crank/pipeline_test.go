package crank

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epoch-crank/internal/ledger"
	"epoch-crank/internal/ledger/ledgertest"
	"epoch-crank/internal/models"
)

func TestTickClosesThenResolves(t *testing.T) {
	l := ledgertest.New()
	l.AddRound(activeRound(1, testNow.Add(-time.Hour)))
	l.AddProposals(1, active("A", 5), active("B", 7))
	p := NewPipeline(newRemote(t, l), Options{Clock: mockClock()}, 0, zerolog.Nop())

	rep := p.Tick(context.Background())

	require.True(t, rep.Success, rep.Message)
	assert.Len(t, rep.Close.Closed, 1)
	assert.Nil(t, rep.Opened)
	assert.Equal(t, 1, rep.Crank.Details.ProcessedCount)

	r, _ := l.Round(1)
	assert.Equal(t, models.RoundClosed, r.Status)
	assert.True(t, r.Processed)
	b, _ := l.Proposal(1, "B")
	assert.Equal(t, models.ProposalValidated, b.Status)
}

func TestTickAutoOpensWhenNoRoundIsActive(t *testing.T) {
	l := ledgertest.New()
	l.AddRound(activeRound(1, testNow.Add(-time.Hour)))
	p := NewPipeline(newRemote(t, l), Options{Clock: mockClock()}, 24*time.Hour, zerolog.Nop())

	rep := p.Tick(context.Background())

	require.NotNil(t, rep.Opened)
	assert.Empty(t, rep.OpenError)
	assert.Len(t, l.CallsOf(ledger.InstrStartEpoch), 1)

	// the new round is still running, so the next tick opens nothing
	rep = p.Tick(context.Background())
	assert.Nil(t, rep.Opened)
	assert.Len(t, l.CallsOf(ledger.InstrStartEpoch), 1)
}

func TestRunStopsWithContext(t *testing.T) {
	l := ledgertest.New()
	mock := mockClock()
	p := NewPipeline(newRemote(t, l), Options{Clock: mock}, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, time.Minute) }()

	require.Eventually(t, func() bool { return len(l.CallsOf("rounds")) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Error(t, p.Run(context.Background(), 0))
}
