package ledgertest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epoch-crank/internal/ledger"
	"epoch-crank/internal/models"
)

func TestTransitionRules(t *testing.T) {
	ctx := context.Background()
	l := New()
	l.AddRound(models.Round{ID: 1, Status: models.RoundActive})
	l.AddProposals(1, models.Proposal{ID: "A", Status: models.ProposalActive})

	_, err := l.SetProposalStatus(ctx, 1, "A", models.ProposalValidated)
	code, _ := ledger.ProgramCodeOf(err)
	assert.Equal(t, ledger.ProgramEpochNotClosed, code)

	_, err = l.CloseRound(ctx, 1)
	require.NoError(t, err)
	_, err = l.CloseRound(ctx, 1)
	code, _ = ledger.ProgramCodeOf(err)
	assert.Equal(t, ledger.ProgramEpochAlreadyInactive, code)

	_, err = l.SetProposalStatus(ctx, 1, "A", models.ProposalValidated)
	require.NoError(t, err)
	_, err = l.SetProposalStatus(ctx, 1, "A", models.ProposalRejected)
	code, _ = ledger.ProgramCodeOf(err)
	assert.Equal(t, ledger.ProgramProposalAlreadyFinalized, code)

	_, err = l.MarkRoundProcessed(ctx, 1)
	require.NoError(t, err)
	_, err = l.MarkRoundProcessed(ctx, 1)
	code, _ = ledger.ProgramCodeOf(err)
	assert.Equal(t, ledger.ProgramEpochAlreadyProcessed, code)

	r, _ := l.Round(1)
	assert.True(t, r.Processed)
	p, _ := l.Proposal(1, "A")
	assert.Equal(t, models.ProposalValidated, p.Status)
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	l := New()
	l.AddRound(models.Round{ID: 1, Status: models.RoundActive})
	l.AddRound(models.Round{ID: 2, Status: models.RoundActive})

	l.RateLimitNext(1)
	_, err := l.Rounds(ctx)
	assert.True(t, ledger.IsRateLimited(err))
	_, err = l.Rounds(ctx)
	assert.NoError(t, err)

	boom := errors.New("boom")
	l.FailWrite(2, boom)
	_, err = l.CloseRound(ctx, 1)
	assert.NoError(t, err)
	_, err = l.CloseRound(ctx, 2)
	assert.ErrorIs(t, err, boom)

	assert.Len(t, l.CallsOf(ledger.InstrEndEpoch), 2)
}

func TestOpenRound(t *testing.T) {
	ctx := context.Background()
	l := New()
	_, err := l.OpenRound(ctx, 100, 100, 200)
	require.NoError(t, err)
	_, err = l.OpenRound(ctx, 100, 100, 200)
	assert.Error(t, err)
	_, err = l.OpenRound(ctx, 101, 200, 200)
	assert.Error(t, err)

	r, ok := l.Round(100)
	require.True(t, ok)
	assert.Equal(t, models.RoundActive, r.Status)
}
