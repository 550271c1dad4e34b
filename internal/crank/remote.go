// Package crank advances the round lifecycle: it closes rounds whose window
// has passed, resolves closed rounds into validated and rejected proposals
// and marks them processed so they are never resolved twice.
package crank

import (
	"context"

	"epoch-crank/internal/ledger"
	"epoch-crank/internal/models"
	"epoch-crank/internal/retry"
)

// Remote is the only path from crank components to the ledger. Each call
// waits for a governor slot and is retried while the backend throttles.
type Remote struct {
	ledger ledger.Ledger
	policy *retry.Policy
}

func NewRemote(l ledger.Ledger, policy *retry.Policy) *Remote {
	return &Remote{ledger: l, policy: policy}
}

func (r *Remote) Rounds(ctx context.Context) ([]models.Round, error) {
	return retry.Value(ctx, r.policy, "rounds", r.ledger.Rounds)
}

func (r *Remote) Proposals(ctx context.Context, roundID uint64) ([]models.Proposal, error) {
	return retry.Value(ctx, r.policy, "proposals", func(ctx context.Context) ([]models.Proposal, error) {
		return r.ledger.Proposals(ctx, roundID)
	})
}

func (r *Remote) Authority(ctx context.Context) (string, error) {
	return retry.Value(ctx, r.policy, "config", r.ledger.Authority)
}

func (r *Remote) CloseRound(ctx context.Context, roundID uint64) (ledger.TxID, error) {
	return retry.Value(ctx, r.policy, ledger.InstrEndEpoch, func(ctx context.Context) (ledger.TxID, error) {
		return r.ledger.CloseRound(ctx, roundID)
	})
}

func (r *Remote) SetProposalStatus(ctx context.Context, roundID uint64, proposalID string, status models.ProposalStatus) (ledger.TxID, error) {
	return retry.Value(ctx, r.policy, ledger.InstrUpdateProposalStatus, func(ctx context.Context) (ledger.TxID, error) {
		return r.ledger.SetProposalStatus(ctx, roundID, proposalID, status)
	})
}

func (r *Remote) MarkRoundProcessed(ctx context.Context, roundID uint64) (ledger.TxID, error) {
	return retry.Value(ctx, r.policy, ledger.InstrMarkEpochProcessed, func(ctx context.Context) (ledger.TxID, error) {
		return r.ledger.MarkRoundProcessed(ctx, roundID)
	})
}

func (r *Remote) OpenRound(ctx context.Context, roundID uint64, start, end int64) (ledger.TxID, error) {
	return retry.Value(ctx, r.policy, ledger.InstrStartEpoch, func(ctx context.Context) (ledger.TxID, error) {
		return r.ledger.OpenRound(ctx, roundID, start, end)
	})
}

// ActiveRounds returns the rounds currently Active, in ledger order.
func (r *Remote) ActiveRounds(ctx context.Context) ([]models.Round, error) {
	rounds, err := r.Rounds(ctx)
	if err != nil {
		return nil, err
	}
	return filterRounds(rounds, func(rd models.Round) bool { return rd.Status == models.RoundActive }), nil
}

func filterRounds(rounds []models.Round, keep func(models.Round) bool) []models.Round {
	out := make([]models.Round, 0, len(rounds))
	for _, r := range rounds {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
