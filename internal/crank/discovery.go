package crank

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"epoch-crank/internal/models"
)

// Candidate is a closed round that has not been processed yet.
type Candidate struct {
	Round     models.Round
	Proposals []models.Proposal
	Active    []models.Proposal
}

// HasActive reports whether any proposal still awaits a final status.
// Candidates without one are still resolved: they only need marking.
func (c Candidate) HasActive() bool { return len(c.Active) > 0 }

type Discovery struct {
	remote *Remote
	log    zerolog.Logger
}

func NewDiscovery(remote *Remote, log zerolog.Logger) *Discovery {
	return &Discovery{remote: remote, log: log.With().Str("component", "discovery").Logger()}
}

// FindClosedUnprocessed returns every Closed round with processed unset,
// in the order the ledger listed them. It issues no writes.
func (d *Discovery) FindClosedUnprocessed(ctx context.Context) ([]Candidate, error) {
	rounds, err := d.remote.Rounds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	eligible := filterRounds(rounds, models.Round.Resolvable)
	d.log.Debug().Int("rounds", len(rounds)).Int("eligible", len(eligible)).Msg("rounds listed")

	candidates := make([]Candidate, 0, len(eligible))
	for _, r := range eligible {
		proposals, err := d.remote.Proposals(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("list proposals of round %d: %w", r.ID, err)
		}
		c := Candidate{Round: r, Proposals: proposals, Active: activeProposals(proposals)}
		d.log.Debug().Uint64("round", r.ID).Int("proposals", len(proposals)).Int("active", len(c.Active)).Msg("candidate round")
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func activeProposals(ps []models.Proposal) []models.Proposal {
	out := make([]models.Proposal, 0, len(ps))
	for _, p := range ps {
		if p.Status == models.ProposalActive {
			out = append(out, p)
		}
	}
	return out
}
