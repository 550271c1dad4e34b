package crank

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"epoch-crank/internal/ledger"
	"epoch-crank/internal/metrics"
	"epoch-crank/internal/models"
)

// DefaultFundedSlots is how many proposals per round are validated.
const DefaultFundedSlots = 10

// Ranked is an active proposal with its place in the round and the status
// it is moved to.
type Ranked struct {
	Proposal models.Proposal
	Rank     int // 1-based
	Target   models.ProposalStatus
}

// Rank orders proposals by contribution, highest first. Equal contributions
// keep their input order. The first funded entries are Validated, the rest
// Rejected.
func Rank(active []models.Proposal, funded int) []Ranked {
	sorted := append([]models.Proposal(nil), active...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ContributionTotal > sorted[j].ContributionTotal
	})
	out := make([]Ranked, len(sorted))
	for i, p := range sorted {
		target := models.ProposalRejected
		if i < funded {
			target = models.ProposalValidated
		}
		out[i] = Ranked{Proposal: p, Rank: i + 1, Target: target}
	}
	return out
}

// Update is one proposal status write. TxID is empty when Err is set.
type Update struct {
	ProposalID string
	Rank       int
	Target     models.ProposalStatus
	TxID       ledger.TxID
	Err        error
}

// Result is the outcome of resolving one round.
type Result struct {
	RoundID uint64
	// Success means the proposals were read and the round was marked
	// processed. Individual update failures do not clear it.
	Success      bool
	Message      string
	Validated    int
	Rejected     int
	SuccessCount int
	ErrorCount   int
	Updates      []Update
	ProcessedTx  ledger.TxID
}

// Failures returns the updates that did not go through.
func (r Result) Failures() []Update {
	var out []Update
	for _, u := range r.Updates {
		if u.Err != nil {
			out = append(out, u)
		}
	}
	return out
}

// Err folds the failed updates into one error, or returns nil.
func (r Result) Err() error {
	var merr *multierror.Error
	for _, u := range r.Failures() {
		merr = multierror.Append(merr, fmt.Errorf("set %s to %s: %w", u.ProposalID, u.Target, u.Err))
	}
	return merr.ErrorOrNil()
}

type Resolver struct {
	remote  *Remote
	funded  int
	metrics metrics.CrankMetrics
	log     zerolog.Logger
}

func NewResolver(remote *Remote, funded int, m metrics.CrankMetrics, log zerolog.Logger) *Resolver {
	if funded <= 0 {
		funded = DefaultFundedSlots
	}
	if m == nil {
		m = metrics.NewNoopCollector()
	}
	return &Resolver{remote: remote, funded: funded, metrics: m, log: log.With().Str("component", "resolver").Logger()}
}

// Resolve moves every active proposal of round to its final status and
// then marks the round processed. A failed proposal read leaves the round
// untouched so a later run picks it up again. Failed status writes are
// recorded and do not stop the remaining writes or the final mark.
func (r *Resolver) Resolve(ctx context.Context, round models.Round) Result {
	res := Result{RoundID: round.ID}
	log := r.log.With().Uint64("round", round.ID).Logger()

	proposals, err := r.remote.Proposals(ctx, round.ID)
	if err != nil {
		log.Error().Err(err).Msg("read proposals")
		res.Message = fmt.Sprintf("failed to read proposals of round %d: %v", round.ID, err)
		r.metrics.RoundResolved(false)
		return res
	}

	ranked := Rank(activeProposals(proposals), r.funded)
	log.Info().Int("proposals", len(proposals)).Int("active", len(ranked)).Msg("resolving round")

	// Rank already places every Validated entry before the Rejected ones.
	for _, rk := range ranked {
		u := Update{ProposalID: rk.Proposal.ID, Rank: rk.Rank, Target: rk.Target}
		u.TxID, u.Err = r.remote.SetProposalStatus(ctx, round.ID, rk.Proposal.ID, rk.Target)
		r.metrics.ProposalUpdated(rk.Target.String(), u.Err == nil)
		if u.Err != nil {
			log.Warn().Err(u.Err).Str("proposal", u.ProposalID).Stringer("target", u.Target).Msg("status update failed")
			res.ErrorCount++
		} else {
			log.Debug().Str("proposal", u.ProposalID).Stringer("target", u.Target).Str("tx", string(u.TxID)).Msg("status updated")
			res.SuccessCount++
			if rk.Target == models.ProposalValidated {
				res.Validated++
			} else {
				res.Rejected++
			}
		}
		res.Updates = append(res.Updates, u)
	}

	tx, err := r.remote.MarkRoundProcessed(ctx, round.ID)
	if err != nil {
		log.Error().Err(err).Int("updated", res.SuccessCount).Int("failed", res.ErrorCount).Msg("mark processed")
		res.Message = fmt.Sprintf("failed to mark round %d processed: %v", round.ID, err)
		r.metrics.RoundResolved(false)
		return res
	}
	res.ProcessedTx = tx
	res.Success = true
	res.Message = fmt.Sprintf("round %d processed: %d validated, %d rejected, %d failed",
		round.ID, res.Validated, res.Rejected, res.ErrorCount)
	log.Info().Int("validated", res.Validated).Int("rejected", res.Rejected).Int("failed", res.ErrorCount).
		Str("tx", string(tx)).Msg("round processed")
	r.metrics.RoundResolved(true)
	return res
}
