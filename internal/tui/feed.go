package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"epoch-crank/internal/crank"
	"epoch-crank/internal/models"
)

// Source is the read side of the ledger the dashboard polls.
type Source interface {
	Rounds(ctx context.Context) ([]models.Round, error)
	Proposals(ctx context.Context, roundID uint64) ([]models.Proposal, error)
}

// Feed pushes dashboard updates into a channel consumed by Run. Sends never
// block the crank: when the dashboard lags, updates are dropped.
type Feed struct {
	ch  chan any
	now func() time.Time
}

func NewFeed(buffer int) *Feed {
	return &Feed{ch: make(chan any, buffer), now: time.Now}
}

// Updates is the channel to hand to Run.
func (f *Feed) Updates() <-chan any { return f.ch }

// Close ends the dashboard.
func (f *Feed) Close() { close(f.ch) }

func (f *Feed) send(v any) {
	select {
	case f.ch <- v:
	default:
	}
}

func (f *Feed) RoundStarted(c crank.Candidate) {
	f.send(RoundEvent{RoundID: c.Round.ID, Resolving: true, Message: "resolving", At: f.now()})
}

func (f *Feed) RoundFinished(r crank.Result) {
	f.send(RoundEvent{RoundID: r.RoundID, Success: r.Success, Message: r.Message, At: f.now()})
}

// RunFinished reports a completed crank run.
func (f *Feed) RunFinished(s crank.Summary) {
	info := RunInfo{Success: s.Success, Message: s.Message, At: f.now()}
	if s.Details != nil {
		info.Processed = s.Details.ProcessedCount
		info.Errors = len(s.Details.Errors)
	}
	f.send(info)
}

// Poll refreshes the rounds grid every interval until ctx is done. Proposal
// counts are read only for rounds the crank has not processed yet.
func (f *Feed) Poll(ctx context.Context, src Source, header HeaderInfo, interval time.Duration, log zerolog.Logger) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	header.Interval = interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rounds, err := Snapshot(ctx, src)
		header.Polled = f.now()
		header.PollError = ""
		if err != nil {
			log.Warn().Err(err).Msg("dashboard poll failed")
			header.PollError = err.Error()
		} else {
			f.send(rounds)
		}
		f.send(header)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Snapshot reads the rounds grid once.
func Snapshot(ctx context.Context, src Source) ([]RoundInfo, error) {
	rounds, err := src.Rounds(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RoundInfo, 0, len(rounds))
	for _, r := range rounds {
		info := RoundInfo{ID: r.ID, Status: r.Status, Processed: r.Processed, End: r.End()}
		if !r.Processed {
			ps, err := src.Proposals(ctx, r.ID)
			if err != nil {
				return nil, err
			}
			info.Proposals = len(ps)
			for _, p := range ps {
				if p.Status == models.ProposalActive {
					info.Active++
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

var _ crank.Observer = (*Feed)(nil)
