package crank

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"epoch-crank/internal/metrics"
	"epoch-crank/internal/models"
)

// ClosePolicy selects which Active rounds a closer run closes.
type ClosePolicy string

const (
	// CloseAllPolicy closes every Active round whatever its end time.
	CloseAllPolicy ClosePolicy = "all"
	// CloseExpiredPolicy closes Active rounds whose end time is strictly
	// before now. A round ending exactly now stays open.
	CloseExpiredPolicy ClosePolicy = "expired"
)

type ClosedRound struct {
	RoundID   uint64 `json:"epochId"`
	Signature string `json:"signature"`
}

type CloseFailure struct {
	RoundID uint64 `json:"epochId"`
	Error   string `json:"error"`
}

type ActiveRound struct {
	RoundID   uint64    `json:"epochId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// CloseReport is the outcome of one closer run. StillActive is read back
// from the ledger after the closes were issued.
type CloseReport struct {
	Success     bool           `json:"success"`
	Message     string         `json:"message"`
	Policy      ClosePolicy    `json:"policy"`
	Checked     int            `json:"checked"`
	Closed      []ClosedRound  `json:"closed"`
	Failed      []CloseFailure `json:"failed"`
	StillActive []ActiveRound  `json:"stillActive"`
}

// OpenedRound describes a round created by OpenRound.
type OpenedRound struct {
	RoundID   uint64    `json:"epochId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Duration  string    `json:"duration"`
	Signature string    `json:"signature"`
}

// MinRoundDuration is the shortest round OpenRound creates.
const MinRoundDuration = time.Minute

// Closer transitions Active rounds to Closed and opens new rounds.
type Closer struct {
	remote   *Remote
	clock    clock.Clock
	lock     runLock
	recorder Recorder
	metrics  metrics.CrankMetrics
	log      zerolog.Logger
}

func NewCloser(remote *Remote, opts Options, log zerolog.Logger) *Closer {
	return newCloser(remote, opts, newRunLock(), log)
}

func newCloser(remote *Remote, opts Options, lock runLock, log zerolog.Logger) *Closer {
	opts.defaults()
	return &Closer{
		remote:   remote,
		clock:    opts.Clock,
		lock:     lock,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		log:      log.With().Str("component", "closer").Logger(),
	}
}

// CloseAll closes every Active round. It is meant for operator resets.
func (c *Closer) CloseAll(ctx context.Context) CloseReport {
	return c.close(ctx, CloseAllPolicy, func(models.Round, time.Time) bool { return true })
}

// CloseExpired closes the Active rounds whose end time has passed.
func (c *Closer) CloseExpired(ctx context.Context) CloseReport {
	return c.close(ctx, CloseExpiredPolicy, func(r models.Round, now time.Time) bool { return r.Expired(now) })
}

func (c *Closer) close(ctx context.Context, policy ClosePolicy, eligible func(models.Round, time.Time) bool) (report CloseReport) {
	log := c.log.With().Str("policy", string(policy)).Str("request_id", RequestID(ctx)).Logger()
	report = CloseReport{
		Policy:      policy,
		Closed:      []ClosedRound{},
		Failed:      []CloseFailure{},
		StillActive: []ActiveRound{},
	}
	defer func() {
		if c.recorder != nil && len(report.Closed)+len(report.Failed) > 0 {
			if err := c.recorder.RecordClosures(context.WithoutCancel(ctx), report); err != nil {
				log.Warn().Err(err).Msg("record closures")
			}
		}
	}()

	if err := c.lock.acquire(ctx); err != nil {
		report.Message = fmt.Sprintf("close run not started: %v", err)
		return report
	}
	defer c.lock.release()

	active, err := c.remote.ActiveRounds(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list rounds")
		report.Message = fmt.Sprintf("failed to list rounds: %v", err)
		return report
	}
	report.Checked = len(active)

	now := c.clock.Now()
	var targets, kept []models.Round
	for _, r := range active {
		if eligible(r, now) {
			targets = append(targets, r)
		} else {
			kept = append(kept, r)
		}
	}
	log.Info().Int("active", len(active)).Int("to_close", len(targets)).Msg("closing rounds")

	for i, r := range targets {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Int("remaining", len(targets)-i).Msg("close run cancelled")
			kept = append(kept, targets[i:]...)
			break
		}
		tx, err := c.remote.CloseRound(context.WithoutCancel(ctx), r.ID)
		c.metrics.RoundClosed(string(policy), err == nil)
		if err != nil {
			log.Warn().Err(err).Uint64("round", r.ID).Msg("close failed")
			report.Failed = append(report.Failed, CloseFailure{RoundID: r.ID, Error: err.Error()})
			kept = append(kept, r)
			continue
		}
		log.Info().Uint64("round", r.ID).Str("tx", string(tx)).Msg("round closed")
		report.Closed = append(report.Closed, ClosedRound{RoundID: r.ID, Signature: string(tx)})
	}

	report.StillActive = c.stillActive(ctx, targets, kept, log)
	report.Success = true
	report.Message = fmt.Sprintf("Closed %d of %d round(s), %d failed, %d still active.",
		len(report.Closed), len(targets), len(report.Failed), len(report.StillActive))
	return report
}

// stillActive re-reads the Active set. Without any write there is nothing
// new to read, and if the read fails the local view is reported instead.
func (c *Closer) stillActive(ctx context.Context, targets, kept []models.Round, log zerolog.Logger) []ActiveRound {
	rounds := kept
	if len(targets) > 0 {
		fresh, err := c.remote.ActiveRounds(context.WithoutCancel(ctx))
		if err != nil {
			log.Warn().Err(err).Msg("re-read active rounds")
		} else {
			rounds = fresh
		}
	}
	out := make([]ActiveRound, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, ActiveRound{RoundID: r.ID, StartTime: r.Start(), EndTime: r.End()})
	}
	return out
}

// OpenRound starts a new Active round of length d beginning now. The round
// id is the start time in Unix seconds.
func (c *Closer) OpenRound(ctx context.Context, d time.Duration) (OpenedRound, error) {
	if d < MinRoundDuration {
		return OpenedRound{}, fmt.Errorf("round duration %s is shorter than %s", d, MinRoundDuration)
	}
	if err := c.lock.acquire(ctx); err != nil {
		return OpenedRound{}, err
	}
	defer c.lock.release()

	start := c.clock.Now().Unix()
	end := start + int64(d/time.Second)
	id := uint64(start)
	tx, err := c.remote.OpenRound(ctx, id, start, end)
	if err != nil {
		return OpenedRound{}, fmt.Errorf("open round %d: %w", id, err)
	}
	r := models.Round{ID: id, StartTime: start, EndTime: end}
	c.log.Info().Uint64("round", id).Time("end", r.End()).Str("tx", string(tx)).Msg("round opened")
	return OpenedRound{
		RoundID:   id,
		StartTime: r.Start(),
		EndTime:   r.End(),
		Duration:  d.String(),
		Signature: string(tx),
	}, nil
}
