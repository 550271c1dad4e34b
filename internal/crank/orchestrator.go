package crank

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"epoch-crank/internal/ledger"
	"epoch-crank/internal/metrics"
)

// RoundError is one entry of a run's error list.
type RoundError struct {
	RoundID uint64 `json:"epochId"`
	Error   string `json:"error"`
}

type Details struct {
	ProcessedCount int          `json:"processedCount"`
	Errors         []RoundError `json:"errors"`
	// Deferred counts eligible rounds left for a later run, either because
	// of the per-run cap or because the run was cancelled.
	Deferred int `json:"deferred,omitempty"`
}

// Summary is the outcome of one orchestrator run. Success is false only
// when the run could not start, discovery failed or the run panicked.
type Summary struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Details *Details `json:"details,omitempty"`

	Rounds     []Result  `json:"-"`
	StartedAt  time.Time `json:"-"`
	FinishedAt time.Time `json:"-"`
}

// Recorder keeps the history of crank and closer runs.
type Recorder interface {
	RecordRun(ctx context.Context, s Summary) error
	RecordClosures(ctx context.Context, r CloseReport) error
}

// RunObserver is an Observer that also wants each run's summary.
type RunObserver interface {
	RunFinished(s Summary)
}

// Observer is told about each round as a run progresses.
type Observer interface {
	RoundStarted(c Candidate)
	RoundFinished(r Result)
}

type Options struct {
	FundedSlots int
	// MaxRoundsPerRun caps how many rounds one run resolves. Zero means no
	// cap.
	MaxRoundsPerRun int
	// Authority and Identity enable the signer preflight when both are set.
	Authority *ledger.AuthorityCache
	Identity  string

	Recorder Recorder
	Observer Observer
	Metrics  metrics.CrankMetrics
	Clock    clock.Clock
}

func (o *Options) defaults() {
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoopCollector()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

type Orchestrator struct {
	discovery *Discovery
	resolver  *Resolver
	opts      Options
	lock      runLock
	log       zerolog.Logger
}

func NewOrchestrator(remote *Remote, opts Options, log zerolog.Logger) *Orchestrator {
	return newOrchestrator(remote, opts, newRunLock(), log)
}

func newOrchestrator(remote *Remote, opts Options, lock runLock, log zerolog.Logger) *Orchestrator {
	opts.defaults()
	return &Orchestrator{
		discovery: NewDiscovery(remote, log),
		resolver:  NewResolver(remote, opts.FundedSlots, opts.Metrics, log),
		opts:      opts,
		lock:      lock,
		log:       log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run discovers the closed unprocessed rounds and resolves them one at a
// time in discovery order. ctx is checked between rounds only: a round that
// has started is resolved to the end.
func (o *Orchestrator) Run(ctx context.Context) (summary Summary) {
	started := o.opts.Clock.Now()
	log := o.log.With().Str("request_id", RequestID(ctx)).Logger()

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("stack", string(debug.Stack())).Msg("crank run panicked")
			summary = Summary{Success: false, Message: fmt.Sprintf("An error occurred: %v", p), Rounds: summary.Rounds}
		}
		summary.StartedAt = started
		summary.FinishedAt = o.opts.Clock.Now()
		processed, errored := 0, 0
		if summary.Details != nil {
			processed, errored = summary.Details.ProcessedCount, len(summary.Details.Errors)
		}
		o.opts.Metrics.CrankRun(summary.Success, processed, errored, summary.FinishedAt.Sub(started))
		o.record(ctx, summary, log)
		if ro, ok := o.opts.Observer.(RunObserver); ok {
			ro.RunFinished(summary)
		}
	}()

	if err := o.lock.acquire(ctx); err != nil {
		return Summary{Success: false, Message: fmt.Sprintf("crank run not started: %v", err)}
	}
	defer o.lock.release()

	if err := o.preflight(ctx); err != nil {
		log.Error().Err(err).Msg("preflight failed")
		return Summary{Success: false, Message: fmt.Sprintf("An error occurred: %v", err)}
	}

	log.Info().Msg("finding closed rounds to process")
	candidates, err := o.discovery.FindClosedUnprocessed(ctx)
	if err != nil {
		log.Error().Err(err).Msg("discovery failed")
		return Summary{Success: false, Message: fmt.Sprintf("An error occurred: %v", err)}
	}

	details := &Details{Errors: []RoundError{}}
	if limit := o.opts.MaxRoundsPerRun; limit > 0 && len(candidates) > limit {
		details.Deferred = len(candidates) - limit
		log.Warn().Int("eligible", len(candidates)).Int("cap", limit).Msg("too many rounds for one run, deferring the rest")
		candidates = candidates[:limit]
	}
	if len(candidates) == 0 {
		log.Info().Msg("no closed unprocessed rounds")
	}

	results := make([]Result, 0, len(candidates))
	for i, c := range candidates {
		if ctx.Err() != nil {
			details.Deferred += len(candidates) - i
			log.Warn().Err(ctx.Err()).Int("remaining", len(candidates)-i).Msg("run cancelled between rounds")
			break
		}
		if o.opts.Observer != nil {
			o.opts.Observer.RoundStarted(c)
		}
		res := o.resolver.Resolve(context.WithoutCancel(ctx), c.Round)
		if o.opts.Observer != nil {
			o.opts.Observer.RoundFinished(res)
		}
		results = append(results, res)

		switch {
		case !res.Success:
			details.Errors = append(details.Errors, RoundError{RoundID: res.RoundID, Error: res.Message})
		case res.ErrorCount > 0:
			details.ProcessedCount++
			details.Errors = append(details.Errors, RoundError{RoundID: res.RoundID, Error: res.Err().Error()})
		default:
			details.ProcessedCount++
		}
	}

	log.Info().Int("processed", details.ProcessedCount).Int("errors", len(details.Errors)).
		Int("deferred", details.Deferred).Msg("crank run finished")
	return Summary{
		Success: true,
		Message: fmt.Sprintf("Crank logic finished. Processed %d epoch(s).", details.ProcessedCount),
		Details: details,
		Rounds:  results,
	}
}

// preflight checks that the configured signer is the ledger's admin
// authority, so a misconfigured key fails the run before any write.
func (o *Orchestrator) preflight(ctx context.Context) error {
	if o.opts.Authority == nil || o.opts.Identity == "" {
		return nil
	}
	return o.opts.Authority.Verify(ctx, o.opts.Identity)
}

func (o *Orchestrator) record(ctx context.Context, s Summary, log zerolog.Logger) {
	if o.opts.Recorder == nil {
		return
	}
	if err := o.opts.Recorder.RecordRun(context.WithoutCancel(ctx), s); err != nil {
		log.Warn().Err(err).Msg("record crank run")
	}
}

// Pending lists the closed unprocessed rounds without resolving them.
func (o *Orchestrator) Pending(ctx context.Context) ([]Candidate, error) {
	return o.discovery.FindClosedUnprocessed(ctx)
}
