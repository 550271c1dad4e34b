package crank

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// TickReport is the outcome of one scheduler tick.
type TickReport struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	Close     CloseReport  `json:"close"`
	Opened    *OpenedRound `json:"opened,omitempty"`
	OpenError string       `json:"openError,omitempty"`
	Crank     Summary      `json:"crank"`
}

// Pipeline runs the close stage before the resolve stage, so rounds whose
// window just ended are resolved in the same tick. Both stages share one
// run lock and never overlap.
type Pipeline struct {
	closer       *Closer
	orchestrator *Orchestrator
	autoOpen     time.Duration
	clock        clock.Clock
	log          zerolog.Logger
}

// NewPipeline builds the closer and orchestrator over remote. When autoOpen
// is positive a tick that leaves no Active round opens a new one of that
// length.
func NewPipeline(remote *Remote, opts Options, autoOpen time.Duration, log zerolog.Logger) *Pipeline {
	opts.defaults()
	lock := newRunLock()
	return &Pipeline{
		closer:       newCloser(remote, opts, lock, log),
		orchestrator: newOrchestrator(remote, opts, lock, log),
		autoOpen:     autoOpen,
		clock:        opts.Clock,
		log:          log.With().Str("component", "pipeline").Logger(),
	}
}

func (p *Pipeline) Closer() *Closer             { return p.closer }
func (p *Pipeline) Orchestrator() *Orchestrator { return p.orchestrator }

// Tick closes expired rounds, optionally opens a new round, then resolves
// every closed unprocessed round.
func (p *Pipeline) Tick(ctx context.Context) TickReport {
	var rep TickReport
	rep.Close = p.closer.CloseExpired(ctx)

	if p.autoOpen > 0 && rep.Close.Success && len(rep.Close.StillActive) == 0 && ctx.Err() == nil {
		opened, err := p.closer.OpenRound(ctx, p.autoOpen)
		if err != nil {
			p.log.Error().Err(err).Msg("auto-open round")
			rep.OpenError = err.Error()
		} else {
			rep.Opened = &opened
		}
	}

	rep.Crank = p.orchestrator.Run(ctx)
	rep.Success = rep.Close.Success && rep.Crank.Success
	rep.Message = fmt.Sprintf("%s %s", rep.Close.Message, rep.Crank.Message)
	return rep
}

// Run ticks once immediately and then every interval until ctx ends.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", interval)
	}
	ticker := p.clock.Ticker(interval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", interval).Msg("scheduler started")
	for {
		rep := p.Tick(ctx)
		p.log.Info().Bool("success", rep.Success).Int("closed", len(rep.Close.Closed)).
			Int("processed", processedCount(rep.Crank)).Msg("tick finished")

		select {
		case <-ctx.Done():
			p.log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func processedCount(s Summary) int {
	if s.Details == nil {
		return 0
	}
	return s.Details.ProcessedCount
}

// Crank runs the resolve stage alone.
func (p *Pipeline) Crank(ctx context.Context) Summary { return p.orchestrator.Run(ctx) }

func (p *Pipeline) CloseAll(ctx context.Context) CloseReport     { return p.closer.CloseAll(ctx) }
func (p *Pipeline) CloseExpired(ctx context.Context) CloseReport { return p.closer.CloseExpired(ctx) }

func (p *Pipeline) OpenRound(ctx context.Context, d time.Duration) (OpenedRound, error) {
	return p.closer.OpenRound(ctx, d)
}
