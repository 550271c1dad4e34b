// Package ratelimit paces calls to the ledger backend so that a crank run
// stays under the backend's throttling threshold.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"epoch-crank/internal/metrics"
)

// Config bounds the call rate. At most Max calls fall inside any window of
// length Window, and consecutive calls are at least MinSpacing apart.
type Config struct {
	Max        int
	Window     time.Duration
	MinSpacing time.Duration
}

func DefaultConfig() Config {
	return Config{Max: 5, Window: time.Second, MinSpacing: 200 * time.Millisecond}
}

func (c Config) Validate() error {
	if c.Max <= 0 {
		return fmt.Errorf("rate limit max must be positive, got %d", c.Max)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.Window)
	}
	if c.MinSpacing < 0 {
		return fmt.Errorf("rate limit spacing must not be negative, got %s", c.MinSpacing)
	}
	return nil
}

// Governor hands out call slots. One Governor is shared by every component
// of a process that talks to the same backend.
type Governor struct {
	cfg     Config
	clock   clock.Clock
	metrics metrics.GovernorMetrics

	// mu is held for the whole of Acquire, so waiters are served one at a
	// time and the window log only changes under it.
	mu      sync.Mutex
	calls   []time.Time
	spacing *rate.Limiter
}

func New(cfg Config, clk clock.Clock, m metrics.GovernorMetrics) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if m == nil {
		m = metrics.NewNoopCollector()
	}
	limit := rate.Inf
	if cfg.MinSpacing > 0 {
		limit = rate.Every(cfg.MinSpacing)
	}
	return &Governor{
		cfg:     cfg,
		clock:   clk,
		metrics: m,
		calls:   make([]time.Time, 0, cfg.Max),
		spacing: rate.NewLimiter(limit, 1),
	}, nil
}

// Acquire blocks until a call may be made and records it. It fails only
// when ctx ends first, in which case nothing is recorded.
func (g *Governor) Acquire(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := g.clock.Now()
	for {
		now := g.clock.Now()
		g.prune(now)
		if len(g.calls) < g.cfg.Max {
			break
		}
		if err := g.sleep(ctx, g.calls[0].Add(g.cfg.Window).Sub(now)); err != nil {
			return err
		}
	}

	// The window only drains while we hold mu, so it stays open across the
	// spacing wait.
	now := g.clock.Now()
	r := g.spacing.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		if err := g.sleep(ctx, d); err != nil {
			r.CancelAt(g.clock.Now())
			return err
		}
	}

	at := g.clock.Now()
	g.calls = append(g.calls, at)
	g.metrics.GovernorWait(at.Sub(start))
	return nil
}

// InFlight returns how many recorded calls fall inside the current window.
func (g *Governor) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.clock.Now())
	return len(g.calls)
}

// prune drops calls that are a full window old or older.
func (g *Governor) prune(now time.Time) {
	i := 0
	for i < len(g.calls) && now.Sub(g.calls[i]) >= g.cfg.Window {
		i++
	}
	if i > 0 {
		g.calls = append(g.calls[:0], g.calls[i:]...)
	}
}

func (g *Governor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := g.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
