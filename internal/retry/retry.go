// Package retry re-attempts ledger calls that the backend rejected for
// throttling. Every other failure is returned on first occurrence.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	goretry "github.com/sethvargo/go-retry"

	"epoch-crank/internal/ledger"
	"epoch-crank/internal/metrics"
)

// Acquirer grants permission for one backend call.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

type Config struct {
	// MaxAttempts counts the first call.
	MaxAttempts  int
	InitialDelay time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond}
}

func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive, got %s", c.InitialDelay)
	}
	return nil
}

// Policy runs operations under the governor with exponential backoff on
// rate-limit rejections: InitialDelay, then twice that, and so on.
type Policy struct {
	cfg      Config
	governor Acquirer
	metrics  metrics.RetryMetrics
	log      zerolog.Logger

	// OnBackoff, if set, is called before each wait with the attempt that
	// just failed (1-based) and the delay about to be slept.
	OnBackoff func(op string, attempt int, delay time.Duration)
}

func New(cfg Config, governor Acquirer, m metrics.RetryMetrics, log zerolog.Logger) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if governor == nil {
		return nil, fmt.Errorf("retry policy needs a governor")
	}
	if m == nil {
		m = metrics.NewNoopCollector()
	}
	return &Policy{
		cfg:      cfg,
		governor: governor,
		metrics:  m,
		log:      log.With().Str("component", "retry").Logger(),
	}, nil
}

// Do calls fn until it succeeds, fails with an error that is not a
// rate-limit rejection, or MaxAttempts calls have been made. On exhaustion
// the last rate-limit error is returned.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := goretry.Do(ctx, p.backoff(op), func(ctx context.Context) error {
		if err := p.governor.Acquire(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err != nil && ledger.IsRateLimited(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
	if err != nil && ledger.IsRateLimited(err) {
		p.metrics.RemoteExhausted(op)
		p.log.Warn().Err(err).Str("op", op).Int("attempts", p.cfg.MaxAttempts).Msg("still rate limited after all attempts")
	}
	return err
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// backoff relies on Validate having rejected a non-positive InitialDelay,
// which NewExponential would panic on.
func (p *Policy) backoff(op string) goretry.Backoff {
	exp := goretry.NewExponential(p.cfg.InitialDelay)
	capped := goretry.WithMaxRetries(uint64(p.cfg.MaxAttempts-1), exp)

	attempt := 0
	return goretry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := capped.Next()
		if stop {
			return 0, true
		}
		attempt++
		p.metrics.RemoteRetried(op)
		p.log.Debug().Str("op", op).Int("attempt", attempt).Dur("delay", d).Msg("rate limited, backing off")
		if p.OnBackoff != nil {
			p.OnBackoff(op, attempt, d)
		}
		return d, false
	})
}
