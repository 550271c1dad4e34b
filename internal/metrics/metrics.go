// Package metrics holds the Prometheus collectors of the crank. Components
// depend on the narrow interfaces below and receive either a Collector or a
// NoopCollector.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "epoch_crank"

type GovernorMetrics interface {
	// GovernorWait is the time one Acquire spent blocked.
	GovernorWait(d time.Duration)
}

type RetryMetrics interface {
	RemoteRetried(op string)
	RemoteExhausted(op string)
}

type CrankMetrics interface {
	CrankRun(success bool, processed, errored int, d time.Duration)
	RoundResolved(success bool)
	ProposalUpdated(target string, ok bool)
	RoundClosed(policy string, ok bool)
}

type HTTPMetrics interface {
	HTTPRequest(route string, status int, d time.Duration)
}

// Collector implements every metrics interface of the crank.
type Collector struct {
	governorWait     prometheus.Histogram
	governorAcquired prometheus.Counter
	remoteRetries    *prometheus.CounterVec
	remoteExhausted  *prometheus.CounterVec
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	lastProcessed    prometheus.Gauge
	lastErrors       prometheus.Gauge
	rounds           *prometheus.CounterVec
	proposals        *prometheus.CounterVec
	closures         *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func NewCollector(registerer prometheus.Registerer) *Collector {
	c := &Collector{
		governorWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "wait_seconds",
			Help:      "time spent waiting for a ledger call slot",
			Buckets:   []float64{0, .05, .1, .2, .5, 1, 2, 5},
		}),
		governorAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "acquired_total",
			Help:      "ledger call slots handed out",
		}),
		remoteRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "retries_total",
			Help:      "ledger calls retried after a rate-limit rejection",
		}, []string{"op"}),
		remoteExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "exhausted_total",
			Help:      "ledger calls that stayed rate limited after every attempt",
		}, []string{"op"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "crank runs by outcome",
		}, []string{"success"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "wall time of one crank run",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		lastProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_processed_rounds",
			Help:      "rounds resolved by the most recent run",
		}),
		lastErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_errors",
			Help:      "error entries reported by the most recent run",
		}),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_resolved_total",
			Help:      "round resolutions by outcome",
		}, []string{"success"}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposal_updates_total",
			Help:      "proposal status writes by target and outcome",
		}, []string{"target", "ok"}),
		closures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "round_closures_total",
			Help:      "round close writes by policy and outcome",
		}, []string{"policy", "ok"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "trigger requests by route and status",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "trigger request latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"route"}),
	}
	registerer.MustRegister(
		c.governorWait, c.governorAcquired,
		c.remoteRetries, c.remoteExhausted,
		c.runs, c.runDuration, c.lastProcessed, c.lastErrors,
		c.rounds, c.proposals, c.closures,
		c.httpRequests, c.httpDuration,
	)
	return c
}

func (c *Collector) GovernorWait(d time.Duration) {
	c.governorAcquired.Inc()
	c.governorWait.Observe(d.Seconds())
}

func (c *Collector) RemoteRetried(op string)   { c.remoteRetries.WithLabelValues(op).Inc() }
func (c *Collector) RemoteExhausted(op string) { c.remoteExhausted.WithLabelValues(op).Inc() }

func (c *Collector) CrankRun(success bool, processed, errored int, d time.Duration) {
	c.runs.WithLabelValues(strconv.FormatBool(success)).Inc()
	c.runDuration.Observe(d.Seconds())
	c.lastProcessed.Set(float64(processed))
	c.lastErrors.Set(float64(errored))
}

func (c *Collector) RoundResolved(success bool) {
	c.rounds.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (c *Collector) ProposalUpdated(target string, ok bool) {
	c.proposals.WithLabelValues(target, strconv.FormatBool(ok)).Inc()
}

func (c *Collector) RoundClosed(policy string, ok bool) {
	c.closures.WithLabelValues(policy, strconv.FormatBool(ok)).Inc()
}

func (c *Collector) HTTPRequest(route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
