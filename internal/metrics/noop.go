package metrics

import "time"

type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (nc *NoopCollector) GovernorWait(time.Duration)             {}
func (nc *NoopCollector) RemoteRetried(string)                   {}
func (nc *NoopCollector) RemoteExhausted(string)                 {}
func (nc *NoopCollector) CrankRun(bool, int, int, time.Duration) {}
func (nc *NoopCollector) RoundResolved(bool)                     {}
func (nc *NoopCollector) ProposalUpdated(string, bool)           {}
func (nc *NoopCollector) RoundClosed(string, bool)               {}
func (nc *NoopCollector) HTTPRequest(string, int, time.Duration) {}

var (
	_ GovernorMetrics = (*NoopCollector)(nil)
	_ RetryMetrics    = (*NoopCollector)(nil)
	_ CrankMetrics    = (*NoopCollector)(nil)
	_ HTTPMetrics     = (*NoopCollector)(nil)
	_ GovernorMetrics = (*Collector)(nil)
	_ RetryMetrics    = (*Collector)(nil)
	_ CrankMetrics    = (*Collector)(nil)
	_ HTTPMetrics     = (*Collector)(nil)
)
