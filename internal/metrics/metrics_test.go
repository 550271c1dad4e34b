package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.GovernorWait(150 * time.Millisecond)
	c.RemoteRetried("rounds")
	c.RemoteRetried("rounds")
	c.CrankRun(true, 3, 1, time.Second)
	c.ProposalUpdated("validated", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.governorAcquired))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.remoteRetries.WithLabelValues("rounds")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.lastProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.proposals.WithLabelValues("validated", "true")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
