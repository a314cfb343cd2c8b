package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaderMetricsRecordTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLeader(reg)

	m.Granted()
	m.Recovered(3)
	m.Published(42, 10*time.Millisecond)
	m.ActiveJobs(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.grants))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.isLeader))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.tokenSeq))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeJobs))

	m.Revoked()
	m.Unpublished()
	m.Discarded()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.isLeader))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discarded))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilLeaderMetricsAreInert(t *testing.T) {
	var m *Leader
	m.Granted()
	m.Published(1, time.Second)
	m.Unpublished()
	m.Fatal()
}
