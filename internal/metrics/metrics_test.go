package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() { New() })
}

func TestRecordOperationIncrementsLabeledCounter(t *testing.T) {
	c := New()
	c.RecordOperation("store", "ok")
	c.RecordOperation("store", "ok")
	c.RecordOperation("store", "gated")

	require.InDelta(t, 2.0, testutil.ToFloat64(c.Operations.WithLabelValues("store", "ok")), 0.0001)
	require.InDelta(t, 1.0, testutil.ToFloat64(c.Operations.WithLabelValues("store", "gated")), 0.0001)
}
