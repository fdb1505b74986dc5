package limitorder

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCountOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.protocol.metrics
	o := f.daiForWeth(nil)

	_, err := f.fill(f.taker, o, ether(10), nil, FillOptions{})
	require.NoError(t, err)
	_, err = f.fill(f.taker, o, nil, nil, FillOptions{})
	require.Error(t, err)
	_, err = f.fill(f.taker, o, ether(1000), nil, FillOptions{})
	require.Error(t, err)

	rfq := f.rfqDaiForWeth(1, 0)
	_, err = f.fillRFQ(rfq, nil, nil, FillOptions{})
	require.NoError(t, err)

	_, err = f.protocol.CancelOrder(ctx, f.maker.addr, o.Order)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fills.WithLabelValues(string(OrderKindGeneral))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fills.WithLabelValues(string(OrderKindRFQ))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.failures.WithLabelValues(CategoryAmount.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancellations.WithLabelValues(string(OrderKindGeneral))))

	n, err := testutil.GatherAndCount(f.registry, "test_fills_total", "test_fill_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMetricsWithoutRegisterer(t *testing.T) {
	m := NewMetrics(nil, "")
	m.observeCancel(OrderKindRFQ)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancellations.WithLabelValues(string(OrderKindRFQ))))

	reg := prometheus.NewRegistry()
	NewMetrics(reg, "a")
	assert.NotPanics(t, func() { NewMetrics(reg, "b") }, "namespaces keep collectors apart")
}
