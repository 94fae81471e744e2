package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("signoz-ingestion-key=abc, x-team = shop ,broken")

	assert.Equal(t, map[string]string{
		"signoz-ingestion-key": "abc",
		"x-team":               "shop",
	}, headers)
	assert.Empty(t, ParseHeaders(""))
}

func TestRecordDBQuery(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(provider.Meter("test"), "checkout-api")
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordDBQuery(ctx, "SELECT", "carts", "SELECT 1", time.Now(), true)
	m.RecordDBQuery(ctx, "SELECT", "carts", "SELECT 1", time.Now(), false)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != "db.client.queries.count" {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}

func TestNewNoop(t *testing.T) {
	m := NewNoop()
	require.NotNil(t, m)

	m.RecordDBQuery(context.Background(), "DELETE", "cart_items", "DELETE", time.Now(), true)
}
