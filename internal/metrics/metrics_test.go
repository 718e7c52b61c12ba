package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(VerificationsTotal.WithLabelValues("tax_order_payment", "verified"))
	VerificationsTotal.WithLabelValues("tax_order_payment", "verified").Inc()
	after := testutil.ToFloat64(VerificationsTotal.WithLabelValues("tax_order_payment", "verified"))
	assert.Equal(t, before+1, after)
}

func TestPendingGauge(t *testing.T) {
	PendingVerifications.Set(0)
	PendingVerifications.Inc()
	PendingVerifications.Inc()
	PendingVerifications.Dec()
	assert.Equal(t, float64(1), testutil.ToFloat64(PendingVerifications))
	PendingVerifications.Set(0)
}

func TestMetricsRegistered(t *testing.T) {
	RPCCallsTotal.WithLabelValues("polygon", "eth_getTransactionReceipt", "ok").Inc()
	assert.GreaterOrEqual(t, testutil.CollectAndCount(RPCCallsTotal), 1)
}
