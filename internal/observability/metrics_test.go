package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsForTesting_CanBeCalledRepeatedly(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.FetchTotal.WithLabelValues("success").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(a.FetchTotal.WithLabelValues("success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.FetchTotal.WithLabelValues("success")))
}

func TestMetricsRegisterOnFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m.FetchTotal))
	require.NoError(t, reg.Register(m.ControllerOnline))

	m.ControllerOnline.Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ControllerOnline))
}
