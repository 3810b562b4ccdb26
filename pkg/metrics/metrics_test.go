package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	// A second registration on the same registry collides.
	require.Error(t, Register(reg))
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(RateLimited.WithLabelValues("global"))
	RateLimited.WithLabelValues("global").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(RateLimited.WithLabelValues("global")))
}
