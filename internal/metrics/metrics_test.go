package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_EmptyAddrDisablesEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, Serve(ctx, ""))
}

func TestGauges_SetAndLabel(t *testing.T) {
	JobVolume.WithLabelValues("1").Set(4)
	JobTemperature.WithLabelValues("1").Set(0.97)
	ClauseBufferBytes.WithLabelValues("1").Set(128)

	assert.Equal(t, float64(4), testutil.ToFloat64(JobVolume.WithLabelValues("1")))
	assert.Equal(t, 0.97, testutil.ToFloat64(JobTemperature.WithLabelValues("1")))
	assert.Equal(t, float64(128), testutil.ToFloat64(ClauseBufferBytes.WithLabelValues("1")))
}
