// Package metrics registers the scheduler's Prometheus gauges and exposes
// them over HTTP. Grounded on
// operator-framework-operator-lifecycle-manager/pkg/metrics (promauto
// gauge registration) and pkg/lib/server/server.go (promhttp.Handler on a
// dedicated listener).
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JobVolume is a job's currently assigned process volume.
var JobVolume = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "mallob_job_volume",
	Help: "Number of processes currently assigned to a job's tree.",
}, []string{"job"})

// JobTemperature is a job's preemption-tiebreak temperature.
var JobTemperature = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "mallob_job_temperature",
	Help: "Current preemption-tiebreak temperature of a job.",
}, []string{"job"})

// ClauseBufferBytes is the size in int32 words of a job's last exported
// clause selection.
var ClauseBufferBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "mallob_clause_buffer_bytes",
	Help: "Size in int32 words of the last clause selection exported for a job.",
}, []string{"job"})

// Serve starts a /metrics HTTP server on addr and blocks until ctx is
// cancelled. A nil or empty addr disables the endpoint.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
