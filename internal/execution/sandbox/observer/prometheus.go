package observer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "code_exec"

// PrometheusRecorder exports execution metrics through a prometheus registerer.
type PrometheusRecorder struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	peakMemory *prometheus.HistogramVec
	steps      *prometheus.HistogramVec
	rejected   prometheus.Counter
	inFlight   prometheus.Gauge
}

// NewPrometheusRecorder creates the collectors and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished executions by language and status.",
		}, []string{"language", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock time from prepare to run completion.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"language"}),
		peakMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_peak_memory_bytes",
			Help:      "Peak resident memory of the run stage.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12),
		}, []string{"language"}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of install and compile steps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"language", "stage", "result"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejected_total",
			Help:      "Requests refused because every execution slot was taken.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Executions currently holding an admission slot.",
		}),
	}
	for _, c := range []prometheus.Collector{r.executions, r.duration, r.peakMemory, r.steps, r.rejected, r.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveExecution(_ context.Context, languageID string, status string, wall time.Duration, peakMemoryBytes int64) {
	r.executions.WithLabelValues(languageID, status).Inc()
	r.duration.WithLabelValues(languageID).Observe(wall.Seconds())
	if peakMemoryBytes > 0 {
		r.peakMemory.WithLabelValues(languageID).Observe(float64(peakMemoryBytes))
	}
}

func (r *PrometheusRecorder) ObserveStep(_ context.Context, languageID string, stage string, ok bool, wall time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	r.steps.WithLabelValues(languageID, stage, outcome).Observe(wall.Seconds())
}

func (r *PrometheusRecorder) AdmissionRejected(context.Context) {
	r.rejected.Inc()
}

func (r *PrometheusRecorder) SetInFlight(n int) {
	r.inFlight.Set(float64(n))
}
