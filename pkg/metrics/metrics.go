// Package metrics collects upload statistics in a private Prometheus registry
// and exports them in the node_exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yuya-takeyama/strict-s3-upload/pkg/transfer"
)

const namespace = "strict_s3_upload"

type Metrics struct {
	registry *prometheus.Registry

	files    *prometheus.CounterVec
	bytes    prometheus.Counter
	attempts prometheus.Counter
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	elapsed  prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		files: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files processed by status",
		}, []string{"status"}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes of successfully uploaded files",
		}),
		attempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Upload attempts including retries",
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time spent uploading one file by transfer method",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		}, []string{"method"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by resulting access level",
		}, []string{"access"}),
		elapsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall clock time of the last run",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveOutcome(o transfer.Outcome) {
	status := "failed"
	if o.Succeeded {
		status = "succeeded"
		m.bytes.Add(float64(o.Size))
	}
	m.files.WithLabelValues(status).Inc()
	m.attempts.Add(float64(o.Attempts))

	method := "put"
	if o.Multipart {
		method = "multipart"
	}
	m.duration.WithLabelValues(method).Observe(o.Duration.Seconds())
}

// ObserveRun records the elapsed time and resulting access level of a run.
func (m *Metrics) ObserveRun(elapsedSeconds float64, access string) {
	m.elapsed.Set(elapsedSeconds)
	m.runs.WithLabelValues(access).Inc()
}

// WriteTextfile atomically writes all metrics to path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
