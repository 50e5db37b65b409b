// Package metrics exposes Prometheus metrics for the moderation service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry so several collectors can live in one process (tests).
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	imagesClassified   *prometheus.CounterVec
	classifyDuration   prometheus.Histogram
	batchesTotal       *prometheus.CounterVec
	batchSize          prometheus.Histogram
	preprocessFailures prometheus.Counter
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		imagesClassified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "images_classified_total",
				Help:      "Images classified, by predicted label",
			},
			[]string{"label"},
		),
		classifyDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "classify_duration_seconds",
				Help:      "Model forward pass duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		),
		batchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Moderated batches, by verdict",
			},
			[]string{"result"},
		),
		batchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size_images",
				Help:      "Images per moderated batch",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
		preprocessFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preprocess_failures_total",
				Help:      "Uploads rejected because they could not be decoded or resized",
			},
		),
	}
}

func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (c *Collector) ObserveClassification(label string, seconds float64) {
	c.imagesClassified.WithLabelValues(label).Inc()
	c.classifyDuration.Observe(seconds)
}

func (c *Collector) ObserveVerdict(result string, images int) {
	c.batchesTotal.WithLabelValues(result).Inc()
	c.batchSize.Observe(float64(images))
}

func (c *Collector) ObservePreprocessFailure() {
	c.preprocessFailures.Inc()
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
