package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the recurrence scheduler.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	ticksTotal       prometheus.Counter
	ticksSkipped     prometheus.Counter
	tickDuration     prometheus.Histogram
	instancesCreated prometheus.Counter
	templateFailures prometheus.Counter
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	ticksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ticks_total",
		Help: "Total scheduler ticks executed",
	})

	ticksSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ticks_skipped_total",
		Help: "Ticks skipped because the previous tick was still running",
	})

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "Duration of scheduler ticks",
		Buckets: prometheus.DefBuckets,
	})

	instancesCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_task_instances_created_total",
		Help: "Task instances materialized by the scheduler",
	})

	templateFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_template_failures_total",
		Help: "Template batches that failed and were rolled back",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, ticksTotal, ticksSkipped, tickDuration, instancesCreated, templateFailures, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		ticksTotal:       ticksTotal,
		ticksSkipped:     ticksSkipped,
		tickDuration:     tickDuration,
		instancesCreated: instancesCreated,
		templateFailures: templateFailures,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveTick records one completed scheduler tick.
func (s *MetricsService) ObserveTick(duration time.Duration, created int) {
	s.ticksTotal.Inc()
	s.tickDuration.Observe(duration.Seconds())
	if created > 0 {
		s.instancesCreated.Add(float64(created))
	}
}

// ObserveTickSkipped records a tick that was skipped due to overlap.
func (s *MetricsService) ObserveTickSkipped() {
	s.ticksSkipped.Inc()
}

// ObserveTemplateFailure records a rolled-back template batch.
func (s *MetricsService) ObserveTemplateFailure() {
	s.templateFailures.Inc()
}
