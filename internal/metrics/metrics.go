package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metric names exported on /metrics.
const (
	RequestsTotalName     = "http_requests_total"
	RequestDurationName   = "http_request_duration_seconds"
	RequestsInFlightName  = "http_requests_in_flight"
	ErrorsTotalName       = "http_errors_total"
	ServiceStateName      = "service_state"
	AbandonedRequestsName = "shutdown_abandoned_requests_total"
	ValidationsName       = "payload_validations_total"
)

// Validation results, the result label of ValidationsName.
const (
	ValidationAccepted = "accepted"
	ValidationRejected = "rejected"
)

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Collector owns a Prometheus registry with the service metrics.
// Each Collector is independent so tests can build isolated instances.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
	serviceState    prometheus.Gauge
	abandonedTotal  prometheus.Counter
	validations     *prometheus.CounterVec
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: RequestsTotalName,
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status_class"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    RequestDurationName,
				Help:    "HTTP request duration in seconds",
				Buckets: DefaultBuckets,
			},
			[]string{"route"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ErrorsTotalName,
				Help: "Total number of failed HTTP requests by error type",
			},
			[]string{"route", "error_type"},
		),
		serviceState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: ServiceStateName,
			Help: "Service state (0=starting, 1=ready, 2=draining, 3=stopped)",
		}),
		abandonedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: AbandonedRequestsName,
			Help: "Requests still in flight when the shutdown grace period expired",
		}),
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: ValidationsName,
				Help: "Payload bodies checked against the schema, by result",
			},
			[]string{"result"},
		),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.errorsTotal,
		c.serviceState,
		c.abandonedTotal,
		c.validations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// RegisterInFlight exposes the in-flight gauge, read from fn at scrape time.
func (c *Collector) RegisterInFlight(fn func() int64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: RequestsInFlightName,
			Help: "Number of requests currently being served",
		},
		func() float64 { return float64(fn()) },
	))
}

// RecordRequest records a completed request
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(route, method, StatusClass(statusCode)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordError counts a failed request by error type.
func (c *Collector) RecordError(route, errorType string) {
	c.errorsTotal.WithLabelValues(route, errorType).Inc()
}

// SetServiceState publishes the readiness state as a number.
func (c *Collector) SetServiceState(state int) {
	c.serviceState.Set(float64(state))
}

// AddAbandoned counts requests dropped by a forced shutdown.
func (c *Collector) AddAbandoned(n int64) {
	if n > 0 {
		c.abandonedTotal.Add(float64(n))
	}
}

// RecordValidation counts a payload body as accepted or rejected.
func (c *Collector) RecordValidation(accepted bool) {
	result := ValidationRejected
	if accepted {
		result = ValidationAccepted
	}
	c.validations.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		Registry: c.registry,
	})
}

// StatusClass maps a status code to its class label ("2xx", "4xx", ...).
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Snapshot holds a point-in-time view of the service metrics
type Snapshot struct {
	RequestsTotal    map[string]int64              `json:"requests_total"` // key: route|method|status_class
	RequestDurations map[string]*HistogramSnapshot `json:"request_durations"`
	Errors           map[string]int64              `json:"errors"` // key: route|error_type
	InFlight         int64                         `json:"in_flight"`
	ServiceState     int                           `json:"service_state"`
	Abandoned        int64                         `json:"abandoned"`
	Validations      map[string]int64              `json:"validations"` // key: result
}

// HistogramSnapshot is a snapshot of histogram data
type HistogramSnapshot struct {
	Count   int64             `json:"count"`
	Sum     float64           `json:"sum"`
	Buckets map[float64]int64 `json:"buckets"` // upper bound -> cumulative count
}

// RouteRequests sums request counts for a route across methods and status classes.
func (s *Snapshot) RouteRequests(route string) int64 {
	var total int64
	for key, n := range s.RequestsTotal {
		if parts := splitKey(key, 3); len(parts) == 3 && parts[0] == route {
			total += n
		}
	}
	return total
}

// Snapshot gathers the registry into a Snapshot
func (c *Collector) Snapshot() (*Snapshot, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	snap := &Snapshot{
		RequestsTotal:    make(map[string]int64),
		RequestDurations: make(map[string]*HistogramSnapshot),
		Errors:           make(map[string]int64),
		Validations:      make(map[string]int64),
	}

	for _, mf := range families {
		switch mf.GetName() {
		case RequestsTotalName:
			for _, m := range mf.GetMetric() {
				key := labelValue(m, "route") + "|" + labelValue(m, "method") + "|" + labelValue(m, "status_class")
				snap.RequestsTotal[key] = int64(m.GetCounter().GetValue())
			}
		case RequestDurationName:
			for _, m := range mf.GetMetric() {
				h := m.GetHistogram()
				hs := &HistogramSnapshot{
					Count:   int64(h.GetSampleCount()),
					Sum:     h.GetSampleSum(),
					Buckets: make(map[float64]int64, len(h.GetBucket())),
				}
				for _, b := range h.GetBucket() {
					hs.Buckets[b.GetUpperBound()] = int64(b.GetCumulativeCount())
				}
				snap.RequestDurations[labelValue(m, "route")] = hs
			}
		case ErrorsTotalName:
			for _, m := range mf.GetMetric() {
				key := labelValue(m, "route") + "|" + labelValue(m, "error_type")
				snap.Errors[key] = int64(m.GetCounter().GetValue())
			}
		case ValidationsName:
			for _, m := range mf.GetMetric() {
				snap.Validations[labelValue(m, "result")] = int64(m.GetCounter().GetValue())
			}
		case RequestsInFlightName:
			if ms := mf.GetMetric(); len(ms) > 0 {
				snap.InFlight = int64(ms[0].GetGauge().GetValue())
			}
		case ServiceStateName:
			if ms := mf.GetMetric(); len(ms) > 0 {
				snap.ServiceState = int(ms[0].GetGauge().GetValue())
			}
		case AbandonedRequestsName:
			if ms := mf.GetMetric(); len(ms) > 0 {
				snap.Abandoned = int64(ms[0].GetCounter().GetValue())
			}
		}
	}

	return snap, nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func splitKey(key string, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
			if len(parts) == n-1 {
				parts = append(parts, key[start:])
				return parts
			}
		}
	}
	if start < len(key) {
		parts = append(parts, key[start:])
	}
	return parts
}
