package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sigsummary"

// Registry owns the engine's Prometheus collectors
type Registry struct {
	reg       *prometheus.Registry
	startTime time.Time

	itemsStored        *prometheus.CounterVec
	duplicates         prometheus.Counter
	collectionAttempts *prometheus.CounterVec
	purged             *prometheus.CounterVec
	commands           *prometheus.CounterVec
	summaryRuns        *prometheus.CounterVec
	summaryDuration    prometheus.Histogram
	breakerState       *prometheus.GaugeVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewRegistry creates a registry with every collector registered
func NewRegistry() *Registry {
	r := &Registry{
		reg:       prometheus.NewRegistry(),
		startTime: time.Now(),
		itemsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_stored_total",
			Help:      "Messages and reactions written to the store",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Received items dropped as already stored",
		}),
		collectionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_attempts_total",
			Help:      "Transport receive attempts by outcome",
		}, []string{"outcome"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_purged_total",
			Help:      "Stored messages deleted by reason",
		}, []string{"reason"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Chat commands handled by outcome",
		}, []string{"command", "outcome"}),
		summaryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_runs_total",
			Help:      "Summary runs by final status",
		}, []string{"status", "dry_run"}),
		summaryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summary_duration_seconds",
			Help:      "Wall time of summary runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 480},
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"name"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	r.reg.MustRegister(
		r.itemsStored, r.duplicates, r.collectionAttempts, r.purged, r.commands,
		r.summaryRuns, r.summaryDuration, r.breakerState, r.httpRequests, r.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

var globalRegistry = NewRegistry()

// GetRegistry returns the process-wide registry
func GetRegistry() *Registry {
	return globalRegistry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) RecordStored(kind string, n int) {
	if n > 0 {
		r.itemsStored.WithLabelValues(kind).Add(float64(n))
	}
}

func (r *Registry) RecordDuplicates(n int) {
	if n > 0 {
		r.duplicates.Add(float64(n))
	}
}

func (r *Registry) RecordCollectionAttempt(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	r.collectionAttempts.WithLabelValues(outcome).Inc()
}

func (r *Registry) RecordPurged(reason string, n int64) {
	if n > 0 {
		r.purged.WithLabelValues(reason).Add(float64(n))
	}
}

func (r *Registry) RecordCommand(command, outcome string) {
	r.commands.WithLabelValues(command, outcome).Inc()
}

func (r *Registry) RecordSummaryRun(status string, dryRun bool, d time.Duration) {
	r.summaryRuns.WithLabelValues(status, strconv.FormatBool(dryRun)).Inc()
	r.summaryDuration.Observe(d.Seconds())
}

func (r *Registry) SetBreakerState(name string, state int) {
	r.breakerState.WithLabelValues(name).Set(float64(state))
}

func (r *Registry) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Snapshot is a flattened view of the engine's own counters and gauges
type Snapshot struct {
	Counters  map[string]float64 `json:"counters"`
	Gauges    map[string]float64 `json:"gauges"`
	UptimeMs  int64              `json:"uptime_ms"`
	Timestamp int64              `json:"timestamp"`
}

// GetAllMetrics gathers the sigsummary_* families into a Snapshot. Series keys
// are the metric name followed by "_label:value" pairs in label order.
func (r *Registry) GetAllMetrics() Snapshot {
	snap := Snapshot{
		Counters:  make(map[string]float64),
		Gauges:    make(map[string]float64),
		UptimeMs:  time.Since(r.startTime).Milliseconds(),
		Timestamp: time.Now().Unix(),
	}

	families, err := r.reg.Gather()
	if err != nil {
		return snap
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			parts := []string{mf.GetName()}
			for _, lp := range m.GetLabel() {
				parts = append(parts, lp.GetName()+":"+lp.GetValue())
			}
			sort.Strings(parts[1:])
			key := strings.Join(parts, "_")
			switch {
			case m.GetCounter() != nil:
				snap.Counters[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				snap.Gauges[key] = m.GetGauge().GetValue()
			}
		}
	}
	return snap
}

// Convenience functions for the global registry

func RecordStored(kind string, n int)        { globalRegistry.RecordStored(kind, n) }
func RecordDuplicates(n int)                 { globalRegistry.RecordDuplicates(n) }
func RecordCollectionAttempt(ok bool)        { globalRegistry.RecordCollectionAttempt(ok) }
func RecordPurged(reason string, n int64)    { globalRegistry.RecordPurged(reason, n) }
func RecordCommand(command, outcome string)  { globalRegistry.RecordCommand(command, outcome) }
func SetBreakerState(name string, state int) { globalRegistry.SetBreakerState(name, state) }
func GetAllMetrics() Snapshot                { return globalRegistry.GetAllMetrics() }
func Handler() http.Handler                  { return globalRegistry.Handler() }
func RecordSummaryRun(status string, dryRun bool, d time.Duration) {
	globalRegistry.RecordSummaryRun(status, dryRun, d)
}
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	globalRegistry.RecordHTTPRequest(method, route, status, d)
}
