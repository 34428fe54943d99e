// Package metrics collects crawl, graph and alert metrics on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pathscout"

// Collector collects and aggregates metrics. It is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	fetchesTotal  *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	fetchBytes    prometheus.Counter
	retriesTotal  prometheus.Counter
	crawlsTotal   *prometheus.CounterVec
	endpointsSeen prometheus.Counter
	formsSeen     prometheus.Counter
	graphNodes    prometheus.Gauge
	graphEdges    prometheus.Gauge
	pathsFound    prometheus.Histogram
	alertsTotal   *prometheus.CounterVec

	// Totals mirrored for snapshots without a gather round-trip.
	fetches   atomic.Int64
	errors    atomic.Int64
	retries   atomic.Int64
	bytes     atomic.Int64
	crawls    atomic.Int64
	empty     atomic.Int64
	endpoints atomic.Int64
	forms     atomic.Int64
	paths     atomic.Int64
	alerts    atomic.Int64

	// Fetch error breakdown
	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	startTime time.Time
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		fetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Page fetches by outcome",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Page fetch latency including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_bytes_total",
			Help:      "Response body bytes read",
		}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Fetch retries",
		}),
		crawlsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawls_total",
			Help:      "Crawls by result",
		}, []string{"result"}),
		endpointsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoints_total",
			Help:      "Endpoints extracted",
		}),
		formsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forms_total",
			Help:      "Forms extracted",
		}),
		graphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Nodes in the last built graph",
		}),
		graphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_edges",
			Help:      "Edges in the last built graph",
		}),
		pathsFound: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "paths_found",
			Help:      "Paths returned per search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts by level and delivery result",
		}, []string{"level", "result"}),
		errorCounts: make(map[string]*atomic.Int64),
		startTime:   time.Now(),
	}

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		c.fetchesTotal,
		c.fetchDuration,
		c.fetchBytes,
		c.retriesTotal,
		c.crawlsTotal,
		c.endpointsSeen,
		c.formsSeen,
		c.graphNodes,
		c.graphEdges,
		c.pathsFound,
		c.alertsTotal,
	)

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for the node_exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// RecordFetch records one fetch. Outcome is "ok" or an error type.
func (c *Collector) RecordFetch(outcome string, d time.Duration, bytes int) {
	c.fetchesTotal.WithLabelValues(outcome).Inc()
	c.fetchDuration.Observe(d.Seconds())
	c.fetches.Add(1)

	if bytes > 0 {
		c.fetchBytes.Add(float64(bytes))
		c.bytes.Add(int64(bytes))
	}

	if outcome == "ok" {
		return
	}
	c.errors.Add(1)

	c.errorMu.Lock()
	if c.errorCounts[outcome] == nil {
		c.errorCounts[outcome] = &atomic.Int64{}
	}
	counter := c.errorCounts[outcome]
	c.errorMu.Unlock()
	counter.Add(1)
}

// RecordRetry records a fetch retry.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Inc()
	c.retries.Add(1)
}

// RecordCrawl records a finished crawl.
func (c *Collector) RecordCrawl(endpoints, forms int) {
	result := "ok"
	if endpoints == 0 && forms == 0 {
		result = "empty"
		c.empty.Add(1)
	}
	c.crawlsTotal.WithLabelValues(result).Inc()
	c.crawls.Add(1)

	c.endpointsSeen.Add(float64(endpoints))
	c.formsSeen.Add(float64(forms))
	c.endpoints.Add(int64(endpoints))
	c.forms.Add(int64(forms))
}

// RecordGraph records the size of a built graph.
func (c *Collector) RecordGraph(nodes, edges int) {
	c.graphNodes.Set(float64(nodes))
	c.graphEdges.Set(float64(edges))
}

// RecordPaths records the number of paths one search returned.
func (c *Collector) RecordPaths(n int) {
	c.pathsFound.Observe(float64(n))
	c.paths.Add(int64(n))
}

// RecordAlert records an alert delivery.
func (c *Collector) RecordAlert(level string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	c.alertsTotal.WithLabelValues(level, result).Inc()
	c.alerts.Add(1)
}

// Snapshot returns a point-in-time snapshot of the totals.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:    time.Now(),
		Uptime:       time.Since(c.startTime),
		FetchesTotal: c.fetches.Load(),
		ErrorsTotal:  c.errors.Load(),
		RetriesTotal: c.retries.Load(),
		BytesTotal:   c.bytes.Load(),
		CrawlsTotal:  c.crawls.Load(),
		EmptyCrawls:  c.empty.Load(),
		Endpoints:    c.endpoints.Load(),
		Forms:        c.forms.Load(),
		PathsTotal:   c.paths.Load(),
		AlertsTotal:  c.alerts.Load(),
		ErrorCounts:  make(map[string]int64),
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp    time.Time        `json:"timestamp"`
	Uptime       time.Duration    `json:"uptime"`
	FetchesTotal int64            `json:"fetches_total"`
	ErrorsTotal  int64            `json:"errors_total"`
	RetriesTotal int64            `json:"retries_total"`
	BytesTotal   int64            `json:"bytes_total"`
	CrawlsTotal  int64            `json:"crawls_total"`
	EmptyCrawls  int64            `json:"empty_crawls"`
	Endpoints    int64            `json:"endpoints"`
	Forms        int64            `json:"forms"`
	PathsTotal   int64            `json:"paths_total"`
	AlertsTotal  int64            `json:"alerts_total"`
	ErrorCounts  map[string]int64 `json:"error_counts"`
}

// ErrorRate returns the error rate (errors/fetches).
func (s *Snapshot) ErrorRate() float64 {
	if s.FetchesTotal == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(s.FetchesTotal)
}

// Summary returns a human-readable summary.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":        s.Uptime.String(),
		"fetches_total": s.FetchesTotal,
		"errors_total":  s.ErrorsTotal,
		"error_rate":    s.ErrorRate(),
		"retries_total": s.RetriesTotal,
		"crawls_total":  s.CrawlsTotal,
		"empty_crawls":  s.EmptyCrawls,
		"endpoints":     s.Endpoints,
		"forms":         s.Forms,
		"paths_total":   s.PathsTotal,
		"alerts_total":  s.AlertsTotal,
	}
}
