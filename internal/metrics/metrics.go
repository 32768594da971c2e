// Package metrics exposes the engine counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowlog"

// Rebuild results.
const (
	RebuildOK      = "ok"
	RebuildAborted = "aborted"
	RebuildFailed  = "failed"
)

// Collector groups every metric of the daemon. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	FlowsIngested     prometheus.Counter
	FlowsDropped      prometheus.Counter
	Rebuilds          *prometheus.CounterVec
	RefreshesPosted   prometheus.Counter
	RefreshesRendered prometheus.Counter
	Owners            prometheus.Gauge
	Peers             prometheus.Gauge
	ExportDuration    *prometheus.HistogramVec
	AlertsTriggered   prometheus.Counter
}

// NewCollector creates the metrics and registers them on a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		FlowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_ingested_total",
			Help:      "Flow records applied to at least one owner.",
		}),
		FlowsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_dropped_total",
			Help:      "Flow records dropped because no owner has their id.",
		}),
		Rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_rebuilds_total",
			Help:      "Owner registry rebuilds by result.",
		}, []string{"result"}),
		RefreshesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_posted_total",
			Help:      "Refresh jobs handed to the display executor.",
		}),
		RefreshesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_rendered_total",
			Help:      "Frames rendered by the display layer.",
		}),
		Owners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "owners",
			Help:      "Owner entries in the canonical buffer.",
		}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Peer records across all owners.",
		}),
		ExportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Time spent writing one snapshot per writer type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"writer"}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Alert rule violations reported to the notifier.",
		}),
	}

	c.registry.MustRegister(
		c.FlowsIngested,
		c.FlowsDropped,
		c.Rebuilds,
		c.RefreshesPosted,
		c.RefreshesRendered,
		c.Owners,
		c.Peers,
		c.ExportDuration,
		c.AlertsTriggered,
		collectors.NewGoCollector(),
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FlowIngested() {
	if c != nil {
		c.FlowsIngested.Inc()
	}
}

func (c *Collector) FlowDropped() {
	if c != nil {
		c.FlowsDropped.Inc()
	}
}

func (c *Collector) Rebuild(result string) {
	if c != nil {
		c.Rebuilds.WithLabelValues(result).Inc()
	}
}

func (c *Collector) RefreshPosted() {
	if c != nil {
		c.RefreshesPosted.Inc()
	}
}

func (c *Collector) RefreshRendered() {
	if c != nil {
		c.RefreshesRendered.Inc()
	}
}

// SetSize updates the owner and peer gauges.
func (c *Collector) SetSize(owners, peers int) {
	if c != nil {
		c.Owners.Set(float64(owners))
		c.Peers.Set(float64(peers))
	}
}

func (c *Collector) ObserveExport(writer string, seconds float64) {
	if c != nil {
		c.ExportDuration.WithLabelValues(writer).Observe(seconds)
	}
}

func (c *Collector) AlertTriggered(n int) {
	if c != nil {
		c.AlertsTriggered.Add(float64(n))
	}
}
