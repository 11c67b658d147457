package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator's Prometheus collectors. Created with a nil
// Registerer they still count but are never exported.
type Metrics struct {
	running        *prometheus.GaugeVec
	startsTotal    prometheus.Counter
	startErrors    *prometheus.CounterVec
	stopsTotal     prometheus.Counter
	failuresTotal  prometheus.Counter
	forcedDrains   prometheus.Counter
	portsAllocated prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		running: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "linkshare_instances_running",
				Help: "Number of file-serving instances currently registered, by network",
			},
			[]string{"network"},
		),
		startsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "linkshare_instance_starts_total",
			Help: "Total number of instances started",
		}),
		startErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkshare_instance_start_errors_total",
				Help: "Total number of failed start requests, by failure kind",
			},
			[]string{"kind"},
		),
		stopsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "linkshare_instance_stops_total",
			Help: "Total number of instances that stopped after a stop request",
		}),
		failuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "linkshare_instance_failures_total",
			Help: "Total number of instances that exited unexpectedly",
		}),
		forcedDrains: factory.NewCounter(prometheus.CounterOpts{
			Name: "linkshare_instance_forced_drains_total",
			Help: "Total number of stops whose drain timed out and closed connections",
		}),
		portsAllocated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "linkshare_managed_ports_allocated",
			Help: "Ports currently reserved from the managed range",
		}),
	}
}
