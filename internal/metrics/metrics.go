package metrics

import (
	"net/http"
	"time"

	"github.com/berfenger/meterlink/pkg/meter_modbus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meterlink"

// Metrics exports acquisition state on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	readDuration *prometheus.HistogramVec
	measurement  *prometheus.GaugeVec
	readFailures *prometheus.CounterVec
	present      prometheus.Gauge
	snapshots    prometheus.Counter
	connected    prometheus.Gauge
	reconnects   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "register_read_seconds",
			Help:      "Duration of one Modbus register request.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"fn"}),
		measurement: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "measurement_value",
			Help:      "Last decoded value of a numeric measurement.",
		}, []string{"name", "unit"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurement_read_failures_total",
			Help:      "Readings recorded as absent, by measurement.",
		}, []string{"name"}),
		present: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_present_readings",
			Help:      "Readings holding a value in the last snapshot.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots taken.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "meter_connected",
			Help:      "1 while a meter line is open.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Connection attempts after the first one.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.readDuration,
		m.measurement,
		m.readFailures,
		m.present,
		m.snapshots,
		m.connected,
		m.reconnects,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument feeds transport request timings into the read histogram.
func (m *Metrics) Instrument() meter_modbus.ModbusInstrument {
	return meter_modbus.ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			m.readDuration.WithLabelValues(fnName).Observe(readTime.Seconds())
		},
	}
}

func (m *Metrics) ObserveSnapshot(snap meter_modbus.Snapshot, units map[string]string) {
	m.snapshots.Inc()
	m.present.Set(float64(snap.PresentCount()))
	for _, r := range snap.Readings {
		if !r.Present() {
			m.readFailures.WithLabelValues(r.Name).Inc()
			continue
		}
		if f, ok := r.Value.Float(); ok {
			m.measurement.WithLabelValues(r.Name, units[r.Name]).Set(f)
		}
	}
}

func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) IncReconnects() {
	m.reconnects.Inc()
}
