package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsSet holds the scheduler's Prometheus instruments. Each scheduler
// owns its registry so multiple schedulers can coexist in one process
// (tests spin up several) without duplicate-registration panics.
type metricsSet struct {
	registry *prometheus.Registry

	dispatches *prometheus.CounterVec
	installs   prometheus.Counter
	extensions prometheus.Gauge
}

func newMetricsSet() *metricsSet {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	return &metricsSet{
		registry: reg,
		dispatches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridstore_scheduler_dispatches_total",
				Help: "Total extension operations dispatched, by extension key, op, and outcome",
			},
			[]string{"extension", "op", "outcome"}, // outcome: "ok", "error"
		),
		installs: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "gridstore_scheduler_extension_installs_total",
				Help: "Total extension installations performed (idempotent re-ensures excluded)",
			},
		),
		extensions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "gridstore_scheduler_extensions",
				Help: "Number of extensions currently installed",
			},
		),
	}
}

func (m *metricsSet) recordDispatch(extension, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.dispatches.WithLabelValues(extension, op, outcome).Inc()
}

func (m *metricsSet) recordInstall(total int) {
	m.installs.Inc()
	m.extensions.Set(float64(total))
}
