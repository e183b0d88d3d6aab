package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lighthouse_stack"

// Metrics are the orchestrator's Prometheus collectors.
type Metrics struct {
	// probes counts readiness checks. Labels: service, result (ready, not_ready, failed)
	probes *prometheus.CounterVec

	// readinessWait measures how long a service took to become ready.
	// Labels: service
	readinessWait *prometheus.HistogramVec

	// restarts counts watchdog restarts of unhealthy containers.
	// Labels: service
	restarts *prometheus.CounterVec

	// deployments counts Up runs. Labels: result (success, error)
	deployments *prometheus.CounterVec

	// serviceUp is 1 while the service is ready. Labels: service
	serviceUp *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg. A nil reg keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "probes_total",
			Help:      "Readiness checks by service and result",
		}, []string{"service", "result"}),
		readinessWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "wait_seconds",
			Help:      "Time until a service reported ready",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160, 300},
		}, []string{"service"}),
		restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "restarts_total",
			Help:      "Containers restarted after turning unhealthy",
		}, []string{"service"}),
		deployments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Stack deployments by result",
		}, []string{"result"}),
		serviceUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_up",
			Help:      "Whether the service container is ready",
		}, []string{"service"}),
	}
}

func (m *Metrics) observeProbe(service, result string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(service, result).Inc()
}

func (m *Metrics) observeReady(service string, seconds float64) {
	if m == nil {
		return
	}
	m.readinessWait.WithLabelValues(service).Observe(seconds)
}

func (m *Metrics) observeRestart(service string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(service).Inc()
}

func (m *Metrics) observeDeployment(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.deployments.WithLabelValues(result).Inc()
}

func (m *Metrics) setUp(service string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.serviceUp.WithLabelValues(service).Set(v)
}
