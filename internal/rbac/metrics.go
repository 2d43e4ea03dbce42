package rbac

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for authorization decisions.
type Metrics struct {
	cacheLookups  *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	resolveErrors prometheus.Counter
	cacheErrors   *prometheus.CounterVec
}

// NewMetrics registers the guard metrics against registerer. A nil registerer
// yields unregistered collectors, which is what tests usually want.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salespulse_permission_cache_lookups_total",
		Help: "Permission cache lookups partitioned by result.",
	}, []string{"result"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salespulse_authz_decisions_total",
		Help: "Authorization decisions partitioned by outcome.",
	}, []string{"outcome"})
	resolveErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salespulse_permission_resolve_errors_total",
		Help: "Failures while resolving permissions from the store.",
	})
	cacheErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salespulse_permission_cache_errors_total",
		Help: "Ignored permission cache failures partitioned by operation.",
	}, []string{"op"})
	if registerer != nil {
		registerer.MustRegister(lookups, decisions, resolveErrors, cacheErrors)
	}
	return &Metrics{
		cacheLookups:  lookups,
		decisions:     decisions,
		resolveErrors: resolveErrors,
		cacheErrors:   cacheErrors,
	}
}

func (m *Metrics) hit() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) miss() {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) decision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) resolveFailed() {
	if m == nil {
		return
	}
	m.resolveErrors.Inc()
}

func (m *Metrics) cacheFailed(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}
