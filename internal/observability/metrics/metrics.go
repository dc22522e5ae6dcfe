package metrics

import "github.com/prometheus/client_golang/prometheus"

// BridgeMetrics exposes counters for the practice-management bridge: outbound
// API traffic, retries, sync progress and task dispatch outcomes.
type BridgeMetrics struct {
	requestsTotal *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	syncUpserts   *prometheus.CounterVec
	syncRuns      *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
}

func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentalbridge",
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Total outbound practice-management API calls",
		}, []string{"practice", "outcome"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentalbridge",
			Subsystem: "remote",
			Name:      "retries_total",
			Help:      "Total retried outbound calls",
		}, []string{"practice"}),
		syncUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentalbridge",
			Subsystem: "sync",
			Name:      "upserts_total",
			Help:      "Total records upserted by bulk sync",
		}, []string{"practice", "entity"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentalbridge",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total sync runs by result",
		}, []string{"practice", "entity", "result"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentalbridge",
			Subsystem: "dispatch",
			Name:      "tasks_total",
			Help:      "Total dispatched tasks by kind and terminal state",
		}, []string{"kind", "state"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.retriesTotal, m.syncUpserts, m.syncRuns, m.dispatchTotal)
	return m
}

func (m *BridgeMetrics) ObserveRequest(practice, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(practice, outcome).Inc()
}

func (m *BridgeMetrics) ObserveRetry(practice string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(practice).Inc()
}

func (m *BridgeMetrics) ObserveSyncUpserts(practice, entity string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.syncUpserts.WithLabelValues(practice, entity).Add(float64(count))
}

func (m *BridgeMetrics) ObserveSyncRun(practice, entity, result string) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(practice, entity, result).Inc()
}

func (m *BridgeMetrics) ObserveDispatch(kind, state string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(kind, state).Inc()
}
