package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for consent operations.
type Metrics struct {
	DecisionsTotal        *prometheus.CounterVec
	CategoryDecisions     *prometheus.CounterVec
	StorageFailures       *prometheus.CounterVec
	StoreOperationLatency *prometheus.HistogramVec
	EventsPublished       prometheus.Counter
	Subscribers           prometheus.Gauge
	ScriptsInserted       *prometheus.CounterVec
	ScriptsRemoved        *prometheus.CounterVec
	ScriptInsertFailures  *prometheus.CounterVec
	RemoteSyncs           *prometheus.CounterVec
	RecordsSwept          prometheus.Counter
}

// New registers consent collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lipo_consent_decisions_total",
			Help: "Consent decisions written, labeled by action and resulting status",
		}, []string{"action", "status"}),
		CategoryDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lipo_consent_category_decisions_total",
			Help: "Per-category outcome of each written decision",
		}, []string{"category", "granted"}),
		StorageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lipo_consent_storage_failures_total",
			Help: "Persistence failures swallowed by the consent store, labeled by operation",
		}, []string{"operation"}),
		StoreOperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lipo_consent_store_operation_latency_seconds",
			Help:    "Latency of consent store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "lipo_consent_events_published_total",
			Help: "consentChanged events published on the bus",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "lipo_consent_event_subscribers",
			Help: "Current number of consent event subscribers",
		}),
		ScriptsInserted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lipo_consent_scripts_inserted_total",
			Help: "Third-party scripts inserted by reconciliation, labeled by category",
		}, []string{"category"}),
		ScriptsRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lipo_consent_scripts_removed_total",
			Help: "Third-party scripts removed by reconciliation, labeled by category",
		}, []string{"category"}),
		ScriptInsertFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lipo_consent_script_insert_failures_total",
			Help: "Script insertions that failed and were left degraded",
		}, []string{"category"}),
		RemoteSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lipo_consent_remote_syncs_total",
			Help: "Server-side consent syncs for signed-in users, labeled by outcome",
		}, []string{"outcome"}),
		RecordsSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "lipo_consent_records_swept_total",
			Help: "Expired or stale server-side consent records deleted by the cleanup worker",
		}),
	}
}

func (m *Metrics) IncrementDecision(action, status string) {
	m.DecisionsTotal.WithLabelValues(action, status).Inc()
}

func (m *Metrics) IncrementCategoryDecision(category string, granted bool) {
	label := "false"
	if granted {
		label = "true"
	}
	m.CategoryDecisions.WithLabelValues(category, label).Inc()
}

func (m *Metrics) IncrementStorageFailure(operation string) {
	m.StorageFailures.WithLabelValues(operation).Inc()
}

// ObserveStoreOperationLatency records the latency of a store operation.
func (m *Metrics) ObserveStoreOperationLatency(operation string, durationSeconds float64) {
	m.StoreOperationLatency.WithLabelValues(operation).Observe(durationSeconds)
}

func (m *Metrics) IncrementEventsPublished() {
	m.EventsPublished.Inc()
}

func (m *Metrics) SetSubscribers(count int) {
	m.Subscribers.Set(float64(count))
}

func (m *Metrics) IncrementScriptInserted(category string) {
	m.ScriptsInserted.WithLabelValues(category).Inc()
}

func (m *Metrics) IncrementScriptRemoved(category string) {
	m.ScriptsRemoved.WithLabelValues(category).Inc()
}

func (m *Metrics) IncrementScriptInsertFailure(category string) {
	m.ScriptInsertFailures.WithLabelValues(category).Inc()
}

func (m *Metrics) IncrementRemoteSync(outcome string) {
	m.RemoteSyncs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddRecordsSwept(count int) {
	m.RecordsSwept.Add(float64(count))
}
