package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics exposes counters/histograms for sync runs and webhook deliveries.
type SyncMetrics struct {
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	recordsTotal  *prometheus.CounterVec
	webhooksTotal *prometheus.CounterVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total sync runs by type and outcome",
		}, []string{"sync_type", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "practice",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sync_type"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "sync",
			Name:      "records_processed_total",
			Help:      "Total records processed by entity",
		}, []string{"entity"}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "sync",
			Name:      "webhook_events_total",
			Help:      "Total inbound PM system webhook events",
		}, []string{"event", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.runDuration, m.recordsTotal, m.webhooksTotal)
	return m
}

func (m *SyncMetrics) ObserveRun(syncType string, success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.runsTotal.WithLabelValues(syncType, status).Inc()
	m.runDuration.WithLabelValues(syncType).Observe(seconds)
}

func (m *SyncMetrics) ObserveRecords(entity string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recordsTotal.WithLabelValues(entity).Add(float64(count))
}

func (m *SyncMetrics) ObserveWebhook(event, status string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(event, status).Inc()
}
