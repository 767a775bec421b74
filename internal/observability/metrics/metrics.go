package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for booking and sync flows.
type BookingMetrics struct {
	operationsTotal *prometheus.CounterVec
	syncOutcomes    *prometheus.CounterVec
	syncAttempts    *prometheus.HistogramVec
	bulkItems       *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "booking_operations_total",
			Help:      "Booking operations by kind and result code",
		}, []string{"op", "result"}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "sync_outcomes_total",
			Help:      "External sync outcomes per provider",
		}, []string{"provider", "status"}),
		syncAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "sync_attempts",
			Help:      "Attempts used per external sync call",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"provider"}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "bulk_items_total",
			Help:      "Bulk reschedule items by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.syncOutcomes, m.syncAttempts, m.bulkItems)
	return m
}

// ObserveOperation records one orchestrator call. result is "ok" or an error code.
func (m *BookingMetrics) ObserveOperation(op, result string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, result).Inc()
}

func (m *BookingMetrics) ObserveSync(provider, status string, attempts int) {
	if m == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(provider, status).Inc()
	if attempts > 0 {
		m.syncAttempts.WithLabelValues(provider).Observe(float64(attempts))
	}
}

func (m *BookingMetrics) ObserveBulkItem(result string) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(result).Inc()
}
