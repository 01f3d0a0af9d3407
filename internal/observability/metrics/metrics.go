package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the appointment flows.
type BookingMetrics struct {
	bookingsTotal     *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	paymentsTotal     *prometheus.CounterVec
	availabilityTotal *prometheus.CounterVec
	storeLatency      *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "appointments",
			Name:      "book_attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "appointments",
			Name:      "status_transitions_total",
			Help:      "Appointment status changes by actor role, target status and outcome",
		}, []string{"role", "to", "outcome"}),
		paymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "appointments",
			Name:      "payments_total",
			Help:      "Mock payments by method and outcome",
		}, []string{"method", "outcome"}),
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "availability",
			Name:      "lookups_total",
			Help:      "Availability lookups by cache result",
		}, []string{"cache"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "appointments",
			Name:      "operation_latency_seconds",
			Help:      "Latency of appointment service operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.paymentsTotal, m.availabilityTotal, m.storeLatency)
	return m
}

// ObserveBooking counts a booking attempt. outcome is "booked", "conflict",
// "rejected" or "error".
func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(role, to, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(role, to, outcome).Inc()
}

func (m *BookingMetrics) ObservePayment(method, outcome string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveAvailability records whether a lookup was served from cache.
func (m *BookingMetrics) ObserveAvailability(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.availabilityTotal.WithLabelValues(label).Inc()
}

func (m *BookingMetrics) ObserveLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.storeLatency.WithLabelValues(operation).Observe(seconds)
}
