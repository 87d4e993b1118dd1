package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for availability and restoration flows.
type BookingMetrics struct {
	weekFetchTotal   *prometheus.CounterVec
	dayFetchFailures prometheus.Counter
	restorationTotal *prometheus.CounterVec
	bookingTotal     *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		weekFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookinggw",
			Subsystem: "availability",
			Name:      "week_fetch_total",
			Help:      "Total weekly availability fetch cycles",
		}, []string{"status"}),
		dayFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookinggw",
			Subsystem: "availability",
			Name:      "day_fetch_failures_total",
			Help:      "Per-day slot fetches that failed and rendered empty",
		}),
		restorationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookinggw",
			Subsystem: "restore",
			Name:      "restoration_total",
			Help:      "Booking context restoration outcomes",
		}, []string{"outcome"}),
		bookingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookinggw",
			Subsystem: "appointments",
			Name:      "booking_total",
			Help:      "Appointment creation attempts",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.weekFetchTotal, m.dayFetchFailures, m.restorationTotal, m.bookingTotal)
	return m
}

func (m *BookingMetrics) ObserveWeekFetch(status string) {
	if m == nil {
		return
	}
	m.weekFetchTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveDayFetchFailure() {
	if m == nil {
		return
	}
	m.dayFetchFailures.Inc()
}

func (m *BookingMetrics) ObserveRestoration(outcome string) {
	if m == nil {
		return
	}
	m.restorationTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveBooking(status string) {
	if m == nil {
		return
	}
	m.bookingTotal.WithLabelValues(status).Inc()
}
