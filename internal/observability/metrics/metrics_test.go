package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveWeekFetch("ok")
	m.ObserveDayFetchFailure()
	m.ObserveRestoration("restored")
	m.ObserveBooking("created")
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveWeekFetch("ok")
	m.ObserveDayFetchFailure()
	m.ObserveRestoration("skipped")
	m.ObserveBooking("rejected")
}
