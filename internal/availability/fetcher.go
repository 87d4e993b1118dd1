// Package availability builds weekly bookable-slot views from the remote
// telemedicine API.
package availability

import (
	"context"
	"time"

	"github.com/carevia/booking-gateway/internal/observability/metrics"
	"github.com/carevia/booking-gateway/internal/telemedapi"
	"github.com/carevia/booking-gateway/pkg/logging"
)

// DaysPerWeek is the size of the displayed availability window.
const DaysPerWeek = 7

// DateFormat is the calendar-day form used across the service (local days,
// never UTC-converted).
const DateFormat = "2006-01-02"

// Slot is a single bookable time slot within a day.
type Slot struct {
	// ID is the slot's index within its day. It is not stable across
	// refetches; restoration matches on StartTime instead.
	ID          int    `json:"id"`
	StartTime   string `json:"startTime"` // HH:MM
	EndTime     string `json:"endTime"`   // HH:MM, derived from consultation duration
	IsAvailable bool   `json:"isAvailable"`
}

// DayAvailability is one calendar day of a weekly view.
type DayAvailability struct {
	Date    string `json:"date"` // YYYY-MM-DD
	DayName string `json:"dayName"`
	Slots   []Slot `json:"slots"`
}

// HasAvailableSlot reports whether any slot in the day is bookable.
func (d DayAvailability) HasAvailableSlot() bool {
	for _, s := range d.Slots {
		if s.IsAvailable {
			return true
		}
	}
	return false
}

// SlotsAPI is the remote read this package depends on.
type SlotsAPI interface {
	GetBookableSlots(ctx context.Context, doctorID int, date string) (*telemedapi.BookableSlots, error)
}

// Fetcher produces weekly availability windows.
type Fetcher struct {
	api     SlotsAPI
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// NewFetcher creates a Fetcher. metrics may be nil.
func NewFetcher(api SlotsAPI, logger *logging.Logger, m *metrics.BookingMetrics) *Fetcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Fetcher{api: api, logger: logger, metrics: m}
}

// WeekSchedule returns exactly DaysPerWeek entries covering weekStart and the
// following days, in ascending date order.
//
// Per-day requests are issued sequentially, each awaited before the next, so
// the output is ordered without a sort step and the remote never sees a burst
// of parallel reads for one page view. A day whose request fails still
// appears with an empty slot list; the call itself never fails.
func (f *Fetcher) WeekSchedule(ctx context.Context, doctorID int, weekStart time.Time) []DayAvailability {
	start := Midnight(weekStart)
	week := make([]DayAvailability, 0, DaysPerWeek)
	failures := 0

	for i := 0; i < DaysPerWeek; i++ {
		day := start.AddDate(0, 0, i)
		entry := DayAvailability{
			Date:    day.Format(DateFormat),
			DayName: day.Weekday().String(),
		}

		resp, err := f.api.GetBookableSlots(ctx, doctorID, entry.Date)
		if err != nil {
			failures++
			f.metrics.ObserveDayFetchFailure()
			f.logger.Warn("day slot fetch failed, rendering empty",
				"doctor_id", doctorID,
				"date", entry.Date,
				"error", err,
			)
		} else {
			entry.Slots = buildSlots(resp)
		}

		week = append(week, entry)
	}

	status := "ok"
	if failures == DaysPerWeek {
		status = "all_days_failed"
	} else if failures > 0 {
		status = "partial"
	}
	f.metrics.ObserveWeekFetch(status)

	f.logger.Debug("week schedule fetched",
		"doctor_id", doctorID,
		"week_start", week[0].Date,
		"failed_days", failures,
	)

	return week
}

// buildSlots converts the remote slot list into display slots, preserving the
// remote's ascending order. End times come from the doctor's consultation
// duration; a malformed start time leaves EndTime empty rather than dropping
// the slot.
func buildSlots(resp *telemedapi.BookableSlots) []Slot {
	slots := make([]Slot, 0, len(resp.Slots))
	for i, s := range resp.Slots {
		slot := Slot{
			ID:          i,
			StartTime:   s.Time,
			IsAvailable: s.IsAvailable,
		}
		if start, err := time.Parse("15:04", s.Time); err == nil && resp.ConsultationDuration > 0 {
			slot.EndTime = start.Add(time.Duration(resp.ConsultationDuration) * time.Minute).Format("15:04")
		}
		slots = append(slots, slot)
	}
	return slots
}

// Midnight strips the time-of-day in t's location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
