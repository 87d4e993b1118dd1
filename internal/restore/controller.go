// Package restore re-applies a guest's saved booking selection exactly once
// after they authenticate.
package restore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/carevia/booking-gateway/internal/availability"
	"github.com/carevia/booking-gateway/internal/bookingctx"
	"github.com/carevia/booking-gateway/internal/observability/metrics"
	"github.com/carevia/booking-gateway/internal/telemedapi"
	"github.com/carevia/booking-gateway/pkg/logging"
)

// State is the restoration state for one session's view of one doctor.
type State int

const (
	// StateIdle means no restoration has been attempted yet.
	StateIdle State = iota
	// StateRestored is terminal: restoration was applied or explicitly
	// skipped. Further resume calls are no-ops.
	StateRestored
)

// ErrSuperseded is returned when a resume cycle finished after a newer cycle
// had already started; its results are discarded rather than overwriting
// fresher state.
var ErrSuperseded = errors.New("restore: resume cycle superseded")

// DoctorAPI is the remote profile read the controller depends on.
type DoctorAPI interface {
	GetDoctor(ctx context.Context, doctorID int) (*telemedapi.Doctor, error)
}

// Selection is the outcome of a resume cycle: the availability window to
// display and the date/slot selection applied to it.
type Selection struct {
	WeekOffset       int                            `json:"weekOffset"`
	Week             []availability.DayAvailability `json:"week"`
	SelectedDate     string                         `json:"selectedDate,omitempty"`
	SelectedSlotTime string                         `json:"selectedSlotTime,omitempty"`
	// Restored is true when a saved booking context drove the selection.
	Restored bool `json:"restored"`
}

// Controller coordinates the booking context store, the week offset resolver
// and the availability fetcher. Restoration runs at most once per session and
// doctor; the one-shot guard is in-memory and re-arms when a new context is
// saved.
type Controller struct {
	doctors DoctorAPI
	fetcher *availability.Fetcher
	store   bookingctx.Store
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	state   State
	gen     uint64
	last    *Selection
	touched time.Time
}

const (
	// sessionIdleTTL bounds how long an untouched guard (and its retained
	// selection) stays in memory. Session keys arrive from the client, so
	// without eviction the map grows with every key ever seen.
	sessionIdleTTL = 30 * time.Minute
	sessionSweep   = 5 * time.Minute
)

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the controller's time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithMetrics attaches booking metrics.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// NewController creates a Controller.
func NewController(doctors DoctorAPI, fetcher *availability.Fetcher, store bookingctx.Store, logger *logging.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Controller{
		doctors:  doctors,
		fetcher:  fetcher,
		store:    store,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.janitor()
	return c
}

func (c *Controller) janitor() {
	ticker := time.NewTicker(sessionSweep)
	defer ticker.Stop()
	for range ticker.C {
		c.EvictIdleSessions(sessionIdleTTL)
	}
}

// EvictIdleSessions removes guards untouched for at least maxIdle and returns
// how many were removed. An evicted session behaves like a fresh page view:
// a later resume re-runs restoration against whatever context is still
// stored.
func (c *Controller) EvictIdleSessions(maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-maxIdle)
	evicted := 0
	for id, sess := range c.sessions {
		if sess.touched.Before(cutoff) {
			delete(c.sessions, id)
			evicted++
		}
	}
	return evicted
}

func sessionID(sessionKey string, doctorID int) string {
	return sessionKey + ":" + strconv.Itoa(doctorID)
}

func (c *Controller) session(sessionKey string, doctorID int) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := sessionID(sessionKey, doctorID)
	sess, ok := c.sessions[id]
	if !ok {
		sess = &sessionState{}
		c.sessions[id] = sess
	}
	sess.touched = c.now()
	return sess
}

// Reset re-arms the one-shot guard for a session and doctor. Called when a
// new booking context is saved: the next authenticated visit is a fresh page
// view and restoration must run again.
func (c *Controller) Reset(sessionKey string, doctorID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID(sessionKey, doctorID))
}

// StateOf reports the restoration state for a session and doctor.
func (c *Controller) StateOf(sessionKey string, doctorID int) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[sessionID(sessionKey, doctorID)]; ok {
		return sess.state
	}
	return StateIdle
}

// Resume runs one restoration cycle for the given session and doctor,
// returning the selection to display.
//
// The cycle restores the saved date/slot when a matching context exists and
// the caller is authenticated; otherwise it falls back to auto-selecting the
// first day with an available slot. Once a cycle completes the session is
// Restored and later calls return the prior selection unchanged, so a
// duplicate fetch-completion event cannot re-select or re-clear.
func (c *Controller) Resume(ctx context.Context, sessionKey string, doctorID int, authenticated bool) (*Selection, error) {
	sess := c.session(sessionKey, doctorID)

	c.mu.Lock()
	if sess.state == StateRestored && sess.last != nil {
		sel := sess.last
		c.mu.Unlock()
		return sel, nil
	}
	sess.gen++
	gen := sess.gen
	c.mu.Unlock()

	// The doctor profile must load before restoration is evaluated. A
	// failure here leaves the guard Idle so the next call retries instead
	// of consuming the saved context against unknown data.
	doctor, err := c.doctors.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("restore: doctor profile: %w", err)
	}

	sel, outcome, clearContext := c.buildSelection(ctx, sessionKey, doctorID, authenticated)

	c.mu.Lock()
	defer c.mu.Unlock()
	if sess.gen != gen {
		// A newer cycle started while this one was fetching; its results
		// win. Nothing was cleared yet, so discarding is safe.
		return nil, ErrSuperseded
	}
	if sess.state == StateRestored && sess.last != nil {
		return sess.last, nil
	}

	// Guard first: the session must be terminal before the selection is
	// published and before the stored context is consumed.
	if authenticated {
		sess.state = StateRestored
	}
	sess.last = sel
	if clearContext {
		c.store.Clear(ctx, sessionKey)
	}

	c.metrics.ObserveRestoration(outcome)
	c.logger.Info("resume cycle completed",
		"doctor_id", doctorID,
		"doctor_name", doctor.Name,
		"outcome", outcome,
		"week_offset", sel.WeekOffset,
		"restored", sel.Restored,
	)

	return sel, nil
}

// buildSelection evaluates the restoration algorithm and returns the
// selection, a metrics outcome label, and whether the stored context must be
// consumed.
func (c *Controller) buildSelection(ctx context.Context, sessionKey string, doctorID int, authenticated bool) (*Selection, string, bool) {
	today := c.now()

	bc, ok := c.store.Get(ctx, sessionKey)
	switch {
	case !authenticated:
		// Guests have nothing to restore: the context exists precisely
		// because they were not authenticated when they saved it.
		return c.fallbackSelection(ctx, doctorID, today), "skipped_unauthenticated", false

	case !ok:
		return c.fallbackSelection(ctx, doctorID, today), "skipped_no_context", false

	case bc.DoctorID != doctorID:
		// A context for another doctor stays stored for a future matching
		// visit.
		return c.fallbackSelection(ctx, doctorID, today), "skipped_doctor_mismatch", false

	case bc.SelectedDate == "":
		return c.fallbackSelection(ctx, doctorID, today), "skipped_no_date", false
	}

	target, err := time.ParseInLocation(availability.DateFormat, bc.SelectedDate, today.Location())
	if err != nil {
		c.logger.Warn("saved context has malformed date, skipping restoration",
			"date", bc.SelectedDate, "error", err)
		return c.fallbackSelection(ctx, doctorID, today), "skipped_malformed_date", false
	}

	// Resolve the window before matching: restoring against the wrong
	// week's data would select nothing. A past target keeps the current
	// window rather than navigating backward.
	offset := 0
	if off, ok := availability.ResolveWeekOffset(today, target); ok {
		offset = off
	}

	week := c.fetcher.WeekSchedule(ctx, doctorID, availability.WeekStart(today, offset))

	for _, day := range week {
		if day.Date != bc.SelectedDate {
			continue
		}

		// Day located: the context is consumed now, before the slot
		// decision, so a partial restoration cannot leave stale context
		// behind for a later retry.
		sel := &Selection{
			WeekOffset:   offset,
			Week:         week,
			SelectedDate: day.Date,
			Restored:     true,
		}
		outcome := "date_only"
		for _, slot := range day.Slots {
			// Re-validate against current availability; the slot may have
			// been booked while the guest was authenticating.
			if slot.StartTime == bc.SelectedSlotTime && slot.IsAvailable {
				sel.SelectedSlotTime = slot.StartTime
				outcome = "restored"
				break
			}
		}
		return sel, outcome, true
	}

	// Saved date not in the window (past date, or remote no longer lists
	// it). No restoration; the context survives only if it was never
	// located, per the consume-on-match rule.
	sel := autoSelect(week, offset)
	return sel, "target_day_unavailable", false
}

// fallbackSelection fetches the current week and applies the default
// auto-selection.
func (c *Controller) fallbackSelection(ctx context.Context, doctorID int, today time.Time) *Selection {
	week := c.fetcher.WeekSchedule(ctx, doctorID, availability.WeekStart(today, 0))
	return autoSelect(week, 0)
}

// autoSelect picks the first day with at least one available slot. Dates
// only; the user still picks a time.
func autoSelect(week []availability.DayAvailability, offset int) *Selection {
	sel := &Selection{WeekOffset: offset, Week: week}
	for _, day := range week {
		if day.HasAvailableSlot() {
			sel.SelectedDate = day.Date
			break
		}
	}
	return sel
}
