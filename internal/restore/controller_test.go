package restore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carevia/booking-gateway/internal/availability"
	"github.com/carevia/booking-gateway/internal/bookingctx"
	"github.com/carevia/booking-gateway/internal/telemedapi"
	"github.com/carevia/booking-gateway/pkg/logging"
)

// June 10 2024 is a Monday; "next week" starts June 17.
var testToday = time.Date(2024, 6, 10, 9, 30, 0, 0, time.Local)

type fakeDoctors struct {
	err   error
	calls int
}

func (f *fakeDoctors) GetDoctor(_ context.Context, doctorID int) (*telemedapi.Doctor, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &telemedapi.Doctor{ID: doctorID, Name: "Dr. Amara Singh", ConsultationDuration: 30, IsAvailable: true}, nil
}

// fakeSlots serves one slot list for every requested date unless the date has
// an override.
type fakeSlots struct {
	mu        sync.Mutex
	defaults  []telemedapi.BookableSlot
	overrides map[string][]telemedapi.BookableSlot
	requested []string
}

func (f *fakeSlots) GetBookableSlots(_ context.Context, doctorID int, date string) (*telemedapi.BookableSlots, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, date)
	slots := f.defaults
	if o, ok := f.overrides[date]; ok {
		slots = o
	}
	return &telemedapi.BookableSlots{
		DoctorID:             doctorID,
		Date:                 date,
		ConsultationDuration: 30,
		Slots:                slots,
	}, nil
}

func availableSlots() []telemedapi.BookableSlot {
	return []telemedapi.BookableSlot{
		{Time: "09:00", IsAvailable: true},
		{Time: "09:30", IsAvailable: true},
	}
}

var savedContext = bookingctx.BookingContext{
	DoctorID:         42,
	DoctorName:       "Dr. Amara Singh",
	SelectedDate:     "2024-06-17",
	SelectedSlotID:   0,
	SelectedSlotTime: "09:00",
	ReturnURL:        "/doctors/42/book?restore=1",
}

func newController(slots *fakeSlots, store bookingctx.Store) *Controller {
	logger := logging.New("error")
	fetcher := availability.NewFetcher(slots, logger, nil)
	return NewController(&fakeDoctors{}, fetcher, store, logger,
		WithClock(func() time.Time { return testToday }))
}

func TestResumeRestoresDateAndSlot(t *testing.T) {
	slots := &fakeSlots{defaults: availableSlots()}
	store := bookingctx.NewMemoryStore()
	store.Save(context.Background(), "sess-1", savedContext)
	c := newController(slots, store)

	sel, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)

	assert.Equal(t, 1, sel.WeekOffset, "window advances to the week containing the saved date")
	assert.Equal(t, "2024-06-17", sel.SelectedDate)
	assert.Equal(t, "09:00", sel.SelectedSlotTime)
	assert.True(t, sel.Restored)
	require.Len(t, sel.Week, 7)
	assert.Equal(t, "2024-06-17", sel.Week[0].Date)

	_, ok := store.Get(context.Background(), "sess-1")
	assert.False(t, ok, "context is consumed after restoration")
}

func TestResumeSlotTakenRestoresDateOnly(t *testing.T) {
	slots := &fakeSlots{
		defaults: availableSlots(),
		overrides: map[string][]telemedapi.BookableSlot{
			"2024-06-17": {
				{Time: "09:00", IsAvailable: false}, // booked while the guest was logging in
				{Time: "09:30", IsAvailable: true},
			},
		},
	}
	store := bookingctx.NewMemoryStore()
	store.Save(context.Background(), "sess-1", savedContext)
	c := newController(slots, store)

	sel, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)

	assert.Equal(t, "2024-06-17", sel.SelectedDate)
	assert.Empty(t, sel.SelectedSlotTime, "stale slot is not restored")
	assert.True(t, sel.Restored)

	_, ok := store.Get(context.Background(), "sess-1")
	assert.False(t, ok, "context is cleared even when only the date restores")
}

func TestResumeIsIdempotentPerSession(t *testing.T) {
	slots := &fakeSlots{defaults: availableSlots()}
	store := bookingctx.NewMemoryStore()
	store.Save(context.Background(), "sess-1", savedContext)
	c := newController(slots, store)

	first, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)
	fetchesAfterFirst := len(slots.requested)

	// A duplicate fetch-completion event must not re-select or re-clear.
	store.Save(context.Background(), "sess-1", savedContext) // even with a new context present
	second, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)

	assert.Same(t, first, second, "terminal state returns the published selection")
	assert.Equal(t, fetchesAfterFirst, len(slots.requested), "no second fetch cycle")
	_, ok := store.Get(context.Background(), "sess-1")
	assert.True(t, ok, "re-saved context is untouched by the guarded second call")
	assert.Equal(t, StateRestored, c.StateOf("sess-1", 42))
}

func TestResumeDoctorMismatchKeepsContext(t *testing.T) {
	slots := &fakeSlots{defaults: availableSlots()}
	store := bookingctx.NewMemoryStore()
	store.Save(context.Background(), "sess-1", savedContext) // saved for doctor 42
	c := newController(slots, store)

	sel, err := c.Resume(context.Background(), "sess-1", 7, true) // viewing doctor 7
	require.NoError(t, err)

	assert.False(t, sel.Restored)
	assert.Equal(t, 0, sel.WeekOffset)
	assert.Equal(t, "2024-06-10", sel.SelectedDate, "fallback auto-selects the first bookable day")

	got, ok := store.Get(context.Background(), "sess-1")
	require.True(t, ok, "context survives for a future visit to doctor 42")
	assert.Equal(t, savedContext, got)
}

func TestResumeUnauthenticatedSkipsAndStaysIdle(t *testing.T) {
	slots := &fakeSlots{defaults: availableSlots()}
	store := bookingctx.NewMemoryStore()
	store.Save(context.Background(), "sess-1", savedContext)
	c := newController(slots, store)

	sel, err := c.Resume(context.Background(), "sess-1", 42, false)
	require.NoError(t, err)
	assert.False(t, sel.Restored)
	_, ok := store.Get(context.Background(), "sess-1")
	assert.True(t, ok, "guest resume leaves the context alone")
	assert.Equal(t, StateIdle, c.StateOf("sess-1", 42), "guard stays armed until an authenticated visit")

	// The same session after login restores normally.
	sel, err = c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)
	assert.True(t, sel.Restored)
	assert.Equal(t, "09:00", sel.SelectedSlotTime)
}

func TestResumeNoContextFallsBackToFirstBookableDay(t *testing.T) {
	slots := &fakeSlots{
		defaults: availableSlots(),
		overrides: map[string][]telemedapi.BookableSlot{
			"2024-06-10": {{Time: "09:00", IsAvailable: false}},
			"2024-06-11": {},
		},
	}
	c := newController(slots, bookingctx.NewMemoryStore())

	sel, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)

	assert.False(t, sel.Restored)
	assert.Equal(t, "2024-06-12", sel.SelectedDate)
	assert.Empty(t, sel.SelectedSlotTime, "fallback never picks a time")
}

func TestResumePastDateKeepsCurrentWindow(t *testing.T) {
	slots := &fakeSlots{defaults: availableSlots()}
	store := bookingctx.NewMemoryStore()
	past := savedContext
	past.SelectedDate = "2024-06-03"
	store.Save(context.Background(), "sess-1", past)
	c := newController(slots, store)

	sel, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)

	assert.Equal(t, 0, sel.WeekOffset, "never navigate backward for a stale selection")
	assert.False(t, sel.Restored)
	assert.Equal(t, "2024-06-10", sel.Week[0].Date)
}

func TestResumeDoctorProfileFailureRetriesNextCall(t *testing.T) {
	slots := &fakeSlots{defaults: availableSlots()}
	store := bookingctx.NewMemoryStore()
	store.Save(context.Background(), "sess-1", savedContext)

	doctors := &fakeDoctors{err: errors.New("upstream down")}
	logger := logging.New("error")
	c := NewController(doctors, availability.NewFetcher(slots, logger, nil), store, logger,
		WithClock(func() time.Time { return testToday }))

	_, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.Error(t, err)
	assert.Equal(t, StateIdle, c.StateOf("sess-1", 42), "failure leaves the guard armed")
	_, ok := store.Get(context.Background(), "sess-1")
	assert.True(t, ok, "nothing consumed on failure")

	doctors.err = nil
	sel, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)
	assert.True(t, sel.Restored)
}

func TestResetReArmsGuard(t *testing.T) {
	slots := &fakeSlots{defaults: availableSlots()}
	store := bookingctx.NewMemoryStore()
	store.Save(context.Background(), "sess-1", savedContext)
	c := newController(slots, store)

	_, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)
	assert.Equal(t, StateRestored, c.StateOf("sess-1", 42))

	// Saving a fresh intent re-arms restoration for the next visit.
	store.Save(context.Background(), "sess-1", savedContext)
	c.Reset("sess-1", 42)
	assert.Equal(t, StateIdle, c.StateOf("sess-1", 42))

	sel, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)
	assert.True(t, sel.Restored)
}

// blockingDoctors parks each GetDoctor call on its own release channel so the
// test can interleave two resume cycles.
type blockingDoctors struct {
	calls    atomic.Int32
	release1 chan struct{}
	release2 chan struct{}
}

func (b *blockingDoctors) GetDoctor(_ context.Context, doctorID int) (*telemedapi.Doctor, error) {
	switch b.calls.Add(1) {
	case 1:
		<-b.release1
	case 2:
		<-b.release2
	}
	return &telemedapi.Doctor{ID: doctorID, Name: "Dr. Amara Singh"}, nil
}

func TestResumeSupersededCycleIsDiscarded(t *testing.T) {
	slots := &fakeSlots{defaults: availableSlots()}
	store := bookingctx.NewMemoryStore()
	store.Save(context.Background(), "sess-1", savedContext)

	doctors := &blockingDoctors{
		release1: make(chan struct{}),
		release2: make(chan struct{}),
	}
	logger := logging.New("error")
	c := NewController(doctors, availability.NewFetcher(slots, logger, nil), store, logger,
		WithClock(func() time.Time { return testToday }))

	type result struct {
		sel *Selection
		err error
	}
	firstDone := make(chan result, 1)
	go func() {
		sel, err := c.Resume(context.Background(), "sess-1", 42, true)
		firstDone <- result{sel, err}
	}()

	// Wait for the first cycle to park, then start a second cycle.
	require.Eventually(t, func() bool { return doctors.calls.Load() == 1 }, time.Second, time.Millisecond)
	secondDone := make(chan result, 1)
	go func() {
		sel, err := c.Resume(context.Background(), "sess-1", 42, true)
		secondDone <- result{sel, err}
	}()
	require.Eventually(t, func() bool { return doctors.calls.Load() == 2 }, time.Second, time.Millisecond)

	// The newer cycle completes first; the older one must be discarded.
	close(doctors.release2)
	second := <-secondDone
	require.NoError(t, second.err)
	assert.True(t, second.sel.Restored)

	close(doctors.release1)
	first := <-firstDone
	if first.err != nil {
		assert.ErrorIs(t, first.err, ErrSuperseded)
	} else {
		// The stale cycle may instead observe the terminal guard and echo
		// the published selection; either way nothing is overwritten.
		assert.Same(t, second.sel, first.sel)
	}
}

func TestEvictIdleSessionsDropsStaleGuards(t *testing.T) {
	slots := &fakeSlots{defaults: availableSlots()}
	store := bookingctx.NewMemoryStore()
	store.Save(context.Background(), "sess-1", savedContext)

	logger := logging.New("error")
	fetcher := availability.NewFetcher(slots, logger, nil)
	now := testToday
	c := NewController(&fakeDoctors{}, fetcher, store, logger,
		WithClock(func() time.Time { return now }))

	sel, err := c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)
	require.True(t, sel.Restored)
	require.Equal(t, StateRestored, c.StateOf("sess-1", 42))

	// A flood of unseen session keys must not pin memory forever.
	for _, key := range []string{"sess-2", "sess-3", "sess-4"} {
		_, err := c.Resume(context.Background(), key, 42, false)
		require.NoError(t, err)
	}

	now = now.Add(time.Hour)
	_, err = c.Resume(context.Background(), "sess-4", 42, false)
	require.NoError(t, err)

	evicted := c.EvictIdleSessions(30 * time.Minute)
	assert.Equal(t, 3, evicted, "guards idle past the cutoff are dropped")
	assert.Equal(t, 0, c.EvictIdleSessions(30*time.Minute), "recently touched guards survive")

	// An evicted session is a fresh page view: saving a new context and
	// resuming restores again.
	assert.Equal(t, StateIdle, c.StateOf("sess-1", 42))
	store.Save(context.Background(), "sess-1", savedContext)
	sel, err = c.Resume(context.Background(), "sess-1", 42, true)
	require.NoError(t, err)
	assert.True(t, sel.Restored)
}
