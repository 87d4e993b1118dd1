// Package bookingctx persists a guest's in-progress booking intent so it can
// be restored after the interrupting login.
package bookingctx

import "context"

// BookingContext is the saved record of a guest's appointment selection. The
// display fields (doctor name, specialization, fee) are snapshots, not
// authoritative; SelectedSlotTime is the stable matching key on restoration
// because SelectedSlotID is only a per-day index.
type BookingContext struct {
	DoctorID           int     `json:"doctorId"`
	DoctorName         string  `json:"doctorName"`
	SpecializationName string  `json:"specializationName"`
	SelectedDate       string  `json:"selectedDate"` // YYYY-MM-DD, local calendar day
	SelectedSlotID     int     `json:"selectedSlotId"`
	SelectedSlotTime   string  `json:"selectedSlotTime"` // HH:MM
	ConsultationFee    float64 `json:"consultationFee"`
	ReturnURL          string  `json:"returnUrl"`
}

// Store holds at most one BookingContext per session key. Writes overwrite;
// reads of malformed data report absence. Implementations never surface
// storage failures to callers: losing a booking intent only means the user
// re-selects, while an error here would block the booking page.
type Store interface {
	// Save stores the context, replacing any previous value.
	Save(ctx context.Context, sessionKey string, bc BookingContext)
	// Get returns the stored context, or ok=false when absent or malformed.
	Get(ctx context.Context, sessionKey string) (BookingContext, bool)
	// Clear removes the stored value. Clearing an empty slot is a no-op.
	Clear(ctx context.Context, sessionKey string)
}
