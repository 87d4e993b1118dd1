// Package telemedapi provides a client for the remote telemedicine REST API.
package telemedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/carevia/booking-gateway/pkg/logging"
)

// Doctor is the subset of the doctor profile this service consumes.
type Doctor struct {
	ID                   int     `json:"id"`
	Name                 string  `json:"name"`
	Specialization       string  `json:"specialization"`
	ConsultationFee      float64 `json:"consultation_fee"`
	ConsultationDuration int     `json:"consultation_duration"` // minutes
	IsAvailable          bool    `json:"is_available"`
}

// BookableSlot is a single time-of-day slot as returned by the remote service.
type BookableSlot struct {
	Time        string `json:"time"` // HH:MM
	IsAvailable bool   `json:"is_available"`
}

// BookableSlots is the remote response for one doctor on one date.
type BookableSlots struct {
	DoctorID             int            `json:"doctor_id"`
	Date                 string         `json:"date"` // YYYY-MM-DD
	ConsultationDuration int            `json:"consultation_duration"`
	Slots                []BookableSlot `json:"slots"`
}

// AppointmentRequest creates an appointment with a doctor.
type AppointmentRequest struct {
	DoctorID         int    `json:"doctor_id"`
	ScheduledDate    string `json:"scheduled_date"` // YYYY-MM-DD
	ScheduledTime    string `json:"scheduled_time"` // HH:MM
	ConsultationType string `json:"consultation_type"`
	Notes            string `json:"notes,omitempty"`
	Timezone         string `json:"timezone,omitempty"` // IANA name, e.g. "America/New_York"
}

// Appointment is the created appointment returned by the remote service.
type Appointment struct {
	ID              int     `json:"id"`
	DoctorID        int     `json:"doctor_id"`
	DoctorName      string  `json:"doctor_name"`
	Specialization  string  `json:"specialization"`
	ScheduledDate   string  `json:"scheduled_date"`
	ScheduledTime   string  `json:"scheduled_time"`
	Duration        int     `json:"duration"`
	AppointmentType string  `json:"appointment_type"`
	Status          string  `json:"status"`
	ConsultationFee float64 `json:"consultation_fee"`
}

// APIError is a non-2xx response from the remote service. Detail carries the
// remote's human-readable message and is shown to the user for booking
// failures.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("telemedapi: status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("telemedapi: status %d", e.StatusCode)
}

// UserMessage returns the remote's detail text, or a generic fallback when
// the remote provided none.
func (e *APIError) UserMessage() string {
	if e.Detail != "" {
		return e.Detail
	}
	return "Unable to complete the booking. Please try again."
}

// Client is an HTTP client for the telemedicine backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new telemedicine API client.
// baseURL should be the API root (e.g. "https://api.example.com").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetDoctor fetches a doctor's public profile.
func (c *Client) GetDoctor(ctx context.Context, doctorID int) (*Doctor, error) {
	endpoint := fmt.Sprintf("%s/api/v1/doctors/%d", c.baseURL, doctorID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("telemedapi: create doctor request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemedapi: doctor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var doctor Doctor
	if err := json.NewDecoder(resp.Body).Decode(&doctor); err != nil {
		return nil, fmt.Errorf("telemedapi: decode doctor response: %w", err)
	}

	return &doctor, nil
}

// GetBookableSlots fetches the bookable slots for a doctor on a single date.
// date must be a local calendar day in YYYY-MM-DD form.
func (c *Client) GetBookableSlots(ctx context.Context, doctorID int, date string) (*BookableSlots, error) {
	endpoint := fmt.Sprintf("%s/api/v1/doctors/%d/bookable-slots?target_date=%s",
		c.baseURL, doctorID, url.QueryEscape(date))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("telemedapi: create slots request: %w", err)
	}

	c.logger.Debug("fetching bookable slots", "doctor_id", doctorID, "date", date)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemedapi: slots request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var slots BookableSlots
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, fmt.Errorf("telemedapi: decode slots response: %w", err)
	}

	return &slots, nil
}

// CreateAppointment books an appointment on behalf of the authenticated
// patient. bearerToken is the patient's session token, forwarded as-is.
func (c *Client) CreateAppointment(ctx context.Context, bearerToken string, req AppointmentRequest) (*Appointment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("telemedapi: marshal appointment request: %w", err)
	}

	c.logger.Info("creating appointment",
		"doctor_id", req.DoctorID,
		"date", req.ScheduledDate,
		"time", req.ScheduledTime,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/appointments/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telemedapi: create appointment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("telemedapi: appointment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		apiErr := decodeAPIError(resp)
		c.logger.Warn("appointment creation rejected",
			"doctor_id", req.DoctorID,
			"status", resp.StatusCode,
			"detail", apiErr.Detail,
		)
		return nil, apiErr
	}

	var appt Appointment
	if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
		return nil, fmt.Errorf("telemedapi: decode appointment response: %w", err)
	}

	return &appt, nil
}

// decodeAPIError extracts the remote's {"detail": "..."} error payload. The
// detail field may be a string or a structured object; anything non-string is
// flattened to its JSON form.
func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || len(payload.Detail) == 0 {
		return apiErr
	}

	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		apiErr.Detail = detail
	} else {
		apiErr.Detail = string(payload.Detail)
	}

	return apiErr
}
