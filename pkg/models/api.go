package models

// BookingEvent is the inbound payload from the external scheduling tool.
// The scheduler cannot distinguish 4xx from "please retry", so semantic
// rejections of this payload are reported with HTTP 200 (see BookingResult).
type BookingEvent struct {
	EventType string         `json:"event_type"`
	Payload   BookingPayload `json:"payload"`
}

// BookingPayload carries the loose identifiers the scheduler knows about.
type BookingPayload struct {
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	EventName     string `json:"event_name"`
	ScheduledTime string `json:"scheduled_time"`
	Status        string `json:"status"`
	BookingID     string `json:"booking_id"`
}

// BookingResult is the always-200 response to a booking event.
type BookingResult struct {
	Verified      bool   `json:"verified"`
	Reason        string `json:"reason,omitempty"`
	AppointmentID string `json:"appointmentId,omitempty"`
}

// DisputeRequest opens a dispute against a verified appointment.
type DisputeRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	Reason        string `json:"reason" validate:"required"`
	Description   string `json:"description" validate:"required,min=10"`
	Evidence      string `json:"evidence,omitempty"`
}

// RatingRequest rates a verified appointment.
type RatingRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	Score         int    `json:"score" validate:"required,min=1,max=5"`
	Review        string `json:"review,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
