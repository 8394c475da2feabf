package models

import "time"

// BookingAction names the appointment change that triggered a notification.
type BookingAction string

const (
	BookingActionCreated   BookingAction = "created"
	BookingActionConfirmed BookingAction = "confirmed"
	BookingActionCompleted BookingAction = "completed"
	BookingActionCancelled BookingAction = "cancelled"
)

// BookingEvent is delivered to notification sinks.
type BookingEvent struct {
	ID            string        `json:"id"`
	AppointmentID string        `json:"appointment_id"`
	Action        BookingAction `json:"action"`
	StudentID     string        `json:"student_id"`
	CounselorID   string        `json:"counselor_id"`
	StudentName   string        `json:"student_name"`
	CounselorName string        `json:"counselor_name"`
	SlotStart     *time.Time    `json:"slot_start,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}
