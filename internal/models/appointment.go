package models

import "time"

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Valid reports whether s is one of the known appointment states.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusPending, AppointmentStatusConfirmed, AppointmentStatusCompleted, AppointmentStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the appointment still holds its slot.
func (s AppointmentStatus) IsActive() bool {
	switch s {
	case AppointmentStatusPending, AppointmentStatusConfirmed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case AppointmentStatusCompleted, AppointmentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes the appointment state machine:
//
//	pending   -> confirmed | cancelled
//	confirmed -> completed | cancelled
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	switch s {
	case AppointmentStatusPending:
		return next == AppointmentStatusConfirmed || next == AppointmentStatusCancelled
	case AppointmentStatusConfirmed:
		return next == AppointmentStatusCompleted || next == AppointmentStatusCancelled
	case AppointmentStatusCompleted, AppointmentStatusCancelled:
		return false
	}
	return false
}

// ActiveAppointmentStatuses lists the statuses that keep a slot booked.
var ActiveAppointmentStatuses = []AppointmentStatus{AppointmentStatusPending, AppointmentStatusConfirmed}

// Appointment is a student's booking against a counselor time slot.
// Slot times and display names are read-model joins.
type Appointment struct {
	ID            string            `db:"id" json:"id"`
	StudentID     string            `db:"student_id" json:"student_id"`
	CounselorID   string            `db:"counselor_id" json:"counselor_id"`
	TimeSlotID    string            `db:"time_slot_id" json:"time_slot_id"`
	Status        AppointmentStatus `db:"status" json:"status"`
	Notes         string            `db:"notes" json:"notes"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
	StartTime     *time.Time        `db:"start_time" json:"start_time,omitempty"`
	EndTime       *time.Time        `db:"end_time" json:"end_time,omitempty"`
	StudentName   string            `db:"student_name" json:"student_name,omitempty"`
	CounselorName string            `db:"counselor_name" json:"counselor_name,omitempty"`
}

// SlotRange returns the joined slot interval, if the slot still exists.
func (a Appointment) SlotRange() (TimeRange, bool) {
	if a.StartTime == nil || a.EndTime == nil {
		return TimeRange{}, false
	}
	return TimeRange{Start: *a.StartTime, End: *a.EndTime}, true
}

// AppointmentFilter describes query params for the administrator listing.
type AppointmentFilter struct {
	StudentID   string
	CounselorID string
	Status      AppointmentStatus
	Page        int
	PageSize    int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
