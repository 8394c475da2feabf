package dto

import "time"

// CreateSlotRequest defines payload for publishing a single time slot.
// CounselorID is only honoured for administrators; counselors always publish their own slots.
type CreateSlotRequest struct {
	CounselorID string    `json:"counselorId"`
	StartTime   time.Time `json:"startTime" validate:"required"`
	EndTime     time.Time `json:"endTime" validate:"required"`
}

// CreateSlotBatchRequest defines payload for generating consecutive slots over a working window.
type CreateSlotBatchRequest struct {
	CounselorID     string    `json:"counselorId"`
	DayStart        time.Time `json:"dayStart" validate:"required"`
	DayEnd          time.Time `json:"dayEnd" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"required,gt=0"`
	BreakMinutes    int       `json:"breakMinutes" validate:"gte=0"`
}

// CreateAppointmentRequest defines payload for booking a slot.
type CreateAppointmentRequest struct {
	TimeSlotID string `json:"timeSlotId" validate:"required,uuid"`
	Notes      string `json:"notes" validate:"max=2000"`
}

// SweepResult reports how many expired slots were removed.
type SweepResult struct {
	Deleted int64 `json:"deleted"`
}

// PendingCountResponse wraps a counselor's pending appointment count.
type PendingCountResponse struct {
	Count int `json:"count"`
}

// ConflictResponse reports whether a student already holds an overlapping appointment.
type ConflictResponse struct {
	HasConflict bool `json:"hasConflict"`
}
