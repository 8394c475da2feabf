package models

import "time"

// SlotStatus is the lifecycle state of a counselor time slot.
type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusCancelled SlotStatus = "cancelled"
)

// Valid reports whether s is one of the known slot states.
func (s SlotStatus) Valid() bool {
	switch s {
	case SlotStatusAvailable, SlotStatusBooked, SlotStatusCancelled:
		return true
	}
	return false
}

// TimeSlot is a bookable window owned by one counselor.
type TimeSlot struct {
	ID            string     `db:"id" json:"id"`
	CounselorID   string     `db:"counselor_id" json:"counselor_id"`
	CounselorName string     `db:"counselor_name" json:"counselor_name,omitempty"`
	StartTime     time.Time  `db:"start_time" json:"start_time"`
	EndTime       time.Time  `db:"end_time" json:"end_time"`
	Status        SlotStatus `db:"status" json:"status"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Range returns the slot interval.
func (s TimeSlot) Range() TimeRange {
	return TimeRange{Start: s.StartTime, End: s.EndTime}
}

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Overlaps reports whether two half-open intervals share any instant.
// Touching boundaries do not overlap.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && r.End.After(other.Start)
}

// Contains reports whether other lies fully inside r.
func (r TimeRange) Contains(other TimeRange) bool {
	return !other.Start.Before(r.Start) && !other.End.After(r.End)
}

// SlotFilter narrows availability lookups.
type SlotFilter struct {
	CounselorID string
	From        time.Time
	To          time.Time
	Limit       int
}

// SlotBatchResult reports the outcome of a batch slot generation.
type SlotBatchResult struct {
	Created int         `json:"created"`
	Slots   []TimeSlot  `json:"slots"`
	Skipped []TimeRange `json:"skipped,omitempty"`
}
