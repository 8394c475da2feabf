package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/counseling-booking-api/internal/models"
)

const timeSlotColumns = `ts.id, ts.counselor_id, COALESCE(u.full_name, '') AS counselor_name, ts.start_time, ts.end_time, ts.status, ts.created_at, ts.updated_at`

const timeSlotFrom = `FROM time_slots ts LEFT JOIN users u ON u.id = ts.counselor_id`

// TimeSlotRepository provides persistence for counselor time slots.
type TimeSlotRepository struct {
	db *sqlx.DB
}

// NewTimeSlotRepository creates a new time slot repository.
func NewTimeSlotRepository(db *sqlx.DB) *TimeSlotRepository {
	return &TimeSlotRepository{db: db}
}

func (r *TimeSlotRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new slot, assigning an id and timestamps when missing.
func (r *TimeSlotRepository) Create(ctx context.Context, exec sqlx.ExtContext, slot *models.TimeSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.Status == "" {
		slot.Status = models.SlotStatusAvailable
	}
	now := time.Now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now

	const query = `INSERT INTO time_slots (id, counselor_id, start_time, end_time, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.exec(exec).ExecContext(ctx, query, slot.ID, slot.CounselorID, slot.StartTime, slot.EndTime, slot.Status, slot.CreatedAt, slot.UpdatedAt); err != nil {
		return fmt.Errorf("insert time slot: %w", err)
	}
	return nil
}

// FindByID loads a slot by id. It returns sql.ErrNoRows when missing.
func (r *TimeSlotRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.TimeSlot, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE ts.id = $1", timeSlotColumns, timeSlotFrom)
	var slot models.TimeSlot
	if err := sqlx.GetContext(ctx, r.exec(exec), &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// LockCounselor serialises slot creation for a counselor until the surrounding transaction ends.
func (r *TimeSlotRepository) LockCounselor(ctx context.Context, exec sqlx.ExtContext, counselorID string) error {
	const query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := r.exec(exec).ExecContext(ctx, query, counselorID); err != nil {
		return fmt.Errorf("lock counselor slots: %w", err)
	}
	return nil
}

// HasOverlap reports whether the counselor owns a non-cancelled slot intersecting [start, end).
func (r *TimeSlotRepository) HasOverlap(ctx context.Context, exec sqlx.ExtContext, counselorID string, start, end time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM time_slots WHERE counselor_id = $1 AND status <> 'cancelled' AND start_time < $3 AND end_time > $2)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, counselorID, start, end); err != nil {
		return false, fmt.Errorf("check slot overlap: %w", err)
	}
	return exists, nil
}

// FindAvailable returns available slots fully contained in the filter window, earliest first.
func (r *TimeSlotRepository) FindAvailable(ctx context.Context, filter models.SlotFilter) ([]models.TimeSlot, error) {
	conditions := []string{"ts.status = 'available'", "ts.start_time >= $1", "ts.end_time <= $2"}
	args := []interface{}{filter.From, filter.To}
	if filter.CounselorID != "" {
		conditions = append(conditions, fmt.Sprintf("ts.counselor_id = $%d", len(args)+1))
		args = append(args, filter.CounselorID)
	}

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY ts.start_time ASC", timeSlotColumns, timeSlotFrom, strings.Join(conditions, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	slots := make([]models.TimeSlot, 0)
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("find available slots: %w", err)
	}
	return slots, nil
}

// ListByCounselor returns every slot owned by a counselor ordered by start.
func (r *TimeSlotRepository) ListByCounselor(ctx context.Context, counselorID string) ([]models.TimeSlot, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE ts.counselor_id = $1 ORDER BY ts.start_time ASC", timeSlotColumns, timeSlotFrom)
	slots := make([]models.TimeSlot, 0)
	if err := r.db.SelectContext(ctx, &slots, query, counselorID); err != nil {
		return nil, fmt.Errorf("list slots by counselor: %w", err)
	}
	return slots, nil
}

// CompareAndSetStatus moves a slot from one status to another. It returns
// ErrStatusMismatch when the slot is not currently in the expected status.
func (r *TimeSlotRepository) CompareAndSetStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.SlotStatus) error {
	const query = `UPDATE time_slots SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("compare and set slot status: %w", err)
	}
	return affectedOrMismatch(result, "slot status")
}

// SetStatus overwrites a slot status unconditionally.
func (r *TimeSlotRepository) SetStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.SlotStatus) error {
	const query = `UPDATE time_slots SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.exec(exec).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set slot status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("slot status rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteUnbooked removes a slot unless it is booked. It returns ErrStatusMismatch
// when the slot became booked in the meantime.
func (r *TimeSlotRepository) DeleteUnbooked(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `DELETE FROM time_slots WHERE id = $1 AND status <> 'booked'`
	result, err := r.exec(exec).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete time slot: %w", err)
	}
	return affectedOrMismatch(result, "delete slot")
}

// DeleteExpired removes slots that ended before the cutoff and are not booked.
func (r *TimeSlotRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM time_slots WHERE end_time < $1 AND status <> 'booked'`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired slots: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired slots rows affected: %w", err)
	}
	return affected, nil
}
