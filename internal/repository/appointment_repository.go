package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/counseling-booking-api/internal/models"
)

const appointmentSelect = `SELECT a.id, a.student_id, a.counselor_id, COALESCE(a.time_slot_id::text, '') AS time_slot_id, a.status, a.notes, a.created_at, a.updated_at, ts.start_time, ts.end_time, COALESCE(su.full_name, '') AS student_name, COALESCE(cu.full_name, '') AS counselor_name FROM appointments a LEFT JOIN time_slots ts ON ts.id = a.time_slot_id LEFT JOIN users su ON su.id = a.student_id LEFT JOIN users cu ON cu.id = a.counselor_id`

const appointmentOrder = ` ORDER BY ts.start_time DESC NULLS LAST, a.created_at DESC`

// AppointmentRepository provides persistence for appointments.
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository creates a new appointment repository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new appointment.
func (r *AppointmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.Status == "" {
		appt.Status = models.AppointmentStatusPending
	}
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now

	const query = `INSERT INTO appointments (id, student_id, counselor_id, time_slot_id, status, notes, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.exec(exec).ExecContext(ctx, query, appt.ID, appt.StudentID, appt.CounselorID, appt.TimeSlotID, appt.Status, appt.Notes, appt.CreatedAt, appt.UpdatedAt); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// FindByID loads an appointment with its slot times and participant names.
// It returns sql.ErrNoRows when missing.
func (r *AppointmentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Appointment, error) {
	query := appointmentSelect + ` WHERE a.id = $1`
	var appt models.Appointment
	if err := sqlx.GetContext(ctx, r.exec(exec), &appt, query, id); err != nil {
		return nil, err
	}
	return &appt, nil
}

// CountActiveBySlot counts pending or confirmed appointments referencing a slot.
func (r *AppointmentRepository) CountActiveBySlot(ctx context.Context, exec sqlx.ExtContext, slotID string) (int, error) {
	const query = `SELECT COUNT(*) FROM appointments WHERE time_slot_id = $1 AND status IN ('pending', 'confirmed')`
	var count int
	if err := sqlx.GetContext(ctx, r.exec(exec), &count, query, slotID); err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}
	return count, nil
}

// TransitionStatus moves an appointment from the observed status to the next one.
// It returns ErrStatusMismatch when another writer changed the status first.
func (r *AppointmentRepository) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AppointmentStatus) error {
	const query = `UPDATE appointments SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("transition appointment status: %w", err)
	}
	return affectedOrMismatch(result, "appointment status")
}

// ListByStudent returns a student's appointments, newest slot first.
func (r *AppointmentRepository) ListByStudent(ctx context.Context, studentID string, activeOnly bool) ([]models.Appointment, error) {
	query := appointmentSelect + ` WHERE a.student_id = $1`
	if activeOnly {
		query += ` AND a.status IN ('pending', 'confirmed')`
	}
	query += appointmentOrder
	appts := make([]models.Appointment, 0)
	if err := r.db.SelectContext(ctx, &appts, query, studentID); err != nil {
		return nil, fmt.Errorf("list appointments by student: %w", err)
	}
	return appts, nil
}

// ListByCounselor returns a counselor's appointments, newest slot first.
func (r *AppointmentRepository) ListByCounselor(ctx context.Context, counselorID string, activeOnly bool) ([]models.Appointment, error) {
	query := appointmentSelect + ` WHERE a.counselor_id = $1`
	if activeOnly {
		query += ` AND a.status IN ('pending', 'confirmed')`
	}
	query += appointmentOrder
	appts := make([]models.Appointment, 0)
	if err := r.db.SelectContext(ctx, &appts, query, counselorID); err != nil {
		return nil, fmt.Errorf("list appointments by counselor: %w", err)
	}
	return appts, nil
}

// ListByCounselorBetween returns non-cancelled appointments whose slot starts in [from, to).
func (r *AppointmentRepository) ListByCounselorBetween(ctx context.Context, counselorID string, from, to time.Time) ([]models.Appointment, error) {
	query := appointmentSelect + ` WHERE a.counselor_id = $1 AND a.status <> 'cancelled' AND ts.start_time >= $2 AND ts.start_time < $3 ORDER BY ts.start_time ASC`
	appts := make([]models.Appointment, 0)
	if err := r.db.SelectContext(ctx, &appts, query, counselorID, from, to); err != nil {
		return nil, fmt.Errorf("list counselor appointments in window: %w", err)
	}
	return appts, nil
}

// CountByCounselorStatus counts a counselor's appointments in one status.
func (r *AppointmentRepository) CountByCounselorStatus(ctx context.Context, counselorID string, status models.AppointmentStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM appointments WHERE counselor_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, counselorID, status); err != nil {
		return 0, fmt.Errorf("count counselor appointments: %w", err)
	}
	return count, nil
}

// HasStudentConflict reports whether the student holds a non-cancelled appointment
// whose slot intersects [start, end).
func (r *AppointmentRepository) HasStudentConflict(ctx context.Context, studentID string, start, end time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM appointments a JOIN time_slots ts ON ts.id = a.time_slot_id WHERE a.student_id = $1 AND a.status <> 'cancelled' AND ts.start_time < $3 AND ts.end_time > $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID, start, end); err != nil {
		return false, fmt.Errorf("check student conflict: %w", err)
	}
	return exists, nil
}

// List returns appointments with optional filtering and pagination.
func (r *AppointmentRepository) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CounselorID != "" {
		conditions = append(conditions, fmt.Sprintf("a.counselor_id = $%d", len(args)+1))
		args = append(args, filter.CounselorID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("%s%s%s LIMIT %d OFFSET %d", appointmentSelect, where, appointmentOrder, size, offset)
	appts := make([]models.Appointment, 0)
	if err := r.db.SelectContext(ctx, &appts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM appointments a" + where
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	return appts, total, nil
}
