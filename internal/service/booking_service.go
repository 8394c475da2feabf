package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/counseling-booking-api/internal/dto"
	"github.com/noah-isme/counseling-booking-api/internal/models"
	"github.com/noah-isme/counseling-booking-api/internal/repository"
	"github.com/noah-isme/counseling-booking-api/pkg/database"
	appErrors "github.com/noah-isme/counseling-booking-api/pkg/errors"
)

const activeSlotIndex = "uq_appointments_active_slot"

type appointmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Appointment, error)
	CountActiveBySlot(ctx context.Context, exec sqlx.ExtContext, slotID string) (int, error)
	TransitionStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AppointmentStatus) error
	ListByStudent(ctx context.Context, studentID string, activeOnly bool) ([]models.Appointment, error)
	ListByCounselor(ctx context.Context, counselorID string, activeOnly bool) ([]models.Appointment, error)
	ListByCounselorBetween(ctx context.Context, counselorID string, from, to time.Time) ([]models.Appointment, error)
	CountByCounselorStatus(ctx context.Context, counselorID string, status models.AppointmentStatus) (int, error)
	HasStudentConflict(ctx context.Context, studentID string, start, end time.Time) (bool, error)
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error)
}

type slotRegistry interface {
	FindSlot(ctx context.Context, exec sqlx.ExtContext, slotID string) (*models.TimeSlot, error)
	ReserveSlot(ctx context.Context, exec sqlx.ExtContext, slotID string) error
	ReleaseSlot(ctx context.Context, exec sqlx.ExtContext, slotID string) error
	InvalidateAvailability(ctx context.Context)
	Location() *time.Location
}

type bookingNotifier interface {
	Publish(event models.BookingEvent)
}

// BookingService is the appointment engine. It keeps slot status and
// appointment status paired inside a single transaction per operation.
type BookingService struct {
	appointments appointmentStore
	slots        slotRegistry
	tx           txRunner
	notifier     bookingNotifier
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewBookingService wires the booking engine.
func NewBookingService(
	appointments appointmentStore,
	slots slotRegistry,
	tx txRunner,
	notifier bookingNotifier,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{
		appointments: appointments,
		slots:        slots,
		tx:           tx,
		notifier:     notifier,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateAppointment books an available slot for a student.
func (s *BookingService) CreateAppointment(ctx context.Context, studentID, slotID, notes string) (appt *models.Appointment, err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveBookingOperation("create_appointment", err, time.Since(began)) }()

	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	if !validID(slotID) {
		return nil, appErrors.ErrSlotNotFound
	}

	err = s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		slot, err := s.slots.FindSlot(ctx, exec, slotID)
		if err != nil {
			return err
		}
		if slot.Status != models.SlotStatusAvailable {
			return appErrors.ErrSlotUnavailable
		}
		active, err := s.appointments.CountActiveBySlot(ctx, exec, slotID)
		if err != nil {
			return err
		}
		if active > 0 {
			return appErrors.ErrAlreadyBooked
		}
		if err := s.slots.ReserveSlot(ctx, exec, slotID); err != nil {
			return err
		}

		appt = &models.Appointment{
			StudentID:     studentID,
			CounselorID:   slot.CounselorID,
			TimeSlotID:    slot.ID,
			Status:        models.AppointmentStatusPending,
			Notes:         notes,
			CounselorName: slot.CounselorName,
		}
		if err := s.appointments.Create(ctx, exec, appt); err != nil {
			return err
		}
		start, end := slot.StartTime, slot.EndTime
		appt.StartTime = &start
		appt.EndTime = &end
		return nil
	})
	if err != nil {
		return nil, translateBookingWrite(err, "failed to create appointment")
	}

	s.logger.Info("appointment created",
		zap.String("appointment_id", appt.ID),
		zap.String("slot_id", slotID),
		zap.String("student_id", studentID),
		zap.String("counselor_id", appt.CounselorID),
	)
	s.slots.InvalidateAvailability(ctx)
	s.notify(appt, models.BookingActionCreated)
	return appt, nil
}

// CreateAppointmentAs validates a booking request from a student.
func (s *BookingService) CreateAppointmentAs(ctx context.Context, actor models.Actor, req dto.CreateAppointmentRequest) (*models.Appointment, error) {
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can book appointments")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid appointment payload")
	}
	return s.CreateAppointment(ctx, actor.UserID, req.TimeSlotID, req.Notes)
}

// ConfirmAppointment moves a pending appointment to confirmed. Only the owning counselor may confirm.
func (s *BookingService) ConfirmAppointment(ctx context.Context, appointmentID, counselorID string) (appt *models.Appointment, err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveBookingOperation("confirm_appointment", err, time.Since(began)) }()

	appt, err = s.transition(ctx, appointmentID, ownedByCounselor(counselorID), models.AppointmentStatusConfirmed, false)
	if err != nil {
		return nil, err
	}
	s.notify(appt, models.BookingActionConfirmed)
	return appt, nil
}

// CompleteAppointment moves a confirmed appointment to completed. Only the owning counselor may complete.
func (s *BookingService) CompleteAppointment(ctx context.Context, appointmentID, counselorID string) (appt *models.Appointment, err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveBookingOperation("complete_appointment", err, time.Since(began)) }()

	appt, err = s.transition(ctx, appointmentID, ownedByCounselor(counselorID), models.AppointmentStatusCompleted, false)
	if err != nil {
		return nil, err
	}
	s.notify(appt, models.BookingActionCompleted)
	return appt, nil
}

// CancelAppointment cancels an active appointment and frees its slot. Students may
// only cancel their own appointments; counselors and administrators may cancel any.
func (s *BookingService) CancelAppointment(ctx context.Context, appointmentID, actingUserID string, actingRole models.UserRole) (appt *models.Appointment, err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveBookingOperation("cancel_appointment", err, time.Since(began)) }()

	authorize := func(a *models.Appointment) error {
		switch actingRole {
		case models.RoleStudent:
			if a.StudentID != actingUserID {
				return appErrors.Clone(appErrors.ErrForbidden, "students may only cancel their own appointments")
			}
			return nil
		case models.RoleCounselor, models.RoleAdmin:
			return nil
		default:
			return appErrors.ErrForbidden
		}
	}

	appt, err = s.transition(ctx, appointmentID, authorize, models.AppointmentStatusCancelled, true)
	if err != nil {
		return nil, err
	}
	s.slots.InvalidateAvailability(ctx)
	s.notify(appt, models.BookingActionCancelled)
	return appt, nil
}

func (s *BookingService) transition(
	ctx context.Context,
	appointmentID string,
	authorize func(*models.Appointment) error,
	to models.AppointmentStatus,
	releaseSlot bool,
) (*models.Appointment, error) {
	var appt *models.Appointment
	err := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		current, err := s.loadAppointment(ctx, exec, appointmentID)
		if err != nil {
			return err
		}
		if err := authorize(current); err != nil {
			return err
		}
		from := current.Status
		if !from.CanTransitionTo(to) {
			return appErrors.ErrInvalidTransition
		}
		if err := s.appointments.TransitionStatus(ctx, exec, current.ID, from, to); err != nil {
			if errors.Is(err, repository.ErrStatusMismatch) {
				return appErrors.ErrInvalidTransition
			}
			return err
		}
		if releaseSlot && current.TimeSlotID != "" {
			if err := s.slots.ReleaseSlot(ctx, exec, current.TimeSlotID); err != nil {
				return err
			}
		}
		current.Status = to
		current.UpdatedAt = s.now().UTC()
		appt = current
		return nil
	})
	if err != nil {
		return nil, translateBookingWrite(err, "failed to update appointment")
	}

	s.logger.Info("appointment status changed",
		zap.String("appointment_id", appt.ID),
		zap.String("slot_id", appt.TimeSlotID),
		zap.String("status", string(to)),
	)
	return appt, nil
}

// HasConflict reports whether the student already holds a non-cancelled appointment overlapping [start, end).
func (s *BookingService) HasConflict(ctx context.Context, studentID string, start, end time.Time) (bool, error) {
	if !start.Before(end) {
		return false, appErrors.Clone(appErrors.ErrInvalidRange, "start must be before end")
	}
	conflict, err := s.appointments.HasStudentConflict(ctx, studentID, start, end)
	if err != nil {
		return false, appErrors.Storage(err, "failed to check appointment conflicts")
	}
	return conflict, nil
}

// GetAppointment loads an appointment visible to the actor.
func (s *BookingService) GetAppointment(ctx context.Context, actor models.Actor, appointmentID string) (*models.Appointment, error) {
	appt, err := s.loadAppointment(ctx, nil, appointmentID)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Role == models.RoleAdmin:
	case actor.Role == models.RoleStudent && appt.StudentID == actor.UserID:
	case actor.Role == models.RoleCounselor && appt.CounselorID == actor.UserID:
	default:
		return nil, appErrors.ErrForbidden
	}
	return appt, nil
}

// ListForStudent returns a student's appointments, newest slot first.
func (s *BookingService) ListForStudent(ctx context.Context, studentID string, activeOnly bool) ([]models.Appointment, error) {
	appts, err := s.appointments.ListByStudent(ctx, studentID, activeOnly)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list student appointments")
	}
	return appts, nil
}

// ListForCounselor returns a counselor's appointments, newest slot first.
func (s *BookingService) ListForCounselor(ctx context.Context, counselorID string, activeOnly bool) ([]models.Appointment, error) {
	appts, err := s.appointments.ListByCounselor(ctx, counselorID, activeOnly)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list counselor appointments")
	}
	return appts, nil
}

// TodayForCounselor returns the counselor's non-cancelled appointments starting today
// in the configured zone, earliest first.
func (s *BookingService) TodayForCounselor(ctx context.Context, counselorID string) ([]models.Appointment, error) {
	from, to := dayWindow(s.now(), s.slots.Location())
	appts, err := s.appointments.ListByCounselorBetween(ctx, counselorID, from, to)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list today's appointments")
	}
	return appts, nil
}

// PendingCount returns how many pending appointments await the counselor.
func (s *BookingService) PendingCount(ctx context.Context, counselorID string) (int, error) {
	count, err := s.appointments.CountByCounselorStatus(ctx, counselorID, models.AppointmentStatusPending)
	if err != nil {
		return 0, appErrors.Storage(err, "failed to count pending appointments")
	}
	return count, nil
}

// ListAppointments returns the administrator listing.
func (s *BookingService) ListAppointments(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown appointment status")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	appts, total, err := s.appointments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Storage(err, "failed to list appointments")
	}
	return appts, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *BookingService) loadAppointment(ctx context.Context, exec sqlx.ExtContext, appointmentID string) (*models.Appointment, error) {
	if !validID(appointmentID) {
		return nil, appErrors.ErrAppointmentNotFound
	}
	appt, err := s.appointments.FindByID(ctx, exec, appointmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAppointmentNotFound
		}
		return nil, appErrors.Storage(err, "failed to load appointment")
	}
	return appt, nil
}

func (s *BookingService) notify(appt *models.Appointment, action models.BookingAction) {
	if s.notifier == nil || appt == nil {
		return
	}
	s.notifier.Publish(models.BookingEvent{
		AppointmentID: appt.ID,
		Action:        action,
		StudentID:     appt.StudentID,
		CounselorID:   appt.CounselorID,
		StudentName:   appt.StudentName,
		CounselorName: appt.CounselorName,
		SlotStart:     appt.StartTime,
		OccurredAt:    s.now().UTC(),
	})
}

func ownedByCounselor(counselorID string) func(*models.Appointment) error {
	return func(a *models.Appointment) error {
		if a.CounselorID != counselorID {
			return appErrors.Clone(appErrors.ErrForbidden, "appointment belongs to another counselor")
		}
		return nil
	}
}

func translateBookingWrite(err error, message string) error {
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	if database.IsConstraintViolation(err, database.CodeUniqueViolation, activeSlotIndex) {
		return appErrors.ErrAlreadyBooked
	}
	if database.IsConstraintViolation(err, database.CodeForeignKeyViolation, "") {
		return appErrors.Clone(appErrors.ErrValidation, "student or counselor is not registered")
	}
	if database.IsConstraintViolation(err, database.CodeInvalidTextValue, "") {
		return appErrors.Clone(appErrors.ErrValidation, "malformed identifier")
	}
	return appErrors.Storage(err, message)
}
