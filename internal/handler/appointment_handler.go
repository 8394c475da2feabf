package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/counseling-booking-api/internal/dto"
	"github.com/noah-isme/counseling-booking-api/internal/models"
	appErrors "github.com/noah-isme/counseling-booking-api/pkg/errors"
	"github.com/noah-isme/counseling-booking-api/pkg/response"
)

type bookingService interface {
	CreateAppointmentAs(ctx context.Context, actor models.Actor, req dto.CreateAppointmentRequest) (*models.Appointment, error)
	ConfirmAppointment(ctx context.Context, appointmentID, counselorID string) (*models.Appointment, error)
	CompleteAppointment(ctx context.Context, appointmentID, counselorID string) (*models.Appointment, error)
	CancelAppointment(ctx context.Context, appointmentID, actingUserID string, actingRole models.UserRole) (*models.Appointment, error)
	HasConflict(ctx context.Context, studentID string, start, end time.Time) (bool, error)
	GetAppointment(ctx context.Context, actor models.Actor, appointmentID string) (*models.Appointment, error)
	ListForStudent(ctx context.Context, studentID string, activeOnly bool) ([]models.Appointment, error)
	ListForCounselor(ctx context.Context, counselorID string, activeOnly bool) ([]models.Appointment, error)
	TodayForCounselor(ctx context.Context, counselorID string) ([]models.Appointment, error)
	PendingCount(ctx context.Context, counselorID string) (int, error)
	ListAppointments(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, *models.Pagination, error)
}

// AppointmentHandler exposes the booking engine.
type AppointmentHandler struct {
	service bookingService
}

// NewAppointmentHandler builds a new handler.
func NewAppointmentHandler(service bookingService) *AppointmentHandler {
	return &AppointmentHandler{service: service}
}

// Create godoc
// @Summary Book a slot
// @Tags Appointments
// @Accept json
// @Produce json
// @Param payload body dto.CreateAppointmentRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments [post]
func (h *AppointmentHandler) Create(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid appointment payload"))
		return
	}
	appt, err := h.service.CreateAppointmentAs(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, appt)
}

// List godoc
// @Summary List appointments (administrators)
// @Tags Appointments
// @Produce json
// @Param status query string false "Status filter"
// @Param studentId query string false "Student filter"
// @Param counselorId query string false "Counselor filter"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /appointments [get]
func (h *AppointmentHandler) List(c *gin.Context) {
	filter := models.AppointmentFilter{
		StudentID:   c.Query("studentId"),
		CounselorID: c.Query("counselorId"),
		Status:      models.AppointmentStatus(c.Query("status")),
		Page:        intQuery(c, "page", 1),
		PageSize:    intQuery(c, "pageSize", 20),
	}
	for key, value := range map[string]string{"studentId": filter.StudentID, "counselorId": filter.CounselorID} {
		if err := checkUUID(key, value); err != nil {
			response.Error(c, err)
			return
		}
	}
	appts, pagination, err := h.service.ListAppointments(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appts, pagination)
}

// Get godoc
// @Summary Get an appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /appointments/{id} [get]
func (h *AppointmentHandler) Get(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	appt, err := h.service.GetAppointment(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, appt)
}

// Confirm godoc
// @Summary Confirm a pending appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments/{id}/confirm [post]
func (h *AppointmentHandler) Confirm(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	appt, err := h.service.ConfirmAppointment(c.Request.Context(), c.Param("id"), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, appt)
}

// Complete godoc
// @Summary Complete a confirmed appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments/{id}/complete [post]
func (h *AppointmentHandler) Complete(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	appt, err := h.service.CompleteAppointment(c.Request.Context(), c.Param("id"), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, appt)
}

// Cancel godoc
// @Summary Cancel an active appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments/{id}/cancel [post]
func (h *AppointmentHandler) Cancel(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	appt, err := h.service.CancelAppointment(c.Request.Context(), c.Param("id"), actor.UserID, actor.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, appt)
}

// MyStudentAppointments godoc
// @Summary List the calling student's appointments
// @Tags Students
// @Produce json
// @Param active query bool false "Only pending/confirmed"
// @Success 200 {object} response.Envelope
// @Router /students/me/appointments [get]
func (h *AppointmentHandler) MyStudentAppointments(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	appts, err := h.service.ListForStudent(c.Request.Context(), actor.UserID, boolQuery(c, "active"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, appts)
}

// MyConflicts godoc
// @Summary Check whether the calling student is busy in a window
// @Tags Students
// @Produce json
// @Param start query string true "Window start (RFC3339)"
// @Param end query string true "Window end (RFC3339)"
// @Success 200 {object} response.Envelope
// @Router /students/me/conflicts [get]
func (h *AppointmentHandler) MyConflicts(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	start, err := timeQuery(c, "start", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	end, err := timeQuery(c, "end", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	conflict, err := h.service.HasConflict(c.Request.Context(), actor.UserID, start, end)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ConflictResponse{HasConflict: conflict})
}

// MyCounselorAppointments godoc
// @Summary List the calling counselor's appointments
// @Tags Counselors
// @Produce json
// @Param active query bool false "Only pending/confirmed"
// @Success 200 {object} response.Envelope
// @Router /counselors/me/appointments [get]
func (h *AppointmentHandler) MyCounselorAppointments(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	appts, err := h.service.ListForCounselor(c.Request.Context(), actor.UserID, boolQuery(c, "active"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, appts)
}

// Today godoc
// @Summary List the calling counselor's appointments for today
// @Tags Counselors
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /counselors/me/appointments/today [get]
func (h *AppointmentHandler) Today(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	appts, err := h.service.TodayForCounselor(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, appts)
}

// PendingCount godoc
// @Summary Count the calling counselor's pending appointments
// @Tags Counselors
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /counselors/me/appointments/pending-count [get]
func (h *AppointmentHandler) PendingCount(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	count, err := h.service.PendingCount(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.PendingCountResponse{Count: count})
}
