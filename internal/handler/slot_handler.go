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

type slotService interface {
	CreateSlotAs(ctx context.Context, actor models.Actor, req dto.CreateSlotRequest) (*models.TimeSlot, error)
	CreateBatchAs(ctx context.Context, actor models.Actor, req dto.CreateSlotBatchRequest) (*models.SlotBatchResult, error)
	FindAvailable(ctx context.Context, counselorID string, from, to time.Time) ([]models.TimeSlot, error)
	ListRecentAvailable(ctx context.Context, limit int) ([]models.TimeSlot, error)
	SlotsForDay(ctx context.Context, counselorID string, day time.Time) ([]models.TimeSlot, error)
	ListByCounselor(ctx context.Context, counselorID string) ([]models.TimeSlot, error)
	DeleteSlotAs(ctx context.Context, actor models.Actor, slotID string) error
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// SlotHandler exposes the time slot registry.
type SlotHandler struct {
	service slotService
	now     func() time.Time
}

// NewSlotHandler builds a new handler.
func NewSlotHandler(service slotService) *SlotHandler {
	return &SlotHandler{service: service, now: time.Now}
}

// Create godoc
// @Summary Publish a time slot
// @Tags Slots
// @Accept json
// @Produce json
// @Param payload body dto.CreateSlotRequest true "Slot payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /slots [post]
func (h *SlotHandler) Create(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid slot payload"))
		return
	}
	slot, err := h.service.CreateSlotAs(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// CreateBatch godoc
// @Summary Generate consecutive slots over a working window
// @Tags Slots
// @Accept json
// @Produce json
// @Param payload body dto.CreateSlotBatchRequest true "Batch payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /slots/batch [post]
func (h *SlotHandler) CreateBatch(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateSlotBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch payload"))
		return
	}
	result, err := h.service.CreateBatchAs(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Available godoc
// @Summary Find available slots
// @Description With from/to returns slots fully inside the window; with only date returns that local day.
// @Tags Slots
// @Produce json
// @Param counselorId query string false "Counselor filter"
// @Param from query string false "Window start (RFC3339)"
// @Param to query string false "Window end (RFC3339)"
// @Param date query string false "Local day (YYYY-MM-DD), requires counselorId"
// @Success 200 {object} response.Envelope
// @Router /slots/available [get]
func (h *SlotHandler) Available(c *gin.Context) {
	counselorID := c.Query("counselorId")
	if err := checkUUID("counselorId", counselorID); err != nil {
		response.Error(c, err)
		return
	}
	if date := c.Query("date"); date != "" {
		if counselorID == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "counselorId is required with date"))
			return
		}
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date must be YYYY-MM-DD"))
			return
		}
		slots, err := h.service.SlotsForDay(c.Request.Context(), counselorID, day)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, slots)
		return
	}

	from, err := timeQuery(c, "from", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := timeQuery(c, "to", true)
	if err != nil {
		response.Error(c, err)
		return
	}
	slots, err := h.service.FindAvailable(c.Request.Context(), counselorID, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, slots)
}

// Recent godoc
// @Summary List upcoming available slots
// @Tags Slots
// @Produce json
// @Param limit query int false "Maximum slots (default 50)"
// @Success 200 {object} response.Envelope
// @Router /slots/recent [get]
func (h *SlotHandler) Recent(c *gin.Context) {
	slots, err := h.service.ListRecentAvailable(c.Request.Context(), intQuery(c, "limit", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, slots)
}

// ListByCounselor godoc
// @Summary List a counselor's slots
// @Tags Slots
// @Produce json
// @Param id path string true "Counselor ID"
// @Success 200 {object} response.Envelope
// @Router /counselors/{id}/slots [get]
func (h *SlotHandler) ListByCounselor(c *gin.Context) {
	counselorID := c.Param("id")
	if err := checkUUID("id", counselorID); err != nil {
		response.Error(c, err)
		return
	}
	slots, err := h.service.ListByCounselor(c.Request.Context(), counselorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, slots)
}

// Delete godoc
// @Summary Delete an unbooked slot
// @Tags Slots
// @Param id path string true "Slot ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /slots/{id} [delete]
func (h *SlotHandler) Delete(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.DeleteSlotAs(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Sweep godoc
// @Summary Delete expired, never-booked slots
// @Tags Slots
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /slots/sweep [post]
func (h *SlotHandler) Sweep(c *gin.Context) {
	deleted, err := h.service.SweepExpired(c.Request.Context(), h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.SweepResult{Deleted: deleted})
}
