package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/counseling-booking-api/internal/dto"
	"github.com/noah-isme/counseling-booking-api/internal/models"
	"github.com/noah-isme/counseling-booking-api/internal/repository"
	"github.com/noah-isme/counseling-booking-api/pkg/config"
	"github.com/noah-isme/counseling-booking-api/pkg/database"
	appErrors "github.com/noah-isme/counseling-booking-api/pkg/errors"
)

const (
	defaultMinSlotDuration = 30 * time.Minute
	recentAvailableWindow  = 14 * 24 * time.Hour
	defaultRecentLimit     = 50
	maxRecentLimit         = 200
	maxBatchSlots          = 500

	slotOverlapConstraint = "time_slots_no_overlap"
)

type txRunner interface {
	WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error
}

type slotStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, slot *models.TimeSlot) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.TimeSlot, error)
	LockCounselor(ctx context.Context, exec sqlx.ExtContext, counselorID string) error
	HasOverlap(ctx context.Context, exec sqlx.ExtContext, counselorID string, start, end time.Time) (bool, error)
	FindAvailable(ctx context.Context, filter models.SlotFilter) ([]models.TimeSlot, error)
	ListByCounselor(ctx context.Context, counselorID string) ([]models.TimeSlot, error)
	CompareAndSetStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.SlotStatus) error
	SetStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.SlotStatus) error
	DeleteUnbooked(ctx context.Context, exec sqlx.ExtContext, id string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type availabilityCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
	Generation(ctx context.Context, key string) (int64, error)
	BumpGeneration(ctx context.Context, key string) error
}

// TimeSlotService is the registry of counselor time slots.
type TimeSlotService struct {
	slots       slotStore
	tx          txRunner
	cache       availabilityCache
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	minDuration time.Duration
	cacheTTL    time.Duration
	location    *time.Location
	now         func() time.Time
}

// NewTimeSlotService wires the slot registry.
func NewTimeSlotService(
	slots slotStore,
	tx txRunner,
	cache availabilityCache,
	metrics *MetricsService,
	cfg config.BookingConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *TimeSlotService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	minDuration := cfg.MinSlotDuration
	if minDuration < defaultMinSlotDuration {
		minDuration = defaultMinSlotDuration
	}
	return &TimeSlotService{
		slots:       slots,
		tx:          tx,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		minDuration: minDuration,
		cacheTTL:    cfg.AvailabilityCacheTTL,
		location:    cfg.Location(),
		now:         time.Now,
	}
}

// Location returns the reference zone used for day windows.
func (s *TimeSlotService) Location() *time.Location {
	return s.location
}

// CreateSlot publishes an available slot for a counselor.
func (s *TimeSlotService) CreateSlot(ctx context.Context, counselorID string, start, end time.Time) (slot *models.TimeSlot, err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveBookingOperation("create_slot", err, time.Since(began)) }()

	if counselorID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "counselor id is required")
	}
	if err = s.checkRange(start, end); err != nil {
		return nil, err
	}

	slot = &models.TimeSlot{
		CounselorID: counselorID,
		StartTime:   start,
		EndTime:     end,
		Status:      models.SlotStatusAvailable,
	}
	err = s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		return s.insertSlot(ctx, exec, slot)
	})
	if err != nil {
		return nil, s.translateSlotWrite(err, "failed to create time slot")
	}

	s.logger.Info("time slot created",
		zap.String("slot_id", slot.ID),
		zap.String("counselor_id", counselorID),
		zap.Time("start", start),
		zap.Time("end", end),
	)
	s.InvalidateAvailability(ctx)
	return slot, nil
}

// CreateSlotAs validates a request and creates a slot on behalf of the actor.
func (s *TimeSlotService) CreateSlotAs(ctx context.Context, actor models.Actor, req dto.CreateSlotRequest) (*models.TimeSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	counselorID, err := slotOwnerFor(actor, req.CounselorID)
	if err != nil {
		return nil, err
	}
	return s.CreateSlot(ctx, counselorID, req.StartTime, req.EndTime)
}

// CreateBatch generates consecutive slots [cur, cur+duration) across a working window,
// advancing by duration plus the break. Overlapping candidates are skipped.
func (s *TimeSlotService) CreateBatch(ctx context.Context, counselorID string, dayStart, dayEnd time.Time, duration, gap time.Duration) (result *models.SlotBatchResult, err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveBookingOperation("create_batch", err, time.Since(began)) }()

	if counselorID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "counselor id is required")
	}
	if !dayStart.Before(dayEnd) {
		return nil, appErrors.Clone(appErrors.ErrInvalidRange, "day start must be before day end")
	}
	if duration < s.minDuration {
		return nil, appErrors.Clone(appErrors.ErrInvalidRange, fmt.Sprintf("slot duration must be at least %s", s.minDuration))
	}
	if gap < 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidRange, "break between slots cannot be negative")
	}
	if n := batchSize(dayStart, dayEnd, duration, gap); n > maxBatchSlots {
		return nil, appErrors.Clone(appErrors.ErrInvalidRange, fmt.Sprintf("window would generate %d slots, at most %d allowed", n, maxBatchSlots))
	}

	result = &models.SlotBatchResult{Slots: make([]models.TimeSlot, 0)}
	for cur := dayStart; !cur.Add(duration).After(dayEnd); cur = cur.Add(duration + gap) {
		slot := &models.TimeSlot{
			CounselorID: counselorID,
			StartTime:   cur,
			EndTime:     cur.Add(duration),
			Status:      models.SlotStatusAvailable,
		}
		txErr := s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
			return s.insertSlot(ctx, exec, slot)
		})
		if txErr != nil {
			translated := s.translateSlotWrite(txErr, "failed to create time slot")
			if appErrors.HasCode(translated, appErrors.ErrSlotConflict.Code) {
				result.Skipped = append(result.Skipped, slot.Range())
				continue
			}
			return nil, translated
		}
		result.Created++
		result.Slots = append(result.Slots, *slot)
	}

	s.logger.Info("time slot batch generated",
		zap.String("counselor_id", counselorID),
		zap.Int("created", result.Created),
		zap.Int("skipped", len(result.Skipped)),
	)
	if result.Created > 0 {
		s.InvalidateAvailability(ctx)
	}
	return result, nil
}

// CreateBatchAs validates a batch request and generates slots on behalf of the actor.
func (s *TimeSlotService) CreateBatchAs(ctx context.Context, actor models.Actor, req dto.CreateSlotBatchRequest) (*models.SlotBatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	counselorID, err := slotOwnerFor(actor, req.CounselorID)
	if err != nil {
		return nil, err
	}
	duration := time.Duration(req.DurationMinutes) * time.Minute
	gap := time.Duration(req.BreakMinutes) * time.Minute
	return s.CreateBatch(ctx, counselorID, req.DayStart, req.DayEnd, duration, gap)
}

// FindAvailable returns available slots fully inside [from, to], earliest first.
// An empty counselor id searches across all counselors.
func (s *TimeSlotService) FindAvailable(ctx context.Context, counselorID string, from, to time.Time) ([]models.TimeSlot, error) {
	if !from.Before(to) {
		return nil, appErrors.Clone(appErrors.ErrInvalidRange, "range start must be before range end")
	}
	return s.findAvailable(ctx, models.SlotFilter{CounselorID: counselorID, From: from, To: to})
}

// ListRecentAvailable returns upcoming available slots over the next two weeks.
func (s *TimeSlotService) ListRecentAvailable(ctx context.Context, limit int) ([]models.TimeSlot, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	now := s.now().Truncate(time.Minute)
	return s.findAvailable(ctx, models.SlotFilter{From: now, To: now.Add(recentAvailableWindow), Limit: limit})
}

// SlotsForDay returns a counselor's available slots on the calendar date of day,
// interpreted in the configured zone.
func (s *TimeSlotService) SlotsForDay(ctx context.Context, counselorID string, day time.Time) ([]models.TimeSlot, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.location)
	to := from.Add(24 * time.Hour)
	return s.findAvailable(ctx, models.SlotFilter{CounselorID: counselorID, From: from, To: to})
}

// findAvailable reads through the cache. The key carries the availability
// generation read before the query, so a result loaded before a concurrent
// invalidation is stored under a generation no later reader asks for.
func (s *TimeSlotService) findAvailable(ctx context.Context, filter models.SlotFilter) ([]models.TimeSlot, error) {
	useCache := s.cache != nil
	var key string
	if useCache {
		generation, err := s.cache.Generation(ctx, AvailabilityGenerationKey)
		if err != nil {
			useCache = false
		} else {
			key = AvailabilityKey(generation, filter.CounselorID, filter.From, filter.To, filter.Limit)
			var cached []models.TimeSlot
			if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
				return cached, nil
			}
		}
	}

	slots, err := s.slots.FindAvailable(ctx, filter)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load available slots")
	}
	if useCache {
		_ = s.cache.Set(ctx, key, slots, s.cacheTTL)
	}
	return slots, nil
}

// GetSlot loads a slot by id.
func (s *TimeSlotService) GetSlot(ctx context.Context, slotID string) (*models.TimeSlot, error) {
	return s.FindSlot(ctx, nil, slotID)
}

// FindSlot loads a slot through the given executor, which may be an open transaction.
func (s *TimeSlotService) FindSlot(ctx context.Context, exec sqlx.ExtContext, slotID string) (*models.TimeSlot, error) {
	if !validID(slotID) {
		return nil, appErrors.ErrSlotNotFound
	}
	slot, err := s.slots.FindByID(ctx, exec, slotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSlotNotFound
		}
		return nil, appErrors.Storage(err, "failed to load time slot")
	}
	return slot, nil
}

// ListByCounselor returns all of a counselor's slots ordered by start.
func (s *TimeSlotService) ListByCounselor(ctx context.Context, counselorID string) ([]models.TimeSlot, error) {
	slots, err := s.slots.ListByCounselor(ctx, counselorID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list counselor slots")
	}
	return slots, nil
}

// SetStatus overwrites a slot status inside the caller's transaction. It performs
// no identity checks and is reserved for the booking engine.
func (s *TimeSlotService) SetStatus(ctx context.Context, exec sqlx.ExtContext, slotID string, status models.SlotStatus) error {
	if !status.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown slot status %q", status))
	}
	if !validID(slotID) {
		return appErrors.ErrSlotNotFound
	}
	if err := s.slots.SetStatus(ctx, exec, slotID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrSlotNotFound
		}
		return appErrors.Storage(err, "failed to update slot status")
	}
	return nil
}

// ReserveSlot flips an available slot to booked. A slot that is no longer
// available yields SlotUnavailable.
func (s *TimeSlotService) ReserveSlot(ctx context.Context, exec sqlx.ExtContext, slotID string) error {
	err := s.slots.CompareAndSetStatus(ctx, exec, slotID, models.SlotStatusAvailable, models.SlotStatusBooked)
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) {
			return appErrors.ErrSlotUnavailable
		}
		return appErrors.Storage(err, "failed to reserve slot")
	}
	return nil
}

// ReleaseSlot returns a booked slot to available.
func (s *TimeSlotService) ReleaseSlot(ctx context.Context, exec sqlx.ExtContext, slotID string) error {
	err := s.slots.CompareAndSetStatus(ctx, exec, slotID, models.SlotStatusBooked, models.SlotStatusAvailable)
	if err != nil {
		if errors.Is(err, repository.ErrStatusMismatch) {
			s.logger.Warn("released slot was not booked", zap.String("slot_id", slotID))
			return nil
		}
		return appErrors.Storage(err, "failed to release slot")
	}
	return nil
}

// DeleteSlot removes a slot unless it is booked.
func (s *TimeSlotService) DeleteSlot(ctx context.Context, slotID string) (err error) {
	began := time.Now()
	defer func() { s.metrics.ObserveBookingOperation("delete_slot", err, time.Since(began)) }()

	if !validID(slotID) {
		return appErrors.ErrSlotNotFound
	}

	err = s.tx.WithinTx(ctx, func(exec sqlx.ExtContext) error {
		slot, err := s.FindSlot(ctx, exec, slotID)
		if err != nil {
			return err
		}
		if slot.Status == models.SlotStatusBooked {
			return appErrors.ErrSlotBooked
		}
		if err := s.slots.DeleteUnbooked(ctx, exec, slotID); err != nil {
			if errors.Is(err, repository.ErrStatusMismatch) {
				return appErrors.ErrSlotBooked
			}
			return err
		}
		return nil
	})
	if err != nil {
		return s.translateSlotWrite(err, "failed to delete time slot")
	}

	s.logger.Info("time slot deleted", zap.String("slot_id", slotID))
	s.InvalidateAvailability(ctx)
	return nil
}

// DeleteSlotAs deletes a slot after checking the actor owns it or is an administrator.
func (s *TimeSlotService) DeleteSlotAs(ctx context.Context, actor models.Actor, slotID string) error {
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleCounselor:
		slot, err := s.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.CounselorID != actor.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "slot belongs to another counselor")
		}
	default:
		return appErrors.ErrForbidden
	}
	return s.DeleteSlot(ctx, slotID)
}

// SweepExpired deletes slots that ended before now and were never booked.
func (s *TimeSlotService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := s.slots.DeleteExpired(ctx, now)
	if err != nil {
		return 0, appErrors.Storage(err, "failed to sweep expired slots")
	}
	s.metrics.AddSweptSlots(deleted)
	if deleted > 0 {
		s.logger.Info("expired slots swept", zap.Int64("deleted", deleted))
		s.InvalidateAvailability(ctx)
	}
	return deleted, nil
}

// InvalidateAvailability drops cached availability windows after a committed mutation.
func (s *TimeSlotService) InvalidateAvailability(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.BumpGeneration(ctx, AvailabilityGenerationKey); err != nil {
		s.logger.Warn("availability generation not bumped", zap.Error(err))
	}
	_ = s.cache.Invalidate(ctx, AvailabilityPattern())
}

func (s *TimeSlotService) checkRange(start, end time.Time) error {
	if !start.Before(end) {
		return appErrors.Clone(appErrors.ErrInvalidRange, "start must be before end")
	}
	if end.Sub(start) < s.minDuration {
		return appErrors.Clone(appErrors.ErrInvalidRange, fmt.Sprintf("slot must last at least %s", s.minDuration))
	}
	return nil
}

func (s *TimeSlotService) insertSlot(ctx context.Context, exec sqlx.ExtContext, slot *models.TimeSlot) error {
	if err := s.slots.LockCounselor(ctx, exec, slot.CounselorID); err != nil {
		return err
	}
	overlap, err := s.slots.HasOverlap(ctx, exec, slot.CounselorID, slot.StartTime, slot.EndTime)
	if err != nil {
		return err
	}
	if overlap {
		return appErrors.ErrSlotConflict
	}
	return s.slots.Create(ctx, exec, slot)
}

func (s *TimeSlotService) translateSlotWrite(err error, message string) error {
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	if database.IsConstraintViolation(err, database.CodeExclusionViolation, slotOverlapConstraint) {
		return appErrors.ErrSlotConflict
	}
	if database.IsConstraintViolation(err, database.CodeForeignKeyViolation, "") {
		return appErrors.Clone(appErrors.ErrValidation, "counselor is not registered")
	}
	if database.IsConstraintViolation(err, database.CodeInvalidTextValue, "") {
		return appErrors.Clone(appErrors.ErrValidation, "malformed identifier")
	}
	return appErrors.Storage(err, message)
}

func slotOwnerFor(actor models.Actor, requested string) (string, error) {
	switch actor.Role {
	case models.RoleCounselor:
		if requested != "" && requested != actor.UserID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "counselors may only manage their own slots")
		}
		return actor.UserID, nil
	case models.RoleAdmin:
		if requested == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "counselorId is required")
		}
		return requested, nil
	default:
		return "", appErrors.ErrForbidden
	}
}

// batchSize counts the slots CreateBatch would attempt for the window.
func batchSize(dayStart, dayEnd time.Time, duration, gap time.Duration) int64 {
	window := dayEnd.Sub(dayStart)
	if window < duration {
		return 0
	}
	return int64((window-duration)/(duration+gap)) + 1
}

// validID reports whether id is a canonical UUID, the only form the id columns accept.
func validID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// dayWindow returns [midnight, midnight+24h) of the day containing t in loc.
func dayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.Add(24 * time.Hour)
}
