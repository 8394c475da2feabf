package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/counseling-booking-api/internal/models"
	"github.com/noah-isme/counseling-booking-api/internal/repository"
	"github.com/noah-isme/counseling-booking-api/pkg/config"
)

// memDB is a transactional in-memory stand-in for the booking tables. Every
// store call is atomic under mu. By default WithinTx also serialises whole units
// of work; with concurrent set they interleave like read-committed transactions
// and only the conditional updates keep them apart. A failed unit replays its
// undo journal.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	slots map[string]models.TimeSlot
	appts map[string]models.Appointment
	names map[string]string

	concurrent        bool
	noActiveSlotIndex bool

	// hooks run outside mu so they may block or call back into the store
	afterActiveCount func()
	afterApptLoad    func()
	afterAvailable   func()

	createSlotErr  error
	createApptErr  error
	releaseSlotErr error
}

// memTx is the executor handed to a unit of work. It only carries the undo journal.
type memTx struct {
	sqlx.ExtContext
	undo []func()
}

// journal records an undo step when exec belongs to a unit of work. Callers hold mu.
func journal(exec sqlx.ExtContext, undo func()) {
	if tx, ok := exec.(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

func newMemDB() *memDB {
	return &memDB{
		slots: make(map[string]models.TimeSlot),
		appts: make(map[string]models.Appointment),
		names: make(map[string]string),
	}
}

func (m *memDB) WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error {
	if !m.concurrent {
		m.txMu.Lock()
		defer m.txMu.Unlock()
	}

	tx := &memTx{}
	if err := fn(tx); err != nil {
		m.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memDB) slot(id string) models.TimeSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[id]
}

func (m *memDB) appointment(id string) models.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appts[id]
}

// memSlots implements slotStore.
type memSlots struct{ *memDB }

func (s memSlots) Create(ctx context.Context, exec sqlx.ExtContext, slot *models.TimeSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createSlotErr != nil {
		return s.createSlotErr
	}
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.Status == "" {
		slot.Status = models.SlotStatusAvailable
	}
	slot.CreatedAt = time.Now().UTC()
	slot.UpdatedAt = slot.CreatedAt
	s.slots[slot.ID] = *slot
	id := slot.ID
	journal(exec, func() { delete(s.slots, id) })
	return nil
}

func (s memSlots) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	slot.CounselorName = s.names[slot.CounselorID]
	return &slot, nil
}

func (s memSlots) LockCounselor(ctx context.Context, exec sqlx.ExtContext, counselorID string) error {
	return nil
}

func (s memSlots) HasOverlap(ctx context.Context, exec sqlx.ExtContext, counselorID string, start, end time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidate := models.TimeRange{Start: start, End: end}
	for _, slot := range s.slots {
		if slot.CounselorID != counselorID || slot.Status == models.SlotStatusCancelled {
			continue
		}
		if slot.Range().Overlaps(candidate) {
			return true, nil
		}
	}
	return false, nil
}

func (s memSlots) FindAvailable(ctx context.Context, filter models.SlotFilter) ([]models.TimeSlot, error) {
	out := s.available(filter)
	if s.afterAvailable != nil {
		s.afterAvailable()
	}
	return out, nil
}

func (s memSlots) available(filter models.SlotFilter) []models.TimeSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := models.TimeRange{Start: filter.From, End: filter.To}
	out := make([]models.TimeSlot, 0)
	for _, slot := range s.slots {
		if slot.Status != models.SlotStatusAvailable {
			continue
		}
		if filter.CounselorID != "" && slot.CounselorID != filter.CounselorID {
			continue
		}
		if !window.Contains(slot.Range()) {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (s memSlots) ListByCounselor(ctx context.Context, counselorID string) ([]models.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TimeSlot, 0)
	for _, slot := range s.slots {
		if slot.CounselorID == counselorID {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s memSlots) CompareAndSetStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.SlotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from == models.SlotStatusBooked && s.releaseSlotErr != nil {
		return s.releaseSlotErr
	}
	slot, ok := s.slots[id]
	if !ok || slot.Status != from {
		return repository.ErrStatusMismatch
	}
	prev := slot
	slot.Status = to
	s.slots[id] = slot
	journal(exec, func() { s.slots[id] = prev })
	return nil
}

func (s memSlots) SetStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.SlotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return sql.ErrNoRows
	}
	prev := slot
	slot.Status = status
	s.slots[id] = slot
	journal(exec, func() { s.slots[id] = prev })
	return nil
}

func (s memSlots) DeleteUnbooked(ctx context.Context, exec sqlx.ExtContext, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok || slot.Status == models.SlotStatusBooked {
		return repository.ErrStatusMismatch
	}
	referencing := make(map[string]models.Appointment)
	for apptID, appt := range s.appts {
		if appt.TimeSlotID == id {
			referencing[apptID] = appt
		}
	}
	s.deleteSlotLocked(id)
	journal(exec, func() {
		s.slots[id] = slot
		for apptID, appt := range referencing {
			s.appts[apptID] = appt
		}
	})
	return nil
}

func (s memSlots) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, slot := range s.slots {
		if slot.EndTime.Before(before) && slot.Status != models.SlotStatusBooked {
			s.deleteSlotLocked(id)
			n++
		}
	}
	return n, nil
}

func (m *memDB) deleteSlotLocked(id string) {
	delete(m.slots, id)
	for apptID, appt := range m.appts {
		if appt.TimeSlotID == id {
			appt.TimeSlotID = ""
			m.appts[apptID] = appt
		}
	}
}

// memAppointments implements appointmentStore.
type memAppointments struct{ *memDB }

func (a memAppointments) Create(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createApptErr != nil {
		return a.createApptErr
	}
	for _, existing := range a.appts {
		if !a.noActiveSlotIndex && existing.TimeSlotID == appt.TimeSlotID && existing.Status.IsActive() {
			return &pq.Error{Code: "23505", Constraint: activeSlotIndex}
		}
	}
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	appt.CreatedAt = time.Now().UTC()
	appt.UpdatedAt = appt.CreatedAt
	stored := *appt
	stored.StartTime, stored.EndTime = nil, nil
	stored.StudentName, stored.CounselorName = "", ""
	a.appts[appt.ID] = stored
	id := appt.ID
	journal(exec, func() { delete(a.appts, id) })
	return nil
}

func (a memAppointments) enrich(appt models.Appointment) models.Appointment {
	if slot, ok := a.slots[appt.TimeSlotID]; ok {
		start, end := slot.StartTime, slot.EndTime
		appt.StartTime, appt.EndTime = &start, &end
	}
	appt.StudentName = a.names[appt.StudentID]
	appt.CounselorName = a.names[appt.CounselorID]
	return appt
}

func (a memAppointments) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Appointment, error) {
	a.mu.Lock()
	appt, ok := a.appts[id]
	if ok {
		appt = a.enrich(appt)
	}
	a.mu.Unlock()
	if !ok {
		return nil, sql.ErrNoRows
	}
	if a.afterApptLoad != nil {
		a.afterApptLoad()
	}
	return &appt, nil
}

func (a memAppointments) CountActiveBySlot(ctx context.Context, exec sqlx.ExtContext, slotID string) (int, error) {
	a.mu.Lock()
	count := 0
	for _, appt := range a.appts {
		if appt.TimeSlotID == slotID && appt.Status.IsActive() {
			count++
		}
	}
	a.mu.Unlock()
	if a.afterActiveCount != nil {
		a.afterActiveCount()
	}
	return count, nil
}

func (a memAppointments) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.AppointmentStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	appt, ok := a.appts[id]
	if !ok || appt.Status != from {
		return repository.ErrStatusMismatch
	}
	prev := appt
	appt.Status = to
	a.appts[id] = appt
	journal(exec, func() { a.appts[id] = prev })
	return nil
}

func (a memAppointments) collect(keep func(models.Appointment) bool, newestFirst bool) []models.Appointment {
	out := make([]models.Appointment, 0)
	for _, appt := range a.appts {
		if keep(appt) {
			out = append(out, a.enrich(appt))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := startOf(out[i]), startOf(out[j])
		if newestFirst {
			return ti.After(tj)
		}
		return ti.Before(tj)
	})
	return out
}

func startOf(appt models.Appointment) time.Time {
	if appt.StartTime == nil {
		return time.Time{}
	}
	return *appt.StartTime
}

func (a memAppointments) ListByStudent(ctx context.Context, studentID string, activeOnly bool) ([]models.Appointment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.collect(func(appt models.Appointment) bool {
		return appt.StudentID == studentID && (!activeOnly || appt.Status.IsActive())
	}, true), nil
}

func (a memAppointments) ListByCounselor(ctx context.Context, counselorID string, activeOnly bool) ([]models.Appointment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.collect(func(appt models.Appointment) bool {
		return appt.CounselorID == counselorID && (!activeOnly || appt.Status.IsActive())
	}, true), nil
}

func (a memAppointments) ListByCounselorBetween(ctx context.Context, counselorID string, from, to time.Time) ([]models.Appointment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.collect(func(appt models.Appointment) bool {
		slot, ok := a.slots[appt.TimeSlotID]
		return ok && appt.CounselorID == counselorID && appt.Status != models.AppointmentStatusCancelled &&
			!slot.StartTime.Before(from) && slot.StartTime.Before(to)
	}, false), nil
}

func (a memAppointments) CountByCounselorStatus(ctx context.Context, counselorID string, status models.AppointmentStatus) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, appt := range a.appts {
		if appt.CounselorID == counselorID && appt.Status == status {
			count++
		}
	}
	return count, nil
}

func (a memAppointments) HasStudentConflict(ctx context.Context, studentID string, start, end time.Time) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	window := models.TimeRange{Start: start, End: end}
	for _, appt := range a.appts {
		if appt.StudentID != studentID || appt.Status == models.AppointmentStatusCancelled {
			continue
		}
		if slot, ok := a.slots[appt.TimeSlotID]; ok && slot.Range().Overlaps(window) {
			return true, nil
		}
	}
	return false, nil
}

func (a memAppointments) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	all := a.collect(func(appt models.Appointment) bool {
		return (filter.StudentID == "" || appt.StudentID == filter.StudentID) &&
			(filter.CounselorID == "" || appt.CounselorID == filter.CounselorID) &&
			(filter.Status == "" || appt.Status == filter.Status)
	}, true)
	offset := (filter.Page - 1) * filter.PageSize
	if offset >= len(all) {
		return []models.Appointment{}, len(all), nil
	}
	end := offset + filter.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.BookingEvent
}

func (r *recordingNotifier) Publish(event models.BookingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) actions() []models.BookingAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.BookingAction, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type bookingFixture struct {
	db       *memDB
	registry *TimeSlotService
	engine   *BookingService
	notifier *recordingNotifier
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	db := newMemDB()
	notifier := &recordingNotifier{}
	registry := NewTimeSlotService(memSlots{db}, db, nil, nil, config.BookingConfig{TimeZone: "UTC"}, nil, nil)
	engine := NewBookingService(memAppointments{db}, registry, db, notifier, nil, nil, nil)
	return &bookingFixture{db: db, registry: registry, engine: engine, notifier: notifier}
}

// at returns 2026-03-02 at the given wall-clock time in UTC.
func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func (f *bookingFixture) mustSlot(t *testing.T, counselorID string, start, end time.Time) *models.TimeSlot {
	t.Helper()
	slot, err := f.registry.CreateSlot(context.Background(), counselorID, start, end)
	require.NoError(t, err)
	return slot
}

func (f *bookingFixture) mustBook(t *testing.T, studentID, slotID string) *models.Appointment {
	t.Helper()
	appt, err := f.engine.CreateAppointment(context.Background(), studentID, slotID, "")
	require.NoError(t, err)
	return appt
}

// assertInvariants checks slot/appointment pairing and per-counselor non-overlap.
// A booked slot is held either by exactly one active appointment or, once that
// appointment completed, by exactly one completed appointment and no active one.
func (f *bookingFixture) assertInvariants(t *testing.T) {
	t.Helper()
	f.db.mu.Lock()
	defer f.db.mu.Unlock()

	active := make(map[string]int)
	completed := make(map[string]int)
	for _, appt := range f.db.appts {
		switch {
		case appt.Status.IsActive():
			slot, ok := f.db.slots[appt.TimeSlotID]
			require.True(t, ok, "active appointment %s references a missing slot", appt.ID)
			assert.Equal(t, models.SlotStatusBooked, slot.Status, "active appointment %s on unbooked slot", appt.ID)
			active[appt.TimeSlotID]++
		case appt.Status == models.AppointmentStatusCompleted && appt.TimeSlotID != "":
			completed[appt.TimeSlotID]++
		}
	}
	for id, slot := range f.db.slots {
		if slot.Status != models.SlotStatusBooked {
			continue
		}
		held := (active[id] == 1 && completed[id] == 0) || (active[id] == 0 && completed[id] == 1)
		assert.True(t, held, "booked slot %s held by %d active and %d completed appointments", id, active[id], completed[id])
	}

	slots := make([]models.TimeSlot, 0, len(f.db.slots))
	for _, slot := range f.db.slots {
		if slot.Status != models.SlotStatusCancelled {
			slots = append(slots, slot)
		}
	}
	for i := range slots {
		for j := i + 1; j < len(slots); j++ {
			if slots[i].CounselorID != slots[j].CounselorID {
				continue
			}
			assert.False(t, slots[i].Range().Overlaps(slots[j].Range()), "slots %s and %s overlap", slots[i].ID, slots[j].ID)
		}
	}
}
