package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/counseling-booking-api/internal/models"
	"github.com/noah-isme/counseling-booking-api/pkg/config"
	"github.com/noah-isme/counseling-booking-api/pkg/jobs"
)

// NotificationSink delivers booking events to an external party.
type NotificationSink interface {
	Name() string
	Notify(ctx context.Context, event models.BookingEvent) error
}

type userNameResolver interface {
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

// NotificationService fans booking events out to sinks on a background worker pool.
// Publishing never blocks and never fails the caller.
type NotificationService struct {
	queue   *jobs.Queue
	sinks   map[string]NotificationSink
	users   userNameResolver
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService builds the dispatcher; call Start before publishing.
func NewNotificationService(users userNameResolver, metrics *MetricsService, cfg config.NotificationConfig, logger *zap.Logger, sinks ...NotificationSink) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		sinks:   make(map[string]NotificationSink, len(sinks)),
		users:   users,
		metrics: metrics,
		logger:  logger,
	}
	for _, sink := range sinks {
		if sink != nil {
			svc.sinks[sink.Name()] = sink
		}
	}
	svc.queue = jobs.NewQueue("booking-notifications", svc.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return svc
}

// Start launches the worker pool.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Publish schedules one delivery per sink. Failures to enqueue are logged and dropped.
func (s *NotificationService) Publish(event models.BookingEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	for name := range s.sinks {
		err := s.queue.TryEnqueue(jobs.Job{Type: name, Payload: event})
		if err != nil {
			s.logger.Warn("booking notification dropped",
				zap.String("sink", name),
				zap.String("appointment_id", event.AppointmentID),
				zap.String("action", string(event.Action)),
				zap.Error(err),
			)
		}
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	sink, ok := s.sinks[job.Type]
	if !ok {
		return nil
	}
	event, ok := job.Payload.(models.BookingEvent)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	s.resolveNames(ctx, &event)

	err := sink.Notify(ctx, event)
	s.metrics.RecordNotification(sink.Name(), err)
	if err != nil {
		return fmt.Errorf("notify %s: %w", sink.Name(), err)
	}
	return nil
}

func (s *NotificationService) resolveNames(ctx context.Context, event *models.BookingEvent) {
	if s.users == nil || (event.StudentName != "" && event.CounselorName != "") {
		return
	}
	names, err := s.users.NamesByIDs(ctx, []string{event.StudentID, event.CounselorID})
	if err != nil {
		s.logger.Debug("resolve notification names failed", zap.String("appointment_id", event.AppointmentID), zap.Error(err))
		return
	}
	if event.StudentName == "" {
		event.StudentName = names[event.StudentID]
	}
	if event.CounselorName == "" {
		event.CounselorName = names[event.CounselorID]
	}
}

// LogSink writes booking events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Name identifies the sink.
func (s *LogSink) Name() string { return "log" }

// Notify logs the event.
func (s *LogSink) Notify(_ context.Context, event models.BookingEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("appointment_id", event.AppointmentID),
		zap.String("action", string(event.Action)),
		zap.String("student", event.StudentName),
		zap.String("counselor", event.CounselorName),
	}
	if event.SlotStart != nil {
		fields = append(fields, zap.Time("slot_start", *event.SlotStart))
	}
	s.logger.Info("booking notification", fields...)
	return nil
}

type eventPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisSink publishes booking events as JSON on a Redis pub/sub channel.
type RedisSink struct {
	publisher eventPublisher
	channel   string
}

// NewRedisSink constructs a Redis pub/sub sink.
func NewRedisSink(publisher eventPublisher, channel string) *RedisSink {
	if channel == "" {
		channel = "booking.events"
	}
	return &RedisSink{publisher: publisher, channel: channel}
}

// Name identifies the sink.
func (s *RedisSink) Name() string { return "redis" }

// Notify publishes the event.
func (s *RedisSink) Notify(ctx context.Context, event models.BookingEvent) error {
	if s.publisher == nil {
		return errors.New("redis publisher not configured")
	}
	return s.publisher.Publish(ctx, s.channel, event)
}
