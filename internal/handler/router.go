package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/counseling-booking-api/internal/middleware"
	"github.com/noah-isme/counseling-booking-api/internal/models"
	"github.com/noah-isme/counseling-booking-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/counseling-booking-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/counseling-booking-api/pkg/middleware/requestid"
)

// RouterConfig bundles everything the HTTP surface needs.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	Logger         *zap.Logger
	Tokens         middleware.TokenValidator
	Metrics        *MetricsHandler
	Observer       middleware.RequestObserver
	Slots          *SlotHandler
	Appointments   *AppointmentHandler
	// Extra lets callers mount optional routes such as API docs.
	Extra func(r *gin.Engine)
}

// NewRouter builds the gin engine with middleware and all booking routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Observer))

	if cfg.Metrics != nil {
		r.GET("/health", cfg.Metrics.Health)
		r.GET("/ready", cfg.Metrics.Ready)
		r.GET("/metrics", cfg.Metrics.Prometheus)
	}
	if cfg.Extra != nil {
		cfg.Extra(r)
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.Tokens))

	staff := middleware.RequireRoles(models.RoleCounselor, models.RoleAdmin)
	counselor := middleware.RequireRoles(models.RoleCounselor)
	student := middleware.RequireRoles(models.RoleStudent)
	admin := middleware.RequireRoles(models.RoleAdmin)

	if s := cfg.Slots; s != nil {
		slots := api.Group("/slots")
		slots.POST("", staff, s.Create)
		slots.POST("/batch", staff, s.CreateBatch)
		slots.GET("/available", s.Available)
		slots.GET("/recent", s.Recent)
		slots.POST("/sweep", admin, s.Sweep)
		slots.DELETE("/:id", staff, s.Delete)
		api.GET("/counselors/:id/slots", s.ListByCounselor)
	}

	if a := cfg.Appointments; a != nil {
		appts := api.Group("/appointments")
		appts.POST("", student, a.Create)
		appts.GET("", admin, a.List)
		appts.GET("/:id", a.Get)
		appts.POST("/:id/confirm", counselor, a.Confirm)
		appts.POST("/:id/complete", counselor, a.Complete)
		appts.POST("/:id/cancel", a.Cancel)

		me := api.Group("/students/me", student)
		me.GET("/appointments", a.MyStudentAppointments)
		me.GET("/conflicts", a.MyConflicts)

		mine := api.Group("/counselors/me", counselor)
		mine.GET("/appointments", a.MyCounselorAppointments)
		mine.GET("/appointments/today", a.Today)
		mine.GET("/appointments/pending-count", a.PendingCount)
	}

	return r
}
