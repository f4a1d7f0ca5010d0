package rest

import (
	"context"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/Freeeeeet/consult_booking/internal/resilience"
	"github.com/Freeeeeet/consult_booking/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingAPI операции с бронированиями, доступные через HTTP
type BookingAPI interface {
	CreateBooking(ctx context.Context, req service.CreateBookingRequest) (*model.Booking, error)
	UpdateBooking(ctx context.Context, id uuid.UUID, req service.UpdateBookingRequest) (*model.Booking, error)
	CancelBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	ListManualSync(ctx context.Context, limit int) ([]*model.Booking, error)
	RetrySync(ctx context.Context, id uuid.UUID) (*model.Booking, error)
}

// AvailabilityAPI расчёт свободных слотов
type AvailabilityAPI interface {
	GetAvailableSlots(ctx context.Context, start, end time.Time, duration int) (*service.Availability, error)
}

// Pinger зависимость, доступность которой проверяет /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options настройки HTTP слоя
type Options struct {
	AdminToken         string
	RateLimitPerMinute int
	AllowedOrigins     []string
	Production         bool
}

// Deps зависимости HTTP слоя
type Deps struct {
	Bookings     BookingAPI
	Availability AvailabilityAPI
	Registry     *resilience.Registry
	// Проверки доступности по имени, например "database" и "cache"
	Checks map[string]Pinger
	Logger *zap.Logger
}

// NewRouter собирает gin.Engine со всеми маршрутами
func NewRouter(deps Deps, opts Options) *gin.Engine {
	if opts.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(RequestLogger(deps.Logger), Recovery(deps.Logger))
	r.Use(cors.New(corsConfig(opts.AllowedOrigins)))

	h := NewHandler(deps.Bookings, deps.Availability, deps.Logger)
	health := NewHealthHandler(deps.Registry, deps.Checks)

	r.GET("/health", health.Health)

	api := r.Group("/api")
	{
		public := api.Group("")
		public.Use(RateLimit(NewIPRateLimiter(opts.RateLimitPerMinute), deps.Logger))
		public.GET("/availability", h.GetAvailability)
		public.POST("/bookings", h.CreateBooking)
		public.GET("/bookings/:id", h.GetBooking)

		admin := api.Group("/admin")
		admin.Use(AdminAuth(opts.AdminToken, deps.Logger))
		admin.POST("/bookings", h.AdminCreateBooking)
		admin.GET("/bookings/manual-sync", h.ListManualSync)
		admin.PATCH("/bookings/:id", h.UpdateBooking)
		admin.POST("/bookings/:id/cancel", h.CancelBooking)
		admin.POST("/bookings/:id/retry-sync", h.RetrySync)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}

	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}

	cfg.AllowOrigins = origins
	return cfg
}
