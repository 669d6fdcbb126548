package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docpoint/booking-engine/internal/auth"
	"github.com/docpoint/booking-engine/internal/booking"
)

type RouterConfig struct {
	Service *booking.Service
	Tokens  *auth.TokenService
	Logger  *zap.Logger
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints stay outside auth
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))

		r.Post("/appointments", createBookingHandler(cfg.Service))
		r.Post("/appointments/direct", createDirectBookingHandler(cfg.Service))
		r.Get("/appointments", listMineHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/confirm", confirmPaymentHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))

		r.Get("/admin/appointments", listAllHandler(cfg.Service))
	})

	return r
}
