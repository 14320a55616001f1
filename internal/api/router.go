package api

import (
	"net/http"

	"github.com/MaksM89/equarium/internal/api/handler"
	"github.com/MaksM89/equarium/internal/api/middleware"
	"github.com/MaksM89/equarium/internal/api/spec"
	"github.com/MaksM89/equarium/internal/config"
	"github.com/MaksM89/equarium/internal/idempotency"
	"github.com/MaksM89/equarium/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	redis     redis.Cmdable
	idemStore *idempotency.Store

	users     *service.UserService
	transfers *service.TransferService
	history   *service.HistoryService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	idemStore *idempotency.Store,
	users *service.UserService,
	transfers *service.TransferService,
	history *service.HistoryService,
) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redisClient,
		idemStore: idemStore,
		users:     users,
		transfers: transfers,
		history:   history,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	authHandler := handler.NewAuthHandler(api.users, api.cfg.AccessTokenTTL)
	txHandler := handler.NewTransactionHandler(api.users, api.transfers, api.history)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Post("/register", authHandler.Register)
		r.Post("/token", authHandler.Token)
		r.Get("/health/live", healthHandler.Live)
		r.Get("/health/ready", healthHandler.Ready)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler())
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/me", authHandler.Me)
		r.Patch("/me/change_password", authHandler.ChangePassword)

		r.Get("/transaction/pagescount", txHandler.PagesCount)
		r.Get("/transaction/history", txHandler.History)

		if api.idemStore != nil {
			r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
				Post("/transaction/create", txHandler.Create)
		} else {
			r.Post("/transaction/create", txHandler.Create)
		}
	})

	return r
}
