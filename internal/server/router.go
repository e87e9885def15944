package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"ratings-backend/internal/handlers"
	"ratings-backend/internal/middleware"
	"ratings-backend/internal/models"
)

type RouterConfig struct {
	AuthHandler        *handlers.AuthHandler
	AuthMiddleware     *middleware.AuthMiddleware
	DoctorHandler      *handlers.DoctorHandler
	ReviewHandler      *handlers.ReviewHandler
	AggregationHandler *handlers.AggregationHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")

	// Public
	api.POST("/auth/register", cfg.AuthHandler.Register)
	api.POST("/auth/login", cfg.AuthHandler.Login)
	api.GET("/doctors", cfg.DoctorHandler.List)
	api.GET("/doctors/:doctor_id", cfg.DoctorHandler.Get)
	api.GET("/doctors/:doctor_id/aggregate", cfg.DoctorHandler.GetAggregate)
	api.GET("/doctors/:doctor_id/reviews/count", cfg.ReviewHandler.Count)
	api.GET("/doctors/:doctor_id/aggregation/eligibility", cfg.AggregationHandler.Eligibility)

	// Gateway callback (shared-secret bearer, not a user token)
	api.POST("/aggregation/callback", cfg.AuthMiddleware.RequireCallbackToken(), cfg.AggregationHandler.Callback)

	// Authenticated
	authed := api.Group("/")
	authed.Use(cfg.AuthMiddleware.RequireAuth())
	authed.POST("/doctors/:doctor_id/reviews", cfg.ReviewHandler.Submit)
	authed.GET("/doctors/:doctor_id/reviews/mine", cfg.ReviewHandler.Mine)

	// Operator-only
	operator := api.Group("/")
	operator.Use(cfg.AuthMiddleware.RequireAuth(), cfg.AuthMiddleware.RequireRole(models.RoleOperator))
	operator.POST("/doctors", cfg.DoctorHandler.Register)
	operator.POST("/doctors/:doctor_id/aggregation", cfg.AggregationHandler.Request)
	operator.POST("/aggregation/:request_id/abandon", cfg.AggregationHandler.Abandon)

	return router
}
