package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ratings-backend/internal/config"
	"ratings-backend/internal/database"
	"ratings-backend/internal/engine"
	"ratings-backend/internal/events"
	"ratings-backend/internal/fhe"
	"ratings-backend/internal/handlers"
	"ratings-backend/internal/logger"
	"ratings-backend/internal/middleware"
	"ratings-backend/internal/models"
	"ratings-backend/internal/server"
	"ratings-backend/internal/utils"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	log.Info("Connecting to Postgres...")
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to init database", "error", err)
	}

	if cfg.OperatorUsername != "" && cfg.OperatorPassword != "" {
		if err := seedOperator(cfg); err != nil {
			log.Fatal("Failed to seed operator account", "error", err)
		}
	}

	// Event bus (optional: without redis, events are only persisted).
	bus := events.NewNopBus()
	if cfg.RedisAddr != "" {
		bus, err = events.NewRedisBus(cfg.RedisAddr, cfg.RedisChannel, log)
		if err != nil {
			log.Warn("Redis event bus unavailable, events persist only", "error", err)
			bus = events.NewNopBus()
		}
	}
	defer bus.Close()

	vault, err := fhe.NewGatewayClient(cfg.GatewayURL, cfg.GatewayToken, log)
	if err != nil {
		log.Fatal("Failed to init FHE gateway client", "error", err)
	}

	eng := engine.New(database.DB, log, vault, bus, engine.Config{
		ReviewThreshold:  cfg.ReviewThreshold,
		RevealCooldown:   cfg.RevealCooldown,
		AggregationTTL:   cfg.AggregationTTL,
		MaxCommentLength: cfg.MaxCommentLength,
		CallbackURL:      cfg.CallbackURL,
		EnginePrincipal:  cfg.EnginePrincipal,
	})

	callbackToken := cfg.CallbackToken
	if callbackToken == "" {
		callbackToken = cfg.GatewayToken
	}
	authMiddleware := middleware.NewAuthMiddleware(log, cfg.JWTSecretKey, callbackToken)
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:        handlers.NewAuthHandler(database.DB, log, cfg.JWTSecretKey, cfg.AccessTokenTTL),
		AuthMiddleware:     authMiddleware,
		DoctorHandler:      handlers.NewDoctorHandler(eng, log),
		ReviewHandler:      handlers.NewReviewHandler(eng, log),
		AggregationHandler: handlers.NewAggregationHandler(eng, log),
	})

	log.Info("Listening", "port", cfg.ListenPort)
	if err := router.Run(":" + cfg.ListenPort); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}

// seedOperator creates the bootstrap operator account if it does not exist.
func seedOperator(cfg *config.Config) error {
	var existing models.User
	err := database.DB.First(&existing, "username = ?", cfg.OperatorUsername).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	hashed, err := utils.HashPassword(cfg.OperatorPassword)
	if err != nil {
		return err
	}
	return database.DB.Create(&models.User{
		ID:       uuid.New(),
		Username: cfg.OperatorUsername,
		Password: hashed,
		Role:     models.RoleOperator,
	}).Error
}
