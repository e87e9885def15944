package database

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ratings-backend/internal/config"
	"ratings-backend/internal/models"
)

// DB holds the database connection.
var DB *gorm.DB

// InitDB initializes the database connection.
func InitDB(cfg *config.Config) error {
	var err error
	DB, err = gorm.Open(postgres.Open(cfg.PostgresURI), &gorm.Config{})
	if err != nil {
		return err
	}
	return AutoMigrate(DB)
}

// AutoMigrate creates or updates all tables. Exposed separately so tests can
// run it against their own connection.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Doctor{},
		&models.Review{},
		&models.AggregatedRating{},
		&models.AggregationRequest{},
		&models.Event{},
	)
}
