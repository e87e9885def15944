package models

import (
	"time"

	"github.com/google/uuid"
)

// Doctor defines the identity record for a rated practitioner. Identity
// fields are immutable after registration; only ReviewCount changes.
type Doctor struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name         string    `json:"name" gorm:"not null;index"`
	Specialty    *string   `json:"specialty"`
	ReviewCount  int       `json:"review_count" gorm:"not null;default:0"`
	RegisteredAt time.Time `json:"registered_at" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Doctor) TableName() string { return "doctor" }
