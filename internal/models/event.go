package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event types consumed by external indexers.
const (
	EventDoctorRegistered     = "doctor_registered"
	EventReviewSubmitted      = "review_submitted"
	EventAggregationRequested = "aggregation_requested"
	EventRatingRevealed       = "rating_revealed"
	EventAggregationAbandoned = "aggregation_abandoned"
)

// Event is the persisted audit log row. Each insert is also published on the
// redis channel for live consumers.
type Event struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Type      string         `json:"type" gorm:"not null;index"`
	DoctorID  *uuid.UUID     `json:"doctor_id,omitempty" gorm:"type:uuid;index"`
	ActorID   *uuid.UUID     `json:"actor_id,omitempty" gorm:"type:uuid;index"`
	Data      datatypes.JSON `json:"data" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;index"`
}

func (Event) TableName() string { return "event" }
