package models

import (
	"time"

	"github.com/google/uuid"
)

// Aggregation request statuses. At most one row may be pending system-wide;
// the pending row is the in-flight marker and the explicit request-id to
// doctor-id binding for the decryption callback.
const (
	AggregationStatusPending   = "pending"
	AggregationStatusCompleted = "completed"
	AggregationStatusAbandoned = "abandoned"
)

// AggregationRequest records one batched decryption round issued to the vault.
type AggregationRequest struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	RequestID string    `json:"request_id" gorm:"uniqueIndex;not null"`
	DoctorID  uuid.UUID `json:"doctor_id" gorm:"type:uuid;not null;index"`
	Doctor    *Doctor   `json:"doctor,omitempty" gorm:"constraint:OnDelete:CASCADE;foreignKey:DoctorID;references:ID"`

	ReviewCount int        `json:"review_count" gorm:"not null"`
	Status      string     `json:"status" gorm:"not null;index"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"not null"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (AggregationRequest) TableName() string { return "aggregation_request" }
