package models

import (
	"time"

	"github.com/google/uuid"
)

// AggregatedRating holds the revealed per-dimension averages for one doctor.
// A zeroed, unrevealed row is created at doctor registration and the row is
// only ever overwritten wholesale by a completed aggregation.
type AggregatedRating struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	DoctorID uuid.UUID `json:"doctor_id" gorm:"type:uuid;not null;uniqueIndex"`
	Doctor   *Doctor   `json:"doctor,omitempty" gorm:"constraint:OnDelete:CASCADE;foreignKey:DoctorID;references:ID"`

	AvgOverall         int `json:"avg_overall" gorm:"not null;default:0"`
	AvgProfessionalism int `json:"avg_professionalism" gorm:"not null;default:0"`
	AvgCommunication   int `json:"avg_communication" gorm:"not null;default:0"`
	AvgWaitTime        int `json:"avg_wait_time" gorm:"not null;default:0"`

	TotalReviews int        `json:"total_reviews" gorm:"not null;default:0"`
	Revealed     bool       `json:"revealed" gorm:"not null;default:false"`
	LastUpdated  *time.Time `json:"last_updated"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (AggregatedRating) TableName() string { return "aggregated_rating" }
