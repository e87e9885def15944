package models

import (
	"time"

	"github.com/google/uuid"
)

// Review stores one reviewer's encrypted ratings for a doctor. The four
// rating columns hold opaque vault handles, never cleartext values. The
// (doctor_id, submitter_id) unique index enforces one review per pair.
type Review struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	DoctorID    uuid.UUID `json:"doctor_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_review_doctor_submitter"`
	Doctor      *Doctor   `json:"doctor,omitempty" gorm:"constraint:OnDelete:CASCADE;foreignKey:DoctorID;references:ID"`
	SubmitterID uuid.UUID `json:"submitter_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_review_doctor_submitter"`
	Submitter   *User     `json:"submitter,omitempty" gorm:"constraint:OnDelete:CASCADE;foreignKey:SubmitterID;references:ID"`

	OverallHandle         string `json:"overall_handle" gorm:"not null"`
	ProfessionalismHandle string `json:"professionalism_handle" gorm:"not null"`
	CommunicationHandle   string `json:"communication_handle" gorm:"not null"`
	WaitTimeHandle        string `json:"wait_time_handle" gorm:"not null"`

	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

func (Review) TableName() string { return "review" }
