package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles. Operators manage doctors and aggregation; reviewers submit ratings.
const (
	RoleOperator = "operator"
	RoleReviewer = "reviewer"
)

// User defines the structure for authenticated accounts.
type User struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Username  string    `json:"username" gorm:"uniqueIndex;not null"`
	Password  string    `json:"-" gorm:"not null"`
	Role      string    `json:"role" gorm:"not null;index;default:'reviewer'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "user" }
