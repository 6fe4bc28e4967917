package model

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the demographic identity that owns claims, documents and
// policy benefits. Deleting a patient cascades to everything it owns.
type Patient struct {
	ID          uuid.UUID  `json:"id"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Address     string     `json:"address,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
