package entity

import (
	"time"

	"github.com/google/uuid"
)

// Patient represents a patient for data transfer between layers.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PatientStats are the patient dashboard counters.
type PatientStats struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	NewThisMonth int `json:"new_this_month"`
}
