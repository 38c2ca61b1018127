package entity

import (
	"time"

	"github.com/google/uuid"
)

// Prescription represents a stored prescription record.
type Prescription struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	OCRResultID    *uuid.UUID `json:"ocr_result_id,omitempty"`
	Medication     string     `json:"medication"`
	Dosage         string     `json:"dosage"`
	Refills        int        `json:"refills"`
	PatientName    string     `json:"patient_name"`
	PrescribedDate string     `json:"prescribed_date"`
	Status         string     `json:"status"`
	DocumentPath   *string    `json:"document_path,omitempty"`
	DocumentURL    *string    `json:"document_url,omitempty"`
	Confidence     *float64   `json:"confidence,omitempty"`
	NeedsReview    bool       `json:"needs_review"`
	CreatedAt      time.Time  `json:"created_at"`
}

// PrescriptionStats are the dashboard counters.
type PrescriptionStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Expired   int `json:"expired"`
}

// MedicationCount is one row of the medication frequency report.
type MedicationCount struct {
	Medication string `json:"medication"`
	Count      int    `json:"count"`
}

// MonthCount is one row of the prescriptions-by-month report. Month is YYYY-MM.
type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// StatusCount is the number of distinct medications prescribed under a status.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}
