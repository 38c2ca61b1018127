package constants

import "strings"

// PrescriptionStatus is stored in prescriptions.status.
type PrescriptionStatus string

const (
	PrescriptionActive    PrescriptionStatus = "active"
	PrescriptionCompleted PrescriptionStatus = "completed"
	PrescriptionExpired   PrescriptionStatus = "expired"
)

var allPrescriptionStatuses = []PrescriptionStatus{
	PrescriptionActive,
	PrescriptionCompleted,
	PrescriptionExpired,
}

// PrescriptionStatuses returns the statuses as strings, for schema enums.
func PrescriptionStatuses() []string {
	result := make([]string, len(allPrescriptionStatuses))
	for i, s := range allPrescriptionStatuses {
		result[i] = string(s)
	}
	return result
}

// CanonicalizeStatus maps user input to a PrescriptionStatus.
func CanonicalizeStatus(input string) (PrescriptionStatus, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	// synonyms map
	synonyms := map[string]PrescriptionStatus{
		"current":  PrescriptionActive,
		"open":     PrescriptionActive,
		"done":     PrescriptionCompleted,
		"finished": PrescriptionCompleted,
		"complete": PrescriptionCompleted,
		"lapsed":   PrescriptionExpired,
		"expire":   PrescriptionExpired,
	}
	if s, ok := synonyms[normalized]; ok {
		return s, true
	}

	for _, s := range allPrescriptionStatuses {
		if normalized == string(s) {
			return s, true
		}
	}
	return "", false
}
