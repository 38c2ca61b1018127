package constants

// OCRStatus is the canonical status for rows in ocr_results.
type OCRStatus string

// Stable values (store these exact strings in DB).
const (
	OCRStatusQueued      OCRStatus = "QUEUED"       // queued for processing
	OCRStatusRunning     OCRStatus = "RUNNING"      // in progress
	OCRStatusOCROK       OCRStatus = "OCR_OK"       // stage 1 completed (text recognized)
	OCRStatusExtracted   OCRStatus = "EXTRACTED"    // stage 2 completed (fields extracted)
	OCRStatusManualEntry OCRStatus = "MANUAL_ENTRY" // no OCR possible, fields must be entered by hand
	OCRStatusFailed      OCRStatus = "FAILED"       // terminal failure
)

// Terminal reports whether no further processing happens for s.
func (s OCRStatus) Terminal() bool {
	switch s {
	case OCRStatusExtracted, OCRStatusManualEntry, OCRStatusFailed:
		return true
	}
	return false
}
