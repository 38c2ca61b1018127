package repository

import "go.uber.org/zap"

// Repositories bundles every repository over one DB handle.
type Repositories struct {
	Patients      PatientRepository
	Documents     DocumentRepository
	OCRResults    OCRResultRepository
	Prescriptions PrescriptionRepository
	Analytics     AnalyticsRepository
}

func NewRepositories(db *DB, logger *zap.Logger) *Repositories {
	if logger == nil {
		logger = zap.L()
	}
	return &Repositories{
		Patients:      NewPatientRepository(db, logger.Named("patients")),
		Documents:     NewDocumentRepository(db, logger.Named("documents")),
		OCRResults:    NewOCRResultRepository(db, logger.Named("ocr_results")),
		Prescriptions: NewPrescriptionRepository(db, logger.Named("prescriptions")),
		Analytics:     NewAnalyticsRepository(db, logger.Named("analytics")),
	}
}
