package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
)

const patientsTable = "patients"

var patientColumns = []string{"id", "name", "email", "created_at"}

type PatientRepository interface {
	Create(ctx context.Context, name string, email *string) (*entity.Patient, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Patient, error)
	List(ctx context.Context) ([]*entity.Patient, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	GetOrCreateByName(ctx context.Context, name string) (*entity.Patient, bool, error)
	Stats(ctx context.Context) (entity.PatientStats, error)
}

type patientRepository struct {
	db     *DB
	logger *zap.Logger
}

func NewPatientRepository(db *DB, logger *zap.Logger) PatientRepository {
	return &patientRepository{db: db, logger: logger}
}

func (r *patientRepository) Create(ctx context.Context, name string, email *string) (*entity.Patient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, eris.Wrap(common.ErrInvalidInput, "patient name is required")
	}
	p := &entity.Patient{ID: uuid.New(), Name: name, Email: email, CreatedAt: r.db.timestamp()}
	_, err := r.db.exec(ctx, r.db.builder().Insert(patientsTable).
		Columns(patientColumns...).
		Values(p.ID.String(), p.Name, nullString(p.Email), p.CreatedAt))
	if err != nil {
		r.logger.Error("failed to create patient", zap.String("name", name), zap.Error(err))
		return nil, eris.Wrap(err, "create patient")
	}
	r.logger.Info("patient created", zap.String("patient_id", p.ID.String()))
	return p, nil
}

func (r *patientRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Patient, error) {
	b := r.db.builder()
	row := r.db.queryRow(ctx, b.Select(patientColumns...).
		From(b.Table(patientsTable)).
		Where(entsql.EQ("id", id.String())))
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(common.ErrNotFound, "patient %s", id)
	}
	if err != nil {
		r.logger.Error("failed to get patient", zap.String("patient_id", id.String()), zap.Error(err))
		return nil, eris.Wrap(err, "get patient")
	}
	return p, nil
}

// List returns all patients ordered by name.
func (r *patientRepository) List(ctx context.Context) ([]*entity.Patient, error) {
	b := r.db.builder()
	rows, err := r.db.query(ctx, b.Select(patientColumns...).
		From(b.Table(patientsTable)).
		OrderBy("name", "created_at"))
	if err != nil {
		r.logger.Error("failed to list patients", zap.Error(err))
		return nil, eris.Wrap(err, "list patients")
	}
	defer rows.Close() //nolint:errcheck

	var out []*entity.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan patient")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "list patients")
}

func (r *patientRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	b := r.db.builder()
	var n int
	err := r.db.queryRow(ctx, b.Select(entsql.Count("*")).
		From(b.Table(patientsTable)).
		Where(entsql.EQ("id", id.String()))).Scan(&n)
	if err != nil {
		r.logger.Error("failed to check patient existence", zap.String("patient_id", id.String()), zap.Error(err))
		return false, eris.Wrap(err, "patient exists")
	}
	return n > 0, nil
}

// GetOrCreateByName finds a patient by case-insensitive name or creates one.
// created reports whether a new row was inserted.
func (r *patientRepository) GetOrCreateByName(ctx context.Context, name string) (*entity.Patient, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, eris.Wrap(common.ErrInvalidInput, "patient name is required")
	}
	b := r.db.builder()
	row := r.db.queryRow(ctx, b.Select(patientColumns...).
		From(b.Table(patientsTable)).
		Where(entsql.EqualFold("name", name)).
		OrderBy("created_at").
		Limit(1))
	p, err := scanPatient(row)
	switch {
	case err == nil:
		return p, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		r.logger.Error("failed to look up patient by name", zap.String("name", name), zap.Error(err))
		return nil, false, eris.Wrap(err, "get patient by name")
	}
	p, err = r.Create(ctx, name, nil)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Stats counts all patients, patients with at least one active prescription
// and patients created since the start of the current UTC month.
func (r *patientRepository) Stats(ctx context.Context) (entity.PatientStats, error) {
	var stats entity.PatientStats
	b := r.db.builder()
	if err := r.db.queryRow(ctx, b.Select(entsql.Count("*")).
		From(b.Table(patientsTable))).Scan(&stats.Total); err != nil {
		r.logger.Error("failed to count patients", zap.Error(err))
		return stats, eris.Wrap(err, "count patients")
	}

	now := r.db.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if err := r.db.queryRow(ctx, b.Select(entsql.Count("*")).
		From(b.Table(patientsTable)).
		Where(entsql.GTE("created_at", monthStart))).Scan(&stats.NewThisMonth); err != nil {
		r.logger.Error("failed to count new patients", zap.Error(err))
		return stats, eris.Wrap(err, "count new patients")
	}

	rows, err := r.db.query(ctx, b.Select("patient_id").
		From(b.Table(prescriptionsTable)).
		Where(entsql.And(
			entsql.EQ("status", string(constants.PrescriptionActive)),
			entsql.NotNull("patient_id"),
		)))
	if err != nil {
		r.logger.Error("failed to count active patients", zap.Error(err))
		return stats, eris.Wrap(err, "count active patients")
	}
	defer rows.Close() //nolint:errcheck

	active := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return stats, eris.Wrap(err, "scan active patient")
		}
		active[id] = struct{}{}
	}
	stats.Active = len(active)
	return stats, eris.Wrap(rows.Err(), "count active patients")
}

func scanPatient(s scanner) (*entity.Patient, error) {
	var (
		p     entity.Patient
		email sql.NullString
	)
	if err := s.Scan(&p.ID, &p.Name, &email, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Email = stringPtr(email)
	return &p, nil
}
