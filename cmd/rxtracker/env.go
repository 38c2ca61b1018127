package main

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/entity"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/export"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/extract"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/ingest"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/observability"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/ocr"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/pipeline"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/repository"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/server"
)

const defaultPatientName = "Local Batch"

// appEnv holds everything a database-backed command needs.
type appEnv struct {
	DB        *repository.DB
	Repos     *repository.Repositories
	Provider  ocr.Provider
	Extractor *extract.Extractor
	Processor *pipeline.Processor
	Exporter  *export.Service
	Ingestor  *ingest.FSIngestor
	Telemetry *observability.Telemetry
	Logger    *zap.Logger

	closeProvider func()
}

// initEnv opens the database and wires the pipeline. inmem swaps the
// configured database for a private in-memory SQLite one.
func initEnv(ctx context.Context, inmem bool) (*appEnv, error) {
	logger := zap.L()
	env := &appEnv{Logger: logger, closeProvider: func() {}}

	dbCfg := cfg.Database
	if inmem {
		dbCfg.Driver = "sqlite"
		dbCfg.DSN = ":memory:"
	}
	if dbCfg.DSN == "" && dbCfg.Driver != "sqlite" {
		return nil, common.NewAppError("CONFIG_ERROR", "database.dsn (DB_URL) is required", common.ErrInvalidInput)
	}
	db, err := server.ConnectDB(ctx, dbCfg, logger)
	if err != nil {
		return nil, err
	}
	env.DB = db
	env.Repos = repository.NewRepositories(db, logger)

	tel, err := observability.Setup(ctx, telemetryConfig(cfg.Telemetry), logger)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Telemetry = tel

	env.Extractor, err = loadExtractor(cfg.Extraction)
	if err != nil {
		env.Close()
		return nil, err
	}

	provider, closeProvider, err := ocr.NewProvider(ctx, cfg.OCR, cfg.Cache, logger)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Provider = provider
	env.closeProvider = closeProvider

	metrics, err := pipeline.NewMetrics(tel.MeterProvider)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "pipeline metrics")
	}
	env.Processor, err = pipeline.New(logger.Named("pipeline"), env.Repos, provider, env.Extractor, metrics, pipeline.Config{
		ConfidenceFields: cfg.Extraction.Fields(),
		MinConfidence:    cfg.Extraction.MinConfidence,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Exporter = export.NewService(env.Repos.Prescriptions, logger)
	env.Ingestor = ingest.NewFSIngestor(env.Repos.Patients, env.Repos.Documents, logger.Named("ingest"))
	return env, nil
}

func (e *appEnv) Close() {
	e.closeProvider()
	if e.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Telemetry.Shutdown(ctx); err != nil {
			e.Logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	server.CloseDB(e.DB, e.Logger)
}

// resolvePatient accepts a patient UUID or a name. Names are created on
// first use.
func (e *appEnv) resolvePatient(ctx context.Context, ref string) (*entity.Patient, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = defaultPatientName
	}
	if id, err := uuid.Parse(ref); err == nil {
		return e.Repos.Patients.GetByID(ctx, id)
	}
	p, created, err := e.Repos.Patients.GetOrCreateByName(ctx, ref)
	if err != nil {
		return nil, err
	}
	e.Logger.Info("using patient", zap.String("patient_id", p.ID.String()), zap.String("name", p.Name), zap.Bool("created", created))
	return p, nil
}

func loadExtractor(c common.ExtractionConfig) (*extract.Extractor, error) {
	if c.RulesFile == "" {
		return extract.New(nil), nil
	}
	rules, err := extract.LoadRules(c.RulesFile)
	if err != nil {
		return nil, eris.Wrapf(err, "load rules %s", c.RulesFile)
	}
	return extract.New(rules), nil
}

func telemetryConfig(c common.TelemetryConfig) observability.Config {
	return observability.Config{
		Enabled:        c.Enabled,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		ServiceName:    c.ServiceName,
		ServiceVersion: version,
		MetricInterval: c.MetricInterval,
		SampleRatio:    c.SampleRatio,
		RuntimeMetrics: c.RuntimeMetrics,
	}
}

func parseDateFlag(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, eris.Wrapf(common.ErrInvalidInput, "--%s must be YYYY-MM-DD", name)
	}
	return &t, nil
}
