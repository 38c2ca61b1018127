package repository

import (
	"context"
	"strings"

	"entgo.io/ent/dialect"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS patients (
	id         {{uuid}} PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT,
	created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id           {{uuid}} PRIMARY KEY,
	patient_id   {{uuid}} NOT NULL REFERENCES patients(id),
	source_path  TEXT NOT NULL,
	document_url TEXT,
	content_hash TEXT NOT NULL,
	filename     TEXT NOT NULL,
	file_ext     TEXT NOT NULL,
	file_size    INTEGER NOT NULL,
	uploaded_at  {{ts}} NOT NULL,
	UNIQUE (patient_id, content_hash)
);

CREATE TABLE IF NOT EXISTS ocr_results (
	id                    {{uuid}} PRIMARY KEY,
	document_id           {{uuid}} REFERENCES documents(id),
	patient_id            {{uuid}} REFERENCES patients(id),
	document_path         TEXT NOT NULL,
	document_url          TEXT,
	format                TEXT NOT NULL,
	status                TEXT NOT NULL,
	raw_text              TEXT,
	extracted_data        {{json}},
	ocr_confidence        {{float}},
	extraction_confidence {{float}},
	needs_review          BOOLEAN NOT NULL DEFAULT FALSE,
	provider              TEXT,
	processed_by          TEXT NOT NULL,
	error_message         TEXT,
	started_at            {{ts}} NOT NULL,
	finished_at           {{ts}}
);

CREATE TABLE IF NOT EXISTS prescriptions (
	id              {{uuid}} PRIMARY KEY,
	patient_id      {{uuid}} REFERENCES patients(id),
	ocr_result_id   {{uuid}} REFERENCES ocr_results(id),
	medication      TEXT NOT NULL,
	dosage          TEXT NOT NULL,
	refills         INTEGER NOT NULL DEFAULT 0,
	patient_name    TEXT NOT NULL DEFAULT '',
	prescribed_date TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'active',
	document_path   TEXT,
	document_url    TEXT,
	confidence      {{float}},
	needs_review    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS analytics_events (
	id         {{uuid}} PRIMARY KEY,
	event_type TEXT NOT NULL,
	event_data {{json}},
	user_id    TEXT,
	created_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ocr_results_patient_id ON ocr_results(patient_id);
CREATE INDEX IF NOT EXISTS idx_prescriptions_patient_id ON prescriptions(patient_id);
CREATE INDEX IF NOT EXISTS idx_prescriptions_status ON prescriptions(status);
CREATE INDEX IF NOT EXISTS idx_prescriptions_created_at ON prescriptions(created_at);
CREATE INDEX IF NOT EXISTS idx_analytics_events_event_type ON analytics_events(event_type);
`

var columnTypes = map[string]*strings.Replacer{
	dialect.Postgres: strings.NewReplacer(
		"{{uuid}}", "UUID",
		"{{ts}}", "TIMESTAMPTZ",
		"{{json}}", "JSONB",
		"{{float}}", "DOUBLE PRECISION",
	),
	dialect.SQLite: strings.NewReplacer(
		"{{uuid}}", "TEXT",
		"{{ts}}", "DATETIME",
		"{{json}}", "TEXT",
		"{{float}}", "REAL",
	),
}

// Migrate creates the tables and indexes when they do not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	r, ok := columnTypes[db.dialect]
	if !ok {
		return eris.Errorf("repository: no schema for dialect %q", db.dialect)
	}
	for _, stmt := range strings.Split(r.Replace(schema), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.logger.Error("migration failed", zap.String("statement", firstLine(stmt)), zap.Error(err))
			return eris.Wrap(err, "repository: migrate")
		}
	}
	db.logger.Info("database schema up to date", zap.String("dialect", db.dialect))
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
