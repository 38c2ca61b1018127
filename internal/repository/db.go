package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type Config struct {
	Driver           string
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is a database/sql handle that knows which SQL dialect to build for.
type DB struct {
	*sql.DB
	dialect string
	pool    *pgxpool.Pool
	logger  *zap.Logger
	now     func() time.Time
}

// Open connects to the database selected by cfg.Driver ("postgres" or "sqlite").
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.L()
	}
	switch cfg.Driver {
	case "", "postgres", "postgresql":
		return openPostgres(ctx, cfg, logger)
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, cfg.DSN, logger)
	default:
		return nil, eris.Errorf("repository: unknown driver %q", cfg.Driver)
	}
}

// openPostgres creates a pgx pool and wraps it as *sql.DB.
func openPostgres(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	logger.Info("connecting to database", zap.String("driver", dialect.Postgres))
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database dsn", zap.Error(err))
		return nil, eris.Wrap(err, "repository: parse dsn")
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "prescriptions-tracker"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return nil, eris.Wrap(err, "repository: connect")
	}

	logger.Info("successfully connected to database")
	return &DB{
		DB:      stdlib.OpenDBFromPool(pool),
		dialect: dialect.Postgres,
		pool:    pool,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// OpenSQLite opens a modernc SQLite database. ":memory:" gives a private
// in-memory database; the handle is limited to one connection so every
// statement sees the same database and foreign keys stay enforced.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.L()
	}
	if dsn == "" {
		dsn = ":memory:"
	}
	logger.Info("opening sqlite database", zap.String("dsn", dsn))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &DB{DB: db, dialect: dialect.SQLite, logger: logger, now: time.Now}, nil
}

// Dialect returns the ent dialect name ("postgres" or "sqlite3").
func (db *DB) Dialect() string { return db.dialect }

// Close closes the database connections gracefully.
func (db *DB) Close() error {
	db.logger.Info("closing database connections")
	err := db.DB.Close()
	if db.pool != nil {
		db.pool.Close()
	}
	if err != nil {
		db.logger.Error("failed to close database", zap.Error(err))
		return eris.Wrap(err, "repository: close")
	}
	db.logger.Info("database connections closed")
	return nil
}

// HealthCheck pings the database to catch DSN issues early.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	db.logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.logger.Error("database ping failed", zap.Error(err))
		return eris.Wrap(err, "repository: ping")
	}
	db.logger.Debug("database ping successful")
	return nil
}

func (db *DB) builder() *entsql.DialectBuilder { return entsql.Dialect(db.dialect) }

// timestamp returns the current time in a form both drivers round-trip.
func (db *DB) timestamp() time.Time {
	return db.now().UTC().Truncate(time.Microsecond)
}

func (db *DB) exec(ctx context.Context, q entsql.Querier) (sql.Result, error) {
	query, args := q.Query()
	return db.ExecContext(ctx, query, args...)
}

func (db *DB) query(ctx context.Context, q entsql.Querier) (*sql.Rows, error) {
	query, args := q.Query()
	return db.QueryContext(ctx, query, args...)
}

func (db *DB) queryRow(ctx context.Context, q entsql.Querier) *sql.Row {
	query, args := q.Query()
	return db.QueryRowContext(ctx, query, args...)
}
