package uas

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenDB opens a Bun database for driver ("sqlite" or "postgres").
func OpenDB(driver, dsn string) (*bun.DB, error) {
	switch driver {
	case DriverSQLite:
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, serverError(err, "failed to open sqlite database")
		}
		// in-memory databases live per connection
		sqldb.SetMaxOpenConns(1)

		db := bun.NewDB(sqldb, sqlitedialect.New())
		if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			_ = db.Close()
			return nil, serverError(err, "failed to enable sqlite foreign keys")
		}
		return db, nil
	case DriverPostgres:
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, serverError(err, "failed to open postgres database")
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return nil, goerrors.New(fmt.Sprintf("unsupported database driver %q", driver), goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}
}

// goose keeps its base FS, dialect and logger in package globals.
var migrateMu sync.Mutex

type migrateOptions struct {
	logger Logger
}

// MigrateOption customizes Migrate.
type MigrateOption func(*migrateOptions)

// WithMigrationLogger receives goose's progress lines at debug level.
// Without it migrations run silently.
func WithMigrationLogger(logger Logger) MigrateOption {
	return func(o *migrateOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Migrate applies the embedded migrations for the database dialect.
func Migrate(ctx context.Context, db *bun.DB, opts ...MigrateOption) error {
	options := migrateOptions{logger: NoopLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	dir, gooseDialect := "sqlite", "sqlite3"
	if db.Dialect().Name() == dialect.PG {
		dir, gooseDialect = "postgres", "postgres"
	}

	sub, err := fs.Sub(GetMigrationsFS(), "data/sql/migrations/"+dir)
	if err != nil {
		return serverError(err, "failed to load migrations")
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(sub)
	defer goose.SetBaseFS(nil)

	goose.SetLogger(gooseLogger{logger: options.logger})
	defer goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(gooseDialect); err != nil {
		return serverError(err, "failed to set migration dialect")
	}

	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return serverError(err, "failed to apply migrations")
	}
	return nil
}

// gooseLogger adapts Logger to goose's printf style logger.
type gooseLogger struct {
	logger Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs instead of exiting.
func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
