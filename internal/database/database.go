package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"sigsummary/internal/migrations"
	"sigsummary/internal/security"
)

// Database is the encrypted sqlite store. It is safe for concurrent use; the
// caller serializes writes that touch the same group.
type Database struct {
	db        *sqlx.DB
	encryptor *encryptor
	builder   sq.StatementBuilderType
	now       func() time.Time
}

func New(dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite has a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to ping database: %w", err))
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize encryptor: %w", err))
	}

	d := &Database{
		db:        db,
		encryptor: encryptor,
		builder:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:       time.Now,
	}

	if _, err := d.Migrate(context.Background()); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize schema: %w", err))
	}

	return d, nil
}

func closeWith(db *sqlx.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection for health endpoints
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate applies every migration not yet recorded in schema_migrations and
// returns the versions it applied.
func (d *Database) Migrate(ctx context.Context) ([]int, error) {
	if _, err := d.db.ExecContext(ctx, createSchemaMigrationsTable); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	all, err := migrations.Load()
	if err != nil {
		return nil, err
	}

	var appliedVersions []int
	if err := d.db.SelectContext(ctx, &appliedVersions, selectAppliedMigrations); err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	applied := make(map[int]bool, len(appliedVersions))
	for _, v := range appliedVersions {
		applied[v] = true
	}

	var ran []int
	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		err := d.inTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, insertAppliedMigration, m.Version, m.Name, d.now().UTC())
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("failed to apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
		ran = append(ran, m.Version)
	}

	return ran, nil
}

// SchemaVersion returns the highest applied migration version
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := d.db.GetContext(ctx, &version, selectSchemaVersion); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func (d *Database) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
