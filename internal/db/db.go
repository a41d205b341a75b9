// Package db persists the dataset graph and the capture progress cursor in
// SQLite. Schema changes are applied with embedded golang-migrate migrations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrDirtySchema is returned when a previous migration failed mid-way.
var ErrDirtySchema = errors.New("database schema is dirty")

// ErrSchemaOutdated is returned when migrations are pending.
var ErrSchemaOutdated = errors.New("database schema is out of date")

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

type DB struct {
	*sql.DB
	path string
	log  *zap.SugaredLogger
}

type Option func(*DB)

// WithLogger sets the logger used for migration and maintenance messages.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(db *DB) {
		if l != nil {
			db.log = l
		}
	}
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// OpenDB opens the database at path without touching the schema.
func OpenDB(path string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := sqlDB.PingContext(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db := &DB{DB: sqlDB, path: path, log: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(db)
	}
	return db, nil
}

// NewDB opens the database at path and applies any pending migrations.
func NewDB(path string, opts ...Option) (*DB, error) {
	db, err := OpenDB(path, opts...)
	if err != nil {
		return nil, err
	}
	fsys, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(fsys); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewDBWithMigrationCheck opens the database at path. With autoMigrate it
// behaves like NewDB; otherwise it refuses a database whose schema is dirty
// or behind the embedded migrations.
func NewDBWithMigrationCheck(path string, autoMigrate bool, opts ...Option) (*DB, error) {
	if autoMigrate {
		return NewDB(path, opts...)
	}
	db, err := OpenDB(path, opts...)
	if err != nil {
		return nil, err
	}
	fsys, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.CheckMigrations(fsys); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }
