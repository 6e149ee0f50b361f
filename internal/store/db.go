package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults and applies the
// schema.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &DB{Client: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username             TEXT PRIMARY KEY,
		password_hash        TEXT NOT NULL,
		role                 TEXT NOT NULL,
		class                TEXT,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_password_change TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS students (
		id                  TEXT PRIMARY KEY,
		name                TEXT NOT NULL,
		age                 INTEGER NOT NULL,
		class               TEXT NOT NULL,
		roll                INTEGER NOT NULL,
		math_marks          INTEGER,
		science_marks       INTEGER,
		history_marks       INTEGER,
		english_marks       INTEGER,
		profile_picture     TEXT,
		has_profile_picture BOOLEAN NOT NULL DEFAULT FALSE,
		password_hash       TEXT NOT NULL,
		added_by            TEXT NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		is_deleted          BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_by          TEXT,
		deleted_at          TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_students_roll ON students (roll) WHERE NOT is_deleted;

	CREATE TABLE IF NOT EXISTS data_log (
		id         TEXT PRIMARY KEY,
		action     TEXT NOT NULL,
		payload    JSONB,
		actor_role TEXT NOT NULL,
		actor_name TEXT NOT NULL,
		when_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_data_log_when ON data_log (when_at DESC);

	CREATE TABLE IF NOT EXISTS clear_log (
		id         SERIAL PRIMARY KEY,
		cleared_by TEXT NOT NULL,
		cleared_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS cleared_snapshot (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		payload    JSONB NOT NULL,
		cleared_by TEXT NOT NULL,
		cleared_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attendance (
		student_roll       INTEGER NOT NULL,
		date               DATE NOT NULL,
		is_present         BOOLEAN NOT NULL DEFAULT FALSE,
		image_data         TEXT,
		verified_by        TEXT,
		verified_at        TIMESTAMPTZ,
		attempts_remaining INTEGER NOT NULL DEFAULT 3,
		attempt_history    JSONB NOT NULL DEFAULT '[]',
		final_status       TEXT NOT NULL DEFAULT 'pending',
		PRIMARY KEY (student_roll, date)
	);
	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance (student_roll, date DESC);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
