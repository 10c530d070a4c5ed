package store

import (
	"context"
	"fmt"
)

// schema is shared by Postgres and SQLite. Meeting dates are stored as
// "YYYY-MM-DD" text so both engines compare them the same way.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		email       TEXT UNIQUE NOT NULL,
		role        TEXT NOT NULL CHECK (role IN ('STUDENT', 'PROFESSOR', 'ADMIN')),
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id            TEXT PRIMARY KEY,
		code          TEXT UNIQUE NOT NULL,
		name          TEXT NOT NULL,
		professor_id  TEXT NOT NULL REFERENCES users(id),
		latitude      DOUBLE PRECISION,
		longitude     DOUBLE PRECISION,
		radius_meters DOUBLE PRECISION NOT NULL DEFAULT 50,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS course_slots (
		course_id   TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		position    INTEGER NOT NULL,
		day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
		start_time  TEXT NOT NULL,
		end_time    TEXT NOT NULL,
		PRIMARY KEY (course_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		course_id   TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		student_id  TEXT NOT NULL REFERENCES users(id),
		enrolled_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (course_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		course_id    TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		meeting_date TEXT NOT NULL,
		student_id   TEXT NOT NULL REFERENCES users(id),
		status       TEXT NOT NULL CHECK (status IN ('NONE', 'PRESENT', 'LATE', 'ABSENT')),
		source       TEXT NOT NULL CHECK (source IN ('automatic', 'manual')),
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (course_id, meeting_date, student_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_student ON attendance_records(student_id, meeting_date)`,
	`CREATE TABLE IF NOT EXISTS attendance_audit (
		id           TEXT PRIMARY KEY,
		event_type   TEXT NOT NULL,
		course_id    TEXT NOT NULL,
		meeting_date TEXT NOT NULL,
		student_id   TEXT NOT NULL DEFAULT '',
		old_status   TEXT NOT NULL DEFAULT '',
		new_status   TEXT NOT NULL DEFAULT '',
		source       TEXT NOT NULL DEFAULT '',
		actor        TEXT NOT NULL DEFAULT '',
		changed      INTEGER NOT NULL DEFAULT 0,
		occurred_at  TIMESTAMPTZ NOT NULL,
		recorded_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_meeting ON attendance_audit(course_id, meeting_date)`,
}

// Migrate creates the schema if it does not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	tx, err := d.Client.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: statement %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit: %w", err)
	}
	return nil
}
