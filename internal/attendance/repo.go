package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"presence/internal/store"
)

// Repository persists attendance records. Every state change is a single
// statement so concurrent writers cannot produce duplicate or half-written
// rows.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `course_id, meeting_date, student_id, status, source, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec     Record
		created store.Timestamp
		updated store.Timestamp
		status  string
		source  string
	)
	if err := row.Scan(&rec.CourseID, &rec.Date, &rec.StudentID, &status, &source, &created, &updated); err != nil {
		return Record{}, err
	}
	rec.Status, rec.Source = Status(status), Source(source)
	rec.CreatedAt, rec.UpdatedAt = created.Time, updated.Time
	return rec, nil
}

// enrolledInsert builds an INSERT that only produces a row when the
// student is enrolled, resolving conflicts with onConflict.
func (r *Repository) enrolledInsert(onConflict string, singleStudent bool) string {
	text, ts := r.db.Typed("TEXT"), r.db.Typed("TIMESTAMPTZ")
	q := `INSERT INTO attendance_records (` + recordColumns + `)
		SELECT e.course_id, ` + text + `, e.student_id, ` + text + `, ` + text + `, ` + ts + `, ` + ts + `
		FROM enrollments e
		WHERE e.course_id = ?`
	if singleStudent {
		q += ` AND e.student_id = ?`
	}
	return r.db.Rebind(q + `
		ON CONFLICT (course_id, meeting_date, student_id) ` + onConflict)
}

// CheckIn writes status for the student unless the record already shows
// PRESENT or LATE. ok is false when no row was written.
func (r *Repository) CheckIn(ctx context.Context, courseID, date, studentID string, status Status, now time.Time) (rec Record, ok bool, err error) {
	q := r.enrolledInsert(`DO UPDATE
		SET status = excluded.status, source = excluded.source, updated_at = excluded.updated_at
		WHERE attendance_records.status NOT IN ('PRESENT', 'LATE')
		RETURNING `+recordColumns, true)

	now = now.UTC()
	rec, err = scanRecord(r.db.Client.QueryRowContext(ctx, q,
		date, string(status), string(SourceAutomatic), now, now, courseID, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("check in %s/%s/%s: %w", courseID, date, studentID, err)
	}
	return rec, true, nil
}

// Get returns the record for one student at one meeting.
func (r *Repository) Get(ctx context.Context, courseID, date, studentID string) (Record, error) {
	rec, err := scanRecord(r.db.Client.QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+recordColumns+` FROM attendance_records
		 WHERE course_id = ? AND meeting_date = ? AND student_id = ?`),
		courseID, date, studentID))
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// EnsureSheet creates NONE records for enrolled students that have none.
func (r *Repository) EnsureSheet(ctx context.Context, courseID, date string, now time.Time) error {
	now = now.UTC()
	_, err := r.db.Client.ExecContext(ctx, r.enrolledInsert(`DO NOTHING`, false),
		date, string(StatusNone), string(SourceAutomatic), now, now, courseID)
	if err != nil {
		return fmt.Errorf("materialise sheet %s/%s: %w", courseID, date, err)
	}
	return nil
}

// Sheet lists one entry per enrolled student in enrollment order.
func (r *Repository) Sheet(ctx context.Context, courseID, date string) ([]SheetEntry, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(
		`SELECT u.id, u.name, COALESCE(ar.status, 'NONE'), COALESCE(ar.source, 'automatic'), ar.updated_at
		 FROM enrollments e
		 JOIN users u ON u.id = e.student_id
		 LEFT JOIN attendance_records ar
		   ON ar.course_id = e.course_id AND ar.student_id = e.student_id AND ar.meeting_date = ?
		 WHERE e.course_id = ?
		 ORDER BY e.enrolled_at, u.id`), date, courseID)
	if err != nil {
		return nil, fmt.Errorf("list sheet %s/%s: %w", courseID, date, err)
	}
	defer rows.Close()

	entries := []SheetEntry{}
	for rows.Next() {
		var (
			e       SheetEntry
			status  string
			source  string
			updated store.Timestamp
		)
		if err := rows.Scan(&e.StudentID, &e.StudentName, &status, &source, &updated); err != nil {
			return nil, err
		}
		e.Status, e.Source, e.UpdatedAt = Status(status), Source(source), updated.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetStatus overwrites the record of an enrolled student and returns it
// with the status it replaced (NONE when there was no record). ok is false
// when the student is not enrolled.
func (r *Repository) SetStatus(ctx context.Context, courseID, date, studentID string, status Status, now time.Time) (rec Record, previous Status, ok bool, err error) {
	tx, err := r.db.Client.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, "", false, err
	}
	defer tx.Rollback() //nolint:errcheck

	previous = StatusNone
	var old string
	err = tx.QueryRowContext(ctx, r.db.Rebind(
		`SELECT status FROM attendance_records WHERE course_id = ? AND meeting_date = ? AND student_id = ?`),
		courseID, date, studentID).Scan(&old)
	switch {
	case err == nil:
		previous = Status(old)
	case !errors.Is(err, sql.ErrNoRows):
		return Record{}, "", false, fmt.Errorf("read previous status: %w", err)
	}

	q := r.enrolledInsert(`DO UPDATE
		SET status = excluded.status, source = excluded.source, updated_at = excluded.updated_at
		RETURNING `+recordColumns, true)
	now = now.UTC()
	rec, err = scanRecord(tx.QueryRowContext(ctx, q,
		date, string(status), string(SourceManual), now, now, courseID, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, "", false, nil
	}
	if err != nil {
		return Record{}, "", false, fmt.Errorf("set status %s/%s/%s: %w", courseID, date, studentID, err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, "", false, err
	}
	return rec, previous, true, nil
}

// MarkAbsent turns every enrolled student without a final status into
// ABSENT in one statement and returns the students it changed.
func (r *Repository) MarkAbsent(ctx context.Context, courseID, date string, now time.Time) ([]string, error) {
	q := r.enrolledInsert(`DO UPDATE
		SET status = excluded.status, source = excluded.source, updated_at = excluded.updated_at
		WHERE attendance_records.status = 'NONE'
		RETURNING student_id`, false)

	now = now.UTC()
	rows, err := r.db.Client.QueryContext(ctx, q,
		date, string(StatusAbsent), string(SourceManual), now, now, courseID)
	if err != nil {
		return nil, fmt.Errorf("mark absent %s/%s: %w", courseID, date, err)
	}
	defer rows.Close()

	changed := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		changed = append(changed, id)
	}
	return changed, rows.Err()
}

// RecordFilter narrows ListRecords. Empty fields do not filter.
type RecordFilter struct {
	StudentID   string
	ProfessorID string
	CourseID    string
	Date        string
	Limit       int
	Offset      int
}

// ListRecords returns records newest meeting first.
func (r *Repository) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `SELECT ar.course_id, ar.meeting_date, ar.student_id, ar.status, ar.source, ar.created_at, ar.updated_at
		FROM attendance_records ar`
	var (
		args    []any
		clauses []string
	)
	if f.ProfessorID != "" {
		query += ` JOIN courses c ON c.id = ar.course_id`
		clauses = append(clauses, "c.professor_id = ?")
		args = append(args, f.ProfessorID)
	}
	if f.StudentID != "" {
		clauses = append(clauses, "ar.student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.CourseID != "" {
		clauses = append(clauses, "ar.course_id = ?")
		args = append(args, f.CourseID)
	}
	if f.Date != "" {
		clauses = append(clauses, "ar.meeting_date = ?")
		args = append(args, f.Date)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY ar.meeting_date DESC, ar.course_id, ar.student_id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	res := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
