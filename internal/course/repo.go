package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"presence/internal/store"
)

// Repo reads courses from the shared database.
type Repo struct {
	db *store.DB
}

// NewRepo creates a course repository.
func NewRepo(db *store.DB) *Repo {
	return &Repo{db: db}
}

// Get loads an active course and its slots.
func (r *Repo) Get(ctx context.Context, id string) (Course, error) {
	var (
		c        Course
		lat, lon sql.NullFloat64
	)
	err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(
		`SELECT id, code, name, professor_id, latitude, longitude, radius_meters, active
		 FROM courses WHERE id = ? AND active = TRUE`), id,
	).Scan(&c.ID, &c.Code, &c.Name, &c.ProfessorID, &lat, &lon, &c.RadiusMeters, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrNotFound
	}
	if err != nil {
		return Course{}, fmt.Errorf("load course %s: %w", id, err)
	}
	if lat.Valid && lon.Valid {
		c.Latitude, c.Longitude = &lat.Float64, &lon.Float64
	}

	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(
		`SELECT day_of_week, start_time, end_time FROM course_slots
		 WHERE course_id = ? ORDER BY position`), id)
	if err != nil {
		return Course{}, fmt.Errorf("load slots of %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.DayOfWeek, &s.Start, &s.End); err != nil {
			return Course{}, err
		}
		c.Slots = append(c.Slots, s)
	}
	return c, rows.Err()
}

// Location loads only the geofence of a course.
func (r *Repo) Location(ctx context.Context, id string) (Location, error) {
	var (
		lat, lon sql.NullFloat64
		radius   float64
	)
	err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(
		`SELECT latitude, longitude, radius_meters FROM courses WHERE id = ? AND active = TRUE`), id,
	).Scan(&lat, &lon, &radius)
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, fmt.Errorf("load location of %s: %w", id, err)
	}
	if !lat.Valid || !lon.Valid {
		return Location{Radius: radius}, nil
	}
	return Location{Lat: lat.Float64, Lon: lon.Float64, Radius: radius, Set: true}, nil
}

// IsEnrolled reports whether the student is enrolled in the course.
func (r *Repo) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	var n int
	err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(
		`SELECT COUNT(*) FROM enrollments WHERE course_id = ? AND student_id = ?`),
		courseID, studentID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return n > 0, nil
}

// Enrolled lists the students of a course in enrollment order.
func (r *Repo) Enrolled(ctx context.Context, courseID string) ([]Student, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(
		`SELECT u.id, u.name, e.enrolled_at
		 FROM enrollments e
		 JOIN users u ON u.id = e.student_id
		 WHERE e.course_id = ?
		 ORDER BY e.enrolled_at, u.id`), courseID)
	if err != nil {
		return nil, fmt.Errorf("list enrolled: %w", err)
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var (
			s  Student
			at store.Timestamp
		)
		if err := rows.Scan(&s.ID, &s.Name, &at); err != nil {
			return nil, err
		}
		s.EnrolledAt = at.Time
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateUser inserts or refreshes a mirrored user account.
func (r *Repo) CreateUser(ctx context.Context, u User) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO users (id, name, email, role, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email, role = excluded.role`),
		u.ID, u.Name, u.Email, string(u.Role), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.ID, err)
	}
	return nil
}

// CreateCourse inserts a course together with its slots.
func (r *Repo) CreateCourse(ctx context.Context, c Course) error {
	tx, err := r.db.Client.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var lat, lon sql.NullFloat64
	if c.Latitude != nil && c.Longitude != nil {
		lat = sql.NullFloat64{Float64: *c.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: *c.Longitude, Valid: true}
	}
	_, err = tx.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO courses (id, code, name, professor_id, latitude, longitude, radius_meters, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Code, c.Name, c.ProfessorID, lat, lon, c.RadiusMeters, c.Active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("create course %s: %w", c.ID, err)
	}
	for i, s := range c.Slots {
		_, err = tx.ExecContext(ctx, r.db.Rebind(
			`INSERT INTO course_slots (course_id, position, day_of_week, start_time, end_time)
			 VALUES (?, ?, ?, ?, ?)`),
			c.ID, i, s.DayOfWeek, s.Start, s.End,
		)
		if err != nil {
			return fmt.Errorf("create slot %d of %s: %w", i, c.ID, err)
		}
	}
	return tx.Commit()
}

// Enroll adds a student to a course. Re-enrolling is a no-op.
func (r *Repo) Enroll(ctx context.Context, courseID, studentID string, at time.Time) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO enrollments (course_id, student_id, enrolled_at) VALUES (?, ?, ?)
		 ON CONFLICT (course_id, student_id) DO NOTHING`),
		courseID, studentID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("enroll %s in %s: %w", studentID, courseID, err)
	}
	return nil
}
