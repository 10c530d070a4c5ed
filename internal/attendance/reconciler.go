package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"presence/internal/auth"
	"presence/internal/calendar"
	"presence/internal/course"
	"presence/internal/metrics"
)

// Reconciler lets an instructor review and correct an attendance sheet.
// Manual edits overwrite whatever a check-in wrote.
type Reconciler struct {
	repo    *Repository
	courses course.Reader
	now     func() time.Time
	events  Publisher
	log     zerolog.Logger
}

// NewReconciler creates a reconciler. Only Now, Events and Logger of opts are used.
func NewReconciler(repo *Repository, courses course.Reader, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{repo: repo, courses: courses, now: opts.Now, events: opts.Events, log: opts.Logger}
}

func (r *Reconciler) authorize(ctx context.Context, p auth.Principal, courseID, date string) (string, error) {
	d, err := calendar.ParseDate(date)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	if _, err := AuthorizeInstructor(ctx, r.courses, p, courseID); err != nil {
		return "", err
	}
	return d, nil
}

// ListSheet returns one entry per enrolled student in enrollment order,
// creating NONE records for students who have none yet.
func (r *Reconciler) ListSheet(ctx context.Context, p auth.Principal, courseID, date string) ([]SheetEntry, error) {
	d, err := r.authorize(ctx, p, courseID, date)
	if err != nil {
		return nil, err
	}
	if err := r.repo.EnsureSheet(ctx, courseID, d, r.now()); err != nil {
		return nil, err
	}
	return r.repo.Sheet(ctx, courseID, d)
}

// SetStatus overwrites one student's status. Promotion and demotion are
// both allowed; NONE cannot be set.
func (r *Reconciler) SetStatus(ctx context.Context, p auth.Principal, courseID, date, studentID string, status Status) (Record, error) {
	if _, err := ParseSettable(string(status)); err != nil {
		return Record{}, err
	}
	d, err := r.authorize(ctx, p, courseID, date)
	if err != nil {
		return Record{}, err
	}

	rec, previous, ok, err := r.repo.SetStatus(ctx, courseID, d, studentID, status, r.now())
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrStudentNotEnrolled
	}

	metrics.ManualUpdates.WithLabelValues("set_status").Inc()
	r.log.Info().
		Str("course_id", courseID).
		Str("date", d).
		Str("student_id", studentID).
		Str("from", string(previous)).
		Str("to", string(status)).
		Str("actor", p.UserID).
		Msg("status set")
	emit(ctx, r.events, r.log, EventStatusSet, Event{
		CourseID:   courseID,
		Date:       d,
		StudentID:  studentID,
		OldStatus:  previous,
		NewStatus:  rec.Status,
		Source:     rec.Source,
		Actor:      p.UserID,
		Changed:    1,
		OccurredAt: rec.UpdatedAt,
	})
	return rec, nil
}

// BatchMarkAbsent closes the sheet: every enrolled student still NONE (or
// without a record) becomes ABSENT. Final statuses are left alone. Returns
// how many records changed.
func (r *Reconciler) BatchMarkAbsent(ctx context.Context, p auth.Principal, courseID, date string) (int, error) {
	d, err := r.authorize(ctx, p, courseID, date)
	if err != nil {
		return 0, err
	}
	now := r.now()
	changed, err := r.repo.MarkAbsent(ctx, courseID, d, now)
	if err != nil {
		return 0, err
	}

	metrics.ManualUpdates.WithLabelValues("mark_absent").Add(float64(len(changed)))
	r.log.Info().
		Str("course_id", courseID).
		Str("date", d).
		Int("changed", len(changed)).
		Str("actor", p.UserID).
		Msg("sheet closed")
	emit(ctx, r.events, r.log, EventSheetClosed, Event{
		CourseID:   courseID,
		Date:       d,
		OldStatus:  StatusNone,
		NewStatus:  StatusAbsent,
		Source:     SourceManual,
		Actor:      p.UserID,
		Changed:    len(changed),
		OccurredAt: now.UTC(),
	})
	return len(changed), nil
}

// ListRecords returns the records visible to p: students see their own,
// professors those of their courses, admins everything.
func (r *Reconciler) ListRecords(ctx context.Context, p auth.Principal, f RecordFilter) ([]Record, error) {
	if f.Date != "" {
		d, err := calendar.ParseDate(f.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDate, err)
		}
		f.Date = d
	}

	switch p.Role {
	case auth.RoleStudent:
		f.StudentID, f.ProfessorID = p.UserID, ""
	case auth.RoleProfessor:
		f.ProfessorID = p.UserID
	case auth.RoleAdmin:
	default:
		return nil, fmt.Errorf("unknown role %q", p.Role)
	}
	return r.repo.ListRecords(ctx, f)
}
