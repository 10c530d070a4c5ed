package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"presence/internal/calendar"
	"presence/internal/course"
	"presence/internal/geofence"
	"presence/internal/metrics"
	"presence/internal/session"
)

// CodeValidator checks a submitted rotating code.
type CodeValidator interface {
	Validate(ctx context.Context, key session.Key, submitted string) (bool, error)
}

// CheckInRequest is what a student's device submits.
type CheckInRequest struct {
	CourseID string
	Code     string
	Lat      float64
	Lon      float64
}

// Options tunes the check-in service.
type Options struct {
	// Location decides which calendar day "today" is.
	Location *time.Location
	// LateGrace is how long after the scheduled slot start a check-in still
	// counts as PRESENT. Zero disables LATE entirely.
	LateGrace time.Duration
	Now       func() time.Time
	Events    Publisher
	Logger    zerolog.Logger
}

// Service validates and records student check-ins.
type Service struct {
	repo      *Repository
	courses   course.Reader
	codes     CodeValidator
	loc       *time.Location
	lateGrace time.Duration
	now       func() time.Time
	events    Publisher
	log       zerolog.Logger
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository, courses course.Reader, codes CodeValidator, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:      repo,
		courses:   courses,
		codes:     codes,
		loc:       opts.Location,
		lateGrace: opts.LateGrace,
		now:       opts.Now,
		events:    opts.Events,
		log:       opts.Logger,
	}
}

// Today returns the meeting date check-ins are currently recorded under.
func (s *Service) Today() string { return calendar.DateOf(s.now(), s.loc) }

// CheckIn records the student as PRESENT (or LATE) for today's meeting.
// Nothing is written unless the code, the location and the at-most-once
// rule all pass.
func (s *Service) CheckIn(ctx context.Context, studentID string, req CheckInRequest) (Record, error) {
	rec, err := s.checkIn(ctx, studentID, req)
	metrics.CheckIns.WithLabelValues(checkInResult(err)).Inc()
	if err != nil {
		return Record{}, err
	}

	s.log.Info().
		Str("course_id", rec.CourseID).
		Str("date", rec.Date).
		Str("student_id", rec.StudentID).
		Str("status", string(rec.Status)).
		Msg("check-in recorded")
	emit(ctx, s.events, s.log, EventCheckedIn, Event{
		CourseID:   rec.CourseID,
		Date:       rec.Date,
		StudentID:  rec.StudentID,
		NewStatus:  rec.Status,
		Source:     rec.Source,
		Actor:      studentID,
		Changed:    1,
		OccurredAt: rec.UpdatedAt,
	})
	return rec, nil
}

func (s *Service) checkIn(ctx context.Context, studentID string, req CheckInRequest) (Record, error) {
	if !geofence.ValidCoordinate(req.Lat, req.Lon) {
		return Record{}, ErrInvalidCoordinates
	}
	loc, err := s.courses.Location(ctx, req.CourseID)
	if errors.Is(err, course.ErrNotFound) {
		return Record{}, ErrNoSuchCourse
	}
	if err != nil {
		return Record{}, err
	}

	now := s.now()
	key := session.Key{CourseID: req.CourseID, Date: calendar.DateOf(now, s.loc)}

	ok, err := s.codes.Validate(ctx, key, req.Code)
	if err != nil {
		return Record{}, fmt.Errorf("validate code: %w", err)
	}
	if !ok {
		return Record{}, ErrCodeInvalidOrExpired
	}

	if !loc.Usable() {
		return Record{}, ErrCourseLocationUnset
	}
	if d := geofence.Distance(loc.Lat, loc.Lon, req.Lat, req.Lon); d > loc.Radius {
		return Record{}, &OutOfRangeError{Distance: d, Radius: loc.Radius}
	}

	status, err := s.statusAt(ctx, req.CourseID, now)
	if err != nil {
		return Record{}, err
	}

	rec, written, err := s.repo.CheckIn(ctx, key.CourseID, key.Date, studentID, status, now)
	if err != nil {
		return Record{}, err
	}
	if written {
		return rec, nil
	}
	enrolled, err := s.courses.IsEnrolled(ctx, key.CourseID, studentID)
	if err != nil {
		return Record{}, err
	}
	if !enrolled {
		return Record{}, ErrStudentNotEnrolled
	}
	return Record{}, ErrAlreadyCheckedIn
}

// statusAt applies the late policy: LATE once the grace period after
// today's scheduled start has passed. Unscheduled days are always PRESENT.
func (s *Service) statusAt(ctx context.Context, courseID string, now time.Time) (Status, error) {
	if s.lateGrace <= 0 {
		return StatusPresent, nil
	}
	c, err := s.courses.Get(ctx, courseID)
	if errors.Is(err, course.ErrNotFound) {
		return "", ErrNoSuchCourse
	}
	if err != nil {
		return "", err
	}
	start, ok := c.StartOn(now.In(s.loc))
	if ok && now.After(start.Add(s.lateGrace)) {
		return StatusLate, nil
	}
	return StatusPresent, nil
}

func checkInResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCodeInvalidOrExpired):
		return "invalid_code"
	case errors.Is(err, ErrLocationOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrAlreadyCheckedIn):
		return "duplicate"
	case errors.Is(err, ErrStudentNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, ErrNoSuchCourse), errors.Is(err, ErrInvalidCoordinates), errors.Is(err, ErrCourseLocationUnset):
		return "rejected"
	default:
		return "error"
	}
}
