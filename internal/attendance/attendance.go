// Package attendance records who attended which course meeting. Students
// check in with the rotating code and their location; instructors review
// the resulting sheet and correct it by hand.
package attendance

import (
	"errors"
	"fmt"
	"time"
)

// Status of one student for one meeting.
type Status string

const (
	StatusNone    Status = "NONE"
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
)

// ParseSettable accepts the statuses an instructor may assign. NONE is
// never settable.
func ParseSettable(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPresent, StatusLate, StatusAbsent:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Attended reports whether the status counts as a completed check-in.
func (s Status) Attended() bool { return s == StatusPresent || s == StatusLate }

// Source tells whether a record was last written by a check-in or by hand.
type Source string

const (
	SourceAutomatic Source = "automatic"
	SourceManual    Source = "manual"
)

// Record is the attendance of one student at one course meeting.
type Record struct {
	CourseID  string    `json:"course_id"`
	Date      string    `json:"date"`
	StudentID string    `json:"student_id"`
	Status    Status    `json:"status"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SheetEntry is one row of the instructor's attendance sheet.
type SheetEntry struct {
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	Status      Status    `json:"status"`
	Source      Source    `json:"source"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Business rule violations. Handlers map them to client errors.
var (
	ErrNoSuchCourse          = errors.New("no such course")
	ErrNotInstructorOfCourse = errors.New("caller is not the instructor of this course")
	ErrCodeInvalidOrExpired  = errors.New("invalid or expired code")
	ErrLocationOutOfRange    = errors.New("location out of range")
	ErrCourseLocationUnset   = errors.New("course location not configured")
	ErrAlreadyCheckedIn      = errors.New("already checked in")
	ErrStudentNotEnrolled    = errors.New("student not enrolled in course")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrInvalidCoordinates    = errors.New("invalid coordinates")
	ErrInvalidDate           = errors.New("invalid date")
)

// OutOfRangeError carries how far the student was from the classroom.
type OutOfRangeError struct {
	Distance float64
	Radius   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("location verification failed: distance %.2fm (allowed %.0fm)", e.Distance, e.Radius)
}

// Is makes errors.Is(err, ErrLocationOutOfRange) hold.
func (e *OutOfRangeError) Is(target error) bool { return target == ErrLocationOutOfRange }
