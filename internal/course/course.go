// Package course reads the courses, schedules and enrollments owned by the
// course catalogue. Attendance never edits them; the write helpers here
// exist for seeding and tests.
package course

import (
	"context"
	"errors"
	"time"

	"presence/internal/auth"
	"presence/internal/calendar"
)

// ErrNotFound is returned for unknown or inactive courses.
var ErrNotFound = errors.New("course not found")

// Slot is one weekly meeting. DayOfWeek uses 0 = Monday.
type Slot struct {
	DayOfWeek int    `json:"day_of_week" yaml:"day_of_week"`
	Start     string `json:"start" yaml:"start"`
	End       string `json:"end" yaml:"end"`
}

// Course is a class with an optional registered classroom location.
type Course struct {
	ID           string   `json:"id"`
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	ProfessorID  string   `json:"professor_id"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	RadiusMeters float64  `json:"radius_meters"`
	Active       bool     `json:"active"`
	Slots        []Slot   `json:"slots"`
}

// Location returns the geofence of the course.
func (c Course) Location() Location {
	if c.Latitude == nil || c.Longitude == nil {
		return Location{Radius: c.RadiusMeters}
	}
	return Location{Lat: *c.Latitude, Lon: *c.Longitude, Radius: c.RadiusMeters, Set: true}
}

// StartOn returns the start of the first slot scheduled on the calendar
// day of t, evaluated in t's location.
func (c Course) StartOn(t time.Time) (time.Time, bool) {
	day := calendar.Weekday(t)
	for _, s := range c.Slots {
		if s.DayOfWeek != day {
			continue
		}
		start, err := calendar.ClockOn(t, s.Start)
		if err != nil {
			continue
		}
		return start, true
	}
	return time.Time{}, false
}

// Location is the registered classroom geofence.
type Location struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Radius float64 `json:"radius"`
	Set    bool    `json:"set"`
}

// Usable reports whether check-ins can be validated against the location.
func (l Location) Usable() bool { return l.Set && l.Radius > 0 }

// Student is an enrolled student as shown on an attendance sheet.
type Student struct {
	ID         string
	Name       string
	EnrolledAt time.Time
}

// User mirrors an account of the identity service.
type User struct {
	ID    string
	Name  string
	Email string
	Role  auth.Role
}

// Reader is what attendance needs from the course catalogue.
type Reader interface {
	Get(ctx context.Context, id string) (Course, error)
	Location(ctx context.Context, id string) (Location, error)
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
}
