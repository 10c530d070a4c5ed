package course

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"presence/internal/auth"
)

// DefaultRadius is the geofence radius used when a roster leaves it out.
const DefaultRadius = 50

// Roster describes one course with its professor and students, as loaded
// by the seeding command.
type Roster struct {
	Professor RosterUser   `yaml:"professor"`
	Students  []RosterUser `yaml:"students"`
	Course    RosterCourse `yaml:"course"`
}

// RosterUser is a user listed in a roster. An empty ID is generated.
type RosterUser struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// RosterCourse is the course of a roster. An empty ID is generated.
type RosterCourse struct {
	ID           string   `yaml:"id"`
	Code         string   `yaml:"code"`
	Name         string   `yaml:"name"`
	Latitude     *float64 `yaml:"latitude"`
	Longitude    *float64 `yaml:"longitude"`
	RadiusMeters float64  `yaml:"radius_meters"`
	Slots        []Slot   `yaml:"slots"`
}

// LoadRoster decodes and validates a YAML roster. Unknown keys are rejected.
func LoadRoster(r io.Reader) (Roster, error) {
	var ro Roster
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ro); err != nil {
		return Roster{}, fmt.Errorf("decode roster: %w", err)
	}
	if err := ro.validate(); err != nil {
		return Roster{}, err
	}
	if ro.Course.RadiusMeters == 0 {
		ro.Course.RadiusMeters = DefaultRadius
	}
	return ro, nil
}

func (ro Roster) validate() error {
	var errs []error
	if ro.Professor.Name == "" || ro.Professor.Email == "" {
		errs = append(errs, errors.New("professor needs a name and an email"))
	}
	for i, s := range ro.Students {
		if s.Name == "" || s.Email == "" {
			errs = append(errs, fmt.Errorf("student %d needs a name and an email", i))
		}
	}
	c := ro.Course
	if c.Code == "" || c.Name == "" {
		errs = append(errs, errors.New("course needs a code and a name"))
	}
	if (c.Latitude == nil) != (c.Longitude == nil) {
		errs = append(errs, errors.New("course latitude and longitude go together"))
	}
	if c.Latitude != nil && c.Longitude != nil && (*c.Latitude < -90 || *c.Latitude > 90 || *c.Longitude < -180 || *c.Longitude > 180) {
		errs = append(errs, errors.New("course coordinates out of range"))
	}
	if c.RadiusMeters < 0 {
		errs = append(errs, errors.New("course radius must not be negative"))
	}
	for i, s := range c.Slots {
		if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
			errs = append(errs, fmt.Errorf("slot %d: day_of_week must be 0 (Monday) to 6", i))
		}
		start, err1 := time.Parse("15:04", s.Start)
		end, err2 := time.Parse("15:04", s.End)
		if err1 != nil || err2 != nil {
			errs = append(errs, fmt.Errorf("slot %d: times must be HH:MM", i))
		} else if !end.After(start) {
			errs = append(errs, fmt.Errorf("slot %d: end must be after start", i))
		}
	}
	return errors.Join(errs...)
}

// Seeded holds the ids a roster was written under.
type Seeded struct {
	CourseID    string
	ProfessorID string
	StudentIDs  []string
}

// Apply writes the roster through repo. Students are enrolled in roster
// order, starting at now.
func (ro Roster) Apply(ctx context.Context, repo *Repo, now time.Time) (Seeded, error) {
	prof := withID(ro.Professor)
	if err := repo.CreateUser(ctx, User{ID: prof.ID, Name: prof.Name, Email: prof.Email, Role: auth.RoleProfessor}); err != nil {
		return Seeded{}, err
	}

	out := Seeded{ProfessorID: prof.ID}
	for _, s := range ro.Students {
		s = withID(s)
		if err := repo.CreateUser(ctx, User{ID: s.ID, Name: s.Name, Email: s.Email, Role: auth.RoleStudent}); err != nil {
			return Seeded{}, err
		}
		out.StudentIDs = append(out.StudentIDs, s.ID)
	}

	c := ro.Course
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := repo.CreateCourse(ctx, Course{
		ID:           c.ID,
		Code:         c.Code,
		Name:         c.Name,
		ProfessorID:  prof.ID,
		Latitude:     c.Latitude,
		Longitude:    c.Longitude,
		RadiusMeters: c.RadiusMeters,
		Active:       true,
		Slots:        c.Slots,
	})
	if err != nil {
		return Seeded{}, err
	}
	out.CourseID = c.ID

	for i, id := range out.StudentIDs {
		if err := repo.Enroll(ctx, c.ID, id, now.Add(time.Duration(i)*time.Millisecond)); err != nil {
			return Seeded{}, err
		}
	}
	return out, nil
}

func withID(u RosterUser) RosterUser {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return u
}
