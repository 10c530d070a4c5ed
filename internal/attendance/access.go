package attendance

import (
	"context"
	"errors"
	"fmt"

	"presence/internal/auth"
	"presence/internal/course"
)

// AuthorizeInstructor loads the course and checks that p may run it:
// admins always, professors only for their own courses, students never.
func AuthorizeInstructor(ctx context.Context, courses course.Reader, p auth.Principal, courseID string) (course.Course, error) {
	c, err := courses.Get(ctx, courseID)
	if errors.Is(err, course.ErrNotFound) {
		return course.Course{}, ErrNoSuchCourse
	}
	if err != nil {
		return course.Course{}, err
	}

	switch p.Role {
	case auth.RoleAdmin:
		return c, nil
	case auth.RoleProfessor:
		if c.ProfessorID == p.UserID {
			return c, nil
		}
		return course.Course{}, ErrNotInstructorOfCourse
	case auth.RoleStudent:
		return course.Course{}, ErrNotInstructorOfCourse
	default:
		return course.Course{}, fmt.Errorf("unknown role %q", p.Role)
	}
}
