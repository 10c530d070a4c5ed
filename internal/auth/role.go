package auth

import "fmt"

// Role is the closed set of account kinds known to the attendance service.
type Role string

const (
	RoleStudent   Role = "STUDENT"
	RoleProfessor Role = "PROFESSOR"
	RoleAdmin     Role = "ADMIN"
)

// ParseRole accepts exactly one of the three known roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStudent, RoleProfessor, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string { return string(r) }

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Role   Role
}
