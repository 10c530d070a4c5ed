// Package session owns the attendance session of a (course, meeting date)
// pair and the rotating code that proves a student is in the room.
//
// A session moves INACTIVE -> ACTIVE on the first Activate call and ACTIVE
// -> EXPIRED once its absolute expiry passes. Every further Activate on an
// active session rotates the code without extending the session. Rotation
// is always driven by the instructor; nothing in this package runs on a
// timer.
package session

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a session.
type State string

const (
	StateInactive State = "INACTIVE"
	StateActive   State = "ACTIVE"
	StateExpired  State = "EXPIRED"
)

var (
	// ErrNoActiveSession is returned when a session was never activated.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionExpired is returned when the session's absolute expiry has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrNotFound is returned by stores for unknown keys.
	ErrNotFound = errors.New("session not found")
)

// Key identifies the session of one course meeting.
type Key struct {
	CourseID string `json:"course_id"`
	Date     string `json:"date"`
}

func (k Key) String() string { return k.CourseID + ":" + k.Date }

// Code is a rotating code and its validity window.
type Code struct {
	Value     string    `json:"value"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidFor is the length of the code's window.
func (c Code) ValidFor() time.Duration { return c.ExpiresAt.Sub(c.IssuedAt) }

// Session is the persisted state of one course meeting's attendance window.
type Session struct {
	Key         Key       `json:"key"`
	ActivatedAt time.Time `json:"activated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Current     Code      `json:"current"`
	History     []string  `json:"history"`
}

// Expired reports whether the absolute session expiry has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// State returns the lifecycle state at now.
func (s *Session) State(now time.Time) State {
	if s == nil {
		return StateInactive
	}
	if s.Expired(now) {
		return StateExpired
	}
	return StateActive
}

func (s *Session) used(code string) bool {
	for _, c := range s.History {
		if c == code {
			return true
		}
	}
	return false
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = append([]string(nil), s.History...)
	return &out
}

// Snapshot is what callers see of a session.
type Snapshot struct {
	Key              Key       `json:"key"`
	Code             Code      `json:"code"`
	ActivatedAt      time.Time `json:"activated_at"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
	Rotations        int       `json:"rotations"`
}

// Status reports where a session is in its lifecycle. SessionExpiresAt is
// zero for a session that was never activated.
type Status struct {
	Key              Key           `json:"key"`
	State            State         `json:"state"`
	Remaining        time.Duration `json:"-"`
	SessionExpiresAt time.Time     `json:"session_expires_at,omitempty"`
}

func snapshotOf(s *Session) Snapshot {
	return Snapshot{
		Key:              s.Key,
		Code:             s.Current,
		ActivatedAt:      s.ActivatedAt,
		SessionExpiresAt: s.ExpiresAt,
		Rotations:        len(s.History) - 1,
	}
}

// Store persists sessions. Update must apply fn atomically with respect to
// any other Update or Delete on the same key; fn receives nil when no
// session exists and may be invoked more than once.
type Store interface {
	Get(ctx context.Context, key Key) (*Session, error)
	Update(ctx context.Context, key Key, fn func(cur *Session) (*Session, error)) (*Session, error)
	Delete(ctx context.Context, key Key) error
}
