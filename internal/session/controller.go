package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"presence/internal/codegen"
	"presence/internal/metrics"
)

// Options tunes a Controller.
type Options struct {
	SessionTTL time.Duration
	CodeTTL    time.Duration
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Controller manages session lifecycle and code rotation.
type Controller struct {
	store      Store
	gen        *codegen.Generator
	sessionTTL time.Duration
	codeTTL    time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewController creates a controller over store.
func NewController(store Store, gen *codegen.Generator, opts Options) *Controller {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 4 * time.Hour
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if gen == nil {
		gen = codegen.New(codegen.DefaultLength)
	}
	return &Controller{
		store:      store,
		gen:        gen,
		sessionTTL: opts.SessionTTL,
		codeTTL:    opts.CodeTTL,
		now:        opts.Now,
		log:        opts.Logger,
	}
}

// Activate opens the session for key, or rotates its code when it is
// already active. Rotation never moves the session expiry.
func (c *Controller) Activate(ctx context.Context, key Key) (Snapshot, error) {
	now := c.now()
	var rotated bool

	s, err := c.store.Update(ctx, key, func(cur *Session) (*Session, error) {
		next := cur.clone()
		rotated = next != nil && !next.Expired(now)
		if !rotated {
			next = &Session{
				Key:         key,
				ActivatedAt: now,
				ExpiresAt:   now.Add(c.sessionTTL),
			}
		}

		value, err := c.gen.Next(next.used)
		if err != nil {
			return nil, err
		}
		expires := now.Add(c.codeTTL)
		if expires.After(next.ExpiresAt) {
			expires = next.ExpiresAt
		}
		next.Current = Code{Value: value, IssuedAt: now, ExpiresAt: expires}
		next.History = append(next.History, value)
		return next, nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("activate %s: %w", key, err)
	}

	kind := "activate"
	if rotated {
		kind = "rotate"
	}
	metrics.CodesIssued.WithLabelValues(kind).Inc()
	c.log.Debug().
		Str("course_id", key.CourseID).
		Str("date", key.Date).
		Str("kind", kind).
		Time("session_expires_at", s.ExpiresAt).
		Msg("code issued")

	return snapshotOf(s), nil
}

// CurrentCode returns the active code of key.
func (c *Controller) CurrentCode(ctx context.Context, key Key) (Snapshot, error) {
	s, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}, ErrNoActiveSession
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load session %s: %w", key, err)
	}
	if s.Expired(c.now()) {
		return Snapshot{}, ErrSessionExpired
	}
	return snapshotOf(s), nil
}

// Validate reports whether submitted is the current code of an active
// session. The code superseded by the latest rotation never validates.
func (c *Controller) Validate(ctx context.Context, key Key, submitted string) (bool, error) {
	s, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session %s: %w", key, err)
	}

	now := c.now()
	if s.Expired(now) || !now.Before(s.Current.ExpiresAt) {
		return false, nil
	}
	if len(submitted) != len(s.Current.Value) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(s.Current.Value)) == 1, nil
}

// Status returns the lifecycle state of key and how long the session stays
// open. Remaining is zero unless the session is active.
func (c *Controller) Status(ctx context.Context, key Key) (Status, error) {
	s, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Status{Key: key, State: StateInactive}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("load session %s: %w", key, err)
	}
	now := c.now()
	st := Status{Key: key, State: s.State(now), SessionExpiresAt: s.ExpiresAt}
	if st.State == StateActive {
		st.Remaining = s.ExpiresAt.Sub(now)
	}
	return st, nil
}

// Close destroys the session of key. Closing an unknown session is a no-op.
func (c *Controller) Close(ctx context.Context, key Key) error {
	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("close session %s: %w", key, err)
	}
	metrics.SessionsClosed.Inc()
	c.log.Info().Str("course_id", key.CourseID).Str("date", key.Date).Msg("session closed")
	return nil
}
