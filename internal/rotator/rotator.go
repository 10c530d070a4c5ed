// Package rotator drives code rotation from the instructor's device.
//
// A Controller owns two timed tasks for the selected course: one requests a
// fresh code every rotation interval, the other reports the remaining
// validity of the displayed code every tick. Both run under one cancellable
// context, so selecting another course or stopping tears them down together.
package rotator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Code is the code currently shown for a course.
type Code struct {
	CourseID  string
	Value     string
	ExpiresAt time.Time
}

// Source issues codes. In production it is the API's activate endpoint.
type Source interface {
	Activate(ctx context.Context, courseID string) (Code, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, courseID string) (Code, error)

// Activate calls f.
func (f SourceFunc) Activate(ctx context.Context, courseID string) (Code, error) {
	return f(ctx, courseID)
}

// Options configure a Controller.
type Options struct {
	RotateEvery time.Duration
	TickEvery   time.Duration
	Now         func() time.Time

	// OnCode is called after each successful rotation.
	OnCode func(Code)
	// OnTick is called every tick with the remaining validity, never negative.
	OnTick func(c Code, remaining time.Duration)
	// OnError is called when a scheduled rotation fails. The schedule continues.
	OnError func(error)

	Logger zerolog.Logger
}

var (
	// ErrNoSelection is returned by Current when nothing is selected.
	ErrNoSelection = errors.New("no course selected")
	// ErrSelectionCancelled is returned by Select when Stop or another
	// Select overtakes its first rotation.
	ErrSelectionCancelled = errors.New("selection cancelled")
)

// Controller schedules rotation and countdown for one selected course.
type Controller struct {
	src  Source
	opts Options

	// mu guards the schedule but is never held across a Source call;
	// codeMu guards the displayed code and is the only lock the tasks take.
	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	gen    uint64

	codeMu  sync.Mutex
	current Code
	active  bool
}

// New creates an idle controller.
func New(src Source, opts Options) *Controller {
	if opts.RotateEvery <= 0 {
		opts.RotateEvery = 30 * time.Second
	}
	if opts.TickEvery <= 0 {
		opts.TickEvery = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnCode == nil {
		opts.OnCode = func(Code) {}
	}
	if opts.OnTick == nil {
		opts.OnTick = func(Code, time.Duration) {}
	}
	if opts.OnError == nil {
		opts.OnError = func(error) {}
	}
	return &Controller{src: src, opts: opts}
}

// Select stops any running schedule, rotates once for courseID and starts
// the rotation and countdown tasks. If the first rotation fails nothing is
// started. The first rotation runs under the new schedule's context, so a
// concurrent Stop or Select cancels it instead of waiting for it. The tasks
// stop when ctx is cancelled, on the next Select, or on Stop.
func (c *Controller) Select(ctx context.Context, courseID string) error {
	c.mu.Lock()
	c.stopLocked()
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	code, err := c.src.Activate(runCtx, courseID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if runCtx.Err() != nil || c.gen != gen {
		cancel()
		if c.gen == gen {
			c.cancel = nil
		}
		return fmt.Errorf("activate %s: %w", courseID, ErrSelectionCancelled)
	}
	if err != nil {
		cancel()
		c.cancel = nil
		return fmt.Errorf("activate %s: %w", courseID, err)
	}
	c.setCurrent(code, true)
	c.opts.OnCode(code)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.rotate(gctx, courseID) })
	g.Go(func() error { return c.countdown(gctx) })
	c.group = g

	c.opts.Logger.Info().Str("course_id", courseID).Msg("rotation started")
	return nil
}

// Stop cancels the running schedule and waits for both tasks to exit.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Wait blocks until the current schedule ends.
func (c *Controller) Wait() error {
	c.mu.Lock()
	g := c.group
	c.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Current returns the code on display.
func (c *Controller) Current() (Code, error) {
	c.codeMu.Lock()
	defer c.codeMu.Unlock()
	if !c.active {
		return Code{}, ErrNoSelection
	}
	return c.current, nil
}

func (c *Controller) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	if c.group != nil {
		_ = c.group.Wait()
	}
	c.cancel, c.group = nil, nil
	c.setCurrent(Code{}, false)
	c.opts.Logger.Info().Msg("rotation stopped")
}

func (c *Controller) rotate(ctx context.Context, courseID string) error {
	t := time.NewTicker(c.opts.RotateEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		code, err := c.src.Activate(ctx, courseID)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.opts.Logger.Warn().Err(err).Str("course_id", courseID).Msg("rotation failed")
			c.opts.OnError(err)
			continue
		}
		c.setCurrent(code, true)
		c.opts.OnCode(code)
	}
}

func (c *Controller) countdown(ctx context.Context) error {
	t := time.NewTicker(c.opts.TickEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		code := c.snapshot()
		remaining := code.ExpiresAt.Sub(c.opts.Now())
		if remaining < 0 {
			remaining = 0
		}
		c.opts.OnTick(code, remaining)
	}
}

func (c *Controller) setCurrent(code Code, active bool) {
	c.codeMu.Lock()
	c.current, c.active = code, active
	c.codeMu.Unlock()
}

func (c *Controller) snapshot() Code {
	c.codeMu.Lock()
	defer c.codeMu.Unlock()
	return c.current
}
