// Package actor provides the small supervision primitives every pipeline
// stage in this repository is built from: a bounded mailbox for inbound
// commands, a kill switch so a stage can be told to stop without closing its
// mailbox out from under a concurrent sender, and a supervisor that restarts
// a failed stage with backoff (spec.md §5's "supervised respawn").
//
// The shape mirrors the teacher's supervisor/command-channel pattern
// (secondary/indexer's supvCmdch/supvRespch convention in
// cluster_manager_agent.go and rebalancer.go, and queue.go's closeable,
// atomic-flag-guarded channel), generalized with context.Context instead of
// the teacher's raw channel-of-Message plumbing.
package actor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Mailbox is a bounded, typed inbox for one actor. Send blocks until there
// is room or ctx is done; Close makes every subsequent Send return
// ErrClosed without panicking, unlike closing the channel directly (the
// teacher's queue.go has the same concern and solves it with an atomic
// close flag rather than relying on close-of-closed-channel panics).
type Mailbox[T any] struct {
	ch     chan T
	closed int32
}

// ErrClosed is returned by Send once the mailbox has been closed.
var ErrClosed = fmt.Errorf("actor: mailbox closed")

// NewMailbox returns a Mailbox buffered to capacity.
func NewMailbox[T any](capacity int) *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, capacity)}
}

// Send enqueues msg, blocking until there is room, ctx is done, or the
// mailbox is closed.
func (m *Mailbox[T]) Send(ctx context.Context, msg T) error {
	if atomic.LoadInt32(&m.closed) == 1 {
		return ErrClosed
	}
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive exposes the inbound channel for range/select use by the actor's
// own run loop.
func (m *Mailbox[T]) Receive() <-chan T {
	return m.ch
}

// Close marks the mailbox closed and closes the underlying channel. Close
// is idempotent; only the first call closes the channel.
func (m *Mailbox[T]) Close() {
	if atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		close(m.ch)
	}
}

// KillSwitch lets one goroutine ask another, cooperatively, to stop. Tripping
// it twice is safe. This is a narrower primitive than context.Context: it
// carries no deadline and no values, only a one-way latch, matching the
// teacher's queue.go donech pattern.
type KillSwitch struct {
	done   chan struct{}
	tripped int32
}

// NewKillSwitch returns an untripped KillSwitch.
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{done: make(chan struct{})}
}

// Trip closes the switch. Safe to call more than once or concurrently.
func (k *KillSwitch) Trip() {
	if atomic.CompareAndSwapInt32(&k.tripped, 0, 1) {
		close(k.done)
	}
}

// Tripped reports whether Trip has been called.
func (k *KillSwitch) Tripped() bool {
	return atomic.LoadInt32(&k.tripped) == 1
}

// Done returns a channel that is closed once Trip has been called, for use
// in a select alongside a mailbox's Receive channel.
func (k *KillSwitch) Done() <-chan struct{} {
	return k.done
}

// RetryPolicy configures Supervisor.Run's backoff between restarts of a
// failing stage, generalizing the teacher's NewRetryHelper(attempts,
// baseInterval, factor, fn) call shape (secondary/indexer/rebalancer.go,
// secondary/common/util.go).
type RetryPolicy struct {
	MaxAttempts  int           // 0 means retry forever
	BaseInterval time.Duration
	Factor       float64 // interval multiplier after each failed attempt
	MaxInterval  time.Duration
}

// DefaultRetryPolicy restarts indefinitely with exponential backoff capped
// at 30s, matching the cadence of the teacher's own indexer restart loops.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseInterval: time.Second,
		Factor:       2,
		MaxInterval:  30 * time.Second,
	}
}

// Supervisor restarts fn with backoff whenever it returns a non-nil error,
// until ctx is canceled, the kill switch trips, or the retry policy is
// exhausted. fn is expected to return promptly when ctx is done.
type Supervisor struct {
	Name   string
	Policy RetryPolicy
	Logger *zap.Logger
}

// Run executes fn under supervision. It returns the last error seen if the
// retry budget is exhausted, or nil if ctx/kill triggered a clean stop.
func (s *Supervisor) Run(ctx context.Context, kill *KillSwitch, fn func(context.Context) error) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := s.Policy.BaseInterval
	if interval <= 0 {
		interval = time.Second
	}
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || kill.Tripped() {
			return nil
		}
		attempt++
		logger.Warn("actor restarting after error",
			zap.String("actor", s.Name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if s.Policy.MaxAttempts > 0 && attempt >= s.Policy.MaxAttempts {
			return fmt.Errorf("actor %s: exhausted %d attempts: %w", s.Name, attempt, err)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil
		case <-kill.Done():
			return nil
		}
		if s.Policy.Factor > 1 {
			interval = time.Duration(float64(interval) * s.Policy.Factor)
		}
		if s.Policy.MaxInterval > 0 && interval > s.Policy.MaxInterval {
			interval = s.Policy.MaxInterval
		}
	}
}
