// Package primitives holds the small concurrency building blocks shared
// by h1, h2 and dispatch (spec.md §5 "Shared resources", §9 "Draining"):
// a one-shot signal, a broadcast ("watched") signal, a draining
// coordinator, and a single-owner atomic lock.
package primitives

import "sync"

// OneShot is a signal that fires exactly once and can be waited on by
// any number of goroutines. It is the Go-idiomatic stand-in for the
// source's single-resolution future (e.g. "first 1xx response
// received", "GOAWAY sent").
type OneShot struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// NewOneShot returns a ready-to-use OneShot.
func NewOneShot() *OneShot {
	return &OneShot{done: make(chan struct{})}
}

// Fire resolves the signal with err (nil for success). Only the first
// call has effect; subsequent calls are no-ops.
func (s *OneShot) Fire(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Done returns a channel that is closed once Fire has been called.
func (s *OneShot) Done() <-chan struct{} { return s.done }

// Err returns the error Fire was called with, or nil if not yet fired
// or fired with nil.
func (s *OneShot) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fired reports whether Fire has already been called.
func (s *OneShot) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Watched is a broadcast signal: many watchers can observe the same
// transition (e.g. "connection entered Closing"). Unlike OneShot it
// carries no value, matching the draining watch-channel described in
// spec.md §9.
type Watched struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewWatched returns a Watched signal that has not yet tripped.
func NewWatched() *Watched {
	return &Watched{ch: make(chan struct{})}
}

// Trip closes the underlying channel if it hasn't been closed already.
// Safe to call more than once and from multiple goroutines.
func (w *Watched) Trip() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ch:
	default:
		close(w.ch)
	}
}

// C returns the channel watchers select on; it closes when Trip is
// called.
func (w *Watched) C() <-chan struct{} { return w.ch }

// Tripped reports whether Trip has been called.
func (w *Watched) Tripped() bool {
	select {
	case <-w.ch:
		return true
	default:
		return false
	}
}
