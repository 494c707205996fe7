package dispatch

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/badu/protocore/primitives"
)

// discardLogger is the nil-safe default for Dispatcher.log: SPEC_FULL.md
// §1 requires a default of "discard everything", not the standard
// logger, so a caller that never supplies one doesn't get connection
// lifecycle chatter printed at them.
func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// Config holds the Dispatcher-wide knobs spec.md §4.6 names.
type Config struct {
	// MaxConcurrentH2Streams bounds how many h2 streams this Dispatcher
	// will hand to the Service at once; 0 means unlimited.
	MaxConcurrentH2Streams int64
	// HardShutdownTimeout bounds how long Shutdown waits for a drain: once
	// it elapses, Shutdown stops waiting and returns an error. Exchanges
	// still in flight are not aborted; their connections stay open.
	HardShutdownTimeout time.Duration
	// ContinueTimeout bounds how long ServeH1Client's sender side waits
	// for a 100 Continue before sending the request body anyway (spec.md
	// §4.2 "100_continue_timeout"). Zero, the default, sends the body
	// immediately without waiting.
	ContinueTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{MaxConcurrentH2Streams: 0, HardShutdownTimeout: 30 * time.Second}
}

// Dispatcher is the single driver described in spec.md §4.6: it owns no
// transport itself, only the policy for advancing whichever Protocol
// (h1.Conn or h2.Engine) it is handed.
type Dispatcher struct {
	cfg   Config
	drain *primitives.Drainer
	log   *logrus.Entry
}

func New(cfg Config, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = discardLogger()
	}
	return &Dispatcher{cfg: cfg, drain: primitives.NewDrainer(), log: log}
}

// Shutdown signals every connection/stream loop driven by this
// Dispatcher to stop accepting new work and blocks until in-flight work
// has drained, or ctx is done first (spec.md §4.6 "Graceful shutdown").
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	doneCh := make(chan struct{})
	go func() {
		d.drain.Drain()
		close(doneCh)
	}()

	deadline := d.cfg.HardShutdownTimeout
	var timeout <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		d.log.Warn("graceful shutdown deadline exceeded, no longer waiting")
		return errHardShutdown
	}
}

var errHardShutdown = &serviceError{"dispatch: hard shutdown deadline exceeded"}
