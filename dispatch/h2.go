package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/h2"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/message"
	"github.com/badu/protocore/primitives"
)

// ServeH2 drives one HTTP/2 connection: both sides may have many
// concurrent streams, so unlike ServeH1 this spawns one goroutine per
// accepted stream, bounded by d.cfg.MaxConcurrentH2Streams via
// golang.org/x/sync/semaphore, and runs them under a
// golang.org/x/sync/errgroup. Stream goroutines log their own failures
// and return nil, so only the accept loop's error is returned (spec.md
// §4.6 "HTTP/2: both sides may have many concurrent streams; per-stream
// ordering is guaranteed by frame order").
func (d *Dispatcher) ServeH2(ctx context.Context, eng *h2.Engine, svc Service) error {
	done, draining := d.drain.Watcher()
	defer done()

	var sem *semaphore.Weighted
	if d.cfg.MaxConcurrentH2Streams > 0 {
		sem = semaphore.NewWeighted(d.cfg.MaxConcurrentH2Streams)
	}

	g, gctx := errgroup.WithContext(ctx)
	log := d.log.WithField("proto", "h2")

	g.Go(func() error {
		for {
			select {
			case <-draining:
				return eng.Shutdown(gctx, 0, "server draining")
			default:
			}

			stream, err := eng.Accept(gctx)
			if err != nil {
				return err
			}
			if sem != nil {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
			}
			g.Go(func() error {
				if sem != nil {
					defer sem.Release(1)
				}
				if err := d.serveH2Stream(gctx, stream, svc); err != nil {
					log.WithError(err).WithField("stream", stream.ID()).Warn("stream handler failed")
				}
				return nil
			})
		}
	})

	err := g.Wait()
	if protoerr.Is(err, protoerr.IO) {
		return nil // peer went away; not a dispatch failure
	}
	return err
}

func (d *Dispatcher) serveH2Stream(ctx context.Context, s *h2.Stream, svc Service) error {
	head, length, err := s.RecvHead(ctx)
	if err != nil {
		return err
	}
	if err := svc.PollReady(ctx); err != nil {
		s.Cancel(h2.ErrCodeFromError(err))
		return err
	}

	req := &Request{Head: head, Body: s.InBody}
	rw := &h2ResponseWriter{stream: s}
	if err := svc.Serve(ctx, req, rw); err != nil {
		s.Cancel(h2.ErrCodeFromError(err))
		return err
	}

	drainConsumer(ctx, s.InBody)

	if rw.pump == nil {
		noResponseErr := protoerr.New(protoerr.User, "dispatch.serveH2Stream", errServiceNoResponse)
		s.Cancel(h2.ErrCodeFromError(noResponseErr))
		return noResponseErr
	}
	return rw.pump.wait(ctx)
}

// h2ResponseWriter adapts h2.Stream.SendHead/SendData to the dispatch
// ResponseWriter contract, mirroring h1ResponseWriter's pump pattern.
type h2ResponseWriter struct {
	stream *h2.Stream
	pump   *bodyPump
}

func (rw *h2ResponseWriter) WriteHead(ctx context.Context, head *message.MessageHead, length message.BodyLength) (*body.Producer, error) {
	emptyBody := length.Kind == message.Empty || (length.Kind == message.Exact && length.N == 0)
	if err := rw.stream.SendHead(ctx, head, emptyBody); err != nil {
		return nil, err
	}
	producer, consumer := body.New(length)
	rw.pump = newH2BodyPump(ctx, rw.stream, consumer)
	return producer, nil
}

func newH2BodyPump(ctx context.Context, s *h2.Stream, consumer *body.Consumer) *bodyPump {
	p := &bodyPump{result: primitives.NewOneShot()}
	go func() {
		p.result.Fire(runH2BodyPump(ctx, s, consumer))
	}()
	return p
}

func runH2BodyPump(ctx context.Context, s *h2.Stream, consumer *body.Consumer) error {
	for {
		f, err := consumer.PollFrame(ctx)
		if err != nil {
			return err
		}
		switch f.Kind {
		case body.Data:
			if err := s.SendData(ctx, f.Chunk, false); err != nil {
				return err
			}
		case body.Trailers:
			return s.SendTrailers(ctx, f.Trailer)
		case body.End:
			return s.SendData(ctx, nil, true)
		case body.Err:
			s.Cancel(h2.ErrCodeFromError(f.Err))
			return f.Err
		}
	}
}
