package dispatch

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/h1"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/iobuf"
	"github.com/badu/protocore/message"
	"github.com/badu/protocore/primitives"
	"github.com/badu/protocore/upgrade"
)

// ServeH1 drives one HTTP/1 server connection to completion: strictly
// sequential request/response pairs, a new head is never parsed until
// the previous response body has been fully written and flushed
// (spec.md §4.6 "HTTP/1 server: strictly sequential").
func (d *Dispatcher) ServeH1(ctx context.Context, conn *h1.Conn, svc Service) error {
	done, draining := d.drain.Watcher()
	defer done()

	log := d.log.WithField("proto", "h1")

	for {
		select {
		case <-draining:
			log.Debug("draining: quiescing read side")
			return conn.Close()
		default:
		}

		head, length, err := conn.ReadHead(ctx, "")
		if err != nil {
			if protoerr.Is(err, protoerr.IO) {
				return conn.Close() // peer closed or reset; not a dispatch failure
			}
			conn.Abort()
			return err
		}

		if err := svc.PollReady(ctx); err != nil {
			conn.Abort()
			return err
		}

		producer, consumer := h1.NewBody(length)
		if upgrade.WantsContinue(head) {
			upgrade.GateOnDemand(ctx, conn.IO, producer, func(p *body.Producer) {
				h1.DecodeBody(ctx, conn.IO.Reader(), length, p)
			})
		} else {
			go h1.DecodeBody(ctx, conn.IO.Reader(), length, producer)
		}

		rw := &h1ResponseWriter{conn: conn, log: log}
		req := &Request{Head: head, Body: consumer}
		serveErr := svc.Serve(ctx, req, rw)

		drainConsumer(ctx, consumer)
		conn.BodyDone()

		if serveErr != nil {
			conn.Abort()
			_ = conn.Close()
			return serveErr
		}
		if rw.pump == nil {
			conn.Abort()
			_ = conn.Close()
			return protoerr.New(protoerr.User, "dispatch.ServeH1",
				errServiceNoResponse)
		}
		if err := rw.pump.wait(ctx); err != nil {
			conn.Abort()
			_ = conn.Close()
			return err
		}
		conn.WriteBodyDone()

		if !conn.KeepAliveWanted() {
			return conn.Close()
		}
	}
}

var errServiceNoResponse = &serviceError{"service returned without writing a response head"}

type serviceError struct{ msg string }

func (e *serviceError) Error() string { return e.msg }

// drainConsumer discards any body bytes the Service did not read, so
// the connection stays framed correctly for the next request even when
// a handler ignores the request body.
func drainConsumer(ctx context.Context, c *body.Consumer) {
	for {
		f, err := c.PollFrame(ctx)
		if err != nil || f.Kind == body.End || f.Kind == body.Trailers || f.Kind == body.Err {
			return
		}
	}
}

// h1ResponseWriter adapts h1.Conn.WriteHead/Encoder to the dispatch
// ResponseWriter contract, pumping the Service's Producer into the
// Encoder on a background goroutine so the Service can stream a body
// concurrently with the Dispatcher's own bookkeeping.
type h1ResponseWriter struct {
	conn *h1.Conn
	log  *logrus.Entry
	pump *bodyPump
}

func (rw *h1ResponseWriter) WriteHead(ctx context.Context, head *message.MessageHead, length message.BodyLength) (*body.Producer, error) {
	enc, err := rw.conn.WriteHead(ctx, head, length)
	if err != nil {
		return nil, err
	}
	producer, consumer := body.New(length)
	rw.pump = newBodyPump(ctx, rw.conn.IO, enc, consumer, rw.log)
	return producer, nil
}

// bodyPump drains a body.Consumer into an h1.Encoder, flushing the
// underlying iobuf.IO as frames are emitted.
type bodyPump struct {
	result *primitives.OneShot
}

func newBodyPump(ctx context.Context, io *iobuf.IO, enc *h1.Encoder, consumer *body.Consumer, log *logrus.Entry) *bodyPump {
	p := &bodyPump{result: primitives.NewOneShot()}
	go func() {
		p.result.Fire(p.run(ctx, io, enc, consumer, log))
	}()
	return p
}

func (p *bodyPump) run(ctx context.Context, io *iobuf.IO, enc *h1.Encoder, consumer *body.Consumer, log *logrus.Entry) error {
	for {
		f, err := consumer.PollFrame(ctx)
		if err != nil {
			return err
		}
		switch f.Kind {
		case body.Data:
			if err := enc.WriteChunk(io, f.Chunk); err != nil {
				return err
			}
			if err := flushFully(ctx, io); err != nil {
				return err
			}
		case body.Trailers:
			if err := enc.Finish(io, f.Trailer); err != nil {
				return err
			}
			return flushFully(ctx, io)
		case body.End:
			if err := enc.Finish(io, nil); err != nil {
				return err
			}
			return flushFully(ctx, io)
		case body.Err:
			log.WithError(f.Err).Warn("response body producer failed")
			return f.Err
		}
	}
}

func (p *bodyPump) wait(ctx context.Context) error {
	select {
	case <-p.result.Done():
		return p.result.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushFully drives iobuf.IO.Flush to completion, honoring spec.md §8
// P3: the caller must never proceed to shutdown while Flush reports
// anything other than ready.
func flushFully(ctx context.Context, io *iobuf.IO) error {
	for {
		ready, err := io.Flush()
		if err != nil {
			return protoerr.New(protoerr.IO, "dispatch.flushFully", err)
		}
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
