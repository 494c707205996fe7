// Package body implements the Body Channel (spec.md §4.5): a lazy,
// single-producer/single-consumer byte sequence with trailers,
// backpressure, and an explicit want-signal, so a body producer never
// buffers ahead of what the consumer has actually asked for.
//
// The want-signal and backpressure fall out of an unbuffered Go channel
// for free: SendData blocks until PollFrame is ready to receive, which
// is exactly "capacity 0 by default — every send waits for a matching
// poll" (spec.md §4.5). The want-signal is additionally exposed as its
// own primitives.OneShot so a producer can wait for first demand before
// doing any work at all, not merely before handing off bytes.
package body

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/message"
	"github.com/badu/protocore/primitives"
)

// FrameKind tags a Frame's payload (spec.md §4.5 "poll_frame(): yields
// Data(bytes) | Trailers(map) | End | Err").
type FrameKind int

const (
	Data FrameKind = iota
	Trailers
	End
	Err
)

// Frame is one item yielded by Consumer.PollFrame.
type Frame struct {
	Kind     FrameKind
	Chunk    []byte
	Trailer  *hdr.Header
	Err      error
}

// ErrAlreadyTerminated is returned by Producer methods called after the
// channel has already reached a terminal state (trailers sent, error
// sent, or End yielded).
var ErrAlreadyTerminated = errors.New("body: channel already terminated")

type shared struct {
	frames chan Frame
	want   *primitives.OneShot // fires on first PollFrame call

	mu        sync.Mutex
	length    message.BodyLength
	remaining uint64 // only meaningful when length.Kind == message.Exact
	done      bool
}

// New creates a Producer/Consumer pair framed by length. length.Kind ==
// message.Exact gives an exact size_hint that counts down as chunks are
// delivered; Chunked and CloseDelim report size as unknown.
func New(length message.BodyLength) (*Producer, *Consumer) {
	s := &shared{
		frames: make(chan Frame),
		want:   primitives.NewOneShot(),
		length: length,
	}
	if length.Kind == message.Exact {
		s.remaining = length.N
	}
	return &Producer{s: s}, &Consumer{s: s}
}

// Producer is the write half of a Body Channel.
type Producer struct {
	s *shared
}

// WaitWant blocks until the consumer has issued its first PollFrame
// call (or ctx is done), letting a producer defer work until there is
// real demand for it.
func (p *Producer) WaitWant(ctx context.Context) error {
	select {
	case <-p.s.want.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendData delivers one chunk. It blocks until the consumer polls for
// it or ctx is canceled (spec.md §4.5 "returns Pending when the channel
// buffer is full").
func (p *Producer) SendData(ctx context.Context, chunk []byte) error {
	p.s.mu.Lock()
	if p.s.done {
		p.s.mu.Unlock()
		return ErrAlreadyTerminated
	}
	p.s.mu.Unlock()

	select {
	case p.s.frames <- Frame{Kind: Data, Chunk: chunk}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendTrailers delivers the single optional trailer map and terminates
// the channel. It may be called at most once.
func (p *Producer) SendTrailers(ctx context.Context, trailer *hdr.Header) error {
	p.s.mu.Lock()
	if p.s.done {
		p.s.mu.Unlock()
		return ErrAlreadyTerminated
	}
	p.s.done = true
	p.s.mu.Unlock()

	defer close(p.s.frames)
	select {
	case p.s.frames <- Frame{Kind: Trailers, Trailer: trailer}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendError terminates the channel with a non-retryable error.
func (p *Producer) SendError(ctx context.Context, err error) error {
	p.s.mu.Lock()
	if p.s.done {
		p.s.mu.Unlock()
		return ErrAlreadyTerminated
	}
	p.s.done = true
	p.s.mu.Unlock()

	defer close(p.s.frames)
	select {
	case p.s.frames <- Frame{Kind: Err, Err: err}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the channel with End, with no trailers. Producers
// that never send trailers must call this to signal completion.
func (p *Producer) Close() {
	p.s.mu.Lock()
	if p.s.done {
		p.s.mu.Unlock()
		return
	}
	p.s.done = true
	p.s.mu.Unlock()
	close(p.s.frames)
}

// Consumer is the read half of a Body Channel.
type Consumer struct {
	s *shared
}

// PollFrame yields the next frame. The first call latches the
// want-signal ready, unblocking any producer waiting in WaitWant.
func (c *Consumer) PollFrame(ctx context.Context) (Frame, error) {
	c.s.want.Fire(nil)

	select {
	case f, ok := <-c.s.frames:
		if !ok {
			return Frame{Kind: End}, nil
		}
		if f.Kind == Data {
			c.accountForChunk(len(f.Chunk))
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *Consumer) accountForChunk(n int) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.length.Kind == message.Exact {
		if uint64(n) > c.s.remaining {
			c.s.remaining = 0
			return
		}
		c.s.remaining -= uint64(n)
	}
}

// SizeHint returns the exact remaining byte count when the framing is
// message.Exact, and (0, false) — "unknown" — for Chunked/CloseDelim
// (spec.md §4.5 "Hints").
func (c *Consumer) SizeHint() (n uint64, exact bool) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.length.Kind == message.Exact {
		return c.s.remaining, true
	}
	return 0, false
}

// Reader, built by NewReader, adapts a Consumer to io.Reader for callers that want plain
// streaming semantics (e.g. handing a request body to a user Service
// that expects io.Reader). Trailers, once yielded, are available via
// the returned Reader's Trailer field after Read returns io.EOF.
type Reader struct {
	c        *Consumer
	ctx      context.Context
	leftover []byte
	Trailer  *hdr.Header
	err      error
}

func NewReader(ctx context.Context, c *Consumer) *Reader {
	return &Reader{c: c, ctx: ctx}
}

func (r *Reader) Read(p []byte) (int, error) {
	for len(r.leftover) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		f, err := r.c.PollFrame(r.ctx)
		if err != nil {
			r.err = err
			return 0, err
		}
		switch f.Kind {
		case Data:
			r.leftover = f.Chunk
		case Trailers:
			r.Trailer = f.Trailer
			r.err = io.EOF
		case End:
			r.err = io.EOF
		case Err:
			r.err = protoerr.New(protoerr.User, "body.Reader", f.Err)
		}
	}
	n := copy(p, r.leftover)
	r.leftover = r.leftover[n:]
	return n, nil
}
