package h2

import (
	"context"
	"sync"

	"golang.org/x/net/http2"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/message"
	"github.com/badu/protocore/primitives"
)

// streamState is the per-stream half of RFC 7540 §5.1's state machine,
// collapsed to the transitions the engine actually needs to track
// (spec.md §4.4 "Per-stream: receive HEADERS ... emit symmetrical
// frames for the reverse direction").
type streamState int

const (
	streamIdle streamState = iota
	streamOpen
	streamHalfClosedLocal  // we sent END_STREAM; peer may still send
	streamHalfClosedRemote // peer sent END_STREAM; we may still send
	streamClosed
)

// Stream is one HTTP exchange multiplexed over an Engine's connection.
// A server Stream is born from an inbound HEADERS frame and delivered
// through Engine.Accept; a client Stream is born from Engine.OpenStream.
type Stream struct {
	id  uint32
	eng *Engine

	mu         sync.Mutex
	state      streamState
	sendWindow int64 // our budget to emit DATA, grown by peer WINDOW_UPDATE
	recvWindow int64 // budget we've advertised to the peer for inbound DATA

	headReady *primitives.OneShot
	Head      *message.MessageHead
	bodyLen   message.BodyLength
	protocol  string // non-empty for an accepted extended-CONNECT stream

	headErr error

	// InBody is handed to the caller to read the peer's body.
	InBody  *body.Consumer
	inBody  *body.Producer
	// OutBody is handed to the caller to write this side's body.
	OutBody *body.Producer
	outBody *body.Consumer

	cancelOnce sync.Once
	canceled   chan struct{}
}

func newStream(id uint32, eng *Engine, sendWindow, recvWindow int64, outLen message.BodyLength) *Stream {
	inBody, inConsumer := body.New(message.ChunkedLength) // H2 bodies have no declared exact length at the frame layer
	outProducer, outBody := body.New(outLen)
	return &Stream{
		id:         id,
		eng:        eng,
		state:      streamIdle,
		sendWindow: sendWindow,
		recvWindow: recvWindow,
		headReady:  primitives.NewOneShot(),
		inBody:     inBody,
		InBody:     inConsumer,
		OutBody:    outProducer,
		outBody:    outBody,
		canceled:   make(chan struct{}),
	}
}

// ID returns the HTTP/2 stream identifier.
func (s *Stream) ID() uint32 { return s.id }

// Protocol returns the extended CONNECT :protocol pseudo-header value
// captured from the stream's HEADERS frame, or "" for an ordinary
// request (spec.md §4.4 "Extended CONNECT").
func (s *Stream) Protocol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocol
}

func (s *Stream) setState(st streamState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Stream) State() streamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// deliverHead is called once by the engine's read loop when the full
// (possibly CONTINUATION-joined) header block for this stream has been
// decoded.
func (s *Stream) deliverHead(head *message.MessageHead, length message.BodyLength, protocol string, err error) {
	s.mu.Lock()
	s.Head = head
	s.bodyLen = length
	s.protocol = protocol
	s.headErr = err
	s.mu.Unlock()
	s.headReady.Fire(nil)
}

// RecvHead blocks until the peer's HEADERS have been decoded into a
// MessageHead, or ctx is done.
func (s *Stream) RecvHead(ctx context.Context) (*message.MessageHead, message.BodyLength, error) {
	select {
	case <-s.headReady.Done():
	case <-ctx.Done():
		return nil, message.BodyLength{}, ctx.Err()
	case <-s.canceled:
		return nil, message.BodyLength{}, protoerr.New(protoerr.Canceled, "h2.Stream.RecvHead", context.Canceled)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Head, s.bodyLen, s.headErr
}

// SendHead encodes head as one HEADERS frame carrying the whole header
// block and queues it on the engine's write loop. The block is not split
// into CONTINUATION frames, whatever the peer's SETTINGS_MAX_FRAME_SIZE.
// endStream marks this as the final frame the
// local side will send on this stream (no body follows).
func (s *Stream) SendHead(ctx context.Context, head *message.MessageHead, endStream bool) error {
	return s.eng.sendHead(ctx, s, head, endStream)
}

// SendTrailers emits a trailer HEADERS frame with END_STREAM set,
// terminating this side of the stream.
func (s *Stream) SendTrailers(ctx context.Context, trailer *hdr.Header) error {
	return s.eng.sendTrailerHeaders(ctx, s, trailer)
}

// SendData queues p as one or more DATA frames, each no larger than the
// peer's SETTINGS_MAX_FRAME_SIZE, honoring both stream- and
// connection-level flow-control windows (spec.md §4.4, §5 "Ordering
// guarantees: Per-HTTP/2-stream, DATA frames are emitted in submission
// order").
func (s *Stream) SendData(ctx context.Context, p []byte, endStream bool) error {
	return s.eng.sendData(ctx, s, p, endStream)
}

// ErrCodeFromError derives the RST_STREAM error code that best reflects
// why a stream is being torn down, per spec.md §7 "RST_STREAM with a
// reason derived from the error kind". A nil err (the dropped-future
// case, spec.md scenario S6) maps to CANCEL, matching a client simply
// abandoning interest in the response.
func ErrCodeFromError(err error) http2.ErrCode {
	if err == nil {
		return http2.ErrCodeCancel
	}
	switch {
	case protoerr.Is(err, protoerr.Canceled):
		return http2.ErrCodeCancel
	case protoerr.Is(err, protoerr.Protocol):
		return http2.ErrCodeProtocol
	case protoerr.Is(err, protoerr.IO):
		return http2.ErrCodeInternal
	default:
		return http2.ErrCodeInternal
	}
}

// Cancel sends RST_STREAM with code and marks the stream closed
// locally; a pending or later RecvHead observes a Canceled error. The
// inbound body is not terminated by Cancel (spec.md §4.6 "Cancellation ... H2: RST_STREAM CANCEL").
func (s *Stream) Cancel(code http2.ErrCode) {
	s.cancelOnce.Do(func() {
		close(s.canceled)
		s.eng.resetStream(s, code)
		s.setState(streamClosed)
	})
}

// onRSTStream is called by the read loop for a peer-initiated
// RST_STREAM. NO_ERROR/CANCEL while a body is mid-flight is end-of-body,
// not an error, per spec.md §4.4.
func (s *Stream) onRSTStream(code http2.ErrCode) {
	if code == http2.ErrCodeNo || code == http2.ErrCodeCancel {
		s.inBody.Close()
	} else {
		s.inBody.SendError(context.Background(), protoerr.New(protoerr.Protocol, "h2.Stream",
			&streamResetError{code: code}))
	}
	s.setState(streamClosed)
}

type streamResetError struct{ code http2.ErrCode }

func (e *streamResetError) Error() string { return "h2: stream reset by peer: " + e.code.String() }

// deliverTrailers delivers a trailer HEADERS block (no pseudo-headers,
// END_STREAM set) to the inbound body.
func (s *Stream) deliverTrailers(trailer *hdr.Header) {
	s.inBody.SendTrailers(context.Background(), trailer)
}
