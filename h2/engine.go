// Package h2 implements the H2 Engine (spec.md §4.4): connection-level
// framing over golang.org/x/net/http2's Framer and HPACK codec, stream
// multiplexing, flow-control window accounting with PING-based BDP
// tuning, and GOAWAY-driven graceful shutdown.
//
// Where h1.Conn is a single coroutine-shaped state machine driven by
// one caller, an Engine owns two goroutines of its own (read loop,
// write loop) because H2 is inherently full-duplex and multiplexed:
// many Streams can be mid-flight at once, each wanting to write
// independently, so writes are serialized through one channel the way
// dgrr-http2's serverConn does with its `writer chan *FrameHeader`
// (spec.md §5 "Shared resources: an H2 engine is shared between the
// connection driver and every stream handle; access is mediated by
// message passing through a bounded channel").
package h2

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"

	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/message"
	"github.com/badu/protocore/primitives"
	"github.com/badu/protocore/transport"
)

// discardLogger is the nil-safe default for Engine.log: SPEC_FULL.md §1
// requires a default of "discard everything" rather than the standard
// logger, so a caller that doesn't care about H2 lifecycle logging
// doesn't get it printed at them.
func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// Role distinguishes which side of the connection an Engine drives;
// it governs stream id parity and who writes the connection preface.
type Role int

const (
	ServerRole Role = iota
	ClientRole
)

const clientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Config holds the H2-specific knobs named in spec.md §4.4 and §6.
type Config struct {
	MaxConcurrentStreams uint32        // 0 means unlimited, per SPEC_FULL.md §2
	InitialWindowSize    uint32        // seeds both the connection and per-stream receive window
	PingInterval         time.Duration // cadence of keep-alive PINGs; 0 disables them (BDP sampling PINGs follow inbound DATA instead)
	IdleTimeout          time.Duration // not read by the Engine; it has no effect
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentStreams: 0,
		InitialWindowSize:    65535,
		PingInterval:         30 * time.Second,
	}
}

// writeRequest is one unit of outbound work serialized through
// Engine.writeCh, so only the write loop ever touches the Framer.
type writeRequest struct {
	do   func(fr *http2.Framer) error
	done chan error
}

// Engine is the H2 connection driver.
type Engine struct {
	conn transport.Conn
	role Role
	cfg  Config

	framer *http2.Framer
	hpack  *hpackCodec
	log    *logrus.Entry

	local Settings
	peer  Settings

	mu                sync.Mutex
	streams           map[uint32]*Stream
	nextLocalID       uint32
	lastPeerID        uint32 // highest stream id the peer's own GOAWAY says it accepted
	highestAcceptedID uint32 // highest peer-initiated stream id we have accepted
	goAwaySent        bool
	goAwayRecvd       bool

	connSendWindow int64 // our budget to emit DATA on any stream, bounded by peer WINDOW_UPDATE(0)
	connRecvWindow int64 // budget we've advertised for inbound DATA on stream 0

	bdp *bdpSampler

	writeCh chan writeRequest
	accept  chan *Stream

	closed   *primitives.Watched
	closeErr error
	wg       sync.WaitGroup
}

// New wraps conn in an Engine ready for Handshake. Neither New nor
// Handshake reads or checks the client connection preface: for a server
// Engine the caller must already have consumed the 24-byte preface from
// conn (callers can peek it to distinguish H2 from HTTP/1 first).
func New(conn transport.Conn, role Role, cfg Config) *Engine {
	if cfg.InitialWindowSize == 0 {
		cfg = DefaultConfig()
	}
	local := DefaultSettings()
	local.InitialWindowSize = cfg.InitialWindowSize
	local.MaxConcurrentStreams = cfg.MaxConcurrentStreams
	local.EnablePush = false // push is not implemented; see DESIGN.md

	firstID := uint32(2)
	if role == ClientRole {
		firstID = 1
	}

	return &Engine{
		conn:           conn,
		role:           role,
		cfg:            cfg,
		framer:         http2.NewFramer(conn, bufio.NewReader(conn)),
		hpack:          newHPACKCodec(DefaultSettings().HeaderTableSize),
		local:          local,
		peer:           DefaultSettings(),
		streams:        make(map[uint32]*Stream),
		nextLocalID:    firstID,
		connSendWindow: int64(DefaultSettings().InitialWindowSize),
		connRecvWindow: int64(cfg.InitialWindowSize),
		bdp:            newBDPSampler(cfg.InitialWindowSize),
		writeCh:        make(chan writeRequest, 32),
		accept:         make(chan *Stream, 16),
		closed:         primitives.NewWatched(),
		log:            discardLogger(),
	}
}

// SetLogger attaches a structured logger for connection lifecycle
// transitions, parse errors, and GOAWAY/shutdown events (SPEC_FULL.md
// §1). A nil Engine.log is never valid past New, which already seeds a
// discard logger.
func (e *Engine) SetLogger(log *logrus.Entry) {
	if log == nil {
		log = discardLogger()
	}
	e.log = log
}

// Handshake writes the client connection preface (client role only) and
// the local SETTINGS frame. It does not wait for the peer's SETTINGS:
// the read loop applies them as they arrive.
func (e *Engine) Handshake() error {
	if e.role == ClientRole {
		if _, err := e.conn.Write([]byte(clientPreface)); err != nil {
			return protoerr.New(protoerr.IO, "h2.Engine.Handshake", err)
		}
	}
	e.framer.AllowIllegalReads = false
	if err := e.framer.WriteSettings(e.local.AsFrameSettings()...); err != nil {
		return protoerr.New(protoerr.IO, "h2.Engine.Handshake", err)
	}
	return nil
}

// Serve runs the read and write loops until the connection ends or ctx
// is canceled, then tears both down. It returns the read loop's terminal
// error, which is never nil (an IO-kind error once the connection ends,
// also after a GOAWAY), combined with any write-loop error.
func (e *Engine) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.writeLoop(ctx)
	}()

	var pingTicker *time.Ticker
	if e.cfg.PingInterval > 0 {
		pingTicker = time.NewTicker(e.cfg.PingInterval)
		defer pingTicker.Stop()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.pingLoop(ctx, pingTicker)
		}()
	}

	err := e.readLoop(ctx)
	cancel()
	e.closed.Trip()
	close(e.accept)
	e.wg.Wait()

	// The write loop can fail independently of (and concurrently with)
	// the read loop, e.g. a GOAWAY write racing a peer disconnect;
	// surface both causes instead of silently dropping one.
	e.mu.Lock()
	writeErr := e.closeErr
	e.mu.Unlock()

	return combineErrors(err, writeErr)
}

// combineErrors merges the read-loop and write-loop terminal errors for
// Serve's return value. Either may be nil; when both are present and
// distinct, both causes are preserved via multierror rather than
// silently discarding one.
func combineErrors(readErr, writeErr error) error {
	if readErr == nil {
		return writeErr
	}
	if writeErr == nil || writeErr == readErr {
		return readErr
	}
	return multierror.Append(nil, readErr, writeErr).ErrorOrNil()
}

func (e *Engine) pingLoop(ctx context.Context, t *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.submitWrite(ctx, func(fr *http2.Framer) error {
				return fr.WritePing(false, [8]byte{})
			})
		}
	}
}

// writeLoop is the sole goroutine that touches the Framer for writes,
// serializing every HEADERS/DATA/SETTINGS/PING/GOAWAY/RST_STREAM/
// WINDOW_UPDATE emission in submission order (spec.md §5 "Writes
// submitted by the dispatcher to the Buffered IO appear on the wire in
// submission order" — the same guarantee, one layer up, for H2).
func (e *Engine) writeLoop(ctx context.Context) {
	for {
		select {
		case req, ok := <-e.writeCh:
			if !ok {
				return
			}
			err := req.do(e.framer)
			if req.done != nil {
				req.done <- err
			}
			if err != nil {
				e.fail(err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) submitWrite(ctx context.Context, do func(fr *http2.Framer) error) error {
	req := writeRequest{do: do, done: make(chan error, 1)}
	select {
	case e.writeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.closed.C():
		return protoerr.ErrShutdown
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) fail(err error) {
	e.log.WithError(err).Warn("write loop failed, tearing down connection")
	e.mu.Lock()
	if e.closeErr == nil {
		e.closeErr = err
	}
	e.mu.Unlock()
	e.closed.Trip()
}

// readLoop is the sole reader of frames off the wire; it owns the
// HPACK decoder (HPACK is stateful per direction, so there is exactly
// one decode site) and dispatches by frame type.
func (e *Engine) readLoop(ctx context.Context) error {
	var headerStreamID uint32
	var headerBlock []byte
	var headerEndStream bool

	for {
		fr, err := e.framer.ReadFrame()
		if err != nil {
			e.log.WithError(err).Debug("connection read loop ending")
			return protoerr.New(protoerr.IO, "h2.Engine.readLoop", err)
		}

		switch f := fr.(type) {
		case *http2.SettingsFrame:
			if f.IsAck() {
				continue
			}
			if err := e.peer.ApplySettingsFrame(f); err != nil {
				e.log.WithError(err).Warn("rejecting malformed SETTINGS frame")
				return protoerr.New(protoerr.Protocol, "h2.Engine.readLoop", err)
			}
			if err := e.submitWrite(ctx, func(fr *http2.Framer) error { return fr.WriteSettingsAck() }); err != nil {
				return err
			}

		case *http2.PingFrame:
			if f.IsAck() {
				if target, grew := e.bdp.onPingAck(f.Data, time.Now()); grew {
					e.applyBDPGrowth(ctx, target)
				}
				continue
			}
			if err := e.submitWrite(ctx, func(fr *http2.Framer) error { return fr.WritePing(true, f.Data) }); err != nil {
				return err
			}

		case *http2.HeadersFrame:
			headerStreamID = f.StreamID
			headerBlock = append([]byte(nil), f.HeaderBlockFragment()...)
			headerEndStream = f.StreamEnded()
			if f.HeadersEnded() {
				if err := e.onHeadersComplete(headerStreamID, headerBlock, headerEndStream); err != nil {
					return err
				}
			}

		case *http2.ContinuationFrame:
			headerBlock = append(headerBlock, f.HeaderBlockFragment()...)
			if f.HeadersEnded() {
				if err := e.onHeadersComplete(headerStreamID, headerBlock, headerEndStream); err != nil {
					return err
				}
			}

		case *http2.DataFrame:
			e.onData(ctx, f)

		case *http2.RSTStreamFrame:
			if s := e.lookupStream(f.StreamID); s != nil {
				s.onRSTStream(f.ErrCode)
				e.dropStream(f.StreamID)
			}

		case *http2.WindowUpdateFrame:
			e.onWindowUpdate(f)

		case *http2.GoAwayFrame:
			e.mu.Lock()
			e.goAwayRecvd = true
			e.lastPeerID = f.LastStreamID
			e.mu.Unlock()
			e.log.WithFields(logrus.Fields{"last_stream_id": f.LastStreamID, "code": f.ErrCode}).
				Debug("peer sent GOAWAY")
			if f.ErrCode != http2.ErrCodeNo {
				return protoerr.New(protoerr.Protocol, "h2.Engine.readLoop",
					fmt.Errorf("peer sent GOAWAY: %s", f.ErrCode))
			}

		default:
			// Unknown or unhandled frame types (PRIORITY, PUSH_PROMISE) are
			// ignored per RFC 7540 §4.1 extensibility rules.
		}
	}
}

func (e *Engine) lookupStream(id uint32) *Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streams[id]
}

func (e *Engine) dropStream(id uint32) {
	e.mu.Lock()
	delete(e.streams, id)
	e.mu.Unlock()
}

// onHeadersComplete decodes a full (CONTINUATION-joined) header block
// and either delivers it to an existing stream (trailers / response
// head on a client-opened stream) or opens a new server-side stream.
func (e *Engine) onHeadersComplete(streamID uint32, block []byte, endStream bool) error {
	h, pseudo, err := e.hpack.decode(block)
	if err != nil {
		e.log.WithError(err).Warn("rejecting malformed header block")
		return err
	}

	if s := e.lookupStream(streamID); s != nil {
		if s.Head == nil {
			length := inboundBodyLength(endStream)
			head := headFromPseudo(pseudo, h, e.role)
			s.deliverHead(head, length, pseudo.protocol, nil)
		} else {
			s.deliverTrailers(h)
		}
		if endStream {
			s.inBody.Close()
			s.setState(streamHalfClosedRemote)
		}
		return nil
	}

	if e.role != ServerRole {
		return protoerr.New(protoerr.Protocol, "h2.Engine.onHeadersComplete",
			fmt.Errorf("HEADERS for unknown stream %d on a client engine", streamID))
	}

	s := newStream(streamID, e, int64(e.peer.InitialWindowSize), int64(e.local.InitialWindowSize), message.ChunkedLength)
	s.setState(streamOpen)
	e.mu.Lock()
	e.streams[streamID] = s
	if streamID > e.highestAcceptedID {
		e.highestAcceptedID = streamID
	}
	e.mu.Unlock()

	head := headFromPseudo(pseudo, h, e.role)
	s.deliverHead(head, inboundBodyLength(endStream), pseudo.protocol, nil)
	if endStream {
		s.inBody.Close()
		s.setState(streamHalfClosedRemote)
	}
	e.accept <- s
	return nil
}

func inboundBodyLength(endStream bool) message.BodyLength {
	if endStream {
		return message.EmptyLength
	}
	return message.ChunkedLength
}

func headFromPseudo(p pseudoHeaders, h *hdr.Header, role Role) *message.MessageHead {
	if role == ServerRole {
		return &message.MessageHead{
			Version: message.HTTP2,
			Subject: message.RequestSubject(p.method, p.path),
			Header:  withAuthority(h, p.authority),
		}
	}
	code := 0
	fmt.Sscanf(p.status, "%d", &code)
	return &message.MessageHead{
		Version: message.HTTP2,
		Subject: message.StatusSubject(code, ""),
		Header:  h,
	}
}

func withAuthority(h *hdr.Header, authority string) *hdr.Header {
	if authority != "" && h.Get(hdr.Host) == "" {
		h.Set(hdr.Host, authority)
	}
	return h
}

func (e *Engine) onData(ctx context.Context, f *http2.DataFrame) {
	n := len(f.Data())
	if send, payload := e.bdp.onData(n, time.Now()); send {
		e.submitWrite(ctx, func(fr *http2.Framer) error { return fr.WritePing(false, payload) })
	}

	if s := e.lookupStream(f.StreamID); s != nil {
		if n > 0 {
			s.inBody.SendData(ctx, append([]byte(nil), f.Data()...))
		}
		if f.StreamEnded() {
			s.inBody.Close()
			s.setState(streamHalfClosedRemote)
			e.dropStream(f.StreamID)
		}
	}

	if n > 0 {
		e.replenishWindows(ctx, f.StreamID, n)
	}
}

// replenishWindows sends WINDOW_UPDATE frames once consumed bytes
// justify it, keeping both the connection and per-stream receive
// windows from starving the peer.
func (e *Engine) replenishWindows(ctx context.Context, streamID uint32, n int) {
	e.mu.Lock()
	e.connRecvWindow -= int64(n)
	grant := e.connRecvWindow <= int64(e.cfg.InitialWindowSize)/2
	if grant {
		e.connRecvWindow += int64(e.cfg.InitialWindowSize)
	}
	e.mu.Unlock()
	if grant {
		e.submitWrite(ctx, func(fr *http2.Framer) error {
			return fr.WriteWindowUpdate(0, e.cfg.InitialWindowSize)
		})
	}
	e.submitWrite(ctx, func(fr *http2.Framer) error {
		return fr.WriteWindowUpdate(streamID, uint32(n))
	})
}

func (e *Engine) applyBDPGrowth(ctx context.Context, target uint32) {
	e.mu.Lock()
	e.local.InitialWindowSize = target
	e.mu.Unlock()
	e.submitWrite(ctx, func(fr *http2.Framer) error {
		return fr.WriteWindowUpdate(0, target)
	})
}

func (e *Engine) onWindowUpdate(f *http2.WindowUpdateFrame) {
	if f.StreamID == 0 {
		e.mu.Lock()
		e.connSendWindow += int64(f.Increment)
		e.mu.Unlock()
		return
	}
	if s := e.lookupStream(f.StreamID); s != nil {
		s.mu.Lock()
		s.sendWindow += int64(f.Increment)
		s.mu.Unlock()
	}
}

// Accept blocks for the next server-side stream opened by the peer.
func (e *Engine) Accept(ctx context.Context) (*Stream, error) {
	select {
	case s, ok := <-e.accept:
		if !ok {
			return nil, e.terminalError()
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) terminalError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closeErr != nil {
		return e.closeErr
	}
	return protoerr.ErrShutdown
}

// OpenStream allocates the next local stream id and returns a Stream
// ready for SendHead (client role only).
func (e *Engine) OpenStream(outLen message.BodyLength) *Stream {
	e.mu.Lock()
	id := e.nextLocalID
	e.nextLocalID += 2
	s := newStream(id, e, int64(e.peer.InitialWindowSize), int64(e.local.InitialWindowSize), outLen)
	e.streams[id] = s
	e.mu.Unlock()
	s.setState(streamOpen)
	return s
}

// sendTrailerHeaders emits a trailer HEADERS frame (no pseudo-headers,
// always END_STREAM) for a response/request that already sent its
// regular head.
func (e *Engine) sendTrailerHeaders(ctx context.Context, s *Stream, trailer *hdr.Header) error {
	block, err := e.hpack.encodeTrailers(trailer)
	if err != nil {
		return err
	}
	return e.submitWrite(ctx, func(fr *http2.Framer) error {
		return fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      s.id,
			BlockFragment: block,
			EndHeaders:    true,
			EndStream:     true,
		})
	})
}

func (e *Engine) sendHead(ctx context.Context, s *Stream, head *message.MessageHead, endStream bool) error {
	var block []byte
	var err error
	authority := head.Header.Get(hdr.Host)
	if head.Subject.IsRequest {
		block, err = e.hpack.encodeRequest(head, authority)
	} else {
		block, err = e.hpack.encodeResponse(head)
	}
	if err != nil {
		return err
	}
	return e.submitWrite(ctx, func(fr *http2.Framer) error {
		return fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      s.id,
			BlockFragment: block,
			EndHeaders:    true,
			EndStream:     endStream,
		})
	})
}

// sendData fragments p into frames no larger than the peer's
// SETTINGS_MAX_FRAME_SIZE and blocks until enough stream- and
// connection-level send window is available for each fragment.
func (e *Engine) sendData(ctx context.Context, s *Stream, p []byte, endStream bool) error {
	for len(p) > 0 || (endStream && len(p) == 0) {
		maxFrame := e.peer.MaxFrameSize
		if maxFrame == 0 {
			maxFrame = DefaultSettings().MaxFrameSize
		}
		n := len(p)
		if uint32(n) > maxFrame {
			n = int(maxFrame)
		}
		if err := e.awaitSendWindow(ctx, s, n); err != nil {
			return err
		}
		chunk := p[:n]
		p = p[n:]
		last := len(p) == 0
		if err := e.submitWrite(ctx, func(fr *http2.Framer) error {
			return fr.WriteData(s.id, endStream && last, chunk)
		}); err != nil {
			return err
		}
		if endStream && last {
			return nil
		}
		if n == 0 {
			break
		}
	}
	return nil
}

func (e *Engine) awaitSendWindow(ctx context.Context, s *Stream, n int) error {
	for {
		s.mu.Lock()
		e.mu.Lock()
		ok := s.sendWindow >= int64(n) && e.connSendWindow >= int64(n)
		if ok {
			s.sendWindow -= int64(n)
			e.connSendWindow -= int64(n)
		}
		e.mu.Unlock()
		s.mu.Unlock()

		if ok {
			return nil
		}
		select {
		case <-time.After(time.Millisecond):
			// Flow-control windows are refilled asynchronously by the read
			// loop processing WINDOW_UPDATE; a short poll avoids needing a
			// dedicated per-stream waker registry for this core.
		case <-ctx.Done():
			return ctx.Err()
		case <-e.closed.C():
			return protoerr.ErrShutdown
		}
	}
}

func (e *Engine) resetStream(s *Stream, code http2.ErrCode) {
	e.submitWrite(context.Background(), func(fr *http2.Framer) error {
		return fr.WriteRSTStream(s.id, code)
	})
	e.dropStream(s.id)
}

// Shutdown sends GOAWAY with the highest stream id we have accepted so
// far and stops admitting new streams; in-flight streams are left to
// finish (spec.md §4.6 "Graceful shutdown ... H2: send GOAWAY with the
// highest received id"). lastPeerID (the peer's own GOAWAY, if any) has
// no bearing here — it records what the peer accepted from us, not what
// we accepted from the peer.
func (e *Engine) Shutdown(ctx context.Context, code http2.ErrCode, debugMsg string) error {
	e.mu.Lock()
	if e.goAwaySent {
		e.mu.Unlock()
		return nil
	}
	e.goAwaySent = true
	lastID := e.highestAcceptedID
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"last_stream_id": lastID, "code": code}).Debug("sending GOAWAY")

	return e.submitWrite(ctx, func(fr *http2.Framer) error {
		return fr.WriteGoAway(lastID, code, []byte(debugMsg))
	})
}

// Closed returns a channel that closes once the engine has terminated,
// either through Serve's read loop returning or a failed frame write.
// Shutdown alone does not close it.
func (e *Engine) Closed() <-chan struct{} { return e.closed.C() }
