// Package iobuf implements Buffered IO (spec.md §4.1): a read/write pair
// around an abstract full-duplex transport.Conn, with an inbound buffer
// that parses HTTP/1 head messages and an outbound buffer that
// coalesces writes and enforces the "never shut down with bytes still
// buffered" rule (spec.md §4.1 Policy, §8 P3).
package iobuf

import (
	"bufio"
	"errors"

	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/transport"
)

// ErrWouldBlock is the sentinel a transport.Conn.Write should return,
// together with however many bytes it did manage to write, to signal
// "no more progress right now" without it being a hard I/O failure.
// Real net.Conn writes never do this (a blocking socket write either
// finishes or fails); this exists so tests can exercise the
// no-shutdown-with-buffered-bytes invariant (spec.md §8 S4) the same
// way a non-blocking transport would.
var ErrWouldBlock = errors.New("iobuf: write would block")

// IO is Buffered IO: one bufio.Reader for head parsing and body
// decoding, and a queue of pending output slices flushed to the
// transport in submission order.
type IO struct {
	conn transport.Conn
	br   *bufio.Reader
	cfg  Config

	outbuf [][]byte
}

// New wraps conn with Buffered IO using cfg. Non-positive MaxHeadSize and
// ReadBufferSize take their defaults, and so does a negative
// MaxLeadingEmptyLines; a zero MaxLeadingEmptyLines skips no empty lines.
func New(conn transport.Conn, cfg Config) *IO {
	cfg = cfg.withDefaults()
	return &IO{
		conn: conn,
		br:   bufio.NewReaderSize(conn, cfg.ReadBufferSize),
		cfg:  cfg,
	}
}

// Reader exposes the underlying buffered reader so an h1 Decoder can
// consume body bytes immediately following a parsed head, without
// iobuf needing to know about body framing.
func (io *IO) Reader() *bufio.Reader { return io.br }

// Conn returns the wrapped transport, e.g. for an upgrade handoff.
func (io *IO) Conn() transport.Conn { return io.conn }

// ParseHead scans for a complete HTTP/1 head terminated by CRLF CRLF,
// tolerating up to cfg.MaxLeadingEmptyLines stray blank lines first
// (spec.md §4.1). It blocks until a full head has arrived or the
// transport errors; there is no NeedMore return in this blocking-I/O
// core (see SPEC_FULL.md §0) — protoerr.ErrTooLarge is returned instead
// of TooLarge once the ceiling is crossed.
func (io *IO) ParseHead() ([]byte, error) {
	for leading := 0; leading < io.cfg.MaxLeadingEmptyLines; leading++ {
		peek, err := io.br.Peek(2)
		if err != nil {
			if leading == 0 {
				return nil, err
			}
			break
		}
		if !(peek[0] == '\r' && peek[1] == '\n') {
			break
		}
		io.br.Discard(2)
	}

	var head []byte
	for {
		b, err := io.br.ReadByte()
		if err != nil {
			return nil, err
		}
		head = append(head, b)
		if len(head) > io.cfg.MaxHeadSize {
			return nil, protoerr.New(protoerr.Parse, "iobuf.ParseHead", protoerr.ErrTooLarge)
		}
		if endsInDoubleCRLF(head) {
			return head, nil
		}
	}
}

func endsInDoubleCRLF(b []byte) bool {
	n := len(b)
	return n >= 4 && b[n-4] == '\r' && b[n-3] == '\n' && b[n-2] == '\r' && b[n-1] == '\n'
}

// WriteBuf appends bytes to the outbound queue. It never blocks and
// never touches the transport — only Flush does (spec.md §4.1
// "write_buf(bytes): appends to the outbound buffer; never blocks").
func (io *IO) WriteBuf(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	io.outbuf = append(io.outbuf, cp)
}

// Flush drains the outbound queue to the transport in submission
// order. ready is true only when the queue is fully empty and the last
// write succeeded — callers (dispatch.Dispatcher) must treat ready==false
// as Pending and must not shut the transport down (spec.md §8 P3, S4).
func (io *IO) Flush() (ready bool, err error) {
	for len(io.outbuf) > 0 {
		chunk := io.outbuf[0]
		n, werr := io.conn.Write(chunk)
		if n > 0 {
			io.outbuf[0] = chunk[n:]
		}
		if len(io.outbuf[0]) == 0 {
			io.outbuf = io.outbuf[1:]
		}
		if werr != nil {
			if errors.Is(werr, ErrWouldBlock) {
				return false, nil
			}
			return false, werr
		}
	}
	return true, nil
}

// Flushed reports whether the outbound queue is currently empty. It
// does not imply the bytes reached the peer's kernel buffer via a
// single successful write — only that nothing remains queued here.
func (io *IO) Flushed() bool { return len(io.outbuf) == 0 }

// WantsWrite reports whether the scheduler should re-drive Flush.
func (io *IO) WantsWrite() bool { return !io.Flushed() }

// Shutdown closes the transport. Calling it while output remains
// queued is a defect (spec.md §4.1 "Calling shutdown while outbound
// bytes remain is a defect") — enforced here, not left to convention.
func (io *IO) Shutdown() error {
	if !io.Flushed() {
		return protoerr.New(protoerr.Protocol, "iobuf.Shutdown",
			errors.New("shutdown invoked while outbound buffer is non-empty"))
	}
	return io.conn.Close()
}

// Close closes the transport unconditionally, for the abort path
// (spec.md §7 "IO errors abort both directions").
func (io *IO) Close() error {
	return io.conn.Close()
}
