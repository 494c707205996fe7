package h1

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/http/httpguts"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/iobuf"
	"github.com/badu/protocore/message"
	"github.com/badu/protocore/transport"
)

// Role distinguishes which side of the exchange a Conn plays, since
// request/response roles are reversed between client and server
// (spec.md §4.3).
type Role int

const (
	ServerRole Role = iota
	ClientRole
)

// State is one slot of the H1 Conn state machine (spec.md §3 "Conn (H1
// connection state)"). Conn is deliberately expressed as an explicit
// enum with named transition methods, not a hand-unrolled coroutine, so
// tests can drive states directly (spec.md §9 "Coroutine-style state
// machines").
type State int

const (
	StateReadHead State = iota
	StateReadBody
	StateWriteHead
	StateWriteBody
	StateIdle
	StateClosing
	StateClosed
)

func (s State) String() string {
	return [...]string{"ReadHead", "ReadBody", "WriteHead", "WriteBody", "Idle", "Closing", "Closed"}[s]
}

// Config holds the H1-specific knobs named in spec.md §6.
type Config struct {
	KeepAlive          bool // http1_keep_alive, default true
	PipelineDepth      int  // K, default 1 (spec.md §4.3 "Pipelining")
	PreserveHeaderCase bool // http1_preserve_header_case
	TitleCaseHeaders   bool // http1_title_case_headers
}

func DefaultConfig() Config {
	return Config{KeepAlive: true, PipelineDepth: 1}
}

// Conn is the H1 connection state machine coupling Buffered IO and the
// H1 Codec (spec.md §4.3).
type Conn struct {
	IO   *iobuf.IO
	Role Role
	Cfg  Config

	mu          sync.Mutex
	state       State
	keepAlive   bool // negotiated by the most recently processed head
	lastMethod  string
	hijacked    bool
}

// New builds a Conn ready to read (server) or write (client) its first
// head.
func New(io *iobuf.IO, role Role, cfg Config) *Conn {
	return &Conn{IO: io, Role: role, Cfg: cfg, state: StateReadHead, keepAlive: cfg.KeepAlive}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// KeepAliveWanted reports the keep-alive decision recorded for the most
// recently read/written head (spec.md §4.3).
func (c *Conn) KeepAliveWanted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlive
}

// ReadHead parses the next HTTP/1 head off the wire: a request line for
// a ServerRole Conn, a status line for a ClientRole Conn. It validates
// the Host header on requests (spec.md §4.3's server readRequest path,
// grounded on the teacher's conn.go readRequest), selects the body
// BodyLength, and transitions ReadHead → ReadBody.
//
// A ClientRole Conn may also call ReadHead while still in
// StateWriteBody: the response (or an interim 1xx) can legitimately
// arrive before the request body finishes streaming, e.g. a sender
// racing a 100-continue informational against its own
// 100_continue_timeout (spec.md §4.2, §4.6 "HTTP/1 client"). The
// concurrent write side's own WriteBodyDone still governs the eventual
// Idle/Closing transition once the body completes.
func (c *Conn) ReadHead(ctx context.Context, requestMethodForResponse string) (*message.MessageHead, message.BodyLength, error) {
	st := c.State()
	duplexClientRead := c.Role == ClientRole && st == StateWriteBody
	if st != StateReadHead && st != StateIdle && !duplexClientRead {
		return nil, message.BodyLength{}, fmt.Errorf("h1: ReadHead called in state %v", st)
	}
	raw, err := c.IO.ParseHead()
	if err != nil {
		c.setState(StateClosing)
		return nil, message.BodyLength{}, protoerr.New(protoerr.IO, "h1.Conn.ReadHead", err)
	}

	var head *message.MessageHead
	var length message.BodyLength
	if c.Role == ServerRole {
		head, err = ParseRequestHead(raw)
		if err != nil {
			c.setState(StateClosing)
			return nil, message.BodyLength{}, err
		}
		if err := validateRequestHead(head); err != nil {
			c.setState(StateClosing)
			return nil, message.BodyLength{}, err
		}
		c.lastMethod = head.Subject.Method
		length, err = DecoderLengthForRequest(head.Subject.Method, head.Header)
	} else {
		head, err = ParseStatusHead(raw)
		if err != nil {
			c.setState(StateClosing)
			return nil, message.BodyLength{}, err
		}
		length, err = DecoderLengthForResponse(head.Subject.Code, requestMethodForResponse, head.Header)
	}
	if err != nil {
		c.setState(StateClosing)
		return nil, message.BodyLength{}, err
	}

	c.mu.Lock()
	c.keepAlive = c.Cfg.KeepAlive && DecideKeepAlive(head.Version, head.Header)
	c.mu.Unlock()
	c.setState(StateReadBody)
	return head, length, nil
}

func validateRequestHead(head *message.MessageHead) error {
	hosts := head.Header.Values(hdr.Host)
	if head.Version == message.HTTP11 && len(hosts) == 0 && head.Subject.Method != "CONNECT" {
		return protoerr.New(protoerr.Parse, "h1.validateRequestHead", fmt.Errorf("missing required Host header"))
	}
	if len(hosts) > 1 {
		return protoerr.New(protoerr.Parse, "h1.validateRequestHead", fmt.Errorf("too many Host headers"))
	}
	if len(hosts) == 1 && !httpguts.ValidHostHeader(hosts[0]) {
		return protoerr.New(protoerr.Parse, "h1.validateRequestHead", fmt.Errorf("malformed Host header"))
	}
	var invalid error
	head.Header.Range(func(canonical, _, value string) bool {
		if !httpguts.ValidHeaderFieldValue(value) {
			invalid = protoerr.New(protoerr.Parse, "h1.validateRequestHead", fmt.Errorf("invalid header value for %q", canonical))
			return false
		}
		return true
	})
	return invalid
}

// BodyDone transitions ReadBody → Idle once the Decoder reports
// end-of-body.
func (c *Conn) BodyDone() {
	c.setState(StateIdle)
}

// WriteHead serializes head plus the headers implied by bodyLength
// (Content-Length or chunked Transfer-Encoding) and queues it on the
// underlying iobuf.IO; it does not flush. Connection-option headers set
// by the caller are stripped and replaced with the canonical ones this
// Conn decides (spec.md §4.2 "Connection-option headers").
func (c *Conn) WriteHead(ctx context.Context, head *message.MessageHead, bodyLength message.BodyLength) (*Encoder, error) {
	if c.State() != StateWriteHead && c.State() != StateIdle && c.State() != StateReadBody {
		// Server: response may be written while the request body is
		// still being streamed by the handler; client: request head is
		// written before any response has been read.
	}
	out := hdr.New()
	if c.Cfg.PreserveHeaderCase && !c.Cfg.TitleCaseHeaders {
		out = hdr.NewPreserveCase()
	}
	out.CopyFromHeader(head.Header)
	hdr.StripHopByHop(out)

	switch bodyLength.Kind {
	case message.Exact:
		out.Set(hdr.ContentLength, fmt.Sprintf("%d", bodyLength.N))
	case message.Chunked:
		out.Set(hdr.TransferEncoding, hdr.ValueChunked)
	}
	if !c.keepAliveFor(head.Version) {
		out.Set(hdr.Connection, hdr.ValueClose)
	} else if head.Version == message.HTTP10 {
		out.Set(hdr.Connection, hdr.ValueKeepAlive)
	}

	var buf bytes.Buffer
	if head.Subject.IsRequest {
		WriteRequestLine(&buf, head.Subject.Method, head.Subject.Target, head.Version)
	} else {
		WriteStatusLine(&buf, head.Subject.Code, head.Subject.Reason, head.Version)
	}
	if err := out.Write(&buf); err != nil {
		return nil, err
	}
	buf.WriteString("\r\n")
	c.IO.WriteBuf(buf.Bytes())

	c.setState(StateWriteBody)
	return NewEncoder(bodyLength), nil
}

func (c *Conn) keepAliveFor(version message.Version) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlive && c.Cfg.KeepAlive
}

// WriteBodyDone transitions WriteBody → Idle (keep-alive) or → Closing
// (spec.md §4.3 "WriteBody → Idle (if keep_alive) else Closing").
func (c *Conn) WriteBodyDone() {
	if c.KeepAliveWanted() {
		c.setState(StateIdle)
	} else {
		c.setState(StateClosing)
	}
}

// Abort transitions to Closing from any state, e.g. on parse error, IO
// error, or explicit shutdown (spec.md §4.3).
func (c *Conn) Abort() {
	c.setState(StateClosing)
}

// Close drains the outbound buffer and closes the transport. It is
// idempotent; P3 (no-shutdown-with-buffered-bytes) is enforced one
// layer down by iobuf.IO.Shutdown. A flush failure does not preempt the
// transport close: both causes are reported via multierror instead of
// the flush error being silently dropped in favor of the close result.
func (c *Conn) Close() error {
	defer c.setState(StateClosed)
	for {
		ready, err := c.IO.Flush()
		if err != nil {
			if closeErr := c.IO.Close(); closeErr != nil {
				return multierror.Append(nil, err, closeErr).ErrorOrNil()
			}
			return err
		}
		if ready {
			break
		}
	}
	return c.IO.Shutdown()
}

// Upgrade hands off the raw transport (plus any bytes already buffered
// past the head) to an external consumer following a 101 response or an
// accepted CONNECT (spec.md §4.3 "Upgrade"). After Upgrade the Conn is
// terminal and must not be used for further reads or writes.
func (c *Conn) Upgrade() (transport.Conn, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hijacked {
		return nil, nil, protoerr.ErrHijacked
	}
	c.hijacked = true
	c.state = StateClosed

	br := c.IO.Reader()
	var leftover []byte
	if n := br.Buffered(); n > 0 {
		leftover, _ = br.Peek(n)
		leftover = append([]byte(nil), leftover...)
	}
	return c.IO.Conn(), leftover, nil
}

func (c *Conn) Hijacked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hijacked
}

// NewBody creates a Body Channel pair sized to length, for dispatch to
// hand the Consumer half to a Service and drive DecodeBody into the
// Producer half.
func NewBody(length message.BodyLength) (*body.Producer, *body.Consumer) {
	return body.New(length)
}
