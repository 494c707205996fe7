package upgrade

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/badu/protocore/h1"
	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/iobuf"
	"github.com/badu/protocore/message"
)

// ErrNotEarlyHints is returned by EarlyHintsPusher.Push when asked to
// send anything other than status 103 (spec.md §4.7 "Sending any status
// other than 103 through this handle is rejected").
var ErrNotEarlyHints = fmt.Errorf("upgrade: early hints pusher only accepts status 103")

// EarlyHintsPusher lets a server handler send zero or more 103 Early
// Hints responses before its final response, on an HTTP/1.1 connection
// that has not yet started writing that final head.
type EarlyHintsPusher struct {
	io *iobuf.IO

	mu   sync.Mutex
	sent bool
}

// NewEarlyHintsPusher returns a pusher bound to conn's underlying
// Buffered IO. Callers must not call conn.WriteHead concurrently with
// Push; both write to the same outbound queue.
func NewEarlyHintsPusher(conn *h1.Conn) *EarlyHintsPusher {
	return &EarlyHintsPusher{io: conn.IO}
}

// Push writes one 103 Early Hints response carrying header as its
// fields. code must be 103.
func (p *EarlyHintsPusher) Push(ctx context.Context, code int, header *hdr.Header) error {
	if code != 103 {
		return ErrNotEarlyHints
	}
	p.mu.Lock()
	p.sent = true
	p.mu.Unlock()

	var buf bytes.Buffer
	h1.WriteStatusLine(&buf, code, "", message.HTTP11)
	if err := header.Write(&buf); err != nil {
		return err
	}
	buf.WriteString("\r\n")
	p.io.WriteBuf(buf.Bytes())

	for {
		ready, err := p.io.Flush()
		if err != nil {
			return protoerr.New(protoerr.IO, "upgrade.EarlyHintsPusher.Push", err)
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

// Sent reports whether at least one Early Hints response has been sent.
func (p *EarlyHintsPusher) Sent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}
