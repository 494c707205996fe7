package h1

import (
	"bytes"
	"fmt"

	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/iobuf"
	"github.com/badu/protocore/message"
)

// Encoder drives outbound body framing (spec.md §3 "Encoder (state
// machine per outbound body)"). It writes directly to an iobuf.IO's
// outbound queue; the caller is responsible for calling Flush.
type Encoder struct {
	length    message.BodyLength
	remaining uint64
	done      bool
}

// NewEncoder builds an Encoder for the BodyLength chosen by
// EncoderLengthFor.
func NewEncoder(length message.BodyLength) *Encoder {
	e := &Encoder{length: length}
	if length.Kind == message.Exact {
		e.remaining = length.N
	}
	return e
}

// WriteChunk frames and queues one chunk of body data.
func (e *Encoder) WriteChunk(io *iobuf.IO, chunk []byte) error {
	if e.done {
		return protoerr.New(protoerr.User, "h1.Encoder.WriteChunk", fmt.Errorf("write after end of body"))
	}
	switch e.length.Kind {
	case message.Exact:
		if uint64(len(chunk)) > e.remaining {
			return protoerr.New(protoerr.User, "h1.Encoder.WriteChunk",
				fmt.Errorf("body producer emitted more than the declared Content-Length"))
		}
		e.remaining -= uint64(len(chunk))
		io.WriteBuf(chunk)
	case message.Chunked:
		if len(chunk) == 0 {
			return nil
		}
		var head bytes.Buffer
		fmt.Fprintf(&head, "%x\r\n", len(chunk))
		io.WriteBuf(head.Bytes())
		io.WriteBuf(chunk)
		io.WriteBuf([]byte("\r\n"))
	case message.CloseDelim:
		io.WriteBuf(chunk)
	case message.Empty:
		if len(chunk) > 0 {
			return protoerr.New(protoerr.User, "h1.Encoder.WriteChunk", fmt.Errorf("body bytes on a bodyless message"))
		}
	}
	return nil
}

// Finish emits the framing terminator (the zero-size chunk plus any
// trailers for Chunked; nothing for Length/CloseDelim/Empty) and marks
// the encoder done. Writing exactly the promised number of bytes for
// Exact framing, and emitting valid chunk terminators for Chunked, is
// spec.md §8 P2 "Framing conservation".
func (e *Encoder) Finish(io *iobuf.IO, trailer *hdr.Header) error {
	if e.done {
		return nil
	}
	e.done = true
	switch e.length.Kind {
	case message.Exact:
		if e.remaining != 0 {
			return protoerr.New(protoerr.User, "h1.Encoder.Finish",
				fmt.Errorf("body producer under-wrote declared Content-Length by %d bytes", e.remaining))
		}
	case message.Chunked:
		io.WriteBuf([]byte("0\r\n"))
		if trailer != nil && trailer.Len() > 0 {
			var buf bytes.Buffer
			if err := trailer.Write(&buf); err != nil {
				return err
			}
			io.WriteBuf(buf.Bytes())
		}
		io.WriteBuf([]byte("\r\n"))
	case message.CloseDelim, message.Empty:
		// End-of-body is simply "no more bytes"; nothing to emit.
	}
	return nil
}

// Done reports whether Finish has already run.
func (e *Encoder) Done() bool { return e.done }
