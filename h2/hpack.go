package h2

import (
	"bytes"
	"fmt"
	"strconv"

	"golang.org/x/net/http2/hpack"

	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/message"
)

// pseudoHeaders carries the H2 request/response pseudo-header fields
// alongside a regular hdr.Header, since ":method"/":path"/":status" etc
// are not ordinary fields (spec.md §4.4 "Pseudo-headers are constructed
// from the parsed HTTP target and method").
type pseudoHeaders struct {
	method    string
	scheme    string
	authority string
	path      string
	status    string
	protocol  string // extended CONNECT (spec.md §4.4 "Extended CONNECT")
}

// hpackCodec wraps one encoder and one decoder per connection, the way
// HPACK's dynamic table requires: both sides must apply every header
// block in frame order to stay in sync, so a codec is never shared
// across streams (spec.md §9 justifies keeping golang.org/x/net's
// HPACK implementation here since no example repo in the pack ships an
// independent one; see DESIGN.md).
type hpackCodec struct {
	enc    *hpack.Encoder
	encBuf bytes.Buffer
	dec    *hpack.Decoder
}

func newHPACKCodec(peerHeaderTableSize uint32) *hpackCodec {
	c := &hpackCodec{}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.dec = hpack.NewDecoder(peerHeaderTableSize, nil)
	return c
}

// encodeRequest renders a request MessageHead as one HPACK block.
func (c *hpackCodec) encodeRequest(head *message.MessageHead, authority string) ([]byte, error) {
	c.encBuf.Reset()
	scheme := "https"
	writeFns := []func() error{
		func() error { return c.enc.WriteField(hpack.HeaderField{Name: ":method", Value: head.Subject.Method}) },
		func() error { return c.enc.WriteField(hpack.HeaderField{Name: ":scheme", Value: scheme}) },
		func() error { return c.enc.WriteField(hpack.HeaderField{Name: ":authority", Value: authority}) },
		func() error { return c.enc.WriteField(hpack.HeaderField{Name: ":path", Value: head.Subject.Target}) },
	}
	for _, fn := range writeFns {
		if err := fn(); err != nil {
			return nil, protoerr.New(protoerr.Protocol, "h2.hpackCodec.encodeRequest", err)
		}
	}
	if err := c.writeRegularFields(head.Header); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.encBuf.Bytes()...), nil
}

// encodeResponse renders a response MessageHead, or a 1xx/early-hints
// informational head, as one HPACK block.
func (c *hpackCodec) encodeResponse(head *message.MessageHead) ([]byte, error) {
	c.encBuf.Reset()
	status := strconv.Itoa(head.Subject.Code)
	if err := c.enc.WriteField(hpack.HeaderField{Name: ":status", Value: status}); err != nil {
		return nil, protoerr.New(protoerr.Protocol, "h2.hpackCodec.encodeResponse", err)
	}
	if err := c.writeRegularFields(head.Header); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.encBuf.Bytes()...), nil
}

// encodeTrailers renders a trailer block: regular fields only, no
// pseudo-headers (RFC 7540 §8.1 trailers never carry them).
func (c *hpackCodec) encodeTrailers(h *hdr.Header) ([]byte, error) {
	c.encBuf.Reset()
	if err := c.writeRegularFields(h); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.encBuf.Bytes()...), nil
}

func (c *hpackCodec) writeRegularFields(h *hdr.Header) error {
	var err error
	h.Range(func(canonical, _, value string) bool {
		if hdr.IsHopByHop(canonical) {
			return true // stripped before emission (spec.md §4.4 "Header policy")
		}
		werr := c.enc.WriteField(hpack.HeaderField{Name: lowerASCII(canonical), Value: value})
		if werr != nil {
			err = protoerr.New(protoerr.Protocol, "h2.hpackCodec.writeRegularFields", werr)
			return false
		}
		return true
	})
	return err
}

// decode parses one HPACK block into a regular Header plus the
// pseudo-header fields it carried. Pseudo-headers seen after a regular
// field, or repeated, are a protocol error per RFC 7540 §8.1.2.1; this
// codec rejects them the same way.
func (c *hpackCodec) decode(block []byte) (*hdr.Header, pseudoHeaders, error) {
	h := hdr.New()
	var p pseudoHeaders
	var sawRegular bool
	seenPseudo := make(map[string]bool)
	var decodeErr error

	c.dec.SetEmitFunc(func(f hpack.HeaderField) {
		if decodeErr != nil {
			return
		}
		if len(f.Name) > 0 && f.Name[0] == ':' {
			if sawRegular {
				decodeErr = protoerr.New(protoerr.Protocol, "h2.hpackCodec.decode",
					fmt.Errorf("pseudo-header %q after regular header", f.Name))
				return
			}
			if seenPseudo[f.Name] {
				decodeErr = protoerr.New(protoerr.Protocol, "h2.hpackCodec.decode",
					fmt.Errorf("repeated pseudo-header %q", f.Name))
				return
			}
			seenPseudo[f.Name] = true
			switch f.Name {
			case ":method":
				p.method = f.Value
			case ":scheme":
				p.scheme = f.Value
			case ":authority":
				p.authority = f.Value
			case ":path":
				p.path = f.Value
			case ":status":
				p.status = f.Value
			case ":protocol":
				p.protocol = f.Value
			default:
				decodeErr = protoerr.New(protoerr.Protocol, "h2.hpackCodec.decode",
					fmt.Errorf("unknown pseudo-header %q", f.Name))
			}
			return
		}
		sawRegular = true
		if f.Name == "te" && f.Value != hdr.ValueTrailers {
			decodeErr = protoerr.New(protoerr.Protocol, "h2.hpackCodec.decode",
				fmt.Errorf("te header carries value other than %q", hdr.ValueTrailers))
			return
		}
		if hdr.IsHopByHop(hdr.CanonicalHeaderKey(f.Name)) {
			decodeErr = protoerr.New(protoerr.Protocol, "h2.hpackCodec.decode",
				fmt.Errorf("hop-by-hop header %q on an H2 stream", f.Name))
			return
		}
		h.AddRaw(f.Name, f.Name, f.Value)
	})

	if _, err := c.dec.Write(block); err != nil {
		return nil, pseudoHeaders{}, protoerr.New(protoerr.Parse, "h2.hpackCodec.decode", err)
	}
	if decodeErr != nil {
		return nil, pseudoHeaders{}, decodeErr
	}
	return h, p, nil
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
