package h1

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/iobuf"
	"github.com/badu/protocore/message"
)

// S1: Parse request.
func TestParseRequestHeadScenarioS1(t *testing.T) {
	raw := []byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n")
	head, err := ParseRequestHead(raw)
	if err != nil {
		t.Fatal(err)
	}
	if head.Subject.Method != "GET" || head.Subject.Target != "/a" || head.Version != message.HTTP11 {
		t.Fatalf("got %+v", head.Subject)
	}
	if head.Header.Get("Host") != "x" {
		t.Fatalf("got host %q", head.Header.Get("Host"))
	}
	length, err := DecoderLengthForRequest(head.Subject.Method, head.Header)
	if err != nil {
		t.Fatal(err)
	}
	if length.Kind != message.Exact || length.N != 0 {
		t.Fatalf("expected Length(0), got %v", length)
	}
	if len(raw) != 28 {
		t.Fatalf("expected consumed=28, raw is %d bytes", len(raw))
	}
}

// S2: Chunked round trip.
func TestChunkedRoundTripScenarioS2(t *testing.T) {
	io_ := iobuf.New(&loopbackConn{}, iobuf.DefaultConfig())
	enc := NewEncoder(message.ChunkedLength)
	if err := enc.WriteChunk(io_, []byte("he")); err != nil {
		t.Fatal(err)
	}
	if err := enc.WriteChunk(io_, []byte("llo")); err != nil {
		t.Fatal(err)
	}
	if err := enc.Finish(io_, nil); err != nil {
		t.Fatal(err)
	}
	lc := io_.Conn().(*loopbackConn)
	if _, err := io_.Flush(); err != nil {
		t.Fatal(err)
	}
	want := "2\r\nhe\r\n3\r\nllo\r\n0\r\n\r\n"
	if lc.String() != want {
		t.Fatalf("got %q want %q", lc.String(), want)
	}

	br := bufio.NewReader(bytes.NewBufferString(want))
	p, c := body.New(message.ChunkedLength)
	go DecodeBody(context.Background(), br, message.ChunkedLength, p)
	var got bytes.Buffer
	for {
		f, err := c.PollFrame(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if f.Kind == body.Data {
			got.Write(f.Chunk)
		}
		if f.Kind == body.End || f.Kind == body.Trailers {
			break
		}
	}
	if got.String() != "hello" {
		t.Fatalf("got %q", got.String())
	}
}

// S3: Conflicting Content-Length.
func TestConflictingContentLengthScenarioS3(t *testing.T) {
	h := hdr.New()
	h.Add(hdr.ContentLength, "10")
	h.Add(hdr.ContentLength, "11")
	_, err := DecoderLengthForRequest("POST", h)
	if err == nil {
		t.Fatal("expected InvalidFraming error for conflicting Content-Length")
	}
}

func TestDecideKeepAlive(t *testing.T) {
	h11close := hdr.New()
	h11close.Add(hdr.Connection, "close")
	if DecideKeepAlive(message.HTTP11, h11close) {
		t.Fatal("HTTP/1.1 with Connection: close should not keep alive")
	}
	h11default := hdr.New()
	if !DecideKeepAlive(message.HTTP11, h11default) {
		t.Fatal("HTTP/1.1 default should keep alive")
	}
	h10 := hdr.New()
	if DecideKeepAlive(message.HTTP10, h10) {
		t.Fatal("HTTP/1.0 default should not keep alive")
	}
	h10ka := hdr.New()
	h10ka.Add(hdr.Connection, "keep-alive")
	if !DecideKeepAlive(message.HTTP10, h10ka) {
		t.Fatal("HTTP/1.0 with Connection: keep-alive should keep alive")
	}
}

func TestTransferEncodingWithoutChunkedIsInvalidOnRequest(t *testing.T) {
	h := hdr.New()
	h.Add(hdr.TransferEncoding, "gzip")
	if _, err := DecoderLengthForRequest("POST", h); err == nil {
		t.Fatal("expected InvalidFraming for non-chunked terminal coding on request")
	}
}

func TestCloseDelimForResponseWithNoFraming(t *testing.T) {
	h := hdr.New()
	length, err := DecoderLengthForResponse(200, "GET", h)
	if err != nil {
		t.Fatal(err)
	}
	if length.Kind != message.CloseDelim {
		t.Fatalf("expected CloseDelim, got %v", length)
	}
}

func TestEncoderRejectsOverwrite(t *testing.T) {
	io_ := iobuf.New(&loopbackConn{}, iobuf.DefaultConfig())
	enc := NewEncoder(message.ExactLength(3))
	if err := enc.WriteChunk(io_, []byte("abcd")); err == nil {
		t.Fatal("expected error writing past declared Content-Length")
	}
}

func TestEncoderRejectsUnderwrite(t *testing.T) {
	io_ := iobuf.New(&loopbackConn{}, iobuf.DefaultConfig())
	enc := NewEncoder(message.ExactLength(3))
	enc.WriteChunk(io_, []byte("ab"))
	if err := enc.Finish(io_, nil); err == nil {
		t.Fatal("expected error finishing an under-written Content-Length body")
	}
}

// loopbackConn is a minimal transport.Conn for tests in this package.
type loopbackConn struct {
	bytes.Buffer
}

func (l *loopbackConn) Close() error      { return nil }
func (l *loopbackConn) CloseWrite() error { return nil }

var _ io.ReadWriteCloser = (*loopbackConn)(nil)
