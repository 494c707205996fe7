package iobuf

import (
	"bytes"
	"io"
	"testing"

	"github.com/badu/protocore/internal/protoerr"
)

type fakeConn struct {
	bytes.Buffer        // read side
	written      []byte // write side
	writeLimit   int    // 0 = unlimited
}

func (f *fakeConn) Write(p []byte) (int, error) {
	if f.writeLimit > 0 && len(p) > f.writeLimit {
		n := f.writeLimit
		f.written = append(f.written, p[:n]...)
		return n, ErrWouldBlock
	}
	f.written = append(f.written, p...)
	return len(p), nil
}
func (f *fakeConn) Close() error      { return nil }
func (f *fakeConn) CloseWrite() error { return nil }

func TestParseHeadBasic(t *testing.T) {
	fc := &fakeConn{}
	fc.WriteString("GET /a HTTP/1.1\r\nHost: x\r\n\r\nBODY")
	io_ := New(fc, DefaultConfig())
	head, err := io_.ParseHead()
	if err != nil {
		t.Fatal(err)
	}
	if string(head) != "GET /a HTTP/1.1\r\nHost: x\r\n\r\n" {
		t.Fatalf("got %q", head)
	}
	rest, _ := io.ReadAll(io_.Reader())
	if string(rest) != "BODY" {
		t.Fatalf("leftover got %q", rest)
	}
}

func TestParseHeadTooLarge(t *testing.T) {
	fc := &fakeConn{}
	fc.WriteString("GET / HTTP/1.1\r\n")
	fc.WriteString(string(bytes.Repeat([]byte("a"), 20000)) + ": b\r\n\r\n")
	cfg := DefaultConfig()
	cfg.MaxHeadSize = 100
	io_ := New(fc, cfg)
	_, err := io_.ParseHead()
	if !protoerr.Is(err, protoerr.Parse) {
		t.Fatalf("expected parse/too-large error, got %v", err)
	}
}

func TestLeadingEmptyLinesTolerated(t *testing.T) {
	fc := &fakeConn{}
	fc.WriteString("\r\n\r\nGET / HTTP/1.1\r\n\r\n")
	io_ := New(fc, DefaultConfig())
	head, err := io_.ParseHead()
	if err != nil {
		t.Fatal(err)
	}
	if string(head) != "GET / HTTP/1.1\r\n\r\n" {
		t.Fatalf("got %q", head)
	}
}

func TestFlushNeverReadyWithBufferedBytes(t *testing.T) {
	fc := &fakeConn{writeLimit: 4}
	io_ := New(fc, DefaultConfig())
	io_.WriteBuf([]byte("abcdefgh"))

	ready, err := io_.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if ready {
		t.Fatal("Flush reported ready with bytes still unflushed")
	}
	if io_.Flushed() {
		t.Fatal("Flushed() true but buffer not drained")
	}

	if err := io_.Shutdown(); err == nil {
		t.Fatal("Shutdown should refuse to run while output is buffered")
	}

	fc.writeLimit = 0
	ready, err = io_.Flush()
	if err != nil || !ready {
		t.Fatalf("expected fully flushed, got ready=%v err=%v", ready, err)
	}
	if string(fc.written) != "abcdefgh" {
		t.Fatalf("got %q", fc.written)
	}
	if err := io_.Shutdown(); err != nil {
		t.Fatalf("Shutdown should succeed once flushed: %v", err)
	}
}
