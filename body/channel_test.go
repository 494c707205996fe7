package body

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/message"
)

func TestSendDataBlocksUntilPoll(t *testing.T) {
	p, c := New(message.ExactLength(5))
	ctx := context.Background()

	sent := make(chan error, 1)
	go func() { sent <- p.SendData(ctx, []byte("hello")) }()

	select {
	case <-sent:
		t.Fatal("SendData returned before any poll")
	case <-time.After(20 * time.Millisecond):
	}

	f, err := c.PollFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != Data || string(f.Chunk) != "hello" {
		t.Fatalf("got %+v", f)
	}
	if err := <-sent; err != nil {
		t.Fatal(err)
	}
}

func TestSizeHintExact(t *testing.T) {
	p, c := New(message.ExactLength(10))
	ctx := context.Background()
	if n, exact := c.SizeHint(); !exact || n != 10 {
		t.Fatalf("got %d %v", n, exact)
	}
	go p.SendData(ctx, make([]byte, 4))
	c.PollFrame(ctx)
	if n, exact := c.SizeHint(); !exact || n != 6 {
		t.Fatalf("got %d %v", n, exact)
	}
}

func TestSizeHintUnknownForChunked(t *testing.T) {
	_, c := New(message.ChunkedLength)
	if _, exact := c.SizeHint(); exact {
		t.Fatal("expected unknown size hint for chunked body")
	}
}

func TestTrailersTerminateChannel(t *testing.T) {
	p, c := New(message.ChunkedLength)
	ctx := context.Background()
	tr := hdr.New()
	tr.Add("X-Checksum", "abc")
	go p.SendTrailers(ctx, tr)

	f, err := c.PollFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != Trailers || f.Trailer.Get("X-Checksum") != "abc" {
		t.Fatalf("got %+v", f)
	}

	if err := p.SendData(ctx, []byte("x")); err != ErrAlreadyTerminated {
		t.Fatalf("expected ErrAlreadyTerminated, got %v", err)
	}
}

func TestReaderAdaptsToIOReader(t *testing.T) {
	p, c := New(message.ChunkedLength)
	ctx := context.Background()
	go func() {
		p.SendData(ctx, []byte("he"))
		p.SendData(ctx, []byte("llo"))
		p.Close()
	}()

	r := NewReader(ctx, c)
	buf, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}
}

func TestWaitWantUnblocksOnFirstPoll(t *testing.T) {
	p, c := New(message.ChunkedLength)
	ctx := context.Background()

	waited := make(chan struct{})
	go func() {
		p.WaitWant(ctx)
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("WaitWant returned before any poll")
	case <-time.After(20 * time.Millisecond):
	}

	go c.PollFrame(ctx)
	go p.SendData(ctx, []byte("a"))

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("WaitWant never unblocked")
	}
}
