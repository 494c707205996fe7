package upgrade

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/iobuf"
	"github.com/badu/protocore/message"
)

func TestWantsContinue(t *testing.T) {
	h := hdr.New()
	h.Add(hdr.Expect, "100-continue")
	head := &message.MessageHead{Header: h}
	if !WantsContinue(head) {
		t.Fatal("expected Expect: 100-continue to be detected")
	}

	h2 := hdr.New()
	head2 := &message.MessageHead{Header: h2}
	if WantsContinue(head2) {
		t.Fatal("expected no Expect header to report false")
	}
}

type loopbackConn struct{ bytes.Buffer }

func (l *loopbackConn) Close() error      { return nil }
func (l *loopbackConn) CloseWrite() error { return nil }

var _ io.ReadWriteCloser = (*loopbackConn)(nil)

func TestSend100Continue(t *testing.T) {
	conn := &loopbackConn{}
	io_ := iobuf.New(conn, iobuf.DefaultConfig())
	if err := Send100Continue(context.Background(), io_); err != nil {
		t.Fatal(err)
	}
	if conn.String() != "HTTP/1.1 100 Continue\r\n\r\n" {
		t.Fatalf("got %q", conn.String())
	}
}

func TestGateOnDemandSendsContinueBeforeDecode(t *testing.T) {
	conn := &loopbackConn{}
	io_ := iobuf.New(conn, iobuf.DefaultConfig())
	producer, consumer := body.New(message.ExactLength(5))

	var decoded bool
	GateOnDemand(context.Background(), io_, producer, func(p *body.Producer) {
		decoded = true
		p.SendData(context.Background(), []byte("hello"))
		p.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := consumer.PollFrame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != body.Data || string(f.Chunk) != "hello" {
		t.Fatalf("got frame %+v", f)
	}
	if !decoded {
		t.Fatal("expected decode callback to run")
	}
	if conn.String() != "HTTP/1.1 100 Continue\r\n\r\n" {
		t.Fatalf("expected 100 Continue to have been written, got %q", conn.String())
	}
}

func TestNewWatcherNotifiesRegisteredCallbacksInOrder(t *testing.T) {
	w := NewWatcher()
	var seen []int
	w.OnInformational(func(h *message.MessageHead) { seen = append(seen, h.Subject.Code) })
	w.OnInformational(func(h *message.MessageHead) { seen = append(seen, h.Subject.Code*10) })

	w.Notify(&message.MessageHead{Subject: message.StatusSubject(100, "")})

	if len(seen) != 2 || seen[0] != 100 || seen[1] != 1000 {
		t.Fatalf("got %v", seen)
	}
}
