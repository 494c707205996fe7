package dispatch

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/h1"
	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/iobuf"
	"github.com/badu/protocore/message"
	"github.com/badu/protocore/upgrade"
)

func requestHead(method, target string) *message.MessageHead {
	h := &message.MessageHead{Version: message.HTTP11, Subject: message.RequestSubject(method, target), Header: hdr.New()}
	h.Header.Set(hdr.Host, "example.com")
	return h
}

func readHeadLines(t *testing.T, br *bufio.Reader) string {
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	for {
		l, err := br.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}
	return line
}

func TestServeH1ClientQueuesRequestsStrictlySequentially(t *testing.T) {
	clientPipe, serverPipe := net.Pipe()
	defer clientPipe.Close()

	ioConn := iobuf.New(pipeConn{clientPipe}, iobuf.DefaultConfig())
	conn := h1.New(ioConn, h1.ClientRole, h1.DefaultConfig())

	d := New(DefaultConfig(), nil)
	calls := make(chan *ClientCall, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.ServeH1Client(ctx, conn, calls) }()

	call1 := NewClientCall(requestHead("GET", "/one"), message.EmptyLength, nil)
	calls <- call1

	br := bufio.NewReader(serverPipe)
	line1 := readHeadLines(t, br)
	require.True(t, strings.HasPrefix(line1, "GET /one HTTP/1.1"), "got %q", line1)

	call2 := NewClientCall(requestHead("GET", "/two"), message.EmptyLength, nil)
	calls <- call2

	// The second request must not be written before the first response
	// arrives (spec.md §4.6 "at most one request in flight").
	require.NoError(t, serverPipe.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err := br.ReadByte()
	require.Error(t, err, "expected no bytes for the queued request before the first response completes")
	require.NoError(t, serverPipe.SetReadDeadline(time.Time{}))

	_, err = serverPipe.Write([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
	require.NoError(t, err)

	res1, err := call1.Result(ctx)
	require.NoError(t, err)
	require.NoError(t, res1.Err)
	require.Equal(t, 204, res1.Head.Subject.Code)

	line2 := readHeadLines(t, br)
	require.True(t, strings.HasPrefix(line2, "GET /two HTTP/1.1"), "got %q", line2)

	_, err = serverPipe.Write([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
	require.NoError(t, err)

	res2, err := call2.Result(ctx)
	require.NoError(t, err)
	require.NoError(t, res2.Err)
	require.Equal(t, 204, res2.Head.Subject.Code)

	close(calls)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeH1Client did not return after the calls channel closed")
	}
}

func TestServeH1ClientSendsBodyAfterContinueTimeoutWithoutInterim(t *testing.T) {
	clientPipe, serverPipe := net.Pipe()
	defer clientPipe.Close()

	ioConn := iobuf.New(pipeConn{clientPipe}, iobuf.DefaultConfig())
	conn := h1.New(ioConn, h1.ClientRole, h1.DefaultConfig())

	cfg := DefaultConfig()
	cfg.ContinueTimeout = 30 * time.Millisecond
	d := New(cfg, nil)
	calls := make(chan *ClientCall, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.ServeH1Client(ctx, conn, calls) }()

	head := requestHead("PUT", "/upload")
	head.Header.Set(hdr.Expect, hdr.Value100Cont)
	reqProducer, reqConsumer := body.New(message.ExactLength(2))
	call := NewClientCall(head, message.ExactLength(2), reqConsumer)
	calls <- call

	go func() {
		_ = reqProducer.SendData(ctx, []byte("hi"))
		reqProducer.Close()
	}()

	br := bufio.NewReader(serverPipe)
	line := readHeadLines(t, br)
	require.True(t, strings.HasPrefix(line, "PUT /upload HTTP/1.1"), "got %q", line)

	// The body must be withheld for a while: no bytes show up immediately.
	require.NoError(t, serverPipe.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	_, err := br.ReadByte()
	require.Error(t, err, "expected body bytes to be withheld until the continue timeout elapses")
	require.NoError(t, serverPipe.SetReadDeadline(time.Time{}))

	require.NoError(t, serverPipe.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make([]byte, 2)
	_, err = io.ReadFull(br, got)
	require.NoError(t, err)
	require.Equal(t, "hi", string(got))
	require.NoError(t, serverPipe.SetReadDeadline(time.Time{}))

	_, err = serverPipe.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)

	res, err := call.Result(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, 200, res.Head.Subject.Code)

	close(calls)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeH1Client did not return after the calls channel closed")
	}
}

func TestServeH1ClientNotifiesWatcherAndProceedsOn100Continue(t *testing.T) {
	clientPipe, serverPipe := net.Pipe()
	defer clientPipe.Close()

	ioConn := iobuf.New(pipeConn{clientPipe}, iobuf.DefaultConfig())
	conn := h1.New(ioConn, h1.ClientRole, h1.DefaultConfig())

	cfg := DefaultConfig()
	cfg.ContinueTimeout = 5 * time.Second // would make this test time out if the 100 Continue shortcut never fired
	d := New(cfg, nil)
	calls := make(chan *ClientCall, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.ServeH1Client(ctx, conn, calls) }()

	head := requestHead("PUT", "/upload")
	head.Header.Set(hdr.Expect, hdr.Value100Cont)
	reqProducer, reqConsumer := body.New(message.ExactLength(2))
	call := NewClientCall(head, message.ExactLength(2), reqConsumer)

	watcher := upgrade.NewWatcher()
	var mu sync.Mutex
	var seenCodes []int
	watcher.OnInformational(func(h *message.MessageHead) {
		mu.Lock()
		seenCodes = append(seenCodes, h.Subject.Code)
		mu.Unlock()
	})
	call.Watcher = watcher
	calls <- call

	go func() {
		_ = reqProducer.SendData(ctx, []byte("hi"))
		reqProducer.Close()
	}()

	br := bufio.NewReader(serverPipe)
	line := readHeadLines(t, br)
	require.True(t, strings.HasPrefix(line, "PUT /upload HTTP/1.1"), "got %q", line)

	_, err := serverPipe.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, serverPipe.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
	got := make([]byte, 2)
	_, err = io.ReadFull(br, got)
	require.NoError(t, err)
	require.Equal(t, "hi", string(got))
	require.NoError(t, serverPipe.SetReadDeadline(time.Time{}))

	_, err = serverPipe.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)

	res, err := call.Result(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, 200, res.Head.Subject.Code)

	mu.Lock()
	require.Equal(t, []int{100}, seenCodes)
	mu.Unlock()

	close(calls)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeH1Client did not return after the calls channel closed")
	}
}
