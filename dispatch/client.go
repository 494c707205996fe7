package dispatch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/h1"
	"github.com/badu/protocore/message"
	"github.com/badu/protocore/primitives"
	"github.com/badu/protocore/upgrade"
)

// ClientCall is one request queued on a ServeH1Client loop. A caller
// builds one with NewClientCall, sends it on the channel given to
// ServeH1Client, and then blocks on Result for the eventual response.
type ClientCall struct {
	Head   *message.MessageHead
	Length message.BodyLength
	// Body carries the outbound request body; nil for a request with no
	// body (Length should then be message.EmptyLength).
	Body *body.Consumer
	// Watcher receives every 1xx head observed for this exchange,
	// including the 100 Continue that releases a gated body (spec.md
	// §4.7 "on_informational(req, callback)"). May be left nil.
	Watcher *upgrade.Watcher

	result chan *ClientResult
}

// NewClientCall builds a ClientCall ready to queue on ServeH1Client.
func NewClientCall(head *message.MessageHead, length message.BodyLength, reqBody *body.Consumer) *ClientCall {
	return &ClientCall{Head: head, Length: length, Body: reqBody, result: make(chan *ClientResult, 1)}
}

// Result blocks until the exchange completes, successfully or not.
func (c *ClientCall) Result(ctx context.Context) (*ClientResult, error) {
	select {
	case r := <-c.result:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *ClientCall) succeed(head *message.MessageHead, respBody *body.Consumer) {
	c.result <- &ClientResult{Head: head, Body: respBody}
}

func (c *ClientCall) fail(err error) {
	c.result <- &ClientResult{Err: err}
}

// ClientResult is the outcome of one ClientCall: either a response head
// plus its (possibly already-terminated) body, or Err.
type ClientResult struct {
	Head *message.MessageHead
	Body *body.Consumer
	Err  error
}

// ServeH1Client drives one HTTP/1 client connection: at most one
// request in flight, queued calls are sent as soon as the previous
// response has fully drained off the wire (spec.md §4.6 "HTTP/1
// client: at most one request in flight; queued requests are sent as
// the previous response completes"). It mirrors ServeH1's strictly
// sequential loop with producer and consumer roles reversed.
func (d *Dispatcher) ServeH1Client(ctx context.Context, conn *h1.Conn, calls <-chan *ClientCall) error {
	done, draining := d.drain.Watcher()
	defer done()

	log := d.log.WithField("proto", "h1-client")

	for {
		select {
		case <-draining:
			log.Debug("draining: no further requests will be sent")
			return conn.Close()
		case <-ctx.Done():
			return ctx.Err()
		case call, ok := <-calls:
			if !ok {
				return conn.Close()
			}

			respCh, err := d.sendClientRequest(ctx, conn, call, log)
			if err != nil {
				call.fail(err)
				conn.Abort()
				return err
			}
			if err := d.recvClientResponse(ctx, conn, call, respCh); err != nil {
				conn.Abort()
				return err
			}
			if !conn.KeepAliveWanted() {
				return conn.Close()
			}
		}
	}
}

// sendClientRequest writes call's head and, once any 100-continue gate
// has cleared, its body. It launches the background reader that will
// observe every informational head and the eventual final response head
// before returning, so a slow body producer never stalls the discovery
// of an early response.
func (d *Dispatcher) sendClientRequest(ctx context.Context, conn *h1.Conn, call *ClientCall, log *logrus.Entry) (<-chan headResult, error) {
	wantsContinue := call.Body != nil && upgrade.WantsContinue(call.Head)

	var continueSeen *primitives.OneShot
	if wantsContinue {
		if call.Watcher == nil {
			call.Watcher = upgrade.NewWatcher()
		}
		continueSeen = primitives.NewOneShot()
		call.Watcher.OnInformational(func(head *message.MessageHead) {
			if head.Subject.Code == 100 {
				continueSeen.Fire(nil)
			}
		})
	}

	enc, err := conn.WriteHead(ctx, call.Head, call.Length)
	if err != nil {
		return nil, err
	}
	if err := flushFully(ctx, conn.IO); err != nil {
		return nil, err
	}

	respCh := make(chan headResult, 1)
	go func() {
		head, length, err := readFinalResponse(ctx, conn, call.Head.Subject.Method, call.Watcher)
		respCh <- headResult{head: head, length: length, err: err}
	}()

	if call.Body == nil {
		if err := enc.Finish(conn.IO, nil); err != nil {
			return respCh, err
		}
		if err := flushFully(ctx, conn.IO); err != nil {
			return respCh, err
		}
		conn.WriteBodyDone()
		return respCh, nil
	}

	if wantsContinue {
		log.Debug("gating request body on 100-continue")
		if err := d.waitForContinue(ctx, continueSeen); err != nil {
			return respCh, err
		}
	}

	pump := newBodyPump(ctx, conn.IO, enc, call.Body, log)
	if err := pump.wait(ctx); err != nil {
		return respCh, err
	}
	conn.WriteBodyDone()
	return respCh, nil
}

// waitForContinue delays returning until either continueSeen fires or
// d.cfg.ContinueTimeout elapses. A zero ContinueTimeout (the default)
// sends the body immediately without waiting at all, matching spec.md
// §4.2's "100_continue_timeout ... default unset (send immediately if
// no callback provided)"; a caller that wants to actually wait for the
// interim response sets a positive timeout. Per P7, body bytes are sent
// exactly once either way: this only gates when the pump starts, never
// whether it runs twice.
func (d *Dispatcher) waitForContinue(ctx context.Context, continueSeen *primitives.OneShot) error {
	timeout := d.cfg.ContinueTimeout
	if timeout <= 0 {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-continueSeen.Done():
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// headResult is the outcome of reading past any informational heads to
// the final response head for one exchange.
type headResult struct {
	head   *message.MessageHead
	length message.BodyLength
	err    error
}

// readFinalResponse reads response heads in a loop, notifying watcher
// and skipping straight past every 1xx (which never carries a body and
// is "treated as complete immediately upon head receipt", spec.md
// §4.6), until it reaches the final (non-1xx) response head.
func readFinalResponse(ctx context.Context, conn *h1.Conn, requestMethod string, watcher *upgrade.Watcher) (*message.MessageHead, message.BodyLength, error) {
	for {
		head, length, err := conn.ReadHead(ctx, requestMethod)
		if err != nil {
			return nil, message.BodyLength{}, err
		}
		if head.Subject.Code >= 100 && head.Subject.Code <= 199 {
			conn.BodyDone() // informational responses are always message.EmptyLength
			if watcher != nil {
				watcher.Notify(head)
			}
			continue
		}
		return head, length, nil
	}
}

// recvClientResponse waits for the background reader to deliver the
// final response head, wires up its body, and delivers both to call.
// It blocks the connection in ReadBody until the response body has
// fully drained off the wire before returning, enforcing "at most one
// request in flight" even though the caller may still be consuming the
// delivered body.Consumer at its own pace.
func (d *Dispatcher) recvClientResponse(ctx context.Context, conn *h1.Conn, call *ClientCall, respCh <-chan headResult) error {
	var res headResult
	select {
	case res = <-respCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.err != nil {
		call.fail(res.err)
		return res.err
	}

	producer, consumer := h1.NewBody(res.length)
	noBody := res.length.Kind == message.Empty || message.NoResponseBodyExpected(call.Head.Subject.Method)

	decodeErrCh := make(chan error, 1)
	go func() { decodeErrCh <- h1.DecodeBody(ctx, conn.IO.Reader(), res.length, producer) }()

	call.succeed(res.head, consumer)

	if noBody {
		conn.BodyDone()
		return nil
	}

	select {
	case err := <-decodeErrCh:
		conn.BodyDone()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
