// Package dispatch implements the Dispatcher (spec.md §4.6): the single
// driver that advances connection IO, invokes a Service on each
// incoming request, and shepherds response bodies for both HTTP/1 (via
// h1.Conn) and HTTP/2 (via h2.Engine).
package dispatch

import (
	"context"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/message"
)

// Request is what the Dispatcher hands to a Service: a parsed head plus
// the live Body Channel consumer for its inbound body.
type Request struct {
	Head *message.MessageHead
	Body *body.Consumer
}

// ResponseWriter is how a Service produces its response; WriteHead must
// be called exactly once, after which the returned Producer streams the
// body (Close or SendTrailers terminates it).
type ResponseWriter interface {
	WriteHead(ctx context.Context, head *message.MessageHead, length message.BodyLength) (*body.Producer, error)
}

// Service is the Service trait (spec.md §6 "call(request) →
// future<response>; poll_ready() → Pending until the service can accept
// a new request"). The Dispatcher calls PollReady before every Serve.
type Service interface {
	PollReady(ctx context.Context) error
	Serve(ctx context.Context, req *Request, w ResponseWriter) error
}

// ServiceFunc adapts a plain function to Service for handlers with no
// readiness state of their own.
type ServiceFunc func(ctx context.Context, req *Request, w ResponseWriter) error

func (f ServiceFunc) PollReady(ctx context.Context) error { return nil }
func (f ServiceFunc) Serve(ctx context.Context, req *Request, w ResponseWriter) error {
	return f(ctx, req, w)
}
