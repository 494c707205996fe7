// Package transport declares the external interfaces the core consumes
// but never implements (spec.md §6 "External Interfaces"): the
// full-duplex byte transport, an optional vectored-write extension of
// it, and an Executor for the rare cases the core itself needs to spawn background work. Acquiring
// a Conn (TCP/TLS/Unix dialing or accepting, ALPN negotiation) is
// entirely the caller's job — out of scope per spec.md §1.
package transport

import (
	"context"
	"io"
	"net"
)

// Conn is the full-duplex byte transport the core drives. Any
// net.Conn satisfies it; callers adapting another runtime's I/O types
// need only provide these four methods (spec.md §6 "Transport trait").
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	// CloseWrite half-closes the write side. Transports that cannot
	// half-close (e.g. some TLS implementations) may return
	// ErrCloseWriteUnsupported. The core itself never calls it; h1 closes
	// a connection with a full Close.
	CloseWrite() error
}

// ErrCloseWriteUnsupported is returned by Conn.CloseWrite when the
// underlying transport has no half-close primitive.
var ErrCloseWriteUnsupported = net.ErrClosed

// BufferWriter is an optional optimization a Conn may implement to
// accept vectored writes (spec.md §6 "vectored write as an optional
// optimization"). *net.Buffers already implements io.WriterTo against
// an io.Writer, so most callers never need this — it exists for
// transports that can issue a single writev(2) more cheaply than N
// sequential Write calls.
type BufferWriter interface {
	WriteBuffers(buffers *net.Buffers) (int64, error)
}

// Response is an opaque alias for any value a caller wants to pass
// around as a response; the core never interprets it, and
// dispatch.Service does not use it.
type Response any

// Executor spawns a detached unit of work. The core requires one only
// when it itself needs to spawn (an H2 connection driver paired with a
// send-request handle); a dispatcher driven directly by its caller
// never touches this (spec.md §6 "Executor trait").
type Executor interface {
	Execute(fn func(ctx context.Context))
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(fn func(ctx context.Context))

func (f ExecutorFunc) Execute(fn func(ctx context.Context)) { f(fn) }

// GoExecutor is the trivial Executor that spawns a goroutine per Execute
// call with context.Background(); suitable for tests and simple hosts.
var GoExecutor Executor = ExecutorFunc(func(fn func(ctx context.Context)) {
	go fn(context.Background())
})
