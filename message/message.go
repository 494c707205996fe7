// Package message defines the wire-independent data model shared by the
// H1 codec and the H2 engine: a MessageHead (request line or status line
// plus headers) and a BodyLength tag (spec.md §3 "Data Model").
package message

import "github.com/badu/protocore/hdr"

// Version identifies the protocol version a MessageHead was produced
// under or is destined for.
type Version int

const (
	HTTP10 Version = iota
	HTTP11
	HTTP2
)

func (v Version) String() string {
	switch v {
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	case HTTP2:
		return "HTTP/2"
	default:
		return "HTTP/?"
	}
}

// Subject is either a request line or a status line. Exactly one of
// Method/Target or Code should be populated, distinguished by IsRequest.
type Subject struct {
	IsRequest bool

	// Request line.
	Method string
	Target string

	// Status line.
	Code   int
	Reason string
}

// RequestSubject builds a request-line Subject.
func RequestSubject(method, target string) Subject {
	return Subject{IsRequest: true, Method: method, Target: target}
}

// StatusSubject builds a status-line Subject.
func StatusSubject(code int, reason string) Subject {
	return Subject{IsRequest: false, Code: code, Reason: reason}
}

// MessageHead is a request or response head: a Subject plus an ordered,
// case-preserving header multimap (spec.md §3).
type MessageHead struct {
	Version Version
	Subject Subject
	Header  *hdr.Header
}

// BodyLengthKind tags the framing discipline chosen for a body
// (spec.md §3 "BodyLength (tagged)").
type BodyLengthKind int

const (
	// Exact means Content-Length framing; N holds the declared length.
	Exact BodyLengthKind = iota
	// Chunked means Transfer-Encoding: chunked framing.
	Chunked
	// CloseDelim means the body ends at transport EOF (responses only).
	CloseDelim
	// Empty means no body is permitted on this message.
	Empty
)

// MaxExactLength is the largest Content-Length this core will accept;
// larger values are rejected at parse time (spec.md §3 invariant).
const MaxExactLength = 1<<64 - 2

// BodyLength is the tagged union described in spec.md §3.
type BodyLength struct {
	Kind BodyLengthKind
	N    uint64 // valid only when Kind == Exact
}

func ExactLength(n uint64) BodyLength { return BodyLength{Kind: Exact, N: n} }

var (
	ChunkedLength    = BodyLength{Kind: Chunked}
	CloseDelimLength = BodyLength{Kind: CloseDelim}
	EmptyLength      = BodyLength{Kind: Empty}
)

func (b BodyLength) String() string {
	switch b.Kind {
	case Exact:
		return "Exact"
	case Chunked:
		return "Chunked"
	case CloseDelim:
		return "CloseDelim"
	default:
		return "Empty"
	}
}

// BodyAllowedForStatus reports whether a response with the given status
// code may carry a body (spec.md §4.2 "Body decoder selection").
func BodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == 204, status == 304:
		return false
	default:
		return true
	}
}

// NoResponseBodyExpected reports whether a response to requestMethod
// never carries a body on the wire, regardless of declared length
// (HEAD responses).
func NoResponseBodyExpected(requestMethod string) bool {
	return requestMethod == "HEAD"
}
