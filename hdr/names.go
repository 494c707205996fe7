/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import "strings"

// Well-known header names, canonical form. Kept as named constants the
// way the teacher repo does (types_header.go) to avoid scattering
// string literals across the codec and dispatcher.
const (
	Connection       = "Connection"
	ContentLength    = "Content-Length"
	ContentType      = "Content-Type"
	Date             = "Date"
	Expect           = "Expect"
	Host             = "Host"
	KeepAlive        = "Keep-Alive"
	ProxyConnection  = "Proxy-Connection"
	Te               = "Te"
	Trailer          = "Trailer"
	TransferEncoding = "Transfer-Encoding"
	Upgrade          = "Upgrade"

	ValueClose      = "close"
	ValueKeepAlive  = "keep-alive"
	ValueChunked    = "chunked"
	ValueIdentity   = "identity"
	ValueUpgrade    = "upgrade"
	ValueTrailers   = "trailers"
	Value100Cont    = "100-continue"
	ValueGzip       = "gzip"
)

var headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

// hopByHop lists the headers that are scoped to a single hop and must
// be stripped before forwarding a message across protocol boundaries
// (spec.md §4.2 "Connection-option headers", §4.4 "Header policy").
var hopByHop = map[string]bool{
	Connection:       true,
	KeepAlive:        true,
	TransferEncoding: true,
	Upgrade:          true,
	ProxyConnection:  true,
}

// IsHopByHop reports whether the canonical header name is hop-by-hop
// and must never cross an H1/H2 boundary without explicit re-synthesis.
func IsHopByHop(canonical string) bool {
	return hopByHop[canonical]
}

// StripHopByHop deletes every hop-by-hop header from h, plus any header
// named by a Connection: header's value (RFC 7230 §6.1 "connection
// options").
func StripHopByHop(h *Header) {
	for _, v := range h.Values(Connection) {
		for _, tok := range strings.Split(v, ",") {
			tok = TrimString(tok)
			if tok != "" {
				h.Del(tok)
			}
		}
	}
	for name := range hopByHop {
		h.Del(name)
	}
}

// CanonicalHeaderKey returns the canonical format of a header name: the
// first letter and any letter following a hyphen upper-cased, the rest
// lower-cased. Non-token input is returned unchanged.
func CanonicalHeaderKey(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	upper := true
	for i, c := range b {
		if !validHeaderFieldByte(c) {
			return s
		}
		switch {
		case upper && 'a' <= c && c <= 'z':
			b[i] = c - ('a' - 'A')
		case !upper && 'A' <= c && c <= 'Z':
			b[i] = c + ('a' - 'A')
		}
		upper = c == '-'
	}
	return string(b)
}

// TrimString returns s without leading and trailing ASCII space/tab.
func TrimString(s string) string {
	for len(s) > 0 && isASCIISpace(s[0]) {
		s = s[1:]
	}
	for len(s) > 0 && isASCIISpace(s[len(s)-1]) {
		s = s[:len(s)-1]
	}
	return s
}

func isASCIISpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// isTokenTable mirrors RFC 7230's token character set, copied from the
// teacher's hdr/types_header.go (itself copied from net/http/lex.go).
var isTokenTable = [127]bool{
	'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
	'8': true, '9': true,
	'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
	'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
	'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
	'y': true, 'z': true,
	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
	'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
	'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
	'Y': true, 'Z': true,
	'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true, '*': true, '+': true,
	'-': true, '.': true, '^': true, '_': true, '`': true, '|': true, '~': true,
}

func validHeaderFieldByte(b byte) bool {
	return int(b) < len(isTokenTable) && isTokenTable[b]
}
