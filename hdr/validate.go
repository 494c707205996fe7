/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import "golang.org/x/net/http/httpguts"

// ValidFieldName reports whether s is a valid HTTP header field name
// (RFC 7230 token). Delegates to golang.org/x/net/http/httpguts, the
// maintained successor to the teacher's vendored lex/httplex package.
func ValidFieldName(s string) bool {
	return httpguts.ValidHeaderFieldName(s)
}

// ValidFieldValue reports whether v is a valid HTTP header field value:
// no CR or LF, only HTAB | SP | VCHAR | obs-text (spec.md §3 invariant
// "values are opaque byte strings with no CR/LF").
func ValidFieldValue(v string) bool {
	return httpguts.ValidHeaderFieldValue(v)
}

// ValidReasonPhrase reports whether s contains only bytes permitted in
// an HTTP/1 reason phrase: HTAB | SP | %x21-7E | %x80-FF (spec.md §4.2).
func ValidReasonPhrase(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b == '\t' || b == ' ' || (b >= 0x21 && b <= 0x7E) || b >= 0x80 {
			continue
		}
		return false
	}
	return true
}
