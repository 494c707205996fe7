/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr implements the ordered, case-preserving header multimap
// used throughout the protocol core (spec.md §3 "MessageHead").
//
// Unlike net/http's map[string][]string, Header keeps a flat slice of
// entries in insertion order so that re-emission does not need to sort
// keys to be deterministic, and so that a message can be round-tripped
// byte-for-byte when case preservation is requested (see
// DESIGN NOTES §9 "Global allocator-heavy header maps").
package hdr

import (
	"io"
)

// Header is an ordered multimap of header name to value. The zero value
// is ready to use. Names are canonicalized on insertion (CanonicalHeaderKey)
// unless the Header was built with PreserveCase, in which case the
// original byte casing of each occurrence is also retained for emission.
type Header struct {
	entries      []entry
	index        map[string][]int
	preserveCase bool
}

type entry struct {
	canonical string
	raw       string // original wire casing; equals canonical unless preserveCase
	value     string
	deleted   bool
}

// New returns an empty Header that canonicalizes names on Add/Set and
// does not retain original wire casing.
func New() *Header {
	return &Header{}
}

// NewPreserveCase returns an empty Header that retains the original
// wire casing of each header name for faithful re-emission
// (http1_preserve_header_case, spec.md §6).
func NewPreserveCase() *Header {
	return &Header{preserveCase: true}
}

func (h *Header) ensureIndex() {
	if h.index == nil {
		h.index = make(map[string][]int, 8)
	}
}

// AddRaw appends a name/value pair, preserving any existing values for
// that name. rawName is the exact bytes seen on the wire; pass name
// itself when there is no wire representation to preserve.
func (h *Header) AddRaw(name, rawName, value string) {
	canon := CanonicalHeaderKey(name)
	h.ensureIndex()
	idx := len(h.entries)
	raw := canon
	if h.preserveCase {
		raw = rawName
	}
	h.entries = append(h.entries, entry{canonical: canon, raw: raw, value: value})
	h.index[canon] = append(h.index[canon], idx)
}

// Add appends the key, value pair to the header.
func (h *Header) Add(key, value string) {
	h.AddRaw(key, key, value)
}

// Set sets the header entries associated with key to the single
// element value, replacing any existing values associated with key.
func (h *Header) Set(key, value string) {
	h.Del(key)
	h.Add(key, value)
}

// Get gets the first value associated with the given key. It is case
// insensitive; CanonicalHeaderKey is used to canonicalize key.
func (h *Header) Get(key string) string {
	vs := h.Values(key)
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values associated with key in insertion order.
func (h *Header) Values(key string) []string {
	if h == nil || h.index == nil {
		return nil
	}
	canon := CanonicalHeaderKey(key)
	idxs := h.index[canon]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]string, 0, len(idxs))
	for _, i := range idxs {
		if !h.entries[i].deleted {
			out = append(out, h.entries[i].value)
		}
	}
	return out
}

// Has reports whether key has at least one live value.
func (h *Header) Has(key string) bool {
	return len(h.Values(key)) > 0
}

// Del deletes all values associated with key.
func (h *Header) Del(key string) {
	if h == nil || h.index == nil {
		return
	}
	canon := CanonicalHeaderKey(key)
	for _, i := range h.index[canon] {
		h.entries[i].deleted = true
	}
	delete(h.index, canon)
}

// Len returns the number of live entries (not distinct names).
func (h *Header) Len() int {
	n := 0
	for _, e := range h.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Range calls fn for every live entry in insertion order. Iteration
// stops early if fn returns false.
func (h *Header) Range(fn func(canonical, raw, value string) bool) {
	if h == nil {
		return
	}
	for _, e := range h.entries {
		if e.deleted {
			continue
		}
		if !fn(e.canonical, e.raw, e.value) {
			return
		}
	}
}

// Names returns the distinct canonical header names that currently
// have at least one live value, in order of first occurrence.
func (h *Header) Names() []string {
	seen := make(map[string]bool, len(h.index))
	var out []string
	h.Range(func(canonical, _, _ string) bool {
		if !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
		return true
	})
	return out
}

// Clone returns a deep copy of h.
func (h *Header) Clone() *Header {
	if h == nil {
		return nil
	}
	h2 := &Header{preserveCase: h.preserveCase}
	h.Range(func(_, raw, value string) bool {
		h2.AddRaw(raw, raw, value)
		return true
	})
	return h2
}

// CopyFromHeader appends every live entry of src onto h.
func (h *Header) CopyFromHeader(src *Header) {
	src.Range(func(_, raw, value string) bool {
		h.AddRaw(raw, raw, value)
		return true
	})
}

// Write writes the header in wire format (CRLF-terminated lines),
// using each entry's preserved or canonical casing.
func (h *Header) Write(w io.Writer) error {
	return h.WriteExcluding(w, nil)
}

// WriteExcluding writes the header in wire format, skipping any
// canonical name present in exclude.
func (h *Header) WriteExcluding(w io.Writer, exclude map[string]bool) error {
	ws, ok := w.(stringWriterIface)
	if !ok {
		ws = stringWriterShim{w}
	}
	var err error
	h.Range(func(canonical, raw, value string) bool {
		if exclude != nil && exclude[canonical] {
			return true
		}
		value = headerNewlineToSpace.Replace(value)
		value = TrimString(value)
		for _, s := range [...]string{raw, ": ", value, "\r\n"} {
			if _, err = ws.WriteString(s); err != nil {
				return false
			}
		}
		return true
	})
	return err
}

type stringWriterIface interface {
	WriteString(string) (int, error)
}

type stringWriterShim struct{ w io.Writer }

func (s stringWriterShim) WriteString(str string) (int, error) {
	return s.w.Write([]byte(str))
}
