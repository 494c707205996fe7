// Package h1 implements the H1 Codec and H1 Conn state machine
// (spec.md §4.2, §4.3): parsing and serializing HTTP/1 message heads,
// selecting and driving body Decoders/Encoders, and the per-connection
// keep-alive/pipelining/upgrade state machine.
package h1

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/message"
)

// ParseRequestHead parses raw head bytes (as returned by
// iobuf.IO.ParseHead, including the terminating CRLF CRLF) as an HTTP/1
// request head (spec.md §4.2 "Head parsing").
func ParseRequestHead(raw []byte) (*message.MessageHead, error) {
	lines, err := splitHeadLines(raw)
	if err != nil {
		return nil, err
	}
	method, target, version, err := parseRequestLine(lines[0])
	if err != nil {
		return nil, err
	}
	h, err := parseHeaderLines(lines[1:])
	if err != nil {
		return nil, err
	}
	return &message.MessageHead{
		Version: version,
		Subject: message.RequestSubject(method, target),
		Header:  h,
	}, nil
}

// ParseStatusHead parses raw head bytes as an HTTP/1 response head.
func ParseStatusHead(raw []byte) (*message.MessageHead, error) {
	lines, err := splitHeadLines(raw)
	if err != nil {
		return nil, err
	}
	version, code, reason, err := parseStatusLine(lines[0])
	if err != nil {
		return nil, err
	}
	h, err := parseHeaderLines(lines[1:])
	if err != nil {
		return nil, err
	}
	return &message.MessageHead{
		Version: version,
		Subject: message.StatusSubject(code, reason),
		Header:  h,
	}, nil
}

func splitHeadLines(raw []byte) ([]string, error) {
	if !bytes.HasSuffix(raw, []byte("\r\n\r\n")) {
		return nil, protoerr.New(protoerr.Parse, "h1.splitHeadLines", fmt.Errorf("head not CRLF CRLF terminated"))
	}
	body := raw[:len(raw)-2] // keep one trailing CRLF so the split below yields a final "" we drop
	lines := strings.Split(string(body), "\r\n")
	if len(lines) < 1 || lines[0] == "" {
		return nil, protoerr.New(protoerr.Parse, "h1.splitHeadLines", fmt.Errorf("empty head"))
	}
	return lines[:len(lines)-1], nil
}

func parseRequestLine(line string) (method, target string, version message.Version, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", 0, protoerr.New(protoerr.Parse, "h1.parseRequestLine", fmt.Errorf("malformed request line %q", line))
	}
	method, target, proto := parts[0], parts[1], parts[2]
	if !validToken(method) {
		return "", "", 0, protoerr.New(protoerr.Parse, "h1.parseRequestLine", fmt.Errorf("invalid method %q", method))
	}
	version, err = parseHTTPVersion(proto)
	if err != nil {
		return "", "", 0, err
	}
	return method, target, version, nil
}

func parseStatusLine(line string) (version message.Version, code int, reason string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, 0, "", protoerr.New(protoerr.Parse, "h1.parseStatusLine", fmt.Errorf("malformed status line %q", line))
	}
	version, err = parseHTTPVersion(parts[0])
	if err != nil {
		return 0, 0, "", err
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return 0, 0, "", protoerr.New(protoerr.Parse, "h1.parseStatusLine", fmt.Errorf("invalid status code %q", parts[1]))
	}
	if len(parts) == 3 {
		reason = parts[2]
		if !hdr.ValidReasonPhrase(reason) {
			return 0, 0, "", protoerr.New(protoerr.Parse, "h1.parseStatusLine", fmt.Errorf("invalid reason phrase bytes"))
		}
	}
	return version, code, reason, nil
}

func parseHTTPVersion(proto string) (message.Version, error) {
	switch proto {
	case "HTTP/1.1":
		return message.HTTP11, nil
	case "HTTP/1.0":
		return message.HTTP10, nil
	default:
		return 0, protoerr.New(protoerr.Parse, "h1.parseHTTPVersion", fmt.Errorf("unsupported protocol version %q", proto))
	}
}

func parseHeaderLines(lines []string) (*hdr.Header, error) {
	h := hdr.New()
	for _, line := range lines {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Obsolete line folding is not accepted (spec.md §4.2).
			return nil, protoerr.New(protoerr.Parse, "h1.parseHeaderLines", fmt.Errorf("obsolete line folding is not supported"))
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, protoerr.New(protoerr.Parse, "h1.parseHeaderLines", fmt.Errorf("missing colon in header line %q", line))
		}
		name := line[:colon]
		value := hdr.TrimString(line[colon+1:])
		if !hdr.ValidFieldName(name) {
			return nil, protoerr.New(protoerr.Parse, "h1.parseHeaderLines", fmt.Errorf("invalid header field name %q", name))
		}
		if !hdr.ValidFieldValue(value) {
			return nil, protoerr.New(protoerr.Parse, "h1.parseHeaderLines", fmt.Errorf("invalid header field value for %q", name))
		}
		h.AddRaw(name, name, value)
	}
	return h, nil
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTChar(s[i]) {
			return false
		}
	}
	return true
}

func isTChar(b byte) bool {
	switch {
	case b >= '0' && b <= '9', b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z':
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// WriteRequestLine serializes a request-line Subject.
func WriteRequestLine(buf *bytes.Buffer, method, target string, version message.Version) {
	buf.WriteString(method)
	buf.WriteByte(' ')
	buf.WriteString(target)
	buf.WriteByte(' ')
	buf.WriteString(version.String())
	buf.WriteString("\r\n")
}

// WriteStatusLine serializes a status-line Subject, synthesizing a
// reason phrase from the standard table when none is supplied.
func WriteStatusLine(buf *bytes.Buffer, code int, reason string, version message.Version) {
	if reason == "" {
		reason = DefaultReasonPhrase(code)
	}
	buf.WriteString(version.String())
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(code))
	buf.WriteByte(' ')
	buf.WriteString(reason)
	buf.WriteString("\r\n")
}
