package h1

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/message"
)

// DecoderLengthForRequest selects the BodyLength for an inbound request
// on a server connection (spec.md §4.2 "Body decoder selection").
func DecoderLengthForRequest(method string, h *hdr.Header) (message.BodyLength, error) {
	return decoderLength(true, 0, method, h)
}

// DecoderLengthForResponse selects the BodyLength for an inbound
// response on a client connection. requestMethod is the method of the
// request that produced it (HEAD responses never carry a body).
func DecoderLengthForResponse(status int, requestMethod string, h *hdr.Header) (message.BodyLength, error) {
	return decoderLength(false, status, requestMethod, h)
}

func decoderLength(isRequest bool, status int, method string, h *hdr.Header) (message.BodyLength, error) {
	// 1. Subject forbids a body outright.
	if isRequest {
		if method == "CONNECT" {
			return message.EmptyLength, nil
		}
	} else {
		if message.NoResponseBodyExpected(method) || !message.BodyAllowedForStatus(status) {
			return message.EmptyLength, nil
		}
	}

	// 2. Transfer-Encoding wins over Content-Length when present.
	te := h.Values(hdr.TransferEncoding)
	if len(te) > 0 {
		if !finalCodingIsChunked(te) {
			if isRequest {
				return message.BodyLength{}, protoerr.New(protoerr.Parse, "h1.decoderLength",
					fmt.Errorf("transfer-encoding present without a terminal chunked coding"))
			}
			// Responses: tolerate, the connection will be close-delimited below.
		} else {
			return message.ChunkedLength, nil
		}
	}

	// 3. Content-Length, possibly repeated; all must agree.
	if cls := h.Values(hdr.ContentLength); len(cls) > 0 {
		n, err := parseAgreeingContentLength(cls)
		if err != nil {
			return message.BodyLength{}, protoerr.New(protoerr.Parse, "h1.decoderLength", err)
		}
		return message.ExactLength(n), nil
	}

	// 4. Fallback.
	if !isRequest {
		return message.CloseDelimLength, nil
	}
	return message.ExactLength(0), nil
}

func finalCodingIsChunked(te []string) bool {
	if len(te) == 0 {
		return false
	}
	last := hdr.TrimString(te[len(te)-1])
	return strings.EqualFold(last, hdr.ValueChunked)
}

func parseAgreeingContentLength(values []string) (uint64, error) {
	first := hdr.TrimString(values[0])
	for _, v := range values[1:] {
		if hdr.TrimString(v) != first {
			return 0, fmt.Errorf("conflicting Content-Length values %v", values)
		}
	}
	n, err := strconv.ParseUint(first, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Content-Length %q: %w", first, err)
	}
	if n > message.MaxExactLength {
		return 0, fmt.Errorf("Content-Length %d exceeds maximum", n)
	}
	return n, nil
}

// EncoderLengthFor selects the outbound BodyLength encoding
// (spec.md §4.2 "Body encoder selection").
//
//   - exact >= 0 means the caller declared an exact length.
//   - zeroFrameEOF is true when the body producer reported end-of-stream
//     synchronously with no data frames (Length(0), no bytes emitted).
func EncoderLengthFor(exact int64, zeroFrameEOF bool, version message.Version) (message.BodyLength, error) {
	switch {
	case exact >= 0:
		return message.ExactLength(uint64(exact)), nil
	case zeroFrameEOF:
		return message.ExactLength(0), nil
	case version == message.HTTP10:
		return message.BodyLength{}, protoerr.New(protoerr.Parse, "h1.EncoderLengthFor",
			fmt.Errorf("requests with unknown body length are rejected over HTTP/1.0"))
	default:
		return message.ChunkedLength, nil
	}
}
