package h1

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/message"
)

// maxChunkReadSize bounds how much of a Length/CloseDelim body is read
// into memory per Producer.SendData call.
const maxChunkReadSize = 32 << 10

// DecodeBody drives body bytes from br into producer according to
// length, until the body is exhausted, an error occurs, or ctx is
// canceled (spec.md §3 "Decoder (state machine per inbound body)"). For
// message.Empty it just closes the producer. When delivering a frame to
// the producer fails, that error is returned and the producer is left
// unterminated.
func DecodeBody(ctx context.Context, br *bufio.Reader, length message.BodyLength, producer *body.Producer) error {
	switch length.Kind {
	case message.Empty:
		producer.Close()
		return nil
	case message.Exact:
		return decodeExact(ctx, br, length.N, producer)
	case message.Chunked:
		return decodeChunked(ctx, br, producer)
	case message.CloseDelim:
		return decodeCloseDelim(ctx, br, producer)
	default:
		return fmt.Errorf("h1: unknown body length kind %v", length.Kind)
	}
}

func decodeExact(ctx context.Context, br *bufio.Reader, remaining uint64, producer *body.Producer) error {
	buf := make([]byte, maxChunkReadSize)
	for remaining > 0 {
		want := uint64(len(buf))
		if remaining < want {
			want = remaining
		}
		n, err := br.Read(buf[:want])
		if n > 0 {
			remaining -= uint64(n)
			if serr := producer.SendData(ctx, buf[:n]); serr != nil {
				return serr
			}
		}
		if err != nil {
			if err == io.EOF && remaining > 0 {
				err = io.ErrUnexpectedEOF
			}
			if err != io.EOF {
				wrapped := protoerr.New(protoerr.IO, "h1.decodeExact", err)
				producer.SendError(ctx, wrapped)
				return wrapped
			}
			break
		}
	}
	producer.Close()
	return nil
}

func decodeCloseDelim(ctx context.Context, br *bufio.Reader, producer *body.Producer) error {
	buf := make([]byte, maxChunkReadSize)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			if serr := producer.SendData(ctx, buf[:n]); serr != nil {
				return serr
			}
		}
		if err != nil {
			if err == io.EOF {
				producer.Close()
				return nil
			}
			wrapped := protoerr.New(protoerr.IO, "h1.decodeCloseDelim", err)
			producer.SendError(ctx, wrapped)
			return wrapped
		}
	}
}

var errChunkLineTooLong = errors.New("h1: chunk header line too long")

func decodeChunked(ctx context.Context, br *bufio.Reader, producer *body.Producer) error {
	for {
		size, err := readChunkSize(br)
		if err != nil {
			wrapped := protoerr.New(protoerr.Parse, "h1.decodeChunked", err)
			producer.SendError(ctx, wrapped)
			return wrapped
		}
		if size == 0 {
			trailer, err := readTrailer(br)
			if err != nil {
				wrapped := protoerr.New(protoerr.Parse, "h1.decodeChunked", err)
				producer.SendError(ctx, wrapped)
				return wrapped
			}
			if trailer.Len() > 0 {
				return producer.SendTrailers(ctx, trailer)
			}
			producer.Close()
			return nil
		}
		remaining := size
		buf := make([]byte, maxChunkReadSize)
		for remaining > 0 {
			want := uint64(len(buf))
			if remaining < want {
				want = remaining
			}
			n, rerr := br.Read(buf[:want])
			if n > 0 {
				remaining -= uint64(n)
				if serr := producer.SendData(ctx, buf[:n]); serr != nil {
					return serr
				}
			}
			if rerr != nil {
				wrapped := protoerr.New(protoerr.IO, "h1.decodeChunked", rerr)
				producer.SendError(ctx, wrapped)
				return wrapped
			}
		}
		if err := discardCRLF(br); err != nil {
			wrapped := protoerr.New(protoerr.Parse, "h1.decodeChunked", err)
			producer.SendError(ctx, wrapped)
			return wrapped
		}
	}
}

func readChunkSize(br *bufio.Reader) (uint64, error) {
	line, err := readLine(br)
	if err != nil {
		return 0, err
	}
	if semi := indexByte(line, ';'); semi >= 0 {
		line = line[:semi] // chunk extensions are stripped, not interpreted (spec.md §4.2)
	}
	line = trimTrailingSpace(line)
	if len(line) == 0 {
		return 0, fmt.Errorf("empty chunk size line")
	}
	n, err := strconv.ParseUint(string(line), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk size: %w", err)
	}
	return n, nil
}

func readTrailer(br *bufio.Reader) (*hdr.Header, error) {
	h := hdr.New()
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, errTrailerEOF(err)
		}
		if len(line) == 0 {
			return h, nil
		}
		colon := indexByte(line, ':')
		if colon < 0 {
			return nil, fmt.Errorf("malformed trailer line")
		}
		name := string(line[:colon])
		value := hdr.TrimString(string(line[colon+1:]))
		h.AddRaw(name, name, value)
	}
}

func errTrailerEOF(err error) error {
	if err == io.EOF {
		return errors.New("unexpected EOF reading trailer")
	}
	return err
}

func discardCRLF(br *bufio.Reader) error {
	b, err := br.ReadByte()
	if err != nil {
		return err
	}
	if b != '\r' {
		return fmt.Errorf("expected CR after chunk data, got %q", b)
	}
	b, err = br.ReadByte()
	if err != nil {
		return err
	}
	if b != '\n' {
		return fmt.Errorf("expected LF after chunk data, got %q", b)
	}
	return nil
}

func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			return nil, errChunkLineTooLong
		}
		if err == io.EOF && len(line) == 0 {
			return nil, io.ErrUnexpectedEOF
		}
	}
	return trimCRLF(line), nil
}

func trimCRLF(b []byte) []byte {
	n := len(b)
	for n > 0 && (b[n-1] == '\n' || b[n-1] == '\r') {
		n--
	}
	return b[:n]
}

func trimTrailingSpace(b []byte) []byte {
	n := len(b)
	for n > 0 && (b[n-1] == ' ' || b[n-1] == '\t') {
		n--
	}
	return b[:n]
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
