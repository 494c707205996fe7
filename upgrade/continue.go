package upgrade

import (
	"context"
	"strings"

	"github.com/badu/protocore/body"
	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/iobuf"
	"github.com/badu/protocore/message"
)

const continueResponse = "HTTP/1.1 100 Continue\r\n\r\n"

// WantsContinue reports whether head declares Expect: 100-continue, the
// only Expect value this core recognizes (spec.md §4.7).
func WantsContinue(head *message.MessageHead) bool {
	for _, v := range head.Header.Values(hdr.Expect) {
		if strings.EqualFold(hdr.TrimString(v), hdr.Value100Cont) {
			return true
		}
	}
	return false
}

// Send100Continue writes the interim 100 Continue status line directly
// to io and flushes it, bypassing h1.Conn's head state machine since an
// interim response does not consume the WriteHead/Encoder sequence the
// final response will still need.
func Send100Continue(ctx context.Context, io *iobuf.IO) error {
	io.WriteBuf([]byte(continueResponse))
	for {
		ready, err := io.Flush()
		if err != nil {
			return protoerr.New(protoerr.IO, "upgrade.Send100Continue", err)
		}
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// GateOnDemand delays starting decode until the request body's first
// real consumer demand (body.Producer.WaitWant), sends 100 Continue
// exactly then, and only afterward runs decode. This reproduces the
// teacher's expectContinueReader.Read, which sends Continue lazily on
// the handler's first body read rather than eagerly at head-parse time,
// so a handler that never reads the body never provokes the client into
// sending one.
func GateOnDemand(ctx context.Context, io *iobuf.IO, producer *body.Producer, decode func(producer *body.Producer)) {
	go func() {
		if err := producer.WaitWant(ctx); err != nil {
			producer.SendError(ctx, err)
			return
		}
		if err := Send100Continue(ctx, io); err != nil {
			producer.SendError(ctx, err)
			return
		}
		decode(producer)
	}()
}
