package upgrade

import (
	"bytes"
	"context"

	"github.com/badu/protocore/h1"
	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/internal/protoerr"
	"github.com/badu/protocore/message"
	"github.com/badu/protocore/transport"
)

// Accept101 writes a 101 Switching Protocols response carrying header
// (which must include the Upgrade and Connection: Upgrade fields the
// caller negotiated) and hands the raw transport back to the caller,
// along with any bytes the client already sent past the head — e.g. the
// first WebSocket frame pipelined behind the handshake (spec.md §4.3
// "Upgrade").
func Accept101(ctx context.Context, conn *h1.Conn, header *hdr.Header) (transport.Conn, []byte, error) {
	var buf bytes.Buffer
	h1.WriteStatusLine(&buf, 101, "", message.HTTP11)
	if err := header.Write(&buf); err != nil {
		return nil, nil, err
	}
	buf.WriteString("\r\n")
	conn.IO.WriteBuf(buf.Bytes())

	for {
		ready, err := conn.IO.Flush()
		if err != nil {
			return nil, nil, protoerr.New(protoerr.IO, "upgrade.Accept101", err)
		}
		if ready {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
	}

	return conn.Upgrade()
}
