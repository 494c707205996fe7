package h1

import (
	"strings"

	"github.com/badu/protocore/hdr"
	"github.com/badu/protocore/message"
)

// DecideKeepAlive implements spec.md §4.3's keep-alive formula, recorded
// the moment a head finishes parsing:
//
//	keep_alive ← (version==1.1 AND no Connection:close) OR
//	             (version==1.0 AND Connection:keep-alive)
func DecideKeepAlive(version message.Version, h *hdr.Header) bool {
	switch version {
	case message.HTTP11:
		return !connectionHasToken(h, hdr.ValueClose)
	case message.HTTP10:
		return connectionHasToken(h, hdr.ValueKeepAlive)
	default:
		return false
	}
}

func connectionHasToken(h *hdr.Header, token string) bool {
	for _, v := range h.Values(hdr.Connection) {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(hdr.TrimString(tok), token) {
				return true
			}
		}
	}
	return false
}
