package h2

import (
	"sync"
	"time"
)

// maxTargetWindow caps the BDP Sampler's window growth (spec.md §4.4
// "target ← min(2 × bytes, 16 MiB)").
const maxTargetWindow = 16 << 20

// bdpSampler measures round-trip time with PING frames and grows the
// flow-control window when the connection looks bandwidth-limited
// (spec.md §4.4 "Flow control and BDP tuning"), grounded on the
// ping-timer/window-accounting split kept in dgrr-http2's serverConn.
//
// The first 10 RTT samples are averaged with a simple running mean;
// afterward RTT is exponentially smoothed with factor 0.9, matching the
// spec's two-phase formula exactly rather than approximating it with a
// single EWMA from sample 1.
type bdpSampler struct {
	mu sync.Mutex

	bytesSincePing uint64
	pingOutstanding bool
	pingSentAt      time.Time
	pingData        [8]byte

	sampleCount int
	avgRTT      time.Duration
	maxBW       float64 // bytes/sec

	targetWindow uint32
}

// newBDPSampler seeds the sampler with the connection's current default
// window, which is also its floor (BDP tuning only ever grows it).
func newBDPSampler(initialWindow uint32) *bdpSampler {
	return &bdpSampler{targetWindow: initialWindow}
}

// onData reports whether sampling should start a PING now, because
// DATA arrived and no PING is already outstanding, and returns the
// opaque payload to send.
func (b *bdpSampler) onData(n int, now time.Time) (send bool, payload [8]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bytesSincePing += uint64(n)
	if b.pingOutstanding {
		return false, [8]byte{}
	}
	b.pingOutstanding = true
	b.pingSentAt = now
	// The payload only needs to round-trip back to us; its value is
	// opaque to the peer.
	b.pingData = [8]byte{byte(now.UnixNano())}
	return true, b.pingData
}

// onPingAck folds one RTT sample into the running estimate and, if the
// bandwidth-delay product justifies it, returns a new target window.
// grew is false when data does not match the outstanding ping (a PING
// ack for someone else's payload, or none outstanding).
func (b *bdpSampler) onPingAck(data [8]byte, now time.Time) (newTarget uint32, grew bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.pingOutstanding || data != b.pingData {
		return 0, false
	}
	rtt := now.Sub(b.pingSentAt)
	b.pingOutstanding = false

	b.sampleCount++
	if b.sampleCount <= 10 {
		b.avgRTT = (b.avgRTT*time.Duration(b.sampleCount-1) + rtt) / time.Duration(b.sampleCount)
	} else {
		b.avgRTT = time.Duration(0.9*float64(b.avgRTT) + 0.1*float64(rtt))
	}

	bytes := b.bytesSincePing
	b.bytesSincePing = 0
	if b.avgRTT <= 0 {
		return 0, false
	}
	bw := float64(bytes) / (b.avgRTT.Seconds() * 1.5)
	if bw > b.maxBW {
		b.maxBW = bw
	}

	threshold := uint64(float64(b.targetWindow) * 0.66)
	if bytes >= threshold && bw >= b.maxBW {
		target := bytes * 2
		if target > maxTargetWindow {
			target = maxTargetWindow
		}
		if uint32(target) > b.targetWindow {
			b.targetWindow = uint32(target)
			return b.targetWindow, true
		}
	}
	return 0, false
}

// TargetWindow returns the sampler's current window size, for seeding a
// newly opened stream's initial receive window.
func (b *bdpSampler) TargetWindow() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.targetWindow
}
