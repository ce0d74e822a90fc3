// Package rate implements the sender's token/interval pacing of spec.md
// §4.7 (component C7). It deliberately stays on the standard library
// `time` package: see DESIGN.md for why no ecosystem rate-limiter
// dependency is used.
package rate

import "time"

// Shaper paces sender emission to a configured bits-per-second rate. It is
// called only from the sender's single emission goroutine and holds no
// lock; it is not safe to share across goroutines (spec.md §4.7).
type Shaper struct {
	bps   uint64
	start time.Time
	until time.Duration
}

// New returns a Shaper configured at bps bits/second. A rate of 0 leaves
// shaping disabled: StartPacket/EndPacketAndSleep become no-ops.
func New(bps uint64) *Shaper {
	return &Shaper{bps: bps}
}

// SetRate reconfigures the target rate.
func (s *Shaper) SetRate(bps uint64) {
	s.bps = bps
}

// Enabled reports whether shaping is active (bps != 0).
func (s *Shaper) Enabled() bool {
	return s.bps != 0
}

// StartPacket records the current time and the packet's target transmit
// period (size*8/bps) ahead of sending sizeBytes.
func (s *Shaper) StartPacket(sizeBytes int) {
	if !s.Enabled() {
		return
	}
	s.start = time.Now()
	s.until = time.Duration(uint64(sizeBytes) * 8 * uint64(time.Second) / s.bps)
}

// EndPacketAndSleep sleeps for the remainder of the packet's target
// transmit period, clamped at zero, and returns the duration slept.
func (s *Shaper) EndPacketAndSleep() time.Duration {
	if !s.Enabled() {
		return 0
	}
	remaining := s.until - time.Since(s.start)
	if remaining <= 0 {
		return 0
	}
	time.Sleep(remaining)
	return remaining
}
