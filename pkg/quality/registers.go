// Package quality implements the two 32-bit sliding-window link-quality
// registers (SPEC_FULL.md §4.6) and the adaptive keepalive/TX-power control
// loop layered on top of them (§4.7).
package quality

import "math/bits"

// Registers tracks the send-quality and echo-quality sliding windows. Both
// shift right on every attempt and OR in the MSB on success, so the low 32
// attempts are always reflected.
type Registers struct {
	SendQ uint32
	EchoQ uint32
}

// Reset zeroes both registers, done on entering the "initialised" state.
func (r *Registers) Reset() {
	r.SendQ = 0
	r.EchoQ = 0
}

// OnSendAttempt shifts the send-quality register for a new unicast attempt.
func (r *Registers) OnSendAttempt() {
	r.SendQ >>= 1
}

// OnSendConfirmed ORs in a successful send. Call it after OnSendAttempt for
// the same attempt when the TX-confirm callback lands inside send_timeout.
func (r *Registers) OnSendConfirmed() {
	r.SendQ |= 0x80000000
}

// OnKeepaliveSent shifts the echo-quality register for a sent keepalive.
func (r *Registers) OnKeepaliveSent() {
	r.EchoQ >>= 1
}

// OnEchoMatched ORs in a matched keepalive echo (the remote's
// LastEchoedRemoteTimestamp equalled our previous activity timestamp).
func (r *Registers) OnEchoMatched() {
	r.EchoQ |= 0x80000000
}

// OnMissedEchoPenalty applies the additional shift for a keepalive whose
// echo hasn't arrived within 3x the keepalive interval.
func (r *Registers) OnMissedEchoPenalty() {
	r.EchoQ >>= 1
}

// LinkQuality is the bitwise AND of the two registers.
func (r *Registers) LinkQuality() uint32 {
	return r.SendQ & r.EchoQ
}

// Score is the popcount of LinkQuality, in [0, 32].
func (r *Registers) Score() int {
	return bits.OnesCount32(r.LinkQuality())
}

// Link-quality thresholds, SPEC_FULL.md §4.6.
const (
	ConnectedThreshold    = 0xFF000000 // connecting -> connected: LinkQuality() > this
	LowerScoreThreshold   = 12         // connected -> disconnected: Score() < this
	UpperScoreThreshold   = 18         // disconnected -> connected: Score() >= this
)

// ReachedConnectingThreshold reports whether the top eight attempts on both
// sides have all succeeded (connecting -> connected transition).
func (r *Registers) ReachedConnectingThreshold() bool {
	return r.LinkQuality() > ConnectedThreshold
}

// BelowLowerThreshold reports the connected -> disconnected condition.
func (r *Registers) BelowLowerThreshold() bool {
	return r.Score() < LowerScoreThreshold
}

// AboveUpperThreshold reports the disconnected -> connected condition.
func (r *Registers) AboveUpperThreshold() bool {
	return r.Score() >= UpperScoreThreshold
}
