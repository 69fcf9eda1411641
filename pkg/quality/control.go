package quality

import "time"

// Bounds and defaults, SPEC_FULL.md §4.7 and §6.
const (
	MinTxPowerDefault = 9
	MaxTxPowerBound   = 80

	KeepaliveStart = 250 * time.Millisecond
	KeepaliveMin   = 50 * time.Millisecond
	// KeepaliveMax is not pinned by spec.md beyond "up to a ceiling"; 8 s is
	// chosen here so a quiet, healthy link still sends a keepalive at least
	// once every 8 seconds.
	KeepaliveMax = 8000 * time.Millisecond

	keepaliveStep = 100 * time.Millisecond
)

// TxPowerState tracks the adaptive transmit power, in quarter-dBm units.
type TxPowerState struct {
	Current int
	Min     int
	Max     int

	// LastChangeWasDownward is set true whenever ReduceTxPower actually
	// applies a change and is never cleared afterwards: IncreaseTxPower
	// leaves it untouched, whether it applies a change or is blocked at Max.
	// Preserved from the source library exactly as observed (SPEC_FULL.md's
	// Open Question (a)): once set, it keeps the "punish hasty reduction"
	// branch armed even after power has gone back up.
	LastChangeWasDownward bool
	LastChangeAt          time.Time
}

// InitFromRadio seeds the TX power bounds from the current radio-reported
// max power, done on entering "initialised" (SPEC_FULL.md's data model
// table).
func (t *TxPowerState) InitFromRadio(current, max int) {
	t.Current = current
	t.Min = MinTxPowerDefault
	t.Max = max
}

// ReduceTxPower decrements Current by one quarter-dBm if above Min.
func (t *TxPowerState) ReduceTxPower(now time.Time) bool {
	if t.Current > t.Min {
		t.Current--
		t.LastChangeAt = now
		t.LastChangeWasDownward = true
		return true
	}
	return false
}

// IncreaseTxPower increments Current by one quarter-dBm if below Max.
func (t *TxPowerState) IncreaseTxPower(now time.Time) bool {
	if t.Current < t.Max {
		t.Current++
		t.LastChangeAt = now
		return true
	}
	return false
}

// Controller runs the adaptive keepalive-interval and TX-power loop of
// SPEC_FULL.md §4.7.
type Controller struct {
	TxPower           TxPowerState
	KeepaliveInterval time.Duration
	Automatic         bool
}

// NewController returns a controller with the keepalive interval at its
// starting value and automatic TX power enabled.
func NewController() *Controller {
	return &Controller{KeepaliveInterval: KeepaliveStart, Automatic: true}
}

// Reset restores the keepalive interval to its starting value, done on
// entering "initialised".
func (c *Controller) Reset() {
	c.KeepaliveInterval = KeepaliveStart
}

// AdjustTxPower runs the §4.7 TX-power branch for one keepalive send in the
// "connected" state. sendQ is the send-quality register's value *after* this
// send's outcome has been folded in. The "100 consecutive keepalives" and
// "last 5 keepalive intervals" windows are evaluated as the wall time since
// TxPower.LastChangeAt, compared against 100 and 5 times the current
// KeepaliveInterval.
func (c *Controller) AdjustTxPower(sendQ uint32, now time.Time) {
	if !c.Automatic {
		return
	}
	if sendQ == 0xFFFFFFFF {
		if c.TxPower.Current == c.TxPower.Min && c.TxPower.Min > 9 &&
			now.Sub(c.TxPower.LastChangeAt) >= c.KeepaliveInterval*100 {
			c.TxPower.Min--
		}
		c.TxPower.ReduceTxPower(now)
		return
	}
	if c.TxPower.LastChangeWasDownward && now.Sub(c.TxPower.LastChangeAt) < c.KeepaliveInterval*5 {
		c.TxPower.Min++
	}
	c.TxPower.IncreaseTxPower(now)
}

// AdjustKeepaliveInterval grows the interval on a successful send, up to
// KeepaliveMax, and halves it on a failed/timed-out send, down to
// KeepaliveMin.
func (c *Controller) AdjustKeepaliveInterval(success bool) {
	if success {
		c.KeepaliveInterval += keepaliveStep
		if c.KeepaliveInterval > KeepaliveMax {
			c.KeepaliveInterval = KeepaliveMax
		}
		return
	}
	c.KeepaliveInterval /= 2
	if c.KeepaliveInterval < KeepaliveMin {
		c.KeepaliveInterval = KeepaliveMin
	}
}
