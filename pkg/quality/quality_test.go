package quality

import (
	"math/bits"
	"testing"
	"time"
)

func TestSendQualityTracksLast32Outcomes(t *testing.T) {
	outcomes := []bool{true, false, true, true, false, true, false, false, true, true}
	var r Registers
	r.Reset()
	r.SendQ = 0 // start from an empty window (Reset already zeroes it)
	for _, ok := range outcomes {
		r.OnSendAttempt()
		if ok {
			r.OnSendConfirmed()
		}
	}
	want := 0
	for _, ok := range outcomes {
		if ok {
			want++
		}
	}
	if got := bits.OnesCount32(r.SendQ); got != want {
		t.Fatalf("popcount(sendQ) = %d, want %d", got, want)
	}
}

func TestLinkQualityMonotone(t *testing.T) {
	var r Registers
	r.SendQ = 0xFFFFFFFF
	r.EchoQ = 0xFFFFFFFF
	prev := r.Score()
	for i := 0; i < 40; i++ {
		r.OnSendAttempt() // no confirm -> all failures
		r.OnKeepaliveSent()
		cur := r.Score()
		if cur > prev {
			t.Fatalf("score increased during all-failure run: %d -> %d", prev, cur)
		}
		prev = cur
	}

	r = Registers{}
	prev = r.Score()
	for i := 0; i < 40; i++ {
		r.OnSendAttempt()
		r.OnSendConfirmed()
		r.OnKeepaliveSent()
		r.OnEchoMatched()
		cur := r.Score()
		if cur < prev {
			t.Fatalf("score decreased during all-success run: %d -> %d", prev, cur)
		}
		prev = cur
	}
}

func TestThresholds(t *testing.T) {
	var r Registers
	r.SendQ = 0xFFFFFFFF
	r.EchoQ = 0xFFFFFFFF
	if !r.ReachedConnectingThreshold() {
		t.Fatal("expected connecting threshold reached")
	}
	if !r.AboveUpperThreshold() {
		t.Fatal("expected above upper threshold")
	}
	r.SendQ = 0
	if !r.BelowLowerThreshold() {
		t.Fatal("expected below lower threshold")
	}
}

func TestKeepaliveIntervalAdapts(t *testing.T) {
	c := NewController()
	if c.KeepaliveInterval != KeepaliveStart {
		t.Fatalf("interval = %v, want %v", c.KeepaliveInterval, KeepaliveStart)
	}
	c.AdjustKeepaliveInterval(true)
	if c.KeepaliveInterval != KeepaliveStart+keepaliveStep {
		t.Fatalf("interval after success = %v", c.KeepaliveInterval)
	}
	for i := 0; i < 200; i++ {
		c.AdjustKeepaliveInterval(true)
	}
	if c.KeepaliveInterval != KeepaliveMax {
		t.Fatalf("interval did not clamp to max: %v", c.KeepaliveInterval)
	}
	for i := 0; i < 20; i++ {
		c.AdjustKeepaliveInterval(false)
	}
	if c.KeepaliveInterval != KeepaliveMin {
		t.Fatalf("interval did not clamp to min: %v", c.KeepaliveInterval)
	}
}

func TestTxPowerBounds(t *testing.T) {
	var tp TxPowerState
	tp.InitFromRadio(9, 80)
	now := time.Unix(0, 0)
	if tp.ReduceTxPower(now) {
		t.Fatal("expected reduce to fail at min")
	}
	tp.Current = 40
	if !tp.ReduceTxPower(now) || tp.Current != 39 {
		t.Fatalf("reduce did not decrement: %d", tp.Current)
	}
	if !tp.LastChangeWasDownward {
		t.Fatal("expected downward latch set")
	}
	tp.Current = 80
	if tp.IncreaseTxPower(now) {
		t.Fatal("expected increase to fail at max")
	}
	if !tp.LastChangeWasDownward {
		t.Fatal("blocked increase must not clear the downward latch (Open Question a)")
	}
}
