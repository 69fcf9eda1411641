package fsm

import (
	"bytes"
	"time"

	"github.com/librescoot/m2mlink/pkg/frame"
	"github.com/librescoot/m2mlink/pkg/keys"
	"github.com/librescoot/m2mlink/pkg/persist"
	"github.com/librescoot/m2mlink/pkg/quality"
)

// Begin sets the channels, loads any persisted pairing, and readies the
// Link for Tick (§6 begin(commChannel=0, pairingChannel=1)). commChannel==0
// means auto-select: if the driver implements radio.ChannelScanner, the
// least congested channel is used once radio init succeeds; otherwise this
// module falls back to pairingChannel+1 (wrapping into the valid range),
// since the teacher's protocol has no least-congested-channel query of its
// own (SUPPLEMENTED FEATURES).
func (l *Link) Begin(commChannel, pairingChannel uint8) error {
	if pairingChannel == 0 {
		pairingChannel = 1
	}
	l.pairingChannel = pairingChannel
	l.commChannel = commChannel
	l.remote = l.persist.Read()
	l.loadedFromPersistence = l.remote.Bound
	return nil
}

// Tick advances the FSM by one step (§6 tick()): drains any datagrams
// queued by the radio callback, services the pairing button, runs the
// handler for the current state, then updates the indicator.
func (l *Link) Tick() {
	now := l.clock()
	l.drainInbound(now)
	l.serviceButton(now)

	switch l.state {
	case StateUninitialised:
		l.tickUninitialised(now)
	case StateInitialised:
		l.tickInitialised(now)
	case StatePairing:
		l.tickPairing(now)
	case StatePaired:
		l.tickPaired(now)
	case StateConnecting, StateConnected, StateDisconnected:
		l.tickKeepaliveState(now)
	}

	l.serviceIndicator(now)
}

func tieBreakWinner(a, b [frame.MacLen]byte) bool {
	return bytes.Compare(a[:], b[:]) > 0
}

func (l *Link) resolveCommChannel() byte {
	if l.commChannel != 0 {
		return l.commChannel
	}
	if scanner, ok := l.driver.(interface {
		ScanLeastCongestedChannel() (uint8, error)
	}); ok {
		if ch, err := scanner.ScanLeastCongestedChannel(); err == nil && ch != 0 {
			return ch
		}
	}
	ch := l.pairingChannel + 1
	if ch > 13 {
		ch = 1
	}
	return ch
}

func (l *Link) tickUninitialised(now time.Time) {
	if !l.lastInitAttempt.IsZero() && now.Sub(l.lastInitAttempt) < PairingInterval {
		return
	}
	l.lastInitAttempt = now

	if err := l.driver.Init(l.pairingChannel); err != nil {
		l.debug.Printf("fsm: radio init failed: %v", err)
		return
	}
	resolved := l.resolveCommChannel()
	if err := l.driver.SetChannel(resolved); err != nil {
		l.debug.Printf("fsm: set channel failed: %v", err)
		return
	}
	l.commChannel = resolved

	maxTx := l.driver.MaxTxPower()
	if maxTx == 0 {
		maxTx = quality.MaxTxPowerBound
	}
	l.control = quality.NewController()
	l.control.Automatic = l.automaticTxPower
	l.control.TxPower.InitFromRadio(int(maxTx), int(maxTx))
	l.quality.Reset()

	l.logTransition(StateInitialised)
}

func (l *Link) tickInitialised(now time.Time) {
	if l.loadedFromPersistence {
		l.primaryKey = keys.Key(l.remote.PrimaryKey)
		l.localKey = keys.Key(l.remote.LocalKey)

		if l.encryptionEnabled {
			if err := l.driver.SetPrimaryKey(l.primaryKey); err != nil {
				l.debug.Printf("fsm: set primary key failed: %v", err)
				return
			}
		}
		var keyPtr *[frame.KeyLen]byte
		if l.encryptionEnabled {
			k := [frame.KeyLen]byte(l.localKey)
			keyPtr = &k
		}
		if err := l.driver.RegisterPeer(l.remote.Addr, l.commChannel, keyPtr); err != nil {
			l.debug.Printf("fsm: register peer failed: %v", err)
			return
		}
		// Loaded from persistence: never re-write this session's pairing.
		l.persistedThisSession = true
		l.logTransition(StateConnecting)
		l.fire(l.callbacks.OnPaired)
		return
	}

	if l.encryptionEnabled {
		primary, local, err := l.keyMgr.Generate()
		if err != nil {
			l.debug.Printf("fsm: key generation failed: %v", err)
			return
		}
		l.primaryKey, l.localKey = primary, local
	} else {
		l.primaryKey, l.localKey = keys.Clear()
	}

	l.lastPairingBroadcast = time.Time{}
	l.logTransition(StatePairing)
	l.fire(l.callbacks.OnPairing)
}

func (l *Link) tickPairing(now time.Time) {
	if !l.lastPairingBroadcast.IsZero() && now.Sub(l.lastPairingBroadcast) < PairingInterval {
		return
	}
	l.lastPairingBroadcast = now

	wire, err := frame.EncodePairing(l.commChannel, l.local.addr, l.primaryKey, l.localKey, l.local.name)
	if err != nil {
		l.debug.Printf("fsm: encode pairing failed: %v", err)
		return
	}
	if err := l.radio.SendBroadcast(wire); err != nil {
		l.debug.Printf("fsm: broadcast pairing failed: %v", err)
	}
}

func (l *Link) tickPaired(now time.Time) {
	if !l.lastPairedBroadcast.IsZero() && now.Sub(l.lastPairedBroadcast) < PairingInterval {
		return
	}
	l.lastPairedBroadcast = now

	wire, err := frame.EncodePairingAck(l.commChannel, l.local.addr, l.remote.Addr, l.primaryKey, l.localKey, l.local.name)
	if err != nil {
		l.debug.Printf("fsm: encode pairing-ack failed: %v", err)
		return
	}
	if err := l.radio.SendBroadcast(wire); err != nil {
		l.debug.Printf("fsm: broadcast pairing-ack failed: %v", err)
	}
}

func (l *Link) tickKeepaliveState(now time.Time) {
	interval := PairingInterval
	if l.control != nil {
		interval = l.control.KeepaliveInterval
	}
	if !l.lastKeepalive.IsZero() && now.Sub(l.lastKeepalive) < interval {
		return
	}
	l.lastKeepalive = now
	l.evaluateLinkQualityTransition(now)
	l.sendKeepalive(now, interval)
}

func (l *Link) sendKeepalive(now time.Time, interval time.Duration) {
	l.timers.prevLocalActivity = l.timers.lastLocalActivity
	l.timers.lastLocalActivity = now

	var minTx, curTx, maxTx byte
	if l.control != nil {
		minTx = byte(l.control.TxPower.Min)
		curTx = byte(l.control.TxPower.Current)
		maxTx = byte(l.control.TxPower.Max)
	}

	k := frame.Keepalive{
		Channel:                   l.commChannel,
		LocalAddr:                 l.local.addr,
		RemoteAddr:                l.remote.Addr,
		LocalActivityTimestamp:    uint32(now.UnixMilli()),
		LastEchoedRemoteTimestamp: l.timers.remoteActivityTimestamp,
		MinTxPower:                minTx,
		CurrentTxPower:            curTx,
		MaxTxPower:                maxTx,
	}
	wire, err := frame.EncodeKeepalive(k)
	if err != nil {
		l.debug.Printf("fsm: encode keepalive failed: %v", err)
		return
	}

	l.quality.OnSendAttempt()
	confirmed, err := l.radio.SendUnicast(l.remote.Addr, wire)
	success := err == nil && confirmed
	if success {
		l.quality.OnSendConfirmed()
	}
	l.quality.OnKeepaliveSent()
	if !l.timers.echoedLocalActivity.IsZero() && now.Sub(l.timers.echoedLocalActivity) > 3*interval {
		l.quality.OnMissedEchoPenalty()
	}

	if l.control != nil {
		l.control.AdjustKeepaliveInterval(success)
		if l.state != StateConnected {
			return
		}
		l.control.AdjustTxPower(l.quality.SendQ, now)
		if l.automaticTxPower {
			if err := l.driver.SetMaxTxPower(byte(l.control.TxPower.Current)); err != nil {
				l.debug.Printf("fsm: set tx power failed: %v", err)
			}
		}
	}
}

func (l *Link) evaluateLinkQualityTransition(now time.Time) {
	switch l.state {
	case StateConnecting:
		if l.quality.ReachedConnectingThreshold() {
			l.enterConnected()
		}
	case StateConnected:
		if l.quality.BelowLowerThreshold() {
			l.logTransition(StateDisconnected)
			l.fire(l.callbacks.OnDisconnected)
		}
	case StateDisconnected:
		if l.quality.AboveUpperThreshold() {
			l.enterConnected()
		}
	}
}

func (l *Link) enterConnected() {
	l.logTransition(StateConnected)
	l.fire(l.callbacks.OnConnected)

	if l.persistedThisSession {
		return
	}
	tuple := persist.RemotePeer{
		Addr:       l.remote.Addr,
		PrimaryKey: l.primaryKey,
		LocalKey:   l.localKey,
		RemoteName: l.remote.RemoteName,
		Bound:      true,
	}
	if err := l.persist.Write(tuple); err != nil {
		l.debug.Printf("fsm: persistence write failed: %v", err)
	}
	l.persistedThisSession = true
}
