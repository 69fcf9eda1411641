package fsm

import (
	"time"

	"github.com/librescoot/m2mlink/pkg/frame"
	"github.com/librescoot/m2mlink/pkg/persist"
	"github.com/librescoot/m2mlink/pkg/record"
)

// drainInbound processes every datagram the radio callback queued since the
// last Tick. This runs entirely on the Tick/cooperative context, per
// SPEC_FULL.md §5: the callback only enqueues, all FSM mutation happens
// here.
func (l *Link) drainInbound(now time.Time) {
	for {
		select {
		case dg := <-l.rxCh:
			l.handleDatagram(now, dg)
		default:
			return
		}
	}
}

func (l *Link) handleDatagram(now time.Time, dg rxDatagram) {
	f, err := frame.Decode(dg.payload)
	if err != nil {
		// Every RX-path error is silent: drop the frame, leave state
		// untouched (§7).
		return
	}
	switch f.Type {
	case frame.TypePairing:
		l.handlePairing(now, dg.addr, f.Pairing)
	case frame.TypePairingAck:
		l.handlePairingAck(now, dg.addr, f.PairingAck)
	case frame.TypeKeepalive:
		l.handleKeepalive(now, dg.addr, f.Keepalive)
	case frame.TypeData:
		l.handleData(f.Data)
	}
}

func (l *Link) handlePairing(now time.Time, from [frame.MacLen]byte, p *frame.Pairing) {
	if l.state != StatePairing {
		return
	}
	if !tieBreakWinner(from, l.local.addr) {
		// We win the tie (or it's a byte-identical address, which can't
		// happen for two distinct peers): keep broadcasting our own
		// proposal.
		return
	}
	// The sender wins: adopt its channel and keys.
	l.commChannel = p.Channel
	l.primaryKey = p.PrimaryKey
	l.localKey = p.LocalKey
	l.remote = remotePeerFrom(from, p.PrimaryKey, p.LocalKey, p.Name)

	if err := l.completePairing(); err != nil {
		l.debug.Printf("fsm: pairing completion failed: %v", err)
		return
	}
	l.logTransition(StatePaired)
	l.fire(l.callbacks.OnPaired)
}

func (l *Link) handlePairingAck(now time.Time, from [frame.MacLen]byte, p *frame.PairingAck) {
	switch l.state {
	case StatePairing:
		// The peer that already resolved the tie is broadcasting its ack:
		// trust it and complete pairing ourselves (this is how the tie
		// winner, still broadcasting plain PAIRING frames, learns the
		// loser has adopted and moves to paired too).
		if p.LocalAddr != from || p.RemoteAddr != l.local.addr {
			return
		}
		l.commChannel = p.Channel
		l.primaryKey = p.PrimaryKey
		l.localKey = p.LocalKey
		l.remote = remotePeerFrom(from, p.PrimaryKey, p.LocalKey, p.Name)
		if err := l.completePairing(); err != nil {
			l.debug.Printf("fsm: pairing completion failed: %v", err)
			return
		}
		l.logTransition(StatePaired)
		l.fire(l.callbacks.OnPaired)
	case StatePaired:
		if p.RemoteAddr != l.local.addr || p.LocalAddr != l.remote.Addr {
			return
		}
		if p.Channel != l.commChannel || p.PrimaryKey != l.primaryKey || p.LocalKey != l.localKey {
			return
		}
		l.logTransition(StateConnecting)
	}
}

func (l *Link) handleKeepalive(now time.Time, from [frame.MacLen]byte, k *frame.Keepalive) {
	switch l.state {
	case StatePaired:
		if k.Channel != l.commChannel || k.RemoteAddr != l.local.addr || k.LocalAddr != l.remote.Addr || from != l.remote.Addr {
			return
		}
		l.logTransition(StateConnecting)
	case StateConnecting, StateConnected, StateDisconnected:
		if k.Channel != l.commChannel || from != l.remote.Addr {
			return
		}
	default:
		return
	}

	l.timers.lastRemoteActivity = now
	l.timers.remoteActivityTimestamp = k.LocalActivityTimestamp
	if !l.timers.prevLocalActivity.IsZero() && k.LastEchoedRemoteTimestamp == uint32(l.timers.prevLocalActivity.UnixMilli()) {
		l.quality.OnEchoMatched()
		l.timers.echoedLocalActivity = now
	}
}

func (l *Link) handleData(d *frame.Data) {
	if l.inbound.DataAvailable() > 0 {
		// Only one inbound application frame accepted at a time (§5);
		// further DATA frames are dropped until consumed via clear().
		return
	}
	l.inbound = record.NewReader(d.FieldCount, d.Records)
	l.fire(l.callbacks.OnMessageReceived)
}

func remotePeerFrom(addr [frame.MacLen]byte, primary, local [frame.KeyLen]byte, name string) persist.RemotePeer {
	return persist.RemotePeer{
		Addr:       addr,
		PrimaryKey: primary,
		LocalKey:   local,
		RemoteName: name,
		Bound:      true,
	}
}
