package fsm

import (
	"fmt"
	"time"

	"github.com/librescoot/m2mlink/pkg/frame"
	"github.com/librescoot/m2mlink/pkg/linkerr"
	"github.com/librescoot/m2mlink/pkg/persist"
	"github.com/librescoot/m2mlink/pkg/record"
)

// Writer returns the outbound record writer (§6 "Writer: add(field) /
// add_string(str) / send_message(wait=true)"). Callers build up fields with
// its Add* methods, then call SendMessage.
func (l *Link) Writer() *record.Writer {
	return l.outbound
}

// Reader returns the inbound record reader (§6 "Reader: data_available(),
// next_tag(), next_length(), retrieve(...), skip(), clear_received()").
// Call Reader().Clear() once the application has consumed the fields it
// wants, which is what allows the next DATA frame to be accepted (§5).
func (l *Link) Reader() *record.Reader {
	return l.inbound
}

// SendMessage encodes whatever fields are pending on Writer() into a DATA
// frame and transmits it to the paired remote. If wait is true it blocks
// (via the radio façade's send-timeout) for TX confirmation and returns
// whether the send was confirmed; if false it fires the unicast and returns
// true immediately, matching send_message(wait=true) defaulting to a
// confirmed wait. The writer is reset after encoding either way.
func (l *Link) SendMessage(wait bool) (bool, error) {
	if !l.remote.Bound {
		return false, fmt.Errorf("fsm: %w: no paired remote", linkerr.ErrUnexpectedState)
	}
	wire, err := frame.EncodeData(l.outbound.FieldCount(), l.outbound.Bytes())
	l.outbound.Reset()
	if err != nil {
		return false, err
	}

	if wait {
		confirmed, err := l.radio.SendUnicast(l.remote.Addr, wire)
		if err != nil {
			return false, err
		}
		return confirmed, nil
	}
	if err := l.driver.Unicast(l.remote.Addr, wire); err != nil {
		return false, err
	}
	return true, nil
}

// RemoteAddr returns the paired remote's radio address, or the zero address
// if nothing is paired.
func (l *Link) RemoteAddr() [frame.MacLen]byte { return l.remote.Addr }

// SendQ and EchoQ expose the raw link-quality registers for diagnostics
// snapshots (SPEC_FULL.md's diagnostics component); LinkQuality() above is
// their bitwise AND.
func (l *Link) SendQ() uint32 { return l.quality.SendQ }
func (l *Link) EchoQ() uint32 { return l.quality.EchoQ }

// CurrentTXPower returns the adaptive loop's current TX power in
// quarter-dBm units, or 0 before the radio has been initialised.
func (l *Link) CurrentTXPower() int {
	if l.control == nil {
		return 0
	}
	return l.control.TxPower.Current
}

// KeepaliveInterval returns the adaptive loop's current keepalive cadence.
func (l *Link) KeepaliveInterval() time.Duration {
	if l.control == nil {
		return PairingInterval
	}
	return l.control.KeepaliveInterval
}

// ResetPairing forces the machine back to initialised, erasing persistence,
// deregistering the radio peer, and clearing the remote name (§4.8, §6
// reset_pairing() -> bool). It always succeeds from the FSM's point of
// view; persistence/radio errors along the way are logged, not fatal, per
// §7.
func (l *Link) ResetPairing() bool {
	wasConnected := l.state == StateConnected

	if err := l.persist.Erase(); err != nil {
		l.debug.Printf("fsm: reset: persistence erase failed: %v", err)
	}
	if l.remote.Bound {
		if err := l.driver.DeregisterPeer(l.remote.Addr); err != nil {
			l.debug.Printf("fsm: reset: deregister peer failed: %v", err)
		}
	}

	l.remote = persist.RemotePeer{}
	l.loadedFromPersistence = false
	l.persistedThisSession = false
	l.quality.Reset()
	if l.control != nil {
		l.control.Reset()
	}
	l.logTransition(StateInitialised)

	if wasConnected {
		l.fire(l.callbacks.OnDisconnected)
	}
	return true
}
