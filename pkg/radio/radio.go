// Package radio defines the capability surface m2mlink needs from the
// underlying datagram radio driver (SPEC_FULL.md §4.5) and a thin façade
// that serialises unicast sends on top of any Driver implementation.
//
// Driver is the abstract, out-of-scope collaborator from spec.md §1: "the
// underlying radio/datagram driver ... offers send-to-address, broadcast,
// receive-callback, send-confirm callback, channel get/set, max-TX-power
// get/set, peer-registration with optional 16-byte key". Concrete drivers
// (pkg/serialradio being the one this module ships) implement it.
package radio

import (
	"errors"
	"sync"
	"time"

	"github.com/librescoot/m2mlink/pkg/linkerr"
)

// Broadcast is the conventional all-ones address used for pairing frames.
var Broadcast = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Driver is the capability set a concrete radio implementation must expose.
// Callbacks (OnTxConfirm, OnReceive) run on the driver's own execution
// context per SPEC_FULL.md §5 and must not block.
type Driver interface {
	Init(channel uint8) error
	SetChannel(channel uint8) error
	Channel() uint8
	SetMaxTxPower(quarterDBm uint8) error
	MaxTxPower() uint8
	SetPrimaryKey(key [16]byte) error
	RegisterPeer(addr [6]byte, channel uint8, key *[16]byte) error
	DeregisterPeer(addr [6]byte) error
	Broadcast(payload []byte) error
	Unicast(addr [6]byte, payload []byte) error
	OnTxConfirm(func(addr [6]byte, ok bool))
	OnReceive(func(addr [6]byte, payload []byte))
}

// ChannelScanner is an optional capability: a driver that can survey nearby
// traffic and suggest the least congested channel, used when the host asks
// for commChannel == 0 ("auto-select").
type ChannelScanner interface {
	ScanLeastCongestedChannel() (uint8, error)
}

// SendTimeout is the wait-for-confirm deadline, SPEC_FULL.md §6.
const SendTimeout = 100 * time.Millisecond

var errUnicastInFlight = errors.New("radio: unicast already in flight")

// Facade serialises radio access: only one unicast is outstanding at a
// time, and the waiting flag is cleared either by the TX-confirm callback or
// by SendTimeout, per SPEC_FULL.md §4.5/§5.
type Facade struct {
	Driver Driver

	mu        sync.Mutex
	waiting   bool
	confirmCh chan bool
}

// NewFacade wraps d and wires the TX-confirm callback.
func NewFacade(d Driver) *Facade {
	f := &Facade{Driver: d}
	d.OnTxConfirm(f.handleTxConfirm)
	return f
}

func (f *Facade) handleTxConfirm(_ [6]byte, ok bool) {
	f.mu.Lock()
	ch := f.confirmCh
	waiting := f.waiting
	f.mu.Unlock()
	if waiting && ch != nil {
		select {
		case ch <- ok:
		default:
		}
	}
}

// SendUnicast transmits payload to addr and waits up to SendTimeout for
// confirmation. It returns linkerr.ErrTxTimeout if no confirmation arrives
// in time; the caller (the link-quality tracker) treats a timeout exactly
// like a failed send.
func (f *Facade) SendUnicast(addr [6]byte, payload []byte) (confirmed bool, err error) {
	f.mu.Lock()
	if f.waiting {
		f.mu.Unlock()
		return false, errUnicastInFlight
	}
	f.waiting = true
	ch := make(chan bool, 1)
	f.confirmCh = ch
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.waiting = false
		f.confirmCh = nil
		f.mu.Unlock()
	}()

	if err := f.Driver.Unicast(addr, payload); err != nil {
		return false, err
	}
	select {
	case ok := <-ch:
		return ok, nil
	case <-time.After(SendTimeout):
		return false, linkerr.ErrTxTimeout
	}
}

// SendBroadcast fires a broadcast frame; broadcasts are fire-and-forget and
// never gated by the unicast waiting flag.
func (f *Facade) SendBroadcast(payload []byte) error {
	return f.Driver.Broadcast(payload)
}
