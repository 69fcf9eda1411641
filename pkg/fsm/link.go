// Package fsm implements the pairing/connection orchestrator of
// SPEC_FULL.md §4.8: the six-state machine, tie-break rule, persistence
// trigger, indicator/button wiring, and the public façade of §6 (tick,
// connected, link_quality, callback registration, Writer/Reader passthrough,
// send_message, reset_pairing). It composes pkg/frame, pkg/record,
// pkg/keys, pkg/quality and pkg/radio the way the teacher's pkg/service
// composes pkg/usock and pkg/redis: one orchestrator type wiring several
// narrow collaborators together, driven by a single entry point (tick, here;
// the teacher's equivalent is its Redis command watcher + USOCK handler).
package fsm

import (
	"log"
	"time"

	"github.com/librescoot/m2mlink/pkg/debugstream"
	"github.com/librescoot/m2mlink/pkg/frame"
	"github.com/librescoot/m2mlink/pkg/keys"
	"github.com/librescoot/m2mlink/pkg/persist"
	"github.com/librescoot/m2mlink/pkg/quality"
	"github.com/librescoot/m2mlink/pkg/radio"
	"github.com/librescoot/m2mlink/pkg/record"
)

// PairingInterval is the broadcast cadence in uninitialised/pairing/paired,
// spec.md §6's PAIRING_INTERVAL_MS=5000.
const PairingInterval = 5 * time.Second

// Indicator blink intervals per state, §4.8. Zero means steady-on.
var indicatorIntervals = map[State]time.Duration{
	StateInitialised:   50 * time.Millisecond,
	StatePairing:       100 * time.Millisecond,
	StatePaired:        250 * time.Millisecond,
	StateConnecting:    500 * time.Millisecond,
	StateConnected:     0,
	StateDisconnected:  75 * time.Millisecond,
}

// buttonHoldDuration is the pairing-button hold-to-reset threshold, §4.8.
const buttonHoldDuration = 5 * time.Second

// Persistence is the storage collaborator the FSM needs from either
// pkg/persist (Redis hash) or pkg/persist/blobstore (raw layout).
type Persistence interface {
	Read() persist.RemotePeer
	Write(persist.RemotePeer) error
	Erase() error
}

// IndicatorPin and ButtonPin mirror pkg/gpio's interfaces, restated here so
// this package does not otherwise depend on pkg/gpio (keeping GPIO, which
// needs periph.io/x/host.Init(), entirely optional).
type IndicatorPin interface {
	Set(on bool) error
}

type ButtonPin interface {
	Pressed() (bool, error)
}

type localIdentity struct {
	addr [frame.MacLen]byte
	name string
}

// timerSet mirrors §3's TimerSet row. lastTxPowerChange from that row is
// tracked as quality.TxPowerState.LastChangeAt instead of duplicated here.
type timerSet struct {
	lastLocalActivity   time.Time
	prevLocalActivity   time.Time
	lastRemoteActivity  time.Time
	echoedLocalActivity time.Time

	// remoteActivityTimestamp is the most recent LocalActivityTimestamp the
	// remote sent us, carried verbatim into our own next keepalive's
	// LastEchoedRemoteTimestamp so the remote can recognise its own echo.
	remoteActivityTimestamp uint32
}

// Link is one orchestrator instance — one local/remote peer pairing. The
// source models this as a process-wide singleton because its RX/TX
// callbacks are C function pointers closing over a global (spec.md's Design
// Notes); here each Link is an explicit value the radio callbacks close over
// directly, so multiple Links can coexist in one process.
type Link struct {
	radio   *radio.Facade
	driver  radio.Driver
	persist Persistence
	debug   *debugstream.Stream
	clock   func() time.Time
	keyMgr  keys.Manager

	local      localIdentity
	remote     persist.RemotePeer
	primaryKey keys.Key
	localKey   keys.Key

	pairingChannel uint8
	commChannel    uint8

	encryptionEnabled bool
	automaticTxPower  bool

	state                 State
	loadedFromPersistence bool
	persistedThisSession  bool

	quality quality.Registers
	control *quality.Controller
	timers  timerSet

	lastInitAttempt      time.Time
	lastPairingBroadcast time.Time
	lastPairedBroadcast  time.Time
	lastKeepalive        time.Time

	inbound  *record.Reader
	outbound *record.Writer

	rxCh chan rxDatagram

	indicator         IndicatorPin
	lastIndicatorFlip time.Time
	indicatorOn       bool

	button          ButtonPin
	buttonDownSince time.Time
	buttonWasDown   bool

	callbacks Callbacks
}

type rxDatagram struct {
	addr    [frame.MacLen]byte
	payload []byte
}

// New constructs a Link over driver d and persistence store p. The radio's
// local address is read once from the driver, per §3's "Address read once
// from radio" invariant — but Driver has no GetAddress() capability (§4.5
// lists none), so callers supply it directly, exactly as the source reads
// it from a one-time hardware register access at init.
func New(d radio.Driver, p Persistence, localAddr [frame.MacLen]byte) *Link {
	l := &Link{
		driver:            d,
		radio:             radio.NewFacade(d),
		persist:           p,
		debug:             debugstream.Discard,
		clock:             time.Now,
		local:             localIdentity{addr: localAddr},
		encryptionEnabled: true,
		automaticTxPower:  true,
		state:             StateUninitialised,
		inbound:           record.NewReader(0, nil),
		outbound:          record.NewWriter(),
		rxCh:              make(chan rxDatagram, 8),
	}
	d.OnReceive(l.onReceive)
	return l
}

// SetDebugStream directs diagnostic text at s instead of discarding it.
func (l *Link) SetDebugStream(s *debugstream.Stream) {
	if s == nil {
		s = debugstream.Discard
	}
	l.debug = s
}

// SetClock overrides the time source, for deterministic tests.
func (l *Link) SetClock(now func() time.Time) {
	l.clock = now
}

// onReceive is invoked on the radio driver's own execution context
// (SPEC_FULL.md §5); it must not block or mutate FSM state directly, so it
// only enqueues onto a bounded channel drained by Tick.
func (l *Link) onReceive(addr [frame.MacLen]byte, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case l.rxCh <- rxDatagram{addr: addr, payload: cp}:
	default:
		l.debug.Printf("fsm: rx queue full, dropping datagram from %x", addr)
	}
}

// SetLocalName sets the advertised local name (§6 set_local_name).
func (l *Link) SetLocalName(name string) {
	l.local.name = name
}

// LocalName returns the local name, or "", false if unset (§6 local_name).
func (l *Link) LocalName() (string, bool) {
	return l.local.name, l.local.name != ""
}

// RemoteName returns the paired remote's advertised name, if any (§6
// remote_name).
func (l *Link) RemoteName() (string, bool) {
	return l.remote.RemoteName, l.remote.RemoteName != ""
}

// ConfigurePairingButton wires a GPIO pin as the 5-second-hold reset button
// (§4.8, §6 configure_pairing_button). Polarity (normally_closed) is
// resolved by the caller when opening the pin (pkg/gpio.OpenButton) so Pin
// here already reports a polarity-correct "is it pressed" boolean.
func (l *Link) ConfigurePairingButton(pin ButtonPin) {
	l.button = pin
}

// ConfigureIndicator wires a GPIO pin as the state indicator LED (§4.8, §6
// configure_indicator). Polarity (inverted) is likewise resolved by the
// caller (pkg/gpio.OpenIndicator).
func (l *Link) ConfigureIndicator(pin IndicatorPin) {
	l.indicator = pin
}

// DisableEncryption turns off primary/local key use: pairing advertises
// zeroed keys and the radio registers peers without a key (SPEC_FULL.md's
// supplemented disable_encryption feature).
func (l *Link) DisableEncryption() {
	l.encryptionEnabled = false
}

// SetAutomaticTXPower toggles the §4.7 adaptive TX-power loop; when false,
// the loop leaves currentTxPower unchanged. It starts at the max TX power
// the radio reports when Tick initialises the radio.
func (l *Link) SetAutomaticTXPower(on bool) {
	l.automaticTxPower = on
	if l.control != nil {
		l.control.Automatic = on
	}
}

// Connected reports whether the FSM is currently in StateConnected (§6
// connected()).
func (l *Link) Connected() bool {
	return l.state == StateConnected
}

// LinkQuality returns the current link-quality value (§6 link_quality()).
func (l *Link) LinkQuality() uint32 {
	return l.quality.LinkQuality()
}

// State returns the current FSM state, for diagnostics.
func (l *Link) State() State {
	return l.state
}

// OnPairing registers the on_pairing callback.
func (l *Link) OnPairing(fn func()) { l.callbacks.OnPairing = fn }

// OnPaired registers the on_paired callback.
func (l *Link) OnPaired(fn func()) { l.callbacks.OnPaired = fn }

// OnConnected registers the on_connected callback.
func (l *Link) OnConnected(fn func()) { l.callbacks.OnConnected = fn }

// OnDisconnected registers the on_disconnected callback.
func (l *Link) OnDisconnected(fn func()) { l.callbacks.OnDisconnected = fn }

// OnMessageReceived registers the on_message_received callback, fired once
// per accepted inbound DATA frame.
func (l *Link) OnMessageReceived(fn func()) { l.callbacks.OnMessageReceived = fn }

func (l *Link) fire(fn func()) {
	if fn != nil {
		fn()
	}
}

func (l *Link) logTransition(to State) {
	log.Printf("fsm: %s -> %s", l.state, to)
	l.state = to
}
