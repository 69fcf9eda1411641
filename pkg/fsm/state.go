package fsm

// State is one of the six live states of SPEC_FULL.md §4.8, plus the two
// placeholder symbols retained only for enum compatibility and never
// entered (spec.md's Open Question c).
type State int

const (
	StateUninitialised State = iota
	StateInitialised
	stateStarted   // placeholder; unreachable
	stateScanning  // placeholder; unreachable
	StatePairing
	StatePaired
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateInitialised:
		return "initialised"
	case stateStarted:
		return "started"
	case stateScanning:
		return "scanning"
	case StatePairing:
		return "pairing"
	case StatePaired:
		return "paired"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Callbacks holds the host's registered event handlers, §6's "Callback
// registration for: on_pairing, on_paired, on_connected, on_disconnected,
// on_message_received". Any unset handler is simply not invoked.
type Callbacks struct {
	OnPairing         func()
	OnPaired          func()
	OnConnected       func()
	OnDisconnected    func()
	OnMessageReceived func()
}
