package fsm

import (
	"sync"

	"github.com/librescoot/m2mlink/pkg/frame"
	"github.com/librescoot/m2mlink/pkg/persist"
)

// fakeDriver is an in-memory radio.Driver used to drive the FSM
// deterministically, the way pkg/gpio's fakes and blobstore's memBacking
// stand in for hardware in the other packages' tests.
type fakeDriver struct {
	mu sync.Mutex

	initErr      error
	channel      uint8
	maxTxPower   uint8
	primaryKey   [frame.KeyLen]byte
	peers        map[[frame.MacLen]byte]*[frame.KeyLen]byte
	broadcasts   [][]byte
	unicasts     [][]byte
	unicastErr   error
	autoConfirm  bool

	onTxConfirm func(addr [frame.MacLen]byte, ok bool)
	onReceive   func(addr [frame.MacLen]byte, payload []byte)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		peers:       make(map[[frame.MacLen]byte]*[frame.KeyLen]byte),
		maxTxPower:  80,
		autoConfirm: true,
	}
}

func (d *fakeDriver) Init(channel uint8) error {
	if d.initErr != nil {
		return d.initErr
	}
	d.channel = channel
	return nil
}

func (d *fakeDriver) SetChannel(channel uint8) error { d.channel = channel; return nil }
func (d *fakeDriver) Channel() uint8                 { return d.channel }
func (d *fakeDriver) SetMaxTxPower(q uint8) error     { d.maxTxPower = q; return nil }
func (d *fakeDriver) MaxTxPower() uint8               { return d.maxTxPower }

func (d *fakeDriver) SetPrimaryKey(key [frame.KeyLen]byte) error {
	d.primaryKey = key
	return nil
}

func (d *fakeDriver) RegisterPeer(addr [frame.MacLen]byte, channel uint8, key *[frame.KeyLen]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[addr] = key
	return nil
}

func (d *fakeDriver) DeregisterPeer(addr [frame.MacLen]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, addr)
	return nil
}

func (d *fakeDriver) Broadcast(payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := append([]byte(nil), payload...)
	d.broadcasts = append(d.broadcasts, cp)
	return nil
}

func (d *fakeDriver) Unicast(addr [frame.MacLen]byte, payload []byte) error {
	if d.unicastErr != nil {
		return d.unicastErr
	}
	d.mu.Lock()
	cp := append([]byte(nil), payload...)
	d.unicasts = append(d.unicasts, cp)
	confirm := d.onTxConfirm
	auto := d.autoConfirm
	d.mu.Unlock()
	if auto && confirm != nil {
		confirm(addr, true)
	}
	return nil
}

func (d *fakeDriver) OnTxConfirm(fn func(addr [frame.MacLen]byte, ok bool)) {
	d.onTxConfirm = fn
}

func (d *fakeDriver) OnReceive(fn func(addr [frame.MacLen]byte, payload []byte)) {
	d.onReceive = fn
}

// deliver feeds a raw wire frame into the driver's receive callback, as if
// it had arrived from addr over the air.
func (d *fakeDriver) deliver(addr [frame.MacLen]byte, payload []byte) {
	if d.onReceive != nil {
		d.onReceive(addr, payload)
	}
}

// lastBroadcast returns the most recently broadcast frame, or nil.
func (d *fakeDriver) lastBroadcast() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.broadcasts) == 0 {
		return nil
	}
	return d.broadcasts[len(d.broadcasts)-1]
}

// fakePersistence is an in-memory Persistence, standing in for pkg/persist
// or pkg/persist/blobstore in tests.
type fakePersistence struct {
	peer     persist.RemotePeer
	eraseErr error
}

func (p *fakePersistence) Read() persist.RemotePeer { return p.peer }

func (p *fakePersistence) Write(peer persist.RemotePeer) error {
	p.peer = peer
	return nil
}

func (p *fakePersistence) Erase() error {
	if p.eraseErr != nil {
		return p.eraseErr
	}
	p.peer = persist.Unbound
	return nil
}
