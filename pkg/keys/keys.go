// Package keys generates and clears the primary (group) and local (per-peer)
// encryption keys used by the radio adapter, per SPEC_FULL.md §4.3.
package keys

import (
	"crypto/rand"

	"github.com/librescoot/m2mlink/pkg/frame"
)

// Key is a 16-byte symmetric key.
type Key [frame.KeyLen]byte

// Manager fills and clears keys from a platform entropy source. The zero
// value reads from crypto/rand, which is the non-deterministic source every
// target build of this module (Linux/embedded-Linux hosts) actually has
// available; no third-party RNG is used anywhere in the example corpus, so
// there is nothing to adopt in its place.
type Manager struct {
	// Entropy, if set, overrides crypto/rand.Read — used by tests to make
	// key generation deterministic.
	Entropy func([]byte) (int, error)
}

func (m *Manager) read(buf []byte) error {
	fn := m.Entropy
	if fn == nil {
		fn = rand.Read
	}
	_, err := fn(buf)
	return err
}

// Generate produces a fresh primary key and local key.
func (m *Manager) Generate() (primary, local Key, err error) {
	if err = m.read(primary[:]); err != nil {
		return
	}
	err = m.read(local[:])
	return
}

// Clear returns the all-zero sentinel key pair, used when encryption is
// disabled.
func Clear() (primary, local Key) {
	return Key{}, Key{}
}

// IsZero reports whether k is the all-zero sentinel.
func (k Key) IsZero() bool {
	return k == Key{}
}
