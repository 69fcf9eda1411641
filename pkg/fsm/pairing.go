package fsm

import "github.com/librescoot/m2mlink/pkg/frame"

// completePairing satisfies §4.8's "Pairing completion criteria": the
// primary key is installed as the group key (if encryption is enabled) and
// the remote peer is registered on the communication channel, with the
// local key if encrypted.
func (l *Link) completePairing() error {
	if err := l.driver.SetChannel(l.commChannel); err != nil {
		return err
	}
	if l.encryptionEnabled {
		if err := l.driver.SetPrimaryKey(l.primaryKey); err != nil {
			return err
		}
	}
	var keyPtr *[frame.KeyLen]byte
	if l.encryptionEnabled {
		k := [frame.KeyLen]byte(l.localKey)
		keyPtr = &k
	}
	return l.driver.RegisterPeer(l.remote.Addr, l.commChannel, keyPtr)
}
