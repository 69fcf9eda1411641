// Package blobstore implements the raw byte-addressable persistence layout
// of spec.md §6 over anything shaped like io.ReaderAt/io.WriterAt — a
// memory-mapped file, a raw flash region, or (in tests) a plain in-memory
// buffer. Grounded on the same Get/Set idiom as the teacher's
// pkg/redis/client.go, adapted from hash fields to fixed byte offsets.
package blobstore

import (
	"hash/crc32"
	"io"

	"github.com/librescoot/m2mlink/pkg/frame"
	"github.com/librescoot/m2mlink/pkg/persist"
)

// Layout offsets, spec.md §6: address(6) | primary key(16) | local key(16) | CRC32 big-endian(4).
const (
	offsetAddr       = 0
	offsetPrimaryKey = offsetAddr + frame.MacLen
	offsetLocalKey   = offsetPrimaryKey + frame.KeyLen
	offsetCRC        = offsetLocalKey + frame.KeyLen
	RecordSize       = offsetCRC + 4
)

// ReaderWriterAt is the minimal backing surface this adapter needs.
type ReaderWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Store is a blobstore-backed persistence adapter.
type Store struct {
	backing ReaderWriterAt
}

// New wraps a backing store. The first RecordSize bytes of backing are used.
func New(backing ReaderWriterAt) *Store {
	return &Store{backing: backing}
}

// Read loads and validates the 42-byte record. A short read or CRC mismatch
// is "no pairing", per §4.4/§7.
func (s *Store) Read() persist.RemotePeer {
	buf := make([]byte, RecordSize)
	n, err := s.backing.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return persist.Unbound
	}
	if n < RecordSize {
		return persist.Unbound
	}

	want := crc32.ChecksumIEEE(buf[:offsetCRC])
	got := uint32(buf[offsetCRC])<<24 | uint32(buf[offsetCRC+1])<<16 | uint32(buf[offsetCRC+2])<<8 | uint32(buf[offsetCRC+3])
	if got != want {
		return persist.Unbound
	}

	var p persist.RemotePeer
	copy(p.Addr[:], buf[offsetAddr:offsetAddr+frame.MacLen])
	copy(p.PrimaryKey[:], buf[offsetPrimaryKey:offsetPrimaryKey+frame.KeyLen])
	copy(p.LocalKey[:], buf[offsetLocalKey:offsetLocalKey+frame.KeyLen])
	p.Bound = true
	return p
}

// Write commits the record with a freshly computed CRC32 trailer. This
// backend has no field for RemoteName; it is dropped on this layout, exactly
// as spec.md §6's 42-byte record defines it.
func (s *Store) Write(p persist.RemotePeer) error {
	buf := make([]byte, RecordSize)
	copy(buf[offsetAddr:], p.Addr[:])
	copy(buf[offsetPrimaryKey:], p.PrimaryKey[:])
	copy(buf[offsetLocalKey:], p.LocalKey[:])

	sum := crc32.ChecksumIEEE(buf[:offsetCRC])
	buf[offsetCRC] = byte(sum >> 24)
	buf[offsetCRC+1] = byte(sum >> 16)
	buf[offsetCRC+2] = byte(sum >> 8)
	buf[offsetCRC+3] = byte(sum)

	_, err := s.backing.WriteAt(buf, 0)
	return err
}

// Erase overwrites the record with zero bytes, which fail the CRC check and
// therefore read back as "no pairing".
func (s *Store) Erase() error {
	_, err := s.backing.WriteAt(make([]byte, RecordSize), 0)
	return err
}
