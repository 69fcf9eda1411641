// Package persist implements the non-volatile persistence adapter of
// SPEC_FULL.md §4.4 over a Redis hash, adapted from the teacher's
// pkg/redis/client.go HSet/HGet idiom: instead of scattering scooter
// telemetry fields across many hash keys, the four pairing fields (remote
// address, primary key, local key, remote name) live as four fields of one
// hash under a single fixed key.
package persist

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/librescoot/m2mlink/pkg/frame"
	"github.com/librescoot/m2mlink/pkg/linkerr"
)

// Field names within the hash.
const (
	FieldRemoteAddr = "remote_addr"
	FieldPrimaryKey = "primary_key"
	FieldLocalKey   = "local_key"
	FieldRemoteName = "remote_name"
)

// RemotePeer is the unbound-sentinel-or-populated result of Read, mirroring
// §4.4's "Read returns a populated RemotePeer on success and the unbound
// sentinel on failure".
type RemotePeer struct {
	Addr       [frame.MacLen]byte
	PrimaryKey [frame.KeyLen]byte
	LocalKey   [frame.KeyLen]byte
	RemoteName string
	Bound      bool
}

// Unbound is the sentinel returned by Read when no pairing is persisted.
var Unbound = RemotePeer{}

// Store is a Redis-hash backed implementation of the persistence adapter.
type Store struct {
	rdb *redis.Client
	key string
	ctx context.Context
}

// New wraps an existing go-redis client. key is the fixed hash key this
// adapter's four fields live under (e.g. "m2mlink:pairing").
func New(rdb *redis.Client, key string) *Store {
	return &Store{rdb: rdb, key: key, ctx: context.Background()}
}

// Read loads the persisted pairing. A missing hash, or any field failing to
// parse, is treated as "no pairing" per §4.4/§7 — persistence errors on read
// mean "no pairing", never a propagated error.
func (s *Store) Read() RemotePeer {
	vals, err := s.rdb.HGetAll(s.ctx, s.key).Result()
	if err != nil || len(vals) == 0 {
		return Unbound
	}

	addrHex, ok := vals[FieldRemoteAddr]
	if !ok {
		return Unbound
	}
	primHex, ok := vals[FieldPrimaryKey]
	if !ok {
		return Unbound
	}
	localHex, ok := vals[FieldLocalKey]
	if !ok {
		return Unbound
	}

	var p RemotePeer
	if err := decodeFixed(addrHex, p.Addr[:]); err != nil {
		return Unbound
	}
	if err := decodeFixed(primHex, p.PrimaryKey[:]); err != nil {
		return Unbound
	}
	if err := decodeFixed(localHex, p.LocalKey[:]); err != nil {
		return Unbound
	}
	p.RemoteName = vals[FieldRemoteName]
	p.Bound = true
	return p
}

func decodeFixed(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(dst) {
		return fmt.Errorf("persist: malformed field")
	}
	copy(dst, b)
	return nil
}

// Write commits all four fields in one pipelined round trip (a plain
// pipeline, not a MULTI/EXEC transaction). It returns
// linkerr.ErrPersistenceFailed on any failure; callers must not block
// reaching "connected" on this error, per §7.
func (s *Store) Write(p RemotePeer) error {
	pipe := s.rdb.Pipeline()
	pipe.HSet(s.ctx, s.key, FieldRemoteAddr, hex.EncodeToString(p.Addr[:]))
	pipe.HSet(s.ctx, s.key, FieldPrimaryKey, hex.EncodeToString(p.PrimaryKey[:]))
	pipe.HSet(s.ctx, s.key, FieldLocalKey, hex.EncodeToString(p.LocalKey[:]))
	pipe.HSet(s.ctx, s.key, FieldRemoteName, p.RemoteName)
	if _, err := pipe.Exec(s.ctx); err != nil {
		return fmt.Errorf("%w: %v", linkerr.ErrPersistenceFailed, err)
	}
	return nil
}

// Erase clears all four fields, done on reset_pairing.
func (s *Store) Erase() error {
	if err := s.rdb.HDel(s.ctx, s.key, FieldRemoteAddr, FieldPrimaryKey, FieldLocalKey, FieldRemoteName).Err(); err != nil {
		return fmt.Errorf("%w: %v", linkerr.ErrPersistenceFailed, err)
	}
	return nil
}
