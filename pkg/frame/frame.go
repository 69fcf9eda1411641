// Package frame implements the m2mlink wire frame codec: the four frame
// types (pairing, pairing-ack, keepalive, data), their padding to a minimum
// size, and the trailing CRC32 that every frame on the wire carries.
//
// Layout (see SPEC_FULL.md §4.1):
//
//	[0]    type tag
//	[1]    expected comm channel (protocol frames) or field count (data)
//	[2..]  type-specific body
//	[tail] zero padding until length >= MinFrame
//	[tail+4] CRC32 of everything before it, big-endian
package frame

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/librescoot/m2mlink/pkg/linkerr"
)

// Wire constants, bit-exact with SPEC_FULL.md §6.
const (
	MaxFrame       = 250
	MinFrame       = 60
	PacketOverhead = 6
	MacLen         = 6
	KeyLen         = 16
	CRCLen         = 4
)

// Type is the one-byte frame type tag at offset 0.
type Type byte

const (
	TypePairing    Type = 0
	TypePairingAck Type = 1
	TypeKeepalive  Type = 2
	TypeData       Type = 3
)

func (t Type) String() string {
	switch t {
	case TypePairing:
		return "PAIRING"
	case TypePairingAck:
		return "PAIRING_ACK"
	case TypeKeepalive:
		return "KEEPALIVE"
	case TypeData:
		return "DATA"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// Pairing is the body of a PAIRING frame. Channel is the sender's proposed
// communication channel, carried in the frame's byte [1] ("expected
// communication channel" per SPEC_FULL.md §4.1) — the tie-break winner's
// Channel is what both sides adopt.
type Pairing struct {
	Channel    byte
	LocalAddr  [MacLen]byte
	PrimaryKey [KeyLen]byte
	LocalKey   [KeyLen]byte
	Name       string
}

// PairingAck is the body of a PAIRING_ACK frame.
type PairingAck struct {
	Channel    byte
	LocalAddr  [MacLen]byte
	RemoteAddr [MacLen]byte
	PrimaryKey [KeyLen]byte
	LocalKey   [KeyLen]byte
	Name       string
}

// Keepalive is the body of a KEEPALIVE frame. Channel is the sender's
// expected communication channel, carried in the frame's byte [1] like
// every other protocol frame (SPEC_FULL.md §4.1); receivers reject a
// keepalive whose Channel doesn't match their own commChannel.
type Keepalive struct {
	Channel                   byte
	LocalAddr                 [MacLen]byte
	RemoteAddr                [MacLen]byte
	LocalActivityTimestamp    uint32
	LastEchoedRemoteTimestamp uint32
	MinTxPower                byte
	CurrentTxPower            byte
	MaxTxPower                byte
}

// Data is the body of a DATA frame: a field count plus the raw record stream
// produced by pkg/record.Writer.
type Data struct {
	FieldCount byte
	Records    []byte
}

// Frame is a decoded wire frame; exactly one of the typed fields is non-nil,
// selected by Type.
type Frame struct {
	Type       Type
	Pairing    *Pairing
	PairingAck *PairingAck
	Keepalive  *Keepalive
	Data       *Data
}

func crc(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf)
}

func padAndSeal(buf []byte) []byte {
	for len(buf) < MinFrame {
		buf = append(buf, 0)
	}
	var trailer [CRCLen]byte
	binary.BigEndian.PutUint32(trailer[:], crc(buf))
	return append(buf, trailer[:]...)
}

// EncodePairing builds a PAIRING frame.
func EncodePairing(channel byte, localAddr [MacLen]byte, primaryKey, localKey [KeyLen]byte, name string) ([]byte, error) {
	if len(name) > 255 {
		return nil, fmt.Errorf("frame: name too long: %d bytes", len(name))
	}
	buf := make([]byte, 0, MaxFrame)
	buf = append(buf, byte(TypePairing), channel)
	buf = append(buf, localAddr[:]...)
	buf = append(buf, primaryKey[:]...)
	buf = append(buf, localKey[:]...)
	buf = append(buf, byte(len(name)))
	buf = append(buf, []byte(name)...)
	if len(buf)+CRCLen > MaxFrame {
		return nil, fmt.Errorf("frame: pairing frame too large: %d bytes", len(buf)+CRCLen)
	}
	return padAndSeal(buf), nil
}

// EncodePairingAck builds a PAIRING_ACK frame.
func EncodePairingAck(channel byte, localAddr, remoteAddr [MacLen]byte, primaryKey, localKey [KeyLen]byte, name string) ([]byte, error) {
	if len(name) > 255 {
		return nil, fmt.Errorf("frame: name too long: %d bytes", len(name))
	}
	buf := make([]byte, 0, MaxFrame)
	buf = append(buf, byte(TypePairingAck), channel)
	buf = append(buf, localAddr[:]...)
	buf = append(buf, remoteAddr[:]...)
	buf = append(buf, primaryKey[:]...)
	buf = append(buf, localKey[:]...)
	buf = append(buf, byte(len(name)))
	buf = append(buf, []byte(name)...)
	if len(buf)+CRCLen > MaxFrame {
		return nil, fmt.Errorf("frame: pairing-ack frame too large: %d bytes", len(buf)+CRCLen)
	}
	return padAndSeal(buf), nil
}

// EncodeKeepalive builds a KEEPALIVE frame.
func EncodeKeepalive(k Keepalive) ([]byte, error) {
	buf := make([]byte, 0, MinFrame)
	buf = append(buf, byte(TypeKeepalive), k.Channel)
	buf = append(buf, k.LocalAddr[:]...)
	buf = append(buf, k.RemoteAddr[:]...)
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], k.LocalActivityTimestamp)
	buf = append(buf, ts[:]...)
	binary.BigEndian.PutUint32(ts[:], k.LastEchoedRemoteTimestamp)
	buf = append(buf, ts[:]...)
	buf = append(buf, k.MinTxPower, k.CurrentTxPower, k.MaxTxPower)
	return padAndSeal(buf), nil
}

// EncodeData builds a DATA frame from a field count and the already-encoded
// record stream (see pkg/record).
func EncodeData(fieldCount byte, records []byte) ([]byte, error) {
	if 2+len(records)+CRCLen > MaxFrame {
		return nil, fmt.Errorf("frame: data frame too large: %d bytes", 2+len(records)+CRCLen)
	}
	buf := make([]byte, 0, MaxFrame)
	buf = append(buf, byte(TypeData), fieldCount)
	buf = append(buf, records...)
	return padAndSeal(buf), nil
}

// Decode validates and parses a wire frame. Any malformed input is reported
// with one of linkerr.ErrShortFrame, linkerr.ErrBadCRC or
// linkerr.ErrUnknownType; callers (the FSM) must drop the frame and leave
// state untouched on any of these, per SPEC_FULL.md §7.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < MinFrame+CRCLen {
		return nil, linkerr.ErrShortFrame
	}
	body := buf[:len(buf)-CRCLen]
	want := binary.BigEndian.Uint32(buf[len(buf)-CRCLen:])
	if crc(body) != want {
		return nil, linkerr.ErrBadCRC
	}

	switch Type(body[0]) {
	case TypePairing:
		p, err := decodePairing(body)
		if err != nil {
			return nil, err
		}
		return &Frame{Type: TypePairing, Pairing: p}, nil
	case TypePairingAck:
		p, err := decodePairingAck(body)
		if err != nil {
			return nil, err
		}
		return &Frame{Type: TypePairingAck, PairingAck: p}, nil
	case TypeKeepalive:
		k, err := decodeKeepalive(body)
		if err != nil {
			return nil, err
		}
		return &Frame{Type: TypeKeepalive, Keepalive: k}, nil
	case TypeData:
		return &Frame{Type: TypeData, Data: &Data{
			FieldCount: body[1],
			Records:    append([]byte(nil), body[2:]...),
		}}, nil
	default:
		return nil, linkerr.ErrUnknownType
	}
}

func decodePairing(body []byte) (*Pairing, error) {
	const headerLen = 2 + MacLen + KeyLen + KeyLen + 1
	if len(body) < headerLen {
		return nil, linkerr.ErrShortFrame
	}
	p := &Pairing{Channel: body[1]}
	off := 2
	copy(p.LocalAddr[:], body[off:off+MacLen])
	off += MacLen
	copy(p.PrimaryKey[:], body[off:off+KeyLen])
	off += KeyLen
	copy(p.LocalKey[:], body[off:off+KeyLen])
	off += KeyLen
	nameLen := int(body[off])
	off++
	if off+nameLen > len(body) {
		return nil, linkerr.ErrShortFrame
	}
	p.Name = string(body[off : off+nameLen])
	return p, nil
}

func decodePairingAck(body []byte) (*PairingAck, error) {
	const headerLen = 2 + MacLen + MacLen + KeyLen + KeyLen + 1
	if len(body) < headerLen {
		return nil, linkerr.ErrShortFrame
	}
	p := &PairingAck{Channel: body[1]}
	off := 2
	copy(p.LocalAddr[:], body[off:off+MacLen])
	off += MacLen
	copy(p.RemoteAddr[:], body[off:off+MacLen])
	off += MacLen
	copy(p.PrimaryKey[:], body[off:off+KeyLen])
	off += KeyLen
	copy(p.LocalKey[:], body[off:off+KeyLen])
	off += KeyLen
	nameLen := int(body[off])
	off++
	if off+nameLen > len(body) {
		return nil, linkerr.ErrShortFrame
	}
	p.Name = string(body[off : off+nameLen])
	return p, nil
}

func decodeKeepalive(body []byte) (*Keepalive, error) {
	const headerLen = 2 + MacLen + MacLen + 4 + 4 + 3
	if len(body) < headerLen {
		return nil, linkerr.ErrShortFrame
	}
	k := &Keepalive{Channel: body[1]}
	off := 2
	copy(k.LocalAddr[:], body[off:off+MacLen])
	off += MacLen
	copy(k.RemoteAddr[:], body[off:off+MacLen])
	off += MacLen
	k.LocalActivityTimestamp = binary.BigEndian.Uint32(body[off : off+4])
	off += 4
	k.LastEchoedRemoteTimestamp = binary.BigEndian.Uint32(body[off : off+4])
	off += 4
	k.MinTxPower = body[off]
	k.CurrentTxPower = body[off+1]
	k.MaxTxPower = body[off+2]
	return k, nil
}
