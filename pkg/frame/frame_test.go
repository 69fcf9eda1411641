package frame

import (
	"bytes"
	"testing"

	"github.com/librescoot/m2mlink/pkg/linkerr"
)

func addr(b byte) [MacLen]byte {
	var a [MacLen]byte
	for i := range a {
		a[i] = b
	}
	return a
}

func key(b byte) [KeyLen]byte {
	var k [KeyLen]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestPairingRoundTrip(t *testing.T) {
	wire, err := EncodePairing(7, addr(0xAA), key(0x11), key(0x22), "scooter")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(wire) < MinFrame+CRCLen {
		t.Fatalf("frame shorter than minimum: %d", len(wire))
	}
	f, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != TypePairing {
		t.Fatalf("type = %v, want PAIRING", f.Type)
	}
	if f.Pairing.LocalAddr != addr(0xAA) || f.Pairing.PrimaryKey != key(0x11) || f.Pairing.LocalKey != key(0x22) {
		t.Fatalf("pairing body mismatch: %+v", f.Pairing)
	}
	if f.Pairing.Channel != 7 {
		t.Fatalf("channel = %d, want 7", f.Pairing.Channel)
	}
	if f.Pairing.Name != "scooter" {
		t.Fatalf("name = %q", f.Pairing.Name)
	}
}

func TestPairingAckRoundTrip(t *testing.T) {
	wire, err := EncodePairingAck(7, addr(0xAA), addr(0xBB), key(0x11), key(0x22), "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.PairingAck.LocalAddr != addr(0xAA) || f.PairingAck.RemoteAddr != addr(0xBB) {
		t.Fatalf("addr mismatch: %+v", f.PairingAck)
	}
}

func TestKeepaliveRoundTrip(t *testing.T) {
	want := Keepalive{
		Channel:                   6,
		LocalAddr:                 addr(0xAA),
		RemoteAddr:                addr(0xBB),
		LocalActivityTimestamp:    123456,
		LastEchoedRemoteTimestamp: 654321,
		MinTxPower:                9,
		CurrentTxPower:            40,
		MaxTxPower:                80,
	}
	wire, err := EncodeKeepalive(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *f.Keepalive != want {
		t.Fatalf("keepalive = %+v, want %+v", *f.Keepalive, want)
	}
}

func TestDataRoundTrip(t *testing.T) {
	records := []byte{0x02, 0x07}
	wire, err := EncodeData(1, records)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Data.FieldCount != 1 || !bytes.Equal(f.Data.Records, records) {
		t.Fatalf("data = %+v", f.Data)
	}
}

func TestShortFrameRejected(t *testing.T) {
	for n := 0; n < MinFrame+CRCLen; n++ {
		if _, err := Decode(make([]byte, n)); err != linkerr.ErrShortFrame {
			t.Fatalf("len %d: err = %v, want ErrShortFrame", n, err)
		}
	}
}

func TestBadCRCRejected(t *testing.T) {
	wire, err := EncodeKeepalive(Keepalive{LocalAddr: addr(1), RemoteAddr: addr(2)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wire[len(wire)-1] ^= 0x01
	if _, err := Decode(wire); err != linkerr.ErrBadCRC {
		t.Fatalf("err = %v, want ErrBadCRC", err)
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	buf := make([]byte, MinFrame)
	buf[0] = 0x7F
	wire := padAndSeal(buf[:2])
	if _, err := Decode(wire); err != linkerr.ErrUnknownType {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}
