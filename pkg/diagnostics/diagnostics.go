// Package diagnostics periodically snapshots link state (FSM state, link
// quality, TX power, keepalive interval) and marshals it to CBOR, the same
// serialisation the teacher uses for its nRF52 command/event envelope
// (pkg/service/helpers.go, pkg/service/usock_handlers.go) — reused here for
// an out-of-band structured record, not for the core wire frames, since
// those keep the spec's exact fixed binary layout independently verified by
// CRC32.
package diagnostics

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/librescoot/m2mlink/pkg/debugstream"
)

// Snapshot is one periodic diagnostics record.
type Snapshot struct {
	State             string        `cbor:"state"`
	LinkQualityScore  int           `cbor:"link_quality_score"`
	SendQ             uint32        `cbor:"send_q"`
	EchoQ             uint32        `cbor:"echo_q"`
	TxPowerQuarterDBm int           `cbor:"tx_power_quarter_dbm"`
	KeepaliveInterval time.Duration `cbor:"keepalive_interval_ns"`
	RemoteAddr        [6]byte       `cbor:"remote_addr"`
}

// Marshal encodes a snapshot to CBOR, matching the teacher's
// cbor.Marshal(message) call in pkg/service/helpers.go.
func Marshal(s Snapshot) ([]byte, error) {
	b, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a snapshot, matching pkg/service/usock_handlers.go's
// cbor.Unmarshal(payload.Data, &msgData) call.
func Unmarshal(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("diagnostics: unmarshal: %w", err)
	}
	return s, nil
}

// Publisher writes a one-line text summary of each snapshot to a debug
// stream and publishes the snapshot's CBOR encoding on a Redis pub/sub
// channel, when Publish and Channel are set.
type Publisher struct {
	Debug   *debugstream.Stream
	Publish func(channel string, payload []byte) error
	Channel string
}

// Emit encodes and forwards one snapshot. Encoding or publish failures are
// logged to the debug stream, never fatal — diagnostics are best-effort.
func (p *Publisher) Emit(s Snapshot) {
	b, err := Marshal(s)
	if err != nil {
		if p.Debug != nil {
			p.Debug.Printf("diagnostics: %v", err)
		}
		return
	}
	if p.Debug != nil {
		p.Debug.Printf("diagnostics: state=%s score=%d tx=%d keepalive=%s",
			s.State, s.LinkQualityScore, s.TxPowerQuarterDBm, s.KeepaliveInterval)
	}
	if p.Publish != nil && p.Channel != "" {
		if err := p.Publish(p.Channel, b); err != nil && p.Debug != nil {
			p.Debug.Printf("diagnostics: publish failed: %v", err)
		}
	}
}
