package diagnostics

import (
	"errors"
	"testing"
	"time"

	"github.com/librescoot/m2mlink/pkg/debugstream"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	want := Snapshot{
		State:             "connected",
		LinkQualityScore:  29,
		SendQ:             0xFFFF0000,
		EchoQ:             0xFFFF0000,
		TxPowerQuarterDBm: 40,
		KeepaliveInterval: 500 * time.Millisecond,
		RemoteAddr:        [6]byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB},
	}
	b, err := Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestEmitPublishesEncodedSnapshot(t *testing.T) {
	var published []byte
	var channel string
	p := &Publisher{
		Debug: debugstream.Discard,
		Publish: func(ch string, payload []byte) error {
			channel = ch
			published = payload
			return nil
		},
		Channel: "m2mlink:diagnostics",
	}
	p.Emit(Snapshot{State: "paired"})
	if channel != "m2mlink:diagnostics" {
		t.Fatalf("channel = %q", channel)
	}
	got, err := Unmarshal(published)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != "paired" {
		t.Fatalf("state = %q", got.State)
	}
}

func TestEmitSurvivesPublishFailure(t *testing.T) {
	p := &Publisher{
		Debug:   debugstream.Discard,
		Channel: "x",
		Publish: func(string, []byte) error { return errors.New("boom") },
	}
	p.Emit(Snapshot{State: "disconnected"})
}
