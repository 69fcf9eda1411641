package persist

import (
	"testing"

	"github.com/redis/go-redis/v9"
)

// TestReadUnboundWithoutServer exercises the "no pairing" fallback path: an
// unreachable Redis server must read back as Unbound, never as a propagated
// error, per §4.4/§7.
func TestReadUnboundWithoutServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()
	s := New(rdb, "m2mlink:pairing")
	if got := s.Read(); got.Bound {
		t.Fatalf("expected Unbound against an unreachable server, got %+v", got)
	}
}

func TestUnboundIsZeroValue(t *testing.T) {
	if Unbound.Bound {
		t.Fatal("Unbound sentinel must have Bound == false")
	}
	if Unbound != (RemotePeer{}) {
		t.Fatal("Unbound sentinel must be the zero value")
	}
}
