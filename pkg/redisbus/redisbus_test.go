package redisbus

import "testing"

func TestNewFailsWithoutServer(t *testing.T) {
	// 127.0.0.1:1 refuses immediately; New must surface the ping failure
	// rather than return a Bus that silently can't talk to Redis.
	if _, err := New("127.0.0.1:1", "", 0); err == nil {
		t.Fatal("expected New to fail against an unreachable address")
	}
}

func TestCommandConstants(t *testing.T) {
	if CommandResetPairing != "reset-pairing" {
		t.Fatalf("CommandResetPairing = %q", CommandResetPairing)
	}
}
