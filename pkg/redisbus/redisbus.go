// Package redisbus is the host-integration layer of SPEC_FULL.md's
// supplemented DOMAIN STACK: it mirrors link state into a Redis hash,
// publishes change notifications, watches a command list for host-issued
// actions (CommandResetPairing is the only command defined; there is no
// send-message command), and carries the diagnostics
// channel pkg/diagnostics publishes onto. It is adapted from the teacher's
// pkg/redis/client.go Client wrapper (HSet/HGet/Publish/Subscribe/LPush/
// BRPop) generalized from scooter-telemetry keys to m2mlink's own key
// space, the same way pkg/service/redis_handlers.go layers command
// dispatch on top of that client.
package redisbus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key names in m2mlink's Redis key space.
const (
	KeyStatus      = "m2mlink"
	KeyCommands    = "m2mlink:commands"
	KeyDiagnostics = "m2mlink:diagnostics"
)

// Status hash field names under KeyStatus.
const (
	FieldState       = "state"
	FieldConnected   = "connected"
	FieldLinkQuality = "link-quality"
	FieldRemoteName  = "remote-name"
)

// Commands accepted on the KeyCommands list, pushed by a host process via
// LPUSH and drained here with BRPOP, mirroring the teacher's
// WatchRedisCommands loop.
const (
	CommandResetPairing = "reset-pairing"
)

// Bus wraps a go-redis client with m2mlink's status/command/diagnostics
// conventions.
type Bus struct {
	client *redis.Client
	ctx    context.Context
}

// New connects to addr and pings it, matching the teacher's New's
// connect-then-ping pattern.
func New(addr, password string, db int) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisbus: connect: %w", err)
	}
	return &Bus{client: client, ctx: ctx}, nil
}

// Close closes the underlying client.
func (b *Bus) Close() error {
	return b.client.Close()
}

// Client returns the underlying go-redis client, so other adapters sharing
// this connection (pkg/persist's Redis-hash pairing store) don't need a
// second connection to the same server.
func (b *Bus) Client() *redis.Client {
	return b.client
}

// PublishStatus writes the current link status to the status hash and
// publishes one "state:<state>" notification on the KeyStatus channel on
// every call, mirroring the teacher's WriteAndPublishString pipeline (HSet +
// Publish in one round trip).
func (b *Bus) PublishStatus(state string, connected bool, linkQuality uint32, remoteName string) error {
	pipe := b.client.Pipeline()
	pipe.HSet(b.ctx, KeyStatus, map[string]interface{}{
		FieldState:       state,
		FieldConnected:    connected,
		FieldLinkQuality: linkQuality,
		FieldRemoteName:  remoteName,
	})
	pipe.Publish(b.ctx, KeyStatus, FieldState+":"+state)
	_, err := pipe.Exec(b.ctx)
	if err != nil {
		return fmt.Errorf("redisbus: publish status: %w", err)
	}
	return nil
}

// PublishDiagnostics satisfies diagnostics.Publisher's Publish field
// signature: a raw byte payload published to a named channel.
func (b *Bus) PublishDiagnostics(channel string, payload []byte) error {
	return b.client.Publish(b.ctx, channel, payload).Err()
}

// WatchCommands blocks, draining KeyCommands with BRPOP and invoking
// onCommand for each entry, until stop is closed. Unknown commands are
// logged and ignored, matching the teacher's "Unknown command received"
// handling in WatchRedisCommands.
func (b *Bus) WatchCommands(stop <-chan struct{}, onCommand func(cmd string)) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		result, err := b.client.BRPop(b.ctx, 1*time.Second, KeyCommands).Result()
		if err != nil {
			if err != redis.Nil {
				log.Printf("redisbus: brpop %s: %v", KeyCommands, err)
				time.Sleep(time.Second)
			}
			continue
		}
		if len(result) != 2 {
			log.Printf("redisbus: unexpected brpop result: %v", result)
			continue
		}
		onCommand(result[1])
	}
}
