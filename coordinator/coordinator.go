// Package coordinator defines the key/value + pub/sub substrate the rest
// of the mesh rendezvouses through. Two implementations satisfy this
// contract: memcoord (in-process, map+mutex, expiry checked at lookup) and natscoord
// (backed by a real NATS connection and JetStream key/value bucket).
package coordinator

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/HGet when a key or field does not exist.
var ErrNotFound = errors.New("coordinator: not found")

// Message is a single pub/sub delivery.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription is a live pub/sub subscription; Unsubscribe stops delivery.
type Subscription interface {
	Unsubscribe() error
}

// Event is delivered on the coordinator's status channel: connection
// state transitions the presence/health engines care about.
type Event struct {
	Kind string // "reconnecting", "warning", "end", "error"
	Err  error
}

// Batch accumulates a sequence of writes to submit as a single atomic
// execution, mirroring a pipelined MULTI/EXEC.
type Batch interface {
	Set(key, value string)
	SetEX(key, value string, ttl time.Duration)
	Del(key string)
	Expire(key string, ttl time.Duration)
	HSet(key, field, value string)
	HDel(key, field string)
	SAdd(key, member string)
	LPush(key, value string)
	LTrim(key string, start, stop int)
	Exec(ctx context.Context) error
}

// Coordinator is the full contract used by presence, discovery, the
// message bus and the queue engine.
type Coordinator interface {
	// Strings
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Hashes
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key, field string) error
	HKeys(ctx context.Context, key string) ([]string, error)

	// Sets
	SAdd(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Lists (queues)
	LPush(ctx context.Context, key, value string) error
	RPush(ctx context.Context, key, value string) error
	RPopLPush(ctx context.Context, src, dst string) (string, error)
	LRange(ctx context.Context, key string, start, stop int) ([]string, error)
	LRem(ctx context.Context, key string, value string) error
	LTrim(ctx context.Context, key string, start, stop int) error

	// Key scanning
	Keys(ctx context.Context, pattern string) ([]string, error)
	Scan(ctx context.Context, pattern string, count int) ([]string, error)

	// Atomic batch
	Multi() Batch

	// Pub/sub
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler func(Message)) (Subscription, error)

	// Duplicate opens a second logical connection sharing the same
	// backing servers, used by the bus's per-channel publisher pool.
	Duplicate() (Coordinator, error)

	// Events reports connection-state transitions.
	Events() <-chan Event

	Close() error
}
