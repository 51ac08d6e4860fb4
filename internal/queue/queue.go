// Package queue publishes accepted beacons onto a Redis list for downstream consumers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrEmpty is returned by Pop when no message arrives before the timeout.
var ErrEmpty = errors.New("queue empty")

// QueuedBeacon is the msgpack message pushed for every accepted beacon.
// Body is the JSON-encoded beacon.
type QueuedBeacon struct {
	RequestID  string `msgpack:"request_id"`
	Source     string `msgpack:"source"`
	AgentID    string `msgpack:"agent_id,omitempty"`
	ReceivedMs int64  `msgpack:"received_ms"`
	Records    int    `msgpack:"records"`
	Body       []byte `msgpack:"body"`
}

// Publisher pushes beacons onto a Redis list.
type Publisher struct {
	rdb *redis.Client
	key string
}

// New wraps an existing client.
func New(rdb *redis.Client, key string) *Publisher {
	return &Publisher{rdb: rdb, key: key}
}

// Dial parses a redis:// URL and verifies the server is reachable.
func Dial(ctx context.Context, url, key string) (*Publisher, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis %s: %w", opt.Addr, err)
	}
	return New(rdb, key), nil
}

// Key returns the list the publisher writes to.
func (p *Publisher) Key() string {
	return p.key
}

// Publish appends msg to the tail of the list.
func (p *Publisher) Publish(ctx context.Context, msg QueuedBeacon) error {
	data, err := msgpack.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("marshaling queued beacon: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.key, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.key, err)
	}
	return nil
}

// Pop removes the oldest message, blocking up to timeout. It returns
// ErrEmpty when nothing arrives in time.
func (p *Publisher) Pop(ctx context.Context, timeout time.Duration) (*QueuedBeacon, error) {
	res, err := p.rdb.BLPop(ctx, timeout, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("popping from %s: %w", p.key, err)
	}

	// res is [key, value]
	var msg QueuedBeacon
	if err := msgpack.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling queued beacon: %w", err)
	}
	return &msg, nil
}

// Len returns the number of queued messages.
func (p *Publisher) Len(ctx context.Context) (int64, error) {
	return p.rdb.LLen(ctx, p.key).Result()
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
