// Package rediskv implements ports.KVStore over Redis, grounded on
// intelligencedev-manifold's internal/skills redis_cache.go (Get/Set/Delete,
// SCAN-based prefix enumeration) and internal/workspaces redis_cache.go
// (Publish/Subscribe via a forwarding goroutine over *redis.PubSub).
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
)

// Store implements ports.KVStore over a single Redis client.
type Store struct {
	client *redis.Client
}

// Config holds Redis connection settings (§10.2).
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New builds a Store and verifies connectivity with a Ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediskv: ping: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ ports.KVStore = (*Store)(nil)

// Get returns the value stored at key, and false if it is absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rediskv: get %q: %w", key, err)
	}
	return val, true, nil
}

// Set stores value at key, with an optional TTL (0 meaning no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttlSeconds int) error {
	ttl := time.Duration(ttlSeconds) * time.Second
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("rediskv: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key, which is a no-op if the key does not exist.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("rediskv: delete %q: %w", key, err)
	}
	return nil
}

// ScanPrefix enumerates every key beginning with prefix via a cursor-based
// SCAN, avoiding KEYS' O(n) blocking behavior on a live instance.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("rediskv: scan %q: %w", prefix, err)
	}
	return keys, nil
}

// Publish sends payload on topic to any active subscribers (§6.3).
func (s *Store) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := s.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("rediskv: publish %q: %w", topic, err)
	}
	return nil
}

// Subscribe opens a subscription on topic. The returned channel receives each
// message's raw payload; the cancel func closes the subscription and the
// channel. Messages are forwarded non-blockingly: a slow consumer drops
// messages rather than stalling the Redis client's read loop.
func (s *Store) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	sub := s.client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("rediskv: subscribe %q: %w", topic, err)
	}

	out := make(chan []byte, 16)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = sub.Close()
	}
	return out, cancel, nil
}
