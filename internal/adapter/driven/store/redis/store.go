// Package redisstore implements the store port on Redis. Paths become keys,
// change notifications ride pub/sub on the top path segment, and the
// on-disconnect rule is modelled as a TTL lease refreshed by a heartbeat:
// when the process dies the lease lapses and the record expires. A crashed
// client's records can therefore linger for up to one lease TTL before the
// store retracts them; that staleness window is the price of a store with
// no native disconnect hooks.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/duocall/duocall/internal/core/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	notifyPrefix = "kv:"

	// DefaultLeaseTTL bounds how long a dead client's records survive.
	DefaultLeaseTTL = 30 * time.Second
)

type Store struct {
	rdb      *redis.Client
	leaseTTL time.Duration

	mu     sync.Mutex
	leases map[string]context.CancelFunc
	closed bool
}

// Open connects to Redis at url (redis://host:port/db).
func Open(url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return New(rdb), nil
}

func New(rdb *redis.Client) *Store {
	return &Store{
		rdb:      rdb,
		leaseTTL: DefaultLeaseTTL,
		leases:   make(map[string]context.CancelFunc),
	}
}

// SetLeaseTTL tunes the disconnect staleness window. Call before any
// RemoveOnDisconnect registration.
func (s *Store) SetLeaseTTL(ttl time.Duration) {
	s.leaseTTL = ttl
}

func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	val, err := s.rdb.Get(ctx, path).Result()
	if err == nil {
		return json.RawMessage(val), nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}
	// No leaf; assemble the children of an interior path.
	children, err := s.childSnapshot(ctx, path)
	if err != nil {
		return nil, err
	}
	if children == nil {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}
	return children, nil
}

func (s *Store) childSnapshot(ctx context.Context, path string) (json.RawMessage, error) {
	prefix := path + "/"
	children := make(map[string]json.RawMessage)

	iter := s.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, key := range keys {
		str, ok := vals[i].(string)
		if !ok {
			continue // expired between scan and mget
		}
		seg := strings.TrimPrefix(key, prefix)
		if strings.IndexByte(seg, '/') >= 0 {
			// Deeper nesting is not assembled; the coordination layer
			// only reads two-level paths.
			continue
		}
		children[seg] = json.RawMessage(str)
	}
	if len(children) == 0 {
		return nil, nil
	}
	return json.Marshal(children)
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	// KeepTTL preserves a disconnect lease already attached to the key.
	if err := s.rdb.Set(ctx, path, data, redis.KeepTTL).Err(); err != nil {
		return err
	}
	return s.notify(ctx, path)
}

// Update merges fields into the object at path. Read-merge-write with no
// transaction: last write wins, matching the store's contract.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	obj := make(map[string]json.RawMessage)
	cur, err := s.rdb.Get(ctx, path).Result()
	if err == nil {
		if err := json.Unmarshal([]byte(cur), &obj); err != nil {
			return err
		}
	} else if !errors.Is(err, redis.Nil) {
		return err
	}
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		obj[k] = data
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, path, data, redis.KeepTTL).Err(); err != nil {
		return err
	}
	return s.notify(ctx, path)
}

func (s *Store) Remove(ctx context.Context, path string) error {
	s.stopLease(path)

	keys := []string{path}
	iter := s.rdb.Scan(ctx, 0, path+"/*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	return s.notify(ctx, path)
}

// Subscribe listens on the top segment's notification channel and
// re-reads the path on every change under it. Coarser than per-path
// notifications, but writers under one segment are few.
func (s *Store) Subscribe(ctx context.Context, path string) (<-chan json.RawMessage, error) {
	top := topSegment(path)
	pubsub := s.rdb.Subscribe(ctx, notifyPrefix+top)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan json.RawMessage, 32)
	go func() {
		defer close(out)
		defer pubsub.Close()

		emit := func() bool {
			snap, err := s.Get(ctx, path)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					log.Warn().Err(err).Str("path", path).Msg("snapshot read failed")
					return true
				}
				snap = json.RawMessage("null")
			}
			select {
			case out <- snap:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		msgs := pubsub.Channel()
		for {
			select {
			case _, ok := <-msgs:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RemoveOnDisconnect attaches a TTL lease to path and keeps it alive with a
// heartbeat. If the process stops heartbeating, the key expires and the
// record is retracted by Redis itself.
func (s *Store) RemoveOnDisconnect(ctx context.Context, path string) error {
	if err := s.rdb.Expire(ctx, path, s.leaseTTL).Err(); err != nil {
		return err
	}

	leaseCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return errors.New("redisstore: closed")
	}
	if old, ok := s.leases[path]; ok {
		old()
	}
	s.leases[path] = cancel
	s.mu.Unlock()

	interval := s.leaseTTL / 3
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.rdb.Expire(leaseCtx, path, s.leaseTTL).Err(); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("lease heartbeat failed")
				}
			case <-leaseCtx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *Store) stopLease(path string) {
	s.mu.Lock()
	if cancel, ok := s.leases[path]; ok {
		cancel()
		delete(s.leases, path)
	}
	s.mu.Unlock()
}

// Close stops heartbeats and lets the leases lapse; leased records expire
// within one TTL, which is this adapter's rendition of the disconnect rule.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, cancel := range s.leases {
		cancel()
	}
	s.leases = nil
	s.mu.Unlock()
	return nil
}

func (s *Store) notify(ctx context.Context, path string) error {
	return s.rdb.Publish(ctx, notifyPrefix+topSegment(path), path).Err()
}

func topSegment(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
