// Package memstore is an in-memory realtime key-value tree with the same
// contract as the remote store: last-write-wins values under slash paths,
// snapshot subscriptions, and per-connection disconnect cleanup. It backs
// the store server and every test that needs a store with no network.
package memstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

var nullValue = json.RawMessage("null")

type subscriber struct {
	path string
	ch   chan json.RawMessage
}

// Backend is the shared path tree. Connections obtained via Connect share
// it the way independent clients share the remote store.
type Backend struct {
	mu      sync.Mutex
	leaves  map[string]json.RawMessage
	subs    map[int64]*subscriber
	nextSub int64
}

func NewBackend() *Backend {
	return &Backend{
		leaves: make(map[string]json.RawMessage),
		subs:   make(map[int64]*subscriber),
	}
}

// Get returns the snapshot at path, or nil when nothing exists there.
func (b *Backend) Get(path string) json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(path)
}

func (b *Backend) Set(path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeSubtreeLocked(path)
	b.leaves[path] = data
	b.notifyLocked(path)
	return nil
}

// Update merges fields into the object at path, creating it when absent.
func (b *Backend) Update(path string, fields map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj := make(map[string]json.RawMessage)
	if cur, ok := b.leaves[path]; ok {
		if err := json.Unmarshal(cur, &obj); err != nil {
			return err
		}
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
	b.leaves[path] = data
	b.notifyLocked(path)
	return nil
}

// Remove deletes path and its subtree. Removing an absent path is a no-op
// and emits no snapshots.
func (b *Backend) Remove(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	changed := false
	if _, ok := b.leaves[path]; ok {
		delete(b.leaves, path)
		changed = true
	}
	if b.removeSubtreeLocked(path) {
		changed = true
	}
	if changed {
		b.notifyLocked(path)
	}
}

// Subscribe registers a snapshot stream for path. The current value (null
// when absent) is delivered immediately.
func (b *Backend) Subscribe(path string) (int64, <-chan json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	s := &subscriber{path: path, ch: make(chan json.RawMessage, 32)}
	b.subs[id] = s
	s.ch <- b.snapshotOrNullLocked(path)
	return id, s.ch
}

func (b *Backend) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.ch)
	}
}

func (b *Backend) removeSubtreeLocked(path string) bool {
	prefix := path + "/"
	removed := false
	for k := range b.leaves {
		if strings.HasPrefix(k, prefix) {
			delete(b.leaves, k)
			removed = true
		}
	}
	return removed
}

func (b *Backend) snapshotOrNullLocked(path string) json.RawMessage {
	if v := b.snapshotLocked(path); v != nil {
		return v
	}
	return nullValue
}

// snapshotLocked assembles the value at path: the leaf itself, or an object
// of child segments when the path is interior.
func (b *Backend) snapshotLocked(path string) json.RawMessage {
	if v, ok := b.leaves[path]; ok {
		return v
	}
	prefix := path + "/"
	segs := make(map[string]bool)
	for k := range b.leaves {
		if strings.HasPrefix(k, prefix) {
			rest := k[len(prefix):]
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[:i]
			}
			segs[rest] = true
		}
	}
	if len(segs) == 0 {
		return nil
	}
	children := make(map[string]json.RawMessage, len(segs))
	for seg := range segs {
		children[seg] = b.snapshotLocked(path + "/" + seg)
	}
	data, err := json.Marshal(children)
	if err != nil {
		return nil
	}
	return data
}

func (b *Backend) notifyLocked(changed string) {
	for _, s := range b.subs {
		if !pathAffects(changed, s.path) {
			continue
		}
		select {
		case s.ch <- b.snapshotOrNullLocked(s.path):
		default:
			// Subscriber is not draining; drop rather than block writers.
		}
	}
}

func pathAffects(changed, sub string) bool {
	return changed == sub ||
		strings.HasPrefix(changed, sub+"/") ||
		strings.HasPrefix(sub, changed+"/")
}

// Conn is one client's view of the backend. It implements port.Store and
// carries the disconnect cleanup registered by that client; Close plays the
// role of the connection dropping.
type Conn struct {
	b       *Backend
	mu      sync.Mutex
	cleanup []string
	subIDs  map[int64]struct{}
	closed  bool
}

func (b *Backend) Connect() *Conn {
	return &Conn{b: b, subIDs: make(map[int64]struct{})}
}

func (c *Conn) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if v := c.b.Get(path); v != nil {
		return v, nil
	}
	return nil, notFound(path)
}

func (c *Conn) Set(ctx context.Context, path string, value any) error {
	return c.b.Set(path, value)
}

func (c *Conn) Update(ctx context.Context, path string, fields map[string]any) error {
	return c.b.Update(path, fields)
}

func (c *Conn) Remove(ctx context.Context, path string) error {
	c.b.Remove(path)
	return nil
}

func (c *Conn) Subscribe(ctx context.Context, path string) (<-chan json.RawMessage, error) {
	id, ch := c.b.Subscribe(path)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.b.Unsubscribe(id)
		return nil, errClosed
	}
	c.subIDs[id] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subIDs, id)
		c.mu.Unlock()
		c.b.Unsubscribe(id)
	}()
	return ch, nil
}

func (c *Conn) RemoveOnDisconnect(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	c.cleanup = append(c.cleanup, path)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cleanup := c.cleanup
	subs := make([]int64, 0, len(c.subIDs))
	for id := range c.subIDs {
		subs = append(subs, id)
	}
	c.mu.Unlock()

	for _, path := range cleanup {
		c.b.Remove(path)
	}
	for _, id := range subs {
		c.b.Unsubscribe(id)
	}
	return nil
}
