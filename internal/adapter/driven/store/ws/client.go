// Package wsstore implements the store port against the realtime store
// server's websocket protocol. One read loop dispatches replies to waiting
// requests and snapshots to local subscribers.
package wsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duocall/duocall/internal/core/domain"
	"github.com/duocall/duocall/internal/storewire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errClosed = errors.New("wsstore: connection closed")

const opTimeout = 5 * time.Second

type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan storewire.Response
	subs    map[int64]chan json.RawMessage
	closed  bool

	nextID atomic.Int64
	done   chan struct{}
}

// Dial connects to the store server, e.g. ws://host:9090/store.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial store: %w", err)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[int64]chan storewire.Response),
		subs:    make(map[int64]chan json.RawMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer c.teardown()
	for {
		var resp storewire.Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			return
		}
		if resp.Event == storewire.EventSnapshot {
			c.mu.Lock()
			ch, ok := c.subs[resp.Sub]
			c.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case ch <- resp.Value:
			default:
				log.Warn().Int64("sub", resp.Sub).Msg("subscriber not draining, dropping snapshot")
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.pending = nil
	c.mu.Unlock()

	close(c.done)
	for _, ch := range subs {
		close(ch)
	}
	c.conn.Close()
}

func (c *Client) request(ctx context.Context, req storewire.Request) (storewire.Response, error) {
	req.ID = c.nextID.Add(1)
	ch := make(chan storewire.Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return storewire.Response{}, errClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return storewire.Response{}, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, errors.New(resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return storewire.Response{}, ctx.Err()
	case <-c.done:
		return storewire.Response{}, errClosed
	}
}

func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.request(ctx, storewire.Request{Op: storewire.OpGet, Path: path})
	if err != nil {
		return nil, err
	}
	if isAbsent(resp.Value) {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}
	return resp.Value, nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, storewire.Request{Op: storewire.OpSet, Path: path, Value: data})
	return err
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, storewire.Request{Op: storewire.OpUpdate, Path: path, Value: data})
	return err
}

func (c *Client) Remove(ctx context.Context, path string) error {
	_, err := c.request(ctx, storewire.Request{Op: storewire.OpRemove, Path: path})
	return err
}

func (c *Client) Subscribe(ctx context.Context, path string) (<-chan json.RawMessage, error) {
	ch := make(chan json.RawMessage, 32)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errClosed
	}
	subID := c.nextID.Add(1)
	c.subs[subID] = ch
	c.mu.Unlock()

	_, err := c.request(ctx, storewire.Request{Op: storewire.OpSubscribe, Path: path, Sub: subID})
	if err != nil {
		c.mu.Lock()
		if c.subs != nil {
			delete(c.subs, subID)
		}
		c.mu.Unlock()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.subs != nil {
				if cur, ok := c.subs[subID]; ok {
					delete(c.subs, subID)
					close(cur)
				}
			}
			c.mu.Unlock()
			unsubCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			c.request(unsubCtx, storewire.Request{Op: storewire.OpUnsubscribe, Sub: subID})
		case <-c.done:
		}
	}()
	return ch, nil
}

func (c *Client) RemoveOnDisconnect(ctx context.Context, path string) error {
	_, err := c.request(ctx, storewire.Request{Op: storewire.OpOnDisconnect, Path: path})
	return err
}

// Close drops the connection; the server then runs any registered
// on-disconnect removals, same as for a crash.
func (c *Client) Close() error {
	c.teardown()
	return nil
}

func isAbsent(v json.RawMessage) bool {
	return len(v) == 0 || string(v) == "null"
}
