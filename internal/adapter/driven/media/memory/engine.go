// Package mediamem is a scriptable stand-in for the external media engine.
// It records the join tuple it was handed and lets tests inject peer events
// and failures; no media flows anywhere.
package mediamem

import (
	"context"
	"errors"
	"sync"

	"github.com/duocall/duocall/internal/core/port"
)

type joinRecord struct {
	AppID   string
	Channel string
	Token   string
	UID     uint32
}

type Engine struct {
	mu        sync.Mutex
	joined    *joinRecord
	published bool

	// Scripted failures for the next Join/Publish.
	JoinErr    error
	PublishErr error

	events chan port.MediaEvent
}

func NewEngine() *Engine {
	return &Engine{events: make(chan port.MediaEvent, 16)}
}

func (e *Engine) Join(ctx context.Context, appID, channel, token string, uid uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.JoinErr != nil {
		return e.JoinErr
	}
	if e.joined != nil {
		return errors.New("already joined")
	}
	e.joined = &joinRecord{AppID: appID, Channel: channel, Token: token, UID: uid}
	return nil
}

func (e *Engine) Publish(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.PublishErr != nil {
		return e.PublishErr
	}
	if e.joined == nil {
		return errors.New("publish before join")
	}
	e.published = true
	return nil
}

func (e *Engine) Leave(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.joined = nil
	e.published = false
	return nil
}

func (e *Engine) Events() <-chan port.MediaEvent {
	return e.events
}

// Emit injects a remote-peer event, as the real engine would on its
// subscription callbacks.
func (e *Engine) Emit(ev port.MediaEvent) {
	e.events <- ev
}

// Channel reports the channel of the current join, empty when not joined.
func (e *Engine) Channel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.joined == nil {
		return ""
	}
	return e.joined.Channel
}

// JoinedUID reports the numeric uid of the current join.
func (e *Engine) JoinedUID() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.joined == nil {
		return 0, false
	}
	return e.joined.UID, true
}

// Published reports whether local tracks were published.
func (e *Engine) Published() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.published
}
