package service

import (
	"context"
	"testing"
	"time"

	memstore "github.com/duocall/duocall/internal/adapter/driven/store/memory"
	"github.com/duocall/duocall/internal/core/domain"
)

func TestInviteOverwritesSlot(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mbox := NewCallMailbox(backend.Connect())

	first := domain.CallInvite{CallerID: "alice", CallerName: "Alice", Channel: "call-alice-bob"}
	second := domain.CallInvite{CallerID: "carol", CallerName: "Carol", Channel: "call-bob-carol"}

	if err := mbox.Invite(ctx, "bob", first); err != nil {
		t.Fatal(err)
	}
	// A later caller silently replaces the slot; the first caller is
	// never told.
	if err := mbox.Invite(ctx, "bob", second); err != nil {
		t.Fatal(err)
	}

	invites, err := mbox.Watch(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	inv := waitInvite(t, invites, func(i *domain.CallInvite) bool { return i != nil })
	if inv.CallerID != "carol" {
		t.Errorf("slot holds %q, want the superseding invite from carol", inv.CallerID)
	}
}

func TestClearIdempotent(t *testing.T) {
	backend := memstore.NewBackend()
	ctx := context.Background()

	mbox := NewCallMailbox(backend.Connect())
	inv := domain.CallInvite{CallerID: "alice", CallerName: "Alice", Channel: "call-alice-bob"}
	if err := mbox.Invite(ctx, "bob", inv); err != nil {
		t.Fatal(err)
	}
	if err := mbox.Clear(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := mbox.Clear(ctx, "bob"); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestWatchEmitsNilOnClear(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mbox := NewCallMailbox(backend.Connect())
	invites, err := mbox.Watch(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}

	// Initial state: empty slot.
	if inv := recvInvite(t, invites); inv != nil {
		t.Errorf("expected empty slot, got %+v", inv)
	}

	mbox.Invite(ctx, "bob", domain.CallInvite{CallerID: "alice", Channel: "call-alice-bob"})
	if inv := recvInvite(t, invites); inv == nil || inv.CallerID != "alice" {
		t.Errorf("got %+v", inv)
	}

	mbox.Clear(ctx, "bob")
	if inv := recvInvite(t, invites); inv != nil {
		t.Errorf("expected nil after clear, got %+v", inv)
	}
}

func recvInvite(t *testing.T, ch <-chan *domain.CallInvite) *domain.CallInvite {
	t.Helper()
	select {
	case inv, ok := <-ch:
		if !ok {
			t.Fatal("invite channel closed")
		}
		return inv
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invite")
		return nil
	}
}

func waitInvite(t *testing.T, ch <-chan *domain.CallInvite, ok func(*domain.CallInvite) bool) *domain.CallInvite {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case inv, open := <-ch:
			if !open {
				t.Fatal("invite channel closed")
			}
			if ok(inv) {
				return inv
			}
		case <-deadline:
			t.Fatal("timed out waiting for invite condition")
			return nil
		}
	}
}
