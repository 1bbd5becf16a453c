package service

import (
	"context"
	"encoding/json"

	"github.com/duocall/duocall/internal/core/domain"
	"github.com/duocall/duocall/internal/core/port"
	"github.com/rs/zerolog/log"
)

const callsPrefix = "calls"

func mailboxPath(id domain.UserID) string {
	return callsPrefix + "/" + id.String()
}

// CallMailbox delivers call invitations through a single-slot record per
// recipient. Last write wins: a second invite before the first is cleared
// silently replaces it, and the superseded caller is never told. A slot is
// written by callers and cleared only by its owner.
type CallMailbox struct {
	store port.Store
}

func NewCallMailbox(store port.Store) *CallMailbox {
	return &CallMailbox{store: store}
}

// Invite overwrites the callee's slot unconditionally. Fire-and-forget:
// there is no delivery acknowledgement.
func (m *CallMailbox) Invite(ctx context.Context, callee domain.UserID, inv domain.CallInvite) error {
	return m.store.Set(ctx, mailboxPath(callee), inv)
}

// Clear empties the owner's slot, on accept or decline. Idempotent.
func (m *CallMailbox) Clear(ctx context.Context, self domain.UserID) error {
	return m.store.Remove(ctx, mailboxPath(self))
}

// Watch streams the owner's slot: the invite when one lands, nil when the
// slot is cleared. Records failing boundary validation are dropped.
func (m *CallMailbox) Watch(ctx context.Context, self domain.UserID) (<-chan *domain.CallInvite, error) {
	raw, err := m.store.Subscribe(ctx, mailboxPath(self))
	if err != nil {
		return nil, err
	}
	out := make(chan *domain.CallInvite, 8)
	go func() {
		defer close(out)
		for snap := range raw {
			var inv *domain.CallInvite
			if err := json.Unmarshal(snap, &inv); err != nil {
				log.Warn().Err(err).Str("user_id", self.String()).Msg("malformed invite, skipping")
				continue
			}
			if inv != nil {
				if err := inv.Validate(); err != nil {
					log.Warn().Err(err).Str("user_id", self.String()).Msg("invalid invite, skipping")
					continue
				}
			}
			select {
			case out <- inv:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
