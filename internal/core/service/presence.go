package service

import (
	"context"
	"encoding/json"

	"github.com/duocall/duocall/internal/core/domain"
	"github.com/duocall/duocall/internal/core/port"
	"github.com/rs/zerolog/log"
)

const presencePrefix = "onlineUsers"

func presencePath(id domain.UserID) string {
	return presencePrefix + "/" + id.String()
}

// PresenceRegistry publishes and retracts this client's presence record and
// aggregates everyone else's. All state lives in the shared store; the
// registry keeps nothing locally.
type PresenceRegistry struct {
	store port.Store
}

func NewPresenceRegistry(store port.Store) *PresenceRegistry {
	return &PresenceRegistry{store: store}
}

// Announce upserts the user's presence record with online=true,
// inCall=false and registers the store-side rule that deletes it if the
// connection is lost. Crashes, network loss and tab closes all retract the
// record with no explicit call.
func (r *PresenceRegistry) Announce(ctx context.Context, id domain.UserID, displayName, email string) error {
	p := domain.UserPresence{
		UID:         id,
		DisplayName: displayName,
		Email:       email,
		Online:      true,
		InCall:      false,
	}
	if err := r.store.Set(ctx, presencePath(id), p); err != nil {
		return err
	}
	return r.store.RemoveOnDisconnect(ctx, presencePath(id))
}

// Retract removes the record on deliberate logout. Idempotent.
func (r *PresenceRegistry) Retract(ctx context.Context, id domain.UserID) error {
	return r.store.Remove(ctx, presencePath(id))
}

// SetBusy flips only the inCall field; online is untouched.
func (r *PresenceRegistry) SetBusy(ctx context.Context, id domain.UserID, busy bool) error {
	return r.store.Update(ctx, presencePath(id), map[string]any{"inCall": busy})
}

// Watch streams full-snapshot views of the registry. Each emission is the
// whole roster at that instant; consumers get no delta semantics.
func (r *PresenceRegistry) Watch(ctx context.Context) (<-chan map[domain.UserID]domain.UserPresence, error) {
	raw, err := r.store.Subscribe(ctx, presencePrefix)
	if err != nil {
		return nil, err
	}
	out := make(chan map[domain.UserID]domain.UserPresence, 8)
	go func() {
		defer close(out)
		for snap := range raw {
			roster := make(map[domain.UserID]domain.UserPresence)
			if err := json.Unmarshal(snap, &roster); err != nil {
				log.Warn().Err(err).Msg("malformed presence snapshot, skipping")
				continue
			}
			if roster == nil {
				roster = make(map[domain.UserID]domain.UserPresence)
			}
			select {
			case out <- roster:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
