package service

import (
	"context"
	"errors"
	"sync"

	"github.com/duocall/duocall/internal/core/domain"
	"github.com/duocall/duocall/internal/core/port"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotIdle    = errors.New("a call is already in progress")
	ErrNotRinging = errors.New("no incoming invite to act on")
	ErrNotInCall  = errors.New("not in a call")
)

// Coordinator is the client-local state machine driving a user from idle
// through ringing, active call, and back. It composes the presence
// registry, the mailbox, the credential issuer and the media engine; every
// transition is a sequence of independent remote writes with no transaction
// across them, so a failure mid-sequence leaves partial state and the whole
// flow is retried from scratch by the user, never resumed.
type Coordinator struct {
	self     domain.UserID
	selfName string
	appID    string

	presence *PresenceRegistry
	mailbox  *CallMailbox
	issuer   port.CredentialIssuer
	media    port.MediaEngine

	mu       sync.Mutex
	state    domain.CallState
	session  *domain.CallSession
	incoming *domain.CallInvite

	ring chan domain.CallInvite
}

func NewCoordinator(self domain.UserID, selfName, appID string, presence *PresenceRegistry, mailbox *CallMailbox, issuer port.CredentialIssuer, media port.MediaEngine) *Coordinator {
	return &Coordinator{
		self:     self,
		selfName: selfName,
		appID:    appID,
		presence: presence,
		mailbox:  mailbox,
		issuer:   issuer,
		media:    media,
		state:    domain.StateIdle,
		ring:     make(chan domain.CallInvite, 4),
	}
}

// Start subscribes to the user's mailbox slot and begins surfacing inbound
// invites. It returns once the watch is established; invite handling runs
// until ctx ends.
func (c *Coordinator) Start(ctx context.Context) error {
	invites, err := c.mailbox.Watch(ctx, c.self)
	if err != nil {
		return err
	}
	go func() {
		for inv := range invites {
			c.observeInvite(inv)
		}
	}()
	return nil
}

// Incoming delivers invites that reached the ringing state, for the UI to
// surface an accept/decline prompt.
func (c *Coordinator) Incoming() <-chan domain.CallInvite {
	return c.ring
}

// State reports the current position in the call lifecycle.
func (c *Coordinator) State() domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the active call session, or nil outside a call.
func (c *Coordinator) Session() *domain.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// observeInvite reacts to mailbox snapshots. An invite is surfaced only
// while idle (or replaces the one already ringing, since the slot was
// overwritten); while in a call the write lands but is never read, which is
// the protocol's silent decline.
func (c *Coordinator) observeInvite(inv *domain.CallInvite) {
	c.mu.Lock()
	if inv == nil {
		// Slot cleared. If we were ringing, the invite is gone.
		if c.state == domain.StateRinging {
			c.state = domain.StateIdle
			c.incoming = nil
		}
		c.mu.Unlock()
		return
	}
	switch c.state {
	case domain.StateIdle:
		c.state = domain.StateRinging
		c.incoming = inv
	case domain.StateRinging:
		// A later caller overwrote the slot; the first invite is
		// superseded and its sender gets no cancellation notice.
		c.incoming = inv
	default:
		c.mu.Unlock()
		log.Debug().
			Str("caller_id", inv.CallerID.String()).
			Msg("invite ignored while busy")
		return
	}
	c.mu.Unlock()

	select {
	case c.ring <- *inv:
	default:
		log.Warn().Msg("ring channel full, dropping notification")
	}
}

// Initiate writes an invite into the callee's mailbox, obtains a
// credential for the pair's canonical channel and joins it. The invite
// write and the busy-flag write are independent remote operations: if the
// credential request fails afterwards the invite already written stays in
// the callee's slot, and the coordinator simply returns to idle.
func (c *Coordinator) Initiate(ctx context.Context, callee domain.UserID) error {
	c.mu.Lock()
	if c.state != domain.StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.state = domain.StateInviting
	c.mu.Unlock()

	channel := domain.ChannelName(c.self, callee)
	inv := domain.CallInvite{CallerID: c.self, CallerName: c.selfName, Channel: channel}
	if err := c.mailbox.Invite(ctx, callee, inv); err != nil {
		c.toIdle()
		return err
	}

	cred, err := c.issuer.RequestCredential(ctx, channel, c.self)
	if err != nil {
		// No rollback of the invite: the slot dangles until the callee
		// overwrites or observes it.
		c.toIdle()
		return err
	}

	return c.enterCall(ctx, channel, cred, domain.RoleCaller)
}

// Accept takes the ringing invite into an active call. A credential
// failure is an implicit decline: the slot is cleared and the state falls
// back to idle.
func (c *Coordinator) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.StateRinging || c.incoming == nil {
		c.mu.Unlock()
		return ErrNotRinging
	}
	inv := *c.incoming
	c.mu.Unlock()

	cred, err := c.issuer.RequestCredential(ctx, inv.Channel, c.self)
	if err != nil {
		if clearErr := c.mailbox.Clear(ctx, c.self); clearErr != nil {
			log.Error().Err(clearErr).Msg("failed to clear mailbox after credential failure")
		}
		c.toIdle()
		return err
	}

	if err := c.mailbox.Clear(ctx, c.self); err != nil {
		log.Error().Err(err).Msg("failed to clear accepted invite")
	}
	return c.enterCall(ctx, inv.Channel, cred, domain.RoleCallee)
}

// Decline clears the slot and returns to idle. The caller is not notified;
// it can only learn indirectly by polling the busy flag later.
func (c *Coordinator) Decline(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.StateRinging {
		c.mu.Unlock()
		return ErrNotRinging
	}
	c.state = domain.StateIdle
	c.incoming = nil
	c.mu.Unlock()
	return c.mailbox.Clear(ctx, c.self)
}

// AddParticipant invites a third party into the call already in progress.
// The invite carries the current channel, not a freshly derived pair name,
// so the newcomer lands in the same room. Local state is unchanged.
func (c *Coordinator) AddParticipant(ctx context.Context, callee domain.UserID) error {
	c.mu.Lock()
	if c.state != domain.StateInCall || c.session == nil {
		c.mu.Unlock()
		return ErrNotInCall
	}
	channel := c.session.Channel
	c.mu.Unlock()

	inv := domain.CallInvite{CallerID: c.self, CallerName: c.selfName, Channel: channel}
	return c.mailbox.Invite(ctx, callee, inv)
}

// End tears the call down: busy flag off, residual invite cleared, media
// engine left, session discarded. Safe to call in any state.
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	wasInCall := c.state == domain.StateInCall
	c.state = domain.StateIdle
	c.session = nil
	c.incoming = nil
	c.mu.Unlock()

	if err := c.presence.SetBusy(ctx, c.self, false); err != nil {
		log.Error().Err(err).Msg("failed to reset busy flag")
	}
	if err := c.mailbox.Clear(ctx, c.self); err != nil {
		log.Error().Err(err).Msg("failed to clear residual invite")
	}
	if wasInCall {
		if err := c.media.Leave(ctx); err != nil {
			log.Error().Err(err).Msg("media engine leave failed")
		}
	}
	return nil
}

// enterCall runs the tail shared by Initiate and Accept: busy flag, local
// session, media join and publish. A media failure forces an immediate end.
func (c *Coordinator) enterCall(ctx context.Context, channel string, cred domain.SessionCredential, role domain.CallRole) error {
	if err := c.presence.SetBusy(ctx, c.self, true); err != nil {
		c.toIdle()
		return err
	}

	sess := &domain.CallSession{
		AppID:   c.appID,
		Channel: channel,
		UID:     cred.NumericUID,
		Token:   cred.Token,
		Role:    role,
	}
	c.mu.Lock()
	c.state = domain.StateInCall
	c.session = sess
	c.incoming = nil
	c.mu.Unlock()

	if err := c.media.Join(ctx, c.appID, channel, cred.Token, cred.NumericUID); err != nil {
		c.forceEnd(ctx)
		return &domain.JoinError{Channel: channel, Err: err}
	}
	if err := c.media.Publish(ctx); err != nil {
		c.forceEnd(ctx)
		return &domain.JoinError{Channel: channel, Err: err}
	}
	return nil
}

func (c *Coordinator) toIdle() {
	c.mu.Lock()
	c.state = domain.StateIdle
	c.incoming = nil
	c.session = nil
	c.mu.Unlock()
}

func (c *Coordinator) forceEnd(ctx context.Context) {
	if err := c.End(ctx); err != nil {
		log.Error().Err(err).Msg("forced end failed")
	}
}
