package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mediamem "github.com/duocall/duocall/internal/adapter/driven/media/memory"
	memstore "github.com/duocall/duocall/internal/adapter/driven/store/memory"
	"github.com/duocall/duocall/internal/core/domain"
	"github.com/duocall/duocall/internal/core/port"
)

type issuerFunc func(ctx context.Context, channel string, id domain.UserID) (domain.SessionCredential, error)

func (f issuerFunc) RequestCredential(ctx context.Context, channel string, id domain.UserID) (domain.SessionCredential, error) {
	return f(ctx, channel, id)
}

func workingIssuer(ctx context.Context, channel string, id domain.UserID) (domain.SessionCredential, error) {
	return domain.SessionCredential{
		Token:      "tok-" + channel,
		NumericUID: domain.NumericIdentity(id.String()),
	}, nil
}

func failingIssuer(ctx context.Context, channel string, id domain.UserID) (domain.SessionCredential, error) {
	return domain.SessionCredential{}, &domain.CredentialError{Reason: "token service returned 500"}
}

type testClient struct {
	id    domain.UserID
	coord *Coordinator
	media *mediamem.Engine
}

func newTestClient(t *testing.T, ctx context.Context, backend *memstore.Backend, id domain.UserID, issuer port.CredentialIssuer) *testClient {
	t.Helper()
	conn := backend.Connect()
	t.Cleanup(func() { conn.Close() })

	reg := NewPresenceRegistry(conn)
	mbox := NewCallMailbox(conn)
	media := mediamem.NewEngine()
	coord := NewCoordinator(id, id.String(), "app-1", reg, mbox, issuer, media)

	if err := reg.Announce(ctx, id, id.String(), id.String()+"@example.com"); err != nil {
		t.Fatal(err)
	}
	return &testClient{id: id, coord: coord, media: media}
}

func (c *testClient) start(t *testing.T, ctx context.Context) {
	t.Helper()
	if err := c.coord.Start(ctx); err != nil {
		t.Fatal(err)
	}
}

func ringWait(t *testing.T, c *testClient) domain.CallInvite {
	t.Helper()
	select {
	case inv := <-c.coord.Incoming():
		return inv
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ring")
		return domain.CallInvite{}
	}
}

func slotInvite(t *testing.T, backend *memstore.Backend, id domain.UserID) *domain.CallInvite {
	t.Helper()
	raw := backend.Get("calls/" + id.String())
	if raw == nil {
		return nil
	}
	var inv domain.CallInvite
	if err := json.Unmarshal(raw, &inv); err != nil {
		t.Fatal(err)
	}
	return &inv
}

func presenceOf(t *testing.T, backend *memstore.Backend, id domain.UserID) domain.UserPresence {
	t.Helper()
	raw := backend.Get("onlineUsers/" + id.String())
	if raw == nil {
		t.Fatalf("no presence record for %s", id)
	}
	var p domain.UserPresence
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInviteAcceptFlow(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(workingIssuer))
	bob := newTestClient(t, ctx, backend, "bob", issuerFunc(workingIssuer))
	bob.start(t, ctx)

	if err := alice.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if got := alice.coord.State(); got != domain.StateInCall {
		t.Fatalf("caller state = %s, want in_call", got)
	}

	inv := ringWait(t, bob)
	if inv.CallerID != "alice" || inv.Channel != "call-alice-bob" {
		t.Fatalf("ring invite = %+v", inv)
	}
	if got := slotInvite(t, backend, "bob"); got == nil || got.CallerID != "alice" {
		t.Fatalf("calls/bob = %+v, want alice's invite", got)
	}

	if err := bob.coord.Accept(ctx); err != nil {
		t.Fatal(err)
	}

	// Immediately after accept the acceptor's slot is empty.
	if got := slotInvite(t, backend, "bob"); got != nil {
		t.Errorf("calls/bob still holds %+v after accept", got)
	}

	for _, c := range []*testClient{alice, bob} {
		sess := c.coord.Session()
		if sess == nil || sess.Channel != "call-alice-bob" {
			t.Fatalf("%s session = %+v", c.id, sess)
		}
		if uid, ok := c.media.JoinedUID(); !ok || uid != domain.NumericIdentity(c.id.String()) {
			t.Errorf("%s joined with uid %d", c.id, uid)
		}
		if !c.media.Published() {
			t.Errorf("%s never published", c.id)
		}
		if !presenceOf(t, backend, c.id).InCall {
			t.Errorf("%s busy flag not set", c.id)
		}
	}
	if alice.coord.Session().Role != domain.RoleCaller {
		t.Errorf("alice role = %s", alice.coord.Session().Role)
	}
	if bob.coord.Session().Role != domain.RoleCallee {
		t.Errorf("bob role = %s", bob.coord.Session().Role)
	}
}

func TestMutualInviteConvergesOnOneChannel(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Neither watcher has fired yet: both sides are idle when they dial,
	// the same instant the race allows.
	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(workingIssuer))
	bob := newTestClient(t, ctx, backend, "bob", issuerFunc(workingIssuer))

	if err := alice.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := bob.coord.Initiate(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	as, bs := alice.coord.Session(), bob.coord.Session()
	if as == nil || bs == nil {
		t.Fatal("both sides should be in a call")
	}
	if as.Channel != bs.Channel || as.Channel != "call-alice-bob" {
		t.Errorf("channels diverged: %q vs %q", as.Channel, bs.Channel)
	}
	// Each locally believes itself the caller; that is the accepted
	// collapsing behavior, not a bug.
	if as.Role != domain.RoleCaller || bs.Role != domain.RoleCaller {
		t.Errorf("roles = %s/%s", as.Role, bs.Role)
	}
}

func TestCredentialFailureLeavesInviteDangling(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(failingIssuer))

	err := alice.coord.Initiate(ctx, "bob")
	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
	if got := alice.coord.State(); got != domain.StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	// The invite written before the failure is not rolled back; it
	// dangles in the callee's slot until overwritten or observed.
	if got := slotInvite(t, backend, "bob"); got == nil || got.CallerID != "alice" {
		t.Errorf("calls/bob = %+v, want the dangling invite", got)
	}
	if presenceOf(t, backend, "alice").InCall {
		t.Errorf("busy flag set despite failed initiate")
	}
}

func TestInboundInviteIgnoredWhileInCall(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(workingIssuer))
	bob := newTestClient(t, ctx, backend, "bob", issuerFunc(workingIssuer))
	carol := newTestClient(t, ctx, backend, "carol", issuerFunc(workingIssuer))

	bob.start(t, ctx)
	if err := alice.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	ringWait(t, bob)
	if err := bob.coord.Accept(ctx); err != nil {
		t.Fatal(err)
	}

	// Carol dials the now-busy bob. The write lands but is never read:
	// the silent implicit decline.
	if err := carol.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}

	select {
	case inv := <-bob.coord.Incoming():
		t.Fatalf("busy callee surfaced invite %+v", inv)
	case <-time.After(200 * time.Millisecond):
	}
	if got := bob.coord.State(); got != domain.StateInCall {
		t.Errorf("bob state = %s", got)
	}
	if got := slotInvite(t, backend, "bob"); got == nil || got.CallerID != "carol" {
		t.Errorf("calls/bob = %+v, want carol's unread invite", got)
	}
}

func TestAcceptCredentialFailureIsImplicitDecline(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(workingIssuer))
	bob := newTestClient(t, ctx, backend, "bob", issuerFunc(failingIssuer))
	bob.start(t, ctx)

	if err := alice.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	ringWait(t, bob)

	err := bob.coord.Accept(ctx)
	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
	if got := bob.coord.State(); got != domain.StateIdle {
		t.Errorf("bob state = %s, want idle", got)
	}
	if got := slotInvite(t, backend, "bob"); got != nil {
		t.Errorf("slot not cleared on failed accept: %+v", got)
	}
}

func TestDeclineClearsSlotSilently(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(workingIssuer))
	bob := newTestClient(t, ctx, backend, "bob", issuerFunc(workingIssuer))
	bob.start(t, ctx)

	if err := alice.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	ringWait(t, bob)

	if err := bob.coord.Decline(ctx); err != nil {
		t.Fatal(err)
	}
	if got := slotInvite(t, backend, "bob"); got != nil {
		t.Errorf("slot not cleared on decline: %+v", got)
	}
	if got := bob.coord.State(); got != domain.StateIdle {
		t.Errorf("bob state = %s", got)
	}
	// The caller gets no decline signal; it is still happily in the call.
	if got := alice.coord.State(); got != domain.StateInCall {
		t.Errorf("alice state = %s", got)
	}
}

func TestMediaJoinFailureForcesEnd(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(workingIssuer))
	alice.media.JoinErr = errors.New("engine rejected join")

	err := alice.coord.Initiate(ctx, "bob")
	var joinErr *domain.JoinError
	if !errors.As(err, &joinErr) {
		t.Fatalf("expected JoinError, got %v", err)
	}
	if got := alice.coord.State(); got != domain.StateIdle {
		t.Errorf("state = %s, want idle after forced end", got)
	}
	if presenceOf(t, backend, "alice").InCall {
		t.Errorf("busy flag survived forced end")
	}
}

func TestAddParticipantReusesCurrentChannel(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(workingIssuer))
	bob := newTestClient(t, ctx, backend, "bob", issuerFunc(workingIssuer))
	bob.start(t, ctx)

	if err := alice.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	ringWait(t, bob)
	if err := bob.coord.Accept(ctx); err != nil {
		t.Fatal(err)
	}

	if err := alice.coord.AddParticipant(ctx, "carol"); err != nil {
		t.Fatal(err)
	}
	inv := slotInvite(t, backend, "carol")
	if inv == nil {
		t.Fatal("no invite for carol")
	}
	// The existing room, not ChannelName(alice, carol).
	if inv.Channel != "call-alice-bob" {
		t.Errorf("invite channel = %q, want the current call's channel", inv.Channel)
	}
	if got := alice.coord.State(); got != domain.StateInCall {
		t.Errorf("inviting a third party changed state to %s", got)
	}
}

func TestEndResetsEverything(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(workingIssuer))
	bob := newTestClient(t, ctx, backend, "bob", issuerFunc(workingIssuer))
	bob.start(t, ctx)

	if err := alice.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	ringWait(t, bob)
	if err := bob.coord.Accept(ctx); err != nil {
		t.Fatal(err)
	}

	if err := bob.coord.End(ctx); err != nil {
		t.Fatal(err)
	}
	if got := bob.coord.State(); got != domain.StateIdle {
		t.Errorf("state = %s", got)
	}
	if bob.coord.Session() != nil {
		t.Errorf("session survived end")
	}
	if presenceOf(t, backend, "bob").InCall {
		t.Errorf("busy flag survived end")
	}
	if _, joined := bob.media.JoinedUID(); joined {
		t.Errorf("media engine still joined")
	}
}

func TestSecondInviteReplacesRinging(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(workingIssuer))
	bob := newTestClient(t, ctx, backend, "bob", issuerFunc(workingIssuer))
	carol := newTestClient(t, ctx, backend, "carol", issuerFunc(workingIssuer))
	bob.start(t, ctx)

	if err := alice.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if inv := ringWait(t, bob); inv.CallerID != "alice" {
		t.Fatalf("first ring from %q", inv.CallerID)
	}

	// Carol's write lands while bob is still ringing; alice's invite is
	// superseded and alice learns nothing.
	if err := carol.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if inv := ringWait(t, bob); inv.CallerID != "carol" {
		t.Fatalf("second ring from %q, want carol", inv.CallerID)
	}

	if err := bob.coord.Accept(ctx); err != nil {
		t.Fatal(err)
	}
	sess := bob.coord.Session()
	if sess == nil || sess.Channel != "call-bob-carol" {
		t.Errorf("accepted session = %+v, want carol's channel", sess)
	}
	if got := alice.coord.State(); got != domain.StateInCall {
		t.Errorf("superseded caller state = %s, it was never notified", got)
	}
}

func TestInitiateWhileBusyRejected(t *testing.T) {
	backend := memstore.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := newTestClient(t, ctx, backend, "alice", issuerFunc(workingIssuer))
	if err := alice.coord.Initiate(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := alice.coord.Initiate(ctx, "carol"); !errors.Is(err, ErrNotIdle) {
		t.Errorf("expected ErrNotIdle, got %v", err)
	}
}
