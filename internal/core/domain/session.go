package domain

import "time"

// CredentialTTL is the publish/subscribe privilege window granted with each
// issued credential. There is no automatic renewal; a session outliving the
// window fails past expiry and the client must request a fresh credential.
const CredentialTTL = 3600 * time.Second

// SessionCredential is what the token service returns: a signed token bound
// to exactly one (channel, numeric uid) pair.
type SessionCredential struct {
	Token      string `json:"token"`
	NumericUID uint32 `json:"uid"`
}

type CallRole string

const (
	RoleCaller CallRole = "caller"
	RoleCallee CallRole = "callee"
)

// CallSession is the client-local record of an active call. It is never
// written to the shared store.
type CallSession struct {
	AppID   string
	Channel string
	UID     uint32
	Token   string
	Role    CallRole
}

// CallState is the coordinator's position in the call lifecycle.
type CallState int

const (
	StateIdle CallState = iota
	StateInviting
	StateRinging
	StateInCall
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInviting:
		return "inviting"
	case StateRinging:
		return "ringing"
	case StateInCall:
		return "in_call"
	default:
		return "unknown"
	}
}
