package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an absent store record or an unknown identity.
var ErrNotFound = errors.New("not found")

// ErrUsernameTaken reports a directory registration against a username that
// already maps to another account.
var ErrUsernameTaken = errors.New("username already taken")

// CredentialError reports a failed exchange with the token service:
// unreachable, misconfigured, or rejected request.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential: %s: %v", e.Reason, e.Err)
	}
	return "credential: " + e.Reason
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// JoinError reports a media engine failure to join or publish on a channel.
// The coordinator treats it as fatal for the call and forces an end.
type JoinError struct {
	Channel string
	Err     error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join %s: %v", e.Channel, e.Err)
}

func (e *JoinError) Unwrap() error {
	return e.Err
}
