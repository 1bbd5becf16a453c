package domain

import "errors"

// CallInvite is the single-slot mailbox record a caller writes under the
// callee's identity. Writing overwrites whatever was there; only the callee
// ever clears the slot.
type CallInvite struct {
	CallerID   UserID `json:"callerId"`
	CallerName string `json:"callerName"`
	Channel    string `json:"channel"`
}

// Validate rejects invites that cannot be acted on. Payloads come off the
// shared store, so they are checked at the boundary rather than trusted.
func (i CallInvite) Validate() error {
	if i.CallerID == "" {
		return errors.New("invite has no caller id")
	}
	if i.Channel == "" {
		return errors.New("invite has no channel")
	}
	return nil
}
