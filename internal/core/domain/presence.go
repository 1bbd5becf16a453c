package domain

// UserPresence is the shared registry record describing whether a user is
// connected and whether they are currently in a call. A user's own client is
// the only writer of its record; everyone else only reads it. InCall is
// advisory to other clients (it disables their call affordance) and is not
// enforced by the store.
type UserPresence struct {
	UID         UserID `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Online      bool   `json:"online"`
	InCall      bool   `json:"inCall"`
}

// UserProfile is the durable directory record kept under users/{uid}. Unlike
// UserPresence it survives disconnects.
type UserProfile struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Label is the name shown for a user, falling back to the email when no
// display name was set.
func (p UserPresence) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}
