package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/duocall/duocall/internal/core/domain"
	"github.com/duocall/duocall/internal/core/port"
	"github.com/google/uuid"
)

const (
	usersPrefix     = "users"
	usernamesPrefix = "usernames"
)

// Directory keeps the durable account records: users/{uid} holds display
// metadata, usernames/{name} maps a lowercased username back to its uid so
// people can log in by either. Credential verification itself belongs to
// the external identity provider.
type Directory struct {
	store port.Store
}

func NewDirectory(store port.Store) *Directory {
	return &Directory{store: store}
}

// Register claims a username and writes the account records. The
// taken-check and the two writes are separate store operations; two racing
// registrations of the same name can both pass the check, in which case the
// later usernames/ write wins, same as the source system.
func (d *Directory) Register(ctx context.Context, username, email string) (domain.UserID, error) {
	name := strings.ToLower(username)
	_, err := d.store.Get(ctx, usernamesPrefix+"/"+name)
	switch {
	case err == nil:
		return "", domain.ErrUsernameTaken
	case !errors.Is(err, domain.ErrNotFound):
		return "", err
	}

	uid := domain.UserID(uuid.NewString())
	profile := domain.UserProfile{DisplayName: username, Email: email}
	if err := d.store.Set(ctx, usersPrefix+"/"+uid.String(), profile); err != nil {
		return "", err
	}
	if err := d.store.Set(ctx, usernamesPrefix+"/"+name, uid.String()); err != nil {
		return "", err
	}
	return uid, nil
}

// ResolveUsername maps a username to its uid. domain.ErrNotFound when the
// name was never registered.
func (d *Directory) ResolveUsername(ctx context.Context, username string) (domain.UserID, error) {
	raw, err := d.store.Get(ctx, usernamesPrefix+"/"+strings.ToLower(username))
	if err != nil {
		return "", err
	}
	var uid string
	if err := json.Unmarshal(raw, &uid); err != nil {
		return "", err
	}
	return domain.UserID(uid), nil
}

// Profile fetches the durable record for a uid.
func (d *Directory) Profile(ctx context.Context, id domain.UserID) (domain.UserProfile, error) {
	raw, err := d.store.Get(ctx, usersPrefix+"/"+id.String())
	if err != nil {
		return domain.UserProfile{}, err
	}
	var p domain.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.UserProfile{}, err
	}
	return p, nil
}

// LoginEmail resolves a username to the email the identity provider wants,
// the two-hop lookup the login form does for non-email identifiers.
func (d *Directory) LoginEmail(ctx context.Context, username string) (string, error) {
	uid, err := d.ResolveUsername(ctx, username)
	if err != nil {
		return "", err
	}
	p, err := d.Profile(ctx, uid)
	if err != nil {
		return "", err
	}
	return p.Email, nil
}
