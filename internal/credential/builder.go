// Package credential signs the session tokens the token service hands out.
// A token binds one (channel, numeric uid) pair for the fixed privilege
// window; holders present it to the media engine when joining.
package credential

import (
	"errors"
	"time"

	"github.com/duocall/duocall/internal/core/domain"
	"github.com/golang-jwt/jwt/v5"
)

// ErrMisconfigured means the app id or certificate was never provided; the
// service cannot sign anything and reports a server-side failure.
var ErrMisconfigured = errors.New("app credentials are not set")

type Builder struct {
	appID          string
	appCertificate string
	ttl            time.Duration
	now            func() time.Time
}

func NewBuilder(appID, appCertificate string) *Builder {
	return &Builder{
		appID:          appID,
		appCertificate: appCertificate,
		ttl:            domain.CredentialTTL,
		now:            time.Now,
	}
}

func (b *Builder) Configured() bool {
	return b.appID != "" && b.appCertificate != ""
}

// Issue signs a publisher credential for (channel, uid) expiring one
// privilege window from now.
func (b *Builder) Issue(channel string, uid uint32) (string, error) {
	if !b.Configured() {
		return "", ErrMisconfigured
	}
	now := b.now()
	claims := jwt.MapClaims{
		"app":     b.appID,
		"channel": channel,
		"uid":     uid,
		"role":    "publisher",
		"iat":     now.Unix(),
		"exp":     now.Add(b.ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(b.appCertificate))
}

// Verify parses a token issued by this builder and returns its claims.
// Used by tests and by operators debugging a credential.
func (b *Builder) Verify(token string) (jwt.MapClaims, error) {
	if !b.Configured() {
		return nil, ErrMisconfigured
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(b.appCertificate), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
