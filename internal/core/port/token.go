package port

import (
	"context"

	"github.com/duocall/duocall/internal/core/domain"
)

// CredentialIssuer exchanges (channel, identity) for a short-lived session
// credential from the trust service. Failures come back as
// *domain.CredentialError.
type CredentialIssuer interface {
	RequestCredential(ctx context.Context, channel string, identity domain.UserID) (domain.SessionCredential, error)
}
