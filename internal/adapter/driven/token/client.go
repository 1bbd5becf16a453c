// Package tokenhttp talks to the trust service that signs session
// credentials, over its GET /get-token endpoint.
package tokenhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/duocall/duocall/internal/core/domain"
)

// Client implements port.CredentialIssuer against the HTTP token service.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// RequestCredential exchanges (channel, identity) for a signed credential.
// An empty channel is a caller error and is never sent. Service errors come
// back as *domain.CredentialError.
func (c *Client) RequestCredential(ctx context.Context, channel string, identity domain.UserID) (domain.SessionCredential, error) {
	if channel == "" {
		return domain.SessionCredential{}, &domain.CredentialError{Reason: "channel name is required"}
	}

	q := url.Values{}
	q.Set("channelName", channel)
	q.Set("uid", identity.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get-token?"+q.Encode(), nil)
	if err != nil {
		return domain.SessionCredential{}, &domain.CredentialError{Reason: "building request", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.SessionCredential{}, &domain.CredentialError{Reason: "token service unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		reason := fmt.Sprintf("token service returned %d", resp.StatusCode)
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			reason = body.Error
		}
		return domain.SessionCredential{}, &domain.CredentialError{Reason: reason}
	}

	var cred domain.SessionCredential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return domain.SessionCredential{}, &domain.CredentialError{Reason: "decoding response", Err: err}
	}
	return cred, nil
}
