package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// User is the identity attached to an authenticated connection or request.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// ProviderUser is the raw user record returned by the identity provider.
// Role and display name live in the metadata maps, not in fixed columns.
type ProviderUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// Client looks up users at the external identity provider.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// GetUser resolves the bearer token to a provider user record. Any provider
// error or non-200 response is reported as a plain error; the caller decides
// how to surface it.
func (c *Client) GetUser(ctx context.Context, token string) (ProviderUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return ProviderUser{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ProviderUser{}, fmt.Errorf("identity provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ProviderUser{}, fmt.Errorf("identity provider: status %d", resp.StatusCode)
	}

	var user ProviderUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return ProviderUser{}, fmt.Errorf("identity provider: decode user: %w", err)
	}
	if user.ID == "" {
		return ProviderUser{}, fmt.Errorf("identity provider: empty user")
	}
	return user, nil
}
