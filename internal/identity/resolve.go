package identity

import (
	"context"
	"strings"

	"github.com/codest0411/OneWise-b/pkg/apierror"
)

const (
	RoleMentor  = "mentor"
	RoleStudent = "student"
)

// RoleStore is the fallback source for role claims when neither metadata map
// carries one.
type RoleStore interface {
	GetUserRole(ctx context.Context, userID string) (string, error)
}

// UserLookup abstracts the provider client for the authenticator.
type UserLookup interface {
	GetUser(ctx context.Context, token string) (ProviderUser, error)
}

// Authenticator turns a bearer token into a fully resolved User.
type Authenticator struct {
	lookup UserLookup
	roles  RoleStore
}

func NewAuthenticator(lookup UserLookup, roles RoleStore) *Authenticator {
	return &Authenticator{lookup: lookup, roles: roles}
}

// Authenticate validates the token against the provider and attaches the
// resolved role claim. A missing token never reaches the provider.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (User, error) {
	if strings.TrimSpace(token) == "" {
		return User{}, apierror.Unauthorized("Missing authentication token")
	}

	pu, err := a.lookup.GetUser(ctx, token)
	if err != nil {
		return User{}, apierror.Unauthorized("Invalid or expired authentication token")
	}

	return User{
		ID:    pu.ID,
		Email: pu.Email,
		Name:  displayName(pu),
		Role:  a.resolveRole(ctx, pu),
	}, nil
}

// resolveRole applies the fixed precedence: app metadata claim, then user
// metadata claim, then the store lookup, defaulting to student.
func (a *Authenticator) resolveRole(ctx context.Context, pu ProviderUser) string {
	if role := metadataString(pu.AppMetadata, "role"); role != "" {
		return role
	}
	if role := metadataString(pu.UserMetadata, "role"); role != "" {
		return role
	}
	if a.roles != nil {
		if role, err := a.roles.GetUserRole(ctx, pu.ID); err == nil && role != "" {
			return role
		}
	}
	return RoleStudent
}

func displayName(pu ProviderUser) string {
	if name := metadataString(pu.UserMetadata, "full_name"); name != "" {
		return name
	}
	if name := metadataString(pu.UserMetadata, "name"); name != "" {
		return name
	}
	return pu.Email
}

func metadataString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// BearerFromHeader strips the literal "Bearer " prefix from an Authorization
// header value. An empty result means no usable credential.
func BearerFromHeader(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
