package identity

import "context"

// Authenticator verifies a user's password.
type Authenticator interface {
	Authenticate(ctx context.Context, user, password string) bool
}

// DenyAll rejects every login.
type DenyAll struct{}

func (DenyAll) Authenticate(context.Context, string, string) bool { return false }
