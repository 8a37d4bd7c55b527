package identity

import (
	"context"
	"errors"
	"fmt"
)

// SessionLookup resolves a session token to its user.
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (User, error)
}

// SessionProvider is the provider for one session token.
type SessionProvider struct {
	Sessions SessionLookup
	Token    string
}

func (p SessionProvider) CurrentUser(ctx context.Context) (*User, error) {
	if p.Token == "" {
		return nil, nil
	}
	user, err := p.Sessions.LookupSession(ctx, p.Token)
	if errors.Is(err, ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	return &user, nil
}
