package identity

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

var ErrNoSession = errors.New("no session")

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provider resolves the user behind the current editing session. A nil
// user with a nil error means nobody is signed in.
type Provider interface {
	CurrentUser(ctx context.Context) (*User, error)
}

type ProviderFunc func(ctx context.Context) (*User, error)

func (f ProviderFunc) CurrentUser(ctx context.Context) (*User, error) {
	return f(ctx)
}

// Cache remembers the first successful lookup of a provider. Concurrent
// lookups share one call; failures are not remembered. Invalidate clears
// it when the session ends.
type Cache struct {
	provider Provider
	group    singleflight.Group

	mu       sync.Mutex
	resolved bool
	user     *User
	epoch    int
}

func NewCache(provider Provider) *Cache {
	return &Cache{provider: provider}
}

func (c *Cache) CurrentUser(ctx context.Context) (*User, error) {
	c.mu.Lock()
	if c.resolved {
		user := copyUser(c.user)
		c.mu.Unlock()
		return user, nil
	}
	epoch := c.epoch
	c.mu.Unlock()

	value, err, _ := c.group.Do("current", func() (interface{}, error) {
		user, err := c.provider.CurrentUser(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.epoch == epoch {
			c.resolved = true
			c.user = copyUser(user)
		}
		c.mu.Unlock()
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	user, _ := value.(*User)
	return copyUser(user), nil
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.resolved = false
	c.user = nil
	c.epoch++
	c.mu.Unlock()
	c.group.Forget("current")
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}

type contextKey struct{}

// NewContext attaches an already resolved user to ctx.
func NewContext(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKey{}, copyUser(user))
}

func FromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextKey{}).(*User)
	return user, ok && user != nil
}

// ContextProvider reads the user a request handler attached with
// NewContext. It is the provider for services that serve many sessions.
type ContextProvider struct{}

func (ContextProvider) CurrentUser(ctx context.Context) (*User, error) {
	user, ok := FromContext(ctx)
	if !ok {
		return nil, nil
	}
	return user, nil
}
