package credentials

import (
	"context"
	"errors"
)

// TokenKey is the fixed key the bearer token lives under.
const TokenKey = "access_token"

var ErrEmptyKey = errors.New("empty key")

// Store is a small persistent key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Credentials exposes the bearer token held in a Store.
type Credentials struct {
	store Store
}

func New(store Store) *Credentials {
	return &Credentials{store: store}
}

func (c *Credentials) Token(ctx context.Context) (string, bool, error) {
	tok, ok, err := c.store.Get(ctx, TokenKey)
	if err != nil || !ok || tok == "" {
		return "", false, err
	}
	return tok, true, nil
}

func (c *Credentials) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return c.ClearToken(ctx)
	}
	return c.store.Set(ctx, TokenKey, token)
}

func (c *Credentials) ClearToken(ctx context.Context) error {
	return c.store.Delete(ctx, TokenKey)
}
