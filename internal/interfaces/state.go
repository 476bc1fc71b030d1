package interfaces

import "context"

// StateStore persists the few client values that survive a restart.
type StateStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
