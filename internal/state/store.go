package state

import "context"

// Store is durable key/value persistence for small bot state: the active
// strategy configuration snapshot and client-order-id idempotency records.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
