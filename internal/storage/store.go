package storage

import (
	"context"
	"time"
)

// PresenceStore tracks online admin connections and the registration rate
// limit. Implementations: redis.Client, memory.Client (for -dev without Redis).
type PresenceStore interface {
	// AdminOnline marks one admin connection as present.
	AdminOnline(ctx context.Context, connID string) error
	AdminOffline(ctx context.Context, connID string) error
	// AdminsOnline counts admin connections across every API instance.
	AdminsOnline(ctx context.Context) (int, error)
	// CheckRegisterLimit allows at most max registrations per key within window.
	CheckRegisterLimit(ctx context.Context, key string, max int, window time.Duration) (allowed bool, err error)
	Close() error
}
