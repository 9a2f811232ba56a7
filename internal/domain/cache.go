package domain

import (
	"context"
	"time"
)

// PriceCache stores the most recent oracle price per symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	// GetPrice returns ErrNotFound when no price has been cached yet.
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// LockManager provides distributed locks. The scheduler uses one lock per
// portfolio to guarantee at most one in-flight monitoring cycle.
type LockManager interface {
	// Acquire returns an unlock function on success and ErrLockHeld when the
	// lock is already taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// CycleEventsChannel is the bus channel carrying cycle lifecycle events.
const CycleEventsChannel = "rebalance:cycles"

// EventBus is a lightweight pub/sub channel for cycle lifecycle events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
