package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key holds no value
	ErrNotFound = errors.New("storage: key not found")
	// ErrInvalidTTL is returned by Guard calls given a ttl that is not positive
	ErrInvalidTTL = errors.New("storage: guard ttl must be positive")
)

// Storage is a key/value port for per-session state
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

// ReservationState describes the outcome of reserving a one-shot key
type ReservationState int

const (
	// ReservationNew means the caller owns the key and must complete or release it.
	ReservationNew ReservationState = iota
	// ReservationCompleted means a previous holder stored a result.
	ReservationCompleted
	// ReservationPending means another holder is still processing the key.
	ReservationPending
)

// Reservation is the result of Guard.Reserve
type Reservation struct {
	State  ReservationState
	Result []byte
}

// Guard hands out one-shot keys. A key is processed by exactly one holder;
// later callers see the stored result. Reserve's ttl bounds the pending
// marker; Complete's ttl bounds the stored result. Both must be positive.
type Guard interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}
