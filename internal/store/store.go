// Package store holds the key/value state the control loop reads sensors from
// and writes actuators, matrices and smoothing state to.
package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Reader reads a state by id. A missing state is reported with ok == false and a nil error.
type Reader interface {
	Get(ctx context.Context, id string) (value string, ok bool, err error)
}

// Writer persists a state by id.
type Writer interface {
	Set(ctx context.Context, id, value string) error
}

// Store is a readable and writable state store.
type Store interface {
	Reader
	Writer
	Close() error
}
