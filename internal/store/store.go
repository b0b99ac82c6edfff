// Package store abstracts the hierarchical, subscribable JSON document store
// shared by every open session. Paths are slash separated ("classes/4b/state").
//
// All drivers share the semantics of the hosted realtime database: empty
// objects, empty arrays and nulls are not stored, so reading them back yields
// an absent node. Writes are last-write-wins.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrInvalidPath is returned for an empty path where a node is required.
var ErrInvalidPath = errors.New("store: invalid path")

// ChangeFunc receives the current value of a watched node. An absent node is
// delivered as nil.
type ChangeFunc func(value json.RawMessage)

// ErrorFunc receives asynchronous watch failures.
type ErrorFunc func(err error)

// Store is implemented by every driver.
type Store interface {
	// Get returns the JSON value at path, or nil when the node is absent.
	Get(ctx context.Context, path string) (json.RawMessage, error)
	// Set replaces the node at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// Create sets path only when the node is absent, atomically with respect
	// to other writers. It reports whether the value was written.
	Create(ctx context.Context, path string, value any) (created bool, err error)
	// Update sets several children of path in one write. Nil values delete.
	Update(ctx context.Context, path string, children map[string]any) error
	// Push stores value under a new, time ordered child key of path.
	Push(ctx context.Context, path string, value any) (string, error)
	// Delete removes the node at path and everything below it.
	Delete(ctx context.Context, path string) error
	// Keys lists the direct child keys of path in sorted order.
	Keys(ctx context.Context, path string) ([]string, error)
	// Watch calls onChange with the current value and then again after every
	// change of the node. Watching stops when stop is called or ctx is done.
	Watch(ctx context.Context, path string, onChange ChangeFunc, onError ErrorFunc) (stop func(), err error)
}

// GetJSON decodes the node at path into v. It reports false when the node is absent.
func GetJSON(ctx context.Context, s Store, path string, v any) (bool, error) {
	raw, err := s.Get(ctx, path)
	if err != nil {
		return false, err
	}
	if IsAbsent(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, err
	}
	return true, nil
}
