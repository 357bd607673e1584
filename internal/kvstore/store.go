// Package kvstore persists small JSON documents such as the continue-watching
// snapshot and the dismissal map.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
)

// Store is a durable string key-value store.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
}

// GetJSON decodes the value stored under key into out.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(raw))
}

// Open returns the store for the named backend ("sqlite" or "file") and a
// function releasing its resources.
func Open(ctx context.Context, backend, path string) (Store, func() error, error) {
	switch backend {
	case "", "sqlite":
		s, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "file":
		s, err := NewFile(afero.NewOsFs(), path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
