// Package store is the durable key-value layer behind the execution context.
// It plays the role browser localStorage plays for the UI: small named slots
// with per-slot codecs, surviving restarts. Components receive the Store port
// by injection so tests can substitute the in-memory implementation.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Store is the durable key-value port. Get reports ok=false when the key is
// unset; that absence is the only "not found" signal, never an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
}

// StringSlot stores a raw string under a fixed key.
type StringSlot struct {
	store Store
	key   string
}

func NewStringSlot(s Store, key string) StringSlot {
	return StringSlot{store: s, key: key}
}

func (sl StringSlot) Get(ctx context.Context) (string, bool, error) {
	return sl.store.Get(ctx, sl.key)
}

func (sl StringSlot) Set(ctx context.Context, value string) error {
	return sl.store.Set(ctx, sl.key, value)
}

func (sl StringSlot) Remove(ctx context.Context) error {
	return sl.store.Remove(ctx, sl.key)
}

// IntSlot stores an integer with a strconv codec.
type IntSlot struct {
	store Store
	key   string
}

func NewIntSlot(s Store, key string) IntSlot {
	return IntSlot{store: s, key: key}
}

func (sl IntSlot) Get(ctx context.Context) (int, bool, error) {
	raw, ok, err := sl.store.Get(ctx, sl.key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("slot %s holds a non-integer value %q: %w", sl.key, raw, err)
	}
	return v, true, nil
}

func (sl IntSlot) Set(ctx context.Context, value int) error {
	return sl.store.Set(ctx, sl.key, strconv.Itoa(value))
}

func (sl IntSlot) Remove(ctx context.Context) error {
	return sl.store.Remove(ctx, sl.key)
}

// JSONSlot stores a JSON-serialized value of type T.
type JSONSlot[T any] struct {
	store Store
	key   string
}

func NewJSONSlot[T any](s Store, key string) JSONSlot[T] {
	return JSONSlot[T]{store: s, key: key}
}

func (sl JSONSlot[T]) Get(ctx context.Context) (T, bool, error) {
	var v T
	raw, ok, err := sl.store.Get(ctx, sl.key)
	if err != nil || !ok {
		return v, ok, err
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false, fmt.Errorf("slot %s: %w", sl.key, err)
	}
	return v, true, nil
}

func (sl JSONSlot[T]) Set(ctx context.Context, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("slot %s: %w", sl.key, err)
	}
	return sl.store.Set(ctx, sl.key, string(raw))
}

func (sl JSONSlot[T]) Remove(ctx context.Context) error {
	return sl.store.Remove(ctx, sl.key)
}
