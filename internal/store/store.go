// Package store implements the persisted flag store: a small string key/value
// store with change notification, shared by the picker, the interceptor and
// the coordinator. Writes are last-write-wins.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

const (
	// KeyEnabled holds "true" or "false".
	KeyEnabled = "shuffleEnabled"
	// KeyLastTitleURL holds the canonical title URL of the last watch session.
	KeyLastTitleURL = "lastTitleUrl"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Change describes one observed value transition.
type Change struct {
	Key string
	Old string
	New string
}

// Store is a string key/value store with change subscriptions.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Subscribe registers fn for changes to any key. Notifications may be
	// delivered from a background goroutine; fn must not block.
	Subscribe(fn func(Change)) (cancel func())
	Close() error
}

// Enabled reads KeyEnabled, defaulting to false.
func Enabled(ctx context.Context, s Store) (bool, error) {
	v, ok, err := s.Get(ctx, KeyEnabled)
	if err != nil || !ok {
		return false, err
	}
	return ParseBool(v), nil
}

// SetEnabled writes KeyEnabled.
func SetEnabled(ctx context.Context, s Store, enabled bool) error {
	return s.Set(ctx, KeyEnabled, strconv.FormatBool(enabled))
}

// LastTitleURL reads KeyLastTitleURL, defaulting to "".
func LastTitleURL(ctx context.Context, s Store) (string, error) {
	v, _, err := s.Get(ctx, KeyLastTitleURL)
	return v, err
}

// SetLastTitleURL writes KeyLastTitleURL.
func SetLastTitleURL(ctx context.Context, s Store, url string) error {
	return s.Set(ctx, KeyLastTitleURL, url)
}

// ParseBool is strconv.ParseBool with false for anything unparsable.
func ParseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// notifier fans changes out to subscribers.
type notifier struct {
	mu     sync.Mutex
	subs   map[int]func(Change)
	nextID int
}

func (n *notifier) Subscribe(fn func(Change)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(Change))
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) notify(c Change) {
	n.mu.Lock()
	fns := make([]func(Change), 0, len(n.subs))
	for i := 0; i < n.nextID; i++ {
		if fn, ok := n.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Memory is an in-process Store.
type Memory struct {
	notifier

	mu     sync.Mutex
	values map[string]string
	closed bool
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	old, existed := m.values[key]
	m.values[key] = value
	m.mu.Unlock()

	if !existed || old != value {
		m.notify(Change{Key: key, Old: old, New: value})
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Describe renders the known keys for status output.
func Describe(ctx context.Context, s Store) (map[string]string, error) {
	out := make(map[string]string, 2)
	for _, k := range []string{KeyEnabled, KeyLastTitleURL} {
		v, _, err := s.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
