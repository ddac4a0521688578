package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// backend is a durable key/value table shared between processes.
type backend interface {
	get(ctx context.Context, key string) (string, bool, error)
	set(ctx context.Context, key, value string) error
	snapshot(ctx context.Context) (map[string]string, error)
	close() error
}

// Persistent adapts a durable backend to Store. Local writes notify
// immediately; writes from other processes are picked up by polling.
type Persistent struct {
	notifier

	b   backend
	log *zap.Logger

	mu     sync.Mutex
	seen   map[string]string
	closed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPersistent(ctx context.Context, b backend, pollInterval time.Duration, logger *zap.Logger) (*Persistent, error) {
	initial, err := b.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	p := &Persistent{b: b, log: logger, seen: initial}

	pollCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	if pollInterval > 0 {
		p.wg.Add(1)
		go p.poll(pollCtx, pollInterval)
	}
	return p, nil
}

func (p *Persistent) Get(ctx context.Context, key string) (string, bool, error) {
	if p.isClosed() {
		return "", false, ErrClosed
	}
	return p.b.get(ctx, key)
}

func (p *Persistent) Set(ctx context.Context, key, value string) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := p.b.set(ctx, key, value); err != nil {
		return err
	}
	p.observe(key, value)
	return nil
}

// observe records value as the latest known state of key and notifies if it
// differs from what was seen before.
func (p *Persistent) observe(key, value string) {
	p.mu.Lock()
	old, existed := p.seen[key]
	p.seen[key] = value
	p.mu.Unlock()
	if !existed || old != value {
		p.notify(Change{Key: key, Old: old, New: value})
	}
}

func (p *Persistent) poll(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap, err := p.b.snapshot(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn("Failed to poll store for changes.", zap.Error(err))
			}
			continue
		}
		for k, v := range snap {
			p.observe(k, v)
		}
	}
}

func (p *Persistent) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops polling and releases the backend.
func (p *Persistent) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	return p.b.close()
}
