package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/reference"
	"github.com/xkilldash9x/netflix-shuffle/internal/store"
)

// Coordinator is the privileged background context. It owns the toggle
// action and the badge, and answers page messages from the flag store.
type Coordinator struct {
	store   store.Store
	badge   Badge
	ch      *Channel
	baseURL string
	logger  *zap.Logger

	// mu serializes toggles so two concurrent flips do not cancel out.
	mu sync.Mutex
}

// NewCoordinator creates a coordinator serving ch.
func NewCoordinator(st store.Store, badge Badge, ch *Channel, baseURL string, logger *zap.Logger) *Coordinator {
	if baseURL == "" {
		baseURL = reference.DefaultBaseURL
	}
	return &Coordinator{
		store:   st,
		badge:   badge,
		ch:      ch,
		baseURL: baseURL,
		logger:  logger.Named("coordinator"),
	}
}

// Run syncs the badge and serves messages until ctx is done. The channel is
// closed on return.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.ch.Close()

	if err := c.Sync(ctx); err != nil {
		c.logger.Warn("Initial badge sync failed.", zap.Error(err))
	}
	unsubscribe := c.store.Subscribe(func(ch store.Change) {
		if ch.Key == store.KeyEnabled {
			c.apply(store.ParseBool(ch.New))
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-c.ch.in:
			c.handle(ctx, env)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, env envelope) {
	switch env.msg.Type {
	case RememberTitleURL:
		if err := c.Remember(ctx, env.msg.URL); err != nil {
			c.logger.Warn("Failed to remember title.", zap.Error(err))
		}
	case GetTitleURL:
		url, err := store.LastTitleURL(ctx, c.store)
		if err != nil {
			c.logger.Warn("Failed to read title.", zap.Error(err))
		}
		if env.reply != nil {
			env.reply <- Response{TitleURL: url}
		}
		return
	default:
		c.logger.Debug("Ignoring unknown message.", zap.String("type", string(env.msg.Type)))
	}
	// Notifications that were sent as requests still get an empty answer.
	if env.reply != nil {
		env.reply <- Response{}
	}
}

// Sync applies the stored flag to the badge.
func (c *Coordinator) Sync(ctx context.Context) error {
	enabled, err := store.Enabled(ctx, c.store)
	if err != nil {
		return err
	}
	c.apply(enabled)
	return nil
}

func (c *Coordinator) apply(enabled bool) {
	c.badge.SetText(BadgeText(enabled))
	c.logger.Info("Enabled state applied.", zap.Bool("enabled", enabled))
}

// Toggle flips the enabled flag and remembers tabURL as the current title.
// It returns the new state.
func (c *Coordinator) Toggle(ctx context.Context, tabURL string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	enabled, err := store.Enabled(ctx, c.store)
	if err != nil {
		return false, fmt.Errorf("failed to read enabled flag: %w", err)
	}
	return !enabled, c.setLocked(ctx, !enabled, tabURL)
}

// SetEnabled writes the flag explicitly.
func (c *Coordinator) SetEnabled(ctx context.Context, enabled bool, tabURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(ctx, enabled, tabURL)
}

func (c *Coordinator) setLocked(ctx context.Context, enabled bool, tabURL string) error {
	c.apply(enabled)
	if err := store.SetEnabled(ctx, c.store, enabled); err != nil {
		return fmt.Errorf("failed to write enabled flag: %w", err)
	}
	if err := c.Remember(ctx, tabURL); err != nil {
		c.logger.Warn("Failed to remember tab title.", zap.Error(err))
	}
	return nil
}

// TitleFor returns url itself when it is a title URL, the title derived from
// an absolute watch URL, or "".
func (c *Coordinator) TitleFor(url string) string {
	if url == "" {
		return ""
	}
	if reference.IsTitleURL(url) {
		return url
	}
	return reference.DeriveFromURL(c.baseURL, url)
}

// Remember stores the title for url, if one can be determined.
func (c *Coordinator) Remember(ctx context.Context, url string) error {
	title := c.TitleFor(url)
	if title == "" {
		return nil
	}
	if err := store.SetLastTitleURL(ctx, c.store, title); err != nil {
		if errors.Is(err, store.ErrClosed) {
			return nil
		}
		return err
	}
	c.logger.Info("Remembered title.", zap.String("url", title))
	return nil
}
