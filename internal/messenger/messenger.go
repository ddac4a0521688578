// Package messenger carries notifications and requests from the page-level
// components to the background coordinator.
package messenger

import (
	"context"
	"errors"
	"sync"
)

// ErrUnavailable is returned once the coordinator has stopped. Call sites
// treat it as a silent no-op.
var ErrUnavailable = errors.New("messenger: coordinator unavailable")

// MessageType names a message.
type MessageType string

const (
	// RememberTitleURL is a notification carrying a URL; no response.
	RememberTitleURL MessageType = "rememberTitleUrl"
	// GetTitleURL requests the stored title URL.
	GetTitleURL MessageType = "getTitleUrl"
)

// Message is a page to coordinator message.
type Message struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url,omitempty"`
}

// Response answers a request.
type Response struct {
	TitleURL string `json:"titleUrl"`
}

// Messenger sends messages to the coordinator.
type Messenger interface {
	// Send delivers a notification without waiting for it to be handled.
	Send(ctx context.Context, msg Message) error
	// Request delivers msg and waits for the response.
	Request(ctx context.Context, msg Message) (Response, error)
}

type envelope struct {
	msg   Message
	reply chan Response
}

// Channel is an in-process Messenger. Coordinator.Run consumes it.
type Channel struct {
	in   chan envelope
	done chan struct{}
	once sync.Once
}

var _ Messenger = (*Channel)(nil)

// NewChannel creates a channel transport buffering up to buffer notifications.
func NewChannel(buffer int) *Channel {
	return &Channel{
		in:   make(chan envelope, buffer),
		done: make(chan struct{}),
	}
}

func (c *Channel) deliver(ctx context.Context, env envelope) error {
	select {
	case <-c.done:
		return ErrUnavailable
	default:
	}
	select {
	case c.in <- env:
		return nil
	case <-c.done:
		return ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) Send(ctx context.Context, msg Message) error {
	return c.deliver(ctx, envelope{msg: msg})
}

func (c *Channel) Request(ctx context.Context, msg Message) (Response, error) {
	reply := make(chan Response, 1)
	if err := c.deliver(ctx, envelope{msg: msg, reply: reply}); err != nil {
		return Response{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-c.done:
		return Response{}, ErrUnavailable
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Close marks the coordinator as gone. Pending and future calls fail with
// ErrUnavailable.
func (c *Channel) Close() {
	c.once.Do(func() { close(c.done) })
}
