/*
Package transport provides the links between a dispatcher and its workers.

The broadcast link is a publish/subscribe channel: every subscriber receives every message that
is published, and decides by the message's routing token whether it is relevant. Workers subscribe
to their own token; the dispatcher's reply subscriber subscribes to everything. Ordering is only
preserved between one publisher and one subscriber, and delivery is at-most-once: a message that
cannot be delivered (no subscriber yet, full queue) is dropped.

The point-to-point link (ReqChannel/RepChannel) is a plain ZeroMQ REQ/REP pair, one per worker.
*/
package transport

import (
	"errors"
)

var (
	// Returned by Receive and Publish after Close.
	ErrClosed = errors.New("transport: channel closed")
	// A multi-frame message did not have the [token, payload] layout.
	ErrBadFrame = errors.New("transport: malformed message")
)

// A Publisher sends payloads tagged with a routing token to all subscribers of a channel.
type Publisher interface {
	Publish(token string, payload []byte) error
	Close() error
}

// A Subscriber receives the messages of a channel whose routing token matches one of its
// subscriptions. The empty token subscribes to all messages.
type Subscriber interface {
	Subscribe(token string) error
	// Receive blocks until a matching message arrives or the subscriber is closed. Errors other
	// than ErrClosed concern a single message; the subscriber remains usable.
	Receive() (Message, error)
	Close() error
}

// A RoutedChannel is both ends of a broadcast channel, e.g. an in-process Bus subscriber that
// can also publish.
type RoutedChannel interface {
	Publisher
	Subscriber
}

// tokenFilter implements the subscription semantics shared by all subscribers: a message is
// delivered iff its token equals one of the subscribed tokens, or the empty token was subscribed.
type tokenFilter struct {
	all    bool
	tokens map[string]bool
}

func (f *tokenFilter) add(token string) {
	if token == "" {
		f.all = true
		return
	}
	if f.tokens == nil {
		f.tokens = make(map[string]bool)
	}
	f.tokens[token] = true
}

func (f *tokenFilter) matches(token string) bool {
	return f.all || f.tokens[token]
}
