package transport

import (
	"sync"

	"github.com/dermesser/clusterdispatch/log"
)

// Default number of messages a BusSubscriber buffers before dropping.
const DEFAULT_BUS_BUFFER = 1024

/*
Bus is an in-process broadcast channel with the same delivery contract as a PUB/SUB pair:
every subscriber whose subscriptions match a message's token gets its own copy, and a subscriber
whose buffer is full loses the message (like a PUB socket at its high-water mark).

Bus is used when dispatcher and workers run in the same process, and in tests.
*/
type Bus struct {
	mx     sync.RWMutex
	subs   map[*BusSubscriber]struct{}
	buffer int
	closed bool
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DEFAULT_BUS_BUFFER
	}
	return &Bus{subs: make(map[*BusSubscriber]struct{}), buffer: buffer}
}

func (b *Bus) Publish(token string, payload []byte) error {
	b.mx.RLock()
	defer b.mx.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for s := range b.subs {
		if !s.matches(token) {
			continue
		}

		msg := newMessage(token, append([]byte(nil), payload...))

		select {
		case s.inbox <- msg:
		default:
			log.Log(log.LOGLEVEL_WARNINGS, "Bus subscriber is full; dropped message for token", token)
		}
	}
	return nil
}

// Subscriber attaches a new subscriber to the bus. It receives nothing until Subscribe is called.
func (b *Bus) Subscriber() *BusSubscriber {
	s := &BusSubscriber{bus: b, inbox: make(chan Message, b.buffer), done: make(chan struct{})}

	b.mx.Lock()
	defer b.mx.Unlock()

	if b.closed {
		close(s.done)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Close detaches and closes all subscribers.
func (b *Bus) Close() error {
	b.mx.Lock()
	subs := b.subs
	b.subs = make(map[*BusSubscriber]struct{})
	b.closed = true
	b.mx.Unlock()

	for s := range subs {
		s.shutdown()
	}
	return nil
}

func (b *Bus) detach(s *BusSubscriber) {
	b.mx.Lock()
	defer b.mx.Unlock()
	delete(b.subs, s)
}

// A subscriber on a Bus. It can also publish to its bus, which makes it a RoutedChannel.
type BusSubscriber struct {
	bus   *Bus
	inbox chan Message
	done  chan struct{}
	once  sync.Once

	mx     sync.Mutex
	filter tokenFilter
}

func (s *BusSubscriber) Subscribe(token string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	s.filter.add(token)
	return nil
}

func (s *BusSubscriber) matches(token string) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.filter.matches(token)
}

func (s *BusSubscriber) Receive() (Message, error) {
	select {
	case msg := <-s.inbox:
		return msg, nil
	case <-s.done:
		return Message{}, ErrClosed
	}
}

func (s *BusSubscriber) Publish(token string, payload []byte) error {
	return s.bus.Publish(token, payload)
}

func (s *BusSubscriber) Close() error {
	s.bus.detach(s)
	s.shutdown()
	return nil
}

func (s *BusSubscriber) shutdown() {
	s.once.Do(func() { close(s.done) })
}

var _ RoutedChannel = (*BusSubscriber)(nil)
var _ Publisher = (*Bus)(nil)
var _ Publisher = (*PubChannel)(nil)
var _ Subscriber = (*SubChannel)(nil)
