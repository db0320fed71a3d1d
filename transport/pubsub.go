package transport

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/dermesser/clusterdispatch/log"
	smgr "github.com/dermesser/clusterdispatch/securitymanager"

	zmq "github.com/pebbe/zmq4"
)

// How long a blocked Receive holds the socket before checking whether the channel was closed.
const POLL_INTERVAL = 250 * time.Millisecond

// CURVE settings for a socket. The bound side uses Server, the connecting side Client.
// A zero Security means plain text.
type Security struct {
	Server *smgr.ServerSecurityManager
	Client *smgr.ClientSecurityManager
}

func (s Security) apply(sock *zmq.Socket, bind bool) error {
	if bind {
		return s.Server.ApplyToServerSocket(sock)
	}
	return s.Client.ApplyToClientSocket(sock)
}

// Creates a socket, applies security and binds or connects it.
func openSocket(t zmq.Type, endpoint string, bind bool, security Security) (*zmq.Socket, error) {
	sock, err := zmq.NewSocket(t)

	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Error when creating", t, "socket:", err.Error())
		return nil, err
	}

	sock.SetLinger(0)

	if err = security.apply(sock, bind); err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Error when setting up security:", err.Error())
		sock.Close()
		return nil, err
	}

	if bind {
		log.Log(log.LOGLEVEL_INFO, "Binding", t, "to", endpoint)
		err = sock.Bind(endpoint)
	} else {
		log.Log(log.LOGLEVEL_INFO, "Connecting", t, "to", endpoint)
		err = sock.Connect(endpoint)
	}

	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Could not attach", t, "socket to", endpoint, err.Error())
		sock.Close()
		return nil, fmt.Errorf("transport: %s %s: %w", t, endpoint, err)
	}
	return sock, nil
}

func isTimeout(err error) bool {
	return zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN)
}

/*
PubChannel is the sending end of a broadcast channel (a PUB socket). The dispatcher binds one for
tasks; every worker connects one to the dispatcher's reply endpoint.

ZeroMQ sockets are not thread-safe; PubChannel serializes Publish calls.
*/
type PubChannel struct {
	mx       sync.Mutex
	sock     *zmq.Socket
	endpoint string
	closed   bool
}

func NewPubChannel(endpoint string, bind bool, security Security) (*PubChannel, error) {
	sock, err := openSocket(zmq.PUB, endpoint, bind, security)

	if err != nil {
		return nil, err
	}

	return &PubChannel{sock: sock, endpoint: endpoint}, nil
}

func (c *PubChannel) Publish(token string, payload []byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return ErrClosed
	}

	_, err := c.sock.SendMessage(sendable(newMessage(token, payload).serialize())...)

	if err != nil {
		log.Log(log.LOGLEVEL_WARNINGS, "Could not publish to", c.endpoint, "token", token, err.Error())
	}
	return err
}

func (c *PubChannel) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.sock.Close()
}

/*
SubChannel is the receiving end of a broadcast channel (a SUB socket). ZeroMQ filters messages by
prefix of the token frame; SubChannel additionally drops messages whose token is not exactly a
subscribed one, so that worker 1 never sees messages for worker 10.
*/
type SubChannel struct {
	mx       sync.Mutex
	sock     *zmq.Socket
	endpoint string
	filter   tokenFilter
	closed   bool
}

func NewSubChannel(endpoint string, bind bool, security Security) (*SubChannel, error) {
	sock, err := openSocket(zmq.SUB, endpoint, bind, security)

	if err != nil {
		return nil, err
	}

	sock.SetRcvtimeo(POLL_INTERVAL)

	return &SubChannel{sock: sock, endpoint: endpoint}, nil
}

func (c *SubChannel) Subscribe(token string) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return ErrClosed
	}

	if err := c.sock.SetSubscribe(token); err != nil {
		return err
	}
	c.filter.add(token)
	return nil
}

func (c *SubChannel) Receive() (Message, error) {
	for {
		c.mx.Lock()

		if c.closed {
			c.mx.Unlock()
			return Message{}, ErrClosed
		}

		frames, err := c.sock.RecvMessageBytes(0)
		c.mx.Unlock()

		if err != nil {
			if isTimeout(err) {
				continue
			}
			log.Log(log.LOGLEVEL_WARNINGS, "Error when receiving from", c.endpoint, err.Error())
			return Message{}, err
		}

		msg, err := parseMessage(frames)

		if err != nil {
			return Message{}, err
		}

		if !c.matches(msg.Token) {
			continue
		}
		return msg, nil
	}
}

func (c *SubChannel) matches(token string) bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.filter.matches(token)
}

// Close may be called while another goroutine is blocked in Receive; it waits at most
// POLL_INTERVAL for the socket.
func (c *SubChannel) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.sock.Close()
}
