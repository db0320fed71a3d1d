package transport

import (
	"sync"
	"time"

	"github.com/dermesser/clusterdispatch/log"

	zmq "github.com/pebbe/zmq4"
)

// A point-to-point channel to a single worker (a REQ socket). It is threadsafe; concurrent calls
// are serialized, so a worker never has more than one outstanding request from this channel.
type ReqChannel struct {
	mx       sync.Mutex
	sock     *zmq.Socket
	endpoint string
	timeout  time.Duration
	security Security
}

// Create a new ReqChannel connected to endpoint. A timeout of 0 waits forever for replies.
func NewReqChannel(endpoint string, timeout time.Duration, security Security) (*ReqChannel, error) {
	c := &ReqChannel{endpoint: endpoint, timeout: timeout, security: security}

	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ReqChannel) connect() error {
	sock, err := openSocket(zmq.REQ, c.endpoint, false, c.security)

	if err != nil {
		return err
	}

	sock.SetReconnectIvl(100 * time.Millisecond)
	sock.SetReqRelaxed(1)
	sock.SetReqCorrelate(1)

	c.sock = sock
	c.applyTimeout()
	return nil
}

func (c *ReqChannel) applyTimeout() {
	d := c.timeout
	if d == 0 {
		d = -1
	}
	c.sock.SetSndtimeo(d)
	c.sock.SetRcvtimeo(d)
}

func (c *ReqChannel) Endpoint() string {
	return c.endpoint
}

func (c *ReqChannel) SetTimeout(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.timeout = d
	if c.sock != nil {
		c.applyTimeout()
	}
}

// Send a request and wait for its reply. After a timeout, the socket is recreated so that a late
// reply cannot be mistaken for the answer to the next request.
func (c *ReqChannel) Call(request []byte) ([]byte, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.sock == nil {
		return nil, ErrClosed
	}

	_, err := c.sock.SendBytes(request, 0)

	if err == nil {
		var reply []byte
		reply, err = c.sock.RecvBytes(0)

		if err == nil {
			return reply, nil
		}
	}

	log.Log(log.LOGLEVEL_WARNINGS, "Request to", c.endpoint, "failed:", err.Error())

	c.sock.Close()
	c.sock = nil

	if cerr := c.connect(); cerr != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Could not reconnect to", c.endpoint, cerr.Error())
	}
	return nil, err
}

func (c *ReqChannel) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.sock == nil {
		return nil
	}
	err := c.sock.Close()
	c.sock = nil
	return err
}

// The worker's end of a point-to-point channel (a REP socket). Every Receive must be followed by
// exactly one Reply.
type RepChannel struct {
	mx       sync.Mutex
	sock     *zmq.Socket
	endpoint string
	closed   bool
}

func NewRepChannel(endpoint string, security Security) (*RepChannel, error) {
	sock, err := openSocket(zmq.REP, endpoint, true, security)

	if err != nil {
		return nil, err
	}

	sock.SetRcvtimeo(POLL_INTERVAL)

	return &RepChannel{sock: sock, endpoint: endpoint}, nil
}

func (c *RepChannel) Receive() ([]byte, error) {
	for {
		c.mx.Lock()

		if c.closed {
			c.mx.Unlock()
			return nil, ErrClosed
		}

		msg, err := c.sock.RecvBytes(0)
		c.mx.Unlock()

		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, err
		}
		return msg, nil
	}
}

func (c *RepChannel) Reply(payload []byte) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return ErrClosed
	}

	_, err := c.sock.SendBytes(payload, 0)
	return err
}

func (c *RepChannel) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.sock.Close()
}
