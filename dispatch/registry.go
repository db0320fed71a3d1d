package dispatch

import (
	"context"
	"errors"
	"sync"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/log"
	"github.com/dermesser/clusterdispatch/proto"
)

type outcome struct {
	reply *proto.Reply
	err   error
}

/*
A Completion is the handle for one expected reply. It is settled at most once (by the Router, or
by a failure), and Wait must be called at most once.
*/
type Completion struct {
	key      cd.CorrelationKey
	ch       chan outcome
	registry *Registry
}

func (c *Completion) Key() cd.CorrelationKey {
	return c.key
}

/*
Wait blocks until the completion is settled or ctx is done. If ctx expires first, the completion is
abandoned, so that a late reply is discarded, and an ErrTimeout error is returned. If ctx is
canceled, ctx.Err() is returned.

The returned reply always has status OK; other statuses are returned as ErrWorkerFailed errors.
*/
func (c *Completion) Wait(ctx context.Context) (*proto.Reply, error) {
	select {
	case o := <-c.ch:
		return o.reply, o.err
	case <-ctx.Done():
	}

	// The reply may have arrived concurrently; prefer it.
	if c.registry.take(c.key) == nil {
		o := <-c.ch
		return o.reply, o.err
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, newError(c.key, ErrTimeout, "no reply before deadline")
	}
	return nil, ctx.Err()
}

/*
The Registry maps the CorrelationKeys of outstanding replies to their Completions. It is shared by
the dispatching goroutines (Register, Abandon) and the Router (Settle); all methods are
threadsafe.
*/
type Registry struct {
	mx      sync.Mutex
	pending map[cd.CorrelationKey]*Completion
	closed  bool
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[cd.CorrelationKey]*Completion)}
}

// Register a new expected reply. Must be called before the corresponding task is sent.
func (r *Registry) Register(key cd.CorrelationKey) (*Completion, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed {
		return nil, newError(key, ErrClosed, "")
	}

	if _, ok := r.pending[key]; ok {
		return nil, newError(key, ErrDuplicateKey, "")
	}

	c := &Completion{key: key, ch: make(chan outcome, 1), registry: r}
	r.pending[key] = c
	return c, nil
}

// Removes the entry for key, if any.
func (r *Registry) take(key cd.CorrelationKey) *Completion {
	r.mx.Lock()
	defer r.mx.Unlock()

	c, ok := r.pending[key]
	if !ok {
		return nil
	}
	delete(r.pending, key)
	return c
}

/*
Settle the completion registered under the reply's key. Returns false if there is none; the reply
is then a duplicate or belongs to an abandoned task.
*/
func (r *Registry) Settle(key cd.CorrelationKey, reply *proto.Reply) bool {
	c := r.take(key)

	if c == nil {
		return false
	}

	if reply.GetStatus() == proto.Reply_STATUS_OK {
		c.ch <- outcome{reply: reply}
	} else {
		c.ch <- outcome{err: replyError(key, reply)}
	}
	return true
}

// Settle the completion registered under key with an error. Returns false if there is none.
func (r *Registry) Fail(key cd.CorrelationKey, err error) bool {
	c := r.take(key)

	if c == nil {
		return false
	}
	c.ch <- outcome{err: err}
	return true
}

// Remove the entry for key. A caller still waiting for it gets an ErrTimeout error. Returns false
// if there is none.
func (r *Registry) Abandon(key cd.CorrelationKey) bool {
	return r.Fail(key, newError(key, ErrTimeout, "abandoned"))
}

// Settle all outstanding completions of a task with err. Returns their number.
func (r *Registry) FailTask(task cd.TaskID, err error) int {
	r.mx.Lock()
	var failed []*Completion
	for key, c := range r.pending {
		if key.Task == task {
			delete(r.pending, key)
			failed = append(failed, c)
		}
	}
	r.mx.Unlock()

	for _, c := range failed {
		c.ch <- outcome{err: err}
	}
	return len(failed)
}

// Number of outstanding replies.
func (r *Registry) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.pending)
}

// Fail all outstanding completions with ErrClosed and refuse new registrations.
func (r *Registry) Close() {
	r.mx.Lock()
	pending := r.pending
	r.pending = make(map[cd.CorrelationKey]*Completion)
	r.closed = true
	r.mx.Unlock()

	if len(pending) > 0 {
		log.Log(log.LOGLEVEL_INFO, "Failing", len(pending), "outstanding replies on close")
	}

	for key, c := range pending {
		c.ch <- outcome{err: newError(key, ErrClosed, "")}
	}
}
