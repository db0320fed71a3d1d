package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/log"
	"github.com/dermesser/clusterdispatch/proto"
	"github.com/dermesser/clusterdispatch/transport"
)

/*
The Router is the only consumer of a dispatcher's reply channel. It decodes every reply, and
settles the Completion registered under the reply's (TaskID, WorkerID). Replies nobody waits for
(duplicates, or replies to abandoned tasks) and undecodable messages are logged and discarded; the
Router never stops because of a bad message.

It also records the READY announcements of workers.
*/
type Router struct {
	sub      transport.Subscriber
	codec    proto.Codec
	registry *Registry

	mx      sync.Mutex
	ready   map[cd.WorkerID]time.Time
	changed chan struct{}

	discarded atomic.Uint64
	malformed atomic.Uint64

	started atomic.Bool
	done    chan struct{}
}

func NewRouter(sub transport.Subscriber, codec proto.Codec, registry *Registry) *Router {
	if codec == nil {
		codec = proto.ProtobufCodec{}
	}
	return &Router{
		sub:      sub,
		codec:    codec,
		registry: registry,
		ready:    make(map[cd.WorkerID]time.Time),
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *Router) subscribe() error {
	if err := r.sub.Subscribe(""); err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Router could not subscribe:", err.Error())
		return err
	}
	r.started.Store(true)
	return nil
}

/*
Start subscribes to all replies and routes them in a new goroutine until Stop is called. Replies
published before Start returns may be lost.
*/
func (r *Router) Start() error {
	if err := r.subscribe(); err != nil {
		return err
	}
	go r.loop()
	return nil
}

// Run is like Start, but routes replies in the calling goroutine. It returns nil after Stop.
func (r *Router) Run() error {
	if err := r.subscribe(); err != nil {
		return err
	}
	return r.loop()
}

func (r *Router) loop() error {
	defer close(r.done)

	for {
		msg, err := r.sub.Receive()

		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				log.Log(log.LOGLEVEL_INFO, "Router stopped")
				return nil
			}
			r.malformed.Add(1)
			log.Log(log.LOGLEVEL_WARNINGS, "Router skipped incoming message, error:", err.Error())
			continue
		}

		r.route(msg)
	}
}

// Stop closes the reply subscriber and waits until the routing loop has returned.
func (r *Router) Stop() error {
	err := r.sub.Close()

	if r.started.Load() {
		<-r.done
	}
	return err
}

func (r *Router) route(msg transport.Message) {
	defer func() {
		if p := recover(); p != nil {
			r.malformed.Add(1)
			log.Log(log.LOGLEVEL_ERRORS, fmt.Sprintf("Router recovered while routing message from %q: %v\n%s",
				msg.Token, p, debug.Stack()))
		}
	}()

	reply, err := r.codec.DecodeReply(msg.Payload)

	if err != nil {
		r.malformed.Add(1)
		log.Log(log.LOGLEVEL_WARNINGS, fmt.Sprintf("Discarded undecodable reply from %q: %s", msg.Token, err.Error()))
		return
	}

	worker := cd.WorkerID(reply.GetWorkerId())

	if msg.Token != worker.Token() {
		log.Log(log.LOGLEVEL_WARNINGS, fmt.Sprintf("Reply from %s has token %q", worker, msg.Token))
	}

	r.markReady(worker)

	if reply.GetStatus() == proto.Reply_STATUS_READY {
		return
	}

	key := cd.CorrelationKey{Task: cd.TaskID(reply.GetTaskId()), Worker: worker}

	if !r.registry.Settle(key, reply) {
		r.discarded.Add(1)
		log.Log(log.LOGLEVEL_WARNINGS, fmt.Sprintf("[%s] Discarded duplicate or stale reply (%s)", key, reply.GetStatus()))
		return
	}

	if log.IsLoggingEnabled(log.LOGLEVEL_DEBUG) {
		log.Log(log.LOGLEVEL_DEBUG, fmt.Sprintf("[%s] Settled with %s", key, reply.GetStatus()))
	}
}

func (r *Router) markReady(worker cd.WorkerID) {
	r.mx.Lock()
	defer r.mx.Unlock()

	_, known := r.ready[worker]
	r.ready[worker] = time.Now()

	if !known {
		log.Log(log.LOGLEVEL_INFO, worker, "is ready")
		close(r.changed)
		r.changed = make(chan struct{})
	}
}

// Whether worker has announced itself or replied to a task.
func (r *Router) IsReady(worker cd.WorkerID) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	_, ok := r.ready[worker]
	return ok
}

// When the Router last heard from worker; the zero time if never.
func (r *Router) LastSeen(worker cd.WorkerID) time.Time {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.ready[worker]
}

/*
Ready blocks until every worker in workers has announced itself, or ctx is done. Tasks published
to a worker before it is ready are lost, because a subscriber only receives messages published
after it has connected.
*/
func (r *Router) Ready(ctx context.Context, workers []cd.WorkerID) error {
	for {
		r.mx.Lock()
		var missing []cd.WorkerID
		for _, w := range workers {
			if _, ok := r.ready[w]; !ok {
				missing = append(missing, w)
			}
		}
		changed := r.changed
		r.mx.Unlock()

		if len(missing) == 0 {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
			return fmt.Errorf("%w: %v not ready: %s", ErrTimeout, missing, ctx.Err())
		}
	}
}

// Number of replies that were discarded because nobody waited for them.
func (r *Router) Discarded() uint64 {
	return r.discarded.Load()
}

// Number of messages that could not be decoded.
func (r *Router) Malformed() uint64 {
	return r.malformed.Load()
}
