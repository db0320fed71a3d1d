/*
Package dispatch implements the dispatching side of a pool: it sends tasks to workers and
correlates their replies with the waiting callers.

Every task is addressed to one worker and tagged with a TaskID. Before a task is sent, a
Completion is registered under (TaskID, WorkerID) in the Registry. In broadcast mode, tasks are
published on a channel all workers listen to, and a Router settles the Completions as replies
arrive on the shared reply channel. In direct mode, every worker has its own REQ/REP channel and
each call settles its own Completion.

A Dispatcher sends single tasks round-robin; a Coordinator splits a sequence over all workers and
merges the partial results.
*/
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/log"
	"github.com/dermesser/clusterdispatch/proto"
	"github.com/dermesser/clusterdispatch/queue"
	"github.com/dermesser/clusterdispatch/transport"
)

// Carries tasks to workers. Implementations settle or fail the task's Completion eventually,
// or return an error from send.
type backend interface {
	send(task *proto.Task, c *Completion) error
	close() error
}

/*
A Dispatcher sends tasks to a fixed set of workers and waits for their replies. It is threadsafe;
any number of tasks may be outstanding at the same time.
*/
type Dispatcher struct {
	name     string
	codec    proto.Codec
	params   Params
	registry *Registry
	router   *Router
	backend  backend

	// in configured order
	workers []cd.WorkerID

	rrmx sync.Mutex
	ring *queue.Ring[cd.WorkerID]

	last_task atomic.Uint64
	closed    atomic.Bool
}

func newDispatcher(workers []cd.WorkerID, codec proto.Codec, params *Params) (*Dispatcher, error) {
	if codec == nil {
		codec = proto.ProtobufCodec{}
	}
	if params == nil {
		params = NewParams()
	}

	d := &Dispatcher{
		name:     "dispatcher/" + log.GetLogToken(),
		codec:    codec,
		params:   *params,
		registry: NewRegistry(),
		workers:  append([]cd.WorkerID{}, workers...),
		ring:     queue.NewRing[cd.WorkerID](len(workers)),
	}

	if d.params.caller_id == "" {
		d.params.caller_id = d.name
	}

	seen := make(map[cd.WorkerID]bool)
	for _, w := range workers {
		if seen[w] {
			return nil, fmt.Errorf("%s configured twice", w)
		}
		seen[w] = true
		d.ring.Push(w)
	}
	return d, nil
}

/*
Create a dispatcher that publishes tasks on tasks and receives replies from replies. It starts a
Router for replies and takes ownership of both channels.
*/
func NewBroadcast(workers []cd.WorkerID, tasks transport.Publisher, replies transport.Subscriber,
	codec proto.Codec, params *Params) (*Dispatcher, error) {
	d, err := newDispatcher(workers, codec, params)

	if err != nil {
		return nil, err
	}

	d.router = NewRouter(replies, d.codec, d.registry)
	d.backend = &broadcastBackend{pub: tasks, codec: d.codec}

	if err = d.router.Start(); err != nil {
		return nil, err
	}

	log.Log(log.LOGLEVEL_INFO, d.name, "dispatching to", len(workers), "workers by broadcast")
	return d, nil
}

// A Caller sends a request to one worker and returns its reply, like transport.ReqChannel.
type Caller interface {
	Call(request []byte) ([]byte, error)
	Close() error
}

// A worker reachable over a point-to-point channel.
type Peer struct {
	ID      cd.WorkerID
	Channel Caller
}

/*
Create a dispatcher that sends every task over the channel of the addressed worker. It takes
ownership of the channels.
*/
func NewDirect(peers []Peer, codec proto.Codec, params *Params) (*Dispatcher, error) {
	workers := make([]cd.WorkerID, len(peers))
	channels := make(map[cd.WorkerID]Caller, len(peers))

	for i, p := range peers {
		workers[i] = p.ID
		channels[p.ID] = p.Channel
	}

	d, err := newDispatcher(workers, codec, params)

	if err != nil {
		return nil, err
	}

	d.backend = &directBackend{peers: channels, codec: d.codec, registry: d.registry}

	log.Log(log.LOGLEVEL_INFO, d.name, "dispatching to", len(workers), "workers directly")
	return d, nil
}

// The configured workers, in configured order.
func (d *Dispatcher) Workers() []cd.WorkerID {
	return append([]cd.WorkerID{}, d.workers...)
}

// Workers in increasing WorkerID order.
func (d *Dispatcher) sortedWorkers() []cd.WorkerID {
	w := d.Workers()
	sort.Slice(w, func(i, j int) bool { return w[i] < w[j] })
	return w
}

func (d *Dispatcher) Codec() proto.Codec {
	return d.codec
}

// Number of replies currently awaited.
func (d *Dispatcher) Outstanding() int {
	return d.registry.Len()
}

// Returns the Router in broadcast mode, nil otherwise.
func (d *Dispatcher) Router() *Router {
	return d.router
}

/*
WaitReady blocks until all workers have announced themselves (broadcast mode). In direct mode it
returns immediately.
*/
func (d *Dispatcher) WaitReady(ctx context.Context) error {
	if d.router == nil {
		return nil
	}
	return d.router.Ready(ctx, d.workers)
}

func (d *Dispatcher) newTaskID() cd.TaskID {
	// TaskIDs start at 1; 0 is used by READY announcements.
	return cd.TaskID(d.last_task.Add(1))
}

// Selects the next worker round-robin. The rotation advances on every call, whatever happens to
// the task.
func (d *Dispatcher) nextWorker() (cd.WorkerID, bool) {
	d.rrmx.Lock()
	defer d.rrmx.Unlock()
	return d.ring.Rotate()
}

/*
SubmitTask sends one task to the next worker (round-robin) and returns the worker's result.
After a timeout, the task is retried on the following worker with a new TaskID, up to the
configured number of retries.

Returns an ErrNoWorkers error without blocking if there are no workers.
*/
func (d *Dispatcher) SubmitTask(ctx context.Context, op string, data []byte) ([]byte, error) {
	if d.closed.Load() {
		return nil, newError(cd.CorrelationKey{}, ErrClosed, "")
	}

	attempts := int(d.params.retries) + 1
	var err error

	for i := 0; i < attempts; i++ {
		worker, ok := d.nextWorker()

		if !ok {
			return nil, newError(cd.CorrelationKey{}, ErrNoWorkers, "")
		}

		var result []byte
		result, err = d.SubmitTo(ctx, worker, op, data)

		if err == nil || !isTimeout(err) || ctx.Err() != nil {
			return result, err
		}

		if i+1 < attempts {
			log.Log(log.LOGLEVEL_WARNINGS, d.name, "retrying after:", err.Error())
		}
	}
	return nil, err
}

/*
SubmitTo sends one task to the given worker and returns its result. It is not retried.
*/
func (d *Dispatcher) SubmitTo(ctx context.Context, worker cd.WorkerID, op string, data []byte) ([]byte, error) {
	reply, err := d.call(ctx, d.newTaskID(), worker, op, data)

	if err != nil {
		return nil, err
	}
	return reply.GetResult(), nil
}

// Ping sends the built-in ping operation to worker.
func (d *Dispatcher) Ping(ctx context.Context, worker cd.WorkerID) error {
	_, err := d.SubmitTo(ctx, worker, "__ping", nil)
	return err
}

// Health sends the built-in health check to worker, which fails for a worker in lameduck mode.
func (d *Dispatcher) Health(ctx context.Context, worker cd.WorkerID) error {
	_, err := d.SubmitTo(ctx, worker, "__health", nil)
	return err
}

func (d *Dispatcher) call(ctx context.Context, task_id cd.TaskID, worker cd.WorkerID, op string, data []byte) (*proto.Reply, error) {
	c, err := d.start(ctx, task_id, worker, op, data)

	if err != nil {
		return nil, err
	}
	return d.await(ctx, c)
}

// Registers a completion and sends the task.
func (d *Dispatcher) start(ctx context.Context, task_id cd.TaskID, worker cd.WorkerID, op string, data []byte) (*Completion, error) {
	if d.closed.Load() {
		return nil, newError(cd.CorrelationKey{Task: task_id, Worker: worker}, ErrClosed, "")
	}

	key := cd.CorrelationKey{Task: task_id, Worker: worker}
	c, err := d.registry.Register(key)

	if err != nil {
		return nil, err
	}

	ctxDeadline, hasDeadline := ctx.Deadline()
	task := &proto.Task{
		TaskId:    uint64(task_id),
		WorkerId:  uint32(worker),
		Operation: op,
		Data:      data,
		Deadline:  d.params.deadline(ctxDeadline, hasDeadline),
		CallerId:  d.params.caller_id,
	}

	if log.IsLoggingEnabled(log.LOGLEVEL_DEBUG) {
		log.Log(log.LOGLEVEL_DEBUG, fmt.Sprintf("[%s] %s %s (%d B)", key, d.name, op, len(data)))
	}

	if err = d.backend.send(task, c); err != nil {
		d.registry.Abandon(key)
		return nil, fmt.Errorf("[%s] could not send task: %w", key, err)
	}
	return c, nil
}

// Waits for c, with the configured timeout.
func (d *Dispatcher) await(ctx context.Context, c *Completion) (*proto.Reply, error) {
	if d.params.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.params.timeout)
		defer cancel()
	}

	reply, err := c.Wait(ctx)

	if err != nil {
		log.Log(log.LOGLEVEL_INFO, d.name, err.Error())
	}
	return reply, err
}

// Close stops the dispatcher. Outstanding calls fail with ErrClosed.
func (d *Dispatcher) Close() error {
	if d.closed.Swap(true) {
		return nil
	}

	d.registry.Close()

	var err error
	if d.router != nil {
		err = d.router.Stop()
	}
	if berr := d.backend.close(); err == nil {
		err = berr
	}
	return err
}

type broadcastBackend struct {
	pub   transport.Publisher
	codec proto.Codec
}

func (b *broadcastBackend) send(task *proto.Task, _ *Completion) error {
	buf, err := b.codec.EncodeTask(task)

	if err != nil {
		return err
	}
	return b.pub.Publish(cd.WorkerID(task.GetWorkerId()).Token(), buf)
}

func (b *broadcastBackend) close() error {
	return b.pub.Close()
}

type directBackend struct {
	peers    map[cd.WorkerID]Caller
	codec    proto.Codec
	registry *Registry
}

// The call runs in its own goroutine, so that the caller can give up waiting. Calls to the same
// worker are serialized by its channel.
func (b *directBackend) send(task *proto.Task, c *Completion) error {
	peer, ok := b.peers[cd.WorkerID(task.GetWorkerId())]

	if !ok {
		return fmt.Errorf("%w: no channel to worker %d", ErrNoWorkers, task.GetWorkerId())
	}

	buf, err := b.codec.EncodeTask(task)

	if err != nil {
		return err
	}

	go func() {
		key := c.Key()
		rbuf, err := peer.Call(buf)

		if err != nil {
			b.registry.Fail(key, newError(key, ErrTimeout, err.Error()))
			return
		}

		reply, err := b.codec.DecodeReply(rbuf)

		if err != nil {
			log.Log(log.LOGLEVEL_WARNINGS, fmt.Sprintf("[%s] Undecodable reply: %s", key, err.Error()))
			b.registry.Fail(key, &DispatchError{Status: proto.Reply_STATUS_SERVER_ERROR, Err: ErrWorkerFailed,
				Key: key, Message: "undecodable reply"})
			return
		}

		if !b.registry.Settle(key, reply) {
			log.Log(log.LOGLEVEL_WARNINGS, fmt.Sprintf("[%s] Discarded late reply (%s)", key, reply.GetStatus()))
		}
	}()
	return nil
}

func (b *directBackend) close() error {
	var first error
	for _, p := range b.peers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
