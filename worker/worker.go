/*
Package worker implements the executing side of a pool.

A Worker holds a table of handlers keyed by operation name. It receives tasks addressed to its
WorkerID, runs the matching handler synchronously (one task at a time), and sends back a reply
carrying the task's TaskID and the worker's own ID. Tasks are received either from a broadcast
channel (ServeBroadcast) or from a point-to-point REP channel (ServeDirect).
*/
package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/log"
	"github.com/dermesser/clusterdispatch/proto"

	"go.uber.org/zap"
)

// Interval at which a broadcast worker repeats its READY announcement.
const DEFAULT_HEARTBEAT = 2 * time.Second

// Built-in operations.
const (
	OP_PING   = "__ping"
	OP_HEALTH = "__health"
)

/*
Type of a function that is called when the corresponding operation is requested.
*/
type Handler func(*Context)

/*
Receives tasks and runs the registered handlers.
*/
type Worker struct {
	id    cd.WorkerID
	codec proto.Codec
	name  string

	hmx      sync.RWMutex
	handlers map[string]Handler

	heartbeat time.Duration
	// Respond "no" to health checks
	lameduck_state atomic.Bool

	trafficlog *zap.SugaredLogger

	stop     chan struct{}
	stopOnce sync.Once
}

/*
Create a worker with identity id that decodes tasks with codec (nil means protobuf).

Use the setter functions before calling one of the Serve methods, otherwise they might be ignored.
*/
func New(id cd.WorkerID, codec proto.Codec) *Worker {
	if codec == nil {
		codec = proto.ProtobufCodec{}
	}

	w := &Worker{
		id:        id,
		codec:     codec,
		name:      id.String() + "/" + log.GetLogToken(),
		handlers:  make(map[string]Handler),
		heartbeat: DEFAULT_HEARTBEAT,
		stop:      make(chan struct{}),
	}

	w.RegisterHandler(OP_HEALTH, w.makeHealthHandler())
	w.RegisterHandler(OP_PING, pingHandler)

	return w
}

func (w *Worker) ID() cd.WorkerID {
	return w.id
}

// Set how often a broadcast worker announces that it is ready. 0 announces only once.
func (w *Worker) SetHeartbeat(d time.Duration) {
	w.heartbeat = d
}

/*
Log the input and output of every task to this logger. nil disables traffic logging.
*/
func (w *Worker) SetTrafficLogger(l *zap.Logger) {
	if l == nil {
		w.trafficlog = nil
		return
	}
	w.trafficlog = l.Named(w.id.String()).Sugar()
}

/*
Add a handler for operation op.

err is not nil if the operation is already registered.
*/
func (w *Worker) RegisterHandler(op string, handler Handler) error {
	w.hmx.Lock()
	defer w.hmx.Unlock()

	if _, ok := w.handlers[op]; ok {
		log.Log(log.LOGLEVEL_WARNINGS, "Trying to register existing operation:", op)
		return errors.New("Operation already registered; not overwritten")
	}

	log.Log(log.LOGLEVEL_INFO, "Registered operation:", op, "on", w.name)

	w.handlers[op] = handler
	return nil
}

/*
Removes an operation from the set of served operations.

Returns an error if the operation doesn't exist.
*/
func (w *Worker) UnregisterHandler(op string) error {
	w.hmx.Lock()
	defer w.hmx.Unlock()

	if _, ok := w.handlers[op]; !ok {
		log.Log(log.LOGLEVEL_WARNINGS, "Trying to unregister non-existing operation:", op)
		return errors.New("No such operation")
	}

	log.Log(log.LOGLEVEL_INFO, "Unregistered operation:", op, "on", w.name)
	delete(w.handlers, op)
	return nil
}

// Returns a handler, or nil if none was found.
func (w *Worker) findHandler(op string) Handler {
	w.hmx.RLock()
	defer w.hmx.RUnlock()
	return w.handlers[op]
}

/*
A worker that is in lameduck mode will respond negatively to health checks
but continue serving tasks.
*/
func (w *Worker) SetLameduck(lameduck bool) {
	w.lameduck_state.Store(lameduck)
}

// Makes the Serve methods return. A stopped worker can not be restarted.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *Worker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}
