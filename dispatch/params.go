package dispatch

import (
	"time"
)

// Various parameters determining how a task is executed. There are builder methods to set the
// various parameters.
type Params struct {
	timeout              time.Duration
	retries              uint
	deadline_propagation bool
	caller_id            string
}

func NewParams() *Params {
	return &Params{}
}

// How long to wait for each reply. 0 waits until the context passed to the call is done.
func (p *Params) Timeout(d time.Duration) *Params {
	p.timeout = d
	return p
}

// How often a single task is retried after a timeout. Every attempt goes to the next worker.
// Default: 0
func (p *Params) Retries(r uint) *Params {
	p.retries = r
	return p
}

// Whether to tell workers the time beyond which they don't need to bother replying. The deadline
// is the earlier of the context's deadline and now + timeout.
func (p *Params) DeadlinePropagation(b bool) *Params {
	p.deadline_propagation = b
	return p
}

// The name that workers show in their logs for tasks from this dispatcher.
func (p *Params) CallerID(id string) *Params {
	p.caller_id = id
	return p
}

func (p *Params) GetTimeout() time.Duration {
	return p.timeout
}

func (p *Params) GetRetries() uint {
	return p.retries
}

// Returns the deadline to send with a task, in unix microseconds; 0 for none.
func (p *Params) deadline(ctxDeadline time.Time, hasDeadline bool) int64 {
	if !p.deadline_propagation {
		return 0
	}

	var d time.Time
	if p.timeout > 0 {
		d = time.Now().Add(p.timeout)
	}
	if hasDeadline && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}

	if d.IsZero() {
		return 0
	}
	return d.UnixMicro()
}
