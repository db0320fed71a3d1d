package dispatch

import (
	"errors"
	"fmt"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/proto"
)

// Error classes. Every error returned by this package matches one of them with errors.Is.
var (
	// The pool has no workers; reported immediately.
	ErrNoWorkers = errors.New("no workers available")
	// The caller's input is unusable.
	ErrMalformedInput = errors.New("malformed input")
	// A worker did not reply in time.
	ErrTimeout = errors.New("worker unresponsive")
	// A worker replied with an error status.
	ErrWorkerFailed = errors.New("worker failed")
	// The dispatcher was closed while the task was outstanding.
	ErrClosed = errors.New("dispatcher closed")
	// A CorrelationKey was registered twice.
	ErrDuplicateKey = errors.New("correlation key already registered")
)

/*
A DispatchError describes why a task failed. Err is one of the error classes above; Status is the
reply status if a worker replied at all (STATUS_UNKNOWN otherwise).

Use errors.Is(err, ErrTimeout) etc. to classify errors, and errors.As to obtain the details.
*/
type DispatchError struct {
	Status  proto.Reply_Status
	Err     error
	Key     cd.CorrelationKey
	Message string
}

func (e *DispatchError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Key, e.Err.Error())

	if e.Status != proto.Reply_STATUS_UNKNOWN {
		s += " (" + e.Status.String() + ")"
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func newError(key cd.CorrelationKey, class error, msg string) *DispatchError {
	return &DispatchError{Err: class, Key: key, Message: msg}
}

// Converts a non-OK reply into an error.
func replyError(key cd.CorrelationKey, reply *proto.Reply) *DispatchError {
	return &DispatchError{
		Status:  reply.GetStatus(),
		Err:     ErrWorkerFailed,
		Key:     key,
		Message: reply.GetErrorMessage(),
	}
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}
