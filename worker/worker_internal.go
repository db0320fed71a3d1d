package worker

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dermesser/clusterdispatch/log"
	"github.com/dermesser/clusterdispatch/proto"
	"github.com/dermesser/clusterdispatch/transport"
)

/*
This file has the internal functions, the actual serve loops; worker.go remains
uncluttered and with only public functions.
*/

/*
Serve tasks from a broadcast channel until Stop is called. The worker subscribes tasks to its own
token and publishes replies (and READY announcements) to replies. ServeBroadcast takes ownership of
tasks and closes it when returning; replies is left open, as it may be shared.
*/
func (w *Worker) ServeBroadcast(tasks transport.Subscriber, replies transport.Publisher) error {
	defer tasks.Close()

	if err := tasks.Subscribe(w.id.Token()); err != nil {
		log.Log(log.LOGLEVEL_ERRORS, w.name, "could not subscribe:", err.Error())
		return err
	}

	done := make(chan struct{})
	defer close(done)

	go w.closeOnStop(tasks, done)
	go w.announce(replies, done)

	log.Log(log.LOGLEVEL_INFO, w.name, "is serving broadcast tasks")

	for {
		msg, err := tasks.Receive()

		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return w.closedError(err)
			}
			log.Log(log.LOGLEVEL_WARNINGS, w.name, "skipped incoming message, error:", err.Error())
			continue
		}

		w.handleBroadcast(msg, replies)
	}
}

/*
Serve tasks from a point-to-point channel until Stop is called. Every task is answered, also when
it could not be processed, because a REP socket must alternate between receiving and replying.
ServeDirect takes ownership of rep.
*/
func (w *Worker) ServeDirect(rep *transport.RepChannel) error {
	defer rep.Close()

	done := make(chan struct{})
	defer close(done)

	go w.closeOnStop(rep, done)

	log.Log(log.LOGLEVEL_INFO, w.name, "is serving direct tasks")

	for {
		payload, err := rep.Receive()

		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return w.closedError(err)
			}
			log.Log(log.LOGLEVEL_WARNINGS, w.name, "skipped incoming message, error:", err.Error())
			continue
		}

		reply := w.handleDirect(payload)
		buf, err := w.codec.EncodeReply(reply)

		if err != nil {
			log.Log(log.LOGLEVEL_ERRORS, w.name, "could not encode reply:", err.Error())
			buf = []byte{}
		}

		if err = rep.Reply(buf); err != nil {
			log.Log(log.LOGLEVEL_WARNINGS, w.name, "error when sending reply:", err.Error())
		}
	}
}

func (w *Worker) closeOnStop(c interface{ Close() error }, done <-chan struct{}) {
	select {
	case <-w.stop:
		c.Close()
	case <-done:
	}
}

func (w *Worker) closedError(err error) error {
	if w.stopped() {
		log.Log(log.LOGLEVEL_INFO, w.name, "stopped")
		return nil
	}
	return err
}

// Announce readiness now and then every heartbeat interval, so that a dispatcher started after
// this worker learns about it, too.
func (w *Worker) announce(replies transport.Publisher, done <-chan struct{}) {
	ready := &proto.Reply{WorkerId: uint32(w.id), Status: proto.Reply_STATUS_READY}

	w.sendReply(replies, ready)

	if w.heartbeat <= 0 {
		return
	}

	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sendReply(replies, ready)
		case <-done:
			return
		case <-w.stop:
			return
		}
	}
}

func (w *Worker) handleBroadcast(msg transport.Message, replies transport.Publisher) {
	task, err := w.codec.DecodeTask(msg.Payload)

	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, fmt.Sprintf("[%s/_] Dropped undecodable task: %s", w.name, err.Error()))
		return
	}

	if msg.Token != w.id.Token() || task.GetWorkerId() != uint32(w.id) {
		log.Log(log.LOGLEVEL_WARNINGS, fmt.Sprintf("[%s/%d] Dropped task addressed to token %s, worker %d",
			w.name, task.GetTaskId(), msg.Token, task.GetWorkerId()))
		return
	}

	reply := w.process(task)

	if reply == nil {
		return
	}
	w.sendReply(replies, reply)
}

func (w *Worker) handleDirect(payload []byte) *proto.Reply {
	task, err := w.codec.DecodeTask(payload)

	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, fmt.Sprintf("[%s/_] Undecodable task: %s", w.name, err.Error()))
		return w.errorReply(&proto.Task{}, proto.Reply_STATUS_SERVER_ERROR, "undecodable task: "+err.Error())
	}

	if task.GetWorkerId() != uint32(w.id) {
		log.Log(log.LOGLEVEL_WARNINGS, fmt.Sprintf("[%s/%d] Received task for worker %d",
			w.name, task.GetTaskId(), task.GetWorkerId()))
		return w.errorReply(task, proto.Reply_STATUS_SERVER_ERROR,
			fmt.Sprintf("task for worker %d received by worker %d", task.GetWorkerId(), w.id))
	}

	reply := w.process(task)

	if reply == nil {
		return w.errorReply(task, proto.Reply_STATUS_SERVER_ERROR, "handler crashed")
	}
	return reply
}

// Runs one task. Returns nil if the handler panicked.
func (w *Worker) process(task *proto.Task) *proto.Reply {
	// It is already too late... we can discard this task
	if task.GetDeadline() > 0 && time.Now().UnixMicro() > task.GetDeadline() {
		delta := time.Duration(time.Now().UnixMicro()-task.GetDeadline()) * time.Microsecond

		log.Log(log.LOGLEVEL_WARNINGS, fmt.Sprintf("[%s/%s/%d] Deadline was missed by %s",
			w.name, task.GetCallerId(), task.GetTaskId(), delta))

		return w.errorReply(task, proto.Reply_STATUS_MISSED_DEADLINE, "Missed deadline")
	}

	handler := w.findHandler(task.GetOperation())

	if handler == nil {
		log.Log(log.LOGLEVEL_WARNINGS, fmt.Sprintf("[%s/%s/%d] NOT_FOUND response to task for operation %q",
			w.name, task.GetCallerId(), task.GetTaskId(), task.GetOperation()))
		return w.errorReply(task, proto.Reply_STATUS_NOT_FOUND, "No such operation: "+task.GetOperation())
	}

	if log.IsLoggingEnabled(log.LOGLEVEL_DEBUG) {
		log.Log(log.LOGLEVEL_DEBUG, fmt.Sprintf("[%s/%s/%d] Calling operation %s...",
			w.name, task.GetCallerId(), task.GetTaskId(), task.GetOperation()))
	}

	cx := w.newContext(task)

	if !w.invoke(handler, cx) {
		return nil
	}
	return cx.toReply()
}

// Calls handler and reports whether it returned normally.
func (w *Worker) invoke(handler Handler, cx *Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Log(log.LOGLEVEL_ERRORS, fmt.Sprintf("[%s/%s/%d] Handler for %s panicked: %v\n%s",
				w.name, cx.task.GetCallerId(), cx.task.GetTaskId(), cx.task.GetOperation(), r, debug.Stack()))
			ok = false
		}
	}()

	handler(cx)
	return true
}

func (w *Worker) errorReply(task *proto.Task, status proto.Reply_Status, msg string) *proto.Reply {
	return &proto.Reply{
		TaskId:       task.GetTaskId(),
		WorkerId:     uint32(w.id),
		Status:       status,
		ErrorMessage: msg,
	}
}

func (w *Worker) sendReply(replies transport.Publisher, reply *proto.Reply) {
	buf, err := w.codec.EncodeReply(reply)

	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, fmt.Sprintf("[%s/%d] Error when serializing reply: %s",
			w.name, reply.GetTaskId(), err.Error()))
		return
	}

	if err = replies.Publish(w.id.Token(), buf); err != nil {
		log.Log(log.LOGLEVEL_WARNINGS, fmt.Sprintf("[%s/%d] Error when sending reply: %s",
			w.name, reply.GetTaskId(), err.Error()))
		return
	}

	if log.IsLoggingEnabled(log.LOGLEVEL_DEBUG) {
		log.Log(log.LOGLEVEL_DEBUG, fmt.Sprintf("[%s/%d] Sent %s reply.", w.name, reply.GetTaskId(), reply.GetStatus()))
	}
}
