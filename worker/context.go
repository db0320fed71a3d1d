package worker

import (
	"encoding/json"
	"errors"
	"time"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/proto"

	"go.uber.org/zap"
)

/*
Opaque structure that contains task information
and takes the result.
*/
type Context struct {
	input, result []byte
	failed        bool
	error_message string
	deadline      time.Time

	task   *proto.Task
	worker cd.WorkerID
	logger *zap.SugaredLogger
	// 0 = None, 1 = logged request, 2 = logged response
	log_state int
}

func (w *Worker) newContext(task *proto.Task) *Context {
	c := new(Context)
	c.input = task.GetData()
	c.task = task
	c.worker = w.id
	c.logger = w.trafficlog

	if task.GetDeadline() > 0 {
		c.deadline = time.UnixMicro(task.GetDeadline())
	}

	return c
}

/*
Get the data that was sent by the dispatcher.
*/
func (c *Context) GetInput() []byte {
	c.rpclogRaw(c.input, log_REQUEST)
	return c.input
}

/*
GetArgument decodes the JSON input into v.
*/
func (c *Context) GetArgument(v interface{}) error {
	err := json.Unmarshal(c.input, v)

	if err != nil {
		c.rpclogErr(err)
	} else {
		c.rpclogRaw(c.input, log_REQUEST)
	}

	return err
}

/*
Get the absolute deadline requested by the dispatcher. The zero time means no deadline.
*/
func (c *Context) GetDeadline() time.Time {
	return c.deadline
}

func (c *Context) TaskID() cd.TaskID {
	return cd.TaskID(c.task.GetTaskId())
}

func (c *Context) WorkerID() cd.WorkerID {
	return c.worker
}

func (c *Context) Operation() string {
	return c.task.GetOperation()
}

/*
Fail with msg as error message (gets sent back to the dispatcher)
*/
func (c *Context) Fail(msg string) {
	c.failed = true
	c.error_message = msg
	c.rpclogErr(errors.New(msg))
}

/*
Set the data to return to the dispatcher.
*/
func (c *Context) Success(data []byte) {
	c.result = data
	c.rpclogRaw(data, log_RESPONSE)
}

/*
Set v, encoded as JSON, as the result. Does not do anything special, such as
terminate the calling function etc. If v can't be encoded, the task fails.
*/
func (c *Context) Return(v interface{}) error {
	result, err := json.Marshal(v)

	if err != nil {
		c.Fail("result not representable: " + err.Error())
		return err
	}

	c.result = result
	c.rpclogRaw(result, log_RESPONSE)

	return nil
}

func (cx *Context) toReply() *proto.Reply {
	reply := &proto.Reply{TaskId: cx.task.GetTaskId(), WorkerId: uint32(cx.worker)}

	if !cx.failed {
		reply.Status = proto.Reply_STATUS_OK
		reply.Result = cx.result
	} else {
		reply.Status = proto.Reply_STATUS_NOT_OK
		reply.ErrorMessage = cx.error_message
	}

	// Went over deadline
	if !cx.deadline.IsZero() && time.Now().After(cx.deadline) {
		reply.Result = nil
		reply.Status = proto.Reply_STATUS_MISSED_DEADLINE
		reply.ErrorMessage = "Exceeded deadline"
	}

	return reply
}
