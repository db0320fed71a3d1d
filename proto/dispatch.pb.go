// Message types of dispatch.proto for github.com/gogo/protobuf.

package proto

import (
	pb "github.com/gogo/protobuf/proto"
)

type Reply_Status int32

const (
	Reply_STATUS_UNKNOWN         Reply_Status = 0
	Reply_STATUS_OK              Reply_Status = 1
	Reply_STATUS_NOT_OK          Reply_Status = 2
	Reply_STATUS_NOT_FOUND       Reply_Status = 3
	Reply_STATUS_SERVER_ERROR    Reply_Status = 4
	Reply_STATUS_MISSED_DEADLINE Reply_Status = 5
	Reply_STATUS_READY           Reply_Status = 6
)

var Reply_Status_name = map[int32]string{
	0: "STATUS_UNKNOWN",
	1: "STATUS_OK",
	2: "STATUS_NOT_OK",
	3: "STATUS_NOT_FOUND",
	4: "STATUS_SERVER_ERROR",
	5: "STATUS_MISSED_DEADLINE",
	6: "STATUS_READY",
}

var Reply_Status_value = map[string]int32{
	"STATUS_UNKNOWN":         0,
	"STATUS_OK":              1,
	"STATUS_NOT_OK":          2,
	"STATUS_NOT_FOUND":       3,
	"STATUS_SERVER_ERROR":    4,
	"STATUS_MISSED_DEADLINE": 5,
	"STATUS_READY":           6,
}

func (x Reply_Status) Enum() *Reply_Status {
	p := new(Reply_Status)
	*p = x
	return p
}

func (x Reply_Status) String() string {
	return pb.EnumName(Reply_Status_name, int32(x))
}

type Task struct {
	TaskId    uint64 `protobuf:"varint,1,opt,name=task_id,json=taskId,proto3" json:"task_id,omitempty" msgpack:"task_id,omitempty"`
	WorkerId  uint32 `protobuf:"varint,2,opt,name=worker_id,json=workerId,proto3" json:"worker_id,omitempty" msgpack:"worker_id,omitempty"`
	Operation string `protobuf:"bytes,3,opt,name=operation,proto3" json:"operation,omitempty" msgpack:"operation,omitempty"`
	Data      []byte `protobuf:"bytes,4,opt,name=data,proto3" json:"data,omitempty" msgpack:"data,omitempty"`
	Deadline  int64  `protobuf:"varint,5,opt,name=deadline,proto3" json:"deadline,omitempty" msgpack:"deadline,omitempty"`
	CallerId  string `protobuf:"bytes,6,opt,name=caller_id,json=callerId,proto3" json:"caller_id,omitempty" msgpack:"caller_id,omitempty"`
}

func (m *Task) Reset()         { *m = Task{} }
func (m *Task) String() string { return pb.CompactTextString(m) }
func (*Task) ProtoMessage()    {}

func (m *Task) GetTaskId() uint64 {
	if m != nil {
		return m.TaskId
	}
	return 0
}

func (m *Task) GetWorkerId() uint32 {
	if m != nil {
		return m.WorkerId
	}
	return 0
}

func (m *Task) GetOperation() string {
	if m != nil {
		return m.Operation
	}
	return ""
}

func (m *Task) GetData() []byte {
	if m != nil {
		return m.Data
	}
	return nil
}

func (m *Task) GetDeadline() int64 {
	if m != nil {
		return m.Deadline
	}
	return 0
}

func (m *Task) GetCallerId() string {
	if m != nil {
		return m.CallerId
	}
	return ""
}

type Reply struct {
	TaskId       uint64       `protobuf:"varint,1,opt,name=task_id,json=taskId,proto3" json:"task_id,omitempty" msgpack:"task_id,omitempty"`
	WorkerId     uint32       `protobuf:"varint,2,opt,name=worker_id,json=workerId,proto3" json:"worker_id,omitempty" msgpack:"worker_id,omitempty"`
	Result       []byte       `protobuf:"bytes,3,opt,name=result,proto3" json:"result,omitempty" msgpack:"result,omitempty"`
	Status       Reply_Status `protobuf:"varint,4,opt,name=status,proto3,enum=dispatch.Reply_Status" json:"status,omitempty" msgpack:"status,omitempty"`
	ErrorMessage string       `protobuf:"bytes,5,opt,name=error_message,json=errorMessage,proto3" json:"error_message,omitempty" msgpack:"error_message,omitempty"`
}

func (m *Reply) Reset()         { *m = Reply{} }
func (m *Reply) String() string { return pb.CompactTextString(m) }
func (*Reply) ProtoMessage()    {}

func (m *Reply) GetTaskId() uint64 {
	if m != nil {
		return m.TaskId
	}
	return 0
}

func (m *Reply) GetWorkerId() uint32 {
	if m != nil {
		return m.WorkerId
	}
	return 0
}

func (m *Reply) GetResult() []byte {
	if m != nil {
		return m.Result
	}
	return nil
}

func (m *Reply) GetStatus() Reply_Status {
	if m != nil {
		return m.Status
	}
	return Reply_STATUS_UNKNOWN
}

func (m *Reply) GetErrorMessage() string {
	if m != nil {
		return m.ErrorMessage
	}
	return ""
}

func init() {
	pb.RegisterEnum("dispatch.Reply_Status", Reply_Status_name, Reply_Status_value)
	pb.RegisterType((*Task)(nil), "dispatch.Task")
	pb.RegisterType((*Reply)(nil), "dispatch.Reply")
}
