package proto

import (
	"encoding/json"
	"fmt"

	pb "github.com/gogo/protobuf/proto"
	"github.com/vmihailenco/msgpack/v5"
)

// A Codec (de)serializes the envelopes exchanged between dispatcher and workers. Both sides of a
// pool must use the same codec.
type Codec interface {
	EncodeTask(t *Task) ([]byte, error)
	DecodeTask(b []byte) (*Task, error)
	EncodeReply(r *Reply) ([]byte, error)
	DecodeReply(b []byte) (*Reply, error)
	// Name returns the identifier used in configuration files.
	Name() string
}

// Codec names for configuration.
const (
	CodecNameProtobuf = "protobuf"
	CodecNameMsgpack  = "msgpack"
	CodecNameJSON     = "json"
)

// GetCodec returns the codec called name. The empty name selects protobuf.
func GetCodec(name string) (Codec, error) {
	switch name {
	case CodecNameProtobuf, "":
		return ProtobufCodec{}, nil
	case CodecNameMsgpack:
		return MsgpackCodec{}, nil
	case CodecNameJSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// ProtobufCodec is the default codec.
type ProtobufCodec struct{}

func (ProtobufCodec) EncodeTask(t *Task) ([]byte, error) { return pb.Marshal(t) }
func (ProtobufCodec) DecodeTask(b []byte) (*Task, error) {
	t := new(Task)
	if err := pb.Unmarshal(b, t); err != nil {
		return nil, err
	}
	return t, nil
}
func (ProtobufCodec) EncodeReply(r *Reply) ([]byte, error) { return pb.Marshal(r) }
func (ProtobufCodec) DecodeReply(b []byte) (*Reply, error) {
	r := new(Reply)
	if err := pb.Unmarshal(b, r); err != nil {
		return nil, err
	}
	return r, nil
}
func (ProtobufCodec) Name() string { return CodecNameProtobuf }

// MsgpackCodec encodes envelopes as MessagePack maps.
type MsgpackCodec struct{}

func (MsgpackCodec) EncodeTask(t *Task) ([]byte, error) { return msgpack.Marshal(t) }
func (MsgpackCodec) DecodeTask(b []byte) (*Task, error) {
	t := new(Task)
	if err := msgpack.Unmarshal(b, t); err != nil {
		return nil, err
	}
	return t, nil
}
func (MsgpackCodec) EncodeReply(r *Reply) ([]byte, error) { return msgpack.Marshal(r) }
func (MsgpackCodec) DecodeReply(b []byte) (*Reply, error) {
	r := new(Reply)
	if err := msgpack.Unmarshal(b, r); err != nil {
		return nil, err
	}
	return r, nil
}
func (MsgpackCodec) Name() string { return CodecNameMsgpack }

// JSONCodec is meant for debugging with generic ZeroMQ tools.
type JSONCodec struct{}

func (JSONCodec) EncodeTask(t *Task) ([]byte, error) { return json.Marshal(t) }
func (JSONCodec) DecodeTask(b []byte) (*Task, error) {
	t := new(Task)
	if err := json.Unmarshal(b, t); err != nil {
		return nil, err
	}
	return t, nil
}
func (JSONCodec) EncodeReply(r *Reply) ([]byte, error) { return json.Marshal(r) }
func (JSONCodec) DecodeReply(b []byte) (*Reply, error) {
	r := new(Reply)
	if err := json.Unmarshal(b, r); err != nil {
		return nil, err
	}
	return r, nil
}
func (JSONCodec) Name() string { return CodecNameJSON }
