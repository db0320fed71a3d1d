package transport

import (
	"fmt"
)

// Support types for dealing with ZeroMQ multi-frame messages.
// Every message on a broadcast channel has two frames: [routing token, payload]. ZeroMQ matches
// subscriptions against the first frame.

type Message struct {
	Token   string
	Payload []byte
}

func newMessage(token string, payload []byte) Message {
	return Message{Token: token, Payload: payload}
}

func parseMessage(frames [][]byte) (Message, error) {
	if len(frames) != 2 {
		return Message{}, fmt.Errorf("%w: %d frames instead of 2", ErrBadFrame, len(frames))
	}

	return Message{Token: string(frames[0]), Payload: frames[1]}, nil
}

func (msg Message) serialize() [][]byte {
	frames := make([][]byte, 2)
	frames[0] = []byte(msg.Token)
	frames[1] = msg.Payload
	return frames
}

// sendable converts frames for zmq4's SendMessage, which takes ...interface{}.
func sendable(frames [][]byte) []interface{} {
	parts := make([]interface{}, len(frames))
	for i, f := range frames {
		parts[i] = f
	}
	return parts
}
