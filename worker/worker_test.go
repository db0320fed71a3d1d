package worker

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/counter"
	"github.com/dermesser/clusterdispatch/proto"
	"github.com/dermesser/clusterdispatch/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestWorker(t *testing.T, id cd.WorkerID) *Worker {
	w := New(id, nil)
	require.NoError(t, RegisterStandardOps(w, counter.NewLocal()))
	return w
}

func task(id uint64, worker cd.WorkerID, op string, data string) *proto.Task {
	return &proto.Task{TaskId: id, WorkerId: uint32(worker), Operation: op, Data: []byte(data)}
}

func TestRegisterHandler(t *testing.T) {
	w := New(1, nil)

	assert.NoError(t, w.RegisterHandler("op", pingHandler))
	assert.Error(t, w.RegisterHandler("op", pingHandler))
	assert.Error(t, w.RegisterHandler(OP_PING, pingHandler))

	assert.NoError(t, w.UnregisterHandler("op"))
	assert.Error(t, w.UnregisterHandler("op"))
	assert.Nil(t, w.findHandler("op"))
}

func TestProcessOps(t *testing.T) {
	w := newTestWorker(t, 2)

	cases := []struct {
		op, data, result string
	}{
		{OP_DOUBLE, "4", "8"},
		{OP_DOUBLE, "2.5", "5"},
		{OP_SQUARE, "-3", "9"},
		{OP_ECHO, `{"a":[1,2]}`, `{"a":[1,2]}`},
		{OP_SORT, "[5,2,8,1]", "[1,2,5,8]"},
		{OP_SORT, "[]", "[]"},
		{OP_SLEEP, "0.01", "0.01"},
		{OP_PING, "", ""},
		{OP_HEALTH, "", ""},
	}

	for i, c := range cases {
		reply := w.process(task(uint64(i), 2, c.op, c.data))
		require.NotNil(t, reply, c.op)
		assert.Equal(t, proto.Reply_STATUS_OK, reply.GetStatus(), c.op)
		assert.Equal(t, c.result, string(reply.GetResult()), c.op)
		assert.Equal(t, uint64(i), reply.GetTaskId())
		assert.Equal(t, uint32(2), reply.GetWorkerId())
	}
}

func TestProcessBadArgument(t *testing.T) {
	w := newTestWorker(t, 0)

	for _, op := range []string{OP_DOUBLE, OP_SQUARE, OP_SORT, OP_SLEEP} {
		reply := w.process(task(1, 0, op, `"text"`))
		assert.Equal(t, proto.Reply_STATUS_NOT_OK, reply.GetStatus(), op)
		assert.NotEmpty(t, reply.GetErrorMessage())
	}
}

func TestProcessIntegersAreExact(t *testing.T) {
	w := newTestWorker(t, 0)

	cases := []struct {
		op, data, result string
	}{
		{OP_DOUBLE, "9007199254740993", "18014398509481986"},
		{OP_DOUBLE, "9223372036854775807", "18446744073709551614"},
		{OP_SQUARE, "9223372036854775807", "85070591730234615847396907784232501249"},
		{OP_SQUARE, "-9007199254740993", "81129638414606699710187514626049"},
		{OP_DOUBLE, "1.5e3", "3000"},
	}

	for _, c := range cases {
		reply := w.process(task(1, 0, c.op, c.data))
		require.Equal(t, proto.Reply_STATUS_OK, reply.GetStatus(), c.data)
		assert.Equal(t, c.result, string(reply.GetResult()), c.op+" "+c.data)
	}
}

func TestProcessUnrepresentableResult(t *testing.T) {
	w := newTestWorker(t, 0)

	for _, tk := range []*proto.Task{
		task(1, 0, OP_SQUARE, "1e200"),
		task(2, 0, OP_DOUBLE, "1.5e308"),
	} {
		reply := w.process(tk)
		assert.Equal(t, proto.Reply_STATUS_NOT_OK, reply.GetStatus(), string(tk.Data))
		assert.Empty(t, reply.GetResult())
		assert.Contains(t, reply.GetErrorMessage(), "unsupported value")
	}

	// A handler that ignores the error of Return still fails the task.
	w.RegisterHandler("nan", func(ctx *Context) { ctx.Return(math.NaN()) })
	assert.Equal(t, proto.Reply_STATUS_NOT_OK, w.process(task(3, 0, "nan", "")).GetStatus())
}

func TestProcessSleepOutOfRange(t *testing.T) {
	w := newTestWorker(t, 0)

	for _, data := range []string{"1e300", "9223372037", "-1"} {
		start := time.Now()
		reply := w.process(task(1, 0, OP_SLEEP, data))
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, proto.Reply_STATUS_NOT_OK, reply.GetStatus(), data)
	}
}

func TestProcessUnknownOperation(t *testing.T) {
	w := newTestWorker(t, 0)

	reply := w.process(task(7, 0, "frobnicate", "1"))
	assert.Equal(t, proto.Reply_STATUS_NOT_FOUND, reply.GetStatus())
	assert.Equal(t, uint64(7), reply.GetTaskId())
}

func TestProcessMissedDeadline(t *testing.T) {
	w := newTestWorker(t, 0)

	tk := task(1, 0, OP_DOUBLE, "1")
	tk.Deadline = time.Now().Add(-time.Second).UnixMicro()

	assert.Equal(t, proto.Reply_STATUS_MISSED_DEADLINE, w.process(tk).GetStatus())
}

func TestProcessExceededDeadline(t *testing.T) {
	w := newTestWorker(t, 0)

	tk := task(1, 0, OP_SLEEP, "10")
	tk.Deadline = time.Now().Add(20 * time.Millisecond).UnixMicro()

	start := time.Now()
	reply := w.process(tk)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, proto.Reply_STATUS_MISSED_DEADLINE, reply.GetStatus())
	assert.Empty(t, reply.GetResult())
}

func TestProcessPanic(t *testing.T) {
	w := New(0, nil)
	w.RegisterHandler("crash", func(ctx *Context) { panic("boom") })

	assert.Nil(t, w.process(task(1, 0, "crash", "")))
	assert.Equal(t, proto.Reply_STATUS_SERVER_ERROR, w.handleDirect(mustEncode(t, task(1, 0, "crash", ""))).GetStatus())
}

func TestHealthLameduck(t *testing.T) {
	w := New(0, nil)

	assert.Equal(t, proto.Reply_STATUS_OK, w.process(task(1, 0, OP_HEALTH, "")).GetStatus())

	w.SetLameduck(true)
	reply := w.process(task(2, 0, OP_HEALTH, ""))
	assert.Equal(t, proto.Reply_STATUS_NOT_OK, reply.GetStatus())
	assert.Equal(t, "Lameduck mode", reply.GetErrorMessage())

	assert.Equal(t, proto.Reply_STATUS_OK, w.process(task(3, 0, OP_PING, "")).GetStatus())
}

func TestIncrement(t *testing.T) {
	c := counter.NewLocal()
	w := New(3, nil)
	require.NoError(t, RegisterStandardOps(w, c))

	reply := w.process(task(1, 3, OP_INCREMENT, `{"value": 5}`))
	require.Equal(t, proto.Reply_STATUS_OK, reply.GetStatus())

	var result IncrementResult
	require.NoError(t, json.Unmarshal(reply.GetResult(), &result))
	assert.Equal(t, IncrementResult{WorkerID: 3, Counter: 5}, result)

	reply = w.process(task(2, 3, OP_INCREMENT, ""))
	json.Unmarshal(reply.GetResult(), &result)
	assert.Equal(t, int64(6), result.Counter)

	assert.Equal(t, proto.Reply_STATUS_NOT_OK, w.process(task(3, 3, OP_INCREMENT, "[1]")).GetStatus())
}

func TestIncrementWithoutCounter(t *testing.T) {
	w := New(0, nil)
	require.NoError(t, RegisterStandardOps(w, nil))
	assert.Nil(t, w.findHandler(OP_INCREMENT))
}

func TestTrafficLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := newTestWorker(t, 1)
	w.SetTrafficLogger(zap.New(core))

	tk := task(9, 1, OP_DOUBLE, "21")
	tk.CallerId = "caller"
	w.process(tk)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Message, "REQ double caller/9 2 B")
	assert.Contains(t, entries[1].Message, "RSP double caller/9 2 B")
	assert.True(t, strings.HasSuffix(entries[1].Message, " 42"))

	w.process(task(10, 1, OP_SORT, "x"))
	assert.Contains(t, logs.All()[2].Message, "ERR")
}

func TestLogStringIsPrintable(t *testing.T) {
	assert.Equal(t, "a.b.", logString([]byte("a\x00b\xff")))
}

func mustEncode(t *testing.T, tk *proto.Task) []byte {
	buf, err := proto.ProtobufCodec{}.EncodeTask(tk)
	require.NoError(t, err)
	return buf
}

// A pair of buses standing in for a dispatcher's task and reply channels.
type testPool struct {
	tasks, replies *transport.Bus
	sub            *transport.BusSubscriber
	codec          proto.Codec
}

func newTestPool(t *testing.T, codec proto.Codec) *testPool {
	p := &testPool{tasks: transport.NewBus(16), replies: transport.NewBus(16), codec: codec}
	p.sub = p.replies.Subscriber()
	require.NoError(t, p.sub.Subscribe(""))

	t.Cleanup(func() {
		p.tasks.Close()
		p.replies.Close()
	})
	return p
}

func (p *testPool) serve(t *testing.T, w *Worker) <-chan error {
	errc := make(chan error, 1)
	sub := p.tasks.Subscriber()
	go func() { errc <- w.ServeBroadcast(sub, p.replies) }()
	t.Cleanup(w.Stop)
	return errc
}

func (p *testPool) send(t *testing.T, tk *proto.Task) {
	buf, err := p.codec.EncodeTask(tk)
	require.NoError(t, err)
	require.NoError(t, p.tasks.Publish(cd.WorkerID(tk.GetWorkerId()).Token(), buf))
}

func (p *testPool) receive(t *testing.T, skipReady bool) *proto.Reply {
	for {
		got := make(chan transport.Message, 1)
		go func() {
			msg, err := p.sub.Receive()
			if err == nil {
				got <- msg
			}
		}()

		select {
		case msg := <-got:
			reply, err := p.codec.DecodeReply(msg.Payload)
			require.NoError(t, err)
			if skipReady && reply.GetStatus() == proto.Reply_STATUS_READY {
				continue
			}
			return reply
		case <-time.After(5 * time.Second):
			t.Fatal("no reply")
			return nil
		}
	}
}

func TestServeBroadcast(t *testing.T) {
	for _, codec := range []proto.Codec{proto.ProtobufCodec{}, proto.MsgpackCodec{}, proto.JSONCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			p := newTestPool(t, codec)
			w := New(1, codec)
			w.SetHeartbeat(0)
			RegisterStandardOps(w, nil)
			p.serve(t, w)

			ready := p.receive(t, false)
			assert.Equal(t, proto.Reply_STATUS_READY, ready.GetStatus())
			assert.Equal(t, uint32(1), ready.GetWorkerId())

			p.send(t, task(1, 1, OP_DOUBLE, "4"))
			reply := p.receive(t, true)
			assert.Equal(t, proto.Reply_STATUS_OK, reply.GetStatus())
			assert.Equal(t, "8", string(reply.GetResult()))
			assert.Equal(t, uint64(1), reply.GetTaskId())
		})
	}
}

func TestServeBroadcastOnlyOwnTasks(t *testing.T) {
	p := newTestPool(t, proto.ProtobufCodec{})

	for _, id := range []cd.WorkerID{1, 10} {
		w := New(id, nil)
		w.SetHeartbeat(0)
		p.serve(t, w)
		p.receive(t, false)
	}

	p.send(t, task(5, 10, OP_PING, ""))
	reply := p.receive(t, true)
	assert.Equal(t, uint32(10), reply.GetWorkerId())

	// Token of worker 1 with a task for someone else.
	buf := mustEncode(t, task(6, 2, OP_PING, ""))
	p.tasks.Publish("1", buf)
	// Garbage.
	p.tasks.Publish("1", []byte{0xff, 0xff, 0xff})

	p.send(t, task(7, 1, OP_PING, ""))
	reply = p.receive(t, true)
	assert.Equal(t, uint64(7), reply.GetTaskId())
	assert.Equal(t, uint32(1), reply.GetWorkerId())
}

func TestServeBroadcastPanicDoesNotReply(t *testing.T) {
	p := newTestPool(t, proto.ProtobufCodec{})
	w := New(0, nil)
	w.SetHeartbeat(0)
	w.RegisterHandler("crash", func(ctx *Context) { panic("boom") })
	p.serve(t, w)
	p.receive(t, false)

	p.send(t, task(1, 0, "crash", ""))
	p.send(t, task(2, 0, OP_PING, ""))

	assert.Equal(t, uint64(2), p.receive(t, true).GetTaskId())
}

func TestServeBroadcastHeartbeat(t *testing.T) {
	p := newTestPool(t, proto.ProtobufCodec{})
	w := New(4, nil)
	w.SetHeartbeat(10 * time.Millisecond)
	p.serve(t, w)

	for i := 0; i < 3; i++ {
		assert.Equal(t, proto.Reply_STATUS_READY, p.receive(t, false).GetStatus())
	}
}

func TestServeBroadcastStop(t *testing.T) {
	p := newTestPool(t, proto.ProtobufCodec{})
	w := New(0, nil)
	errc := p.serve(t, w)
	p.receive(t, false)

	w.Stop()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ServeBroadcast did not return")
	}
}

func TestServeBroadcastClosedChannel(t *testing.T) {
	p := newTestPool(t, proto.ProtobufCodec{})
	w := New(0, nil)
	errc := p.serve(t, w)
	p.receive(t, false)

	p.tasks.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("ServeBroadcast did not return")
	}
}

var endpointCounter int64

func TestServeDirect(t *testing.T) {
	endpoint := fmt.Sprintf("inproc://worker_test_direct_%d", atomic.AddInt64(&endpointCounter, 1))

	rep, err := transport.NewRepChannel(endpoint, transport.Security{})
	require.NoError(t, err)

	w := newTestWorker(t, 3)
	errc := make(chan error, 1)
	go func() { errc <- w.ServeDirect(rep) }()

	req, err := transport.NewReqChannel(endpoint, 2*time.Second, transport.Security{})
	require.NoError(t, err)
	defer req.Close()

	call := func(tk *proto.Task) *proto.Reply {
		buf, err := req.Call(mustEncode(t, tk))
		require.NoError(t, err)
		reply, err := proto.ProtobufCodec{}.DecodeReply(buf)
		require.NoError(t, err)
		return reply
	}

	reply := call(task(1, 3, OP_SQUARE, "7"))
	assert.Equal(t, "49", string(reply.GetResult()))

	reply = call(task(2, 4, OP_SQUARE, "7"))
	assert.Equal(t, proto.Reply_STATUS_SERVER_ERROR, reply.GetStatus())

	buf, err := req.Call([]byte{0xff, 0xff})
	require.NoError(t, err)
	reply, _ = proto.ProtobufCodec{}.DecodeReply(buf)
	assert.Equal(t, proto.Reply_STATUS_SERVER_ERROR, reply.GetStatus())

	w.Stop()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * transport.POLL_INTERVAL):
		t.Fatal("ServeDirect did not return")
	}
}
