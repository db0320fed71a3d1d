package dispatch

import (
	"context"
	"testing"
	"time"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/proto"
	"github.com/dermesser/clusterdispatch/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishReply(t *testing.T, bus *transport.Bus, reply *proto.Reply) {
	buf, err := proto.ProtobufCodec{}.EncodeReply(reply)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(cd.WorkerID(reply.GetWorkerId()).Token(), buf))
}

func newTestRouter(t *testing.T) (*Router, *Registry, *transport.Bus) {
	bus := transport.NewBus(64)
	registry := NewRegistry()
	router := NewRouter(bus.Subscriber(), nil, registry)
	require.NoError(t, router.Start())

	t.Cleanup(func() {
		router.Stop()
		bus.Close()
	})
	return router, registry, bus
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRouterSettles(t *testing.T) {
	_, registry, bus := newTestRouter(t)

	k1 := cd.CorrelationKey{Task: 1, Worker: 1}
	k2 := cd.CorrelationKey{Task: 1, Worker: 2}
	c1, _ := registry.Register(k1)
	c2, _ := registry.Register(k2)

	publishReply(t, bus, okReply(k2, "two"))
	publishReply(t, bus, okReply(k1, "one"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r1, err := c1.Wait(ctx)
	require.NoError(t, err)
	r2, err := c2.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, "one", string(r1.GetResult()))
	assert.Equal(t, "two", string(r2.GetResult()))
}

func TestRouterSurvivesBadReplies(t *testing.T) {
	router, registry, bus := newTestRouter(t)

	key := cd.CorrelationKey{Task: 3, Worker: 0}
	c, _ := registry.Register(key)

	bus.Publish("0", []byte{0xff, 0xff, 0xff})
	publishReply(t, bus, okReply(cd.CorrelationKey{Task: 99, Worker: 0}, "stale"))
	publishReply(t, bus, okReply(key, "first"))
	publishReply(t, bus, okReply(key, "duplicate"))

	reply, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", string(reply.GetResult()))

	waitFor(t, func() bool { return router.Discarded() == 2 })
	assert.Equal(t, uint64(1), router.Malformed())
	assert.Equal(t, 0, registry.Len())
}

func TestRouterReady(t *testing.T) {
	router, _, bus := newTestRouter(t)

	errc := make(chan error, 1)
	go func() {
		errc <- router.Ready(context.Background(), []cd.WorkerID{0, 1})
	}()

	publishReply(t, bus, &proto.Reply{WorkerId: 0, Status: proto.Reply_STATUS_READY})
	waitFor(t, func() bool { return router.IsReady(0) })
	assert.False(t, router.IsReady(1))

	select {
	case <-errc:
		t.Fatal("Ready returned early")
	case <-time.After(10 * time.Millisecond):
	}

	// Any reply also counts as a sign of life.
	publishReply(t, bus, okReply(cd.CorrelationKey{Task: 1, Worker: 1}, ""))

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Ready did not return")
	}

	assert.False(t, router.LastSeen(1).IsZero())
	assert.True(t, router.LastSeen(7).IsZero())
}

func TestRouterReadyTimeout(t *testing.T) {
	router, _, _ := newTestRouter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := router.Ready(ctx, []cd.WorkerID{4, 2})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "[worker-2 worker-4]")
}

func TestRouterStop(t *testing.T) {
	bus := transport.NewBus(4)
	defer bus.Close()
	router := NewRouter(bus.Subscriber(), nil, NewRegistry())

	errc := make(chan error, 1)
	go func() { errc <- router.Run() }()

	waitFor(t, func() bool { return router.started.Load() })
	require.NoError(t, router.Stop())

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
