package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/proto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okReply(key cd.CorrelationKey, result string) *proto.Reply {
	return &proto.Reply{TaskId: uint64(key.Task), WorkerId: uint32(key.Worker), Status: proto.Reply_STATUS_OK,
		Result: []byte(result)}
}

func TestRegistrySettle(t *testing.T) {
	r := NewRegistry()
	key := cd.CorrelationKey{Task: 1, Worker: 2}

	c, err := r.Register(key)
	require.NoError(t, err)
	assert.Equal(t, key, c.Key())
	assert.Equal(t, 1, r.Len())

	_, err = r.Register(key)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	assert.True(t, r.Settle(key, okReply(key, "8")))
	assert.Equal(t, 0, r.Len())

	// Duplicates are discarded without effect.
	assert.False(t, r.Settle(key, okReply(key, "9")))
	assert.False(t, r.Fail(key, errors.New("x")))
	assert.False(t, r.Abandon(key))

	reply, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "8", string(reply.GetResult()))
}

func TestRegistrySettleNotOK(t *testing.T) {
	r := NewRegistry()
	key := cd.CorrelationKey{Task: 1, Worker: 0}
	c, _ := r.Register(key)

	r.Settle(key, &proto.Reply{TaskId: 1, Status: proto.Reply_STATUS_NOT_FOUND, ErrorMessage: "No such operation: x"})

	_, err := c.Wait(context.Background())
	assert.ErrorIs(t, err, ErrWorkerFailed)

	var derr *DispatchError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, proto.Reply_STATUS_NOT_FOUND, derr.Status)
	assert.Equal(t, key, derr.Key)
	assert.Contains(t, err.Error(), "No such operation: x")
	assert.Contains(t, err.Error(), "STATUS_NOT_FOUND")
}

func TestCompletionTimeout(t *testing.T) {
	r := NewRegistry()
	key := cd.CorrelationKey{Task: 5, Worker: 1}
	c, _ := r.Register(key)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, r.Len())

	// A late reply is discarded.
	assert.False(t, r.Settle(key, okReply(key, "1")))
}

func TestCompletionCanceled(t *testing.T) {
	r := NewRegistry()
	c, _ := r.Register(cd.CorrelationKey{Task: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Len())
}

func TestCompletionSettledBeforeTimeoutWins(t *testing.T) {
	r := NewRegistry()
	key := cd.CorrelationKey{Task: 1}
	c, _ := r.Register(key)
	r.Settle(key, okReply(key, "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either branch of the select may be taken; the settled reply is returned in both cases.
	reply, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", string(reply.GetResult()))
}

func TestRegistryAbandonWakesWaiter(t *testing.T) {
	r := NewRegistry()
	key := cd.CorrelationKey{Task: 1}
	c, _ := r.Register(key)

	go r.Abandon(key)

	_, err := c.Wait(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRegistryFailTask(t *testing.T) {
	r := NewRegistry()
	var same []*Completion
	for w := cd.WorkerID(0); w < 3; w++ {
		c, _ := r.Register(cd.CorrelationKey{Task: 1, Worker: w})
		same = append(same, c)
	}
	other, _ := r.Register(cd.CorrelationKey{Task: 2, Worker: 0})

	failure := errors.New("chunk failed")
	assert.Equal(t, 3, r.FailTask(1, failure))
	assert.Equal(t, 1, r.Len())

	for _, c := range same {
		_, err := c.Wait(context.Background())
		assert.Equal(t, failure, err)
	}

	r.Settle(other.Key(), okReply(other.Key(), "ok"))
	_, err := other.Wait(context.Background())
	assert.NoError(t, err)
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry()
	c, _ := r.Register(cd.CorrelationKey{Task: 1})

	r.Close()

	_, err := c.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = r.Register(cd.CorrelationKey{Task: 2})
	assert.ErrorIs(t, err, ErrClosed)
}

// Replies settle exactly the completion registered under their key, whatever the order of
// arrival.
func TestRegistryCorrelation(t *testing.T) {
	r := NewRegistry()

	var keys []cd.CorrelationKey
	completions := make(map[cd.CorrelationKey]*Completion)

	for task := cd.TaskID(1); task <= 50; task++ {
		for w := cd.WorkerID(0); w < 4; w++ {
			key := cd.CorrelationKey{Task: task, Worker: w}
			c, err := r.Register(key)
			require.NoError(t, err)
			keys = append(keys, key)
			completions[key] = c
		}
	}

	rand.New(rand.NewSource(1)).Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key cd.CorrelationKey) {
			defer wg.Done()
			assert.True(t, r.Settle(key, okReply(key, key.String())))
		}(key)
	}
	wg.Wait()

	for key, c := range completions {
		reply, err := c.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, key.String(), string(reply.GetResult()))
	}
	assert.Equal(t, 0, r.Len())
}
