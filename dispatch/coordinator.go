package dispatch

import (
	"context"
	"encoding/json"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/log"
	"github.com/dermesser/clusterdispatch/store"

	"golang.org/x/sync/errgroup"
)

// Operation that workers run on their chunk by default.
const DEFAULT_SCATTER_OP = "sort"

// The outcome of a scatter/gather task.
type Gathered struct {
	Task cd.TaskID
	// Workers in the order in which chunks were assigned and partial results merged.
	Workers []cd.WorkerID
	// Partials[i] is the result of Workers[i].
	Partials [][]int64
	Result   []int64
	// Where the result was stored; empty if it wasn't.
	Output string
}

/*
A Coordinator runs scatter/gather tasks: it splits a sequence into one chunk per worker, has
every worker process its chunk with the same operation, and merges the sorted partial results.
*/
type Coordinator struct {
	d     *Dispatcher
	op    string
	store store.ResultStore
}

// Create a Coordinator that runs op (DEFAULT_SCATTER_OP if empty) on d's workers. Results are
// written to s unless it is nil.
func NewCoordinator(d *Dispatcher, op string, s store.ResultStore) *Coordinator {
	if op == "" {
		op = DEFAULT_SCATTER_OP
	}
	return &Coordinator{d: d, op: op, store: s}
}

/*
ScatterGather sends chunk i of items to the i-th worker (in increasing WorkerID order), all under
one TaskID, waits for all partial results and merges them in the same order. If any worker fails
or times out, the whole task fails and no further replies are awaited.

Without workers, the input is returned unmodified.
*/
func (c *Coordinator) ScatterGather(ctx context.Context, items []int64) (*Gathered, error) {
	workers := c.d.sortedWorkers()

	if len(workers) == 0 {
		return &Gathered{Result: append([]int64{}, items...)}, nil
	}

	task := c.d.newTaskID()
	chunks := Chunk(items, len(workers))
	completions := make([]*Completion, len(workers))

	for i, w := range workers {
		chunk := chunks[i]
		if chunk == nil {
			chunk = []int64{}
		}

		data, err := json.Marshal(chunk)

		if err != nil {
			c.d.registry.FailTask(task, err)
			return nil, err
		}

		completions[i], err = c.d.start(ctx, task, w, c.op, data)

		if err != nil {
			c.d.registry.FailTask(task, err)
			return nil, err
		}
	}

	partials := make([][]int64, len(workers))
	g, gctx := errgroup.WithContext(ctx)

	for i := range completions {
		i := i
		g.Go(func() error {
			reply, err := c.d.await(gctx, completions[i])

			if err != nil {
				return err
			}

			var partial []int64
			if err = json.Unmarshal(reply.GetResult(), &partial); err != nil {
				return &DispatchError{Err: ErrWorkerFailed, Key: completions[i].Key(),
					Message: "partial result is not an integer array: " + err.Error()}
			}
			partials[i] = partial
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.d.registry.FailTask(task, err)
		return nil, err
	}

	gathered := &Gathered{
		Task:     task,
		Workers:  workers,
		Partials: partials,
		Result:   MergeAll(partials),
	}

	if c.store != nil {
		output, err := c.store.Save(ctx, task, gathered.Result)

		if err != nil {
			log.Log(log.LOGLEVEL_WARNINGS, c.d.name, "could not store result of task", task, err.Error())
		} else {
			gathered.Output = output
		}
	}
	return gathered, nil
}
