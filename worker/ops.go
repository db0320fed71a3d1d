package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/dermesser/clusterdispatch/counter"
	"github.com/dermesser/clusterdispatch/dispatch"
)

// Names of the standard operations.
const (
	OP_DOUBLE    = "double"
	OP_SQUARE    = "square"
	OP_SLEEP     = "sleep"
	OP_ECHO      = "echo"
	OP_SORT      = "sort"
	OP_INCREMENT = "increment"
)

// Result of the increment operation.
type IncrementResult struct {
	WorkerID uint32 `json:"worker_id"`
	Counter  int64  `json:"counter"`
}

/*
Register the standard operations on w. The increment operation adds to c; it is left out if c is
nil.
*/
func RegisterStandardOps(w *Worker, c counter.Counter) error {
	ops := map[string]Handler{
		OP_DOUBLE: numberHandler(
			func(x *big.Int) *big.Int { return x.Lsh(x, 1) },
			func(x float64) float64 { return 2 * x }),
		OP_SQUARE: numberHandler(
			func(x *big.Int) *big.Int { return x.Mul(x, x) },
			func(x float64) float64 { return x * x }),
		OP_SLEEP:  sleepHandler,
		OP_ECHO:   echoHandler,
		OP_SORT:   sortHandler,
	}

	if c != nil {
		ops[OP_INCREMENT] = makeIncrementHandler(c)
	}

	for op, h := range ops {
		if err := w.RegisterHandler(op, h); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// Integers are computed exactly, at any size; other numbers as float64.
func numberHandler(intOp func(*big.Int) *big.Int, floatOp func(float64) float64) Handler {
	return func(ctx *Context) {
		var n json.Number

		if err := ctx.GetArgument(&n); err != nil {
			ctx.Fail("expected a number: " + err.Error())
			return
		}

		if i, ok := new(big.Int).SetString(n.String(), 10); ok {
			ctx.Return(intOp(i))
			return
		}

		x, err := n.Float64()

		if err != nil {
			ctx.Fail("expected a number: " + err.Error())
			return
		}
		ctx.Return(floatOp(x))
	}
}

// Sleeps for the given number of seconds, then returns it. The sleep ends early at the task's
// deadline.
func sleepHandler(ctx *Context) {
	var seconds float64

	// The duration in nanoseconds must fit an int64.
	if err := ctx.GetArgument(&seconds); err != nil || seconds < 0 || seconds*float64(time.Second) >= math.MaxInt64 {
		ctx.Fail(fmt.Sprintf("expected a number of seconds in [0, %d)", math.MaxInt64/int64(time.Second)))
		return
	}

	d := time.Duration(seconds * float64(time.Second))

	if deadline := ctx.GetDeadline(); !deadline.IsZero() && time.Until(deadline) < d {
		d = time.Until(deadline)
	}

	time.Sleep(d)
	ctx.Return(seconds)
}

func echoHandler(ctx *Context) {
	ctx.Success(ctx.GetInput())
}

func sortHandler(ctx *Context) {
	var items []int64

	if err := ctx.GetArgument(&items); err != nil {
		ctx.Fail("expected an array of integers: " + err.Error())
		return
	}
	ctx.Return(dispatch.MergeSort(items))
}

func makeIncrementHandler(c counter.Counter) Handler {
	return func(ctx *Context) {
		var arg struct {
			Value *int64 `json:"value"`
		}

		if input := ctx.GetInput(); len(input) > 0 {
			if err := json.Unmarshal(input, &arg); err != nil {
				ctx.Fail("expected {\"value\": n}: " + err.Error())
				return
			}
		}

		delta := int64(1)
		if arg.Value != nil {
			delta = *arg.Value
		}

		cctx := context.Background()
		if deadline := ctx.GetDeadline(); !deadline.IsZero() {
			var cancel context.CancelFunc
			cctx, cancel = context.WithDeadline(cctx, deadline)
			defer cancel()
		}

		total, err := c.Add(cctx, delta)

		if err != nil {
			ctx.Fail(err.Error())
			return
		}
		ctx.Return(IncrementResult{WorkerID: uint32(ctx.WorkerID()), Counter: total})
	}
}
