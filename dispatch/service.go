package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	cd "github.com/dermesser/clusterdispatch"
	"github.com/dermesser/clusterdispatch/counter"
)

/*
Service is the surface that front ends (such as the HTTP API) call. It validates input and maps
an empty pool to ErrNoWorkers before any task is created.
*/
type Service struct {
	d       *Dispatcher
	coord   *Coordinator
	counter counter.Counter
}

// c may be nil if the pool has no shared counter.
func NewService(d *Dispatcher, coord *Coordinator, c counter.Counter) *Service {
	if coord == nil {
		coord = NewCoordinator(d, "", nil)
	}
	return &Service{d: d, coord: coord, counter: c}
}

func (s *Service) Dispatcher() *Dispatcher {
	return s.d
}

func (s *Service) checkWorkers() error {
	if len(s.d.workers) == 0 {
		return newError(cd.CorrelationKey{}, ErrNoWorkers, "")
	}
	return nil
}

/*
SubmitTask runs op with data, encoded as JSON, on the next worker and returns the JSON result. A
json.RawMessage is sent as is, after checking that it is valid JSON.
*/
func (s *Service) SubmitTask(ctx context.Context, op string, data interface{}) (json.RawMessage, error) {
	if err := s.checkWorkers(); err != nil {
		return nil, err
	}

	if op == "" {
		return nil, malformed("missing operation")
	}

	buf, err := json.Marshal(data)

	if err != nil {
		return nil, malformed("data: %s", err.Error())
	}

	result, err := s.d.SubmitTask(ctx, op, buf)

	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(result), nil
}

// SubmitScatterGather sorts items on all workers.
func (s *Service) SubmitScatterGather(ctx context.Context, items []int64) (*Gathered, error) {
	if err := s.checkWorkers(); err != nil {
		return nil, err
	}
	return s.coord.ScatterGather(ctx, items)
}

// Increment adds value to the shared counter via the next worker and returns the worker's reply.
func (s *Service) Increment(ctx context.Context, value int64) (json.RawMessage, error) {
	return s.SubmitTask(ctx, "increment", map[string]int64{"value": value})
}

// Counter returns the current value of the shared counter.
func (s *Service) Counter(ctx context.Context) (int64, error) {
	if s.counter == nil {
		return 0, errors.New("no shared counter configured")
	}
	return s.counter.Get(ctx)
}

// Health checks every worker. The map has one entry per worker; nil means healthy.
func (s *Service) Health(ctx context.Context) map[cd.WorkerID]error {
	type result struct {
		w   cd.WorkerID
		err error
	}

	results := make(chan result)
	for _, w := range s.d.workers {
		go func(w cd.WorkerID) {
			results <- result{w, s.d.Health(ctx, w)}
		}(w)
	}

	health := make(map[cd.WorkerID]error, len(s.d.workers))
	for range s.d.workers {
		r := <-results
		health[r.w] = r.err
	}
	return health
}
