package clusterdispatch

import (
	"fmt"
	"strconv"
)

// A WorkerID identifies one worker within a pool. It is assigned when the pool is configured and
// doubles as the routing token of messages addressed to the worker.
type WorkerID uint32

// A TaskID is allocated by a dispatcher for every logical unit of work. It is unique only within
// one dispatcher instance; it restarts at 1 with the process. 0 is never allocated, workers use
// it for READY announcements.
type TaskID uint64

// Token returns the routing token for messages addressed to w.
func (w WorkerID) Token() string {
	return strconv.FormatUint(uint64(w), 10)
}

func (w WorkerID) String() string {
	return "worker-" + w.Token()
}

// ParseToken is the inverse of WorkerID.Token.
func ParseToken(token string) (WorkerID, error) {
	v, err := strconv.ParseUint(token, 10, 32)

	if err != nil {
		return 0, fmt.Errorf("bad routing token %q: %w", token, err)
	}
	return WorkerID(v), nil
}

// A CorrelationKey identifies one outstanding reply expectation.
type CorrelationKey struct {
	Task   TaskID
	Worker WorkerID
}

func (k CorrelationKey) String() string {
	return fmt.Sprintf("%d/%d", k.Task, k.Worker)
}
