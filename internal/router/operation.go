package router

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xiahome/ambry/internal/clockutil"
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/transport"
)

// State is a ReplicaOperation's lifecycle state.
type State int

const (
	StateInitial State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateAborted
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAborted
}

// operation is the common machinery shared by Delete/Get/PutOperation:
// tracker-driven issuing, deadline bookkeeping, and single-completion.
// Single-completion is enforced by completeOnce, not external locking.
type operation struct {
	id        uuid.UUID
	kind      transport.Kind
	blobID    string
	serviceID string
	partition clusterview.PartitionId

	tracker        *Tracker
	requestTimeout time.Duration
	deadline       time.Time
	clock          clockutil.Clock

	// inflightReqs tracks the per-request deadline of each replica request
	// still awaiting a reply. Mutated only from the driver loop.
	inflightReqs map[string]inflightRequest

	mu    sync.Mutex
	state State

	completeOnce sync.Once
	done         chan struct{}
	resultCode   Code
	resultErr    error
}

func newOperation(kind transport.Kind, blobID, serviceID string, partition clusterview.PartitionId, replicas []clusterview.ReplicaId, parallelism, successTarget int, operationTimeout time.Duration, requestTimeout time.Duration, clock clockutil.Clock) *operation {
	return &operation{
		id:             uuid.New(),
		kind:           kind,
		blobID:         blobID,
		serviceID:      serviceID,
		partition:      partition,
		tracker:        NewTracker(replicas, parallelism, successTarget),
		requestTimeout: requestTimeout,
		deadline:       clock.Now().Add(operationTimeout),
		clock:          clock,
		inflightReqs:   map[string]inflightRequest{},
		state:          StateRunning,
		done:           make(chan struct{}),
	}
}

// ID returns the operation's unique handle.
func (op *operation) ID() uuid.UUID { return op.id }

// State returns the operation's current lifecycle state.
func (op *operation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Done returns a channel closed exactly once, when the operation reaches
// a terminal state.
func (op *operation) Done() <-chan struct{} { return op.done }

// Result returns the terminal router Code and error. Valid only after
// Done() is closed.
func (op *operation) Result() (Code, error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.resultCode, op.resultErr
}

// finish performs the single-completion transition: the first caller
// wins and every subsequent call is a no-op, so an operation reaches a
// terminal state exactly once.
func (op *operation) finish(state State, code Code, err error) {
	op.completeOnce.Do(func() {
		op.mu.Lock()
		op.state = state
		op.resultCode = code
		op.resultErr = err
		op.mu.Unlock()
		close(op.done)
	})
}

// inflightRequest pairs an issued replica request with its deadline.
type inflightRequest struct {
	replica  clusterview.ReplicaId
	deadline time.Time
}

// buildRequests turns a batch of replicas the tracker wants issued into
// transport.Requests tagged with this operation's per-request deadline.
func (op *operation) buildRequests(now time.Time, replicas []clusterview.ReplicaId) []transport.Request {
	reqs := make([]transport.Request, 0, len(replicas))
	for _, r := range replicas {
		deadline := now.Add(op.requestTimeout)
		req := transport.Request{
			ID:        uuid.New(),
			Kind:      op.kind,
			Replica:   r,
			BlobID:    op.blobID,
			ServiceID: op.serviceID,
			Deadline:  deadline,
		}
		op.inflightReqs[replicaKey(r)] = inflightRequest{replica: r, deadline: deadline}
		reqs = append(reqs, req)
	}
	return reqs
}

// noteReplied forgets the per-request deadline of a replica that answered.
func (op *operation) noteReplied(r clusterview.ReplicaId) {
	delete(op.inflightReqs, replicaKey(r))
}

// expireOverdueRequests retires every inflight replica request whose
// per-request deadline has elapsed without a reply, recording each as a
// ReplicaUnavailable failure in the tracker. Expiry alone never fails the
// operation: the caller re-evaluates the tracker's thresholds afterwards,
// so remaining replicas can still satisfy the success target.
func (op *operation) expireOverdueRequests(now time.Time) bool {
	expired := false
	for key, infl := range op.inflightReqs {
		if now.Before(infl.deadline) {
			continue
		}
		delete(op.inflightReqs, key)
		if op.tracker.ExpireRequest(infl.replica) {
			expired = true
		}
	}
	return expired
}

// checkOperationDeadline aborts the operation with OperationTimedOut if
// now is past its deadline. Returns true if it did.
func (op *operation) checkOperationDeadline(now time.Time) bool {
	if now.Before(op.deadline) {
		return false
	}
	op.finish(StateAborted, OperationTimedOut, NewError(OperationTimedOut, nil))
	return true
}
