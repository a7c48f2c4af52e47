package router

import (
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/transport"
)

// replicaOutcome pairs a replica with the code it returned.
type replicaOutcome struct {
	Replica clusterview.ReplicaId
	Code    transport.ReplicaCode
}

// Tracker keeps the per-operation bookkeeping of which replicas have
// been asked, which have replied, and whether the success/failure
// threshold has been reached. It knows
// nothing about why a code is a success or failure: the operation
// interprets outcomes against the precedence table, while Tracker only
// counts NoError vs everything else.
type Tracker struct {
	replicas      []clusterview.ReplicaId
	pending       []clusterview.ReplicaId
	inflight      map[string]clusterview.ReplicaId
	parallelism   int
	successTarget int

	successes []replicaOutcome
	failures  []replicaOutcome
}

func replicaKey(r clusterview.ReplicaId) string { return r.DataNode }

// NewTracker builds a Tracker over replicas with the given parallelism
// and success target. replicas must be non-empty.
func NewTracker(replicas []clusterview.ReplicaId, parallelism, successTarget int) *Tracker {
	pending := make([]clusterview.ReplicaId, len(replicas))
	copy(pending, replicas)
	return &Tracker{
		replicas:      replicas,
		pending:       pending,
		inflight:      map[string]clusterview.ReplicaId{},
		parallelism:   parallelism,
		successTarget: successTarget,
	}
}

// ReplicaCount returns the size of the replica set.
func (t *Tracker) ReplicaCount() int { return len(t.replicas) }

// NextToIssue pops as many pending replicas as needed to fill the
// parallelism window and marks them inflight. The number of requests
// issued across the operation's lifetime never exceeds len(replicas),
// since each replica is popped from pending at most once.
func (t *Tracker) NextToIssue() []clusterview.ReplicaId {
	var out []clusterview.ReplicaId
	for len(t.inflight) < t.parallelism && len(t.pending) > 0 {
		r := t.pending[0]
		t.pending = t.pending[1:]
		t.inflight[replicaKey(r)] = r
		out = append(out, r)
	}
	return out
}

// RecordResponse moves a replica from inflight to successes or failures.
// A response for a replica that is not currently inflight (a straggler
// after the operation already finished, or a duplicate) is ignored and
// reported as such via the bool return.
func (t *Tracker) RecordResponse(replica clusterview.ReplicaId, code transport.ReplicaCode) bool {
	key := replicaKey(replica)
	if _, ok := t.inflight[key]; !ok {
		return false
	}
	delete(t.inflight, key)
	outcome := replicaOutcome{Replica: replica, Code: code}
	if code == transport.NoError {
		t.successes = append(t.successes, outcome)
	} else {
		t.failures = append(t.failures, outcome)
	}
	return true
}

// ExpireRequest treats an inflight replica's per-request deadline as
// elapsed without a response: the replica is moved to failures with a
// ReplicaUnavailable code. Expiry never fails the operation by itself;
// the remaining replicas may still satisfy the success target.
func (t *Tracker) ExpireRequest(replica clusterview.ReplicaId) bool {
	key := replicaKey(replica)
	if _, ok := t.inflight[key]; !ok {
		return false
	}
	delete(t.inflight, key)
	t.failures = append(t.failures, replicaOutcome{Replica: replica, Code: transport.ReplicaUnavailable})
	return true
}

// SuccessCount, FailureCount, InflightCount, PendingCount report the
// tracker's four-way partition of the replica set; their sum always
// equals ReplicaCount().
func (t *Tracker) SuccessCount() int  { return len(t.successes) }
func (t *Tracker) FailureCount() int  { return len(t.failures) }
func (t *Tracker) InflightCount() int { return len(t.inflight) }
func (t *Tracker) PendingCount() int  { return len(t.pending) }

// HasMoreToIssue reports whether there is pending work and room in the
// parallelism window.
func (t *Tracker) HasMoreToIssue() bool {
	return len(t.pending) > 0 && len(t.inflight) < t.parallelism
}

// ReachedSuccessTarget reports whether enough replicas have reported
// NoError to declare the operation successful.
func (t *Tracker) ReachedSuccessTarget() bool {
	return len(t.successes) >= t.successTarget
}

// CannotReachSuccessTarget reports whether the replicas remaining to try
// (inflight + pending) plus the successes already banked can no longer
// reach the success target.
func (t *Tracker) CannotReachSuccessTarget() bool {
	remaining := len(t.inflight) + len(t.pending)
	return remaining+len(t.successes) < t.successTarget
}

// IsComplete reports whether every replica has either succeeded or
// failed (no outstanding requests): the precondition for the unanimous
// BlobDoesNotExist special case.
func (t *Tracker) IsComplete() bool {
	return len(t.inflight) == 0 && len(t.pending) == 0
}

// AllFailuresAre reports whether every failure recorded so far carries
// exactly code. False when no failures have been recorded yet.
func (t *Tracker) AllFailuresAre(code transport.ReplicaCode) bool {
	if len(t.failures) == 0 {
		return false
	}
	for _, f := range t.failures {
		if f.Code != code {
			return false
		}
	}
	return true
}

// FailureCodes returns the observed per-replica failure codes, for
// precedence resolution.
func (t *Tracker) FailureCodes() []transport.ReplicaCode {
	out := make([]transport.ReplicaCode, len(t.failures))
	for i, f := range t.failures {
		out[i] = f.Code
	}
	return out
}

// AllUnanimous reports whether every reply received so far (success and
// failure alike) carries exactly code. Used for the unanimous-not-found
// special case, which considers every replica reply, not just the
// failures.
func (t *Tracker) AllUnanimous(code transport.ReplicaCode) bool {
	if len(t.successes) > 0 {
		return code == transport.NoError && len(t.failures) == 0
	}
	for _, f := range t.failures {
		if f.Code != code {
			return false
		}
	}
	return len(t.failures) > 0
}
