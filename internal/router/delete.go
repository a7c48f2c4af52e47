package router

import (
	"time"

	"github.com/xiahome/ambry/internal/clockutil"
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/transport"
)

// DeleteOperation drives one logical DELETE across a partition's
// replicas, applying the Blob_Deleted short-circuit and the
// error-precedence resolution rules.
type DeleteOperation struct {
	*operation
}

// NewDeleteOperation constructs a running DeleteOperation.
func NewDeleteOperation(blobID, serviceID string, partition clusterview.PartitionId, replicas []clusterview.ReplicaId, parallelism, successTarget int, operationTimeout, requestTimeout time.Duration, clock clockutil.Clock) *DeleteOperation {
	return &DeleteOperation{
		operation: newOperation(transport.KindDelete, blobID, serviceID, partition, replicas, parallelism, successTarget, operationTimeout, requestTimeout, clock),
	}
}

// Issue returns the next batch of requests to send, given the tracker's
// current pending/inflight split.
func (d *DeleteOperation) Issue(now time.Time) []transport.Request {
	if d.State().Terminal() {
		return nil
	}
	replicas := d.tracker.NextToIssue()
	if len(replicas) == 0 {
		return nil
	}
	return d.buildRequests(now, replicas)
}

// HandleResponse records resp and evaluates the transition rules. It is a
// no-op once the operation is terminal (the single-completion guard is
// in operation.finish).
func (d *DeleteOperation) HandleResponse(resp transport.Response) {
	if d.State().Terminal() {
		return
	}
	if !d.tracker.RecordResponse(resp.Replica, resp.Code) {
		return // straggler for a replica we'd already retired
	}
	d.noteReplied(resp.Replica)

	// Early termination: Blob_Deleted short-circuits immediately,
	// regardless of success count, and the router result stays BlobDeleted
	// regardless of later responses. The pipeline, not the router, turns
	// this into 202 vs 410 depending on whether the original request was
	// a DELETE (idempotent) or a GET/HEAD (Gone).
	if resp.Code == transport.BlobDeleted {
		d.finish(StateFailed, BlobDeleted, NewError(BlobDeleted, nil))
		return
	}

	if d.tracker.ReachedSuccessTarget() {
		d.finish(StateSucceeded, CodeSuccess, nil)
		return
	}

	if d.tracker.CannotReachSuccessTarget() {
		// An all-not-found round may still become unanimous proof that
		// the blob does not exist; run it to completion instead of
		// failing early. Any success or health code breaks the deferral
		// and resolves through the precedence table.
		if !d.tracker.IsComplete() && d.tracker.SuccessCount() == 0 && d.tracker.AllFailuresAre(transport.BlobNotFound) {
			return
		}
		d.resolveFailure()
		return
	}
}

// resolveFailure combines the observed per-replica codes via the fixed
// precedence table and maps the winner onto a router Code, with the
// unanimous-not-found special case.
func (d *DeleteOperation) resolveFailure() {
	codes := d.tracker.FailureCodes()
	if len(codes) == 0 {
		// No failures recorded at all but the target is unreachable:
		// every replica we were going to try is exhausted with zero
		// responses, which should not happen given the tracker
		// invariants, but fail safe rather than index a nil slice.
		d.finish(StateFailed, AmbryUnavailable, NewError(AmbryUnavailable, nil))
		return
	}
	if d.tracker.IsComplete() && d.tracker.AllUnanimous(transport.BlobNotFound) {
		d.finish(StateFailed, BlobDoesNotExist, NewError(BlobDoesNotExist, nil))
		return
	}
	winner := highestPrecedence(codes)
	code := deleteCodeFor(winner)
	d.finish(StateFailed, code, NewError(code, nil))
}

func deleteCodeFor(winner transport.ReplicaCode) Code {
	switch winner {
	case transport.BlobExpired:
		return BlobExpired
	case transport.BlobDeleted:
		return BlobDeleted
	case transport.BlobAuthorizationFailure:
		return BlobAuthorizationFailure
	case transport.BlobNotFound:
		// Non-unanimous / incomplete proof falls through to the
		// generic unavailable outcome.
		return AmbryUnavailable
	default:
		return AmbryUnavailable
	}
}

// CheckDeadline aborts the operation if its logical deadline has passed,
// then retires any replica requests whose per-request deadline elapsed.
// Request expiry fails the operation only when the remaining replicas can
// no longer reach the success target.
func (d *DeleteOperation) CheckDeadline(now time.Time) {
	if d.checkOperationDeadline(now) {
		return
	}
	if d.expireOverdueRequests(now) && d.tracker.CannotReachSuccessTarget() {
		d.resolveFailure()
	}
}

// Abort forces the operation into Aborted with the given router code,
// used when the router shuts down.
func (d *DeleteOperation) Abort(code Code, err error) {
	d.finish(StateAborted, code, err)
}
