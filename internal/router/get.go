package router

import (
	"io"
	"net/http"
	"time"

	"github.com/xiahome/ambry/internal/clockutil"
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/transport"
)

// GetOption controls which blob states a GET/HEAD is allowed to surface.
type GetOption int

const (
	GetOptionNone GetOption = iota
	GetOptionIncludeExpiredBlobs
	GetOptionIncludeDeletedBlobs
	GetOptionIncludeAll
)

func (o GetOption) allowsDeleted() bool {
	return o == GetOptionIncludeDeletedBlobs || o == GetOptionIncludeAll
}

func (o GetOption) allowsExpired() bool {
	return o == GetOptionIncludeExpiredBlobs || o == GetOptionIncludeAll
}

// GetOperation drives one logical GET across a partition's replicas,
// returning the first successful body stream and discarding the rest.
type GetOperation struct {
	*operation
	option  GetOption
	body    io.ReadCloser
	size    int64
	headers http.Header
}

// NewGetOperation constructs a running GetOperation.
func NewGetOperation(blobID, serviceID string, option GetOption, partition clusterview.PartitionId, replicas []clusterview.ReplicaId, parallelism, successTarget int, operationTimeout, requestTimeout time.Duration, clock clockutil.Clock) *GetOperation {
	return &GetOperation{
		operation: newOperation(transport.KindGet, blobID, serviceID, partition, replicas, parallelism, successTarget, operationTimeout, requestTimeout, clock),
		option:    option,
	}
}

// Issue returns the next batch of requests to send.
func (g *GetOperation) Issue(now time.Time) []transport.Request {
	if g.State().Terminal() {
		return nil
	}
	replicas := g.tracker.NextToIssue()
	if len(replicas) == 0 {
		return nil
	}
	return g.buildRequests(now, replicas)
}

// Body returns the winning replica's body stream once the operation has
// succeeded. Other in-flight replica responses are discarded by the
// router's single-completion guard: once this operation is terminal,
// HandleResponse for any later response is a no-op that closes the
// response body rather than delivering it.
func (g *GetOperation) Body() io.ReadCloser { return g.body }

// Size returns the winning replica's reported blob size, valid once the
// operation has succeeded.
func (g *GetOperation) Size() int64 { return g.size }

// Headers returns the winning replica's framed properties/user-metadata
// headers, valid once the operation has succeeded.
func (g *GetOperation) Headers() http.Header { return g.headers }

// HandleResponse records resp and evaluates GET's transition rules.
func (g *GetOperation) HandleResponse(resp transport.Response) {
	if g.State().Terminal() {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return
	}
	if !g.tracker.RecordResponse(resp.Replica, resp.Code) {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return
	}
	g.noteReplied(resp.Replica)

	if resp.Code == transport.NoError {
		if g.tracker.ReachedSuccessTarget() {
			g.body = resp.Body
			g.size = resp.Size
			g.headers = resp.Headers
			g.finish(StateSucceeded, CodeSuccess, nil)
			return
		}
		// Not enough successes yet. The body belongs to whichever
		// response eventually wins, so close this one; only the winner
		// is kept.
		if resp.Body != nil {
			resp.Body.Close()
		}
		// A deferred all-not-found round can end on a success that is
		// still below the target; resolve it now rather than waiting on
		// replies that will never come.
		if g.tracker.CannotReachSuccessTarget() {
			g.resolveFailure()
		}
		return
	}

	// Blob_Deleted/Blob_Expired short-circuit a read exactly like a
	// delete does, UNLESS the caller's GetOption explicitly asked to
	// include that state.
	if resp.Code == transport.BlobDeleted && !g.option.allowsDeleted() {
		g.finish(StateFailed, BlobDeleted, NewError(BlobDeleted, nil))
		return
	}
	if resp.Code == transport.BlobExpired && !g.option.allowsExpired() {
		g.finish(StateFailed, BlobExpired, NewError(BlobExpired, nil))
		return
	}

	if g.tracker.CannotReachSuccessTarget() {
		// Same deferral as a delete: an all-not-found round runs to
		// completion so it can resolve as unanimous proof.
		if !g.tracker.IsComplete() && g.tracker.SuccessCount() == 0 && g.tracker.AllFailuresAre(transport.BlobNotFound) {
			return
		}
		g.resolveFailure()
	}
}

func (g *GetOperation) resolveFailure() {
	codes := g.tracker.FailureCodes()
	if len(codes) == 0 {
		g.finish(StateFailed, AmbryUnavailable, NewError(AmbryUnavailable, nil))
		return
	}
	unanimousNotFound := g.tracker.IsComplete() && g.tracker.AllUnanimous(transport.BlobNotFound)
	winner := highestPrecedence(codes)
	code := resolveReadError(winner, unanimousNotFound)
	g.finish(StateFailed, code, NewError(code, nil))
}

// CheckDeadline aborts the operation if its logical deadline has passed,
// then retires any replica requests whose per-request deadline elapsed.
func (g *GetOperation) CheckDeadline(now time.Time) {
	if g.checkOperationDeadline(now) {
		return
	}
	if g.expireOverdueRequests(now) && g.tracker.CannotReachSuccessTarget() {
		g.resolveFailure()
	}
}

// Abort forces the operation into Aborted with the given router code.
func (g *GetOperation) Abort(code Code, err error) {
	g.finish(StateAborted, code, err)
}
