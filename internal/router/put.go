package router

import (
	"io"
	"net/http"
	"time"

	"github.com/xiahome/ambry/internal/clockutil"
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/transport"
)

// PutOperation drives one logical PUT (upload) across a partition's
// replicas; the success target means a quorum of replicas has
// acknowledged durability.
type PutOperation struct {
	*operation
	body       io.Reader
	size       int64
	headers    http.Header
	assignedID string
}

// NewPutOperation constructs a running PutOperation. body/size are the
// blob payload to stream to each replica; headers carries the blob's
// properties and user metadata, framed alongside the bytes on each
// request.
func NewPutOperation(serviceID string, body io.Reader, size int64, headers http.Header, partition clusterview.PartitionId, replicas []clusterview.ReplicaId, parallelism, successTarget int, operationTimeout, requestTimeout time.Duration, clock clockutil.Clock) *PutOperation {
	return &PutOperation{
		operation: newOperation(transport.KindPut, "", serviceID, partition, replicas, parallelism, successTarget, operationTimeout, requestTimeout, clock),
		body:      body,
		size:      size,
		headers:   headers,
	}
}

// Issue returns the next batch of requests to send, each carrying the
// put body reference. The router only frames the request; streaming the
// body to multiple replicas concurrently is the transport's concern.
func (p *PutOperation) Issue(now time.Time) []transport.Request {
	if p.State().Terminal() {
		return nil
	}
	replicas := p.tracker.NextToIssue()
	if len(replicas) == 0 {
		return nil
	}
	reqs := p.buildRequests(now, replicas)
	for i := range reqs {
		reqs[i].Body = p.body
		reqs[i].Size = p.size
		reqs[i].Headers = p.headers
	}
	return reqs
}

// AssignedBlobID returns the BlobId string minted by the winning
// put, once the operation has succeeded.
func (p *PutOperation) AssignedBlobID() string { return p.assignedID }

// HandleResponse records resp and evaluates PUT's transition rules.
func (p *PutOperation) HandleResponse(resp transport.Response) {
	if p.State().Terminal() {
		return
	}
	if !p.tracker.RecordResponse(resp.Replica, resp.Code) {
		return
	}
	p.noteReplied(resp.Replica)

	if resp.Code == transport.NoError {
		if p.assignedID == "" {
			p.assignedID = resp.AssignedBlobID
		}
		if p.tracker.ReachedSuccessTarget() {
			p.finish(StateSucceeded, CodeSuccess, nil)
		}
		return
	}

	if p.tracker.CannotReachSuccessTarget() {
		p.resolveFailure()
	}
}

func (p *PutOperation) resolveFailure() {
	codes := p.tracker.FailureCodes()
	if len(codes) == 0 {
		p.finish(StateFailed, AmbryUnavailable, NewError(AmbryUnavailable, nil))
		return
	}
	winner := highestPrecedence(codes)
	var code Code
	switch winner {
	case transport.DataCorrupt:
		code = InvalidPutArgument
	default:
		code = AmbryUnavailable
	}
	p.finish(StateFailed, code, NewError(code, nil))
}

// CheckDeadline aborts the operation if its logical deadline has passed,
// then retires any replica requests whose per-request deadline elapsed.
func (p *PutOperation) CheckDeadline(now time.Time) {
	if p.checkOperationDeadline(now) {
		return
	}
	if p.expireOverdueRequests(now) && p.tracker.CannotReachSuccessTarget() {
		p.resolveFailure()
	}
}

// Abort forces the operation into Aborted with the given router code.
func (p *PutOperation) Abort(code Code, err error) {
	p.finish(StateAborted, code, err)
}
