package router

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiahome/ambry/internal/clockutil"
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/transport"
)

func deleteReplicas(n int) []clusterview.ReplicaId {
	p0 := clusterview.NewPartitionId(1)
	out := make([]clusterview.ReplicaId, n)
	for i := range out {
		out[i] = clusterview.ReplicaId{Partition: p0, DataNode: strOf(i), Datacenter: "dc1"}
	}
	return out
}

func strOf(i int) string {
	return "n" + string(rune('0'+i)) + ":6000"
}

func newTestDelete(replicas []clusterview.ReplicaId, parallelism, successTarget int) *DeleteOperation {
	clock := clockutil.NewMock(time.Unix(0, 0))
	return NewDeleteOperation("blob-x", "svc", clusterview.NewPartitionId(1), replicas, parallelism, successTarget, time.Minute, time.Second, clock)
}

// Basic delete quorum: 2 of 3 replicas report success, target 2 -> Success.
func TestDeleteBasicQuorum(t *testing.T) {
	replicas := deleteReplicas(3)
	d := newTestDelete(replicas, 3, 2)
	d.Issue(time.Now())

	d.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.NoError})
	require.False(t, d.State().Terminal())

	d.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.NoError})
	require.True(t, d.State().Terminal())

	code, err := d.Result()
	require.NoError(t, err)
	require.Equal(t, CodeSuccess, code)
}

// Short-circuit on deleted: a single Blob_Deleted reply ends the operation
// immediately regardless of how many successes have already landed.
func TestDeleteShortCircuitsOnBlobDeleted(t *testing.T) {
	replicas := deleteReplicas(3)
	d := newTestDelete(replicas, 3, 2)
	d.Issue(time.Now())

	d.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.NoError})
	d.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.BlobDeleted})
	require.True(t, d.State().Terminal())

	code, err := d.Result()
	require.Equal(t, BlobDeleted, code)
	require.Error(t, err)

	// A third, later response must not flip the already-terminal outcome.
	d.HandleResponse(transport.Response{Replica: replicas[2], Code: transport.NoError})
	code2, _ := d.Result()
	require.Equal(t, BlobDeleted, code2)
}

// Unanimous not-found, run to completion: every replica in a complete
// round reports Blob_Not_Found -> BlobDoesNotExist.
func TestDeleteUnanimousNotFoundComplete(t *testing.T) {
	replicas := deleteReplicas(3)
	d := newTestDelete(replicas, 3, 3) // require all three so the round runs to completion
	d.Issue(time.Now())

	d.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobNotFound})
	require.False(t, d.State().Terminal())
	d.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.BlobNotFound})
	require.False(t, d.State().Terminal())
	d.HandleResponse(transport.Response{Replica: replicas[2], Code: transport.BlobNotFound})
	require.True(t, d.State().Terminal())

	code, err := d.Result()
	require.Error(t, err)
	require.Equal(t, BlobDoesNotExist, code)
}

// A missing blob must resolve to BlobDoesNotExist even when the success
// target is below the replica count: the all-not-found round is run to
// completion instead of failing as soon as the target becomes
// unreachable.
func TestDeleteUnanimousNotFoundWithQuorumTarget(t *testing.T) {
	replicas := deleteReplicas(3)
	d := newTestDelete(replicas, 3, 2)
	d.Issue(time.Now())

	d.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobNotFound})
	d.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.BlobNotFound})
	// The target of 2 is already unreachable, but one replica is still
	// inflight and every reply so far is not-found.
	require.False(t, d.State().Terminal())

	d.HandleResponse(transport.Response{Replica: replicas[2], Code: transport.BlobNotFound})
	require.True(t, d.State().Terminal())
	code, err := d.Result()
	require.Error(t, err)
	require.Equal(t, BlobDoesNotExist, code)
}

// A health-code straggler after a deferred all-not-found round falls
// through to the precedence table instead of claiming the blob missing.
func TestDeleteNotFoundStragglerHealthCodeResolvesUnavailable(t *testing.T) {
	replicas := deleteReplicas(3)
	d := newTestDelete(replicas, 3, 2)
	d.Issue(time.Now())

	d.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobNotFound})
	d.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.BlobNotFound})
	require.False(t, d.State().Terminal())

	d.HandleResponse(transport.Response{Replica: replicas[2], Code: transport.DiskUnavailable})
	require.True(t, d.State().Terminal())
	code, err := d.Result()
	require.Error(t, err)
	require.Equal(t, AmbryUnavailable, code)
}

// A below-target success ending a deferred round resolves immediately
// rather than leaving the operation waiting for replies that will never
// come.
func TestDeleteNotFoundStragglerSuccessResolvesUnavailable(t *testing.T) {
	replicas := deleteReplicas(3)
	d := newTestDelete(replicas, 3, 2)
	d.Issue(time.Now())

	d.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobNotFound})
	d.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.BlobNotFound})
	d.HandleResponse(transport.Response{Replica: replicas[2], Code: transport.NoError})
	require.True(t, d.State().Terminal())
	code, err := d.Result()
	require.Error(t, err)
	require.Equal(t, AmbryUnavailable, code)
}

// Mixed health codes, no positive proof: replicas disagree between
// Disk_Unavailable and Blob_Not_Found, neither unanimous nor complete with
// proof -> the health code (higher precedence) wins over the lone NotFound.
func TestDeleteMixedHealthCodesOutrankNotFound(t *testing.T) {
	replicas := deleteReplicas(3)
	d := newTestDelete(replicas, 3, 3)
	d.Issue(time.Now())

	d.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.DiskUnavailable})
	d.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.BlobNotFound})
	d.HandleResponse(transport.Response{Replica: replicas[2], Code: transport.BlobNotFound})
	require.True(t, d.State().Terminal())

	code, err := d.Result()
	require.Error(t, err)
	// DiskUnavailable outranks BlobNotFound in the precedence table, and the
	// delete-code mapping has no dedicated slot for it, so it resolves to
	// the generic unavailable outcome rather than BlobDoesNotExist.
	require.Equal(t, AmbryUnavailable, code)
}

func TestDeleteOperationTimeout(t *testing.T) {
	replicas := deleteReplicas(3)
	clock := clockutil.NewMock(time.Unix(0, 0))
	d := NewDeleteOperation("blob-x", "svc", clusterview.NewPartitionId(1), replicas, 3, 2, time.Second, time.Minute, clock)
	d.Issue(clock.Now())

	clock.Advance(2 * time.Second)
	d.CheckDeadline(clock.Now())
	require.True(t, d.State().Terminal())

	code, err := d.Result()
	require.Error(t, err)
	require.Equal(t, OperationTimedOut, code)
}

func TestDeleteAbort(t *testing.T) {
	d := newTestDelete(deleteReplicas(3), 3, 2)
	d.Abort(RouterClosed, NewError(RouterClosed, nil))
	code, err := d.Result()
	require.Error(t, err)
	require.Equal(t, RouterClosed, code)
}

// A per-request deadline expiring retires that replica request but leaves
// the operation running as long as the remaining replicas can still reach
// the success target.
func TestDeletePerRequestDeadlineExpiryDoesNotFailOperation(t *testing.T) {
	replicas := deleteReplicas(3)
	clock := clockutil.NewMock(time.Unix(0, 0))
	d := NewDeleteOperation("blob-x", "svc", clusterview.NewPartitionId(1), replicas, 2, 1, time.Minute, time.Second, clock)
	issued := d.Issue(clock.Now())
	require.Len(t, issued, 2)

	clock.Advance(2 * time.Second) // past the request timeout, well inside the operation timeout
	d.CheckDeadline(clock.Now())
	require.False(t, d.State().Terminal())

	// The freed parallelism slots let the last replica be tried, and its
	// success still completes the operation.
	next := d.Issue(clock.Now())
	require.Len(t, next, 1)
	d.HandleResponse(transport.Response{Replica: next[0].Replica, Code: transport.NoError})
	require.True(t, d.State().Terminal())
	code, err := d.Result()
	require.NoError(t, err)
	require.Equal(t, CodeSuccess, code)
}

// Once every replica request has expired and none remain to try, the
// operation resolves through the normal failure path.
func TestDeleteAllRequestsExpiredResolvesUnavailable(t *testing.T) {
	replicas := deleteReplicas(3)
	clock := clockutil.NewMock(time.Unix(0, 0))
	d := NewDeleteOperation("blob-x", "svc", clusterview.NewPartitionId(1), replicas, 3, 2, time.Minute, time.Second, clock)
	d.Issue(clock.Now())

	clock.Advance(2 * time.Second)
	d.CheckDeadline(clock.Now())
	require.True(t, d.State().Terminal())
	code, err := d.Result()
	require.Error(t, err)
	require.Equal(t, AmbryUnavailable, code)
}

// For a fixed multiset of replica codes with no Blob_Deleted in it, the
// router result must not depend on arrival order.
func TestDeleteResultIsOrderIndependentForFixedMultiset(t *testing.T) {
	codes := []transport.ReplicaCode{
		transport.BlobNotFound, transport.DataCorrupt, transport.IOError,
		transport.PartitionUnknown, transport.DiskUnavailable, transport.NoError,
		transport.DataCorrupt, transport.UnknownError, transport.DiskUnavailable,
	}
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		perm := rng.Perm(len(codes))
		replicas := deleteReplicas(len(codes))
		d := newTestDelete(replicas, len(codes), 2)
		d.Issue(time.Now())
		for _, idx := range perm {
			d.HandleResponse(transport.Response{Replica: replicas[idx], Code: codes[idx]})
		}
		require.True(t, d.State().Terminal())
		code, _ := d.Result()
		// A single success is below the target of 2, and the health codes
		// outrank the lone not-found.
		require.Equal(t, AmbryUnavailable, code, "permutation %v", perm)
	}
}

func TestDeleteNeverIssuesMoreRequestsThanReplicas(t *testing.T) {
	replicas := deleteReplicas(3)
	d := newTestDelete(replicas, 10, 2)
	reqs := d.Issue(time.Now())
	require.Len(t, reqs, 3)
	require.Empty(t, d.Issue(time.Now()))
}
