package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/transport"
)

func threeReplicas() []clusterview.ReplicaId {
	p0 := clusterview.NewPartitionId(1)
	return []clusterview.ReplicaId{
		{Partition: p0, DataNode: "n0:6000", Datacenter: "dc1"},
		{Partition: p0, DataNode: "n1:6000", Datacenter: "dc1"},
		{Partition: p0, DataNode: "n2:6000", Datacenter: "dc2"},
	}
}

func TestTrackerNextToIssueRespectsParallelism(t *testing.T) {
	tr := NewTracker(threeReplicas(), 2, 2)

	first := tr.NextToIssue()
	require.Len(t, first, 2)
	require.Equal(t, 2, tr.InflightCount())
	require.Equal(t, 1, tr.PendingCount())

	// Parallelism window is full: no more to issue until a response frees a slot.
	require.Empty(t, tr.NextToIssue())
}

func TestTrackerNeverIssuesMoreThanReplicaCount(t *testing.T) {
	replicas := threeReplicas()
	tr := NewTracker(replicas, 10, 2)

	issued := tr.NextToIssue()
	require.Len(t, issued, len(replicas))
	require.Empty(t, tr.NextToIssue())
}

func TestTrackerRecordResponseMovesInflightToSuccessOrFailure(t *testing.T) {
	replicas := threeReplicas()
	tr := NewTracker(replicas, 3, 2)
	tr.NextToIssue()

	require.True(t, tr.RecordResponse(replicas[0], transport.NoError))
	require.True(t, tr.RecordResponse(replicas[1], transport.BlobNotFound))

	require.Equal(t, 1, tr.SuccessCount())
	require.Equal(t, 1, tr.FailureCount())
	require.Equal(t, 1, tr.InflightCount())
}

func TestTrackerRecordResponseIgnoresStraggler(t *testing.T) {
	replicas := threeReplicas()
	tr := NewTracker(replicas, 3, 2)
	tr.NextToIssue()
	tr.RecordResponse(replicas[0], transport.NoError)

	// A second response for the same already-retired replica is ignored.
	require.False(t, tr.RecordResponse(replicas[0], transport.NoError))
	require.Equal(t, 1, tr.SuccessCount())
}

func TestTrackerExpireRequestDoesNotFailOperationAlone(t *testing.T) {
	replicas := threeReplicas()
	tr := NewTracker(replicas, 3, 2)
	tr.NextToIssue()

	require.True(t, tr.ExpireRequest(replicas[0]))
	require.Equal(t, 1, tr.FailureCount())
	require.False(t, tr.ReachedSuccessTarget())
	require.False(t, tr.CannotReachSuccessTarget()) // 2 replicas remain, target is 2
}

func TestTrackerReplicaCountInvariant(t *testing.T) {
	replicas := threeReplicas()
	tr := NewTracker(replicas, 3, 2)
	tr.NextToIssue()
	tr.RecordResponse(replicas[0], transport.NoError)
	tr.RecordResponse(replicas[1], transport.BlobNotFound)

	sum := tr.SuccessCount() + tr.FailureCount() + tr.InflightCount() + tr.PendingCount()
	require.Equal(t, tr.ReplicaCount(), sum)
}

func TestTrackerCannotReachSuccessTarget(t *testing.T) {
	replicas := threeReplicas()
	tr := NewTracker(replicas, 3, 2)
	tr.NextToIssue()
	tr.RecordResponse(replicas[0], transport.BlobNotFound)
	require.False(t, tr.CannotReachSuccessTarget()) // 2 replicas remain, target 2: still reachable

	tr.RecordResponse(replicas[1], transport.BlobNotFound)
	require.True(t, tr.CannotReachSuccessTarget()) // 1 remains, 0 successes, target 2: unreachable

	tr.RecordResponse(replicas[2], transport.BlobNotFound)
	require.True(t, tr.CannotReachSuccessTarget())
	require.True(t, tr.IsComplete())
}

func TestTrackerAllUnanimous(t *testing.T) {
	replicas := threeReplicas()
	tr := NewTracker(replicas, 3, 3)
	tr.NextToIssue()
	tr.RecordResponse(replicas[0], transport.BlobNotFound)
	tr.RecordResponse(replicas[1], transport.BlobNotFound)
	tr.RecordResponse(replicas[2], transport.BlobNotFound)

	require.True(t, tr.IsComplete())
	require.True(t, tr.AllUnanimous(transport.BlobNotFound))
	require.False(t, tr.AllUnanimous(transport.DiskUnavailable))
}

func TestTrackerAllUnanimousFalseWithAnySuccess(t *testing.T) {
	replicas := threeReplicas()
	tr := NewTracker(replicas, 3, 3)
	tr.NextToIssue()
	tr.RecordResponse(replicas[0], transport.NoError)
	tr.RecordResponse(replicas[1], transport.BlobNotFound)
	tr.RecordResponse(replicas[2], transport.BlobNotFound)

	require.False(t, tr.AllUnanimous(transport.BlobNotFound))
}

func TestTrackerAllFailuresAre(t *testing.T) {
	replicas := threeReplicas()
	tr := NewTracker(replicas, 3, 2)
	tr.NextToIssue()

	require.False(t, tr.AllFailuresAre(transport.BlobNotFound)) // nothing recorded yet

	tr.RecordResponse(replicas[0], transport.BlobNotFound)
	require.True(t, tr.AllFailuresAre(transport.BlobNotFound))

	tr.RecordResponse(replicas[1], transport.NoError) // successes don't count as failures
	require.True(t, tr.AllFailuresAre(transport.BlobNotFound))

	tr.RecordResponse(replicas[2], transport.DiskUnavailable)
	require.False(t, tr.AllFailuresAre(transport.BlobNotFound))
}

func TestTrackerHasMoreToIssue(t *testing.T) {
	replicas := threeReplicas()
	tr := NewTracker(replicas, 1, 2)
	require.True(t, tr.HasMoreToIssue())
	tr.NextToIssue()
	require.False(t, tr.HasMoreToIssue()) // window full

	tr.RecordResponse(replicas[0], transport.NoError)
	require.True(t, tr.HasMoreToIssue())
}
