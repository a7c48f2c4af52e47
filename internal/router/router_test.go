package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiahome/ambry/internal/clockutil"
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/transport"
)

// fakeTransport answers every Send immediately with a fixed per-replica
// code, handed back on the next Poll.
type fakeTransport struct {
	mu        sync.Mutex
	codeFor   func(clusterview.ReplicaId) transport.ReplicaCode
	responses []transport.Response
	closed    bool
}

func (f *fakeTransport) Send(req transport.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	code := f.codeFor(req.Replica)
	var assigned string
	if req.Kind == transport.KindPut && code == transport.NoError {
		assigned = "minted-blob-id"
	}
	f.responses = append(f.responses, transport.Response{
		RequestID:      req.ID,
		Replica:        req.Replica,
		Code:           code,
		AssignedBlobID: assigned,
	})
	return nil
}

func (f *fakeTransport) Poll() []transport.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.responses
	f.responses = nil
	return out
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testClusterView() clusterview.ClusterView {
	p0 := clusterview.NewPartitionId(1)
	return clusterview.NewStatic(map[uint64][]clusterview.ReplicaId{
		1: {
			{Partition: p0, DataNode: "n0:6000", Datacenter: "dc1"},
			{Partition: p0, DataNode: "n1:6000", Datacenter: "dc1"},
			{Partition: p0, DataNode: "n2:6000", Datacenter: "dc2"},
		},
	}, []clusterview.PartitionId{p0})
}

func testConfig() Config {
	return Config{
		DeleteParallelism: 3, DeleteSuccessTarget: 2,
		GetParallelism: 2, GetSuccessTarget: 1,
		PutParallelism: 3, PutSuccessTarget: 2,
		OperationTimeout: 2 * time.Second,
		RequestTimeout:   time.Second,
		PollInterval:     time.Millisecond,
	}
}

func TestCorePutSucceedsAndAssignsBlobID(t *testing.T) {
	cv := testClusterView()
	ft := &fakeTransport{codeFor: func(clusterview.ReplicaId) transport.ReplicaCode { return transport.NoError }}
	core := NewCore(cv, ft, clockutil.System{}, testConfig())
	defer core.Close()

	ch := core.Put("svc", nil, 0, nil)
	op := <-ch
	require.True(t, op.State().Terminal())
	code, err := op.Result()
	require.NoError(t, err)
	require.Equal(t, CodeSuccess, code)
	require.Equal(t, "minted-blob-id", op.AssignedBlobID())
}

func TestCoreDeleteSucceeds(t *testing.T) {
	cv := testClusterView()
	id := clusterview.BlobId{Version: clusterview.VersionUnknownAccount, Partition: clusterview.NewPartitionId(1)}
	ft := &fakeTransport{codeFor: func(clusterview.ReplicaId) transport.ReplicaCode { return transport.NoError }}
	core := NewCore(cv, ft, clockutil.System{}, testConfig())
	defer core.Close()

	errCh := core.Delete(id.String(), "svc")
	err := <-errCh
	require.NoError(t, err)
}

func TestCoreDeleteRejectsMalformedBlobID(t *testing.T) {
	cv := testClusterView()
	ft := &fakeTransport{codeFor: func(clusterview.ReplicaId) transport.ReplicaCode { return transport.NoError }}
	core := NewCore(cv, ft, clockutil.System{}, testConfig())
	defer core.Close()

	err := <-core.Delete("not-valid-base64!!", "svc")
	require.Error(t, err)
	require.Equal(t, InvalidBlobId, CodeOf(err))
}

func TestCorePutWithNoWritablePartitionsFailsInsufficientCapacity(t *testing.T) {
	cv := clusterview.NewStatic(nil, nil)
	ft := &fakeTransport{codeFor: func(clusterview.ReplicaId) transport.ReplicaCode { return transport.NoError }}
	core := NewCore(cv, ft, clockutil.System{}, testConfig())
	defer core.Close()

	op := <-core.Put("svc", nil, 0, nil)
	code, err := op.Result()
	require.Error(t, err)
	require.Equal(t, InsufficientCapacity, code)
}

func TestCoreCloseAbortsInFlightOperations(t *testing.T) {
	cv := testClusterView()
	ft := &fakeTransport{codeFor: func(clusterview.ReplicaId) transport.ReplicaCode { return transport.ReplicaUnavailable }}
	// A poll interval far beyond the test's lifetime keeps the driver from
	// resolving the operation before Close aborts it.
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	core := NewCore(cv, ft, clockutil.System{}, cfg)

	id := clusterview.BlobId{Version: clusterview.VersionUnknownAccount, Partition: clusterview.NewPartitionId(1)}
	errCh := core.Delete(id.String(), "svc")

	require.NoError(t, core.Close())
	err := <-errCh
	require.Error(t, err)
	require.Equal(t, RouterClosed, CodeOf(err))
	require.True(t, ft.closed)
}

func TestCoreGetReturnsBody(t *testing.T) {
	cv := testClusterView()
	ft := &fakeTransport{codeFor: func(clusterview.ReplicaId) transport.ReplicaCode { return transport.NoError }}
	core := NewCore(cv, ft, clockutil.System{}, testConfig())
	defer core.Close()

	id := clusterview.BlobId{Version: clusterview.VersionUnknownAccount, Partition: clusterview.NewPartitionId(1)}
	op := <-core.Get(id.String(), "svc", GetOptionNone)
	code, err := op.Result()
	require.NoError(t, err)
	require.Equal(t, CodeSuccess, code)
}
