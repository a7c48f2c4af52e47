package router

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiahome/ambry/internal/clockutil"
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/transport"
)

func newTestGet(replicas []clusterview.ReplicaId, option GetOption, parallelism, successTarget int) *GetOperation {
	clock := clockutil.NewMock(time.Unix(0, 0))
	return NewGetOperation("blob-x", "svc", option, clusterview.NewPartitionId(1), replicas, parallelism, successTarget, time.Minute, time.Second, clock)
}

func TestGetSucceedsOnFirstSuccessfulReply(t *testing.T) {
	replicas := deleteReplicas(3)
	g := newTestGet(replicas, GetOptionNone, 3, 1)
	g.Issue(time.Now())

	body := io.NopCloser(strings.NewReader("payload"))
	headers := http.Header{"Content-Type": []string{"text/plain"}}
	g.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.NoError, Body: body, Size: 7, Headers: headers})

	require.True(t, g.State().Terminal())
	code, err := g.Result()
	require.NoError(t, err)
	require.Equal(t, CodeSuccess, code)
	require.Equal(t, int64(7), g.Size())
	require.Equal(t, "text/plain", g.Headers().Get("Content-Type"))
}

func TestGetDiscardsLosingBodiesAfterSuccess(t *testing.T) {
	replicas := deleteReplicas(3)
	g := newTestGet(replicas, GetOptionNone, 3, 1)
	g.Issue(time.Now())

	winner := io.NopCloser(strings.NewReader("winner"))
	g.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.NoError, Body: winner, Size: 6})
	require.True(t, g.State().Terminal())

	loserClosed := false
	loser := &closeTrackingReader{Reader: strings.NewReader("loser"), onClose: func() { loserClosed = true }}
	g.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.NoError, Body: loser})
	require.True(t, loserClosed)
}

type closeTrackingReader struct {
	io.Reader
	onClose func()
}

func (c *closeTrackingReader) Close() error {
	c.onClose()
	return nil
}

func TestGetBlobDeletedShortCircuitsByDefault(t *testing.T) {
	replicas := deleteReplicas(3)
	g := newTestGet(replicas, GetOptionNone, 3, 1)
	g.Issue(time.Now())

	g.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobDeleted})
	require.True(t, g.State().Terminal())
	code, err := g.Result()
	require.Error(t, err)
	require.Equal(t, BlobDeleted, code)
}

func TestGetOptionIncludeDeletedSuppressesShortCircuit(t *testing.T) {
	replicas := deleteReplicas(3)
	g := newTestGet(replicas, GetOptionIncludeDeletedBlobs, 3, 1)
	g.Issue(time.Now())

	g.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobDeleted})
	require.False(t, g.State().Terminal())

	body := io.NopCloser(strings.NewReader("still here"))
	g.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.NoError, Body: body, Size: 10})
	require.True(t, g.State().Terminal())
	code, err := g.Result()
	require.NoError(t, err)
	require.Equal(t, CodeSuccess, code)
}

func TestGetOptionIncludeExpiredSuppressesShortCircuit(t *testing.T) {
	replicas := deleteReplicas(3)
	g := newTestGet(replicas, GetOptionIncludeExpiredBlobs, 3, 1)
	g.Issue(time.Now())

	g.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobExpired})
	require.False(t, g.State().Terminal())
}

func TestGetBlobExpiredShortCircuitsByDefault(t *testing.T) {
	replicas := deleteReplicas(3)
	g := newTestGet(replicas, GetOptionNone, 3, 1)
	g.Issue(time.Now())

	g.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobExpired})
	require.True(t, g.State().Terminal())
	code, _ := g.Result()
	require.Equal(t, BlobExpired, code)
}

func TestGetUnanimousNotFound(t *testing.T) {
	replicas := deleteReplicas(3)
	g := newTestGet(replicas, GetOptionNone, 3, 3)
	g.Issue(time.Now())

	g.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobNotFound})
	g.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.BlobNotFound})
	g.HandleResponse(transport.Response{Replica: replicas[2], Code: transport.BlobNotFound})

	require.True(t, g.State().Terminal())
	code, err := g.Result()
	require.Error(t, err)
	require.Equal(t, BlobDoesNotExist, code)
}

// As for deletes, an all-not-found read with a quorum-sized success
// target must run to completion and report the blob missing.
func TestGetUnanimousNotFoundWithQuorumTarget(t *testing.T) {
	replicas := deleteReplicas(3)
	g := newTestGet(replicas, GetOptionNone, 3, 2)
	g.Issue(time.Now())

	g.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobNotFound})
	g.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.BlobNotFound})
	require.False(t, g.State().Terminal())

	g.HandleResponse(transport.Response{Replica: replicas[2], Code: transport.BlobNotFound})
	require.True(t, g.State().Terminal())
	code, err := g.Result()
	require.Error(t, err)
	require.Equal(t, BlobDoesNotExist, code)
}

// A deferred all-not-found read ending on a below-target success must
// still reach a terminal state.
func TestGetNotFoundStragglerSuccessResolves(t *testing.T) {
	replicas := deleteReplicas(3)
	g := newTestGet(replicas, GetOptionNone, 3, 2)
	g.Issue(time.Now())

	g.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.BlobNotFound})
	g.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.BlobNotFound})
	body := io.NopCloser(strings.NewReader("x"))
	g.HandleResponse(transport.Response{Replica: replicas[2], Code: transport.NoError, Body: body})
	require.True(t, g.State().Terminal())
	code, err := g.Result()
	require.Error(t, err)
	require.Equal(t, AmbryUnavailable, code)
}

func TestGetResponseAfterTerminalClosesBody(t *testing.T) {
	replicas := deleteReplicas(3)
	g := newTestGet(replicas, GetOptionNone, 3, 1)
	g.Issue(time.Now())
	g.HandleResponse(transport.Response{Replica: replicas[0], Code: transport.NoError, Body: io.NopCloser(strings.NewReader("x"))})
	require.True(t, g.State().Terminal())

	closed := false
	late := &closeTrackingReader{Reader: strings.NewReader("late"), onClose: func() { closed = true }}
	g.HandleResponse(transport.Response{Replica: replicas[1], Code: transport.NoError, Body: late})
	require.True(t, closed)
}
