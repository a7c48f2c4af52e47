// Package transport implements ReplicaTransport: sending a framed
// request to a specific datanode and delivering its framed response
// through a non-blocking, poll-based API.
package transport

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/xiahome/ambry/internal/clusterview"
)

// Kind identifies the replicated operation a request belongs to.
type Kind int

const (
	KindGet Kind = iota
	KindPut
	KindDelete
)

// ReplicaCode is the per-replica outcome reported by a datanode.
type ReplicaCode int

const (
	NoError ReplicaCode = iota
	BlobExpired
	BlobDeleted
	BlobNotFound
	DiskUnavailable
	ReplicaUnavailable
	PartitionUnknown
	IOError
	DataCorrupt
	BlobAuthorizationFailure
	UnknownError
)

// String renders a ReplicaCode for logs and test failure messages.
func (c ReplicaCode) String() string {
	switch c {
	case NoError:
		return "No_Error"
	case BlobExpired:
		return "Blob_Expired"
	case BlobDeleted:
		return "Blob_Deleted"
	case BlobNotFound:
		return "Blob_Not_Found"
	case DiskUnavailable:
		return "Disk_Unavailable"
	case ReplicaUnavailable:
		return "Replica_Unavailable"
	case PartitionUnknown:
		return "Partition_Unknown"
	case IOError:
		return "IO_Error"
	case DataCorrupt:
		return "Data_Corrupt"
	case BlobAuthorizationFailure:
		return "Blob_Authorization_Failure"
	default:
		return "Unknown_Error"
	}
}

// Request is a single framed request to one replica.
type Request struct {
	ID        uuid.UUID
	Kind      Kind
	Replica   clusterview.ReplicaId
	BlobID    string
	ServiceID string
	// Body is the blob payload for a PUT request, nil otherwise.
	Body io.Reader
	// Size is the blob size for a PUT request.
	Size int64
	// Headers carries the blob's properties (content-type, ttl, private,
	// owner-id, x-ambry-um-<key> user metadata) for a PUT request to frame
	// alongside the bytes; nil for GET/DELETE.
	Headers http.Header
	// Deadline is the per-request deadline; its expiry does not fail the
	// owning operation if other replicas can still satisfy the success
	// target.
	Deadline time.Time
}

// Response is the framed reply to one Request.
type Response struct {
	RequestID uuid.UUID
	Replica   clusterview.ReplicaId
	Code      ReplicaCode
	// Body carries the blob bytes for a successful GET; callers must
	// close it.
	Body io.ReadCloser
	// Size is the blob's total byte size, set on a successful GET so
	// callers can serve Range requests without reading the body first.
	Size int64
	// Headers carries the blob's properties and user metadata on a
	// successful GET, framed back by the replica the same way they were
	// sent on PUT.
	Headers http.Header
	// AssignedBlobID is set by a successful PUT response.
	AssignedBlobID string
}

// ReplicaTransport sends framed requests to datanodes and delivers their
// framed responses through a non-blocking poll loop.
type ReplicaTransport interface {
	// Send enqueues req for delivery; it returns immediately without
	// waiting for a reply. An error here means the request could not be
	// enqueued at all (e.g. transport closed); it is not a replica-level
	// failure and the caller should treat it like any other replica
	// error, not propagate it as a protocol violation.
	Send(req Request) error
	// Poll returns any responses that have arrived since the last call,
	// without blocking.
	Poll() []Response
	// Close shuts the transport down; in-flight requests are abandoned.
	Close() error
}
