// Package clusterview decodes and encodes blob identifiers and exposes
// the ClusterView collaborator: the enumeration of partitions, replicas,
// datanodes and datacenters that the router fans requests out across.
//
// BlobId encoding is a fixed binary layout; any parse failure surfaces
// as ErrMalformedBlobId rather than a raw codec error.
package clusterview

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedBlobId is returned when a blob id string cannot be decoded.
// Callers at the pipeline/router boundary translate this into
// InvalidBlobId / BadRequest.
var ErrMalformedBlobId = errors.New("clusterview: malformed blob id")

// Version identifies the BlobId binary layout.
type Version uint8

const (
	// VersionUnknownAccount is the legacy layout with no embedded
	// account/container; decode yields the unknown sentinels.
	VersionUnknownAccount Version = 1
	// VersionWithAccount carries account and container ids.
	VersionWithAccount Version = 2
)

// UnknownID is the sentinel account/container id meaning "not specified",
// used both for v1 blob ids and for the directory's unknown records.
const UnknownID uint16 = 0xFFFF

// BlobId is the canonical identifier of a stored blob.
type BlobId struct {
	Version     Version
	DatacenterID uint8
	AccountID   uint16
	ContainerID uint16
	Partition   PartitionId
}

// layout (big-endian, all versions share the common prefix):
//
//	byte 0:      version
//	byte 1:      datacenter id
//	[v2 only] bytes 2-3: account id, bytes 4-5: container id
//	remaining:   partition id bytes (opaque, length determined by the
//	             partition id codec)

// Encode renders id as its binary wire form.
func (id BlobId) Encode() []byte {
	partBytes := id.Partition.Bytes()
	var buf []byte
	switch id.Version {
	case VersionWithAccount:
		buf = make([]byte, 6+len(partBytes))
		buf[0] = byte(id.Version)
		buf[1] = id.DatacenterID
		binary.BigEndian.PutUint16(buf[2:4], id.AccountID)
		binary.BigEndian.PutUint16(buf[4:6], id.ContainerID)
		copy(buf[6:], partBytes)
	default: // VersionUnknownAccount and any unrecognized version fall back to v1 shape
		buf = make([]byte, 2+len(partBytes))
		buf[0] = byte(VersionUnknownAccount)
		buf[1] = id.DatacenterID
		copy(buf[2:], partBytes)
	}
	return buf
}

// String renders id as a URL-safe base64 string.
func (id BlobId) String() string {
	return base64.RawURLEncoding.EncodeToString(id.Encode())
}

// DecodeBlobId parses a URL-safe blob id string, looking up the embedded
// partition in cv. Any malformed input or unknown partition yields
// ErrMalformedBlobId (callers map this to BadRequest / InvalidBlobId).
func DecodeBlobId(s string, cv ClusterView) (BlobId, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return BlobId{}, fmt.Errorf("%w: %v", ErrMalformedBlobId, err)
	}
	if len(raw) < 2 {
		return BlobId{}, fmt.Errorf("%w: too short", ErrMalformedBlobId)
	}
	version := Version(raw[0])
	datacenter := raw[1]

	var (
		accountID, containerID uint16
		partStart              int
	)
	switch version {
	case VersionWithAccount:
		if len(raw) < 6 {
			return BlobId{}, fmt.Errorf("%w: truncated v2 header", ErrMalformedBlobId)
		}
		accountID = binary.BigEndian.Uint16(raw[2:4])
		containerID = binary.BigEndian.Uint16(raw[4:6])
		partStart = 6
	case VersionUnknownAccount:
		accountID = UnknownID
		containerID = UnknownID
		partStart = 2
	default:
		return BlobId{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedBlobId, version)
	}

	part, err := cv.DecodePartition(raw[partStart:])
	if err != nil {
		return BlobId{}, fmt.Errorf("%w: %v", ErrMalformedBlobId, err)
	}

	return BlobId{
		Version:      version,
		DatacenterID: datacenter,
		AccountID:    accountID,
		ContainerID:  containerID,
		Partition:    part,
	}, nil
}
