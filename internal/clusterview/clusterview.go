package clusterview

import (
	"errors"
	"fmt"
	"sync"
)

// ReplicaId binds a partition to a specific datanode.
type ReplicaId struct {
	Partition  PartitionId
	DataNode   string // host:port
	Datacenter string
}

// String renders a ReplicaId for logs.
func (r ReplicaId) String() string {
	return fmt.Sprintf("%s@%s(%s)", r.Partition, r.DataNode, r.Datacenter)
}

// PartitionId is an opaque identifier with a stable string form and an
// enumerable, non-empty, stable-for-the-life-of-the-cluster-view list of
// replicas.
type PartitionId struct {
	id uint64
}

// NewPartitionId constructs a PartitionId from a raw numeric id.
func NewPartitionId(id uint64) PartitionId { return PartitionId{id: id} }

// String is the stable string form of the partition id.
func (p PartitionId) String() string { return fmt.Sprintf("%d", p.id) }

// Bytes renders the partition id as its wire form (8 bytes, big-endian).
func (p PartitionId) Bytes() []byte {
	b := make([]byte, 8)
	v := p.id
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// ErrUnknownPartition is returned when a partition id is well-formed but
// not present in the cluster view.
var ErrUnknownPartition = errors.New("clusterview: unknown partition")

// ClusterView enumerates partitions, replicas, datanodes and datacenters,
// and decodes/encodes the partition-id portion of a BlobId. It is a
// read-mostly external collaborator: safe for concurrent reads, updated
// out-of-band.
type ClusterView interface {
	// DecodePartition parses the partition-id bytes embedded in a BlobId.
	DecodePartition(raw []byte) (PartitionId, error)
	// ReplicaIds returns the ordered, non-empty list of replicas for p.
	// The returned slice must not be mutated by callers.
	ReplicaIds(p PartitionId) ([]ReplicaId, error)
	// WritablePartitions returns the partitions eligible to receive new
	// blobs; a successful upload's partition is always one of these.
	WritablePartitions() []PartitionId
	// PeersOf returns the other datanodes that replicate the same
	// partitions as host:port, for the GET /peers surface.
	PeersOf(host string, port int) []string
}

// Static is a simple in-memory ClusterView, sufficient for a single
// cluster-map snapshot; a production deployment would instead decode a
// cluster map document.
type Static struct {
	mu          sync.RWMutex
	replicas    map[uint64][]ReplicaId
	writable    []PartitionId
	nodePeers   map[string][]string
}

// NewStatic builds a Static ClusterView from a partition -> replicas map.
func NewStatic(replicas map[uint64][]ReplicaId, writable []PartitionId) *Static {
	peers := map[string][]string{}
	for _, rs := range replicas {
		nodes := make([]string, 0, len(rs))
		for _, r := range rs {
			nodes = append(nodes, r.DataNode)
		}
		for _, r := range rs {
			for _, n := range nodes {
				if n != r.DataNode {
					peers[r.DataNode] = append(peers[r.DataNode], n)
				}
			}
		}
	}
	return &Static{replicas: replicas, writable: writable, nodePeers: peers}
}

// DecodePartition decodes the fixed 8-byte big-endian partition id.
func (s *Static) DecodePartition(raw []byte) (PartitionId, error) {
	if len(raw) < 8 {
		return PartitionId{}, fmt.Errorf("clusterview: short partition id")
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(raw[i])
	}
	p := PartitionId{id: v}
	s.mu.RLock()
	_, ok := s.replicas[v]
	s.mu.RUnlock()
	if !ok {
		return PartitionId{}, ErrUnknownPartition
	}
	return p, nil
}

// ReplicaIds returns the replica set for p, in cluster-map order.
func (s *Static) ReplicaIds(p PartitionId) ([]ReplicaId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.replicas[p.id]
	if !ok || len(rs) == 0 {
		return nil, ErrUnknownPartition
	}
	out := make([]ReplicaId, len(rs))
	copy(out, rs)
	return out, nil
}

// WritablePartitions returns the set of partitions new blobs may land on.
func (s *Static) WritablePartitions() []PartitionId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PartitionId, len(s.writable))
	copy(out, s.writable)
	return out
}

// PeersOf returns the datanodes that share a partition with host:port.
func (s *Static) PeersOf(host string, port int) []string {
	key := fmt.Sprintf("%s:%d", host, port)
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := s.nodePeers[key]
	out := make([]string, len(peers))
	copy(out, peers)
	return out
}
