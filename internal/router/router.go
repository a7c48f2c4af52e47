package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xiahome/ambry/internal/clockutil"
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/logger"
	"github.com/xiahome/ambry/internal/transport"
)

// runnable is the subset of the three operation types RouterCore's driver
// loop needs: issue requests, accept responses, check deadlines, and
// report terminal completion. Each concrete operation also exposes its
// own typed result accessor (AssignedBlobID, Body, ...).
type runnable interface {
	ID() uuid.UUID
	State() State
	Issue(now time.Time) []transport.Request
	HandleResponse(resp transport.Response)
	CheckDeadline(now time.Time)
	Abort(code Code, err error)
	Done() <-chan struct{}
}

// Config bundles the tunables RouterCore needs per operation kind.
type Config struct {
	DeleteParallelism, DeleteSuccessTarget int
	GetParallelism, GetSuccessTarget       int
	PutParallelism, PutSuccessTarget       int
	OperationTimeout, RequestTimeout       time.Duration
	PollInterval                           time.Duration
}

// Core owns all in-flight ReplicaOperations; a single driver loop polls
// ReplicaTransport and routes responses to the right operation. The
// in-flight registry entries are inserted once at dispatch and removed
// once at terminal transition.
type Core struct {
	cv        clusterview.ClusterView
	transport transport.ReplicaTransport
	clock     clockutil.Clock
	cfg       Config

	mu       sync.Mutex
	ops      map[uuid.UUID]runnable
	reqToOp  map[uuid.UUID]uuid.UUID
	closed   bool
	stopCh   chan struct{}
	loopDone chan struct{}
}

// NewCore builds a RouterCore and starts its driver loop.
func NewCore(cv clusterview.ClusterView, rt transport.ReplicaTransport, clock clockutil.Clock, cfg Config) *Core {
	c := &Core{
		cv:        cv,
		transport: rt,
		clock:     clock,
		cfg:       cfg,
		ops:       map[uuid.UUID]runnable{},
		reqToOp:   map[uuid.UUID]uuid.UUID{},
		stopCh:    make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	go c.driverLoop()
	return c
}

func (c *Core) resolvePartition(blobIDString string) (clusterview.BlobId, clusterview.PartitionId, []clusterview.ReplicaId, error) {
	id, err := clusterview.DecodeBlobId(blobIDString, c.cv)
	if err != nil {
		return clusterview.BlobId{}, clusterview.PartitionId{}, nil, NewError(InvalidBlobId, err)
	}
	replicas, err := c.cv.ReplicaIds(id.Partition)
	if err != nil {
		return clusterview.BlobId{}, clusterview.PartitionId{}, nil, NewError(InvalidBlobId, err)
	}
	return id, id.Partition, replicas, nil
}

// Delete enqueues a new DeleteOperation for blobIDString and returns a
// channel that receives its terminal error (nil on success).
func (c *Core) Delete(blobIDString, serviceID string) <-chan error {
	out := make(chan error, 1)
	_, partition, replicas, err := c.resolvePartition(blobIDString)
	if err != nil {
		out <- err
		close(out)
		return out
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		out <- NewError(RouterClosed, nil)
		close(out)
		return out
	}
	op := NewDeleteOperation(blobIDString, serviceID, partition, replicas,
		c.cfg.DeleteParallelism, c.cfg.DeleteSuccessTarget, c.cfg.OperationTimeout, c.cfg.RequestTimeout, c.clock)
	c.ops[op.ID()] = op
	c.mu.Unlock()

	go func() {
		<-op.Done()
		_, err := op.Result()
		out <- err
		close(out)
		c.retire(op.ID())
	}()
	return out
}

// Get enqueues a new GetOperation and returns a channel delivering its
// GetOperation once terminal (callers read Body()/Result() off it).
func (c *Core) Get(blobIDString, serviceID string, option GetOption) <-chan *GetOperation {
	out := make(chan *GetOperation, 1)
	_, partition, replicas, err := c.resolvePartition(blobIDString)
	if err != nil {
		failed := NewGetOperation(blobIDString, serviceID, option, partition, nil, 1, 1, c.cfg.OperationTimeout, c.cfg.RequestTimeout, c.clock)
		failed.finish(StateFailed, CodeOf(err), err)
		out <- failed
		close(out)
		return out
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		failed := NewGetOperation(blobIDString, serviceID, option, partition, nil, 1, 1, c.cfg.OperationTimeout, c.cfg.RequestTimeout, c.clock)
		failed.finish(StateAborted, RouterClosed, NewError(RouterClosed, nil))
		out <- failed
		close(out)
		return out
	}
	op := NewGetOperation(blobIDString, serviceID, option, partition, replicas,
		c.cfg.GetParallelism, c.cfg.GetSuccessTarget, c.cfg.OperationTimeout, c.cfg.RequestTimeout, c.clock)
	c.ops[op.ID()] = op
	c.mu.Unlock()

	go func() {
		<-op.Done()
		out <- op
		close(out)
		c.retire(op.ID())
	}()
	return out
}

// Put enqueues a new PutOperation against one of the cluster's writable
// partitions and returns a channel delivering it once terminal. headers
// carries the blob's properties/user-metadata to frame alongside the
// bytes sent to each replica.
func (c *Core) Put(serviceID string, body io.Reader, size int64, headers http.Header) <-chan *PutOperation {
	out := make(chan *PutOperation, 1)
	writable := c.cv.WritablePartitions()
	if len(writable) == 0 {
		failed := NewPutOperation(serviceID, nil, 0, nil, clusterview.PartitionId{}, nil, 1, 1, c.cfg.OperationTimeout, c.cfg.RequestTimeout, c.clock)
		failed.finish(StateFailed, InsufficientCapacity, NewError(InsufficientCapacity, nil))
		out <- failed
		close(out)
		return out
	}
	partition := writable[0]
	replicas, err := c.cv.ReplicaIds(partition)
	if err != nil {
		failed := NewPutOperation(serviceID, nil, 0, nil, partition, nil, 1, 1, c.cfg.OperationTimeout, c.cfg.RequestTimeout, c.clock)
		failed.finish(StateFailed, UnexpectedInternalError, NewError(UnexpectedInternalError, err))
		out <- failed
		close(out)
		return out
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		failed := NewPutOperation(serviceID, nil, 0, nil, partition, nil, 1, 1, c.cfg.OperationTimeout, c.cfg.RequestTimeout, c.clock)
		failed.finish(StateAborted, RouterClosed, NewError(RouterClosed, nil))
		out <- failed
		close(out)
		return out
	}
	op := NewPutOperation(serviceID, body, size, headers, partition, replicas,
		c.cfg.PutParallelism, c.cfg.PutSuccessTarget, c.cfg.OperationTimeout, c.cfg.RequestTimeout, c.clock)
	c.ops[op.ID()] = op
	c.mu.Unlock()

	go func() {
		<-op.Done()
		out <- op
		close(out)
		c.retire(op.ID())
	}()
	return out
}

func (c *Core) retire(id uuid.UUID) {
	c.mu.Lock()
	delete(c.ops, id)
	c.mu.Unlock()
}

// driverLoop polls ReplicaTransport once per tick, takes the returned
// responses as an unordered batch, and dispatches each to its owning
// operation; it also issues newly-pending requests and checks deadlines
// for every running operation.
func (c *Core) driverLoop() {
	defer close(c.loopDone)
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick is guarded by a recover so a transport or operation panic costs
// at most one tick, never the driver loop.
func (c *Core) tick() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(context.Background(), "router: driver tick panicked", fmt.Errorf("%v", r))
		}
	}()
	now := c.clock.Now()

	c.mu.Lock()
	snapshot := make([]runnable, 0, len(c.ops))
	for _, op := range c.ops {
		snapshot = append(snapshot, op)
	}
	c.mu.Unlock()

	for _, op := range snapshot {
		if op.State().Terminal() {
			continue
		}
		op.CheckDeadline(now)
		if op.State().Terminal() {
			continue
		}
		for _, req := range op.Issue(now) {
			c.mu.Lock()
			c.reqToOp[req.ID] = op.ID()
			c.mu.Unlock()
			if err := c.transport.Send(req); err != nil {
				logger.Error(context.Background(), "router: send failed", err)
			}
		}
	}

	for _, resp := range c.transport.Poll() {
		c.mu.Lock()
		opID, ok := c.reqToOp[resp.RequestID]
		if ok {
			delete(c.reqToOp, resp.RequestID)
		}
		op := c.ops[opID]
		c.mu.Unlock()
		if !ok || op == nil {
			if resp.Body != nil {
				resp.Body.Close()
			}
			continue
		}
		op.HandleResponse(resp)
	}
}

// Close transitions all running operations to Aborted with RouterClosed
// and rejects new submissions with the same code.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ops := make([]runnable, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	c.mu.Unlock()

	for _, op := range ops {
		op.Abort(RouterClosed, NewError(RouterClosed, nil))
	}
	close(c.stopCh)
	<-c.loopDone
	return c.transport.Close()
}
