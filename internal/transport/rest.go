package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// RESTTransport is a ReplicaTransport backed by plain HTTP calls to each
// datanode: one goroutine per outstanding request posts its result onto
// a shared channel, and Poll drains whatever has arrived without
// blocking.
type RESTTransport struct {
	client *http.Client

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	results chan Response
}

// NewRESTTransport builds a RESTTransport. bufSize bounds how many
// completed responses may queue before Send-side goroutines block on
// delivery; it should be comfortably larger than parallelism * in-flight
// operation count.
func NewRESTTransport(client *http.Client, bufSize int) *RESTTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &RESTTransport{
		client:  client,
		results: make(chan Response, bufSize),
	}
}

func (t *RESTTransport) kindPath(kind Kind) string {
	switch kind {
	case KindGet:
		return "get"
	case KindPut:
		return "put"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Send dispatches req to its replica's datanode in a background goroutine
// and never blocks the caller.
func (t *RESTTransport) Send(req Request) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport: closed")
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		resp := t.do(req)
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			if resp.Body != nil {
				resp.Body.Close()
			}
			return
		}
		t.results <- resp
	}()
	return nil
}

func (t *RESTTransport) do(req Request) Response {
	ctx := context.Background()
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	url := fmt.Sprintf("http://%s/%s/%s", req.Replica.DataNode, t.kindPath(req.Kind), req.BlobID)

	var body io.Reader
	method := http.MethodGet
	switch req.Kind {
	case KindPut:
		method = http.MethodPut
		body = req.Body
	case KindDelete:
		method = http.MethodDelete
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Response{RequestID: req.ID, Replica: req.Replica, Code: UnknownError}
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Response{RequestID: req.ID, Replica: req.Replica, Code: ReplicaUnavailable}
		}
		return Response{RequestID: req.ID, Replica: req.Replica, Code: IOError}
	}

	return translateResponse(req, resp)
}

func translateResponse(req Request, resp *http.Response) Response {
	out := Response{RequestID: req.ID, Replica: req.Replica}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		out.Code = NoError
		if req.Kind == KindPut {
			out.AssignedBlobID = resp.Header.Get("X-Ambry-Assigned-Blob-Id")
			resp.Body.Close()
		} else if req.Kind == KindGet {
			out.Body = resp.Body
			out.Size = resp.ContentLength
			out.Headers = resp.Header.Clone()
		} else {
			resp.Body.Close()
		}
		return out
	case http.StatusNotFound:
		out.Code = BlobNotFound
	case http.StatusGone:
		out.Code = BlobDeleted
	case http.StatusForbidden:
		out.Code = BlobAuthorizationFailure
	case http.StatusRequestedRangeNotSatisfiable:
		out.Code = BlobExpired
	case http.StatusServiceUnavailable:
		out.Code = DiskUnavailable
	case http.StatusConflict:
		out.Code = DataCorrupt
	case http.StatusInternalServerError:
		out.Code = IOError
	default:
		out.Code = UnknownError
	}
	resp.Body.Close()
	return out
}

// Poll drains whatever responses are currently queued, without blocking.
func (t *RESTTransport) Poll() []Response {
	var out []Response
	for {
		select {
		case r := <-t.results:
			out = append(out, r)
		default:
			return out
		}
	}
}

// Close stops accepting new sends; in-flight goroutines finish but
// their results are discarded rather than delivered.
func (t *RESTTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return nil
}

var _ ReplicaTransport = (*RESTTransport)(nil)
