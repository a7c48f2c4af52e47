package pipeline

import (
	"io"
	"net/http"
	"sync"
	"time"
)

// Argument keys the pipeline's stages read and write on
// RequestContext.Args.
const (
	ArgTargetAccount   = "targetAccount"
	ArgTargetContainer = "targetContainer"
)

// Well-known header names the pipeline's stages consult directly.
const (
	HeaderTargetAccount   = "x-ambry-target-account"
	HeaderTargetContainer = "x-ambry-target-container"
	HeaderServiceID       = "x-ambry-service-id"
	HeaderPrivate         = "x-ambry-private"
	HeaderGetOption       = "x-ambry-get-option"
	HeaderTTL             = "x-ambry-ttl"
	HeaderContentType     = "content-type"
)

// ResponseChannel is the external collaborator a Pipeline invocation
// completes on, exactly once.
type ResponseChannel interface {
	Complete(status int, headers http.Header, body io.ReadCloser, err error)
}

// RequestContext is the per-request scratch space threaded through a
// pipeline invocation.
type RequestContext struct {
	Method      string
	URI         string
	SubResource string
	Headers     http.Header
	Args        map[string]interface{}

	RequestBody   io.ReadCloser
	RequestSize   int64
	ResponseBody  io.ReadCloser
	ResponseCode  int
	ResponseHeads http.Header

	StartedAt time.Time

	mu        sync.Mutex
	released  bool
	submitted bool
}

// NewRequestContext builds an empty RequestContext ready for a single
// pipeline invocation.
func NewRequestContext(method, uri, subResource string, headers http.Header, body io.ReadCloser, size int64, start time.Time) *RequestContext {
	if headers == nil {
		headers = http.Header{}
	}
	return &RequestContext{
		Method:        method,
		URI:           uri,
		SubResource:   subResource,
		Headers:       headers,
		Args:          map[string]interface{}{},
		RequestBody:   body,
		RequestSize:   size,
		ResponseHeads: http.Header{},
		StartedAt:     start,
	}
}

// markSubmitted records that a terminal outcome is being submitted for
// this request. Only the first caller gets true; later callers must not
// submit again, so a request never sees two terminal responses even if a
// stage both errors and panics.
func (rc *RequestContext) markSubmitted() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.submitted {
		return false
	}
	rc.submitted = true
	return true
}

// release closes the request body stream exactly once, swallowing any
// close error so the primary outcome already recorded is what surfaces.
// ResponseBody is deliberately not closed here: on a successful terminal
// it is still about to be streamed into the ResponseChannel, which owns
// closing it once streaming finishes (or Submitter closes it directly on
// the error path). Closing it here too would truncate every real
// streamed response.
func (rc *RequestContext) release() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.released {
		return
	}
	rc.released = true
	if rc.RequestBody != nil {
		_ = rc.RequestBody.Close()
	}
}
