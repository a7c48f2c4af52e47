package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/xiahome/ambry/internal/logger"
)

// Submitter is the ResponseSubmitter collaborator: it guarantees a
// RequestContext is released and its ResponseChannel completed exactly
// once, with a synthesized fallback if the channel itself misbehaves.
type Submitter struct{}

// NewSubmitter builds a Submitter.
func NewSubmitter() *Submitter { return &Submitter{} }

// Submit releases rc's resources and completes ch with the given outcome.
// If ch.Complete panics (a closed channel, a shut-down handler), Submit
// retries once without the body, carrying the original error or, when the
// outcome was a success, a synthesized ServiceUnavailable, rather than
// letting the panic escape the pipeline.
func (s *Submitter) Submit(ctx context.Context, rc *RequestContext, ch ResponseChannel, status int, headers http.Header, body io.ReadCloser, err error) {
	if rc != nil {
		rc.release()
	}
	if ch == nil {
		if body != nil {
			_ = body.Close()
		}
		return
	}
	if s.tryComplete(ctx, ch, status, headers, body, err) {
		return
	}
	fallbackErr := err
	fallbackStatus := status
	if fallbackErr == nil {
		fallbackErr = NewError(ServiceUnavailable, nil)
		fallbackStatus = ServiceUnavailable.HTTPStatus()
	}
	s.tryComplete(ctx, ch, fallbackStatus, headers, nil, fallbackErr)
}

func (s *Submitter) tryComplete(ctx context.Context, ch ResponseChannel, status int, headers http.Header, body io.ReadCloser, err error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "pipeline: response channel panicked during submission", fmt.Errorf("%v", r))
			ok = false
		}
	}()
	ch.Complete(status, headers, body, err)
	return true
}
