// Package httpapi adapts net/http/gorilla-mux requests into Pipeline
// invocations: it owns route registration, the http.ResponseWriter-backed
// ResponseChannel, Range/BlobInfo/UserMetadata/Replicas sub-resource
// rendering, and the CORS/gzip/rate-limit middleware chain.
package httpapi

import (
	"io"
	"net/http"
	"sync"

	"github.com/xiahome/ambry/internal/pipeline"
)

// writerChannel adapts an http.ResponseWriter into a
// pipeline.ResponseChannel, completing exactly once.
type writerChannel struct {
	w    http.ResponseWriter
	once sync.Once
	done chan struct{}
}

func newWriterChannel(w http.ResponseWriter) *writerChannel {
	return &writerChannel{w: w, done: make(chan struct{})}
}

// Complete writes status/headers/body to the underlying ResponseWriter.
// It is called exactly once per request; a second call is a no-op rather
// than a panic, since a misbehaving collaborator must never crash the
// server.
func (c *writerChannel) Complete(status int, headers http.Header, body io.ReadCloser, err error) {
	c.once.Do(func() {
		defer close(c.done)
		for k, vs := range headers {
			for _, v := range vs {
				c.w.Header().Add(k, v)
			}
		}
		if err == nil && body == nil && c.w.Header().Get("Content-Length") == "" {
			c.w.Header().Set("Content-Length", "0")
		}
		if err != nil {
			c.w.Header().Set("x-ambry-error-code", pipeline.CodeOf(err).String())
			c.w.WriteHeader(status)
			if body != nil {
				_ = body.Close()
			}
			return
		}
		c.w.WriteHeader(status)
		if body == nil {
			return
		}
		defer body.Close()
		_, _ = io.Copy(c.w, body)
	})
}

// Wait blocks until Complete has run, so the handler goroutine does not
// return (and let net/http recycle the ResponseWriter) before the
// pipeline has finished writing.
func (c *writerChannel) Wait() { <-c.done }
