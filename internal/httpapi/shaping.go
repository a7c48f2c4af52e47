package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xiahome/ambry/internal/pipeline"
)

// shapingChannel wraps a writerChannel to apply GET/HEAD response
// shaping: Range -> 206 + Content-Range, If-Modified-Since -> 304, and
// the BlobInfo/UserMetadata sub-resource response shapes. It still
// completes exactly once, delegating the actual write to writerChannel.
type shapingChannel struct {
	inner *writerChannel
	r     *http.Request
	sub   subResource
	once  sync.Once
	done  chan struct{}
}

func newShapingChannel(w http.ResponseWriter, r *http.Request, sub subResource) *shapingChannel {
	return &shapingChannel{inner: newWriterChannel(w), r: r, sub: sub, done: make(chan struct{})}
}

func (c *shapingChannel) Complete(status int, headers http.Header, body io.ReadCloser, err error) {
	c.once.Do(func() {
		defer close(c.done)
		if err != nil {
			c.inner.Complete(status, headers, body, err)
			return
		}
		switch c.sub {
		case subResourceBlobInfo:
			c.completeBlobInfo(status, headers, body)
		case subResourceUserMetadata:
			c.completeUserMetadata(status, headers, body)
		default:
			c.completeBlob(status, headers, body)
		}
	})
}

func (c *shapingChannel) Wait() { <-c.done }

// completeBlobInfo renders the blob's property and x-ambry-um-<key>
// headers with an empty body.
func (c *shapingChannel) completeBlobInfo(status int, headers http.Header, body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
	headers.Del("Content-Length")
	headers.Set("Content-Length", "0")
	c.inner.Complete(status, headers, nil, nil)
}

// completeUserMetadata renders just the x-ambry-um-<key> headers, or, for
// a legacy blob that carries no header-form metadata at all, the raw
// bytes with Content-Type: application/octet-stream.
func (c *shapingChannel) completeUserMetadata(status int, headers http.Header, body io.ReadCloser) {
	umHeaders := http.Header{}
	for k, vs := range headers {
		if strings.HasPrefix(strings.ToLower(k), "x-ambry-um-") {
			umHeaders[k] = vs
		}
	}
	if len(umHeaders) > 0 {
		if body != nil {
			_ = body.Close()
		}
		umHeaders.Set("Content-Length", "0")
		c.inner.Complete(status, umHeaders, nil, nil)
		return
	}
	legacy := http.Header{"Content-Type": []string{"application/octet-stream"}}
	if cl := headers.Get("Content-Length"); cl != "" {
		legacy.Set("Content-Length", cl)
	}
	c.inner.Complete(status, legacy, body, nil)
}

// completeBlob applies Range and If-Modified-Since shaping to a plain
// GET/HEAD response.
func (c *shapingChannel) completeBlob(status int, headers http.Header, body io.ReadCloser) {
	if status != http.StatusOK {
		c.inner.Complete(status, headers, body, nil)
		return
	}

	if ims := c.r.Header.Get("If-Modified-Since"); ims != "" {
		if notModified(ims, headers.Get("x-ambry-creation-time")) {
			if body != nil {
				_ = body.Close()
			}
			headers.Del("Content-Length")
			c.inner.Complete(http.StatusNotModified, headers, nil, nil)
			return
		}
	}

	rangeHeader := c.r.Header.Get("Range")
	if rangeHeader == "" {
		c.inner.Complete(status, headers, body, nil)
		return
	}

	size, err := strconv.ParseInt(headers.Get("Content-Length"), 10, 64)
	if err != nil {
		c.inner.Complete(status, headers, body, nil)
		return
	}
	br, rerr := parseByteRange(rangeHeader, size)
	if rerr != nil {
		if body != nil {
			_ = body.Close()
		}
		headers.Del("Content-Length")
		c.inner.Complete(pipeline.RangeNotSatisfiable.HTTPStatus(), headers, nil, nil)
		return
	}

	if body != nil && br.start > 0 {
		_, _ = io.CopyN(io.Discard, body, br.start)
	}
	var limited io.ReadCloser
	if body != nil {
		limited = &limitReadCloser{Reader: io.LimitReader(body, br.length()), closer: body}
	}
	headers.Set("Content-Range", br.contentRange())
	headers.Set("Content-Length", strconv.FormatInt(br.length(), 10))
	c.inner.Complete(http.StatusPartialContent, headers, limited, nil)
}

// byteRange is a Range request resolved against a known blob size.
type byteRange struct {
	start, end, size int64
}

func (b byteRange) length() int64 { return b.end - b.start + 1 }

func (b byteRange) contentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", b.start, b.end, b.size)
}

// errRangeNotSatisfiable marks a well-formed range that lies entirely
// outside the blob.
var errRangeNotSatisfiable = errors.New("httpapi: range not satisfiable")

// parseByteRange resolves a `bytes=a-b`, `bytes=a-` or `bytes=-n` header
// value against size. Anything else, including multi-range values, is an
// error.
func parseByteRange(value string, size int64) (byteRange, error) {
	spec, ok := strings.CutPrefix(value, "bytes=")
	if !ok {
		return byteRange{}, fmt.Errorf("httpapi: range %q: missing bytes= prefix", value)
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return byteRange{}, fmt.Errorf("httpapi: range %q: missing separator", value)
	}

	br := byteRange{size: size}
	switch {
	case first == "" && last == "":
		return byteRange{}, fmt.Errorf("httpapi: range %q: empty range", value)
	case first == "":
		// Suffix form: the last n bytes of the blob.
		n, err := parseBytePos(last)
		if err != nil {
			return byteRange{}, fmt.Errorf("httpapi: range %q: %w", value, err)
		}
		if n == 0 {
			return byteRange{}, errRangeNotSatisfiable
		}
		br.start = size - n
		if br.start < 0 {
			br.start = 0
		}
		br.end = size - 1
	case last == "":
		// Open-ended form: from an offset to the end of the blob.
		start, err := parseBytePos(first)
		if err != nil {
			return byteRange{}, fmt.Errorf("httpapi: range %q: %w", value, err)
		}
		if start >= size {
			return byteRange{}, errRangeNotSatisfiable
		}
		br.start, br.end = start, size-1
	default:
		start, err := parseBytePos(first)
		if err != nil {
			return byteRange{}, fmt.Errorf("httpapi: range %q: %w", value, err)
		}
		end, err := parseBytePos(last)
		if err != nil {
			return byteRange{}, fmt.Errorf("httpapi: range %q: %w", value, err)
		}
		if start > end {
			return byteRange{}, fmt.Errorf("httpapi: range %q: start past end", value)
		}
		if start >= size {
			return byteRange{}, errRangeNotSatisfiable
		}
		if end >= size {
			end = size - 1
		}
		br.start, br.end = start, end
	}
	return br, nil
}

// parseBytePos accepts only plain decimal digits, rejecting the signs
// and whitespace strconv would otherwise tolerate.
func parseBytePos(s string) (int64, error) {
	if s == "" || strings.Trim(s, "0123456789") != "" {
		return 0, fmt.Errorf("invalid byte position %q", s)
	}
	return strconv.ParseInt(s, 10, 64)
}

// notModified reports whether creationTimeMillis (x-ambry-creation-time,
// epoch millis) is at or before the If-Modified-Since timestamp.
func notModified(ifModifiedSince, creationTimeMillis string) bool {
	since, err := http.ParseTime(ifModifiedSince)
	if err != nil {
		return false
	}
	millis, err := strconv.ParseInt(creationTimeMillis, 10, 64)
	if err != nil {
		return false
	}
	created := time.UnixMilli(millis)
	return !created.After(since)
}

// limitReadCloser adapts an io.LimitReader over an underlying
// io.ReadCloser so Range responses still close the real stream.
type limitReadCloser struct {
	io.Reader
	closer io.ReadCloser
}

func (l *limitReadCloser) Close() error { return l.closer.Close() }
