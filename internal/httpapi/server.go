package httpapi

import (
	"compress/gzip"
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/logger"
	"github.com/xiahome/ambry/internal/pipeline"
)

// subResource names a trailing path segment after a BlobId selecting an
// alternate response view.
type subResource string

const (
	subResourceNone         subResource = ""
	subResourceBlobInfo     subResource = "BlobInfo"
	subResourceUserMetadata subResource = "UserMetadata"
	subResourceReplicas     subResource = "Replicas"
)

// Server wires Pipeline together with the net/http transport: route
// registration, the ResponseChannel adapter, Range/sub-resource
// rendering, and the CORS/gzip/rate-limit middleware chain.
type Server struct {
	pipeline    *pipeline.Pipeline
	cv          clusterview.ClusterView
	limiter     *rate.Limiter
	maxBlobSize int64
}

// New builds a Server around an already-started Pipeline. maxRPS bounds
// the inbound request rate with a rate.Limiter token bucket, burst 1.
// maxBlobSize (0 = unbounded) rejects an oversized POST body before it
// reaches the router.
func New(p *pipeline.Pipeline, cv clusterview.ClusterView, maxRPS float64, maxBlobSize int64) *Server {
	var limiter *rate.Limiter
	if maxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxRPS), 1)
	}
	return &Server{pipeline: p, cv: cv, limiter: limiter, maxBlobSize: maxBlobSize}
}

// Router builds the gorilla/mux router for the HTTP surface, wrapped by
// CORS, gzip, and rate-limit middleware (CORS outermost, then gzip, then
// rate-limit, then the route table).
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.SkipClean(true)

	router.Methods(http.MethodPost).Path("/").HandlerFunc(s.handlePost)
	router.Methods(http.MethodGet).Path("/peers").HandlerFunc(s.handlePeers)
	router.Methods(http.MethodGet, http.MethodHead).Path("/{blobid}").HandlerFunc(s.handleGetOrHead)
	router.Methods(http.MethodGet, http.MethodHead).Path("/{blobid}/{subresource}").HandlerFunc(s.handleGetOrHead)
	router.Methods(http.MethodDelete).Path("/{blobid}").HandlerFunc(s.handleDelete)
	router.NotFoundHandler = http.HandlerFunc(s.handleUnsupportedMethod)
	router.MethodNotAllowedHandler = http.HandlerFunc(s.handleUnsupportedMethod)

	var handler http.Handler = router
	handler = s.rateLimitHandler(handler)
	handler = gzipHandler(handler)
	handler = corsHandler(handler)
	return handler
}

func (s *Server) handleUnsupportedMethod(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("x-ambry-error-code", pipeline.UnsupportedHttpMethod.String())
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// corsHandler wraps h with permissive CORS.
func corsHandler(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Range", "Content-Type", "Location", "x-ambry-error-code", "x-ambry-creation-time"},
	})
	return c.Handler(h)
}

// gzipHandler wraps h with response compression for bodies over 1KB.
func gzipHandler(h http.Handler) http.Handler {
	wrapper, err := gzhttp.NewWrapper(gzhttp.MinSize(1000), gzhttp.CompressionLevel(gzip.BestSpeed))
	if err != nil {
		return h
	}
	return wrapper(h)
}

// rateLimitHandler wraps h with a 1-second-deadline token-bucket wait.
func (s *Server) rateLimitHandler(h http.Handler) http.Handler {
	if s.limiter == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.limiter.Wait(ctx); err != nil {
			w.Header().Set("x-ambry-error-code", pipeline.ServiceUnavailable.String())
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func requestContext(ctx context.Context, method string) context.Context {
	return logger.WithFields(ctx, logger.Fields{
		"request_id": uuid.New().String(),
		"method":     method,
	})
}
