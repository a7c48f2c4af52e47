package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/pipeline"
)

// requiredPostHeaders must all be present on a POST.
var requiredPostHeaders = []string{
	pipeline.HeaderServiceID,
	pipeline.HeaderContentType,
	pipeline.HeaderTTL,
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r.Context(), r.Method)
	for _, h := range requiredPostHeaders {
		if strings.TrimSpace(r.Header.Get(h)) == "" {
			writeDirectError(w, pipeline.MissingArgs)
			return
		}
	}

	size := r.ContentLength
	if sizeHeader := r.Header.Get("x-ambry-blob-size"); sizeHeader != "" {
		if parsed, err := strconv.ParseInt(sizeHeader, 10, 64); err == nil {
			size = parsed
		}
	}
	if s.maxBlobSize > 0 && size > s.maxBlobSize {
		writeDirectError(w, pipeline.InvalidArgument)
		return
	}

	rc := pipeline.NewRequestContext(r.Method, r.URL.Path, "", r.Header, r.Body, size, time.Now())
	ch := newWriterChannel(w)
	s.pipeline.Handle(ctx, rc, ch)
	ch.Wait()
}

func (s *Server) handleGetOrHead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sub := subResource(vars["subresource"])
	switch sub {
	case subResourceNone, subResourceBlobInfo, subResourceUserMetadata, subResourceReplicas:
	default:
		writeDirectError(w, pipeline.BadRequest)
		return
	}

	// Replicas needs no id resolution, account lookup, or router fan-out:
	// it is answered straight off ClusterView.
	if sub == subResourceReplicas {
		s.writeReplicas(w, vars["blobid"])
		return
	}

	// The pipeline resolves the blob id off the URI; the sub-resource
	// segment is carried separately so id conversion sees the id alone.
	ctx := requestContext(r.Context(), r.Method)
	rc := pipeline.NewRequestContext(r.Method, "/"+vars["blobid"], string(sub), r.Header, nil, 0, time.Now())
	ch := newShapingChannel(w, r, sub)
	s.pipeline.Handle(ctx, rc, ch)
	ch.Wait()
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r.Context(), r.Method)
	rc := pipeline.NewRequestContext(r.Method, r.URL.Path, "", r.Header, nil, 0, time.Now())
	ch := newWriterChannel(w)
	s.pipeline.Handle(ctx, rc, ch)
	ch.Wait()
}

// handlePeers implements `GET /peers?name=H&port=P` directly against
// ClusterView, bypassing Pipeline entirely: it needs no id resolution,
// account lookup, or replica fan-out.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	portStr := r.URL.Query().Get("port")
	if name == "" || portStr == "" {
		writeDirectError(w, pipeline.MissingArgs)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		writeDirectError(w, pipeline.InvalidArgument)
		return
	}
	peers := s.cv.PeersOf(name, port)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string][]string{"peers": peers})
}

func writeDirectError(w http.ResponseWriter, code pipeline.Code) {
	w.Header().Set("x-ambry-error-code", code.String())
	w.WriteHeader(code.HTTPStatus())
}

// writeReplicas renders the Replicas sub-resource directly from
// ClusterView, without a router fan-out.
func (s *Server) writeReplicas(w http.ResponseWriter, blobIDString string) {
	id, err := clusterview.DecodeBlobId(blobIDString, s.cv)
	if err != nil {
		writeDirectError(w, pipeline.BadRequest)
		return
	}
	replicas, err := s.cv.ReplicaIds(id.Partition)
	if err != nil {
		writeDirectError(w, pipeline.BadRequest)
		return
	}
	names := make([]string, len(replicas))
	for i, r := range replicas {
		names[i] = r.DataNode
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string][]string{"replicas": names})
}
