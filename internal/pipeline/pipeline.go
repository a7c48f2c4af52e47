// Package pipeline implements the asynchronous, continuation-passing
// stage sequencer that turns one HTTP-shaped request into exactly one
// ResponseChannel completion. It owns account/container injection and
// resolution, id conversion, the SecurityGate hooks, and the router
// dispatch, and guarantees resource release on every terminal path via
// Submitter.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/xiahome/ambry/internal/account"
	"github.com/xiahome/ambry/internal/clockutil"
	"github.com/xiahome/ambry/internal/clusterview"
	"github.com/xiahome/ambry/internal/idconverter"
	"github.com/xiahome/ambry/internal/logger"
	"github.com/xiahome/ambry/internal/router"
	"github.com/xiahome/ambry/internal/security"
)

// stageFn is one asynchronous pipeline stage: it inspects/mutates rc and
// invokes next exactly once, with a non-nil error to abort the chain.
type stageFn func(ctx context.Context, rc *RequestContext, next func(error))

// Pipeline sequences stages per method and submits exactly one terminal
// outcome per invocation.
type Pipeline struct {
	cv     clusterview.ClusterView
	dir    account.Directory
	core   *router.Core
	idconv idconverter.Converter
	gate   security.Gate
	clock  clockutil.Clock

	submitter *Submitter
	started   atomic.Bool
}

// New builds a Pipeline wired to its collaborators. idconv/gate may be nil,
// in which case Passthrough/Default are used.
func New(cv clusterview.ClusterView, dir account.Directory, core *router.Core, idconv idconverter.Converter, gate security.Gate, clock clockutil.Clock) *Pipeline {
	if idconv == nil {
		idconv = idconverter.Passthrough{}
	}
	if gate == nil {
		gate = security.Default{}
	}
	return &Pipeline{
		cv:        cv,
		dir:       dir,
		core:      core,
		idconv:    idconv,
		gate:      gate,
		clock:     clock,
		submitter: NewSubmitter(),
	}
}

// Start marks the pipeline ready to accept requests.
func (p *Pipeline) Start() { p.started.Store(true) }

// Stop marks the pipeline unable to accept new requests; in-flight
// requests are unaffected.
func (p *Pipeline) Stop() { p.started.Store(false) }

// Handle is the pipeline's entry point: method must be
// GET, HEAD, POST or DELETE. The terminal outcome is always delivered
// through ch.Complete, exactly once, regardless of which stage failed.
func (p *Pipeline) Handle(ctx context.Context, rc *RequestContext, ch ResponseChannel) {
	if ch == nil {
		return
	}
	if rc == nil {
		ch.Complete(InvalidArgument.HTTPStatus(), http.Header{}, nil, NewError(InvalidArgument, nil))
		return
	}
	if !p.started.Load() {
		p.finish(ctx, rc, ch, NewError(ServiceUnavailable, nil))
		return
	}

	switch rc.Method {
	case http.MethodGet, http.MethodHead:
		p.run(ctx, rc, ch, []stageFn{p.preSecurity, p.idConvertForward, p.resolveAndPostSecurity, p.routerGet, p.postSecurityResponse}, func() {
			p.succeed(ctx, rc, ch, rc.ResponseCode)
		})
	case http.MethodDelete:
		p.run(ctx, rc, ch, []stageFn{p.preSecurity, p.idConvertForward, p.resolveAndPostSecurity, p.routerDelete}, func() {
			rc.ResponseCode = http.StatusAccepted
			p.succeed(ctx, rc, ch, rc.ResponseCode)
		})
	case http.MethodPost:
		// The internal target keys are injection *outputs*; a request
		// arriving with them already present fails before any collaborator
		// is invoked.
		if _, ok := rc.Args[ArgTargetAccount]; ok {
			p.finish(ctx, rc, ch, NewError(BadRequest, nil))
			return
		}
		if _, ok := rc.Args[ArgTargetContainer]; ok {
			p.finish(ctx, rc, ch, NewError(BadRequest, nil))
			return
		}
		p.run(ctx, rc, ch, []stageFn{p.preSecurity, p.accountContainerInject, p.postSecurityPost, p.routerPut, p.idConvertReverse, p.postSecurityResponse}, func() {
			p.succeed(ctx, rc, ch, rc.ResponseCode)
		})
	default:
		p.finish(ctx, rc, ch, NewError(UnsupportedHttpMethod, nil))
	}
}

// run threads rc through stages in order; any stage error aborts the
// chain straight to finish. Stages never block the caller. Every step
// carries a recover guard: a collaborator that panics instead of
// returning an error still yields exactly one terminal InternalError
// response instead of crashing the calling goroutine.
func (p *Pipeline) run(ctx context.Context, rc *RequestContext, ch ResponseChannel, stages []stageFn, onSuccess func()) {
	var step func(i int)
	step = func(i int) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("collaborator panic: %v", r)
				logger.Error(ctx, "pipeline: stage panicked", err)
				p.finish(ctx, rc, ch, NewError(InternalError, err))
			}
		}()
		if i >= len(stages) {
			onSuccess()
			return
		}
		stages[i](ctx, rc, func(err error) {
			if err != nil {
				p.finish(ctx, rc, ch, err)
				return
			}
			step(i + 1)
		})
	}
	step(0)
}

func (p *Pipeline) finish(ctx context.Context, rc *RequestContext, ch ResponseChannel, err error) {
	if rc != nil && !rc.markSubmitted() {
		return
	}
	code := CodeOf(err)
	p.submitter.Submit(ctx, rc, ch, code.HTTPStatus(), rc.ResponseHeads, rc.ResponseBody, err)
}

func (p *Pipeline) succeed(ctx context.Context, rc *RequestContext, ch ResponseChannel, status int) {
	if rc != nil && !rc.markSubmitted() {
		return
	}
	p.submitter.Submit(ctx, rc, ch, status, rc.ResponseHeads, rc.ResponseBody, nil)
}

// preSecurity runs before any id resolution or account lookup.
func (p *Pipeline) preSecurity(ctx context.Context, rc *RequestContext, next func(error)) {
	req := &security.Request{Method: rc.Method, Headers: rc.Headers}
	p.gate.PreProcess(ctx, req, func(err error) {
		if err != nil {
			next(NewError(Unauthorized, err))
			return
		}
		next(nil)
	})
}

// idConvertForward resolves the external id in the request URI to the
// router's canonical id.
func (p *Pipeline) idConvertForward(ctx context.Context, rc *RequestContext, next func(error)) {
	p.idconv.Convert(ctx, strings.TrimPrefix(rc.URI, "/"), func(res idconverter.Result) {
		if res.Err != nil {
			next(NewError(BadRequest, res.Err))
			return
		}
		rc.Args["resolvedBlobID"] = res.ID
		next(nil)
	})
}

// resolveAndPostSecurity decodes the resolved blob id, applies the
// account/container resolution rules for GET/HEAD/DELETE, and runs the
// SecurityGate's post-resolution hook.
func (p *Pipeline) resolveAndPostSecurity(ctx context.Context, rc *RequestContext, next func(error)) {
	idStr, _ := rc.Args["resolvedBlobID"].(string)
	id, err := clusterview.DecodeBlobId(idStr, p.cv)
	if err != nil {
		next(NewError(BadRequest, err))
		return
	}
	rc.Args["blobID"] = id

	if err := resolve(rc, id, p.dir); err != nil {
		next(err)
		return
	}
	p.postSecurityPost(ctx, rc, next)
}

// accountContainerInject runs the POST-only injection rule matrix.
func (p *Pipeline) accountContainerInject(ctx context.Context, rc *RequestContext, next func(error)) {
	if err := inject(rc, p.dir); err != nil {
		next(err)
		return
	}
	next(nil)
}

// postSecurityPost runs the SecurityGate's post-resolution hook once the
// target account/container are known, shared by every method since
// resolution/injection always precede it.
func (p *Pipeline) postSecurityPost(ctx context.Context, rc *RequestContext, next func(error)) {
	acc, _ := rc.Args[ArgTargetAccount].(account.Account)
	ctr, _ := rc.Args[ArgTargetContainer].(account.Container)
	req := &security.Request{
		Method:          rc.Method,
		Headers:         rc.Headers,
		TargetAccount:   acc.Name,
		TargetContainer: ctr.Name,
		BlobPrivate:     ctr.Private,
	}
	p.gate.PostProcess(ctx, req, func(err error) {
		if err != nil {
			next(NewError(Unauthorized, err))
			return
		}
		next(nil)
	})
}

// recoverToNext converts a panic on a router-dispatch goroutine into a
// normal stage error, so the chain still terminates with exactly one
// response. A panic raised after next has already run is swallowed by
// the request's single-submission guard.
func recoverToNext(next func(error)) {
	if r := recover(); r != nil {
		next(NewError(InternalError, fmt.Errorf("collaborator panic: %v", r)))
	}
}

// blobPropertyHeaders collects the x-ambry-* property headers and
// x-ambry-um-<key> user-metadata headers off a POST request, for framing
// alongside the blob bytes sent to each replica.
func blobPropertyHeaders(rc *RequestContext) http.Header {
	out := http.Header{}
	for k, vs := range rc.Headers {
		lk := strings.ToLower(k)
		if lk == HeaderContentType || strings.HasPrefix(lk, "x-ambry-") {
			for _, v := range vs {
				out.Add(k, v)
			}
		}
	}
	return out
}

// parseGetOption validates the x-ambry-get-option header against the
// fixed set of accepted values.
func parseGetOption(v string) (router.GetOption, error) {
	switch strings.TrimSpace(v) {
	case "", "None":
		return router.GetOptionNone, nil
	case "Include_Expired_Blobs":
		return router.GetOptionIncludeExpiredBlobs, nil
	case "Include_Deleted_Blobs":
		return router.GetOptionIncludeDeletedBlobs, nil
	case "Include_All":
		return router.GetOptionIncludeAll, nil
	default:
		return router.GetOptionNone, NewError(InvalidArgument, nil)
	}
}

// routerGet dispatches a GetOperation and waits for its terminal result on
// a background goroutine, never blocking the calling stage.
func (p *Pipeline) routerGet(ctx context.Context, rc *RequestContext, next func(error)) {
	option, err := parseGetOption(rc.Headers.Get(HeaderGetOption))
	if err != nil {
		next(err)
		return
	}
	idStr, _ := rc.Args["resolvedBlobID"].(string)
	serviceID := rc.Headers.Get(HeaderServiceID)

	go func() {
		defer recoverToNext(next)
		op := <-p.core.Get(idStr, serviceID, option)
		_, opErr := op.Result()
		code, ok := FromRouterError(opErr, rc.Method)
		if !ok {
			if body := op.Body(); body != nil {
				_ = body.Close()
			}
			if IsBlobDeleted(opErr) {
				rc.ResponseHeads.Set("x-ambry-deleted", "true")
			}
			next(NewError(code, opErr))
			return
		}
		rc.ResponseBody = op.Body()
		rc.ResponseCode = http.StatusOK
		for k, vs := range op.Headers() {
			for _, v := range vs {
				rc.ResponseHeads.Add(k, v)
			}
		}
		rc.ResponseHeads.Set("Content-Length", strconv.FormatInt(op.Size(), 10))
		if rc.Method == http.MethodHead && rc.ResponseBody != nil {
			_ = rc.ResponseBody.Close()
			rc.ResponseBody = nil
		}
		next(nil)
	}()
}

// routerDelete dispatches a DeleteOperation; FromRouterError's
// method-aware translation is what turns an already-deleted blob's
// BlobDeleted outcome into success for a DELETE.
func (p *Pipeline) routerDelete(ctx context.Context, rc *RequestContext, next func(error)) {
	idStr, _ := rc.Args["resolvedBlobID"].(string)
	serviceID := rc.Headers.Get(HeaderServiceID)

	go func() {
		defer recoverToNext(next)
		opErr := <-p.core.Delete(idStr, serviceID)
		code, ok := FromRouterError(opErr, rc.Method)
		if !ok {
			next(NewError(code, opErr))
			return
		}
		next(nil)
	}()
}

// routerPut dispatches a PutOperation carrying the request body. Every
// x-ambry-* property header plus x-ambry-um-<key> user-metadata headers
// are framed alongside the bytes so a later GET can render BlobInfo/
// UserMetadata from whatever the replica echoes back.
func (p *Pipeline) routerPut(ctx context.Context, rc *RequestContext, next func(error)) {
	serviceID := rc.Headers.Get(HeaderServiceID)

	go func() {
		defer recoverToNext(next)
		op := <-p.core.Put(serviceID, rc.RequestBody, rc.RequestSize, blobPropertyHeaders(rc))
		_, opErr := op.Result()
		code, ok := FromRouterError(opErr, rc.Method)
		if !ok {
			next(NewError(code, opErr))
			return
		}
		rc.Args["assignedBlobID"] = op.AssignedBlobID()
		next(nil)
	}()
}

// idConvertReverse runs the POST-only reverse conversion: the router's
// canonical id may be rewritten (e.g. a short alias minted) before it is
// handed back to the client.
func (p *Pipeline) idConvertReverse(ctx context.Context, rc *RequestContext, next func(error)) {
	assigned, _ := rc.Args["assignedBlobID"].(string)
	p.idconv.Convert(ctx, assigned, func(res idconverter.Result) {
		if res.Err != nil {
			next(NewError(InternalError, res.Err))
			return
		}
		rc.Args["externalBlobID"] = res.ID
		next(nil)
	})
}

// postSecurityResponse lets the SecurityGate shape response headers, then
// (POST only) fills in the Location/creation-time headers and the 201
// status.
func (p *Pipeline) postSecurityResponse(ctx context.Context, rc *RequestContext, next func(error)) {
	ctr, _ := rc.Args[ArgTargetContainer].(account.Container)
	req := &security.Request{Method: rc.Method, Headers: rc.Headers, BlobPrivate: ctr.Private}
	info := security.BlobInfo{Private: ctr.Private, ContentType: rc.Headers.Get(HeaderContentType)}

	p.gate.ProcessResponse(ctx, req, rc.ResponseHeads, info, func(err error) {
		if err != nil {
			next(NewError(InternalError, err))
			return
		}
		if rc.Method == http.MethodPost {
			externalID, _ := rc.Args["externalBlobID"].(string)
			rc.ResponseHeads.Set("Location", "/"+externalID)
			rc.ResponseHeads.Set("x-ambry-creation-time", strconv.FormatInt(p.clock.Now().UnixMilli(), 10))
			rc.ResponseCode = http.StatusCreated
		}
		next(nil)
	})
}
