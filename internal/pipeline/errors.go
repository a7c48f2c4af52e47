package pipeline

import (
	"errors"
	"net/http"

	"github.com/xiahome/ambry/internal/router"
)

// Code is the pipeline-level error taxonomy.
type Code int

const (
	CodeOK Code = iota
	BadRequest
	Unauthorized
	NotFound
	Gone
	UnsupportedHttpMethod
	MissingArgs
	InvalidArgument
	InvalidAccount
	InvalidContainer
	PreconditionFailed
	RangeNotSatisfiable
	ServiceUnavailable
	InternalError
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case BadRequest:
		return "BadRequest"
	case Unauthorized:
		return "Unauthorized"
	case NotFound:
		return "NotFound"
	case Gone:
		return "Gone"
	case UnsupportedHttpMethod:
		return "UnsupportedHttpMethod"
	case MissingArgs:
		return "MissingArgs"
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidAccount:
		return "InvalidAccount"
	case InvalidContainer:
		return "InvalidContainer"
	case PreconditionFailed:
		return "PreconditionFailed"
	case RangeNotSatisfiable:
		return "RangeNotSatisfiable"
	case ServiceUnavailable:
		return "ServiceUnavailable"
	default:
		return "InternalError"
	}
}

// HTTPStatus maps a pipeline Code to its HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeOK:
		return http.StatusOK
	case BadRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Gone:
		return http.StatusGone
	case UnsupportedHttpMethod:
		return http.StatusMethodNotAllowed
	case MissingArgs:
		return http.StatusBadRequest
	case InvalidArgument:
		return http.StatusBadRequest
	case InvalidAccount:
		return http.StatusBadRequest
	case InvalidContainer:
		return http.StatusBadRequest
	case PreconditionFailed:
		return http.StatusPreconditionFailed
	case RangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a pipeline-level error carrying its Code and an optional
// underlying cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code.String() + ": " + e.Err.Error()
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a pipeline Error.
func NewError(code Code, cause error) error {
	return &Error{Code: code, Err: cause}
}

// CodeOf extracts a pipeline Code from err, defaulting to InternalError
// for anything unrecognized. This is the boundary that turns an
// unexpected collaborator error into a safe terminal response rather
// than a crash.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return InternalError
}

// IsBlobDeleted reports whether err's underlying router code is
// BlobDeleted, used by the GET/HEAD path to attach x-ambry-deleted: true.
func IsBlobDeleted(err error) bool {
	return router.CodeOf(err) == router.BlobDeleted
}

// FromRouterError maps a router.Code onto a pipeline Code. originalMethod
// is needed for exactly one case: BlobDeleted maps to Gone for a read
// (GET/HEAD) but to success for a DELETE, since a delete observing
// Blob_Deleted has already achieved its goal.
func FromRouterError(err error, originalMethod string) (Code, bool) {
	rc := router.CodeOf(err)
	if rc == router.CodeSuccess {
		return CodeOK, true
	}
	if rc == router.BlobDeleted && originalMethod == http.MethodDelete {
		// DELETE against an already-deleted blob is idempotent: this IS
		// success for the DELETE operation, not an error.
		return CodeOK, true
	}
	switch rc {
	case router.BlobDoesNotExist:
		return NotFound, false
	case router.BlobDeleted, router.BlobExpired:
		return Gone, false
	case router.BlobAuthorizationFailure:
		return Unauthorized, false
	case router.OperationTimedOut, router.AmbryUnavailable, router.RouterClosed:
		return ServiceUnavailable, false
	case router.InvalidBlobId:
		return BadRequest, false
	default:
		return InternalError, false
	}
}
