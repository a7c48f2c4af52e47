// Package router implements the router core and the per-operation state
// machines that fan a logical GET/PUT/DELETE out across a partition's
// replicas, track outcomes against a quorum policy, and resolve
// heterogeneous per-replica error codes into one logical outcome.
package router

import (
	"errors"

	"github.com/xiahome/ambry/internal/transport"
)

// Code is the router-level outcome of a replica operation.
type Code int

const (
	// CodeSuccess is not a failure code; it is used only internally to
	// signal that an operation should resolve without an error.
	CodeSuccess Code = iota
	InvalidBlobId
	BlobDoesNotExist
	BlobDeleted
	BlobExpired
	BlobAuthorizationFailure
	BlobTooLarge
	BadInputChannel
	AmbryUnavailable
	OperationTimedOut
	RouterClosed
	InsufficientCapacity
	InvalidPutArgument
	UnexpectedInternalError
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "Success"
	case InvalidBlobId:
		return "InvalidBlobId"
	case BlobDoesNotExist:
		return "BlobDoesNotExist"
	case BlobDeleted:
		return "BlobDeleted"
	case BlobExpired:
		return "BlobExpired"
	case BlobAuthorizationFailure:
		return "BlobAuthorizationFailure"
	case BlobTooLarge:
		return "BlobTooLarge"
	case BadInputChannel:
		return "BadInputChannel"
	case AmbryUnavailable:
		return "AmbryUnavailable"
	case OperationTimedOut:
		return "OperationTimedOut"
	case RouterClosed:
		return "RouterClosed"
	case InsufficientCapacity:
		return "InsufficientCapacity"
	case InvalidPutArgument:
		return "InvalidPutArgument"
	default:
		return "UnexpectedInternalError"
	}
}

// Error wraps a router Code so callers can errors.As/errors.Is against it.
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

// NewError builds a router Error.
func NewError(code Code, cause error) error {
	return &Error{Code: code, Err: cause}
}

// CodeOf extracts the Code from err, defaulting to
// UnexpectedInternalError for anything that isn't a *Error.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return UnexpectedInternalError
}

// replicaPrecedence ranks per-replica codes from highest (most decisive)
// to lowest: codes constituting positive proof about the blob (Expired,
// Deleted) outrank ambiguous server-health signals, and among health
// codes the more specific ranks higher.
//
// Blob_Not_Found is ranked below every health code: it only becomes the
// router's BlobDoesNotExist outcome through the unanimous-and-complete
// special case (resolveFailure/resolveReadError), never by winning this
// table outright. A lone not-found among health failures is not proof
// the blob is missing.
var replicaPrecedence = map[transport.ReplicaCode]int{
	transport.BlobAuthorizationFailure: 10,
	transport.BlobExpired:              9,
	transport.BlobDeleted:              8,
	transport.DiskUnavailable:          7,
	transport.ReplicaUnavailable:       6,
	transport.PartitionUnknown:         5,
	transport.IOError:                  4,
	transport.DataCorrupt:              3,
	transport.UnknownError:             2,
	transport.BlobNotFound:             1,
}

// highestPrecedence returns the code among observed with the highest
// precedence rank. observed must be non-empty and must not include
// transport.NoError (successes are not failure codes).
func highestPrecedence(observed []transport.ReplicaCode) transport.ReplicaCode {
	best := observed[0]
	bestRank := replicaPrecedence[best]
	for _, c := range observed[1:] {
		if rank := replicaPrecedence[c]; rank > bestRank {
			best = c
			bestRank = rank
		}
	}
	return best
}

// resolveReadError maps a resolved failure (precedence winner, plus
// whether the operation saw only BlobNotFound across every replica and
// ran to completion) onto a router Code for GET/HEAD-shaped operations.
func resolveReadError(winner transport.ReplicaCode, unanimousNotFoundComplete bool) Code {
	switch {
	case unanimousNotFoundComplete:
		return BlobDoesNotExist
	case winner == transport.BlobExpired:
		return BlobExpired
	case winner == transport.BlobDeleted:
		return BlobDeleted
	case winner == transport.BlobAuthorizationFailure:
		return BlobAuthorizationFailure
	case winner == transport.BlobNotFound:
		// A BlobNotFound winner that isn't unanimous/complete falls
		// through to the generic unavailable outcome: proof is
		// incomplete.
		return AmbryUnavailable
	default:
		return AmbryUnavailable
	}
}
