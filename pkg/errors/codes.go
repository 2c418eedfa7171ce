// Package errors provides structured error handling for ambit hosts.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Scope key errors
	CodeScopeKeyEmpty         Code = "SCOPE_KEY_EMPTY"
	CodeInvalidScopeKeyFormat Code = "INVALID_SCOPE_KEY_FORMAT"
	CodeScopeKeySegmentEmpty  Code = "SCOPE_KEY_SEGMENT_EMPTY"
	CodeScopeKeySegmentColon  Code = "SCOPE_KEY_SEGMENT_COLON"

	// Execution errors
	CodeEntitiesNotFound     Code = "ENTITIES_NOT_FOUND"
	CodeScopeVersionConflict Code = "SCOPE_VERSION_CONFLICT"

	// Storage errors
	CodeEntityNotFound      Code = "ENTITY_NOT_FOUND"
	CodeScopeNotFound       Code = "SCOPE_NOT_FOUND"
	CodeInvalidScopeVersion Code = "INVALID_SCOPE_VERSION"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeScopeKeyEmpty,
		CodeInvalidScopeKeyFormat,
		CodeScopeKeySegmentEmpty,
		CodeScopeKeySegmentColon,
		CodeInvalidScopeVersion:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeEntitiesNotFound:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeEntityNotFound,
		CodeScopeNotFound:
		return codes.NotFound

	// Aborted - optimistic concurrency conflicts, safe to retry
	case CodeScopeVersionConflict:
		return codes.Aborted

	default:
		return codes.Internal
	}
}
