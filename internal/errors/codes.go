// Package errors provides structured error handling for the story engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionFieldRequired  Code = "SESSION_FIELD_REQUIRED"
	CodeSessionStateViolation Code = "SESSION_STATE_VIOLATION"

	// Badge catalog errors
	CodeBadgeInvalidRequiredScore Code = "BADGE_INVALID_REQUIRED_SCORE"
	CodeBadgeEmptyAxis            Code = "BADGE_EMPTY_AXIS"
	CodeBadgeEmptyAgeGroup        Code = "BADGE_EMPTY_AGE_GROUP"
	CodeBadgeDuplicateTier        Code = "BADGE_DUPLICATE_TIER"

	// Storage errors
	CodeNotFound         Code = "NOT_FOUND"
	CodeVersionConflict  Code = "VERSION_CONFLICT"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeSessionFieldRequired,
		CodeBadgeInvalidRequiredScore,
		CodeBadgeEmptyAxis,
		CodeBadgeEmptyAgeGroup,
		CodeBadgeDuplicateTier:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeSessionStateViolation:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// Aborted - optimistic concurrency conflict, safe to retry
	case CodeVersionConflict:
		return codes.Aborted

	// Unavailable - transient persistence failure, safe to retry
	case CodeStoreUnavailable:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}

// Retryable reports whether an operation failing with this code may be
// retried without changing the request.
func (c Code) Retryable() bool {
	return c == CodeVersionConflict || c == CodeStoreUnavailable
}
