package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// The contest surface speaks a fixed error vocabulary. Each constructor
// pairs a code with the only status it travels with.

func validationError(message string) *DomainError {
	return &DomainError{Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR", Message: message}
}

// notDetectedError covers hosts whose nodeinfo could not be resolved to any
// supported server software.
func notDetectedError(hostname string) *DomainError {
	return &DomainError{Status: http.StatusUnprocessableEntity, Code: "INSTANCE_NOT_DETECTED", Message: "could not detect server software of " + hostname}
}

// unauthorizedError is uniform. Login failures never reveal which check
// rejected the caller.
func unauthorizedError() *DomainError {
	return &DomainError{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Unauthorized"}
}

// closedError reports a phase gate: SUBMISSION_CLOSED, VOTING_CLOSED or
// RESULTS_NOT_OPEN.
func closedError(code, message string) *DomainError {
	return &DomainError{Status: http.StatusForbidden, Code: code, Message: message}
}

func notFoundError(message string) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: message}
}

// conflictError reports a uniqueness loss: ALREADY_SUBMITTED, ALREADY_VOTED
// or VOTE_LIMIT_REACHED.
func conflictError(code, message string) *DomainError {
	return &DomainError{Status: http.StatusConflict, Code: code, Message: message}
}

func tooLargeError(message string) *DomainError {
	return &DomainError{Status: http.StatusRequestEntityTooLarge, Code: "ART_TOO_LARGE", Message: message}
}

// upstreamError reports a remote instance failure. The caller gets a generic
// body; the cause stays in the logs.
func upstreamError(message string) *DomainError {
	return &DomainError{Status: http.StatusBadGateway, Code: "UPSTREAM_ERROR", Message: message}
}
