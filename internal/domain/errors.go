package domain

import "errors"

// Sentinel errors shared across stores and the orchestrator.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMissingRelation indicates an application lacks a required
	// nested entity (business, guarantor, or equipment).
	ErrMissingRelation = errors.New("missing required relation")

	// ErrInvalidStatus indicates a status transition that the run or
	// application state machine does not allow.
	ErrInvalidStatus = errors.New("invalid status transition")
)
