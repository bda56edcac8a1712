package service

import "errors"

var (
	// ErrAuthenticationRequired means no authenticated user was attached to the call.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrValidation means the request was rejected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound means a referenced user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUpstream means the repository or blob store failed.
	ErrUpstream = errors.New("upstream failure")
)
