package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidPayload = errors.New("invalid liquidation payload")
	ErrSigningFailed  = errors.New("signing failed")
	ErrNotReady       = errors.New("contract service not ready")
	ErrClosed         = errors.New("contract service closed")
	ErrInvalidSample  = errors.New("invalid oracle sample")
	ErrStaleSample    = errors.New("stale oracle sample")
	ErrLowConfidence  = errors.New("oracle sample confidence too low")
	ErrOutOfOrder     = errors.New("oracle sample out of order")
	ErrLockHeld       = errors.New("lock already held")
	ErrMissingAddress = errors.New("contract address is required")
	ErrUnsupported    = errors.New("not supported by this price source")
)
