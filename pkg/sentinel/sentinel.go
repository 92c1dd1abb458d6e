package sentinel

import "errors"

// Sentinel errors for infrastructure and sensor facts. Stores, clients and
// codecs return these (optionally wrapped) so services can translate them
// into decisions or HTTP responses without string matching.
//
// These represent factual states, not validation failures:
//   - ErrNotFound: entity does not exist in store
//   - ErrExpired: challenge/session past its deadline
//   - ErrAlreadyUsed: challenge already answered or superseded
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrExtractionFailed: sensor input produced no usable biometric signal;
//     this is inconclusive, never a mismatch, and must not be scored as 0
//   - ErrTransport: the embedding service could not be reached; retried once,
//     then resolved to an inconclusive outcome by the caller
//   - ErrUnsupportedFormat: audio/image payload not in the capture contract
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrExpired           = errors.New("expired")
	ErrAlreadyUsed       = errors.New("already used")
	ErrInvalidState      = errors.New("invalid state")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrTransport         = errors.New("transport failure")
	ErrUnsupportedFormat = errors.New("unsupported format")
)
