package model

import "errors"

// Error taxonomy shared by the lineup service and the stream gateway.
// Handlers map these to HTTP statuses at the edge; internal detail stays in logs.
var (
	// ErrNotFound: channel missing, disabled, or lacking a primary mapping.
	ErrNotFound = errors.New("channel not found")
	// ErrServiceUnavailable: inactive account, connection limit reached, or
	// every failover candidate exhausted.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrUpstreamAuth: the provider rejected our credentials. Distinct from
	// generic unavailability so operators can tell a dead sub from a dead host.
	ErrUpstreamAuth = errors.New("upstream rejected credentials")
	// ErrDecodeFailure: upstream bytes could not be descrambled or parsed
	// into something playable.
	ErrDecodeFailure = errors.New("stream decode failure")
)
