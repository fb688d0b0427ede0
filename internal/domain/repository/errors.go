package repository

import "errors"

// Sentinel errors for the upstream/auth taxonomy. Components match with
// errors.Is and recover locally; none of these reach downstream consumers
// as hard failures.
var (
	ErrCredentialExpired   = errors.New("credential expired")
	ErrCredentialInvalid   = errors.New("credential invalid")
	ErrUpstreamThrottled   = errors.New("upstream rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrConnectionLost      = errors.New("connection lost")
	ErrNoData              = errors.New("no data yet")
)
